package models

import "time"

// Bar is a single raw OHLCV bar. Bar sequences are append-only, with the
// last element mutated in place while the bar is still forming.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// HeikinAshiBar is a smoothed bar derived recursively from raw bars.
type HeikinAshiBar struct {
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// Bullish reports whether the bar closed above its open.
func (h HeikinAshiBar) Bullish() bool { return h.Close > h.Open }

// Bearish reports whether the bar closed below its open.
func (h HeikinAshiBar) Bearish() bool { return h.Close < h.Open }

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the flattening direction for this side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderKind is the execution type of an order intent.
type OrderKind string

const (
	Market       OrderKind = "MARKET"
	Stop         OrderKind = "STOP"
	TrailingStop OrderKind = "TRAILING_STOP"
)

// Order reference tags. The broker echoes these back on fill events so the
// risk manager can tell an entry fill from a protective-order fill.
const (
	RefEntry        = "entry"
	RefFixedStop    = "fixed_stop_loss"
	RefTrailingStop = "trailing_stop_loss"
)

// OrderIntent is an immutable order request emitted by the risk manager and
// consumed by the broker. Price fields are interpreted by Kind:
// StopPrice for STOP orders, TrailAmount/TrailStopPrice for TRAILING_STOP.
type OrderIntent struct {
	Action         Side      `json:"action"`
	Quantity       float64   `json:"quantity"`
	Kind           OrderKind `json:"kind"`
	StopPrice      float64   `json:"stop_price,omitempty"`
	TrailAmount    float64   `json:"trail_amount,omitempty"`
	TrailStopPrice float64   `json:"trail_stop_price,omitempty"`
	Ref            string    `json:"ref"`
	OCAGroup       string    `json:"oca_group,omitempty"`
	OutsideRTH     bool      `json:"outside_rth"`
}

// Fill is the broker's confirmation that an order (or part of it) executed.
type Fill struct {
	OrderID    int64     `json:"order_id"`
	Ref        string    `json:"ref"`
	Instrument string    `json:"instrument"`
	Action     Side      `json:"action"`
	Price      float64   `json:"price"`
	Quantity   float64   `json:"quantity"`
	Time       time.Time `json:"time"`
}

// BrokerPosition is a net signed position as reported by the broker.
type BrokerPosition struct {
	Instrument string  `json:"instrument"`
	Quantity   float64 `json:"quantity"`
}

// OpenOrder identifies a resting order at the broker.
type OpenOrder struct {
	OrderID    int64  `json:"order_id"`
	Instrument string `json:"instrument"`
	Ref        string `json:"ref"`
}

// TradeRecord is a historical execution, used to recover a lost entry price.
type TradeRecord struct {
	Instrument   string    `json:"instrument"`
	AvgFillPrice float64   `json:"avg_fill_price"`
	Time         time.Time `json:"time"`
}

// Phase is the lifecycle stage of the tracked position.
type Phase string

const (
	PhaseFlat         Phase = "FLAT"
	PhasePendingEntry Phase = "PENDING_ENTRY"
	PhaseOpen         Phase = "OPEN"
)

// PositionState tracks the single position on the primary instrument.
// EntryPriceKnown distinguishes "no recorded fill" from a genuine zero
// price after a state restore.
type PositionState struct {
	Phase           Phase   `json:"phase"`
	Quantity        float64 `json:"quantity"`
	EntryPrice      float64 `json:"entry_price"`
	EntryPriceKnown bool    `json:"entry_price_known"`
	OCAGroup        string  `json:"oca_group,omitempty"`
}

// Config holds all runtime parameters of the strategy.
type Config struct {
	Instrument    string `json:"instrument"`     // primary instrument (S1)
	AuxInstrument string `json:"aux_instrument"` // confirmation instrument (S2), condition 2 only
	Resolution    string `json:"resolution"`
	VIXResolution string `json:"vix_resolution"`

	EMAPeriod    int `json:"ema_period"`
	VIXEMAPeriod int `json:"vix_ema_period"`
	Condition    int `json:"condition"` // rule-set variant: 1 or 2

	Size      float64 `json:"size"`
	TickValue float64 `json:"tick_value"` // price per tick, e.g. 0.25 for MNQ

	FixedStopLoss           float64 `json:"fixed_stoploss"`            // ticks
	TrailingStopLoss        float64 `json:"trailing_stoploss"`         // ticks
	TrailingStopLossTrigger float64 `json:"trailing_stoploss_trigger"` // ticks

	UpperPnL    float64 `json:"upper_pnl"`
	LowerPnL    float64 `json:"lower_pnl"`
	PnLCurrency string  `json:"pnl_currency"`

	SettleDelaySec int  `json:"settle_delay_sec"` // pause between exit and entry passes
	OutsideRTH     bool `json:"outside_rth"`

	WarmupDays int    `json:"warmup_days"` // historical bars preloaded before streaming
	DBPath     string `json:"db_path"`
	WSURL      string `json:"ws_url"`

	LogConfig LogConfig `json:"log"`
}

// LogConfig configures the zap/lumberjack logger.
type LogConfig struct {
	Level      string `json:"level"`
	Output     string `json:"output"` // "console", "file", "both"
	File       string `json:"file"`
	MaxSize    int    `json:"max_size"` // MB
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"` // days
	Compress   bool   `json:"compress"`
}

// FixedStopDistance returns the fixed stop-loss distance in price units.
func (c *Config) FixedStopDistance() float64 { return c.FixedStopLoss * c.TickValue }

// TrailDistance returns the trailing stop offset in price units.
func (c *Config) TrailDistance() float64 { return c.TrailingStopLoss * c.TickValue }

// TrailTriggerDistance returns the favorable excursion, in price units,
// required before a trailing stop is placed.
func (c *Config) TrailTriggerDistance() float64 { return c.TrailingStopLossTrigger * c.TickValue }

// SettleDelay returns the configured exit-to-entry settle delay.
func (c *Config) SettleDelay() time.Duration { return time.Duration(c.SettleDelaySec) * time.Second }
