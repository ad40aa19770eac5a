package broker

import (
	"fmt"
	"sync"
	"time"

	"ha-trend-bot/internal/models"

	"go.uber.org/zap"
)

type restingOrder struct {
	id         int64
	instrument string
	intent     models.OrderIntent
	// trailing stops ratchet their trigger price with favorable movement
	triggerPrice float64
}

// PaperBroker is an in-memory Broker implementation used for paper trading
// and tests. Market orders fill immediately at the current mark price; stop
// and trailing-stop orders rest until a bar's range touches their trigger.
// Orders sharing an OCA group cancel each other on fill.
type PaperBroker struct {
	mu     sync.Mutex
	logger *zap.SugaredLogger

	nextOrderID int64
	marks       map[string]float64
	resting     map[int64]*restingOrder
	positions   map[string]float64
	avgEntry    map[string]float64
	trades      []models.TradeRecord
	realized    float64

	fillHandler FillHandler
}

// NewPaperBroker creates an empty paper broker.
func NewPaperBroker(logger *zap.SugaredLogger) *PaperBroker {
	return &PaperBroker{
		logger:      logger,
		nextOrderID: 1,
		marks:       make(map[string]float64),
		resting:     make(map[int64]*restingOrder),
		positions:   make(map[string]float64),
		avgEntry:    make(map[string]float64),
	}
}

// OnFill registers the handler that receives execution confirmations.
// Handlers run synchronously with respect to the triggering call.
func (p *PaperBroker) OnFill(handler FillHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fillHandler = handler
}

// PlaceOrder accepts an order intent. Market orders execute against the
// current mark price before PlaceOrder returns; stop variants rest.
func (p *PaperBroker) PlaceOrder(instrument string, intent models.OrderIntent) (int64, error) {
	p.mu.Lock()

	id := p.nextOrderID
	p.nextOrderID++

	switch intent.Kind {
	case models.Market:
		mark, ok := p.marks[instrument]
		if !ok {
			p.mu.Unlock()
			return 0, fmt.Errorf("no mark price for %s", instrument)
		}
		fill := p.execute(id, instrument, intent, mark)
		handler := p.fillHandler
		p.mu.Unlock()
		if handler != nil {
			handler(fill)
		}
		return id, nil

	case models.Stop:
		p.resting[id] = &restingOrder{
			id:           id,
			instrument:   instrument,
			intent:       intent,
			triggerPrice: intent.StopPrice,
		}
		p.mu.Unlock()
		return id, nil

	case models.TrailingStop:
		p.resting[id] = &restingOrder{
			id:           id,
			instrument:   instrument,
			intent:       intent,
			triggerPrice: intent.TrailStopPrice,
		}
		p.mu.Unlock()
		return id, nil

	default:
		p.mu.Unlock()
		return 0, fmt.Errorf("unsupported order kind %q", intent.Kind)
	}
}

// execute books a fill at the given price and updates position, average
// entry and realized PnL. Caller holds the lock; the returned fill is
// dispatched by the caller after unlocking.
func (p *PaperBroker) execute(id int64, instrument string, intent models.OrderIntent, price float64) models.Fill {
	signed := intent.Quantity
	if intent.Action == models.Sell {
		signed = -signed
	}

	prev := p.positions[instrument]
	next := prev + signed

	// Realize PnL on the closing part of the trade.
	if prev > 0 && signed < 0 {
		closed := minf(prev, -signed)
		p.realized += (price - p.avgEntry[instrument]) * closed
	} else if prev < 0 && signed > 0 {
		closed := minf(-prev, signed)
		p.realized += (p.avgEntry[instrument] - price) * closed
	}

	switch {
	case next == 0:
		delete(p.positions, instrument)
		delete(p.avgEntry, instrument)
	case prev == 0 || !sameSign(prev, next):
		p.positions[instrument] = next
		p.avgEntry[instrument] = price
	case sameSign(prev, signed):
		// extending: volume-weighted entry price
		p.avgEntry[instrument] = (p.avgEntry[instrument]*absf(prev) + price*absf(signed)) / absf(next)
		p.positions[instrument] = next
	default:
		// partial reduction keeps the original entry price
		p.positions[instrument] = next
	}

	p.trades = append(p.trades, models.TradeRecord{
		Instrument:   instrument,
		AvgFillPrice: price,
		Time:         time.Now(),
	})

	p.cancelOCASiblings(intent.OCAGroup, id)

	if p.logger != nil {
		p.logger.Infof("paper fill: order=%d %s %s %.4f @ %.4f ref=%s",
			id, intent.Action, instrument, intent.Quantity, price, intent.Ref)
	}

	return models.Fill{
		OrderID:    id,
		Ref:        intent.Ref,
		Instrument: instrument,
		Action:     intent.Action,
		Price:      price,
		Quantity:   intent.Quantity,
		Time:       time.Now(),
	}
}

// cancelOCASiblings removes resting orders sharing the OCA group of a
// filled order. Caller holds the lock.
func (p *PaperBroker) cancelOCASiblings(group string, filledID int64) {
	if group == "" {
		return
	}
	for id, o := range p.resting {
		if id != filledID && o.intent.OCAGroup == group {
			delete(p.resting, id)
		}
	}
}

// MarkBar advances the simulated market by one bar: resting protective
// orders are checked against the bar's range, and trailing stops ratchet
// their triggers with favorable movement before the trigger check.
func (p *PaperBroker) MarkBar(instrument string, bar models.Bar) {
	p.mu.Lock()
	p.marks[instrument] = bar.Close

	var fills []models.Fill
	for id, o := range p.resting {
		if o.instrument != instrument {
			continue
		}

		// The trigger check uses the pre-bar trigger; the ratchet applies
		// afterwards so a bar cannot trip the stop it just raised.
		triggered := (o.intent.Action == models.Sell && bar.Low <= o.triggerPrice) ||
			(o.intent.Action == models.Buy && bar.High >= o.triggerPrice)
		if triggered {
			delete(p.resting, id)
			fills = append(fills, p.execute(id, instrument, o.intent, o.triggerPrice))
			continue
		}

		if o.intent.Kind == models.TrailingStop {
			// SELL trail follows rising highs, BUY trail follows falling lows.
			if o.intent.Action == models.Sell {
				if c := bar.High - o.intent.TrailAmount; c > o.triggerPrice {
					o.triggerPrice = c
				}
			} else {
				if c := bar.Low + o.intent.TrailAmount; c < o.triggerPrice {
					o.triggerPrice = c
				}
			}
		}
	}

	handler := p.fillHandler
	p.mu.Unlock()

	if handler != nil {
		for _, fill := range fills {
			handler(fill)
		}
	}
}

// SetMark sets the mark price without running trigger checks. Intended for
// seeding before the first bar arrives.
func (p *PaperBroker) SetMark(instrument string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.marks[instrument] = price
}

// CancelOrder removes a resting order. Canceling an unknown id is not an
// error; the order may have just filled.
func (p *PaperBroker) CancelOrder(orderID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.resting, orderID)
	return nil
}

// CancelAllOpenOrders removes every resting order for an instrument.
func (p *PaperBroker) CancelAllOpenOrders(instrument string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, o := range p.resting {
		if o.instrument == instrument {
			delete(p.resting, id)
		}
	}
	return nil
}

// Positions returns all nonzero net positions.
func (p *PaperBroker) Positions() ([]models.BrokerPosition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.BrokerPosition, 0, len(p.positions))
	for instrument, qty := range p.positions {
		out = append(out, models.BrokerPosition{Instrument: instrument, Quantity: qty})
	}
	return out, nil
}

// OpenOrders returns all resting orders.
func (p *PaperBroker) OpenOrders() ([]models.OpenOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.OpenOrder, 0, len(p.resting))
	for id, o := range p.resting {
		out = append(out, models.OpenOrder{OrderID: id, Instrument: o.instrument, Ref: o.intent.Ref})
	}
	return out, nil
}

// Trades returns the session's executions, oldest first.
func (p *PaperBroker) Trades() ([]models.TradeRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.TradeRecord, len(p.trades))
	copy(out, p.trades)
	return out, nil
}

// RealizedPnL returns the session's realized profit. The paper broker keeps
// a single book, so the currency argument is accepted and ignored.
func (p *PaperBroker) RealizedPnL(currency string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.realized, nil
}

func sameSign(a, b float64) bool { return (a > 0) == (b > 0) }

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
