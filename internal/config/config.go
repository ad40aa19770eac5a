package config

import (
	"encoding/json"
	"fmt"
	"os"

	"ha-trend-bot/internal/indicator"
	"ha-trend-bot/internal/models"
)

// LoadConfig reads a JSON config file into a Config struct. Decoding starts
// from the defaults and only overwrites keys present in the file, so an
// explicit zero in the file stays zero.
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	config := defaultConfig()
	if err := json.NewDecoder(file).Decode(config); err != nil {
		return nil, err
	}
	return config, nil
}

func defaultConfig() *models.Config {
	return &models.Config{
		PnLCurrency:    "USD",
		SettleDelaySec: 3,
		TickValue:      0.25,
		WarmupDays:     2,
	}
}

// Validate rejects configurations the strategy cannot run with. Indicator
// period errors are fatal here, at load time, rather than per bar.
func Validate(cfg *models.Config) error {
	if cfg.Instrument == "" {
		return fmt.Errorf("instrument must be set")
	}
	if cfg.EMAPeriod < 1 {
		return fmt.Errorf("ema_period %d: %w", cfg.EMAPeriod, indicator.ErrInvalidPeriod)
	}
	if cfg.Condition != 1 && cfg.Condition != 2 {
		return fmt.Errorf("condition must be 1 or 2, got %d", cfg.Condition)
	}
	if cfg.Condition == 2 {
		if cfg.AuxInstrument == "" {
			return fmt.Errorf("condition 2 requires aux_instrument")
		}
		if cfg.VIXEMAPeriod < 1 {
			return fmt.Errorf("vix_ema_period %d: %w", cfg.VIXEMAPeriod, indicator.ErrInvalidPeriod)
		}
	}
	if cfg.Size <= 0 {
		return fmt.Errorf("size must be positive, got %v", cfg.Size)
	}
	if cfg.TickValue <= 0 {
		return fmt.Errorf("tick_value must be positive, got %v", cfg.TickValue)
	}
	if cfg.FixedStopLoss <= 0 {
		return fmt.Errorf("fixed_stoploss must be positive, got %v", cfg.FixedStopLoss)
	}
	if cfg.TrailingStopLoss <= 0 || cfg.TrailingStopLossTrigger <= 0 {
		return fmt.Errorf("trailing_stoploss and trailing_stoploss_trigger must be positive")
	}
	if cfg.LowerPnL > cfg.UpperPnL {
		return fmt.Errorf("lower_pnl %v exceeds upper_pnl %v", cfg.LowerPnL, cfg.UpperPnL)
	}
	return nil
}
