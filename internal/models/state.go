package models

import "time"

// StrategyState is the resumable state persisted between runs. It is the
// single document the state repository stores; everything else (bars,
// indicators) is rebuilt from the warmup download on startup.
type StrategyState struct {
	Instrument     string        `json:"instrument"`
	Version        int           `json:"version"` // state model version, for future migrations
	Position       PositionState `json:"position"`
	LastUpdateTime time.Time     `json:"last_update_time"`
}
