package persistence

import "ha-trend-bot/internal/models"

// StateRepository abstracts the storage that keeps the strategy's resumable
// state (position phase, entry price, OCA group) between runs.
type StateRepository interface {
	// SaveState atomically saves the entire strategy state.
	SaveState(state *models.StrategyState) error

	// LoadState loads the strategy state from storage.
	// If no state is found, it returns (nil, nil).
	LoadState() (*models.StrategyState, error)

	// Close gracefully closes the connection to the database.
	Close() error
}
