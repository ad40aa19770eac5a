package persistence

import (
	"testing"
	"time"

	"ha-trend-bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) StateRepository {
	t.Helper()
	repo, err := NewBadgerRepository(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestLoadStateFreshDatabase(t *testing.T) {
	repo := newTestRepo(t)

	state, err := repo.LoadState()
	require.NoError(t, err)
	assert.Nil(t, state, "a fresh database means a fresh start, not an error")
}

func TestSaveAndLoadState(t *testing.T) {
	repo := newTestRepo(t)

	saved := &models.StrategyState{
		Instrument: "MNQ",
		Version:    1,
		Position: models.PositionState{
			Phase:           models.PhaseOpen,
			Quantity:        2,
			EntryPrice:      15000,
			EntryPriceKnown: true,
			OCAGroup:        "oca_1",
		},
		LastUpdateTime: time.Now().UTC(),
	}
	require.NoError(t, repo.SaveState(saved))

	loaded, err := repo.LoadState()
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, saved.Instrument, loaded.Instrument)
	assert.Equal(t, saved.Version, loaded.Version)
	assert.Equal(t, saved.Position, loaded.Position)
	assert.WithinDuration(t, saved.LastUpdateTime, loaded.LastUpdateTime, time.Second)
}

func TestSaveStateOverwrites(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.SaveState(&models.StrategyState{
		Instrument: "MNQ",
		Version:    1,
		Position:   models.PositionState{Phase: models.PhaseOpen, Quantity: 2},
	}))
	require.NoError(t, repo.SaveState(&models.StrategyState{
		Instrument: "MNQ",
		Version:    1,
		Position:   models.PositionState{Phase: models.PhaseFlat},
	}))

	loaded, err := repo.LoadState()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, models.PhaseFlat, loaded.Position.Phase)
	assert.Zero(t, loaded.Position.Quantity)
}
