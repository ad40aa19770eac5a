package indicator

import (
	"errors"
	"fmt"
	"sync"

	"ha-trend-bot/internal/models"
)

// ErrInsufficientData is returned by projections that need a second-to-last
// bar when fewer than two bars are available. Callers treat it as "no
// signal", not as a failure.
var ErrInsufficientData = errors.New("not enough bars")

// InstrumentState holds the derived series for one instrument. It is owned
// by the Store and replaced wholesale on every update.
type InstrumentState struct {
	Bars      []models.Bar
	HABars    []models.HeikinAshiBar
	EMA       []float64
	emaPeriod int
}

// Store keeps the latest indicator state per tracked instrument. Update is
// the only mutation path; all reads are projections over the last snapshot.
type Store struct {
	mu          sync.RWMutex
	instruments map[string]*InstrumentState
}

// NewStore creates an empty indicator store.
func NewStore() *Store {
	return &Store{instruments: make(map[string]*InstrumentState)}
}

// Track registers an instrument with its EMA period. Updating an untracked
// instrument is an error, so misconfigured feeds fail loudly.
func (s *Store) Track(instrument string, emaPeriod int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instruments[instrument] = &InstrumentState{emaPeriod: emaPeriod}
}

// Update replaces the raw bars for an instrument and recomputes the
// Heikin-Ashi sequence and the EMA over Heikin-Ashi closes from scratch.
func (s *Store) Update(instrument string, bars []models.Bar) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.instruments[instrument]
	if !ok {
		return fmt.Errorf("instrument %s is not tracked", instrument)
	}

	raw := make([]models.Bar, len(bars))
	copy(raw, bars)

	ha := HeikinAshi(raw)
	ema, err := EMA(Closes(ha), state.emaPeriod)
	if err != nil {
		return fmt.Errorf("recompute ema for %s: %w", instrument, err)
	}

	state.Bars = raw
	state.HABars = ha
	state.EMA = ema
	return nil
}

func (s *Store) state(instrument string) (*InstrumentState, error) {
	state, ok := s.instruments[instrument]
	if !ok {
		return nil, fmt.Errorf("instrument %s is not tracked", instrument)
	}
	return state, nil
}

// LastBar returns the most recent raw bar.
func (s *Store) LastBar(instrument string) (models.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, err := s.state(instrument)
	if err != nil {
		return models.Bar{}, err
	}
	if len(state.Bars) < 1 {
		return models.Bar{}, ErrInsufficientData
	}
	return state.Bars[len(state.Bars)-1], nil
}

// LastHA returns the most recent Heikin-Ashi bar.
func (s *Store) LastHA(instrument string) (models.HeikinAshiBar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, err := s.state(instrument)
	if err != nil {
		return models.HeikinAshiBar{}, err
	}
	if len(state.HABars) < 1 {
		return models.HeikinAshiBar{}, ErrInsufficientData
	}
	return state.HABars[len(state.HABars)-1], nil
}

// SecondLastHA returns the last completed Heikin-Ashi bar (index -2).
func (s *Store) SecondLastHA(instrument string) (models.HeikinAshiBar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, err := s.state(instrument)
	if err != nil {
		return models.HeikinAshiBar{}, err
	}
	if len(state.HABars) < 2 {
		return models.HeikinAshiBar{}, ErrInsufficientData
	}
	return state.HABars[len(state.HABars)-2], nil
}

// LastEMA returns the most recent EMA value.
func (s *Store) LastEMA(instrument string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, err := s.state(instrument)
	if err != nil {
		return 0, err
	}
	if len(state.EMA) < 1 {
		return 0, ErrInsufficientData
	}
	return state.EMA[len(state.EMA)-1], nil
}

// SecondLastEMA returns the EMA value aligned with the second-to-last bar.
func (s *Store) SecondLastEMA(instrument string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, err := s.state(instrument)
	if err != nil {
		return 0, err
	}
	if len(state.EMA) < 2 {
		return 0, ErrInsufficientData
	}
	return state.EMA[len(state.EMA)-2], nil
}

// BarCount returns the number of raw bars held for an instrument.
func (s *Store) BarCount(instrument string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.instruments[instrument]
	if !ok {
		return 0
	}
	return len(state.Bars)
}
