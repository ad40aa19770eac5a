// Package strategy sequences the trading cadences: the bar-close pass
// (exit, settle delay, entry) and the per-tick trailing-stop pass. All
// events are processed serially by one loop; the settle delay is realized
// by a timer that posts a follow-up event, so other events interleave
// instead of blocking.
package strategy

import (
	"errors"
	"time"

	"ha-trend-bot/internal/broker"
	"ha-trend-bot/internal/indicator"
	"ha-trend-bot/internal/models"
	"ha-trend-bot/internal/persistence"
	"ha-trend-bot/internal/risk"
	"ha-trend-bot/internal/signal"

	"go.uber.org/zap"
)

// EventType defines the type of a normalized event.
type EventType int

const (
	BarEvent EventType = iota
	FillEvent
	entryCheckEvent // internal: posted after the settle delay
)

// Event is the standardized internal representation of an external
// notification.
type Event struct {
	Type       EventType
	Instrument string
	Bars       []models.Bar
	IsNewBar   bool
	Fill       models.Fill
	Timestamp  time.Time
}

// Strategy drives the signal evaluation and risk management cadences over
// a serialized event stream.
type Strategy struct {
	cfg     *models.Config
	store   *indicator.Store
	rules   signal.RuleSet
	manager *risk.Manager
	broker  broker.Broker
	repo    persistence.StateRepository
	logger  *zap.SugaredLogger

	events          chan Event
	persistenceChan chan *models.StrategyState
	stopChan        chan struct{}
}

// New wires the strategy. repo may be nil when persistence is disabled.
func New(cfg *models.Config, store *indicator.Store, rules signal.RuleSet,
	manager *risk.Manager, b broker.Broker, repo persistence.StateRepository,
	logger *zap.SugaredLogger) *Strategy {
	return &Strategy{
		cfg:             cfg,
		store:           store,
		rules:           rules,
		manager:         manager,
		broker:          b,
		repo:            repo,
		logger:          logger,
		events:          make(chan Event, 1024),
		persistenceChan: make(chan *models.StrategyState, 128),
		stopChan:        make(chan struct{}),
	}
}

// Start restores persisted state and launches the event and persistence
// loops.
func (s *Strategy) Start() error {
	if s.repo != nil {
		state, err := s.repo.LoadState()
		if err != nil {
			return err
		}
		if state != nil && state.Instrument == s.cfg.Instrument {
			s.manager.Restore(state.Position)
		}
	}

	go s.eventLoop()
	go s.persistenceLoop()
	s.logger.Info("strategy started")
	return nil
}

// Stop shuts down the loops.
func (s *Strategy) Stop() {
	close(s.stopChan)
	s.logger.Info("strategy stopped")
}

// OnBar delivers a bar update for an instrument. bars is the full history;
// the last element may be a still-forming bar. The caller keeps mutating
// that forming bar in place, so the event carries a snapshot, never the
// caller's backing array.
func (s *Strategy) OnBar(instrument string, bars []models.Bar, isNewBar bool) {
	snapshot := make([]models.Bar, len(bars))
	copy(snapshot, bars)
	s.events <- Event{
		Type:       BarEvent,
		Instrument: instrument,
		Bars:       snapshot,
		IsNewBar:   isNewBar,
		Timestamp:  time.Now(),
	}
}

// OnFill delivers an execution confirmation.
func (s *Strategy) OnFill(fill models.Fill) {
	s.events <- Event{Type: FillEvent, Fill: fill, Timestamp: time.Now()}
}

// eventLoop processes all incoming events serially.
func (s *Strategy) eventLoop() {
	for {
		select {
		case event := <-s.events:
			s.processEvent(event)
		case <-s.stopChan:
			return
		}
	}
}

// persistenceLoop saves state snapshots asynchronously so a slow disk never
// stalls evaluation.
func (s *Strategy) persistenceLoop() {
	for {
		select {
		case state := <-s.persistenceChan:
			if s.repo != nil {
				if err := s.repo.SaveState(state); err != nil {
					s.logger.Errorf("failed to save state: %v", err)
				}
			}
		case <-s.stopChan:
			return
		}
	}
}

func (s *Strategy) processEvent(event Event) {
	switch event.Type {
	case BarEvent:
		s.handleBar(event)
	case FillEvent:
		if err := s.manager.OnFill(event.Fill); err != nil {
			s.logger.Errorf("fill handling failed: %v", err)
		}
		s.persistState()
	case entryCheckEvent:
		s.runEntry()
		s.persistState()
	}
}

// handleBar refreshes the indicator store and runs the cadences. Auxiliary
// instrument bars only refresh the store; they never trigger evaluation.
func (s *Strategy) handleBar(event Event) {
	if err := s.store.Update(event.Instrument, event.Bars); err != nil {
		s.logger.Errorf("indicator update failed for %s: %v", event.Instrument, err)
		return
	}

	if event.Instrument != s.cfg.Instrument {
		return
	}

	if event.IsNewBar {
		s.runExit()
		s.persistState()
		// Entry follows after the settle delay so fill/cancel
		// acknowledgments land before preconditions are re-read.
		time.AfterFunc(s.cfg.SettleDelay(), func() {
			select {
			case s.events <- Event{Type: entryCheckEvent, Timestamp: time.Now()}:
			case <-s.stopChan:
			}
		})
	}

	// Tick cadence: trailing-stop management only, best effort.
	lastBar, err := s.store.LastBar(s.cfg.Instrument)
	if err != nil {
		return
	}
	if err := s.manager.ManageTrailingStop(lastBar); err != nil {
		if errors.Is(err, risk.ErrStaleEntryPrice) {
			s.logger.Warnf("trailing stop deferred: %v", err)
		} else {
			s.logger.Warnf("trailing stop check failed (will retry next bar): %v", err)
		}
	}
}

// runExit evaluates the exit rules against the current broker position.
func (s *Strategy) runExit() {
	qty, err := s.positionSize()
	if err != nil {
		s.logger.Errorf("exit pass: %v", err)
		return
	}
	if qty == 0 {
		return
	}

	decision, err := s.rules.EvaluateExit(s.store, qty)
	if err != nil {
		s.logger.Errorf("exit evaluation failed: %v", err)
		return
	}
	if decision == signal.NoSignal {
		return
	}

	s.logger.Infof("exit signal: %s", decision)
	if err := s.manager.Apply(decision); err != nil {
		s.logger.Errorf("exit failed: %v", err)
	}
}

// runEntry applies the entry preconditions, then the configured rule set.
// The preconditions short-circuit before any rule evaluation: no existing
// position, no pending trailing stop, and realized PnL inside the gate.
func (s *Strategy) runEntry() {
	qty, err := s.positionSize()
	if err != nil {
		s.logger.Errorf("entry pass: %v", err)
		return
	}
	if qty != 0 {
		return
	}

	pending, err := s.hasPendingTrailingStop()
	if err != nil {
		s.logger.Errorf("entry pass: %v", err)
		return
	}
	if pending {
		return
	}

	within, pnl, err := s.pnlWithinLimits()
	if err != nil {
		s.logger.Errorf("entry pass: %v", err)
		return
	}
	if !within {
		s.logger.Infof("entry suppressed: realized pnl %.2f outside [%.2f, %.2f]",
			pnl, s.cfg.LowerPnL, s.cfg.UpperPnL)
		return
	}

	decision, err := s.rules.EvaluateEntry(s.store)
	if err != nil {
		s.logger.Errorf("entry evaluation failed: %v", err)
		return
	}
	if decision == signal.NoSignal {
		return
	}

	s.logger.Infof("entry signal: %s", decision)
	if err := s.manager.Apply(decision); err != nil {
		s.logger.Errorf("entry failed: %v", err)
	}
}

func (s *Strategy) positionSize() (float64, error) {
	positions, err := s.broker.Positions()
	if err != nil {
		return 0, err
	}
	for _, p := range positions {
		if p.Instrument == s.cfg.Instrument {
			return p.Quantity, nil
		}
	}
	return 0, nil
}

func (s *Strategy) hasPendingTrailingStop() (bool, error) {
	orders, err := s.broker.OpenOrders()
	if err != nil {
		return false, err
	}
	for _, o := range orders {
		if o.Ref == models.RefTrailingStop {
			return true, nil
		}
	}
	return false, nil
}

func (s *Strategy) pnlWithinLimits() (bool, float64, error) {
	pnl, err := s.broker.RealizedPnL(s.cfg.PnLCurrency)
	if err != nil {
		return false, 0, err
	}
	return s.cfg.LowerPnL <= pnl && pnl <= s.cfg.UpperPnL, pnl, nil
}

// persistState queues a snapshot of the position state for async saving.
func (s *Strategy) persistState() {
	if s.repo == nil {
		return
	}
	state := &models.StrategyState{
		Instrument:     s.cfg.Instrument,
		Version:        1,
		Position:       s.manager.State(),
		LastUpdateTime: time.Now(),
	}
	select {
	case s.persistenceChan <- state:
	default:
		s.logger.Warn("persistence queue full, dropping snapshot")
	}
}
