// Package risk owns the position lifecycle on the primary instrument and
// turns evaluator decisions into order intents: entry markets, fixed stops
// and trailing stops grouped under a one-cancels-all id.
package risk

import (
	"errors"
	"fmt"
	"sync"

	"ha-trend-bot/internal/broker"
	"ha-trend-bot/internal/models"
	"ha-trend-bot/internal/signal"

	"github.com/jxskiss/base62"
	"go.uber.org/zap"
)

// ErrStaleEntryPrice means a position exists but its entry price is unknown
// and could not be recovered from trade history. Trailing-stop management
// is deferred; the fixed stop remains the only protection.
var ErrStaleEntryPrice = errors.New("entry price unknown and unrecoverable")

// Manager is the position and risk state machine. All mutations happen
// under one lock for the duration of an evaluate-and-emit cycle, so at most
// one entry order and one protective order are ever live.
type Manager struct {
	cfg    *models.Config
	broker broker.Broker
	logger *zap.SugaredLogger

	mu    sync.Mutex
	state models.PositionState
}

// NewManager creates a manager with a flat position.
func NewManager(cfg *models.Config, b broker.Broker, logger *zap.SugaredLogger) *Manager {
	return &Manager{
		cfg:    cfg,
		broker: b,
		logger: logger,
		state:  models.PositionState{Phase: models.PhaseFlat},
	}
}

// Restore replaces the position state with one loaded from persistence.
// A restored open position may lack an entry price; trailing-stop
// management recovers it from trade history when possible.
func (m *Manager) Restore(state models.PositionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state.Phase == "" {
		state.Phase = models.PhaseFlat
	}
	m.state = state
	m.logger.Infof("restored position state: phase=%s qty=%.2f entryKnown=%v oca=%q",
		state.Phase, state.Quantity, state.EntryPriceKnown, state.OCAGroup)
}

// State returns a copy of the current position state.
func (m *Manager) State() models.PositionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Apply executes an evaluator decision.
func (m *Manager) Apply(decision signal.Decision) error {
	switch decision {
	case signal.EnterLong:
		return m.enter(models.Buy)
	case signal.EnterShort:
		return m.enter(models.Sell)
	case signal.ExitAndCancel:
		return m.ExitAndCancel()
	default:
		return nil
	}
}

// enter emits the market entry order and moves to PendingEntry. The fixed
// stop is placed later, on the fill confirmation, because its price depends
// on the actual fill.
func (m *Manager) enter(side models.Side) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Phase != models.PhaseFlat {
		return fmt.Errorf("entry requested while %s", m.state.Phase)
	}

	intent := models.OrderIntent{
		Action:     side,
		Quantity:   m.cfg.Size,
		Kind:       models.Market,
		Ref:        models.RefEntry,
		OutsideRTH: m.cfg.OutsideRTH,
	}
	if _, err := m.broker.PlaceOrder(m.cfg.Instrument, intent); err != nil {
		return fmt.Errorf("place entry order: %w", err)
	}

	m.state.Phase = models.PhasePendingEntry
	m.logger.Infof("entry order placed: %s %.2f %s", side, m.cfg.Size, m.cfg.Instrument)
	return nil
}

// OnFill processes an execution confirmation. An entry fill records the
// entry price, mints the position's OCA group and places the fixed stop; a
// protective-order fill means the broker flattened us, so the state resets.
func (m *Manager) OnFill(fill models.Fill) error {
	if fill.Instrument != m.cfg.Instrument {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch fill.Ref {
	case models.RefEntry:
		return m.onEntryFill(fill)
	case models.RefFixedStop, models.RefTrailingStop:
		m.logger.Infof("protective order filled (%s @ %.4f), position closed", fill.Ref, fill.Price)
		m.state = models.PositionState{Phase: models.PhaseFlat}
		return nil
	default:
		return nil
	}
}

func (m *Manager) onEntryFill(fill models.Fill) error {
	qty := fill.Quantity
	if fill.Action == models.Sell {
		qty = -qty
	}

	m.state.Quantity = qty
	m.state.EntryPrice = fill.Price
	m.state.EntryPriceKnown = true
	m.state.OCAGroup = "oca_" + string(base62.FormatInt(fill.OrderID))
	m.state.Phase = models.PhaseOpen

	stopDistance := m.cfg.FixedStopDistance()
	stop := models.OrderIntent{
		Action:     fill.Action.Opposite(),
		Quantity:   fill.Quantity,
		Kind:       models.Stop,
		Ref:        models.RefFixedStop,
		OCAGroup:   m.state.OCAGroup,
		OutsideRTH: m.cfg.OutsideRTH,
	}
	if fill.Action == models.Buy {
		stop.StopPrice = fill.Price - stopDistance
	} else {
		stop.StopPrice = fill.Price + stopDistance
	}

	if _, err := m.broker.PlaceOrder(m.cfg.Instrument, stop); err != nil {
		return fmt.Errorf("place fixed stop: %w", err)
	}

	m.logger.Infof("entry filled @ %.4f, fixed stop @ %.4f, oca=%s",
		fill.Price, stop.StopPrice, m.state.OCAGroup)
	return nil
}

// ExitAndCancel cancels every open order on the instrument, then flattens
// the net position with a market order. The cancel must come first so the
// flattening fill cannot race a resting protective order.
func (m *Manager) ExitAndCancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.broker.CancelAllOpenOrders(m.cfg.Instrument); err != nil {
		return fmt.Errorf("cancel open orders: %w", err)
	}

	qty, err := m.positionSize()
	if err != nil {
		return err
	}

	if qty != 0 {
		intent := models.OrderIntent{
			Quantity:   absf(qty),
			Kind:       models.Market,
			Ref:        "flatten",
			OutsideRTH: m.cfg.OutsideRTH,
		}
		if qty > 0 {
			intent.Action = models.Sell
		} else {
			intent.Action = models.Buy
		}
		if _, err := m.broker.PlaceOrder(m.cfg.Instrument, intent); err != nil {
			return fmt.Errorf("place flattening order: %w", err)
		}
		m.logger.Infof("flattening %.2f %s", qty, m.cfg.Instrument)
	}

	m.state = models.PositionState{Phase: models.PhaseFlat}
	return nil
}

// ManageTrailingStop runs the tick-cadence trailing-stop check against the
// latest bar. Errors are advisory: the orchestrator logs and discards them,
// since a missed update is recoverable on the next bar.
func (m *Manager) ManageTrailingStop(lastBar models.Bar) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	qty, err := m.positionSize()
	if err != nil {
		return err
	}
	if qty == 0 {
		return nil
	}

	pending, err := m.hasPendingTrailingStop()
	if err != nil {
		return err
	}
	if pending {
		return nil
	}

	if !m.state.EntryPriceKnown {
		if err := m.recoverEntryPrice(); err != nil {
			return err
		}
	}

	trailDistance := m.cfg.TrailDistance()
	triggerDistance := m.cfg.TrailTriggerDistance()

	intent := models.OrderIntent{
		Quantity:    absf(qty),
		Kind:        models.TrailingStop,
		TrailAmount: trailDistance,
		Ref:         models.RefTrailingStop,
		OCAGroup:    m.state.OCAGroup,
		OutsideRTH:  m.cfg.OutsideRTH,
	}

	if qty > 0 {
		if lastBar.High-m.state.EntryPrice < triggerDistance {
			return nil
		}
		intent.Action = models.Sell
		intent.TrailStopPrice = lastBar.Close - trailDistance
	} else {
		if m.state.EntryPrice-lastBar.Low < triggerDistance {
			return nil
		}
		intent.Action = models.Buy
		intent.TrailStopPrice = lastBar.Close + trailDistance
	}

	if _, err := m.broker.PlaceOrder(m.cfg.Instrument, intent); err != nil {
		return fmt.Errorf("place trailing stop: %w", err)
	}

	m.logger.Infof("trailing stop placed: %s %.2f trail=%.4f from %.4f oca=%s",
		intent.Action, intent.Quantity, trailDistance, intent.TrailStopPrice, m.state.OCAGroup)
	return nil
}

// recoverEntryPrice reloads a lost entry price from the most recent trade
// record for the instrument. Caller holds the lock.
func (m *Manager) recoverEntryPrice() error {
	trades, err := m.broker.Trades()
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}
	for i := len(trades) - 1; i >= 0; i-- {
		if trades[i].Instrument == m.cfg.Instrument {
			m.state.EntryPrice = trades[i].AvgFillPrice
			m.state.EntryPriceKnown = true
			m.logger.Infof("recovered entry price %.4f from trade history", m.state.EntryPrice)
			return nil
		}
	}
	return ErrStaleEntryPrice
}

// positionSize returns the broker's net signed quantity for the instrument.
// Caller holds the lock.
func (m *Manager) positionSize() (float64, error) {
	positions, err := m.broker.Positions()
	if err != nil {
		return 0, fmt.Errorf("query positions: %w", err)
	}
	for _, p := range positions {
		if p.Instrument == m.cfg.Instrument {
			return p.Quantity, nil
		}
	}
	return 0, nil
}

// hasPendingTrailingStop reports whether a trailing stop is already resting
// at the broker. Caller holds the lock.
func (m *Manager) hasPendingTrailingStop() (bool, error) {
	orders, err := m.broker.OpenOrders()
	if err != nil {
		return false, fmt.Errorf("query open orders: %w", err)
	}
	for _, o := range orders {
		if o.Ref == models.RefTrailingStop {
			return true, nil
		}
	}
	return false, nil
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
