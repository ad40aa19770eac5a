// Package signal evaluates entry and exit rules against the indicator
// store. Rule sets are pure: they read indicator projections and the
// current position size, and never talk to the broker. Preconditions that
// need broker state (PnL gate, pending orders) live in the orchestrator.
package signal

import (
	"errors"
	"fmt"

	"ha-trend-bot/internal/indicator"
	"ha-trend-bot/internal/models"
)

// Decision is the outcome of one evaluation pass.
type Decision int

const (
	NoSignal Decision = iota
	EnterLong
	EnterShort
	ExitAndCancel
)

func (d Decision) String() string {
	switch d {
	case EnterLong:
		return "ENTER_LONG"
	case EnterShort:
		return "ENTER_SHORT"
	case ExitAndCancel:
		return "EXIT_AND_CANCEL"
	default:
		return "NO_SIGNAL"
	}
}

// RuleSet is the contract both condition variants implement. Evaluations
// with fewer than two completed bars yield NoSignal rather than an error.
type RuleSet interface {
	// EvaluateEntry decides whether to open a position while flat.
	EvaluateEntry(store *indicator.Store) (Decision, error)

	// EvaluateExit decides whether to close the position with the given
	// net signed quantity.
	EvaluateExit(store *indicator.Store, positionQty float64) (Decision, error)
}

// NewRuleSet selects the configured rule-set variant.
func NewRuleSet(condition int, primary, aux string) (RuleSet, error) {
	switch condition {
	case 1:
		return &condition1{instrument: primary}, nil
	case 2:
		return &condition2{primary: primary, aux: aux}, nil
	default:
		return nil, fmt.Errorf("unknown condition variant %d", condition)
	}
}

// condition1 is the single-instrument trend-follow variant: trade in the
// direction of the last completed Heikin-Ashi close relative to its EMA.
type condition1 struct {
	instrument string
}

func (c *condition1) EvaluateEntry(store *indicator.Store) (Decision, error) {
	ha, ema, ok, err := secondLast(store, c.instrument)
	if err != nil || !ok {
		return NoSignal, err
	}

	switch {
	case ha.Close > ema:
		return EnterLong, nil
	case ha.Close < ema:
		return EnterShort, nil
	default:
		return NoSignal, nil
	}
}

func (c *condition1) EvaluateExit(store *indicator.Store, positionQty float64) (Decision, error) {
	if positionQty == 0 {
		return NoSignal, nil
	}
	ha, ema, ok, err := secondLast(store, c.instrument)
	if err != nil || !ok {
		return NoSignal, err
	}

	// Opposite inequality on the same index closes the position.
	if positionQty > 0 && ha.Close < ema {
		return ExitAndCancel, nil
	}
	if positionQty < 0 && ha.Close > ema {
		return ExitAndCancel, nil
	}
	return NoSignal, nil
}

// condition2 is the dual-instrument confirmation variant: the primary
// instrument must trend, and the auxiliary instrument (an inverse proxy
// such as a volatility index) must confirm by trending the other way.
type condition2 struct {
	primary string
	aux     string
}

func (c *condition2) EvaluateEntry(store *indicator.Store) (Decision, error) {
	ha, ema, ok, err := secondLast(store, c.primary)
	if err != nil || !ok {
		return NoSignal, err
	}

	auxHA, err := store.LastHA(c.aux)
	if err != nil {
		if errors.Is(err, indicator.ErrInsufficientData) {
			return NoSignal, nil
		}
		return NoSignal, err
	}
	auxEMA, err := store.LastEMA(c.aux)
	if err != nil {
		if errors.Is(err, indicator.ErrInsufficientData) {
			return NoSignal, nil
		}
		return NoSignal, err
	}

	if ha.Bullish() && ha.Close > ema && auxHA.Close < auxEMA {
		return EnterLong, nil
	}
	if ha.Bearish() && ha.Close < ema && auxHA.Close > auxEMA {
		return EnterShort, nil
	}
	return NoSignal, nil
}

func (c *condition2) EvaluateExit(store *indicator.Store, positionQty float64) (Decision, error) {
	if positionQty == 0 {
		return NoSignal, nil
	}
	ha, ema, ok, err := secondLast(store, c.primary)
	if err != nil || !ok {
		return NoSignal, err
	}

	// Exit needs the primary bar to reverse direction, not just cross the EMA.
	if positionQty > 0 && ha.Bearish() && ha.Close < ema {
		return ExitAndCancel, nil
	}
	if positionQty < 0 && ha.Bullish() && ha.Close > ema {
		return ExitAndCancel, nil
	}
	return NoSignal, nil
}

// secondLast fetches the second-to-last Heikin-Ashi bar and its aligned EMA
// value. ok is false when fewer than two bars exist.
func secondLast(store *indicator.Store, instrument string) (haBar models.HeikinAshiBar, ema float64, ok bool, err error) {
	ha, err := store.SecondLastHA(instrument)
	if err != nil {
		if errors.Is(err, indicator.ErrInsufficientData) {
			return models.HeikinAshiBar{}, 0, false, nil
		}
		return models.HeikinAshiBar{}, 0, false, err
	}
	ema, err = store.SecondLastEMA(instrument)
	if err != nil {
		if errors.Is(err, indicator.ErrInsufficientData) {
			return models.HeikinAshiBar{}, 0, false, nil
		}
		return models.HeikinAshiBar{}, 0, false, err
	}
	return ha, ema, true, nil
}
