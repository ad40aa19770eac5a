package strategy

import (
	"sync"
	"testing"
	"time"

	"ha-trend-bot/internal/indicator"
	"ha-trend-bot/internal/models"
	"ha-trend-bot/internal/risk"
	"ha-trend-bot/internal/signal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockBroker struct {
	mu     sync.Mutex
	nextID int64

	placed     []models.OrderIntent
	calls      []string
	positions  []models.BrokerPosition
	openOrders []models.OpenOrder
	trades     []models.TradeRecord
	pnl        float64
}

func (b *mockBroker) PlaceOrder(instrument string, intent models.OrderIntent) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.placed = append(b.placed, intent)
	b.calls = append(b.calls, "place:"+intent.Ref)
	return b.nextID, nil
}

func (b *mockBroker) CancelOrder(orderID int64) error { return nil }

func (b *mockBroker) CancelAllOpenOrders(instrument string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, "cancel_all")
	b.openOrders = nil
	return nil
}

func (b *mockBroker) Positions() ([]models.BrokerPosition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.positions, nil
}

func (b *mockBroker) OpenOrders() ([]models.OpenOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openOrders, nil
}

func (b *mockBroker) Trades() ([]models.TradeRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trades, nil
}

func (b *mockBroker) RealizedPnL(currency string) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pnl, nil
}

func (b *mockBroker) placedRefs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	refs := make([]string, 0, len(b.placed))
	for _, p := range b.placed {
		refs = append(refs, p.Ref)
	}
	return refs
}

func (b *mockBroker) hasRef(ref string) bool {
	for _, r := range b.placedRefs() {
		if r == ref {
			return true
		}
	}
	return false
}

func testConfig() *models.Config {
	return &models.Config{
		Instrument:              "MNQ",
		Condition:               1,
		EMAPeriod:               3,
		Size:                    2,
		TickValue:               0.25,
		FixedStopLoss:           40,
		TrailingStopLoss:        20,
		TrailingStopLossTrigger: 60,
		LowerPnL:                -100,
		UpperPnL:                100,
		PnLCurrency:             "USD",
		SettleDelaySec:          0,
	}
}

func flatBar(v float64) models.Bar {
	return models.Bar{Timestamp: time.Now(), Open: v, High: v, Low: v, Close: v}
}

// upBars is a primary-instrument history whose second-to-last Heikin-Ashi
// close (110) sits above its aligned EMA (105) with a period of 3.
func upBars() []models.Bar {
	return []models.Bar{flatBar(100), flatBar(110), flatBar(111)}
}

func downBars() []models.Bar {
	return []models.Bar{flatBar(100), flatBar(90), flatBar(89)}
}

func newTestStrategy(t *testing.T, cfg *models.Config, b *mockBroker) (*Strategy, *risk.Manager) {
	t.Helper()

	store := indicator.NewStore()
	store.Track(cfg.Instrument, cfg.EMAPeriod)
	if cfg.Condition == 2 {
		store.Track(cfg.AuxInstrument, cfg.VIXEMAPeriod)
	}

	rules, err := signal.NewRuleSet(cfg.Condition, cfg.Instrument, cfg.AuxInstrument)
	require.NoError(t, err)

	logger := zap.NewNop().Sugar()
	manager := risk.NewManager(cfg, b, logger)
	strat := New(cfg, store, rules, manager, b, nil, logger)
	require.NoError(t, strat.Start())
	t.Cleanup(strat.Stop)
	return strat, manager
}

func TestNewBarTriggersEntryAfterSettleDelay(t *testing.T) {
	b := &mockBroker{}
	strat, _ := newTestStrategy(t, testConfig(), b)

	strat.OnBar("MNQ", upBars(), true)

	require.Eventually(t, func() bool {
		return b.hasRef(models.RefEntry)
	}, time.Second, 10*time.Millisecond, "entry order should follow the bar close")

	b.mu.Lock()
	intent := b.placed[0]
	b.mu.Unlock()
	assert.Equal(t, models.Buy, intent.Action)
	assert.Equal(t, models.Market, intent.Kind)
	assert.Equal(t, 2.0, intent.Quantity)
}

func TestOnBarSnapshotsCallerBars(t *testing.T) {
	b := &mockBroker{}
	strat, _ := newTestStrategy(t, testConfig(), b)

	bars := upBars()
	strat.OnBar("MNQ", bars, false)

	// A live feed keeps rewriting its forming bar after handing it off.
	// The event loop must see the values from the moment of delivery.
	bars[len(bars)-1] = flatBar(42)

	require.Eventually(t, func() bool {
		last, err := strat.store.LastBar("MNQ")
		return err == nil && last.Close == 111
	}, time.Second, 10*time.Millisecond, "the enqueued bars must not alias the caller's slice")
}

func TestFormingBarNeverEnters(t *testing.T) {
	b := &mockBroker{}
	strat, _ := newTestStrategy(t, testConfig(), b)

	// Same favorable history, but the update is an in-place refresh of the
	// forming bar, not a bar close.
	strat.OnBar("MNQ", upBars(), false)

	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, b.placedRefs(), "tick updates must not run the entry pass")
}

func TestPnLGate(t *testing.T) {
	t.Run("loss inside the gate allows entry", func(t *testing.T) {
		b := &mockBroker{pnl: -50}
		strat, _ := newTestStrategy(t, testConfig(), b)

		strat.OnBar("MNQ", upBars(), true)

		require.Eventually(t, func() bool {
			return b.hasRef(models.RefEntry)
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("loss beyond the lower bound suppresses entry", func(t *testing.T) {
		b := &mockBroker{pnl: -150}
		strat, _ := newTestStrategy(t, testConfig(), b)

		strat.OnBar("MNQ", upBars(), true)

		time.Sleep(150 * time.Millisecond)
		assert.Empty(t, b.placedRefs())
	})

	t.Run("profit beyond the upper bound suppresses entry", func(t *testing.T) {
		b := &mockBroker{pnl: 150}
		strat, _ := newTestStrategy(t, testConfig(), b)

		strat.OnBar("MNQ", upBars(), true)

		time.Sleep(150 * time.Millisecond)
		assert.Empty(t, b.placedRefs())
	})
}

func TestPendingTrailingStopBlocksEntry(t *testing.T) {
	b := &mockBroker{}
	b.openOrders = []models.OpenOrder{{OrderID: 7, Instrument: "MNQ", Ref: models.RefTrailingStop}}
	strat, _ := newTestStrategy(t, testConfig(), b)

	strat.OnBar("MNQ", upBars(), true)

	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, b.placedRefs(), "a resting trailing stop must suppress new entries")
}

func TestAuxBarsNeverTriggerEvaluation(t *testing.T) {
	cfg := testConfig()
	cfg.Condition = 2
	cfg.AuxInstrument = "VIX"
	cfg.VIXEMAPeriod = 3

	b := &mockBroker{}
	strat, _ := newTestStrategy(t, cfg, b)

	// Confirmation data that would allow a long if the primary evaluated.
	strat.OnBar("VIX", downBars(), true)

	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, b.placedRefs(), "aux bars only refresh indicators")
}

func TestExitRunsOnBarCloseAndBlocksReentry(t *testing.T) {
	b := &mockBroker{}
	b.positions = []models.BrokerPosition{{Instrument: "MNQ", Quantity: 2}}

	strat, manager := newTestStrategy(t, testConfig(), b)
	manager.Restore(models.PositionState{
		Phase:           models.PhaseOpen,
		Quantity:        2,
		EntryPrice:      100,
		EntryPriceKnown: true,
		OCAGroup:        "oca_1",
	})

	strat.OnBar("MNQ", downBars(), true)

	require.Eventually(t, func() bool {
		return b.hasRef("flatten")
	}, time.Second, 10*time.Millisecond, "a reversal on bar close should flatten the long")

	b.mu.Lock()
	var cancelIdx, flattenIdx int
	for i, c := range b.calls {
		switch c {
		case "cancel_all":
			cancelIdx = i
		case "place:flatten":
			flattenIdx = i
		}
	}
	b.mu.Unlock()
	assert.Less(t, cancelIdx, flattenIdx, "cancels precede the flattening order")

	// The broker still reports a position, so the delayed entry pass is a
	// no-op.
	time.Sleep(150 * time.Millisecond)
	assert.False(t, b.hasRef(models.RefEntry))
}

func TestTickCadencePlacesTrailingStop(t *testing.T) {
	b := &mockBroker{}
	b.positions = []models.BrokerPosition{{Instrument: "MNQ", Quantity: 2}}

	strat, manager := newTestStrategy(t, testConfig(), b)
	manager.Restore(models.PositionState{
		Phase:           models.PhaseOpen,
		Quantity:        2,
		EntryPrice:      100,
		EntryPriceKnown: true,
		OCAGroup:        "oca_1",
	})

	// Forming bar with a 20-point favorable excursion against the 15-point
	// trigger.
	bars := []models.Bar{flatBar(95), flatBar(100), {Timestamp: time.Now(), Open: 100, High: 120, Low: 100, Close: 118}}
	strat.OnBar("MNQ", bars, false)

	require.Eventually(t, func() bool {
		return b.hasRef(models.RefTrailingStop)
	}, time.Second, 10*time.Millisecond)

	assert.False(t, b.hasRef(models.RefEntry), "tick cadence never places entries")
	assert.False(t, b.hasRef("flatten"), "tick cadence never exits")
}

func TestFillEventReachesRiskManager(t *testing.T) {
	b := &mockBroker{}
	strat, manager := newTestStrategy(t, testConfig(), b)

	strat.OnBar("MNQ", upBars(), true)
	require.Eventually(t, func() bool {
		return b.hasRef(models.RefEntry)
	}, time.Second, 10*time.Millisecond)

	strat.OnFill(models.Fill{
		OrderID:    1,
		Ref:        models.RefEntry,
		Instrument: "MNQ",
		Action:     models.Buy,
		Price:      110,
		Quantity:   2,
		Time:       time.Now(),
	})

	require.Eventually(t, func() bool {
		return manager.State().Phase == models.PhaseOpen
	}, time.Second, 10*time.Millisecond)
	assert.True(t, b.hasRef(models.RefFixedStop), "the entry fill should place the fixed stop")
}
