// Package reporter prints the end-of-session summary. Nothing here is
// persisted; the tables are rendered from the broker's in-memory session
// records.
package reporter

import (
	"os"

	"ha-trend-bot/internal/broker"
	"ha-trend-bot/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/zap"
)

// GenerateReport renders the session summary: executions, remaining open
// orders and positions, and realized PnL.
func GenerateReport(b broker.Broker, state models.PositionState, currency string, logger *zap.SugaredLogger) {
	trades, err := b.Trades()
	if err != nil {
		logger.Errorf("report: query trades: %v", err)
		return
	}
	positions, err := b.Positions()
	if err != nil {
		logger.Errorf("report: query positions: %v", err)
		return
	}
	openOrders, err := b.OpenOrders()
	if err != nil {
		logger.Errorf("report: query open orders: %v", err)
		return
	}
	pnl, err := b.RealizedPnL(currency)
	if err != nil {
		logger.Errorf("report: query realized pnl: %v", err)
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("Session executions")
	t.AppendHeader(table.Row{"#", "Time", "Instrument", "Avg fill price"})
	for i, trade := range trades {
		t.AppendRow(table.Row{i + 1, trade.Time.Format("15:04:05"), trade.Instrument, trade.AvgFillPrice})
	}
	t.SetStyle(table.StyleLight)
	t.Render()

	s := table.NewWriter()
	s.SetOutputMirror(os.Stdout)
	s.SetTitle("Session summary")
	s.AppendRow(table.Row{"Executions", len(trades)})
	s.AppendRow(table.Row{"Open orders", len(openOrders)})
	for _, p := range positions {
		s.AppendRow(table.Row{"Position " + p.Instrument, p.Quantity})
	}
	s.AppendRow(table.Row{"Position phase", string(state.Phase)})
	s.AppendRow(table.Row{"Realized PnL (" + currency + ")", pnl})
	s.SetStyle(table.StyleLight)
	s.Render()
}
