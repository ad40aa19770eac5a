// Package broker defines the connectivity boundary between the strategy
// core and whatever executes its orders. The core only ever sees this
// interface; fills and cancels surface asynchronously through the
// registered fill handler, never as synchronous results.
package broker

import "ha-trend-bot/internal/models"

// Broker is the order and account surface the strategy core calls.
type Broker interface {
	// PlaceOrder submits an order intent and returns the broker-assigned
	// order id. Execution is confirmed later via the fill handler.
	PlaceOrder(instrument string, intent models.OrderIntent) (int64, error)

	// CancelOrder cancels a single resting order.
	CancelOrder(orderID int64) error

	// CancelAllOpenOrders cancels every resting order for an instrument.
	CancelAllOpenOrders(instrument string) error

	// Positions returns all net signed positions.
	Positions() ([]models.BrokerPosition, error)

	// OpenOrders returns all resting orders.
	OpenOrders() ([]models.OpenOrder, error)

	// Trades returns historical executions, oldest first.
	Trades() ([]models.TradeRecord, error)

	// RealizedPnL returns the session's realized profit in the given currency.
	RealizedPnL(currency string) (float64, error)
}

// FillHandler receives asynchronous execution confirmations.
type FillHandler func(fill models.Fill)
