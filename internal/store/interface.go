// Package store provides the typed gateway over the persistent tables and
// the strategy's idempotence ledger.
package store

import (
	"context"

	"github.com/quantops/vixroll/internal/models"
)

// SecurityKey identifies a row of the security master.
type SecurityKey struct {
	Symbol string
	Broker string
}

// Interface is the contract for quote, security and order persistence.
//
// Implementations must be safe for concurrent use: the executor settles
// orders from multiple goroutines. SettleOrder is the concurrency anchor —
// it must apply the status change atomically and only when the previous
// status is PENDING.
type Interface interface {
	// GetQuote returns the EOD quote for (symbol, date), or nil when the
	// quote has not arrived yet.
	GetQuote(ctx context.Context, symbol, date string) (*models.Quote, error)

	// GetSecurities returns the security-master rows matching the union of
	// the requested keys, in a single scan.
	GetSecurities(ctx context.Context, keys []SecurityKey) ([]models.Security, error)

	// GetOrdersBySymbolBroker returns every order for (symbol, broker).
	GetOrdersBySymbolBroker(ctx context.Context, symbol, broker string) ([]models.Order, error)

	// CreateOrder persists a new order, generating OrderID and
	// TransactionTime. Status defaults to PENDING when unset; a pre-filled
	// terminal status (backtest fills) is written as-is.
	CreateOrder(ctx context.Context, o *models.Order) error

	// SettleOrder transitions an order out of PENDING. It reports whether
	// the update took effect; false means another worker settled the order
	// first, which is not an error.
	SettleOrder(ctx context.Context, orderID, transactionTime string, status models.OrderStatus, trade *models.Trade) (bool, error)

	// LedgerHas reports whether the ledger object at key already contains
	// the given line.
	LedgerHas(key, line string) (bool, error)

	// LedgerAppend appends a line to the ledger object at key, creating it
	// if needed.
	LedgerAppend(key, line string) error

	// Close releases the underlying database.
	Close() error
}

// Ensure SQLiteStore implements Interface.
var _ Interface = (*SQLiteStore)(nil)
