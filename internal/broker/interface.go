// Package broker provides the brokerage abstraction and the IG REST adapter.
package broker

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/quantops/vixroll/internal/models"
)

// NameIG is the broker identifier used in the security master and on orders.
const NameIG = "IG"

// TimeInForceFOK is the default time-in-force for created positions.
const TimeInForceFOK = "FILL_OR_KILL"

// ErrAuthExpired is returned when session tokens are rejected. The executor
// treats this as fatal for the current batch.
var ErrAuthExpired = errors.New("broker: session tokens rejected")

// Balance is the account balance reported at login.
type Balance struct {
	Amount decimal.Decimal
	Ccy    string
}

// Session holds the opaque tokens and account snapshot of one login. It is
// an explicit value passed to every authenticated call; there is no latent
// session state inside the client.
type Session struct {
	CST           string
	SecurityToken string
	AccountID     string
	Balance       Balance
}

// Market is one instrument returned by a market search. Fields the core does
// not model are preserved in Extra for forward compatibility.
type Market struct {
	Epic           string
	InstrumentName string
	InstrumentType string
	Expiry         string
	Extra          map[string]any
}

// PositionRequest describes a position to create.
type PositionRequest struct {
	Epic         string
	Direction    models.Side
	Expiry       string // broker display form, e.g. "NOV-17"
	OrderType    models.OrdType
	Size         int
	TimeInForce  string
	Currency     string
	StopDistance int // 0 means no stop
}

// Deal is the outcome of a create-position call. A non-empty ErrorCode means
// the broker rejected the deal.
type Deal struct {
	DealReference string
	ErrorCode     string
}

// OpenPosition is one open position as reported by the broker.
type OpenPosition struct {
	DealReference  string
	DealID         string
	CreatedDateUTC string
	Level          decimal.Decimal
	Size           float64
	Direction      models.Side
	Market         Market
}

// Broker defines the capabilities the executor needs from a brokerage.
type Broker interface {
	// Login opens a session and returns its tokens plus the account balance.
	Login(ctx context.Context) (*Session, error)
	// Logout closes the session. Best-effort.
	Logout(ctx context.Context, s *Session) error
	// SearchMarkets returns the instruments matching a search term.
	SearchMarkets(ctx context.Context, s *Session, term string) ([]Market, error)
	// CreatePosition submits a deal and returns its reference.
	CreatePosition(ctx context.Context, s *Session, req PositionRequest) (*Deal, error)
	// GetPositions returns all open positions on the account.
	GetPositions(ctx context.Context, s *Session) ([]OpenPosition, error)
}

// Ensure the concrete implementations satisfy Broker at compile time.
var (
	_ Broker = (*IGClient)(nil)
	_ Broker = (*CircuitBreakerBroker)(nil)
)
