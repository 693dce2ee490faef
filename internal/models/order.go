// Package models provides the shared data model for quotes, securities and orders.
package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or fill.
type Side string

const (
	// SideBuy is a long order.
	SideBuy Side = "BUY"
	// SideSell is a short order.
	SideSell Side = "SELL"
)

// Opposite returns the flattening side for a signed position.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus represents the lifecycle status of an order.
type OrderStatus string

const (
	// StatusPending means the order is persisted but not yet submitted.
	StatusPending OrderStatus = "PENDING"
	// StatusFilled means the order was fully executed at the broker.
	StatusFilled OrderStatus = "FILLED"
	// StatusPartFilled means the broker reported a fill smaller than requested.
	StatusPartFilled OrderStatus = "PART_FILLED"
	// StatusFailed means submission or fill lookup failed permanently.
	StatusFailed OrderStatus = "FAILED"
)

// OrdType represents the execution type of an order.
type OrdType string

// OrdTypeMarket is the only execution type the strategy emits.
const OrdTypeMarket OrdType = "MARKET"

// Reason explains why the strategy emitted an order.
type Reason string

const (
	// ReasonOpen marks an entry order.
	ReasonOpen Reason = "OPEN"
	// ReasonClose marks a flattening order.
	ReasonClose Reason = "CLOSE"
)

// StatusTransition defines a valid order status transition.
type StatusTransition struct {
	From OrderStatus
	To   OrderStatus
}

// ValidStatusTransitions is the complete set of legal transitions.
// Orders leave PENDING exactly once; terminal states have no exits.
var ValidStatusTransitions = []StatusTransition{
	{StatusPending, StatusFilled},
	{StatusPending, StatusPartFilled},
	{StatusPending, StatusFailed},
}

// CanTransition reports whether from → to is a legal status transition.
func CanTransition(from, to OrderStatus) bool {
	for _, t := range ValidStatusTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status has no outgoing transitions.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusFilled || s == StatusPartFilled || s == StatusFailed
}

// Quote is an end-of-day close for a symbol. Immutable once written.
type Quote struct {
	Symbol string          `json:"symbol"`
	Date   string          `json:"date"` // YYYYMMDD
	Close  decimal.Decimal `json:"close"`
}

// SecurityDescription carries the broker-facing naming of a security.
type SecurityDescription struct {
	Name        string `json:"name"`
	MarketGroup string `json:"market_group"`
}

// RiskLimits are the per-security limits consulted by the risk gate.
type RiskLimits struct {
	RiskFactor  float64 `json:"risk_factor"` // fraction of balance, (0,1]
	MaxPosition int     `json:"max_position"`
}

// Security is a row of the security master. Read-only to the workers.
type Security struct {
	Symbol         string              `json:"symbol"`
	Broker         string              `json:"broker"`
	TradingEnabled bool                `json:"trading_enabled"`
	Description    SecurityDescription `json:"description"`
	Risk           RiskLimits          `json:"risk"`
}

// OrderDetails describes what the strategy asked for.
type OrderDetails struct {
	Side         Side    `json:"side"`
	Size         int     `json:"size"`
	OrdType      OrdType `json:"ord_type"`
	StopDistance int     `json:"stop_distance,omitempty"` // 0 means no stop
}

// BrokerRef identifies the broker-side artifact backing a fill.
type BrokerRef struct {
	Name    string `json:"name"`
	RefType string `json:"ref_type"`
	Ref     string `json:"ref"`
}

// Trade records the fill outcome of a settled order. It is present iff the
// order reached FILLED or PART_FILLED.
type Trade struct {
	FillTime   string          `json:"fill_time"`
	Side       Side            `json:"side"`
	FilledSize int             `json:"filled_size"`
	Price      decimal.Decimal `json:"price"`
	Broker     BrokerRef       `json:"broker"`
}

// StrategyTag names the strategy that emitted an order and why.
type StrategyTag struct {
	Name   string `json:"name"`
	Reason Reason `json:"reason"`
}

// Order is the unit of work flowing from the strategy to the executor.
// Keyed by (OrderId, TransactionTime); mutated at most once, by settlement.
type Order struct {
	OrderID         string       `json:"order_id"`
	TransactionTime string       `json:"transaction_time"` // epoch seconds as string
	Symbol          string       `json:"symbol"`
	Broker          string       `json:"broker"`
	Maturity        string       `json:"maturity"` // YYYYMM
	ProductType     string       `json:"product_type"`
	Status          OrderStatus  `json:"status"`
	Details         OrderDetails `json:"order"`
	Trade           *Trade       `json:"trade,omitempty"`
	Strategy        StrategyTag  `json:"strategy"`
}

// Validate checks the trade/status consistency invariant.
func (o *Order) Validate() error {
	switch o.Status {
	case StatusFilled, StatusPartFilled:
		if o.Trade == nil {
			return fmt.Errorf("order %s: status %s requires a trade", o.OrderID, o.Status)
		}
		if o.Trade.FillTime == "" || o.Trade.Side == "" || o.Trade.FilledSize == 0 {
			return fmt.Errorf("order %s: incomplete trade for status %s", o.OrderID, o.Status)
		}
	case StatusPending, StatusFailed:
		if o.Trade != nil {
			return fmt.Errorf("order %s: status %s must not carry a trade", o.OrderID, o.Status)
		}
	default:
		return fmt.Errorf("order %s: unknown status %q", o.OrderID, o.Status)
	}
	return nil
}

// SignedSize returns the position contribution of the order's fill:
// BUY positive, SELL negative. Zero for orders without a fill.
func (o *Order) SignedSize() int {
	if o.Trade == nil {
		return 0
	}
	if o.Trade.Side == SideSell {
		return -o.Trade.FilledSize
	}
	return o.Trade.FilledSize
}

// NetPosition aggregates the signed fills of all FILLED and PART_FILLED
// orders matching the given maturity. PENDING and FAILED orders contribute
// nothing.
func NetPosition(orders []Order, maturity string) int {
	net := 0
	for i := range orders {
		o := &orders[i]
		if o.Maturity != maturity {
			continue
		}
		if o.Status != StatusFilled && o.Status != StatusPartFilled {
			continue
		}
		net += o.SignedSize()
	}
	return net
}
