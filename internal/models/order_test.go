package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusFilled))
	assert.True(t, CanTransition(StatusPending, StatusPartFilled))
	assert.True(t, CanTransition(StatusPending, StatusFailed))

	// Terminal states have no exits.
	for _, from := range []OrderStatus{StatusFilled, StatusPartFilled, StatusFailed} {
		for _, to := range []OrderStatus{StatusPending, StatusFilled, StatusPartFilled, StatusFailed} {
			assert.False(t, CanTransition(from, to), "%s -> %s must be illegal", from, to)
		}
	}
	assert.False(t, CanTransition(StatusPending, StatusPending))
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.True(t, StatusFilled.IsTerminal())
	assert.True(t, StatusPartFilled.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
}

func TestSideOpposite(t *testing.T) {
	assert.Equal(t, SideSell, SideBuy.Opposite())
	assert.Equal(t, SideBuy, SideSell.Opposite())
}

func filledOrder(side Side, size int, maturity string, status OrderStatus) Order {
	return Order{
		OrderID:  "o-" + string(side),
		Symbol:   "VX",
		Broker:   "IG",
		Maturity: maturity,
		Status:   status,
		Details:  OrderDetails{Side: side, Size: size, OrdType: OrdTypeMarket},
		Trade: &Trade{
			FillTime:   "20171101",
			Side:       side,
			FilledSize: size,
			Price:      decimal.NewFromFloat(12.5),
		},
	}
}

func TestOrderValidate(t *testing.T) {
	ok := filledOrder(SideBuy, 2, "201711", StatusFilled)
	assert.NoError(t, ok.Validate())

	missingTrade := Order{OrderID: "x", Status: StatusFilled}
	assert.Error(t, missingTrade.Validate())

	pendingWithTrade := filledOrder(SideBuy, 2, "201711", StatusPending)
	assert.Error(t, pendingWithTrade.Validate())

	pending := Order{OrderID: "x", Status: StatusPending, Details: OrderDetails{Side: SideBuy, Size: 1, OrdType: OrdTypeMarket}}
	assert.NoError(t, pending.Validate())

	unknown := Order{OrderID: "x", Status: "LIMBO"}
	assert.Error(t, unknown.Validate())
}

func TestSignedSize(t *testing.T) {
	buy := filledOrder(SideBuy, 3, "201711", StatusFilled)
	sell := filledOrder(SideSell, 2, "201711", StatusFilled)
	assert.Equal(t, 3, buy.SignedSize())
	assert.Equal(t, -2, sell.SignedSize())

	pending := Order{Status: StatusPending}
	assert.Equal(t, 0, pending.SignedSize())
}

func TestNetPosition(t *testing.T) {
	orders := []Order{
		filledOrder(SideBuy, 5, "201711", StatusFilled),
		filledOrder(SideSell, 2, "201711", StatusPartFilled),
		filledOrder(SideBuy, 7, "201712", StatusFilled),        // other maturity
		{Symbol: "VX", Maturity: "201711", Status: StatusPending, Details: OrderDetails{Side: SideBuy, Size: 10}},
		{Symbol: "VX", Maturity: "201711", Status: StatusFailed, Details: OrderDetails{Side: SideBuy, Size: 10}},
	}
	assert.Equal(t, 3, NetPosition(orders, "201711"))
	assert.Equal(t, 7, NetPosition(orders, "201712"))
	assert.Equal(t, 0, NetPosition(orders, "201801"))
}
