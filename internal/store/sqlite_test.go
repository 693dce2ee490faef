package store

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantops/vixroll/internal/models"
)

var testTables = Tables{
	Quotes:     "Quotes.EOD",
	Securities: "Securities",
	Orders:     "Orders",
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), testTables, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestQuoteRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetQuote(ctx, "VIX", "20171114")
	require.NoError(t, err)
	assert.Nil(t, got, "absent quote reads as nil")

	q := &models.Quote{Symbol: "VIX", Date: "20171114", Close: decimal.RequireFromString("11.25")}
	require.NoError(t, s.PutQuote(ctx, q))

	got, err = s.GetQuote(ctx, "VIX", "20171114")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Close.Equal(q.Close))
}

func TestGetSecuritiesFiltersToRequestedKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	secs := []models.Security{
		{Symbol: "VX", Broker: "IG", TradingEnabled: true,
			Description: models.SecurityDescription{Name: "Volatility Index", MarketGroup: "INDICES"},
			Risk:        models.RiskLimits{RiskFactor: 0.1, MaxPosition: 100}},
		{Symbol: "DAX", Broker: "IG", TradingEnabled: true},
		{Symbol: "VX", Broker: "OTHER", TradingEnabled: false},
	}
	for i := range secs {
		require.NoError(t, s.PutSecurity(ctx, &secs[i]))
	}

	got, err := s.GetSecurities(ctx, []SecurityKey{{Symbol: "VX", Broker: "IG"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Volatility Index", got[0].Description.Name)
	assert.Equal(t, 100, got[0].Risk.MaxPosition)
	assert.True(t, got[0].TradingEnabled)
}

func TestCreateOrderGeneratesKeyAndDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := &models.Order{
		Symbol: "VX", Broker: "IG", Maturity: "201711",
		Details:  models.OrderDetails{Side: models.SideSell, Size: 2, OrdType: models.OrdTypeMarket},
		Strategy: models.StrategyTag{Name: "VIX_ROLL", Reason: models.ReasonClose},
	}
	require.NoError(t, s.CreateOrder(ctx, o))
	assert.NotEmpty(t, o.OrderID)
	assert.NotEmpty(t, o.TransactionTime)
	assert.Equal(t, models.StatusPending, o.Status)

	orders, err := s.GetOrdersBySymbolBroker(ctx, "VX", "IG")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, o.OrderID, orders[0].OrderID)
	assert.Nil(t, orders[0].Trade)
	assert.Equal(t, models.ReasonClose, orders[0].Strategy.Reason)
}

func TestCreateOrderBacktestFill(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := &models.Order{
		Symbol: "VX", Broker: "IG", Maturity: "201711",
		Status:  models.StatusFilled,
		Details: models.OrderDetails{Side: models.SideBuy, Size: 1, OrdType: models.OrdTypeMarket},
		Trade: &models.Trade{
			FillTime: "20171101", Side: models.SideBuy, FilledSize: 1,
			Price: decimal.RequireFromString("12.30"), Broker: models.BrokerRef{Name: "BACKTEST"},
		},
	}
	require.NoError(t, s.CreateOrder(ctx, o))

	orders, err := s.GetOrdersBySymbolBroker(ctx, "VX", "IG")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.NotNil(t, orders[0].Trade)
	assert.Equal(t, models.StatusFilled, orders[0].Status)
	assert.True(t, orders[0].Trade.Price.Equal(decimal.RequireFromString("12.30")))
}

func TestSettleOrderConditionalUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := &models.Order{
		Symbol: "VX", Broker: "IG", Maturity: "201711",
		Details: models.OrderDetails{Side: models.SideBuy, Size: 2, OrdType: models.OrdTypeMarket},
	}
	require.NoError(t, s.CreateOrder(ctx, o))

	trade := &models.Trade{
		FillTime: "2017-11-14T21:00:00", Side: models.SideBuy, FilledSize: 2,
		Price: decimal.RequireFromString("11.90"),
		Broker: models.BrokerRef{Name: "IG", RefType: "dealId", Ref: "DIAAAA"},
	}
	applied, err := s.SettleOrder(ctx, o.OrderID, o.TransactionTime, models.StatusFilled, trade)
	require.NoError(t, err)
	assert.True(t, applied)

	// Second settlement collapses to a no-op.
	applied, err = s.SettleOrder(ctx, o.OrderID, o.TransactionTime, models.StatusFailed, nil)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := s.GetOrder(ctx, o.OrderID, o.TransactionTime)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.StatusFilled, got.Status)
	require.NotNil(t, got.Trade)
	assert.Equal(t, "DIAAAA", got.Trade.Broker.Ref)
}

func TestSettleOrderRejectsIllegalStatus(t *testing.T) {
	s := newTestStore(t)
	_, err := s.SettleOrder(context.Background(), "any", "any", models.StatusPending, nil)
	assert.Error(t, err)
}

func TestSettleOrderMissingRow(t *testing.T) {
	s := newTestStore(t)
	applied, err := s.SettleOrder(context.Background(), "ghost", "0", models.StatusFailed, nil)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestLedger(t *testing.T) {
	s := newTestStore(t)
	key := filepath.Join(t.TempDir(), "debug", "roll.csv")
	line := "20171114,VXX7,11.90,11.25,1,0.65\n"

	has, err := s.LedgerHas(key, line)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, s.LedgerAppend(key, line))

	has, err = s.LedgerHas(key, line)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = s.LedgerHas(key, "20171115,VXX7,0,0,0,0\n")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestInvalidTableName(t *testing.T) {
	_, err := NewSQLiteStore(filepath.Join(t.TempDir(), "bad.db"),
		Tables{Quotes: "q; DROP TABLE x", Securities: "s", Orders: "o"}, log.New(io.Discard, "", 0))
	assert.Error(t, err)
}
