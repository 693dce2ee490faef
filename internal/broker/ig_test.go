package broker

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantops/vixroll/internal/models"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func testClient(url string) *IGClient {
	return NewIGClient(url, "test-key", "user", "secret", quietLogger()).WithRateLimit(1000)
}

func testSession() *Session {
	return &Session{CST: "cst-token", SecurityToken: "sec-token", AccountID: "ABC123"}
}

func TestLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/session", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get(headerAPIKey))
		assert.Equal(t, "2", r.Header.Get(headerVersion))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "user", body["identifier"])
		assert.Equal(t, "secret", body["password"])

		w.Header().Set(headerCST, "cst-token")
		w.Header().Set(headerSecurityToken, "sec-token")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"currentAccountId": "ABC123",
			"accountInfo":      map[string]any{"balance": 10000.50},
			"currencyIsoCode":  "GBP",
		})
	}))
	defer srv.Close()

	s, err := testClient(srv.URL).Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cst-token", s.CST)
	assert.Equal(t, "sec-token", s.SecurityToken)
	assert.Equal(t, "ABC123", s.AccountID)
	assert.True(t, s.Balance.Amount.Equal(decimal.NewFromFloat(10000.50)))
	assert.Equal(t, "GBP", s.Balance.Ccy)
}

func TestLoginRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"errorCode": "error.security.invalid-details"})
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Login(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error.security.invalid-details")
}

func TestLoginMissingTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"currentAccountId": "ABC123"})
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Login(context.Background())
	assert.Error(t, err)
}

func TestLogout(t *testing.T) {
	var gotMethod, gotCST string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotCST = r.Header.Get(headerCST)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, testClient(srv.URL).Logout(context.Background(), testSession()))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "cst-token", gotCST)
}

func TestSearchMarketsKeepsUnknownFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/markets", r.URL.Path)
		assert.Equal(t, "Volatility Index", r.URL.Query().Get("searchTerm"))
		assert.Equal(t, "sec-token", r.Header.Get(headerSecurityToken))
		_, _ = w.Write([]byte(`{"markets": [
			{"epic": "IN.D.VIX.MONTH1.IP", "instrumentName": "Volatility Index",
			 "instrumentType": "INDICES", "expiry": "NOV-17",
			 "bid": 11.90, "offer": 12.00, "marketStatus": "TRADEABLE"}
		]}`))
	}))
	defer srv.Close()

	markets, err := testClient(srv.URL).SearchMarkets(context.Background(), testSession(), "Volatility Index")
	require.NoError(t, err)
	require.Len(t, markets, 1)

	m := markets[0]
	assert.Equal(t, "IN.D.VIX.MONTH1.IP", m.Epic)
	assert.Equal(t, "Volatility Index", m.InstrumentName)
	assert.Equal(t, "INDICES", m.InstrumentType)
	assert.Equal(t, "NOV-17", m.Expiry)
	assert.Equal(t, "TRADEABLE", m.Extra["marketStatus"])
	assert.Equal(t, 11.90, m.Extra["bid"])
}

func TestCreatePosition(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/positions/otc", r.URL.Path)
		assert.Equal(t, "2", r.Header.Get(headerVersion))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{"dealReference": "REF123"})
	}))
	defer srv.Close()

	deal, err := testClient(srv.URL).CreatePosition(context.Background(), testSession(), PositionRequest{
		Epic:         "IN.D.VIX.MONTH1.IP",
		Direction:    models.SideSell,
		Expiry:       "NOV-17",
		OrderType:    models.OrdTypeMarket,
		Size:         2,
		Currency:     "USD",
		StopDistance: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, "REF123", deal.DealReference)
	assert.Empty(t, deal.ErrorCode)

	assert.Equal(t, "SELL", got["direction"])
	assert.Equal(t, float64(2), got["size"])
	assert.Equal(t, "NOV-17", got["expiry"])
	assert.Equal(t, TimeInForceFOK, got["timeInForce"])
	assert.Equal(t, true, got["forceOpen"])
	assert.Equal(t, "5", got["stopDistance"])
}

func TestCreatePositionNoStopOmitsField(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{"dealReference": "REF123"})
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).CreatePosition(context.Background(), testSession(), PositionRequest{
		Epic: "E", Direction: models.SideBuy, OrderType: models.OrdTypeMarket, Size: 1,
	})
	require.NoError(t, err)
	_, present := got["stopDistance"]
	assert.False(t, present)
}

func TestCreatePositionRejectedDeal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"errorCode": "error.confirms.deal-not-found"})
	}))
	defer srv.Close()

	deal, err := testClient(srv.URL).CreatePosition(context.Background(), testSession(), PositionRequest{
		Epic: "E", Direction: models.SideBuy, OrderType: models.OrdTypeMarket, Size: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "error.confirms.deal-not-found", deal.ErrorCode)
}

func TestGetPositions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/positions", r.URL.Path)
		_, _ = w.Write([]byte(`{"positions": [
			{"position": {"dealId": "DIAAAA", "dealReference": "REF123",
			 "createdDateUTC": "2017-11-14T21:00:00", "size": 2, "direction": "SELL", "level": 11.90},
			 "market": {"epic": "IN.D.VIX.MONTH1.IP", "instrumentName": "Volatility Index",
			  "instrumentType": "INDICES", "expiry": "NOV-17"}}
		]}`))
	}))
	defer srv.Close()

	positions, err := testClient(srv.URL).GetPositions(context.Background(), testSession())
	require.NoError(t, err)
	require.Len(t, positions, 1)

	p := positions[0]
	assert.Equal(t, "DIAAAA", p.DealID)
	assert.Equal(t, "REF123", p.DealReference)
	assert.Equal(t, "2017-11-14T21:00:00", p.CreatedDateUTC)
	assert.Equal(t, 2.0, p.Size)
	assert.Equal(t, models.SideSell, p.Direction)
	assert.True(t, p.Level.Equal(decimal.NewFromFloat(11.90)))
	assert.Equal(t, "NOV-17", p.Market.Expiry)
}

func TestUnauthorizedMapsToAuthExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).GetPositions(context.Background(), testSession())
	assert.ErrorIs(t, err, ErrAuthExpired)

	// A 401 on login itself is an API error, not an expired session.
	_, err = testClient(srv.URL).Login(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAuthExpired)
}

func TestServerErrorIsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).SearchMarkets(context.Background(), testSession(), "VIX")
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, "boom", apiErr.Body)
}
