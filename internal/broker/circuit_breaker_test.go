package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedBroker struct {
	loginErr  error
	session   *Session
	positions []OpenPosition
	calls     int
}

var _ Broker = (*scriptedBroker)(nil)

func (s *scriptedBroker) Login(context.Context) (*Session, error) {
	s.calls++
	return s.session, s.loginErr
}

func (s *scriptedBroker) Logout(context.Context, *Session) error { return nil }

func (s *scriptedBroker) SearchMarkets(context.Context, *Session, string) ([]Market, error) {
	return nil, nil
}

func (s *scriptedBroker) CreatePosition(context.Context, *Session, PositionRequest) (*Deal, error) {
	return &Deal{DealReference: "REF"}, nil
}

func (s *scriptedBroker) GetPositions(context.Context, *Session) ([]OpenPosition, error) {
	s.calls++
	return s.positions, nil
}

func TestCircuitBreakerPassesThrough(t *testing.T) {
	inner := &scriptedBroker{session: &Session{AccountID: "ABC123"}}
	cb := NewCircuitBreakerBroker(inner)

	s, err := cb.Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ABC123", s.AccountID)

	deal, err := cb.CreatePosition(context.Background(), s, PositionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "REF", deal.DealReference)

	require.NoError(t, cb.Logout(context.Background(), s))
}

func TestCircuitBreakerTripsAfterFailures(t *testing.T) {
	inner := &scriptedBroker{loginErr: errors.New("ig down")}
	cb := NewCircuitBreakerBrokerWithSettings(inner, CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  3,
		FailureRatio: 0.6,
	})

	for i := 0; i < 3; i++ {
		_, err := cb.Login(context.Background())
		require.Error(t, err)
	}
	assert.Equal(t, 3, inner.calls)

	// Open breaker short-circuits without reaching the broker.
	_, err := cb.Login(context.Background())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, inner.calls)
}
