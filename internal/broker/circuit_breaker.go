package broker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality so
// a flapping IG endpoint stops a batch early instead of burning the retry
// budget of every order.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerBroker creates a CircuitBreakerBroker with sensible defaults.
func NewCircuitBreakerBroker(b Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(b, CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with custom settings.
func NewCircuitBreakerBrokerWithSettings(b Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "IGCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerBroker{
		broker:  b,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods.
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	b Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(b) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// Login wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) Login(ctx context.Context) (*Session, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*Session, error) {
		return b.Login(ctx)
	})
}

// Logout wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) Logout(ctx context.Context, s *Session) error {
	_, err := execCircuitBreaker(c.breaker, c.broker, func(b Broker) (struct{}, error) {
		return struct{}{}, b.Logout(ctx, s)
	})
	return err
}

// SearchMarkets wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) SearchMarkets(ctx context.Context, s *Session, term string) ([]Market, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]Market, error) {
		return b.SearchMarkets(ctx, s, term)
	})
}

// CreatePosition wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) CreatePosition(ctx context.Context, s *Session, req PositionRequest) (*Deal, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*Deal, error) {
		return b.CreatePosition(ctx, s, req)
	})
}

// GetPositions wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetPositions(ctx context.Context, s *Session) ([]OpenPosition, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]OpenPosition, error) {
		return b.GetPositions(ctx, s)
	})
}
