// Package broker provides the market-data broker used to price the condor:
// an Angel One SmartAPI client and a circuit breaker around any Broker.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/eddiefleurent/nifty_condor/internal/models"
)

var (
	// ErrNoSession is returned when a price is requested without a login.
	ErrNoSession = errors.New("broker session not established")
	// ErrNoData is returned when the broker answers without a usable price.
	ErrNoData = models.ErrNoPrice
	// ErrLoginFailed is returned when the broker rejects the credentials.
	ErrLoginFailed = errors.New("broker login failed")
)

// APIError represents an API error with status code and response body
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// StatusCode returns the HTTP status.
func (e *APIError) StatusCode() int {
	return e.Status
}

// Session is an authenticated broker session.
type Session struct {
	ClientCode   string
	JWTToken     string
	RefreshToken string
	FeedToken    string
	CreatedAt    time.Time
}

// Valid reports whether the session carries an access token.
func (s *Session) Valid() bool {
	return s != nil && s.JWTToken != ""
}

// Broker defines the interface for interacting with a brokerage
type Broker interface {
	Login(ctx context.Context) (*Session, error)
	GetLastPrice(ctx context.Context, sess *Session, exchange, symbol, token string) (float64, error)
}

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// Ensure CircuitBreakerBroker implements Broker at compile time.
var _ Broker = (*CircuitBreakerBroker)(nil)

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
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

// CircuitBreakerSettings configures circuit breaker behavior
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// DefaultCircuitBreakerSettings trips after 60% failures over at least five
// calls and stays open for 30 seconds.
func DefaultCircuitBreakerSettings() CircuitBreakerSettings {
	return CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	}
}

// NewCircuitBreakerBroker creates a CircuitBreakerBroker with custom settings.
// A nil logger falls back to the logrus standard logger.
func NewCircuitBreakerBroker(broker Broker, settings CircuitBreakerSettings, logger logrus.FieldLogger) *CircuitBreakerBroker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
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
		// A missing price is an answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNoData) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// Login wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) Login(ctx context.Context) (*Session, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*Session, error) {
		return b.Login(ctx)
	})
}

// GetLastPrice wraps the underlying broker call with circuit breaker
func (c *CircuitBreakerBroker) GetLastPrice(ctx context.Context, sess *Session, exchange, symbol, token string) (float64, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (float64, error) {
		return b.GetLastPrice(ctx, sess, exchange, symbol, token)
	})
}

// State returns the breaker state name.
func (c *CircuitBreakerBroker) State() string {
	return c.breaker.State().String()
}

// PriceProvider binds a broker to one session so callers only need the
// instrument to get a price.
type PriceProvider struct {
	broker  Broker
	session *Session
}

// NewPriceProvider returns a provider for sess.
func NewPriceProvider(b Broker, sess *Session) *PriceProvider {
	return &PriceProvider{broker: b, session: sess}
}

// GetLastPrice returns the last traded price of the instrument.
func (p *PriceProvider) GetLastPrice(ctx context.Context, exchange, symbol, token string) (float64, error) {
	if !p.session.Valid() {
		return 0, ErrNoSession
	}
	return p.broker.GetLastPrice(ctx, p.session, exchange, symbol, token)
}
