package broker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockBroker is a testify mock of Broker.
type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) Login(ctx context.Context) (*Session, error) {
	args := m.Called(ctx)
	sess, _ := args.Get(0).(*Session)
	return sess, args.Error(1)
}

func (m *MockBroker) GetLastPrice(ctx context.Context, sess *Session, exchange, symbol, token string) (float64, error) {
	args := m.Called(ctx, sess, exchange, symbol, token)
	return args.Get(0).(float64), args.Error(1)
}

func testSettings() CircuitBreakerSettings {
	return CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Hour,
		MinRequests:  3,
		FailureRatio: 0.6,
	}
}

func TestCircuitBreakerBroker_PassesThrough(t *testing.T) {
	m := new(MockBroker)
	sess := &Session{JWTToken: "jwt"}
	m.On("Login", mock.Anything).Return(sess, nil)
	m.On("GetLastPrice", mock.Anything, sess, "NSE", "Nifty 50", "99926000").Return(25000.0, nil)

	cb := NewCircuitBreakerBroker(m, testSettings(), quietLogger())

	got, err := cb.Login(context.Background())
	require.NoError(t, err)
	assert.Same(t, sess, got)

	price, err := cb.GetLastPrice(context.Background(), sess, "NSE", "Nifty 50", "99926000")
	require.NoError(t, err)
	assert.Equal(t, 25000.0, price)
	m.AssertExpectations(t)
}

func TestCircuitBreakerBroker_OpensAfterFailures(t *testing.T) {
	m := new(MockBroker)
	sess := &Session{JWTToken: "jwt"}
	m.On("GetLastPrice", mock.Anything, sess, "NFO", "X", "1").Return(0.0, errors.New("connection refused"))

	cb := NewCircuitBreakerBroker(m, testSettings(), quietLogger())
	for i := 0; i < 3; i++ {
		_, err := cb.GetLastPrice(context.Background(), sess, "NFO", "X", "1")
		require.Error(t, err)
	}
	assert.Equal(t, "open", cb.State())

	_, err := cb.GetLastPrice(context.Background(), sess, "NFO", "X", "1")
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	m.AssertNumberOfCalls(t, "GetLastPrice", 3)
}

func TestCircuitBreakerBroker_NoDataDoesNotTrip(t *testing.T) {
	m := new(MockBroker)
	sess := &Session{JWTToken: "jwt"}
	m.On("GetLastPrice", mock.Anything, sess, "NFO", "X", "1").Return(0.0, fmt.Errorf("ltp: %w", ErrNoData))

	cb := NewCircuitBreakerBroker(m, testSettings(), quietLogger())
	for i := 0; i < 10; i++ {
		_, err := cb.GetLastPrice(context.Background(), sess, "NFO", "X", "1")
		assert.True(t, errors.Is(err, ErrNoData))
	}
	assert.Equal(t, "closed", cb.State())
}

func TestPriceProvider(t *testing.T) {
	m := new(MockBroker)
	sess := &Session{JWTToken: "jwt"}
	m.On("GetLastPrice", mock.Anything, sess, "NFO", "SYM", "7").Return(12.5, nil)

	p := NewPriceProvider(m, sess)
	price, err := p.GetLastPrice(context.Background(), "NFO", "SYM", "7")
	require.NoError(t, err)
	assert.Equal(t, 12.5, price)

	_, err = NewPriceProvider(m, nil).GetLastPrice(context.Background(), "NFO", "SYM", "7")
	assert.True(t, errors.Is(err, ErrNoSession))
}
