package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/eddiefleurent/nifty_condor/internal/models"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) GetLastPrice(ctx context.Context, exchange, symbol, token string) (float64, error) {
	args := m.Called(ctx, exchange, symbol, token)
	return args.Get(0).(float64), args.Error(1)
}

func testLegs() models.Legs {
	legs := models.Legs{}
	for i, role := range models.AllLegRoles {
		legs[role] = models.Leg{
			Role:     role,
			Exchange: "NFO",
			Symbol:   fmt.Sprintf("SYM%d", i),
			Token:    fmt.Sprintf("%d", 100+i),
		}
	}
	return legs
}

func TestSampler_AllPriced(t *testing.T) {
	p := new(mockProvider)
	p.On("GetLastPrice", mock.Anything, "NFO", "SYM0", "100").Return(50.0, nil)
	p.On("GetLastPrice", mock.Anything, "NFO", "SYM1", "101").Return(40.0, nil)
	p.On("GetLastPrice", mock.Anything, "NFO", "SYM2", "102").Return(20.0, nil)
	p.On("GetLastPrice", mock.Anything, "NFO", "SYM3", "103").Return(15.0, nil)

	s := NewSampler(p).Sample(context.Background(), testLegs())

	assert.True(t, s.OK())
	assert.Equal(t, models.Prices{
		models.SellCall: 50, models.SellPut: 40, models.BuyCall: 20, models.BuyPut: 15,
	}, s.Prices)
	assert.Equal(t, 55.0, s.Prices.NetCredit())
	p.AssertExpectations(t)
}

func TestSampler_FailuresReduceToZero(t *testing.T) {
	legs := testLegs()
	missing := legs[models.BuyCall]
	missing.Token = ""
	legs[models.BuyCall] = missing

	p := new(mockProvider)
	p.On("GetLastPrice", mock.Anything, "NFO", "SYM0", "100").Return(0.0, fmt.Errorf("wrapped: %w", models.ErrNoPrice))
	p.On("GetLastPrice", mock.Anything, "NFO", "SYM1", "101").Return(0.0, errors.New("connection reset"))
	p.On("GetLastPrice", mock.Anything, "NFO", "SYM3", "103").Return(math.NaN(), nil)

	s := NewSampler(p).WithConcurrency(1).Sample(context.Background(), legs)

	assert.Len(t, s.Prices, 4)
	for _, role := range models.AllLegRoles {
		assert.Equal(t, 0.0, s.Prices[role], "role %s", role)
	}
	assert.Equal(t, map[models.LegRole]FailureKind{
		models.SellCall: FailureNoData,
		models.SellPut:  FailureProviderError,
		models.BuyCall:  FailureNoToken,
		models.BuyPut:   FailureNoData,
	}, s.Failures)
	p.AssertNotCalled(t, "GetLastPrice", mock.Anything, "NFO", "SYM2", "")
}

func TestSampler_MissingRole(t *testing.T) {
	p := new(mockProvider)
	s := NewSampler(p).Sample(context.Background(), models.Legs{})
	assert.Len(t, s.Prices, 4)
	assert.Len(t, s.Failures, 4)
	p.AssertNotCalled(t, "GetLastPrice", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSampler_UnderlyingPrice(t *testing.T) {
	p := new(mockProvider)
	p.On("GetLastPrice", mock.Anything, "NSE", "Nifty 50", "99926000").Return(25012.35, nil).Once()
	p.On("GetLastPrice", mock.Anything, "NSE", "Nifty 50", "99926000").Return(0.0, errors.New("timeout")).Once()

	s := NewSampler(p)
	price, kind := s.UnderlyingPrice(context.Background(), "NSE", "Nifty 50", "99926000")
	assert.Equal(t, 25012.35, price)
	assert.Empty(t, kind)

	price, kind = s.UnderlyingPrice(context.Background(), "NSE", "Nifty 50", "99926000")
	assert.Equal(t, 0.0, price)
	assert.Equal(t, FailureProviderError, kind)

	_, kind = s.UnderlyingPrice(context.Background(), "NSE", "Nifty 50", "")
	assert.Equal(t, FailureNoToken, kind)
}

// recordingProvider tracks call order and the peak number of calls in flight.
type recordingProvider struct {
	mu       sync.Mutex
	inFlight int
	peak     int
	symbols  []string
}

func (p *recordingProvider) GetLastPrice(_ context.Context, _, symbol, _ string) (float64, error) {
	p.mu.Lock()
	p.inFlight++
	if p.inFlight > p.peak {
		p.peak = p.inFlight
	}
	p.symbols = append(p.symbols, symbol)
	p.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	p.mu.Lock()
	p.inFlight--
	p.mu.Unlock()
	return 10, nil
}

func TestSampler_SequentialByDefault(t *testing.T) {
	p := &recordingProvider{}
	s := NewSampler(p).Sample(context.Background(), testLegs())

	assert.True(t, s.OK())
	assert.Equal(t, 1, p.peak, "legs must be priced one at a time")
	assert.Equal(t, []string{"SYM0", "SYM1", "SYM2", "SYM3"}, p.symbols)
}

func TestSampler_WithConcurrencyPricesInParallel(t *testing.T) {
	p := &recordingProvider{}
	s := NewSampler(p).WithConcurrency(4).Sample(context.Background(), testLegs())

	assert.True(t, s.OK())
	assert.Len(t, p.symbols, 4)
	assert.LessOrEqual(t, p.peak, 4)
}
