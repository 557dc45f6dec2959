package strategy

import (
	"context"
	"errors"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/nifty_condor/internal/models"
)

// PriceProvider returns the last traded price of an instrument.
type PriceProvider interface {
	GetLastPrice(ctx context.Context, exchange, symbol, token string) (float64, error)
}

// FailureKind classifies why a leg was priced at zero.
type FailureKind string

const (
	FailureNoToken       FailureKind = "no_token"
	FailureNoData        FailureKind = "no_data"
	FailureProviderError FailureKind = "provider_error"
)

// Sample is one price snapshot of the four legs.
type Sample struct {
	Prices   models.Prices
	Failures map[models.LegRole]FailureKind
}

// OK reports whether every leg was priced.
func (s Sample) OK() bool {
	return len(s.Failures) == 0
}

// Sampler queries a provider for each leg. Failures never propagate: an
// unpriced leg reads as zero and the reason is recorded.
type Sampler struct {
	provider    PriceProvider
	concurrency int
}

// NewSampler creates a sampler that prices one leg at a time, in role order.
func NewSampler(provider PriceProvider) *Sampler {
	return &Sampler{provider: provider, concurrency: 1}
}

// WithConcurrency opts in to pricing up to n legs in parallel. n < 1 means one.
func (s *Sampler) WithConcurrency(n int) *Sampler {
	if n < 1 {
		n = 1
	}
	s.concurrency = n
	return s
}

// Sample prices every role in legs. The result always has an entry for all
// four roles.
func (s *Sampler) Sample(ctx context.Context, legs models.Legs) Sample {
	out := Sample{
		Prices:   make(models.Prices, len(models.AllLegRoles)),
		Failures: make(map[models.LegRole]FailureKind),
	}
	var mu sync.Mutex
	record := func(role models.LegRole, price float64, kind FailureKind) {
		mu.Lock()
		defer mu.Unlock()
		out.Prices[role] = price
		if kind != "" {
			out.Failures[role] = kind
		}
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, role := range models.AllLegRoles {
		leg, ok := legs[role]
		if !ok || !leg.HasToken() {
			record(role, 0, FailureNoToken)
			continue
		}
		if s.concurrency == 1 {
			price, kind := s.price(ctx, leg.Exchange, leg.Symbol, leg.Token)
			record(role, price, kind)
			continue
		}
		g.Go(func() error {
			price, kind := s.price(ctx, leg.Exchange, leg.Symbol, leg.Token)
			record(role, price, kind)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// UnderlyingPrice prices the index, reducing any failure to zero.
func (s *Sampler) UnderlyingPrice(ctx context.Context, exchange, symbol, token string) (float64, FailureKind) {
	if token == "" {
		return 0, FailureNoToken
	}
	return s.price(ctx, exchange, symbol, token)
}

func (s *Sampler) price(ctx context.Context, exchange, symbol, token string) (float64, FailureKind) {
	price, err := s.provider.GetLastPrice(ctx, exchange, symbol, token)
	switch {
	case errors.Is(err, models.ErrNoPrice):
		return 0, FailureNoData
	case err != nil:
		return 0, FailureProviderError
	case math.IsNaN(price) || math.IsInf(price, 0) || price < 0:
		return 0, FailureNoData
	}
	return price, ""
}
