// Package strategy builds the iron condor legs and samples their prices.
package strategy

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/nifty_condor/internal/catalog"
	"github.com/eddiefleurent/nifty_condor/internal/models"
	"github.com/eddiefleurent/nifty_condor/internal/util"
)

// ErrNoStrikes means the catalog lists no strikes for the resolved expiry.
var ErrNoStrikes = errors.New("no strikes found for expiry")

// CondorConfig holds the leg-selection parameters.
type CondorConfig struct {
	Underlying          string  // e.g. NIFTY
	DerivativesSegment  string  // e.g. NFO
	StrikeDistancePct   float64 // 0.5 for 0.5%
	HedgeDistancePoints int     // 100
	RoundingUnit        float64 // 50
}

// Targets are the rounded strikes aimed at before snapping to listed strikes.
type Targets struct {
	SellCall int `json:"sell_call"`
	SellPut  int `json:"sell_put"`
	BuyCall  int `json:"buy_call"`
	BuyPut   int `json:"buy_put"`
}

func (t Targets) forRole(role models.LegRole) int {
	switch role {
	case models.SellCall:
		return t.SellCall
	case models.SellPut:
		return t.SellPut
	case models.BuyCall:
		return t.BuyCall
	default:
		return t.BuyPut
	}
}

// CondorPlan is the outcome of leg selection.
type CondorPlan struct {
	UnderlyingPrice float64
	Targets         Targets
	Expiry          catalog.Expiry
	Legs            models.Legs
}

// MissingTokens lists the roles whose symbol did not resolve.
func (p *CondorPlan) MissingTokens() []models.LegRole {
	var out []models.LegRole
	for _, role := range models.AllLegRoles {
		if !p.Legs[role].HasToken() {
			out = append(out, role)
		}
	}
	return out
}

// CondorBuilder resolves the four legs against a catalog.
type CondorBuilder struct {
	config CondorConfig
	logger logrus.FieldLogger
}

// NewCondorBuilder creates a builder. A nil logger discards output.
func NewCondorBuilder(config CondorConfig, logger logrus.FieldLogger) *CondorBuilder {
	if config.DerivativesSegment == "" {
		config.DerivativesSegment = models.SegmentNFO
	}
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &CondorBuilder{config: config, logger: logger}
}

// ComputeTargets derives the four target strikes from the underlying price.
func (b *CondorBuilder) ComputeTargets(price float64) Targets {
	// ties round away from the underlying so the short strikes stay symmetric
	offset := price * b.config.StrikeDistancePct / 100
	call := util.RoundStrikeAwayFrom(price+offset, price, b.config.RoundingUnit)
	put := util.RoundStrikeAwayFrom(price-offset, price, b.config.RoundingUnit)
	return Targets{
		SellCall: call,
		SellPut:  put,
		BuyCall:  call + b.config.HedgeDistancePoints,
		BuyPut:   put - b.config.HedgeDistancePoints,
	}
}

// BuildLegs selects the legs for the next expiry on or after today.
// A leg whose symbol is not in the catalog is returned without a token.
func (b *CondorBuilder) BuildLegs(cat *catalog.Catalog, price float64, today time.Time) (*CondorPlan, error) {
	targets := b.ComputeTargets(price)
	b.logger.WithFields(logrus.Fields{
		"underlying_price": price,
		"sell_call":        targets.SellCall,
		"sell_put":         targets.SellPut,
		"buy_call":         targets.BuyCall,
		"buy_put":          targets.BuyPut,
	}).Debug("Computed target strikes")

	expiry, err := cat.ResolveNextExpiry(b.config.Underlying, b.config.DerivativesSegment, today)
	if err != nil {
		return nil, fmt.Errorf("resolving expiry: %w", err)
	}

	strikes := cat.Strikes(b.config.Underlying, b.config.DerivativesSegment, expiry.Raw)
	if len(strikes) == 0 {
		return nil, fmt.Errorf("%s %s: %w", b.config.Underlying, expiry.Long(), ErrNoStrikes)
	}
	b.logger.WithFields(logrus.Fields{
		"expiry":  expiry.Long(),
		"strikes": len(strikes),
	}).Info("Resolved expiry")

	legs := make(models.Legs, len(models.AllLegRoles))
	for _, role := range models.AllLegRoles {
		target := targets.forRole(role)
		minor, _ := NearestStrike(strikes, float64(target)*models.StrikeScale)
		leg := models.Leg{
			Role:        role,
			Exchange:    b.config.DerivativesSegment,
			Strike:      minor / int(models.StrikeScale),
			StrikeMinor: float64(minor),
			OptionType:  role.OptionType(),
		}
		leg.Symbol = FormatSymbol(b.config.Underlying, expiry, leg.Strike, leg.OptionType)

		// Synthesized symbols all contain the underlying's name, so the
		// permissive lookup would resolve every leg to the first contract
		// listed. Only an exact symbol match is trusted here.
		rec, ok := cat.LookupExact(catalog.Query{Exchange: b.config.DerivativesSegment, Symbol: leg.Symbol})
		if ok {
			leg.Token = rec.Token
		} else {
			b.logger.WithFields(logrus.Fields{"role": role, "symbol": leg.Symbol}).
				Warn("Symbol not in catalog, leg will be priced at zero")
		}
		legs[role] = leg
	}

	return &CondorPlan{
		UnderlyingPrice: price,
		Targets:         targets,
		Expiry:          expiry,
		Legs:            legs,
	}, nil
}

// NearestStrike returns the strike with the smallest absolute distance to
// target. strikes must be sorted ascending so ties go to the lower strike.
func NearestStrike(strikes []int, target float64) (int, bool) {
	if len(strikes) == 0 {
		return 0, false
	}
	best := strikes[0]
	bestDiff := math.Abs(float64(best) - target)
	for _, s := range strikes[1:] {
		if d := math.Abs(float64(s) - target); d < bestDiff {
			best, bestDiff = s, d
		}
	}
	return best, true
}

// FormatSymbol builds a trading symbol such as NIFTY30JAN2525150CE.
func FormatSymbol(underlying string, expiry catalog.Expiry, strike int, typ models.OptionType) string {
	return fmt.Sprintf("%s%s%d%s", strings.ToUpper(underlying), expiry.Short(), strike, typ)
}
