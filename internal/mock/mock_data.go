// Package mock provides a simulated broker and a synthetic option chain so a
// paper session can run without credentials.
package mock

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eddiefleurent/nifty_condor/internal/broker"
	"github.com/eddiefleurent/nifty_condor/internal/models"
	"github.com/eddiefleurent/nifty_condor/internal/util"
)

// Defaults for the synthetic NIFTY chain.
const (
	UnderlyingToken  = "99926000"
	UnderlyingSymbol = "Nifty 50"
	StrikeStep       = 50
	LotSize          = 75
)

// secureFloat64 generates a cryptographically secure random float64 between 0 and 1
func secureFloat64() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		// Fallback to a reasonable default if crypto/rand fails
		return 0.5
	}
	return float64(n.Int64()) / (1 << 53)
}

// ChainConfig shapes the synthetic scrip master.
type ChainConfig struct {
	Underlying string  // e.g. NIFTY
	Spot       float64 // centre of the strike range
	Width      int     // points either side of spot
	Weeks      int     // weekly expiries to list
	Expiry     time.Weekday
}

// SyntheticChain builds scrip master rows for the underlying index and its
// weekly options around spot, starting from today.
func SyntheticChain(cfg ChainConfig, today time.Time) []models.InstrumentRecord {
	if cfg.Underlying == "" {
		cfg.Underlying = "NIFTY"
	}
	if cfg.Width <= 0 {
		cfg.Width = 1500
	}
	if cfg.Weeks <= 0 {
		cfg.Weeks = 4
	}
	if cfg.Expiry == time.Sunday {
		cfg.Expiry = time.Thursday
	}

	records := []models.InstrumentRecord{{
		Token:          UnderlyingToken,
		Symbol:         UnderlyingSymbol,
		Name:           cfg.Underlying,
		InstrumentType: "AMXIDX",
		Exchange:       models.SegmentNSE,
		LotSize:        1,
	}}

	d := today.In(models.IST)
	d = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	for d.Weekday() != cfg.Expiry {
		d = d.AddDate(0, 0, 1)
	}

	centre := int(math.Round(cfg.Spot/StrikeStep)) * StrikeStep
	token := 40000
	for w := 0; w < cfg.Weeks; w++ {
		exp := d.AddDate(0, 0, 7*w)
		long := strings.ToUpper(exp.Format("02Jan2006"))
		short := strings.ToUpper(exp.Format("02Jan06"))

		token++
		records = append(records, models.InstrumentRecord{
			Token:          strconv.Itoa(token),
			Symbol:         cfg.Underlying + short + "FUT",
			Name:           cfg.Underlying,
			Expiry:         long,
			Strike:         -1,
			LotSize:        LotSize,
			InstrumentType: "FUTIDX",
			Exchange:       models.SegmentNFO,
		})

		for k := centre - cfg.Width; k <= centre+cfg.Width; k += StrikeStep {
			for _, typ := range []models.OptionType{models.OptionTypeCall, models.OptionTypePut} {
				token++
				records = append(records, models.InstrumentRecord{
					Token:          strconv.Itoa(token),
					Symbol:         fmt.Sprintf("%s%s%d%s", cfg.Underlying, short, k, typ),
					Name:           cfg.Underlying,
					Expiry:         long,
					Strike:         float64(k) * models.StrikeScale,
					LotSize:        LotSize,
					InstrumentType: "OPTIDX",
					Exchange:       models.SegmentNFO,
					TickSize:       5,
				})
			}
		}
	}
	return records
}

// contract is what the simulator needs to price a token.
type contract struct {
	strike float64
	typ    models.OptionType
	expiry time.Time
}

// SimulatedBroker prices the synthetic chain from a random-walk spot. It
// implements broker.Broker.
type SimulatedBroker struct {
	mu         sync.Mutex
	clock      util.Clock
	spot       float64
	vol        float64 // annualized
	lastStep   time.Time
	contracts  map[string]contract
	overrides  map[string]float64
	missing    map[string]bool
	random     func() float64
	underlying string
}

// NewSimulatedBroker prices records starting from spot. vol is annualized
// (0.15 = 15%).
func NewSimulatedBroker(records []models.InstrumentRecord, spot, vol float64, clock util.Clock) *SimulatedBroker {
	if clock == nil {
		clock = util.RealClock{}
	}
	if vol <= 0 {
		vol = 0.15
	}
	b := &SimulatedBroker{
		clock:     clock,
		spot:      spot,
		vol:       vol,
		contracts: make(map[string]contract),
		overrides: make(map[string]float64),
		missing:   make(map[string]bool),
		random:    secureFloat64,
	}
	for _, r := range records {
		switch {
		case r.Token == UnderlyingToken || (r.Exchange == models.SegmentNSE && r.Strike <= 0):
			b.underlying = r.Token
		case r.Strike > 0:
			typ := models.OptionTypeCall
			if strings.HasSuffix(strings.ToUpper(r.Symbol), string(models.OptionTypePut)) {
				typ = models.OptionTypePut
			}
			exp, err := time.ParseInLocation("02Jan2006", r.Expiry, models.IST)
			if err != nil {
				continue
			}
			// NSE index options expire at 15:30 IST
			b.contracts[r.Token] = contract{
				strike: r.Strike / models.StrikeScale,
				typ:    typ,
				expiry: exp.Add(15*time.Hour + 30*time.Minute),
			}
		}
	}
	return b
}

// SetRandom replaces the random source; tests use a constant 0.5 to freeze
// the spot.
func (b *SimulatedBroker) SetRandom(fn func() float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.random = fn
}

// SetPrice pins the last price of a token.
func (b *SimulatedBroker) SetPrice(token string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.overrides[token] = price
}

// SetMissing makes a token answer with no data.
func (b *SimulatedBroker) SetMissing(token string, missing bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.missing[token] = missing
}

// Spot returns the current simulated underlying price.
func (b *SimulatedBroker) Spot() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spot
}

// Login always succeeds.
func (b *SimulatedBroker) Login(_ context.Context) (*broker.Session, error) {
	return &broker.Session{
		ClientCode: "SIMULATED",
		JWTToken:   "simulated",
		CreatedAt:  b.clock.Now(),
	}, nil
}

// GetLastPrice prices the underlying or an option of the synthetic chain.
func (b *SimulatedBroker) GetLastPrice(ctx context.Context, sess *broker.Session, exchange, symbol, token string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !sess.Valid() {
		return 0, broker.ErrNoSession
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.missing[token] {
		return 0, fmt.Errorf("%s:%s: %w", exchange, symbol, broker.ErrNoData)
	}
	if p, ok := b.overrides[token]; ok {
		return p, nil
	}

	b.step()
	if token == b.underlying {
		return util.RoundToTick(b.spot, 0.05), nil
	}
	c, ok := b.contracts[token]
	if !ok {
		return 0, fmt.Errorf("%s:%s: %w", exchange, symbol, broker.ErrNoData)
	}
	return util.RoundToTick(b.optionPrice(c), 0.05), nil
}

// step advances the spot by a random walk scaled to the elapsed time.
func (b *SimulatedBroker) step() {
	now := b.clock.Now()
	if b.lastStep.IsZero() {
		b.lastStep = now
		return
	}
	dt := now.Sub(b.lastStep)
	if dt <= 0 {
		return
	}
	b.lastStep = now
	// trading-year fraction: 252 days of 6.25 hours
	years := dt.Hours() / (252 * 6.25)
	shock := (b.random() - 0.5) * 2 * math.Sqrt(3) // unit variance
	b.spot *= 1 + b.vol*math.Sqrt(years)*shock
}

// optionPrice is intrinsic value plus a bell-shaped time value.
func (b *SimulatedBroker) optionPrice(c contract) float64 {
	remaining := c.expiry.Sub(b.clock.Now())
	years := math.Max(remaining.Hours()/(365*24), 1.0/(365*24))
	sigma := b.spot * b.vol * math.Sqrt(years)

	d := b.spot - c.strike
	intrinsic := math.Max(d, 0)
	if c.typ == models.OptionTypePut {
		intrinsic = math.Max(-d, 0)
	}
	timeValue := 0.4 * sigma * math.Exp(-0.5*(d/sigma)*(d/sigma))
	return math.Max(0.05, intrinsic+timeValue)
}

var _ broker.Broker = (*SimulatedBroker)(nil)
