// Package catalog indexes the broker's scrip master for instrument lookups,
// expiry resolution and strike listing.
package catalog

import (
	"math"
	"sort"
	"strings"

	"github.com/eddiefleurent/nifty_condor/internal/models"
)

// strikeTolerance is the tolerance for strike filters, in minor units.
const strikeTolerance = 1e-6

// Query describes an instrument lookup. Empty fields and a nil Strike are not
// filtered on.
type Query struct {
	Exchange       string
	Symbol         string
	InstrumentType string
	Expiry         string
	Strike         *float64 // minor units
}

// WithStrike returns a copy of q filtered on the given strike in minor units.
func (q Query) WithStrike(minor float64) Query {
	q.Strike = &minor
	return q
}

// Catalog is a read-only index over instrument records.
type Catalog struct {
	records []models.InstrumentRecord
}

// New builds a catalog over a copy of records.
func New(records []models.InstrumentRecord) *Catalog {
	cp := make([]models.InstrumentRecord, len(records))
	copy(cp, records)
	return &Catalog{records: cp}
}

// Len returns the number of records.
func (c *Catalog) Len() int {
	return len(c.records)
}

// LookupFuzzy returns the first record that matches q under the permissive
// symbol policy: the query symbol may equal the record's symbol or name
// (case-insensitive), or either may contain the other.
//
// The same underlying is named differently across feeds ("NIFTY" against
// "Nifty 50"), which is what the substring rule is for. It also means a short
// query like "NIFTY" will happily match "BANKNIFTY" or any NIFTY option if
// those come first in the file. There is no ranking among matches. Callers
// that need a specific contract should pass InstrumentType, Expiry or Strike,
// or use LookupExact.
func (c *Catalog) LookupFuzzy(q Query) (models.InstrumentRecord, bool) {
	sym := strings.ToUpper(strings.TrimSpace(q.Symbol))
	if sym == "" {
		return models.InstrumentRecord{}, false
	}
	for _, r := range c.records {
		if !matchesFilters(r, q) {
			continue
		}
		if fuzzySymbolMatch(sym, r) {
			return r, true
		}
	}
	return models.InstrumentRecord{}, false
}

// LookupExact is LookupFuzzy without substring matching. The query symbol
// must equal the record's symbol, case-insensitive.
func (c *Catalog) LookupExact(q Query) (models.InstrumentRecord, bool) {
	sym := strings.TrimSpace(q.Symbol)
	if sym == "" {
		return models.InstrumentRecord{}, false
	}
	for _, r := range c.records {
		if !matchesFilters(r, q) {
			continue
		}
		if strings.EqualFold(sym, strings.TrimSpace(r.Symbol)) {
			return r, true
		}
	}
	return models.InstrumentRecord{}, false
}

// Token is LookupFuzzy returning only the token.
func (c *Catalog) Token(q Query) (string, bool) {
	r, ok := c.LookupFuzzy(q)
	if !ok || r.Token == "" {
		return "", false
	}
	return r.Token, true
}

func matchesFilters(r models.InstrumentRecord, q Query) bool {
	if !strings.EqualFold(strings.TrimSpace(r.Exchange), strings.TrimSpace(q.Exchange)) {
		return false
	}
	if q.InstrumentType != "" && !strings.EqualFold(r.InstrumentType, q.InstrumentType) {
		return false
	}
	if q.Expiry != "" && !strings.EqualFold(r.Expiry, q.Expiry) {
		return false
	}
	if q.Strike != nil && math.Abs(r.Strike-*q.Strike) > strikeTolerance {
		return false
	}
	return true
}

func fuzzySymbolMatch(query string, r models.InstrumentRecord) bool {
	for _, field := range []string{r.Symbol, r.Name} {
		f := strings.ToUpper(strings.TrimSpace(field))
		if f == "" {
			continue
		}
		if f == query || strings.Contains(f, query) || strings.Contains(query, f) {
			return true
		}
	}
	return false
}

// Strikes returns the distinct strikes, in minor units rounded to integers,
// listed for the underlying on the given segment and expiry. The expiry may be
// given in either DDMMMYYYY or DDMMMYY form. Non-positive strikes (futures
// carry -1) are skipped.
func (c *Catalog) Strikes(underlying, segment, expiry string) []int {
	seen := make(map[int]struct{})
	for _, r := range c.records {
		if !c.isDerivativeOf(r, underlying, segment) || !sameExpiry(r.Expiry, expiry) {
			continue
		}
		s := int(math.Round(r.Strike))
		if s <= 0 {
			continue
		}
		seen[s] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Ints(out)
	return out
}

// sameExpiry compares two listed expiries by calendar date, so 30JAN25 and
// 30JAN2025 match. Unparseable strings only match themselves.
func sameExpiry(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if strings.EqualFold(a, b) {
		return true
	}
	da := ParseExpiry(a)
	return !da.Equal(FarFuture) && da.Equal(ParseExpiry(b))
}

func (c *Catalog) isDerivativeOf(r models.InstrumentRecord, underlying, segment string) bool {
	return strings.EqualFold(strings.TrimSpace(r.Name), underlying) &&
		strings.EqualFold(strings.TrimSpace(r.Exchange), segment)
}

// UnderlyingRef identifies the index whose price drives strike selection.
type UnderlyingRef struct {
	Exchange string
	Symbol   string
	Token    string
}

// ResolveUnderlying finds the cash-segment record for the underlying: a record
// whose name equals it, else one whose symbol contains it. The fallback is
// returned when neither exists.
func (c *Catalog) ResolveUnderlying(underlying, exchange string, fallback UnderlyingRef) UnderlyingRef {
	want := strings.ToUpper(strings.TrimSpace(underlying))
	for _, r := range c.records {
		if !strings.EqualFold(r.Exchange, exchange) || r.Token == "" {
			continue
		}
		if strings.ToUpper(strings.TrimSpace(r.Name)) == want {
			sym := r.Symbol
			if sym == "" {
				sym = fallback.Symbol
			}
			return UnderlyingRef{Exchange: r.Exchange, Symbol: sym, Token: r.Token}
		}
		if want != "" && strings.Contains(strings.ToUpper(r.Symbol), want) {
			return UnderlyingRef{Exchange: r.Exchange, Symbol: r.Symbol, Token: r.Token}
		}
	}
	return fallback
}
