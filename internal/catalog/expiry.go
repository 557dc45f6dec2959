package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrNoExpiries means the catalog holds no derivative contracts for the
// underlying, so no session can be built.
var ErrNoExpiries = errors.New("no expiries found for underlying")

// Accepted expiry layouts, tried in order.
const (
	LayoutLong  = "02Jan2006"
	LayoutShort = "02Jan06"
)

var expiryLayouts = []string{LayoutLong, LayoutShort}

// FarFuture is what an unparseable expiry sorts as. It can win the "latest
// expiry" fallback when every real expiry is in the past.
var FarFuture = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// Expiry is a contract expiry as listed and as a calendar date.
type Expiry struct {
	Raw  string
	Date time.Time // midnight UTC
}

// Short renders the expiry as used inside trading symbols, e.g. 30JAN24.
func (e Expiry) Short() string {
	return strings.ToUpper(e.Date.Format(LayoutShort))
}

// Long renders the expiry as stored in the scrip master, e.g. 30JAN2024.
func (e Expiry) Long() string {
	return strings.ToUpper(e.Date.Format(LayoutLong))
}

func (e Expiry) String() string {
	return e.Long()
}

// ParseExpiry parses DDMMMYYYY or DDMMMYY, month case-insensitive. Anything
// else parses as FarFuture.
func ParseExpiry(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range expiryLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return FarFuture
}

// Expiries returns the distinct expiry strings of length 7 or 9 listed for the
// underlying on the segment, sorted by date.
func (c *Catalog) Expiries(underlying, segment string) []Expiry {
	seen := make(map[string]struct{})
	var out []Expiry
	for _, r := range c.records {
		if !c.isDerivativeOf(r, underlying, segment) {
			continue
		}
		raw := strings.TrimSpace(r.Expiry)
		if len(raw) != 7 && len(raw) != 9 {
			continue
		}
		if _, ok := seen[raw]; ok {
			continue
		}
		seen[raw] = struct{}{}
		out = append(out, Expiry{Raw: raw, Date: ParseExpiry(raw)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].Raw < out[j].Raw
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

// ResolveNextExpiry picks the first expiry on or after today's calendar date
// in today's location. When every expiry has passed it returns the latest one.
func (c *Catalog) ResolveNextExpiry(underlying, segment string, today time.Time) (Expiry, error) {
	exps := c.Expiries(underlying, segment)
	if len(exps) == 0 {
		return Expiry{}, fmt.Errorf("%s on %s: %w", underlying, segment, ErrNoExpiries)
	}
	y, m, d := today.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	for _, e := range exps {
		if !e.Date.Before(day) {
			return e, nil
		}
	}
	return exps[len(exps)-1], nil
}
