package catalog

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/nifty_condor/internal/models"
)

func expiryRecord(expiry string) models.InstrumentRecord {
	return models.InstrumentRecord{Name: "NIFTY", Exchange: "NFO", Expiry: expiry, Strike: 2500000, Token: "1"}
}

func TestParseExpiry(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"30JAN2025", time.Date(2025, 1, 30, 0, 0, 0, 0, time.UTC)},
		{"30JAN25", time.Date(2025, 1, 30, 0, 0, 0, 0, time.UTC)},
		{"06feb2025", time.Date(2025, 2, 6, 0, 0, 0, 0, time.UTC)},
		{"2025-01-30", FarFuture},
		{"", FarFuture},
		{"31FEB2025", FarFuture},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.True(t, tt.want.Equal(ParseExpiry(tt.in)), "ParseExpiry(%q) = %v", tt.in, ParseExpiry(tt.in))
		})
	}
}

func TestExpiry_Forms(t *testing.T) {
	e := Expiry{Raw: "30Jan2025", Date: ParseExpiry("30Jan2025")}
	assert.Equal(t, "30JAN25", e.Short())
	assert.Equal(t, "30JAN2025", e.Long())
}

func TestResolveNextExpiry(t *testing.T) {
	cat := New([]models.InstrumentRecord{
		expiryRecord("06FEB2025"),
		expiryRecord("30JAN2025"),
		expiryRecord("30JAN2025"),
		expiryRecord("13FEB25"),
		expiryRecord("BADDATE"),                               // length 7, parses as far future
		expiryRecord("2025-02-27"),                            // wrong length, ignored
		{Name: "NIFTY", Exchange: "NSE", Expiry: "23JAN2025"}, // cash segment
	})

	tests := []struct {
		name  string
		today time.Time
		want  string
	}{
		{"same day counts", time.Date(2025, 1, 30, 15, 0, 0, 0, time.UTC), "30JAN2025"},
		{"before first", time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC), "30JAN2025"},
		{"between", time.Date(2025, 1, 31, 9, 0, 0, 0, time.UTC), "06FEB2025"},
		{"short form", time.Date(2025, 2, 7, 9, 0, 0, 0, time.UTC), "13FEB25"},
		{"unparseable sorts last", time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC), "BADDATE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := cat.ResolveNextExpiry("NIFTY", "NFO", tt.today)
			require.NoError(t, err)
			assert.Equal(t, tt.want, e.Raw)
		})
	}
}

func TestResolveNextExpiry_UsesLocalCalendarDate(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	cat := New([]models.InstrumentRecord{expiryRecord("30JAN2025"), expiryRecord("06FEB2025")})

	// 01:00 IST on the 30th is still the 29th in UTC; the IST date decides.
	today := time.Date(2025, 1, 30, 1, 0, 0, 0, ist)
	e, err := cat.ResolveNextExpiry("NIFTY", "NFO", today)
	require.NoError(t, err)
	assert.Equal(t, "30JAN2025", e.Raw)

	today = time.Date(2025, 1, 31, 1, 0, 0, 0, ist)
	e, err = cat.ResolveNextExpiry("NIFTY", "NFO", today)
	require.NoError(t, err)
	assert.Equal(t, "06FEB2025", e.Raw)
}

func TestResolveNextExpiry_AllPastFallsBackToLatest(t *testing.T) {
	cat := New([]models.InstrumentRecord{expiryRecord("02JAN2025"), expiryRecord("09JAN2025")})
	e, err := cat.ResolveNextExpiry("NIFTY", "NFO", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "09JAN2025", e.Raw)
}

func TestResolveNextExpiry_Empty(t *testing.T) {
	cat := New([]models.InstrumentRecord{{Name: "BANKNIFTY", Exchange: "NFO", Expiry: "30JAN2025"}})
	_, err := cat.ResolveNextExpiry("NIFTY", "NFO", time.Now())
	assert.True(t, errors.Is(err, ErrNoExpiries))
}

func TestResolveNextExpiry_Property(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for iter := 0; iter < 200; iter++ {
		n := 1 + rng.Intn(8)
		var recs []models.InstrumentRecord
		var dates []time.Time
		for i := 0; i < n; i++ {
			d := base.AddDate(0, 0, rng.Intn(120))
			dates = append(dates, d)
			layout := LayoutLong
			if rng.Intn(2) == 0 {
				layout = LayoutShort
			}
			recs = append(recs, expiryRecord(d.Format(layout)))
		}
		today := base.AddDate(0, 0, rng.Intn(140))
		cat := New(recs)

		e, err := cat.ResolveNextExpiry("NIFTY", "NFO", today)
		require.NoError(t, err)

		var earliestFuture, latest time.Time
		for _, d := range dates {
			if !d.Before(today) && (earliestFuture.IsZero() || d.Before(earliestFuture)) {
				earliestFuture = d
			}
			if d.After(latest) {
				latest = d
			}
		}
		if earliestFuture.IsZero() {
			assert.True(t, e.Date.Equal(latest), "iter %d: expected latest %v, got %v", iter, latest, e.Date)
		} else {
			assert.True(t, e.Date.Equal(earliestFuture), "iter %d: expected %v, got %v", iter, earliestFuture, e.Date)
		}
	}
}
