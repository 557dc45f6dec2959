// Package models provides data structures and state management for the
// iron condor session: reference instruments, legs, the paper position and
// the session lifecycle.
package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// StrikeScale is the factor between quoted strikes and the minor units the
// scrip master stores them in.
const StrikeScale = 100.0

// Common exchange segments.
const (
	SegmentNSE = "NSE"
	SegmentNFO = "NFO"
)

// InstrumentRecord is one row of the broker's scrip master.
type InstrumentRecord struct {
	Token          string  `json:"token"`
	Symbol         string  `json:"symbol"`
	Name           string  `json:"name"`
	Expiry         string  `json:"expiry"`
	Strike         float64 `json:"strike"` // minor units (quoted strike x 100)
	LotSize        int     `json:"lotsize"`
	InstrumentType string  `json:"instrumenttype"`
	Exchange       string  `json:"exch_seg"`
	TickSize       float64 `json:"tick_size"`
}

// rawInstrument mirrors the scrip master, where numeric fields are usually
// quoted strings such as "2515000.000000".
type rawInstrument struct {
	Token          flexString `json:"token"`
	Symbol         string     `json:"symbol"`
	Name           string     `json:"name"`
	Expiry         string     `json:"expiry"`
	Strike         flexString `json:"strike"`
	LotSize        flexString `json:"lotsize"`
	InstrumentType string     `json:"instrumenttype"`
	Exchange       string     `json:"exch_seg"`
	TickSize       flexString `json:"tick_size"`
}

// flexString accepts either a JSON string or a JSON number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", string(b))
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) float() float64 {
	if f == "" {
		return 0
	}
	v, err := strconv.ParseFloat(string(f), 64)
	if err != nil {
		return 0
	}
	return v
}

// UnmarshalJSON decodes a scrip master row, tolerating string-encoded numbers.
// Unparseable numeric fields decode as zero rather than failing the whole file.
func (r *InstrumentRecord) UnmarshalJSON(b []byte) error {
	var raw rawInstrument
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*r = InstrumentRecord{
		Token:          string(raw.Token),
		Symbol:         raw.Symbol,
		Name:           raw.Name,
		Expiry:         raw.Expiry,
		Strike:         raw.Strike.float(),
		LotSize:        int(raw.LotSize.float()),
		InstrumentType: raw.InstrumentType,
		Exchange:       raw.Exchange,
		TickSize:       raw.TickSize.float(),
	}
	return nil
}

// QuotedStrike returns the strike in index points.
func (r InstrumentRecord) QuotedStrike() float64 {
	return r.Strike / StrikeScale
}
