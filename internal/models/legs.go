package models

import (
	"errors"
	"fmt"
)

// ErrNoPrice means a price source had no last traded price for an instrument.
var ErrNoPrice = errors.New("no price data")

// LegRole names one of the four legs of the condor.
type LegRole string

const (
	// SellCall is the short call near the money
	SellCall LegRole = "sell_call"
	// SellPut is the short put near the money
	SellPut LegRole = "sell_put"
	// BuyCall is the long call hedge further out
	BuyCall LegRole = "buy_call"
	// BuyPut is the long put hedge further out
	BuyPut LegRole = "buy_put"
)

// AllLegRoles lists the roles in canonical order.
var AllLegRoles = []LegRole{SellCall, SellPut, BuyCall, BuyPut}

// Valid returns true if the role is one of the four condor legs
func (r LegRole) Valid() bool {
	switch r {
	case SellCall, SellPut, BuyCall, BuyPut:
		return true
	default:
		return false
	}
}

// IsShort reports whether the leg is sold.
func (r LegRole) IsShort() bool {
	return r == SellCall || r == SellPut
}

// OptionType returns the option suffix used in trading symbols.
func (r LegRole) OptionType() OptionType {
	if r == SellCall || r == BuyCall {
		return OptionTypeCall
	}
	return OptionTypePut
}

// OptionType represents the type of option contract
type OptionType string

const (
	// OptionTypeCall represents a call option contract
	OptionTypeCall OptionType = "CE"
	// OptionTypePut represents a put option contract
	OptionTypePut OptionType = "PE"
)

// Leg is one resolved instrument of the condor.
type Leg struct {
	Role        LegRole    `json:"role"`
	Exchange    string     `json:"exchange"`
	Symbol      string     `json:"symbol"`
	Strike      int        `json:"strike"`       // index points
	StrikeMinor float64    `json:"strike_minor"` // scrip master units
	OptionType  OptionType `json:"option_type"`
	Token       string     `json:"token,omitempty"` // empty when the lookup missed
}

// HasToken reports whether the leg can be priced.
func (l Leg) HasToken() bool {
	return l.Token != ""
}

func (l Leg) String() string {
	tok := l.Token
	if tok == "" {
		tok = "<none>"
	}
	return fmt.Sprintf("%s %s:%s token=%s", l.Role, l.Exchange, l.Symbol, tok)
}

// Legs maps each role to its leg.
type Legs map[LegRole]Leg

// Complete reports whether all four roles are present.
func (l Legs) Complete() bool {
	for _, role := range AllLegRoles {
		if _, ok := l[role]; !ok {
			return false
		}
	}
	return true
}

// Copy returns an independent copy.
func (l Legs) Copy() Legs {
	out := make(Legs, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// Prices maps each role to its last traded price. A missing role reads as 0.
type Prices map[LegRole]float64

// Copy returns an independent copy.
func (p Prices) Copy() Prices {
	if p == nil {
		return nil
	}
	out := make(Prices, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// NetCredit returns premium from the short legs minus premium paid for the hedges.
func (p Prices) NetCredit() float64 {
	return (p[SellCall] + p[SellPut]) - (p[BuyCall] + p[BuyPut])
}
