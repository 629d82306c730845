package domain

import (
	"strings"
	"time"
)

// Direction is the side a signal recommends.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Signal is an immutable trading recommendation received from the upstream
// producer. It is created once per inbound request and never mutated.
type Signal struct {
	ID         string    `json:"id"`
	Direction  Direction `json:"signal"`
	Symbol     string    `json:"symbol"`
	Quantity   float64   `json:"quantity"`
	Confidence float64   `json:"confidenceScore"`
	EventID    int64     `json:"eventId"`
	Rationale  string    `json:"motivation"`
	CreatedAt  time.Time `json:"createdAt"`
}

// NewSignal is the inbound request shape. Pointer fields distinguish an
// absent value from an explicit zero.
type NewSignal struct {
	Direction  string   `json:"signal" validate:"required,oneof=BUY SELL"`
	Symbol     string   `json:"symbol" validate:"required,max=32"`
	Quantity   *float64 `json:"quantity" validate:"required,gte=0"`
	Confidence *float64 `json:"confidenceScore" validate:"required,gte=0,lte=1"`
	EventID    *int64   `json:"eventId" validate:"required"`
	Rationale  string   `json:"motivation" validate:"required"`
}

// Normalize upper-cases the direction and symbol and trims whitespace, the
// same normalisation the stored record receives.
func (n *NewSignal) Normalize() {
	n.Direction = strings.ToUpper(strings.TrimSpace(n.Direction))
	n.Symbol = strings.ToUpper(strings.TrimSpace(n.Symbol))
	n.Rationale = strings.TrimSpace(n.Rationale)
}

// Legs returns the (from, to) symbols of the swap this signal implies, given
// the quote currency. BUY spends the quote currency for the asset, SELL the
// reverse.
func (s Signal) Legs(quoteSymbol string) (from, to string) {
	if s.Direction == DirectionSell {
		return s.Symbol, quoteSymbol
	}
	return quoteSymbol, s.Symbol
}
