package domain

import "time"

// PriceSnapshot is a persisted price observation. At most one is written per
// symbol per snapshot window.
type PriceSnapshot struct {
	ID         int64     `json:"id"`
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"currentPrice"`
	ChangePct  float64   `json:"priceChange1h"`
	ObservedAt time.Time `json:"createdAt"`
}

// PriceQuote is the value returned by the price oracle.
type PriceQuote struct {
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"currentPrice"`
	ChangePct  float64   `json:"priceChange1h"`
	ObservedAt time.Time `json:"observedAt"`
	// Fallback is set when Price came from the fallback table rather than
	// the provider.
	Fallback bool `json:"fallback,omitempty"`
}

// Snapshot converts the quote into a storable snapshot.
func (q PriceQuote) Snapshot() PriceSnapshot {
	return PriceSnapshot{
		Symbol:     q.Symbol,
		Price:      q.Price,
		ChangePct:  q.ChangePct,
		ObservedAt: q.ObservedAt,
	}
}
