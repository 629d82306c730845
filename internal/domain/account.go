package domain

import (
	"strings"
	"time"
)

// DefaultMaxTradeSize is the per-account trade ceiling, in quote-currency
// units, applied when an account has not configured one.
const DefaultMaxTradeSize = 100.0

// Pair is an allowed (from, to) automation pair.
type Pair struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Account is a registered participant identified by its wallet address.
type Account struct {
	ID                string    `json:"id"`
	Address           string    `json:"address"`
	AutomationEnabled bool      `json:"automationEnabled"`
	MaxTradeSize      float64   `json:"maxTradeSize"`
	Pairs             []Pair    `json:"automationPairs"`
	LastSeenAt        time.Time `json:"lastSeenAt"`
	CreatedAt         time.Time `json:"createdAt"`
}

// NormalizeAddress lower-cases and trims a wallet address so lookups are
// case-insensitive.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// Allows reports whether automation is permitted for the from -> to pair.
func (a Account) Allows(from, to string) bool {
	for _, p := range a.Pairs {
		if strings.EqualFold(p.From, from) && strings.EqualFold(p.To, to) {
			return true
		}
	}
	return false
}
