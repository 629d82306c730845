package domain

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Token describes an ERC-20 token registered with the service.
type Token struct {
	Symbol   string
	Address  common.Address
	Decimals int32
}

// ToBaseUnits converts a human-denominated amount into the token's smallest
// unit, rounding to the token's precision.
func (t Token) ToBaseUnits(amount float64) *big.Int {
	d := decimal.NewFromFloat(amount).Round(t.Decimals).Shift(t.Decimals)
	return d.BigInt()
}

// FromBaseUnits converts a smallest-unit amount back into a float.
func (t Token) FromBaseUnits(units *big.Int) float64 {
	if units == nil {
		return 0
	}
	f, _ := decimal.NewFromBigInt(units, -t.Decimals).Float64()
	return f
}

// TokenTable is an immutable symbol -> token lookup built once at startup.
type TokenTable struct {
	bySymbol map[string]Token
}

// NewTokenTable builds a table from the given tokens. Symbols are
// upper-cased; duplicate symbols are rejected.
func NewTokenTable(tokens []Token) (TokenTable, error) {
	m := make(map[string]Token, len(tokens))
	for _, t := range tokens {
		sym := strings.ToUpper(strings.TrimSpace(t.Symbol))
		if sym == "" {
			return TokenTable{}, fmt.Errorf("domain: token with empty symbol")
		}
		if _, dup := m[sym]; dup {
			return TokenTable{}, fmt.Errorf("domain: duplicate token %q", sym)
		}
		if t.Decimals < 0 || t.Decimals > 36 {
			return TokenTable{}, fmt.Errorf("domain: token %q: decimals %d out of range", sym, t.Decimals)
		}
		t.Symbol = sym
		m[sym] = t
	}
	return TokenTable{bySymbol: m}, nil
}

// Lookup returns the token registered for symbol, or ErrUnknownSymbol.
func (tt TokenTable) Lookup(symbol string) (Token, error) {
	t, ok := tt.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return Token{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return t, nil
}

// Symbols returns the registered symbols in sorted order.
func (tt TokenTable) Symbols() []string {
	out := make([]string, 0, len(tt.bySymbol))
	for s := range tt.bySymbol {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// FallbackTable holds the approximate prices used when the price provider is
// unavailable. It is the only place fallback constants live.
type FallbackTable struct {
	prices map[string]float64
}

// NewFallbackTable copies the given symbol -> price map. Non-positive
// prices are dropped.
func NewFallbackTable(prices map[string]float64) FallbackTable {
	m := make(map[string]float64, len(prices))
	for sym, p := range prices {
		if p > 0 {
			m[strings.ToUpper(strings.TrimSpace(sym))] = p
		}
	}
	return FallbackTable{prices: m}
}

// Price returns the fallback price for symbol, if one is defined.
func (ft FallbackTable) Price(symbol string) (float64, bool) {
	p, ok := ft.prices[strings.ToUpper(strings.TrimSpace(symbol))]
	return p, ok
}
