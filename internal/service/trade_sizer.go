package service

import (
	"fmt"
	"math"
)

// SizeTrade returns the quantity an account may trade: the requested
// quantity capped at maxTradeSize/price. price must be positive and
// maxTradeSize non-negative; anything else is a programming error and
// panics.
func SizeTrade(maxTradeSize, price, requested float64) float64 {
	if !(price > 0) {
		panic(fmt.Sprintf("service: SizeTrade: price must be > 0, got %v", price))
	}
	if !(maxTradeSize >= 0) {
		panic(fmt.Sprintf("service: SizeTrade: maxTradeSize must be >= 0, got %v", maxTradeSize))
	}
	return math.Min(requested, maxTradeSize/price)
}
