package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSizeTrade(t *testing.T) {
	cases := []struct {
		name                  string
		max, price, requested float64
		want                  float64
	}{
		{"capped by max trade size", 100, 50, 10, 2},
		{"capped by requested", 1000, 1, 5, 5},
		{"zero max", 0, 3000, 1, 0},
		{"zero requested", 100, 1, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, SizeTrade(tc.max, tc.price, tc.requested), 1e-12)
		})
	}
}

func TestSizeTradePanicsOnContractViolation(t *testing.T) {
	assert.Panics(t, func() { SizeTrade(100, 0, 1) })
	assert.Panics(t, func() { SizeTrade(100, -1, 1) })
	assert.Panics(t, func() { SizeTrade(-1, 1, 1) })
}
