package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest provider quotes.
type PriceCache interface {
	SetQuote(ctx context.Context, q PriceQuote) error
	// GetQuote returns ErrNotFound when nothing is cached for symbol.
	GetQuote(ctx context.Context, symbol string) (PriceQuote, error)
	GetQuotes(ctx context.Context, symbols []string) (map[string]PriceQuote, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams. Streams are consumed
// through consumer groups: a read entry stays pending until acknowledged.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	// GroupCreate creates group on stream (and the stream itself) starting
	// after startID. An existing group is left untouched.
	GroupCreate(ctx context.Context, stream, group, startID string) error
	// GroupRead reads as consumer. id ">" returns new entries; "0" returns
	// the consumer's own pending entries.
	GroupRead(ctx context.Context, stream, group, consumer, id string, count int, block time.Duration) ([]StreamMessage, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
}

// Bus channel and stream names.
const (
	ChannelOutcomes = "outcomes"
	ChannelSignals  = "signals"
	ChannelPrices   = "prices"
	StreamInbound   = "signals:inbound"
)
