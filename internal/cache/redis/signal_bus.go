package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/vaultsignal/internal/domain"
)

// defaultStreamMaxLen caps streams via XADD MAXLEN ~ when none is configured.
const defaultStreamMaxLen int64 = 10000

// SignalBus implements domain.SignalBus: Pub/Sub carries live outcome and
// price events, Streams carry durable inbound signals.
type SignalBus struct {
	rdb    *redis.Client
	maxLen int64
}

// NewSignalBus creates a SignalBus. maxLen <= 0 uses the default cap.
func NewSignalBus(c *Client, maxLen int) *SignalBus {
	ml := int64(maxLen)
	if ml <= 0 {
		ml = defaultStreamMaxLen
	}
	return &SignalBus{rdb: c.Underlying(), maxLen: ml}
}

// Publish sends payload to a Pub/Sub channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a channel of payloads published on channel (or on every
// channel matching it when it contains glob characters). The returned channel
// closes when ctx ends.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if strings.ContainsAny(channel, "*?[") {
		pubsub = sb.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = sb.rdb.Subscribe(ctx, channel)
	}

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// StreamAppend appends payload under the "payload" field.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := sb.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: sb.maxLen,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// GroupCreate creates group on stream with MKSTREAM. BUSYGROUP means the
// group exists and is not an error.
func (sb *SignalBus) GroupCreate(ctx context.Context, stream, group, startID string) error {
	err := sb.rdb.XGroupCreateMkStream(ctx, stream, group, startID).Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("redis: create group %s on %s: %w", group, stream, err)
	}
	return nil
}

// GroupRead returns up to count entries for consumer, blocking for at most
// block when nothing new is available (block <= 0 does not block). An empty
// result is not an error.
func (sb *SignalBus) GroupRead(ctx context.Context, stream, group, consumer, id string, count int, block time.Duration) ([]domain.StreamMessage, error) {
	args := &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, id},
		Count:    int64(count),
		Block:    -1,
	}
	if block > 0 {
		args.Block = block
	}

	results, err := sb.rdb.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: group read %s/%s: %w", stream, group, err)
	}

	var messages []domain.StreamMessage
	for _, s := range results {
		for _, msg := range s.Messages {
			var data []byte
			switch v := msg.Values["payload"].(type) {
			case string:
				data = []byte(v)
			case []byte:
				data = v
			default:
				// Trimmed or foreign entries surface as empty payloads so
				// the consumer can acknowledge them.
				data = nil
			}
			messages = append(messages, domain.StreamMessage{ID: msg.ID, Payload: data})
		}
	}
	return messages, nil
}

// Ack acknowledges ids, removing them from the group's pending list.
func (sb *SignalBus) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := sb.rdb.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return fmt.Errorf("redis: ack %s/%s: %w", stream, group, err)
	}
	return nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
