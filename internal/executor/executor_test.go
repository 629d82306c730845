package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vaultsignal/internal/domain"
)

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []int64
	err   error
	// failures fails that many calls with a storage error first.
	failures int
	stored   []int64
}

func (f *fakeDispatcher) Accept(_ context.Context, in domain.NewSignal) (domain.Signal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, *in.EventID)
	if f.failures > 0 {
		f.failures--
		return domain.Signal{}, errors.New("dispatcher: persist signal: db down")
	}
	if f.err != nil {
		return domain.Signal{}, f.err
	}
	f.stored = append(f.stored, *in.EventID)
	return domain.Signal{ID: fmt.Sprintf("sig-%d", *in.EventID), EventID: *in.EventID}, nil
}

// blockingDispatcher holds Accept until release is closed and records the
// context state it saw afterwards.
type blockingDispatcher struct {
	started chan struct{}
	release chan struct{}
	ctxErr  error
}

func (b *blockingDispatcher) Accept(ctx context.Context, in domain.NewSignal) (domain.Signal, error) {
	close(b.started)
	<-b.release
	b.ctxErr = ctx.Err()
	return domain.Signal{ID: "sig", EventID: *in.EventID}, nil
}

type fakeLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func (f *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] {
		return nil, domain.ErrLockHeld
	}
	f.held[key] = true
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.held, key)
	}, nil
}

// groupBus models one consumer of a consumer group: entries handed out by
// ">" stay pending until acknowledged and are replayed by "0".
type groupBus struct {
	domain.SignalBus

	mu      sync.Mutex
	entries []domain.StreamMessage
	next    int
	pending []domain.StreamMessage
	acked   []string
	reads   []string
	groups  []string
}

func (b *groupBus) GroupCreate(_ context.Context, _, group, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.groups = append(b.groups, group)
	return nil
}

func (b *groupBus) GroupRead(ctx context.Context, _, _, _, id string, count int, _ time.Duration) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	b.reads = append(b.reads, id)
	if id == "0" {
		out := append([]domain.StreamMessage(nil), b.pending...)
		b.mu.Unlock()
		if len(out) > count {
			out = out[:count]
		}
		return out, nil
	}
	if b.next < len(b.entries) {
		end := min(b.next+count, len(b.entries))
		out := b.entries[b.next:end]
		b.next = end
		b.pending = append(b.pending, out...)
		b.mu.Unlock()
		return out, nil
	}
	b.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *groupBus) Ack(_ context.Context, _, _ string, ids ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		b.acked = append(b.acked, id)
		for i, m := range b.pending {
			if m.ID == id {
				b.pending = append(b.pending[:i], b.pending[i+1:]...)
				break
			}
		}
	}
	return nil
}

func (b *groupBus) snapshot() (reads, acked []string, pending int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.reads...), append([]string(nil), b.acked...), len(b.pending)
}

func entry(id string, eventID int64) domain.StreamMessage {
	qty, conf := 1.0, 0.5
	payload, _ := json.Marshal(domain.NewSignal{
		Direction:  "BUY",
		Symbol:     "AAVE",
		Quantity:   &qty,
		Confidence: &conf,
		EventID:    &eventID,
		Rationale:  "test",
	})
	return domain.StreamMessage{ID: id, Payload: payload}
}

func newConsumer(bus domain.SignalBus, d Dispatcher, locks domain.LockManager) *StreamConsumer {
	c := NewStreamConsumer(bus, d, locks, Config{Block: time.Second, Group: "g", Consumer: "c1"}, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.retryDelay = time.Millisecond
	return c
}

func TestProcessSkipsDuplicateEvents(t *testing.T) {
	d := &fakeDispatcher{}
	c := newConsumer(nil, d, nil)
	ctx := context.Background()

	assert.Equal(t, ResultDispatched, c.process(ctx, entry("1-0", 7)))
	assert.Equal(t, ResultDuplicate, c.process(ctx, entry("2-0", 7)))
	assert.Equal(t, ResultDispatched, c.process(ctx, entry("3-0", 8)))
	assert.Equal(t, []int64{7, 8}, d.calls)
}

func TestProcessHonoursReplicaLock(t *testing.T) {
	d := &fakeDispatcher{}
	locks := &fakeLocks{held: map[string]bool{"intake:event:9": true}}
	c := newConsumer(nil, d, locks)

	assert.Equal(t, ResultDuplicate, c.process(context.Background(), entry("1-0", 9)))
	assert.Empty(t, d.calls)
}

func TestProcessReleasesOnFailure(t *testing.T) {
	d := &fakeDispatcher{err: fmt.Errorf("dispatcher: %w", domain.ErrInvalidSignal)}
	locks := &fakeLocks{held: map[string]bool{}}
	c := newConsumer(nil, d, locks)
	ctx := context.Background()

	assert.Equal(t, ResultInvalid, c.process(ctx, entry("1-0", 5)))
	assert.Empty(t, locks.held)

	d.err = errors.New("db down")
	assert.Equal(t, ResultFailed, c.process(ctx, entry("2-0", 5)))

	d.err = nil
	assert.Equal(t, ResultDispatched, c.process(ctx, entry("3-0", 5)))
	assert.True(t, locks.held["intake:event:5"])
	assert.Len(t, d.calls, 3)
}

func TestProcessRejectsMalformed(t *testing.T) {
	d := &fakeDispatcher{}
	c := newConsumer(nil, d, nil)
	ctx := context.Background()

	assert.Equal(t, ResultMalformed, c.process(ctx, domain.StreamMessage{ID: "1-0", Payload: []byte("{nope")}))
	assert.Equal(t, ResultInvalid, c.process(ctx, domain.StreamMessage{ID: "2-0", Payload: []byte(`{"signal":"BUY"}`)}))
	assert.Empty(t, d.calls)
}

func TestRunAcknowledgesSettledEntries(t *testing.T) {
	d := &fakeDispatcher{}
	bus := &groupBus{entries: []domain.StreamMessage{
		entry("5-0", 1),
		entry("6-0", 2),
		{ID: "7-0", Payload: []byte("{nope")},
		entry("8-0", 1),
	}}
	c := newConsumer(bus, d, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := c.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	reads, acked, pending := bus.snapshot()
	assert.Equal(t, []string{"g"}, bus.groups)
	assert.Equal(t, []int64{1, 2}, d.calls)
	assert.Equal(t, []string{"5-0", "6-0", "7-0", "8-0"}, acked)
	assert.Zero(t, pending)
	// Own pending entries are replayed before new ones are read.
	assert.Equal(t, []string{"0", ">", ">"}, reads)
}

func TestRunRedeliversUnstoredEntry(t *testing.T) {
	d := &fakeDispatcher{failures: 1}
	bus := &groupBus{entries: []domain.StreamMessage{entry("5-0", 1), entry("6-0", 2)}}
	c := newConsumer(bus, d, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := c.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	reads, acked, pending := bus.snapshot()
	assert.Equal(t, []int64{1, 2, 1}, d.calls)
	assert.Equal(t, []int64{2, 1}, d.stored)
	assert.Equal(t, []string{"6-0", "5-0"}, acked)
	assert.Zero(t, pending)
	assert.Equal(t, []string{"0", ">", "0", "0", ">"}, reads)
}

func TestRunFinishesEntryAfterShutdown(t *testing.T) {
	d := &blockingDispatcher{started: make(chan struct{}), release: make(chan struct{})}
	bus := &groupBus{entries: []domain.StreamMessage{entry("5-0", 1)}}
	c := newConsumer(bus, d, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	<-d.started
	cancel()
	close(d.release)

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.NoError(t, d.ctxErr)
	_, acked, _ := bus.snapshot()
	assert.Equal(t, []string{"5-0"}, acked)
}

func TestDedupExpires(t *testing.T) {
	d := NewDedup(time.Minute)
	now := time.Unix(1_700_000_000, 0)
	d.now = func() time.Time { return now }

	assert.True(t, d.Claim(1))
	assert.False(t, d.Claim(1))

	now = now.Add(2 * time.Minute)
	assert.True(t, d.Claim(1))

	now = now.Add(2 * time.Minute)
	d.Cleanup()
	assert.Zero(t, d.Len())
}
