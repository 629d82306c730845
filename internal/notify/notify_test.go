package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	name string
	err  error
	sent []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.sent = append(r.sent, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"swap_executed"}, 0, testLogger())

	require.NoError(t, n.Notify(context.Background(), "swap_failed", "Swap failed", "x"))
	require.NoError(t, n.Notify(context.Background(), "swap_executed", "Swap executed", "x"))
	assert.Equal(t, []string{"Swap executed"}, s.sent)
}

func TestNotifyJoinsSenderErrors(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("403")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, 0, testLogger())

	err := n.Notify(context.Background(), "swap_failed", "Swap failed", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: 403")
	assert.Len(t, good.sent, 1)
}

func TestNewWithoutCredentialsIsDisabled(t *testing.T) {
	n := New(Config{}, testLogger())
	assert.False(t, n.Enabled())
	assert.NoError(t, n.Notify(context.Background(), "swap_executed", "t", "m"))
}

func TestTelegramSenderEscapesHTML(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.BaseURL = srv.URL
	require.NoError(t, s.Send(context.Background(), "Swap executed", "1 <USDC> & more"))

	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "<b>Swap executed</b>\n1 &lt;USDC&gt; &amp; more", got["text"])
}

func TestDiscordSenderReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "Swap failed", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord: unexpected status 429")
}
