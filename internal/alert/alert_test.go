package alert

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"spot_trader/internal/core"
	"spot_trader/pkg/concurrency"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockAlertChannel struct {
	name     string
	sent     []AlertPayload
	sendFunc func(ctx context.Context, alert AlertPayload) error
	mu       sync.Mutex
}

func (m *mockAlertChannel) Name() string {
	return m.name
}

func (m *mockAlertChannel) Send(ctx context.Context, alert AlertPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, alert)
	if m.sendFunc != nil {
		return m.sendFunc(ctx, alert)
	}
	return nil
}

func (m *mockAlertChannel) getSent() []AlertPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]AlertPayload, len(m.sent))
	copy(res, m.sent)
	return res
}

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, f ...interface{})               {}
func (m *mockLogger) Info(msg string, f ...interface{})                {}
func (m *mockLogger) Warn(msg string, f ...interface{})                {}
func (m *mockLogger) Error(msg string, f ...interface{})               {}
func (m *mockLogger) Fatal(msg string, f ...interface{})               {}
func (m *mockLogger) WithField(k string, v interface{}) core.ILogger   { return m }
func (m *mockLogger) WithFields(f map[string]interface{}) core.ILogger { return m }

func newManager() (*AlertManager, *concurrency.WorkerPool) {
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name: "alerts", Workers: 2, QueueSize: 16, DropWhenFull: true,
	}, &mockLogger{})
	return NewAlertManager(pool, &mockLogger{}), pool
}

func TestAlertManager_Alert(t *testing.T) {
	am, pool := newManager()

	ch1 := &mockAlertChannel{name: "mock1"}
	ch2 := &mockAlertChannel{name: "mock2"}
	am.AddChannel(ch1)
	am.AddChannel(ch2)
	assert.Equal(t, 2, am.ChannelCount())

	am.Alert(context.Background(), "Test Alert", "This is a test", Info, map[string]string{"key": "value"})
	pool.Stop()

	for _, ch := range []*mockAlertChannel{ch1, ch2} {
		sent := ch.getSent()
		require.Len(t, sent, 1, ch.name)
		assert.Equal(t, "Test Alert", sent[0].Title)
		assert.Equal(t, Info, sent[0].Level)
		assert.Equal(t, "value", sent[0].Fields["key"])
		assert.False(t, sent[0].Timestamp.IsZero())
	}
}

func TestAlertManager_NotifyImplementsNotifier(t *testing.T) {
	am, pool := newManager()
	ch := &mockAlertChannel{name: "mock"}
	am.AddChannel(ch)

	var n core.INotifier = am
	n.Notify(context.Background(), "CRITICAL", "Trade log write failed", "disk full", nil)
	pool.Stop()

	sent := ch.getSent()
	require.Len(t, sent, 1)
	assert.Equal(t, Critical, sent[0].Level)
}

func TestAlertManager_SurvivesCallerCancellation(t *testing.T) {
	am, pool := newManager()
	var sawErr error
	ch := &mockAlertChannel{name: "mock", sendFunc: func(ctx context.Context, _ AlertPayload) error {
		sawErr = ctx.Err()
		return nil
	}}
	am.AddChannel(ch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	am.Alert(ctx, "Position closed", "", Info, nil)
	pool.Stop()

	require.Len(t, ch.getSent(), 1)
	assert.NoError(t, sawErr)
}

func TestAlertManager_ChannelFailureIsIsolated(t *testing.T) {
	am, pool := newManager()
	bad := &mockAlertChannel{name: "bad", sendFunc: func(context.Context, AlertPayload) error {
		return errors.New("webhook down")
	}}
	good := &mockAlertChannel{name: "good"}
	am.AddChannel(bad)
	am.AddChannel(good)

	am.Alert(context.Background(), "t", "m", Warning, nil)
	pool.Stop()

	assert.Len(t, bad.getSent(), 1)
	assert.Len(t, good.getSent(), 1)
}

func TestAlertManager_NoChannels(t *testing.T) {
	am, pool := newManager()
	am.Alert(context.Background(), "t", "m", Info, nil)
	pool.Stop()
	assert.Equal(t, uint64(0), pool.Stats().Submitted)
}

func TestTelegramChannel_Send(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	ch := newTelegramChannel(server.URL, "TOKEN", "42")
	err := ch.Send(context.Background(), AlertPayload{
		Level:   Warning,
		Title:   "Position closed",
		Message: "Stop Loss",
		Fields:  map[string]string{"symbol": "DOGEUSDT", "exit_price": "0.0792"},
	})
	require.NoError(t, err)

	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "Markdown", got["parse_mode"])
	text := got["text"].(string)
	assert.Contains(t, text, "[WARNING] Position closed")
	// fields render sorted
	assert.Less(t, strings.Index(text, "exit_price"), strings.Index(text, "symbol"))
}

func TestTelegramChannel_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	err := newTelegramChannel(server.URL, "TOKEN", "42").Send(context.Background(), AlertPayload{Level: Info})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	// unconfigured channel is a no-op
	assert.NoError(t, NewTelegramChannel("", "").Send(context.Background(), AlertPayload{}))
}

func TestSlackChannel_Send(t *testing.T) {
	var got struct {
		Attachments []struct {
			Color   string `json:"color"`
			Pretext string `json:"pretext"`
			Text    string `json:"text"`
			Fields  []struct {
				Title string `json:"title"`
				Value string `json:"value"`
			} `json:"fields"`
			TS int64 `json:"ts"`
		} `json:"attachments"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	err := NewSlackChannel(server.URL).Send(context.Background(), AlertPayload{
		Level:     Critical,
		Title:     "Trade log write failed",
		Message:   "database is locked",
		Timestamp: at,
		Fields:    map[string]string{"side": "BUY", "quantity": "1250"},
	})
	require.NoError(t, err)

	require.Len(t, got.Attachments, 1)
	a := got.Attachments[0]
	assert.Equal(t, "#8b0000", a.Color)
	assert.Equal(t, "[CRITICAL] Trade log write failed", a.Pretext)
	assert.Equal(t, at.Unix(), a.TS)
	require.Len(t, a.Fields, 2)
	assert.Equal(t, "quantity", a.Fields[0].Title)
	assert.Equal(t, "side", a.Fields[1].Title)
}

func TestSlackChannel_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	err := NewSlackChannel(server.URL).Send(context.Background(), AlertPayload{Level: Info})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	assert.NoError(t, NewSlackChannel("").Send(context.Background(), AlertPayload{}))
}
