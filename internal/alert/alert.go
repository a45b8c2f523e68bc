// Package alert fans trading notifications out to chat channels without
// blocking the trading loop.
package alert

import (
	"context"
	"sort"
	"sync"
	"time"

	"spot_trader/internal/core"
	"spot_trader/pkg/concurrency"
)

type AlertLevel string

const (
	Info     AlertLevel = "INFO"
	Warning  AlertLevel = "WARNING"
	Error    AlertLevel = "ERROR"
	Critical AlertLevel = "CRITICAL"
)

const sendTimeout = 10 * time.Second

type AlertPayload struct {
	Level     AlertLevel
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

// SortedFieldKeys returns the field names in a stable order for rendering.
func (p AlertPayload) SortedFieldKeys() []string {
	keys := make([]string, 0, len(p.Fields))
	for k := range p.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type AlertChannel interface {
	Send(ctx context.Context, alert AlertPayload) error
	Name() string
}

// AlertManager implements core.INotifier. Deliveries run on the worker pool;
// a full pool drops the alert and logs it.
type AlertManager struct {
	channels []AlertChannel
	pool     *concurrency.WorkerPool
	logger   core.ILogger
	now      func() time.Time
	mu       sync.RWMutex
}

func NewAlertManager(pool *concurrency.WorkerPool, logger core.ILogger) *AlertManager {
	return &AlertManager{
		channels: make([]AlertChannel, 0),
		pool:     pool,
		logger:   logger.WithField("component", "alert_manager"),
		now:      time.Now,
	}
}

var _ core.INotifier = (*AlertManager)(nil)

func (am *AlertManager) AddChannel(ch AlertChannel) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.channels = append(am.channels, ch)
	am.logger.Info("Added alert channel", "name", ch.Name())
}

// ChannelCount reports how many channels are registered.
func (am *AlertManager) ChannelCount() int {
	am.mu.RLock()
	defer am.mu.RUnlock()
	return len(am.channels)
}

// Notify satisfies core.INotifier.
func (am *AlertManager) Notify(ctx context.Context, level, title, message string, fields map[string]string) {
	am.Alert(ctx, title, message, AlertLevel(level), fields)
}

// Alert queues payload for every channel and returns immediately.
func (am *AlertManager) Alert(ctx context.Context, title, message string, level AlertLevel, fields map[string]string) {
	payload := AlertPayload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: am.now(),
		Fields:    fields,
	}

	am.mu.RLock()
	channels := append([]AlertChannel(nil), am.channels...)
	am.mu.RUnlock()

	if len(channels) == 0 {
		return
	}
	am.logger.Debug("Triggering alert", "title", title, "level", level)

	// delivery outlives the tick that raised it
	base := context.WithoutCancel(ctx)
	for _, ch := range channels {
		c := ch
		err := am.pool.Submit(func() {
			sendCtx, cancel := context.WithTimeout(base, sendTimeout)
			defer cancel()

			if err := c.Send(sendCtx, payload); err != nil {
				am.logger.Error("Failed to send alert", "channel", c.Name(), "title", title, "error", err)
			}
		})
		if err != nil {
			am.logger.Warn("Alert dropped", "channel", c.Name(), "title", title, "error", err)
		}
	}
}
