// Package notify fans a dcabot Event out to one or more external
// channels (currently a generic JSON webhook). Adapted from the
// teacher's internal/alert package: an AlertManager broadcasting to
// AlertChannel implementations, generalized to dcabot's core.Notifier
// contract (Severity instead of a bespoke AlertLevel, a metadata map
// instead of free-form Fields).
package notify

import (
	"context"
	"sync"
	"time"

	"dcabot/internal/core"
)

// Channel delivers a single notification payload to an external
// system. Send errors are logged, never propagated — notification
// failures must never block or fail the trading path.
type Channel interface {
	Name() string
	Send(ctx context.Context, payload Payload) error
}

// Payload is the rendered form of an Event handed to each Channel.
type Payload struct {
	Severity  core.Severity
	Title     string
	Body      string
	Timestamp time.Time
	Metadata  map[string]string
}

// Manager implements core.Notifier, broadcasting to every registered
// Channel concurrently and with a per-channel timeout.
type Manager struct {
	channels []Channel
	logger   core.Logger
	mu       sync.RWMutex
}

var _ core.Notifier = (*Manager)(nil)

// NewManager builds an empty Manager; channels are added with AddChannel.
func NewManager(logger core.Logger) *Manager {
	return &Manager{
		channels: make([]Channel, 0),
		logger:   logger.WithFields("component", "notify_manager"),
	}
}

// AddChannel registers a delivery channel.
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
	m.logger.Info("added notification channel", "name", ch.Name())
}

// Send implements core.Notifier: fan out to every channel without
// blocking the caller. Delivery is best-effort; a dropped webhook
// must never stall the cycle controller.
func (m *Manager) Send(ctx context.Context, severity core.Severity, title, body string, metadata map[string]string) {
	payload := Payload{
		Severity:  severity,
		Title:     title,
		Body:      body,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}

	m.mu.RLock()
	channels := make([]Channel, len(m.channels))
	copy(channels, m.channels)
	m.mu.RUnlock()

	for _, ch := range channels {
		go func(c Channel) {
			timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := c.Send(timeoutCtx, payload); err != nil {
				m.logger.Error("notification delivery failed", "channel", c.Name(), "error", err)
			}
		}(ch)
	}
}
