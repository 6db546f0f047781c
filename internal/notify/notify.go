// Package notify rate-limits the status indications the engine emits when
// scores or contacts change.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/omomi/internal/telemetry"
)

// Kind is a notification category. Each kind is limited independently.
type Kind int

const (
	MessageScoresUpdated Kind = iota + 1
	AddressScoresUpdated
	ContactSetChanged
)

func (k Kind) String() string {
	switch k {
	case MessageScoresUpdated:
		return "message_scores_updated"
	case AddressScoresUpdated:
		return "address_scores_updated"
	case ContactSetChanged:
		return "contact_set_changed"
	default:
		return fmt.Sprintf("notify(%d)", int(k))
	}
}

// DefaultInterval is the minimum gap between two notifications of one kind.
const DefaultInterval = 2 * time.Second

// State is the per-kind limiter state.
type State struct {
	LastNotified time.Time
}

// ShouldNotify decides whether a notification at now may go out and returns
// the state to keep. A zero state always allows.
func ShouldNotify(now time.Time, st State, interval time.Duration) (bool, State) {
	if st.LastNotified.IsZero() || now.Sub(st.LastNotified) > interval {
		return true, State{LastNotified: now}
	}
	return false, st
}

// Sink receives notifications that passed the limiter.
type Sink interface {
	Notify(kind Kind)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(kind Kind)

func (f SinkFunc) Notify(kind Kind) { f(kind) }

// Limiter applies ShouldNotify per kind and holds notifications back while
// disabled. Re-enabling flushes every held kind at once.
type Limiter struct {
	interval time.Duration
	sink     Sink
	logger   *slog.Logger
	now      func() time.Time
	sent     metric.Int64Counter

	mu      sync.Mutex
	running bool
	states  map[Kind]State
	pending map[Kind]struct{}
}

// NewLimiter creates an enabled limiter. interval <= 0 selects DefaultInterval.
func NewLimiter(interval time.Duration, sink Sink, logger *slog.Logger) *Limiter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	sent, _ := telemetry.Meter("omomi/notify").Int64Counter("omomi.notifications.sent",
		metric.WithDescription("Notifications delivered after rate limiting"))
	return &Limiter{
		interval: interval,
		sink:     sink,
		logger:   logger,
		now:      time.Now,
		sent:     sent,
		running:  true,
		states:   make(map[Kind]State),
		pending:  make(map[Kind]struct{}),
	}
}

// Notify sends kind unless it was sent within the interval. While disabled
// it only remembers the kind.
func (l *Limiter) Notify(kind Kind) bool {
	l.mu.Lock()
	if !l.running {
		l.pending[kind] = struct{}{}
		l.mu.Unlock()
		return false
	}
	ok, st := ShouldNotify(l.now(), l.states[kind], l.interval)
	l.states[kind] = st
	l.mu.Unlock()

	if ok {
		l.deliver(kind)
	}
	return ok
}

// SetRunning enables or disables delivery. Disabling forgets the last send
// times; enabling sends every kind held while disabled.
func (l *Limiter) SetRunning(running bool) {
	l.mu.Lock()
	if !running {
		l.running = false
		clear(l.states)
		l.mu.Unlock()
		return
	}
	l.running = true
	now := l.now()
	held := make([]Kind, 0, len(l.pending))
	for k := range l.pending {
		l.states[k] = State{LastNotified: now}
		held = append(held, k)
	}
	clear(l.pending)
	l.mu.Unlock()

	for _, k := range held {
		l.deliver(k)
	}
}

// Running reports whether delivery is enabled.
func (l *Limiter) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *Limiter) deliver(kind Kind) {
	if l.sent != nil {
		l.sent.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind.String())))
	}
	if l.sink == nil {
		return
	}
	l.logger.Debug("notify: sending", "kind", kind.String())
	l.sink.Notify(kind)
}
