package connectivity

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/offsync/internal/fanout"
)

// Monitor is a live, multi-subscriber view over a Source.
//
// Thread-safety: all methods are safe for concurrent use. Source callbacks
// never block on subscribers.
type Monitor struct {
	mu        sync.Mutex
	current   State
	hub       *fanout.Hub[State]
	cancelSrc func()
	logger    *slog.Logger
	closed    bool
	// seeded is set once current holds a state reported by the source.
	seeded bool
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithLogger sets the monitor logger.
func WithLogger(l *slog.Logger) MonitorOption {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewMonitor registers for changes on src and then reads its initial state,
// so a change racing the read is never lost. Either step failing is
// returned as an error.
func NewMonitor(src Source, opts ...MonitorOption) (*Monitor, error) {
	if src == nil {
		return nil, fmt.Errorf("connectivity: nil source")
	}

	m := &Monitor{
		hub:    fanout.NewHub[State](),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	cancel, err := src.Subscribe(m.update)
	if err != nil {
		return nil, fmt.Errorf("connectivity: register listener: %w", err)
	}
	m.cancelSrc = cancel

	initial, err := src.Current()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("connectivity: read initial state: %w", err)
	}

	m.mu.Lock()
	if !m.seeded {
		m.current = initial
		m.seeded = true
	}
	state := m.current
	m.mu.Unlock()

	m.logger.Info("connectivity monitor started", "state", state.String())
	return m, nil
}

// Current returns the latest observed state.
func (m *Monitor) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Subscribe returns a subscription that first yields the current state and
// then every subsequent change. Cancel it independently of other subscribers.
func (m *Monitor) Subscribe() *fanout.Subscription[State] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hub.Subscribe(m.current)
}

// Close unregisters from the source and closes all subscriptions.
func (m *Monitor) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	cancel := m.cancelSrc
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.hub.Close()
}

func (m *Monitor) update(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if !m.seeded {
		m.current = s
		m.seeded = true
		return
	}
	if s == m.current {
		return
	}
	m.logger.Info("connectivity changed", "from", m.current.String(), "to", s.String())
	m.current = s
	m.hub.Publish(s)
}
