package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Probe defaults.
const (
	DefaultProbeInterval = 10 * time.Second
	DefaultProbeTimeout  = 3 * time.Second
)

// DialFunc matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// ProbeSource reports connectivity by periodically opening a TCP connection
// to a fixed address. Reachable means connected over the configured
// transport; unreachable means offline.
//
// Probing runs only while at least one listener is registered.
type ProbeSource struct {
	addr      string
	interval  time.Duration
	timeout   time.Duration
	transport Transport
	dial      DialFunc
	logger    *slog.Logger

	mu        sync.Mutex
	listeners map[int]func(State)
	nextID    int
	last      *State
	stop      chan struct{}
	done      chan struct{}
}

// ProbeOption configures a ProbeSource.
type ProbeOption func(*ProbeSource)

// WithProbeInterval sets the time between probes.
func WithProbeInterval(d time.Duration) ProbeOption {
	return func(p *ProbeSource) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithProbeTimeout bounds a single dial.
func WithProbeTimeout(d time.Duration) ProbeOption {
	return func(p *ProbeSource) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithTransport sets the transport reported when the address is reachable.
func WithTransport(t Transport) ProbeOption {
	return func(p *ProbeSource) {
		if t != "" && t != TransportNone {
			p.transport = t
		}
	}
}

// WithDialer replaces the network dialer.
func WithDialer(d DialFunc) ProbeOption {
	return func(p *ProbeSource) {
		if d != nil {
			p.dial = d
		}
	}
}

// WithProbeLogger sets the probe logger.
func WithProbeLogger(l *slog.Logger) ProbeOption {
	return func(p *ProbeSource) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewProbeSource creates a source probing addr ("host:port").
func NewProbeSource(addr string, opts ...ProbeOption) *ProbeSource {
	var d net.Dialer
	p := &ProbeSource{
		addr:      addr,
		interval:  DefaultProbeInterval,
		timeout:   DefaultProbeTimeout,
		transport: TransportUnmetered,
		dial:      d.DialContext,
		logger:    slog.Default(),
		listeners: make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Current implements Source. The first call probes synchronously; later
// calls return the most recent result.
func (p *ProbeSource) Current() (State, error) {
	if p.addr == "" {
		return State{}, errors.New("probe source: no address configured")
	}
	p.mu.Lock()
	last := p.last
	p.mu.Unlock()
	if last != nil {
		return *last, nil
	}
	s := p.probe(context.Background())
	p.record(s)
	return s, nil
}

// Subscribe implements Source. The first listener starts the probe loop and
// the last cancellation stops it.
func (p *ProbeSource) Subscribe(fn func(State)) (func(), error) {
	if p.addr == "" {
		return nil, errors.New("probe source: no address configured")
	}

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	if p.stop == nil {
		p.stop = make(chan struct{})
		p.done = make(chan struct{})
		go p.loop(p.stop, p.done)
	}
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { p.unsubscribe(id) })
	}, nil
}

func (p *ProbeSource) unsubscribe(id int) {
	p.mu.Lock()
	delete(p.listeners, id)
	if len(p.listeners) > 0 || p.stop == nil {
		p.mu.Unlock()
		return
	}
	stop, done := p.stop, p.done
	p.stop, p.done = nil, nil
	p.mu.Unlock()

	close(stop)
	<-done
}

func (p *ProbeSource) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s := p.probe(ctx)
			if ctx.Err() != nil {
				return
			}
			p.notify(s)
		}
	}
}

func (p *ProbeSource) probe(ctx context.Context) State {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dial(ctx, "tcp", p.addr)
	if err != nil {
		p.logger.Debug("probe failed", "address", p.addr, "error", err)
		return Offline()
	}
	conn.Close()
	return Online(p.transport)
}

func (p *ProbeSource) record(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = &s
}

func (p *ProbeSource) notify(s State) {
	p.mu.Lock()
	p.last = &s
	fns := make([]func(State), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}
