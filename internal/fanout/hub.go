package fanout

import (
	"context"
	"sync"
)

// Hub broadcasts values to any number of independent subscribers.
//
// Each subscriber owns an unbounded queue drained by its own goroutine, so
// Publish never blocks and a slow subscriber cannot delay the others.
type Hub[T any] struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription[T]
	nextID uint64
	closed bool
}

// NewHub creates a hub with no subscribers.
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[uint64]*Subscription[T])}
}

// Subscribe registers a new subscriber. Any initial values are delivered
// before values published after this call. Subscribing to a closed hub
// returns a subscription whose channel is already closed.
func (h *Hub[T]) Subscribe(initial ...T) *Subscription[T] {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscription[T]{
		queue:  NewQueue[T](),
		out:    make(chan T),
		cancel: cancel,
		hub:    h,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.queue.Close()
	} else {
		for _, v := range initial {
			s.queue.Push(v)
		}
		h.nextID++
		s.id = h.nextID
		h.subs[s.id] = s
		h.mu.Unlock()
	}

	go s.pump(ctx)
	return s
}

// Publish delivers v to every current subscriber and returns how many
// received it.
func (h *Hub[T]) Publish(v T) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, s := range h.subs {
		if s.queue.Push(v) {
			n++
		}
	}
	return n
}

// Len returns the number of active subscribers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription after its queued values are delivered.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, s := range h.subs {
		s.queue.Close()
		delete(h.subs, id)
	}
}

func (h *Hub[T]) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

// Subscription is one subscriber's view of a Hub.
type Subscription[T any] struct {
	id     uint64
	queue  *Queue[T]
	out    chan T
	cancel context.CancelFunc
	once   sync.Once
	hub    *Hub[T]
}

// C returns the delivery channel. It is closed after Cancel or Hub.Close.
func (s *Subscription[T]) C() <-chan T {
	return s.out
}

// Cancel stops delivery to this subscriber only. Undelivered values are
// dropped. Safe to call more than once.
func (s *Subscription[T]) Cancel() {
	s.once.Do(func() {
		s.hub.remove(s.id)
		s.queue.Close()
		s.cancel()
	})
}

func (s *Subscription[T]) pump(ctx context.Context) {
	defer close(s.out)
	defer s.cancel()
	for {
		v, err := s.queue.Pop(ctx)
		if err != nil {
			return
		}
		select {
		case s.out <- v:
		case <-ctx.Done():
			return
		}
	}
}
