package connectivity

import "sync"

// ManualSource is a Source driven by explicit Set calls. Embedding hosts
// use it to forward their own platform callbacks.
type ManualSource struct {
	mu        sync.Mutex
	state     State
	listeners map[int]func(State)
	nextID    int
}

// NewManualSource creates a source reporting initial.
func NewManualSource(initial State) *ManualSource {
	return &ManualSource{state: initial, listeners: make(map[int]func(State))}
}

// Current implements Source.
func (s *ManualSource) Current() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

// Subscribe implements Source.
func (s *ManualSource) Subscribe(fn func(State)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.listeners, id)
		})
	}, nil
}

// Set records a new state and notifies listeners synchronously.
func (s *ManualSource) Set(state State) {
	s.mu.Lock()
	s.state = state
	fns := make([]func(State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

// Listeners returns the number of registered listeners.
func (s *ManualSource) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}
