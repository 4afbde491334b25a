// Package connectivity observes network reachability and fans it out to
// any number of subscribers.
//
// A platform-specific Source reports raw state; Monitor de-duplicates it,
// remembers the latest value, and hands every new subscriber that value
// first. Monitor construction fails if the source cannot report a state or
// accept a listener: the monitor never assumes online or offline.
package connectivity

import (
	"fmt"
	"strings"
)

// Transport classifies the active network path.
type Transport string

const (
	TransportNone      Transport = "NONE"
	TransportMetered   Transport = "METERED"
	TransportUnmetered Transport = "UNMETERED"
)

// ParseTransport accepts a transport name in any case.
func ParseTransport(s string) (Transport, error) {
	switch Transport(strings.ToUpper(strings.TrimSpace(s))) {
	case TransportNone:
		return TransportNone, nil
	case TransportMetered:
		return TransportMetered, nil
	case TransportUnmetered:
		return TransportUnmetered, nil
	}
	return "", fmt.Errorf("unknown transport %q", s)
}

// State is a point-in-time connectivity observation.
type State struct {
	Connected bool      `json:"connected"`
	Transport Transport `json:"transport"`
}

// Offline is the disconnected state.
func Offline() State {
	return State{Connected: false, Transport: TransportNone}
}

// Online returns a connected state over the given transport.
func Online(t Transport) State {
	return State{Connected: true, Transport: t}
}

func (s State) String() string {
	if !s.Connected {
		return "offline"
	}
	return "online/" + strings.ToLower(string(s.Transport))
}

// Source is the platform hook behind a Monitor.
//
// Current returns the state right now. Subscribe registers fn for future
// changes and returns a function that unregisters it. fn may be called from
// any goroutine and must not block.
type Source interface {
	Current() (State, error)
	Subscribe(fn func(State)) (cancel func(), err error)
}
