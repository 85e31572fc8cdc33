// Package deviceio holds the state of the device's relay outputs.
package deviceio

import (
	"fmt"
	"sync"

	"github.com/juju/errors"
)

// IdleOpen is the idle state reported for every relay and input.
const IdleOpen = "open"

// RelayListener is told about relay state changes.
type RelayListener func(token string, active bool)

// Relay is a snapshot of one output.
type Relay struct {
	Token     string `json:"token"`
	Active    bool   `json:"active"`
	IdleState string `json:"idleState"`
	Mode      string `json:"mode"`
}

// Relays is a fixed bank of relay outputs named Relay0..RelayN-1.
type Relays struct {
	// notify orders state changes with their listener calls.
	notify sync.Mutex

	mu        sync.Mutex
	relays    []Relay
	listeners []RelayListener
}

// NewRelays creates count inactive bistable outputs.
func NewRelays(count int) *Relays {
	r := &Relays{relays: make([]Relay, count)}
	for i := range r.relays {
		r.relays[i] = Relay{Token: Token(i), IdleState: IdleOpen, Mode: "Bistable"}
	}

	return r
}

// Token names the index-th relay.
func Token(index int) string {
	return fmt.Sprintf("Relay%d", index)
}

// OnChange registers a listener.
func (r *Relays) OnChange(l RelayListener) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.listeners = append(r.listeners, l)
}

// List returns every relay in token order.
func (r *Relays) List() []Relay {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Relay(nil), r.relays...)
}

// Get returns a snapshot of one relay.
func (r *Relays) Get(token string) (Relay, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.index(token)
	if idx < 0 {
		return Relay{}, errors.NotFoundf("relay output %q", token)
	}

	return r.relays[idx], nil
}

// Set drives a relay. Listeners run only when the state actually changes,
// in the order the changes were applied. They must not call Set.
func (r *Relays) Set(token string, active bool) error {
	r.notify.Lock()
	defer r.notify.Unlock()

	r.mu.Lock()

	idx := r.index(token)
	if idx < 0 {
		r.mu.Unlock()
		return errors.NotFoundf("relay output %q", token)
	}

	changed := r.relays[idx].Active != active
	r.relays[idx].Active = active
	listeners := append([]RelayListener(nil), r.listeners...)
	r.mu.Unlock()

	if changed {
		for _, l := range listeners {
			l(token, active)
		}
	}

	return nil
}

// SetLogicalState applies an ONVIF LogicalState value ("active"/"inactive").
func (r *Relays) SetLogicalState(token, state string) error {
	switch state {
	case "active":
		return r.Set(token, true)
	case "inactive":
		return r.Set(token, false)
	default:
		return errors.NotValidf("relay logical state %q", state)
	}
}

func (r *Relays) index(token string) int {
	for i, relay := range r.relays {
		if relay.Token == token {
			return i
		}
	}

	return -1
}
