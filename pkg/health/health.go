// Package health tracks the gateway lifecycle state and serves the probe
// endpoints.
package health

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

// State is a phase of the gateway lifecycle.
type State int32

const (
	// StateStarting is the phase before the listener accepts traffic.
	StateStarting State = iota

	// StateReady means the gateway is serving requests.
	StateReady

	// StateDraining means shutdown has begun; in-flight requests finish
	// but readiness fails so load balancers route new sessions elsewhere.
	StateDraining
)

// String returns the state name used in probe responses.
func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	default:
		return "starting"
	}
}

// Checker tracks the gateway's lifecycle state for the probe endpoints.
// It is safe for concurrent use.
type Checker struct {
	state atomic.Int32
}

// NewChecker creates a Checker in the Starting state.
func NewChecker() *Checker {
	return &Checker{}
}

// SetReady marks the gateway as serving.
func (c *Checker) SetReady() {
	c.state.Store(int32(StateReady))
}

// SetDraining marks the gateway as shutting down.
func (c *Checker) SetDraining() {
	c.state.Store(int32(StateDraining))
}

// State returns the current lifecycle state.
func (c *Checker) State() State {
	return State(c.state.Load())
}

// IsReady reports whether the gateway is in the Ready state.
func (c *Checker) IsReady() bool {
	return c.State() == StateReady
}

// Liveness serves the liveness probe (/healthz). It answers 200 as long as
// the process runs, draining included.
func (*Checker) Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	}
}

// Readiness serves the readiness probe (/readyz): 200 when ready, 503 while
// starting or draining.
func (c *Checker) Readiness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		state := c.State()
		code := http.StatusOK
		if state != StateReady {
			code = http.StatusServiceUnavailable
		}
		writeStatus(w, code, state.String())
	}
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}
