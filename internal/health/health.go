// Package health tracks whether a role can do its work and serves that
// state over HTTP.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

type State string

const (
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateUnready  State = "unready"
)

// Status is the readiness of one role. The zero value is not usable; call
// New.
type Status struct {
	role string

	mu      sync.RWMutex
	state   State
	reason  string
	changed time.Time
	now     func() time.Time
}

func New(role string) *Status {
	s := &Status{role: role, state: StateStarting, now: time.Now}
	s.changed = s.now()
	return s
}

func (s *Status) SetReady() { s.set(StateReady, "") }

func (s *Status) SetUnready(reason string) { s.set(StateUnready, reason) }

func (s *Status) set(state State, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == state && s.reason == reason {
		return
	}
	s.state, s.reason, s.changed = state, reason, s.now()
}

// Report is the JSON body of both endpoints.
type Report struct {
	Role   string    `json:"role"`
	Status State     `json:"status"`
	Reason string    `json:"reason,omitempty"`
	Since  time.Time `json:"since"`
}

func (s *Status) Report() Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Report{Role: s.role, Status: s.state, Reason: s.reason, Since: s.changed}
}

func (s *Status) Ready() bool {
	return s.Report().Status == StateReady
}

// Healthz answers 200 while the process is serving.
func (s *Status) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, http.StatusOK, s.Report())
}

// Readyz answers 200 when ready and 503 otherwise.
func (s *Status) Readyz(w http.ResponseWriter, _ *http.Request) {
	r := s.Report()
	status := http.StatusOK
	if r.Status != StateReady {
		status = http.StatusServiceUnavailable
	}
	writeReport(w, status, r)
}

// Register adds GET /healthz and GET /readyz to mux.
func (s *Status) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.Healthz)
	mux.HandleFunc("GET /readyz", s.Readyz)
}

func writeReport(w http.ResponseWriter, status int, r Report) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(r)
}
