// Package health serves the probe endpoints for the engine process, shaped
// around the session fleet:
//
//   - /healthz — liveness: reports process uptime; 200 while HTTP works.
//   - /readyz  — readiness: pings each registered dependency (e.g. the
//     event sink) and reports the fleet's session headroom. Only a failing
//     dependency makes the probe fail — a full fleet is still ready (opens
//     are rejected, existing streams keep flowing), but the headroom in the
//     body lets an orchestrator scale before that happens.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/nullwave/nullwave/pkg/anc"
)

// pingTimeout bounds a single dependency ping.
const pingTimeout = 5 * time.Second

// Dependency is an external collaborator whose reachability gates readiness.
// Ping returns nil when the dependency is usable and must respect context
// cancellation.
type Dependency struct {
	// Name keys the dependency's result in the readiness body.
	Name string

	Ping func(ctx context.Context) error
}

// Probes serves /healthz and /readyz for one engine. Safe for concurrent
// use; the dependency list is fixed at construction.
type Probes struct {
	started     time.Time
	fleet       func() anc.FleetStats
	maxSessions int
	deps        []Dependency
}

// New creates the probe handler. fleet supplies the live session counters
// (typically SessionManager.SnapshotFleet) and maxSessions the configured
// cap, so /readyz can report remaining session headroom.
func New(fleet func() anc.FleetStats, maxSessions int, deps ...Dependency) *Probes {
	d := make([]Dependency, len(deps))
	copy(d, deps)
	return &Probes{
		started:     time.Now(),
		fleet:       fleet,
		maxSessions: maxSessions,
		deps:        d,
	}
}

// Register adds the probe routes to mux.
func (p *Probes) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", p.Healthz)
	mux.HandleFunc("GET /readyz", p.Readyz)
}

// liveness is the /healthz body.
type liveness struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// readiness is the /readyz body.
type readiness struct {
	Status       string            `json:"status"`
	Sessions     sessionHeadroom   `json:"sessions"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

type sessionHeadroom struct {
	Active   int `json:"active"`
	Capacity int `json:"capacity"`
	Headroom int `json:"headroom"`
}

// Healthz reports liveness: a process that can serve this request is alive.
func (p *Probes) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, liveness{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(p.started).Seconds()),
	})
}

// Readyz pings every dependency and reports fleet headroom. It returns 503
// only when a dependency fails.
func (p *Probes) Readyz(w http.ResponseWriter, r *http.Request) {
	body := readiness{Status: "ok"}

	if len(p.deps) > 0 {
		body.Dependencies = make(map[string]string, len(p.deps))
	}
	for _, d := range p.deps {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		err := d.Ping(ctx)
		cancel()

		if err != nil {
			body.Dependencies[d.Name] = "fail: " + err.Error()
			body.Status = "fail"
		} else {
			body.Dependencies[d.Name] = "ok"
		}
	}

	fs := p.fleet()
	body.Sessions = sessionHeadroom{
		Active:   fs.ActiveSessions,
		Capacity: p.maxSessions,
		Headroom: max(p.maxSessions-fs.ActiveSessions, 0),
	}

	status := http.StatusOK
	if body.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
