// Package health exposes Kubernetes-style liveness and readiness probes.
//
// Checks run on a background ticker rather than inline with probe requests,
// so a slow dependency (the postgres pool, redis) cannot stall the kubelet.
// A check must fail several times in a row before it flips unhealthy, which
// rides out one-off blips like a connection pool hiccup during failover.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc probes one dependency. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

const (
	// failuresToTrip is how many consecutive failures mark a probe
	// unhealthy. A single success restores it.
	failuresToTrip = 3
)

// probe is one registered check plus its rolling verdict.
type probe struct {
	name    string
	timeout time.Duration
	check   CheckFunc

	healthy  atomic.Bool
	failures atomic.Int32
	lastErr  atomic.Pointer[error]
}

func newProbe(name string, timeout time.Duration, check CheckFunc) *probe {
	p := &probe{name: name, timeout: timeout, check: check}
	p.healthy.Store(true)
	return p
}

func (p *probe) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.check(ctx)
	if err == nil {
		p.failures.Store(0)
		p.healthy.Store(true)
		p.lastErr.Store(nil)
		return
	}
	p.lastErr.Store(&err)
	if p.failures.Add(1) >= failuresToTrip {
		p.healthy.Store(false)
	}
}

// failure returns the probe name and last error when the probe is tripped.
func (p *probe) failure() (string, string, bool) {
	if p.healthy.Load() {
		return "", "", false
	}
	msg := "check failed"
	if errp := p.lastErr.Load(); errp != nil {
		msg = (*errp).Error()
	}
	return p.name, msg, true
}

// Health aggregates liveness and readiness probes and serves them over HTTP.
type Health struct {
	ready atomic.Bool

	mu        sync.Mutex
	liveness  []*probe
	readiness []*probe
	cancel    context.CancelFunc
}

// New returns a Health with no checks registered. Until SetReady(true) is
// called the readiness endpoint reports 503 regardless of check results.
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a check behind /livez. Liveness failures
// prompt the orchestrator to restart the process, so only register checks
// for conditions a restart can fix.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, newProbe(name, timeout, check))
}

// AddReadinessCheck registers a check behind /readyz. Readiness failures
// only remove the pod from the load balancer.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, newProbe(name, timeout, check))
}

// Start begins running all registered checks every interval. It runs one
// round immediately so endpoints have real verdicts before the first tick.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	probes := make([]*probe, 0, len(h.liveness)+len(h.readiness))
	probes = append(probes, h.liveness...)
	probes = append(probes, h.readiness...)
	h.mu.Unlock()

	runAll := func() {
		var wg sync.WaitGroup
		for _, p := range probes {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.run(ctx)
			}()
		}
		wg.Wait()
	}

	runAll()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runAll()
			}
		}
	}()
}

// Stop halts the background check loop.
func (h *Health) Stop() {
	h.mu.Lock()
	cancel := h.cancel
	h.cancel = nil
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// SetReady flips the manual readiness gate. It is set true once startup
// finishes and false when graceful shutdown begins, draining traffic before
// the listener closes.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports the manual readiness gate.
func (h *Health) IsReady() bool {
	return h.ready.Load()
}

type statusResponse struct {
	Status string            `json:"status"`
	Errors map[string]string `json:"errors,omitempty"`
}

func (h *Health) collectFailures(probes []*probe) map[string]string {
	var failures map[string]string
	for _, p := range probes {
		if name, msg, failed := p.failure(); failed {
			if failures == nil {
				failures = make(map[string]string)
			}
			failures[name] = msg
		}
	}
	return failures
}

// LiveEndpoint serves the liveness verdict: 200 when every liveness check
// is healthy, 503 otherwise.
func (h *Health) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	probes := h.liveness
	h.mu.Unlock()
	writeVerdict(w, h.collectFailures(probes))
}

// ReadyEndpoint serves the readiness verdict. It reports 503 when the
// manual gate is down or any readiness check is failing.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() {
		writeStatus(w, http.StatusServiceUnavailable, statusResponse{
			Status: "unavailable",
			Errors: map[string]string{"ready": "service not ready"},
		})
		return
	}
	h.mu.Lock()
	probes := h.readiness
	h.mu.Unlock()
	writeVerdict(w, h.collectFailures(probes))
}

func writeVerdict(w http.ResponseWriter, failures map[string]string) {
	if len(failures) > 0 {
		writeStatus(w, http.StatusServiceUnavailable, statusResponse{Status: "unavailable", Errors: failures})
		return
	}
	writeStatus(w, http.StatusOK, statusResponse{Status: "ok"})
}

func writeStatus(w http.ResponseWriter, code int, body statusResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
