package monitoring

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/NERVsystems/mapty/pkg/version"
)

// Component states reported in ServiceHealth.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"

	connConnected = "connected"
	connError     = "error"
)

// Probe checks one dependency. It must honor ctx.
type Probe func(ctx context.Context) error

type gate struct {
	check    func() error
	required bool
}

// HealthChecker aggregates two kinds of state: dependencies probed in the
// background (the store, the tile upstream) and gates evaluated on every
// request (has the log been restored, is the map up). A failing required
// gate makes the service not ready; any other failure degrades it.
type HealthChecker struct {
	service string
	version string
	started time.Time

	mu    sync.RWMutex
	deps  map[string]ConnStatus
	gates map[string]gate
}

// NewHealthChecker creates a checker for service at version.
func NewHealthChecker(service, version string) *HealthChecker {
	return &HealthChecker{
		service: service,
		version: version,
		started: time.Now(),
		deps:    make(map[string]ConnStatus),
		gates:   make(map[string]gate),
	}
}

// Gate registers a condition evaluated on every health request. check
// returns nil when the condition holds.
func (h *HealthChecker) Gate(name string, required bool, check func() error) {
	h.mu.Lock()
	h.gates[name] = gate{check: check, required: required}
	h.mu.Unlock()
}

// Observe records the outcome of one dependency probe.
func (h *HealthChecker) Observe(name string, latency time.Duration, err error) {
	st := ConnStatus{Name: name, Status: connConnected, Latency: latency.Milliseconds()}
	if err != nil {
		st.Status = connError
		st.LastError = err.Error()
	}
	h.mu.Lock()
	h.deps[name] = st
	h.mu.Unlock()
}

// Watch probes a dependency immediately and then every interval until ctx
// is done. Each probe gets timeout.
func (h *HealthChecker) Watch(ctx context.Context, name string, probe Probe, interval, timeout time.Duration) {
	check := func() {
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		start := time.Now()
		err := probe(probeCtx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Debug("dependency check failed", "dependency", name, "error", err)
			RecordError(name, "health_check")
		}
		h.Observe(name, time.Since(start), err)
	}

	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

// GetHealth evaluates every gate and summarizes the dependencies. The
// service is unhealthy when a required gate fails or more than half of the
// dependencies are failing.
func (h *HealthChecker) GetHealth() ServiceHealth {
	h.mu.RLock()
	connections := make(map[string]ConnStatus, len(h.deps)+len(h.gates))
	depCount, failingDeps := len(h.deps), 0
	for name, st := range h.deps {
		connections[name] = st
		if st.Status != connConnected {
			failingDeps++
		}
	}
	gates := make(map[string]gate, len(h.gates))
	for name, g := range h.gates {
		gates[name] = g
	}
	h.mu.RUnlock()

	var blocking, failingGates []string
	for name, g := range gates {
		st := ConnStatus{Name: name, Status: connConnected}
		if err := g.check(); err != nil {
			st.Status = connError
			st.LastError = err.Error()
			failingGates = append(failingGates, name)
			if g.required {
				blocking = append(blocking, name)
			}
		}
		connections[name] = st
	}
	sort.Strings(blocking)

	status := StatusHealthy
	switch {
	case len(blocking) > 0 || failingDeps*2 > depCount:
		status = StatusUnhealthy
	case failingDeps > 0 || len(failingGates) > 0:
		status = StatusDegraded
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	uptime := time.Since(h.started)
	return ServiceHealth{
		Service:       h.service,
		Version:       h.version,
		Status:        status,
		Uptime:        uptime,
		UptimeSeconds: int64(uptime.Seconds()),
		StartTime:     h.started,
		Connections:   connections,
		NotReady:      blocking,
		Metrics: map[string]interface{}{
			"goroutines":      runtime.NumGoroutine(),
			"memory_alloc_mb": m.Alloc / 1024 / 1024,
			"gc_runs":         m.NumGC,
			"cpu_count":       runtime.NumCPU(),
			"version_info":    version.Info(),
		},
	}
}

// HealthHandler serves the full report; 503 when unhealthy.
func (h *HealthChecker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := h.GetHealth()
		code := http.StatusOK
		if health.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, health)
	}
}

// ReadinessHandler reports whether the service can take user actions.
func (h *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := h.GetHealth()
		ready := health.Status != StatusUnhealthy
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]interface{}{
			"ready":     ready,
			"status":    health.Status,
			"not_ready": health.NotReady,
		})
	}
}

// LivenessHandler always answers 200 while the process serves HTTP.
func (h *HealthChecker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"alive":  true,
			"uptime": time.Since(h.started).String(),
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode health response", "error", err)
	}
}

// CollectSystemMetrics refreshes the runtime gauges every interval until
// ctx is done.
func CollectSystemMetrics(ctx context.Context, interval time.Duration) {
	info := version.Info()
	SystemInfo.WithLabelValues(info["version"], info["go_version"], info["commit"], info["build_date"]).Set(1)

	update := func() {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		GoRoutines.Set(float64(runtime.NumGoroutine()))
		MemoryUsage.Set(float64(m.Alloc))
	}

	update()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}
