// Package health serves the liveness and readiness probes. Readiness is
// gated twice: the process-wide drain flag flips during shutdown, and the
// dependency probes cover Postgres and Redis.
package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/noah-isme/backend-market/internal/common"
)

var draining atomic.Bool

// SetReady flips the process readiness gate. The server calls SetReady(false)
// when it starts draining so the load balancer stops routing new carts here.
func SetReady(ready bool) {
	draining.Store(!ready)
}

// Checker probes the stores the storefront cannot serve without.
type Checker interface {
	PingDB(ctx context.Context, timeout time.Duration) error
	PingRedis(ctx context.Context, timeout time.Duration) error
}

// Handler answers the probe endpoints.
type Handler struct {
	Checker      Checker
	DBTimeout    time.Duration
	RedisTimeout time.Duration
}

// Live only proves the process is up. It must stay dependency-free so a
// Redis outage does not get the pod restarted.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// Ready reports whether this instance should receive traffic: not draining,
// and both stores answering within their probe timeouts.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if draining.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	if h.Checker == nil {
		http.Error(w, "dependencies unavailable", http.StatusServiceUnavailable)
		return
	}

	ctx := r.Context()
	report := map[string]string{
		"db":    probe(func() error { return h.Checker.PingDB(ctx, orDefault(h.DBTimeout, 500*time.Millisecond)) }),
		"redis": probe(func() error { return h.Checker.PingRedis(ctx, orDefault(h.RedisTimeout, 300*time.Millisecond)) }),
	}

	status := http.StatusOK
	for _, outcome := range report {
		if outcome != "ok" {
			status = http.StatusServiceUnavailable
			break
		}
	}
	common.JSON(w, status, report)
}

func probe(ping func() error) string {
	if err := ping(); err != nil {
		return err.Error()
	}
	return "ok"
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
