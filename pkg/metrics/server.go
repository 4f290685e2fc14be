package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/resilience"
)

// StartServer serves /metrics on its own port so scrapes never compete with
// search traffic for the API server's timeouts.
func StartServer(port int) (shutdown func(context.Context) error) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	log := slog.Default().With("component", "metrics-server")
	go func() {
		log.Info("metrics server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", "error", err)
		}
	}()

	return server.Shutdown
}

// ObserveBreaker returns an OnStateChange hook that mirrors a circuit
// breaker's state into the circuit_breaker_state gauge.
func (m *Metrics) ObserveBreaker() func(name string, from, to resilience.State) {
	return func(name string, _, to resilience.State) {
		m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
	}
}

// ObserveJob records one scheduled job iteration.
func (m *Metrics) ObserveJob(job string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.JobRunsTotal.WithLabelValues(job, result).Inc()
	m.JobDuration.WithLabelValues(job).Observe(d.Seconds())
}
