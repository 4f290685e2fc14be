// Package middleware provides the HTTP middleware of the search API:
// request IDs, user scoping, CORS, rate limiting, Prometheus metrics, and
// request timeouts.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/metrics"
)

// Metrics records request count, latency and in-flight requests, labelled
// by route with cache keys folded into {key}.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.HTTPRequestsInFlight.Inc()
			defer m.HTTPRequestsInFlight.Dec()

			rw := &recordingWriter{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(rw, r)
			elapsed := time.Since(start)

			route := routeLabel(r.URL.Path)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.code())).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
		})
	}
}

// recordingWriter remembers the first status code written.
type recordingWriter struct {
	http.ResponseWriter
	status int
}

func (rw *recordingWriter) WriteHeader(code int) {
	if rw.status == 0 {
		rw.status = code
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recordingWriter) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *recordingWriter) code() int {
	if rw.status == 0 {
		return http.StatusOK
	}
	return rw.status
}

func routeLabel(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if looksLikeCacheKey(seg) {
			segments[i] = "{key}"
		}
	}
	return strings.Join(segments, "/")
}

// looksLikeCacheKey matches the 32 lowercase hex digits of a search key.
func looksLikeCacheKey(s string) bool {
	return len(s) == 32 && strings.Trim(s, "0123456789abcdef") == ""
}
