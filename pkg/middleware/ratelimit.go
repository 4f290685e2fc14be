package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Limiter is satisfied by ratelimit.Limiter.
type Limiter interface {
	Allow(key string, limit int) (bool, time.Duration)
}

// RateLimit throttles requests with the given method per user, or per
// client IP for anonymous callers. It must run inside UserID.
func RateLimit(limiter Limiter, method string, limit int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != method {
				next.ServeHTTP(w, r)
				return
			}
			key := GetUserID(r.Context())
			if key == "" {
				key = "ip:" + clientIP(r)
			}
			ok, wait := limiter.Allow(key, limit)
			if ok {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Retry-After", strconv.Itoa(max(1, int(math.Ceil(wait.Seconds())))))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"too many searches, slow down"}`))
		})
	}
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
