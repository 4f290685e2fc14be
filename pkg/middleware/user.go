package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/property-search/pkg/logger"
)

// UserIDHeader carries the authenticated user's id, set by the upstream
// session layer.
const UserIDHeader = "X-User-ID"

type userIDKey struct{}

// UserID copies X-User-ID into the request context. Anonymous requests get
// an empty id and are scored only in the global scope.
func UserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if !validUserID(id) {
			id = ""
		}
		ctx := context.WithValue(r.Context(), userIDKey{}, id)
		ctx = logger.WithUserID(ctx, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserID returns the user id stored by UserID, or "".
func GetUserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

// validUserID rejects ids that would break the Redis key layout.
func validUserID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
