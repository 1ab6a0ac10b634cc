package middleware

import (
	"net/http"

	"github.com/orgdash/dashboard-worker/internal/domain/user"
)

// RequireRole returns middleware that restricts access to callers with one of the given dashboard roles.
func RequireRole(roles ...user.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := user.FromContext(r.Context())
			if c == nil {
				writeJSONError(w, http.StatusUnauthorized, "authorization required")
				return
			}

			if !c.HasRole(roles...) {
				writeJSONError(w, http.StatusForbidden, "forbidden")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
