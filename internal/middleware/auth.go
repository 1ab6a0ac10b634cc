package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/orgdash/dashboard-worker/internal/domain/user"
	"github.com/orgdash/dashboard-worker/internal/service"
)

// DevUserID is the subject injected when authentication is disabled.
const DevUserID = "00000000-0000-0000-0000-000000000000"

// publicPaths are exempt from authentication.
var publicPaths = map[string]bool{
	"/health":       true,
	"/health/ready": true,
}

// Auth returns middleware that validates Supabase access tokens.
// When authEnabled is false, a developer admin identity is injected.
func Auth(authSvc *service.AuthService, authEnabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !authEnabled {
				ctx := user.NewContext(r.Context(), devClaims())
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			// Browsers cannot set headers on WebSocket upgrades.
			var token string
			if r.URL.Path == "/ws" {
				token = r.URL.Query().Get("token")
				if token == "" {
					writeJSONError(w, http.StatusUnauthorized, "authorization required")
					return
				}
			} else {
				authHeader := r.Header.Get("Authorization")
				if authHeader == "" {
					writeJSONError(w, http.StatusUnauthorized, "authorization required")
					return
				}
				token = strings.TrimPrefix(authHeader, "Bearer ")
				if token == authHeader {
					writeJSONError(w, http.StatusUnauthorized, "invalid authorization header")
					return
				}
			}

			claims, err := authSvc.ValidateAccessToken(token)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(user.NewContext(r.Context(), claims)))
		})
	}
}

func devClaims() *user.Claims {
	return &user.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: DevUserID},
		Email:            "admin@localhost",
		Role:             "authenticated",
		AppMetadata:      user.AppMetadata{Role: user.RoleAdmin},
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
