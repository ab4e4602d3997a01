package chi

import (
	"context"
	"net/http"
	"strings"
)

// exemptPaths are routes that bypass authentication (health, metrics).
var exemptPaths = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

type userIDKey struct{}

// ContextWithUserID stores the authenticated user id.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext returns the authenticated user id, or "" for anonymous calls.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

// BearerAuthMiddleware returns a middleware that maps Bearer tokens to user ids.
// If apiKeys is empty, authentication is disabled and every call is anonymous.
func BearerAuthMiddleware(apiKeys map[string]string) func(http.Handler) http.Handler {
	users := make(map[string]string, len(apiKeys))
	for k, userID := range apiKeys {
		if k != "" {
			users[k] = userID
		}
	}

	return func(next http.Handler) http.Handler {
		// Auth disabled, pass everything through
		if len(users) == 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Exempt paths
			if _, ok := exemptPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			auth := r.Header.Get("Authorization")
			if auth == "" {
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, "missing authorization header")
				return
			}

			const bearerPrefix = "Bearer "
			if !strings.HasPrefix(auth, bearerPrefix) {
				writeError(w, http.StatusUnauthorized,
					CodeUnauthorized, "authorization header must use Bearer scheme")
				return
			}

			userID, ok := users[auth[len(bearerPrefix):]]
			if !ok {
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid api key")
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), userID)))
		})
	}
}
