package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
)

type contextKey string

const (
	ClientKey contextKey = "client"
	APIKeyKey contextKey = "api_key"
)

// open paths are reachable without a key so health checks keep working
var openPaths = map[string]bool{"/health": true, "/livez": true, "/readyz": true}

// APIKeyAuth validates the API key from the Authorization or X-API-Key
// header. validKeys maps a client name to its key. An empty map disables
// authentication.
func APIKeyAuth(validKeys map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(validKeys) == 0 || openPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			apiKey := strings.TrimSpace(r.Header.Get("X-API-Key"))
			if apiKey == "" {
				auth := r.Header.Get("Authorization")
				if auth == "" {
					http.Error(w, "missing Authorization header", http.StatusUnauthorized)
					return
				}
				// Support both "Bearer <key>" and "<key>" formats
				apiKey = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			}
			if apiKey == "" {
				http.Error(w, "invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			// constant-time comparison
			var client string
			for name, key := range validKeys {
				if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
					client = name
					break
				}
			}
			if client == "" {
				http.Error(w, "invalid API key", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ClientKey, client)
			ctx = context.WithValue(ctx, APIKeyKey, apiKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// KeysFromList names each key "client-<n>" in list order.
func KeysFromList(keys []string) map[string]string {
	out := make(map[string]string, len(keys))
	for i, k := range keys {
		out["client-"+strconv.Itoa(i+1)] = k
	}
	return out
}

// GetClientFromContext extracts the authenticated client name
func GetClientFromContext(ctx context.Context) string {
	if client, ok := ctx.Value(ClientKey).(string); ok {
		return client
	}
	return ""
}
