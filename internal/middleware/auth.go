package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// publicPaths are exempt from authentication.
var publicPaths = map[string]bool{
	"/health":       true,
	"/health/ready": true,
}

// Auth returns middleware that validates the shared admin secret. The
// secret is accepted either in the X-Admin-API-Key header or as an
// Authorization bearer credential. Comparison is constant-time.
func Auth(adminAPIKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			// An empty configured key would make every comparison
			// succeed against an empty presented key. Fail closed.
			if adminAPIKey == "" {
				unauthorized(w)
				return
			}

			presented := r.Header.Get("X-Admin-API-Key")
			if presented == "" {
				auth := r.Header.Get("Authorization")
				if token := strings.TrimPrefix(auth, "Bearer "); token != auth {
					presented = token
				}
			}

			if subtle.ConstantTimeCompare([]byte(presented), []byte(adminAPIKey)) != 1 {
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"ok":false,"error":"unauthorized"}`))
}
