package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type contextKey string

const userContextKey contextKey = "user"

const defaultRealm = "dqreview"

// requestLogger logs incoming HTTP requests.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		s.log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("remote", r.RemoteAddr).
			WithField("duration", time.Since(start)).
			Debug("Request handled")
	})
}

// requireBasicAuth checks HTTP basic credentials against the configured
// bcrypt hashes and injects the username into the request context.
func (s *server) requireBasicAuth() func(http.Handler) http.Handler {
	hashes := make(map[string][]byte, len(s.cfg.Auth.Basic.Users))
	for _, u := range s.cfg.Auth.Basic.Users {
		hashes[u.Username] = []byte(u.PasswordHash)
	}

	realm := s.cfg.Auth.Basic.Realm
	if realm == "" {
		realm = defaultRealm
	}

	challenge := fmt.Sprintf("Basic realm=%q, charset=\"UTF-8\"", realm)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, password, ok := r.BasicAuth()
			if !ok {
				w.Header().Set("WWW-Authenticate", challenge)
				writeJSON(w, http.StatusUnauthorized,
					errorResponse{"authentication required"})

				return
			}

			hash, known := hashes[username]
			if !known || checkPassword(hash, password) != nil {
				s.log.WithField("username", username).
					WithField("remote", r.RemoteAddr).
					Warn("Rejected basic auth credentials")

				w.Header().Set("WWW-Authenticate", challenge)
				writeJSON(w, http.StatusUnauthorized,
					errorResponse{"invalid credentials"})

				return
			}

			ctx := context.WithValue(r.Context(), userContextKey, username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// checkPassword compares a bcrypt hash with a plaintext password.
func checkPassword(hash []byte, password string) error {
	return bcrypt.CompareHashAndPassword(hash, []byte(password))
}

// userFromContext returns the authenticated username, if any.
func userFromContext(ctx context.Context) string {
	user, _ := ctx.Value(userContextKey).(string)

	return user
}
