package api

import (
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

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

// requireAuth checks the Bearer token against the configured token
// hashes. Tokens are compared with bcrypt, so config files only ever
// carry hashes.
func (s *server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{"authentication required"})

			return
		}

		name, ok := s.matchToken(authHeader[7:])
		if !ok {
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{"invalid token"})

			return
		}

		s.log.WithField("token", name).Debug("Request authenticated")

		next.ServeHTTP(w, r)
	})
}

// matchToken compares the presented token against every configured hash
// and returns the name of the matching token.
func (s *server) matchToken(token string) (string, bool) {
	for _, t := range s.cfg.Auth.Tokens {
		if bcrypt.CompareHashAndPassword(
			[]byte(t.Hash), []byte(token),
		) == nil {
			return t.Name, true
		}
	}

	return "", false
}
