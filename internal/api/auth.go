package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// access is what a presented key may do.
type access int

const (
	accessNone access = iota
	accessRead
	accessAdmin
)

func (a access) String() string {
	switch a {
	case accessRead:
		return "read"
	case accessAdmin:
		return "admin"
	}
	return "none"
}

type accessKey struct{}

func withAccess(ctx context.Context, a access) context.Context {
	return context.WithValue(ctx, accessKey{}, a)
}

func accessFrom(ctx context.Context) access {
	a, _ := ctx.Value(accessKey{}).(access)
	return a
}

// keyMatches compares in constant time. Empty keys never match, so an unset
// api_key leaves the protected routes closed.
func keyMatches(presented, configured string) bool {
	if presented == "" || configured == "" {
		return false
	}
	if len(presented) != len(configured) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) == 1
}

// resolveAccess maps a presented key to its access level.
func resolveAccess(presented string, cfg Config) access {
	switch {
	case keyMatches(presented, cfg.APIKey):
		return accessAdmin
	case keyMatches(presented, cfg.ReadKey):
		return accessRead
	}
	return accessNone
}

// bearerToken extracts the key from an Authorization: Bearer <key> header.
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("missing Authorization header")
	}
	key, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", errors.New("invalid Authorization header format")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("missing API key")
	}
	return key, nil
}

// authMiddleware admits any configured key and records its access level.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := bearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		a := resolveAccess(key, s.config)
		if a == accessNone {
			s.logger.Warn("rejected API key", "path", r.URL.Path, "remote", r.RemoteAddr)
			s.writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r.WithContext(withAccess(r.Context(), a)))
	})
}

// requireAccess rejects requests admitted below level.
func requireAccess(s *Server, level access) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := accessFrom(r.Context()); got < level {
				s.writeError(w, http.StatusForbidden, level.String()+" access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
