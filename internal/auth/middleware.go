package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/sha1n/order-index/internal/config"
)

// HealthPath is served without credentials so health checks keep working when auth
// is enabled.
const HealthPath = "/health"

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// NewMiddleware creates the authentication middleware for settings. Requests
// to any of publicPaths skip the check; HealthPath is always public.
func NewMiddleware(settings config.AuthSettings, publicPaths ...string) (Middleware, error) {
	var check func(*http.Request) bool
	challenge := ""

	switch settings.Type {
	case config.AuthTypeNone, "":
		return func(next http.Handler) http.Handler { return next }, nil
	case config.AuthTypeBasic:
		if settings.Basic.Username == "" || settings.Basic.Password == "" {
			return nil, fmt.Errorf("basic auth requires non-empty username and password")
		}
		check = basicCheck(settings.Basic)
		challenge = `Basic realm="order-index"`
	case config.AuthTypeAPIKey:
		keys := nonEmpty(settings.APIKeys)
		if len(keys) == 0 {
			return nil, fmt.Errorf("apikey auth requires at least one API key")
		}
		check = apiKeyCheck(keys)
		challenge = `Bearer realm="order-index"`
	default:
		return nil, fmt.Errorf("unknown auth type: %s", settings.Type)
	}

	public := map[string]bool{HealthPath: true}
	for _, p := range publicPaths {
		public[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if public[r.URL.Path] || check(r) {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("WWW-Authenticate", challenge)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		})
	}, nil
}

func basicCheck(settings config.BasicAuthSettings) func(*http.Request) bool {
	return func(r *http.Request) bool {
		user, pass, ok := r.BasicAuth()
		userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(settings.Username)) == 1
		passMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(settings.Password)) == 1
		return ok && userMatch && passMatch
	}
}

func apiKeyCheck(keys []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		key := presentedKey(r)
		if key == "" {
			return false
		}
		// Compare against every key so timing does not reveal which one matched.
		valid := 0
		for _, k := range keys {
			valid |= subtle.ConstantTimeCompare([]byte(key), []byte(k))
		}
		return valid == 1
	}
}

// presentedKey reads the key from X-API-Key, falling back to a bearer token.
func presentedKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
