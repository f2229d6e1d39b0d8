package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"crmgate.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = map[string]bool{
	"/v1/auth/login":   true,
	"/v1/auth/refresh": true,
	"/healthz":         true,
	"/readyz":          true,
	"/metrics":         true,
	"/v1/info":         true,
}

// withAuth authenticates every non-public request and attaches the resolved
// identity to the request context. Every failure mode produces the same 401;
// the reason is never disclosed to the caller.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid User")
			return
		}

		id, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, http.StatusUnauthorized, "Invalid User")
				return
			}
			a.domainError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.ContextWithIdentity(r.Context(), id)))
	})
}

// requireRole gates a handler on a route-level role requirement.
func (a *API) requireRole(required auth.Role, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Invalid User")
			return
		}
		if err := auth.Require(id, required); err != nil {
			writeError(w, http.StatusForbidden, "Access denied")
			return
		}
		next(w, r)
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
