package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ebnrushd/corporate-ledger/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// The saga surface stays open by contract: the gateway webhook and the client
// initiate call carry no bearer tokens. Only /v1 administration is gated.
var publicPaths = []string{
	"/",
	"/health",
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
	"/v1/auth/token",
	"/v1/stream",
	"/topup/initiate",
	"/topup/webhook/visa_confirmation",
	"/transactions",
}

// withAuth gates the administrative surface with bearer tokens. Without a
// configured secret the whole API is open (development mode).
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.SecretConfigured() {
			next.ServeHTTP(w, r)
			return
		}
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		ctx := auth.ContextWithUser(r.Context(), claims.Subject, claims.Roles)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
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

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
