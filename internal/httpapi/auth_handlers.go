package httpapi

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ebnrushd/corporate-ledger/internal/auth"
)

type tokenRequest struct {
	User  string   `json:"user"`
	Roles []string `json:"roles"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

const tokenTTL = 15 * time.Minute

// devTokensEnv opts the unauthenticated mint endpoint in. The endpoint takes
// no credentials, so production deployments leave it off and issue operator
// tokens out of band.
const devTokensEnv = "LEDGER_AUTH_DEV_TOKENS"

func devTokensEnabled() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(devTokensEnv))) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !auth.SecretConfigured() {
		writeError(w, r, http.StatusServiceUnavailable, "token issuance disabled")
		return
	}
	if !devTokensEnabled() {
		writeError(w, r, http.StatusForbidden, "token issuance disabled; set "+devTokensEnv+" to enable")
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user := strings.TrimSpace(req.User)
	if user == "" {
		writeError(w, r, http.StatusBadRequest, "user is required")
		return
	}
	roles := make([]string, 0, len(req.Roles))
	for _, role := range req.Roles {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		roles = append(roles, role)
	}
	if len(roles) == 0 {
		writeError(w, r, http.StatusBadRequest, "roles are required")
		return
	}

	token, err := auth.GenerateToken(user, roles, tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	expiresAt := time.Now().UTC().Add(tokenTTL)
	a.audit(r.Context(), "auth.token_issued", map[string]any{
		"user":       user,
		"roles":      strings.Join(roles, ","),
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}
