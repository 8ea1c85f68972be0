package httpapi

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/ebnrushd/corporate-ledger/internal/auth"
)

func newSecuredAPI(t *testing.T) *apiClient {
	t.Helper()
	t.Setenv("LEDGER_AUTH_SECRET", "test-secret")
	t.Setenv("LEDGER_AUTH_DEV_TOKENS", "true")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)
	return newTestAPI(t)
}

func obtainToken(c *apiClient) string {
	c.t.Helper()
	resp := c.post("/v1/auth/token", map[string]any{
		"user":  "ops",
		"roles": []string{"admin"},
	}, nil)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("token status = %d, want 200", resp.StatusCode)
	}
	payload := decode[tokenResponse](c.t, resp)
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return payload.Token
}

func TestAdminSurfaceRequiresToken(t *testing.T) {
	c := newSecuredAPI(t)

	resp := c.post("/v1/accounts", map[string]any{"holder_name": "Acme"}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated create = %d, want 401", resp.StatusCode)
	}

	resp = c.post("/v1/accounts", map[string]any{"holder_name": "Acme"}, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token create = %d, want 401", resp.StatusCode)
	}

	token := obtainToken(c)
	resp = c.post("/v1/accounts", map[string]any{"holder_name": "Acme"}, map[string]string{
		"Authorization": "Bearer " + token,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("authenticated create = %d, want 201", resp.StatusCode)
	}
}

func TestSagaSurfaceStaysPublic(t *testing.T) {
	c := newSecuredAPI(t)
	acc := c.createAccount("Acme Treasury")

	// No Authorization header anywhere: the gateway and clients do not carry
	// bearer tokens on the saga surface.
	resp := c.post("/topup/initiate", map[string]any{
		"user_id":             acc.ID,
		"amount":              10,
		"visa_card_last_four": "4242",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("initiate = %d, want 202", resp.StatusCode)
	}

	resp = c.get("/transactions", url.Values{"user_id": {acc.ID}}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("transactions = %d, want 200", resp.StatusCode)
	}

	resp = c.get("/health", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health = %d, want 200", resp.StatusCode)
	}
}

func TestTokenIssuanceDisabledWithoutSecret(t *testing.T) {
	t.Setenv("LEDGER_AUTH_SECRET", "")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)
	c := newTestAPI(t)

	resp := c.post("/v1/auth/token", map[string]any{
		"user":  "ops",
		"roles": []string{"admin"},
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("token status = %d, want 503", resp.StatusCode)
	}

	// Without a secret the admin surface is open.
	resp = c.post("/v1/accounts", map[string]any{"holder_name": "Acme"}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("open create = %d, want 201", resp.StatusCode)
	}
}

func TestTokenMintRequiresDevFlag(t *testing.T) {
	t.Setenv("LEDGER_AUTH_SECRET", "test-secret")
	t.Setenv("LEDGER_AUTH_DEV_TOKENS", "")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)
	c := newTestAPI(t)

	resp := c.post("/v1/auth/token", map[string]any{
		"user":  "ops",
		"roles": []string{"admin"},
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("token mint without dev flag = %d, want 403", resp.StatusCode)
	}
}

func TestExtractBearerToken(t *testing.T) {
	if _, err := extractBearerToken(""); err == nil {
		t.Fatalf("empty header accepted")
	}
	if _, err := extractBearerToken("Basic abc"); err == nil {
		t.Fatalf("wrong scheme accepted")
	}
	if _, err := extractBearerToken("Bearer "); err == nil {
		t.Fatalf("empty token accepted")
	}
	token, err := extractBearerToken("bearer abc.def.ghi")
	if err != nil {
		t.Fatalf("case-insensitive scheme rejected: %v", err)
	}
	if token != "abc.def.ghi" {
		t.Fatalf("token = %q", token)
	}
}
