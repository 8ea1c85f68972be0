package auth

import (
	"context"
	"slices"
	"testing"
	"time"
)

func TestGenerateAndValidate(t *testing.T) {
	t.Setenv("LEDGER_AUTH_SECRET", "unit-test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	token, err := GenerateToken("ops-42", []string{"Admin", "viewer", "admin"}, 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "ops-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Issuer != "corporate-ledger" {
		t.Fatalf("unexpected issuer: %s", claims.Issuer)
	}
	if !slices.Contains(claims.Roles, "admin") || !slices.Contains(claims.Roles, "viewer") {
		t.Fatalf("roles were not preserved: %v", claims.Roles)
	}
	if len(claims.Roles) != 2 {
		t.Fatalf("expected deduplicated roles, got %v", claims.Roles)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	t.Setenv("LEDGER_AUTH_SECRET", "unit-test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	for _, token := range []string{"", "  ", "not-a-jwt", "aaa.bbb.ccc"} {
		if _, err := ParseAndValidate(token); err == nil {
			t.Fatalf("expected rejection for %q", token)
		}
	}
}

func TestParseRejectsExpired(t *testing.T) {
	t.Setenv("LEDGER_AUTH_SECRET", "unit-test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	token, err := GenerateToken("ops-42", nil, time.Millisecond)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := ParseAndValidate(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestMissingSecret(t *testing.T) {
	t.Setenv("LEDGER_AUTH_SECRET", "")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	if _, err := GenerateToken("ops-42", nil, time.Minute); err == nil {
		t.Fatalf("expected error when secret is unset")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = ContextWithUser(ctx, "ops-7", []string{"Admin", "Admin", "viewer"})
	id, ok := UserIDFromContext(ctx)
	if !ok || id != "ops-7" {
		t.Fatalf("unexpected user id: %s, ok=%v", id, ok)
	}
	roles := RolesFromContext(ctx)
	if len(roles) != 2 {
		t.Fatalf("expected deduplicated roles, got %v", roles)
	}
	if !HasRole(ctx, "viewer") || !HasRole(ctx, "admin") {
		t.Fatalf("HasRole missing expected roles: %v", roles)
	}
	if HasRole(ctx, "operator") {
		t.Fatalf("unexpected role found")
	}
}
