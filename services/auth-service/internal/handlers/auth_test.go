package handlers

import (
	"testing"

	"github.com/carebridge-au/carebridge/services/auth-service/internal/storage"
)

func TestPasswordHashing(t *testing.T) {
	password := "pass123"
	hash, err := hashPassword(password)
	if err != nil {
		t.Fatalf("hashPassword failed: %v", err)
	}
	if hash == "" {
		t.Fatal("expected non-empty hash")
	}
	if err := verifyPassword(hash, password); err != nil {
		t.Fatalf("verifyPassword should succeed: %v", err)
	}
	if err := verifyPassword(hash, "wrong-pass"); err == nil {
		t.Fatal("verifyPassword should fail for wrong password")
	}
}

func TestIssueJWTCarriesProviderClaims(t *testing.T) {
	signer := NewHS256Signer("test-secret")

	token, err := issueJWT(storage.User{
		ID:         "user-1",
		ProviderID: "prov-1",
		Role:       "provider",
	}, signer)
	if err != nil {
		t.Fatalf("issueJWT failed: %v", err)
	}

	claims, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if claims.Sub != "user-1" || claims.ProviderID != "prov-1" || claims.Role != "provider" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Exp <= claims.Iat {
		t.Fatal("expiry must be after issue time")
	}
}

func TestIssueJWTParticipantHasNoProviderID(t *testing.T) {
	signer := NewHS256Signer("test-secret")

	token, err := issueJWT(storage.User{ID: "user-2", Role: "participant"}, signer)
	if err != nil {
		t.Fatalf("issueJWT failed: %v", err)
	}

	claims, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if claims.ProviderID != "" {
		t.Fatalf("participant token should carry no provider_id, got %q", claims.ProviderID)
	}
}
