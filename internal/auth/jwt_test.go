package auth

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func testConfig() TokenConfig {
	return TokenConfig{Secret: "secret", AccessTTL: time.Hour, RefreshTTL: 2 * time.Hour, Issuer: "test"}
}

func TestCreateAndVerifyToken(t *testing.T) {
	cfg := testConfig()
	tok, err := CreateToken(AccessToken, "user-1", "SELLER", cfg)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	claims, err := VerifyToken(tok, AccessToken, cfg)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.UserID != "user-1" || claims.Role != "SELLER" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.ID == "" {
		t.Fatalf("expected a token id")
	}
}

func TestVerifyToken_WrongKind(t *testing.T) {
	cfg := testConfig()
	tok, err := CreateToken(RefreshToken, "user-1", "USER", cfg)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	if _, err := VerifyToken(tok, AccessToken, cfg); !errors.Is(err, ErrWrongTokenKind) {
		t.Fatalf("expected ErrWrongTokenKind, got %v", err)
	}
	if _, err := VerifyToken(tok, RefreshToken, cfg); err != nil {
		t.Fatalf("expected refresh token to verify, got %v", err)
	}
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	tok, err := CreateToken(AccessToken, "user-1", "USER", testConfig())
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	wrong := testConfig()
	wrong.Secret = "wrong"
	if _, err := VerifyToken(tok, AccessToken, wrong); err == nil {
		t.Fatalf("expected error")
	}
}

func TestCreateToken_Invalid(t *testing.T) {
	cfg := testConfig()
	cfg.AccessTTL = -time.Second
	if _, err := CreateToken(AccessToken, "user-1", "USER", cfg); err == nil {
		t.Fatalf("expected error for negative ttl")
	}
	if _, err := CreateToken(AccessToken, "", "USER", testConfig()); err == nil {
		t.Fatalf("expected error for missing user")
	}
	if _, err := CreateToken("other", "user-1", "USER", testConfig()); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestChannelSignature(t *testing.T) {
	sig := SignChannel("app-key", "app-secret", "sock-1", "private-user-7")
	if !VerifyChannel(sig, "app-key", "app-secret", "sock-1", "private-user-7") {
		t.Fatalf("expected signature to verify")
	}
	if VerifyChannel(sig, "app-key", "app-secret", "sock-2", "private-user-7") {
		t.Fatalf("signature must be bound to the socket")
	}
	if VerifyChannel(sig, "app-key", "app-secret", "sock-1", "private-user-8") {
		t.Fatalf("signature must be bound to the channel")
	}
	if VerifyChannel("", "app-key", "app-secret", "sock-1", "private-user-7") {
		t.Fatalf("expected empty signature to fail")
	}
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("hunter2", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !CheckPassword(hash, "hunter2") || CheckPassword(hash, "hunter3") {
		t.Fatalf("password check mismatch")
	}
}
