package security

import (
	"testing"
	"time"

	"github.com/username/crewledger/backend/src/config"
)

func TestTokenRoundTrip(t *testing.T) {
	config.Cfg = &config.AppConfig{AccessTokenExpiry: time.Hour}
	svc := NewAuthService("0123456789abcdef0123456789abcdef")

	token, err := svc.GenerateToken("emp-1")
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	sub, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken error: %v", err)
	}
	if sub != "emp-1" {
		t.Fatalf("expected subject emp-1, got %q", sub)
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	config.Cfg = &config.AppConfig{AccessTokenExpiry: time.Hour}
	issuer := NewAuthService("0123456789abcdef0123456789abcdef")
	verifier := NewAuthService("fedcba9876543210fedcba9876543210")

	token, err := issuer.GenerateToken("emp-1")
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}
	if _, err := verifier.ValidateToken(token); err == nil {
		t.Fatal("expected validation failure with wrong secret")
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	config.Cfg = &config.AppConfig{AccessTokenExpiry: -time.Minute}
	svc := NewAuthService("0123456789abcdef0123456789abcdef")

	token, err := svc.GenerateToken("emp-1")
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}
	if _, err := svc.ValidateToken(token); err == nil {
		t.Fatal("expected validation failure for expired token")
	}
}
