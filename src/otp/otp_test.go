package otp

import (
	"errors"
	"testing"
	"time"
)

func TestIssueProducesSixDigitCode(t *testing.T) {
	issuer := NewIssuer(15 * time.Minute)
	now := time.Now().UTC()

	code, hash, expiresAt, err := issuer.Issue(now)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("expected 6-digit code, got %q", code)
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			t.Fatalf("code %q contains non-digit %q", code, c)
		}
	}
	if hash == code {
		t.Fatal("hash must not equal the plaintext code")
	}
	if !expiresAt.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("expected expiry %v, got %v", now.Add(15*time.Minute), expiresAt)
	}
}

func TestVerifyCorrectCode(t *testing.T) {
	issuer := NewIssuer(15 * time.Minute)
	now := time.Now().UTC()
	code, hash, expiresAt, err := issuer.Issue(now)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	if err := Verify(code, hash, expiresAt, now.Add(time.Minute)); err != nil {
		t.Fatalf("Verify with correct code: %v", err)
	}
}

func TestVerifyWrongCode(t *testing.T) {
	issuer := NewIssuer(15 * time.Minute)
	now := time.Now().UTC()
	code, hash, expiresAt, err := issuer.Issue(now)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	err = Verify(wrong, hash, expiresAt, now.Add(time.Minute))
	if err == nil {
		t.Fatal("expected error for wrong code")
	}
	if errors.Is(err, ErrExpired) {
		t.Fatal("wrong code inside the window must not report expiry")
	}
}

func TestVerifyExpiryWinsOverCodeCheck(t *testing.T) {
	issuer := NewIssuer(15 * time.Minute)
	now := time.Now().UTC()
	code, hash, expiresAt, err := issuer.Issue(now)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	// Correct and wrong codes alike report expiry once the window has passed.
	for _, submitted := range []string{code, "000000"} {
		err := Verify(submitted, hash, expiresAt, now.Add(16*time.Minute))
		if !errors.Is(err, ErrExpired) {
			t.Fatalf("Verify(%q) after window: expected ErrExpired, got %v", submitted, err)
		}
	}
}

func TestVerifyAtExactExpiryBoundary(t *testing.T) {
	issuer := NewIssuer(15 * time.Minute)
	now := time.Now().UTC()
	code, hash, expiresAt, err := issuer.Issue(now)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	// The window is inclusive of its last instant.
	if err := Verify(code, hash, expiresAt, expiresAt); err != nil {
		t.Fatalf("Verify at expiry instant: %v", err)
	}
	if err := Verify(code, hash, expiresAt, expiresAt.Add(time.Nanosecond)); !errors.Is(err, ErrExpired) {
		t.Fatalf("Verify just past expiry: expected ErrExpired, got %v", err)
	}
}
