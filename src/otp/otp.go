// Package otp issues and verifies the short-lived numeric codes that gate
// sensitive confirmations.
package otp

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	codeMin   = 100000
	codeRange = 900000 // codes are uniform over [100000, 999999]

	bcryptCost = bcrypt.DefaultCost
)

// ErrExpired is returned by Verify when the validity window has passed.
// Expiry takes precedence over correctness: Verify never inspects the code of
// an expired issuance.
var ErrExpired = errors.New("otp expired")

// Issuer issues codes with a fixed validity window.
type Issuer struct {
	window time.Duration
}

func NewIssuer(window time.Duration) *Issuer {
	return &Issuer{window: window}
}

// Issue draws a fresh 6-digit code and returns it in plaintext (for delivery),
// together with its bcrypt hash (for storage) and the expiry timestamp.
func (i *Issuer) Issue(now time.Time) (code string, hash string, expiresAt time.Time, err error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeRange))
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("drawing otp code: %w", err)
	}
	code = fmt.Sprintf("%06d", n.Int64()+codeMin)

	hashed, err := bcrypt.GenerateFromPassword([]byte(code), bcryptCost)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("hashing otp code: %w", err)
	}

	return code, string(hashed), now.Add(i.window), nil
}

// Verify checks a submitted code against the stored hash. It short-circuits on
// expiry before comparing codes; the comparison itself is constant-time by
// bcrypt construction. Returns ErrExpired, nil on match, or
// bcrypt.ErrMismatchedHashAndPassword on mismatch.
func Verify(submitted, storedHash string, expiresAt, now time.Time) error {
	if now.After(expiresAt) {
		return ErrExpired
	}
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(submitted))
}
