// Package token classifies access tokens by their embedded expiry claim.
// Only the exp claim of the JWT payload is consumed; signature verification
// is the backend's responsibility.
package token

import (
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Expiry thresholds driving proactive refresh and recovery routing.
const (
	// SoonExpiringWindow is how close to expiry a token may get before a
	// proactive refresh is triggered.
	SoonExpiringWindow = 5 * time.Minute
	// LongExpiredCutoff is how far past expiry a token signals that the
	// user must re-authenticate from scratch rather than silently refresh.
	LongExpiredCutoff = time.Hour
)

// Status is the expiry classification of an access token.
type Status int

const (
	// StatusValid means the token expires more than SoonExpiringWindow from now.
	StatusValid Status = iota
	// StatusSoonExpiring means the token is still valid but inside the
	// proactive-refresh window.
	StatusSoonExpiring
	// StatusExpired means the token's expiry has passed, or the token could
	// not be parsed at all. Unparseable and missing tokens always classify
	// as expired, never as valid.
	StatusExpired
	// StatusLongExpired means the token expired more than LongExpiredCutoff
	// ago.
	StatusLongExpired
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusSoonExpiring:
		return "soon-expiring"
	case StatusExpired:
		return "expired"
	case StatusLongExpired:
		return "long-expired"
	}
	return "unknown"
}

// Expired reports whether the status represents a token past its expiry.
func (s Status) Expired() bool {
	return s == StatusExpired || s == StatusLongExpired
}

// Classify decodes the exp claim of rawToken and classifies it against the
// current clock. A missing, empty, or unparseable token is StatusExpired.
func Classify(rawToken string) Status {
	exp, err := ExpiresAt(rawToken)
	if err != nil {
		return StatusExpired
	}

	now := NowTimeFunc()
	switch {
	case !exp.After(now.Add(-LongExpiredCutoff)):
		return StatusLongExpired
	case !exp.After(now):
		return StatusExpired
	case !exp.After(now.Add(SoonExpiringWindow)):
		return StatusSoonExpiring
	}
	return StatusValid
}

// ExpiresAt extracts the expiry deadline from rawToken without verifying its
// signature.
func ExpiresAt(rawToken string) (time.Time, error) {
	if rawToken == "" {
		return time.Time{}, errors.New("[ExpiresAt] empty token")
	}

	unverified, _, err := jwtlib.NewParser().ParseUnverified(rawToken, jwtlib.MapClaims{})
	if err != nil {
		return time.Time{}, errors.Wrap(err, "[ExpiresAt] parse token")
	}

	claims, ok := unverified.Claims.(jwtlib.MapClaims)
	if !ok {
		return time.Time{}, errors.New("[ExpiresAt] error extracting claims")
	}

	exp, ok := claims["exp"].(float64)
	if !ok {
		return time.Time{}, errors.New("[ExpiresAt] token missing exp claim")
	}

	return time.Unix(int64(exp), 0), nil
}

// RemainingValidity returns how long rawToken is still valid for, clamped at
// zero. Unparseable tokens have no remaining validity.
func RemainingValidity(rawToken string) time.Duration {
	exp, err := ExpiresAt(rawToken)
	if err != nil {
		return 0
	}
	remaining := exp.Sub(NowTimeFunc())
	if remaining < 0 {
		return 0
	}
	return remaining
}
