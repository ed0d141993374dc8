// Package tokentest mints throwaway JWTs for tests. Signatures are HMAC with
// a fixed secret; nothing client-side ever verifies them.
package tokentest

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// Mint returns a signed JWT whose exp claim is the given deadline.
func Mint(t *testing.T, exp time.Time) string {
	t.Helper()

	claims := jwtlib.MapClaims{
		"sub": "test-user",
		"exp": exp.Unix(),
	}
	raw, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte("tokentest-secret"))
	require.NoError(t, err)
	return raw
}
