package filerepo_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/carelink/go-portal-session/store/filerepo"
)

func TestFileRepo_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.enc")

	r, err := filerepo.New(path, "passphrase")
	require.NoError(t, err)

	require.NoError(t, r.Set("accessToken", "tok-1"))
	require.NoError(t, r.Set("role", "PATIENT"))

	v, ok, err := r.Get("accessToken")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "tok-1", v)

	// Reopen with the same passphrase: values survive.
	r2, err := filerepo.New(path, "passphrase")
	require.NoError(t, err)
	v, ok, err = r2.Get("role")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "PATIENT", v)
}

func TestFileRepo_Delete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.enc")
	r, err := filerepo.New(path, "pw")
	require.NoError(t, err)

	require.NoError(t, r.Set("refreshToken", "rt-1"))
	require.NoError(t, r.Delete("refreshToken"))

	_, ok, err := r.Get("refreshToken")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFileRepo_TokensNotStoredInClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.enc")
	r, err := filerepo.New(path, "pw")
	require.NoError(t, err)
	require.NoError(t, r.Set("accessToken", "super-secret-token"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "super-secret-token")
}

func TestFileRepo_WrongPassphraseStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.enc")
	r, err := filerepo.New(path, "right")
	require.NoError(t, err)
	require.NoError(t, r.Set("accessToken", "tok-1"))

	r2, err := filerepo.New(path, "wrong")
	require.NoError(t, err)
	_, ok, err := r2.Get("accessToken")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFileRepo_CorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.enc")
	require.NoError(t, os.WriteFile(path, []byte("not an envelope"), 0o600))

	r, err := filerepo.New(path, "pw")
	require.NoError(t, err)
	_, ok, err := r.Get("accessToken")
	require.NoError(t, err)
	require.False(t, ok)
}
