// Package filerepo persists session fields to a single encrypted file. It is
// the desktop equivalent of a browser's per-origin key-value store: tokens
// survive restarts but never touch disk in the clear.
package filerepo

import (
	"crypto/rand"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	keyLength   = 32
	nonceLength = 24
	saltLength  = 16

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// FileRepo stores a key-value map in an encrypted file. Every mutation
// rewrites the whole file atomically (temp file + rename).
type FileRepo struct {
	mu     sync.Mutex
	path   string
	key    [keyLength]byte
	salt   []byte
	values map[string]string
}

// envelope is the on-disk layout: scrypt salt, secretbox nonce, ciphertext.
type envelope struct {
	Salt  []byte `json:"salt"`
	Nonce []byte `json:"nonce"`
	Box   []byte `json:"box"`
}

// New opens or creates an encrypted repo at path, deriving the cipher key
// from passphrase. An unreadable or undecryptable file starts empty rather
// than failing: durable storage is best-effort by contract.
func New(path, passphrase string) (*FileRepo, error) {
	if path == "" {
		return nil, errors.New("[filerepo.New] path is required")
	}

	r := &FileRepo{
		path:   path,
		values: make(map[string]string),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		// Missing file: fresh salt, empty map.
		salt := make([]byte, saltLength)
		if _, err := rand.Read(salt); err != nil {
			return nil, errors.Wrap(err, "[filerepo.New] generate salt")
		}
		key, err := deriveKey(passphrase, salt)
		if err != nil {
			return nil, err
		}
		r.key = key
		r.salt = salt
		return r, nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || len(env.Salt) != saltLength || len(env.Nonce) != nonceLength {
		salt := make([]byte, saltLength)
		if _, err := rand.Read(salt); err != nil {
			return nil, errors.Wrap(err, "[filerepo.New] generate salt")
		}
		key, kerr := deriveKey(passphrase, salt)
		if kerr != nil {
			return nil, kerr
		}
		r.key = key
		r.salt = salt
		return r, nil
	}

	key, err := deriveKey(passphrase, env.Salt)
	if err != nil {
		return nil, err
	}
	r.key = key
	r.salt = env.Salt

	var nonce [nonceLength]byte
	copy(nonce[:], env.Nonce)
	plain, ok := secretbox.Open(nil, env.Box, &nonce, &r.key)
	if !ok {
		// Wrong passphrase or corrupt file: start over.
		return r, nil
	}
	if err := json.Unmarshal(plain, &r.values); err != nil {
		r.values = make(map[string]string)
	}
	return r, nil
}

func deriveKey(passphrase string, salt []byte) ([keyLength]byte, error) {
	var key [keyLength]byte
	derived, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, keyLength)
	if err != nil {
		return key, errors.Wrap(err, "[filerepo] derive key")
	}
	copy(key[:], derived)
	return key, nil
}

func (r *FileRepo) Get(key string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.values[key]
	return v, ok, nil
}

func (r *FileRepo) Set(key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = value
	return r.flush()
}

func (r *FileRepo) Delete(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.values, key)
	return r.flush()
}

// flush must be called with the lock held.
func (r *FileRepo) flush() error {
	plain, err := json.Marshal(r.values)
	if err != nil {
		return errors.Wrap(err, "[filerepo.flush] marshal values")
	}

	var nonce [nonceLength]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return errors.Wrap(err, "[filerepo.flush] generate nonce")
	}

	env := envelope{
		Salt:  r.salt,
		Nonce: nonce[:],
		Box:   secretbox.Seal(nil, plain, &nonce, &r.key),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "[filerepo.flush] marshal envelope")
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".session-*")
	if err != nil {
		return errors.Wrap(err, "[filerepo.flush] create temp file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "[filerepo.flush] write temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "[filerepo.flush] close temp file")
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "[filerepo.flush] replace file")
	}
	return nil
}
