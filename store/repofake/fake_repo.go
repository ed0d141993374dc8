// Package repofake provides in-memory Repo implementations for tests.
package repofake

import (
	"sync"

	"github.com/pkg/errors"
)

// FakeRepo is a map-backed durable store.
type FakeRepo struct {
	mu     sync.Mutex
	values map[string]string

	// SetCalls counts writes, for asserting persistence happened.
	SetCalls int
}

// NewFakeRepo creates an empty FakeRepo.
func NewFakeRepo() *FakeRepo {
	return &FakeRepo{values: make(map[string]string)}
}

// Seed pre-populates a key, for rehydration tests.
func (r *FakeRepo) Seed(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = value
}

func (r *FakeRepo) Get(key string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.values[key]
	return v, ok, nil
}

func (r *FakeRepo) Set(key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = value
	r.SetCalls++
	return nil
}

func (r *FakeRepo) Delete(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.values, key)
	return nil
}

// FailingRepo errors on every operation, simulating disabled or exhausted
// durable storage.
type FailingRepo struct{}

// NewFailingRepo creates a FailingRepo.
func NewFailingRepo() *FailingRepo {
	return &FailingRepo{}
}

func (FailingRepo) Get(string) (string, bool, error) {
	return "", false, errors.New("storage unavailable")
}

func (FailingRepo) Set(string, string) error {
	return errors.New("storage unavailable")
}

func (FailingRepo) Delete(string) error {
	return errors.New("storage unavailable")
}
