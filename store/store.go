// Package store holds the session's credential and profile fields in memory,
// mirrors them to an optional durable backend, and notifies subscribers of
// changes. The in-memory copy is the source of truth while the process runs;
// the backend exists only to survive restarts.
package store

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

// Field names a stored session value. The constants double as keys in the
// durable backend.
type Field string

const (
	FieldAccessToken  Field = "accessToken"
	FieldRefreshToken Field = "refreshToken"
	FieldRole         Field = "role"
	FieldUsername     Field = "username"
	FieldUserID       Field = "userId"
	FieldUser         Field = "user"
)

// fields lists every session field, in commit order.
var fields = []Field{FieldAccessToken, FieldRefreshToken, FieldRole, FieldUsername, FieldUserID, FieldUser}

// Repo is a durable key-value backend. Implementations may fail; the Store
// treats every backend error as non-fatal and degrades to memory-only for
// that operation.
type Repo interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Delete(key string) error
}

// Subscriber receives the new value of a field after a change. ok is false
// when the field was cleared.
type Subscriber func(value string, ok bool)

// Snapshot is the atomic unit written by a completed authentication. All six
// fields are committed or cleared together; the store is never left with a
// partial session.
type Snapshot struct {
	AccessToken  string
	RefreshToken string
	Role         string
	Username     string
	UserID       string
	UserJSON     string
}

// Store is the reactive holder of session state.
type Store struct {
	mu     sync.RWMutex
	values map[Field]string
	subs   map[Field]map[int]Subscriber
	nextID int

	repo Repo
	log  zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithRepo attaches a durable backend. Without one the store is memory-only,
// which is the correct behavior for non-interactive contexts where no durable
// storage exists: construction decides once, call sites never branch.
func WithRepo(r Repo) Option {
	return func(s *Store) { s.repo = r }
}

// WithLogger sets the logger used for backend degradation messages.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// New creates a Store and rehydrates it from the backend, if any. Backend
// read failures leave the affected fields empty.
func New(options ...Option) *Store {
	s := &Store{
		values: make(map[Field]string, len(fields)),
		subs:   make(map[Field]map[int]Subscriber),
		log:    zerolog.Nop(),
	}
	for _, opt := range options {
		opt(s)
	}
	s.load()
	return s
}

func (s *Store) load() {
	if s.repo == nil {
		return
	}
	for _, f := range fields {
		v, ok, err := s.repo.Get(string(f))
		if err != nil {
			s.log.Debug().Err(err).Str("field", string(f)).Msg("store: rehydrate read failed")
			continue
		}
		if ok {
			s.values[f] = v
		}
	}
}

// Get returns the current value of a field. ok is false when the field is
// unset.
func (s *Store) Get(f Field) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[f]
	return v, ok
}

// Set writes a single field and notifies its subscribers. The durable write
// is best-effort.
func (s *Store) Set(f Field, value string) {
	s.mu.Lock()
	s.values[f] = value
	subs := s.snapshotSubs(f)
	s.mu.Unlock()

	s.persistSet(f, value)
	for _, fn := range subs {
		fn(value, true)
	}
}

// Delete clears a single field and notifies its subscribers.
func (s *Store) Delete(f Field) {
	s.mu.Lock()
	delete(s.values, f)
	subs := s.snapshotSubs(f)
	s.mu.Unlock()

	s.persistDelete(f)
	for _, fn := range subs {
		fn("", false)
	}
}

// SetAuth commits a full authentication snapshot. All six fields change
// under one lock so no reader ever observes a partially written session.
func (s *Store) SetAuth(snap Snapshot) {
	values := map[Field]string{
		FieldAccessToken:  snap.AccessToken,
		FieldRefreshToken: snap.RefreshToken,
		FieldRole:         snap.Role,
		FieldUsername:     snap.Username,
		FieldUserID:       snap.UserID,
		FieldUser:         snap.UserJSON,
	}

	s.mu.Lock()
	notify := make([]func(), 0, len(fields))
	for _, f := range fields {
		v := values[f]
		s.values[f] = v
		for _, fn := range s.snapshotSubs(f) {
			fn, v := fn, v
			notify = append(notify, func() { fn(v, true) })
		}
	}
	s.mu.Unlock()

	for f, v := range values {
		s.persistSet(f, v)
	}
	for _, fn := range notify {
		fn()
	}
}

// Clear removes every session field, atomically with respect to readers.
func (s *Store) Clear() {
	s.mu.Lock()
	notify := make([]func(), 0, len(fields))
	for _, f := range fields {
		delete(s.values, f)
		for _, fn := range s.snapshotSubs(f) {
			fn := fn
			notify = append(notify, func() { fn("", false) })
		}
	}
	s.mu.Unlock()

	for _, f := range fields {
		s.persistDelete(f)
	}
	for _, fn := range notify {
		fn()
	}
}

// AccessToken returns the current access token, or empty when unset.
func (s *Store) AccessToken() string {
	v, _ := s.Get(FieldAccessToken)
	return v
}

// RefreshToken returns the current refresh token, or empty when unset.
func (s *Store) RefreshToken() string {
	v, _ := s.Get(FieldRefreshToken)
	return v
}

// Role returns the cached role claim, or empty when unset.
func (s *Store) Role() string {
	v, _ := s.Get(FieldRole)
	return v
}

// Username returns the cached username, or empty when unset.
func (s *Store) Username() string {
	v, _ := s.Get(FieldUsername)
	return v
}

// UserID returns the cached user ID, or empty when unset.
func (s *Store) UserID() string {
	v, _ := s.Get(FieldUserID)
	return v
}

// User unmarshals the cached profile object into dst. Corrupt or absent JSON
// reports false rather than an error.
func (s *Store) User(dst any) bool {
	raw, ok := s.Get(FieldUser)
	if !ok || raw == "" {
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		s.log.Debug().Err(err).Msg("store: cached user object is corrupt, treating as absent")
		return false
	}
	return true
}

// Subscribe registers fn for changes to field f. The returned cancel func
// removes the subscription and is safe to call more than once.
func (s *Store) Subscribe(f Field, fn Subscriber) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subs[f] == nil {
		s.subs[f] = make(map[int]Subscriber)
	}
	id := s.nextID
	s.nextID++
	s.subs[f][id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[f], id)
	}
}

// snapshotSubs must be called with the lock held.
func (s *Store) snapshotSubs(f Field) []Subscriber {
	out := make([]Subscriber, 0, len(s.subs[f]))
	for _, fn := range s.subs[f] {
		out = append(out, fn)
	}
	return out
}

func (s *Store) persistSet(f Field, value string) {
	if s.repo == nil {
		return
	}
	if err := s.repo.Set(string(f), value); err != nil {
		s.log.Debug().Err(err).Str("field", string(f)).Msg("store: durable write failed, value held in memory only")
	}
}

func (s *Store) persistDelete(f Field) {
	if s.repo == nil {
		return
	}
	if err := s.repo.Delete(string(f)); err != nil {
		s.log.Debug().Err(err).Str("field", string(f)).Msg("store: durable delete failed")
	}
}
