// Package apifake provides a scriptable in-memory implementation of the
// session.API interface for tests.
package apifake

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/carelink/go-portal-session/backend"
)

// FakeAPI records calls and returns scripted responses.
type FakeAPI struct {
	mu sync.Mutex

	LoginResponse    *backend.AuthResponse
	LoginErr         error
	RegisterResponse *backend.AuthResponse
	RegisterErr      error
	RefreshResponse  *backend.TokenPair
	RefreshErr       error
	LogoutErr        error
	UserResponse     *backend.User
	UserErr          error

	// RefreshFunc, when set, overrides the scripted refresh response.
	RefreshFunc func(ctx context.Context, refreshToken string) (*backend.TokenPair, error)

	LoginCalls   int
	RefreshCalls int
	LogoutCalls  int

	// RefreshedWith records every refresh token sent to Refresh.
	RefreshedWith []string
	// LoggedOutWith records every refresh token sent to Logout.
	LoggedOutWith []string
}

// NewFakeAPI creates an empty FakeAPI.
func NewFakeAPI() *FakeAPI {
	return &FakeAPI{}
}

func (f *FakeAPI) Login(_ context.Context, _ backend.Credentials) (*backend.AuthResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LoginCalls++
	if f.LoginErr != nil {
		return nil, f.LoginErr
	}
	if f.LoginResponse == nil {
		return nil, errors.New("apifake: no login response scripted")
	}
	return f.LoginResponse, nil
}

func (f *FakeAPI) Register(_ context.Context, _ backend.Registration) (*backend.AuthResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RegisterErr != nil {
		return nil, f.RegisterErr
	}
	if f.RegisterResponse == nil {
		return nil, errors.New("apifake: no register response scripted")
	}
	return f.RegisterResponse, nil
}

func (f *FakeAPI) Refresh(ctx context.Context, refreshToken string) (*backend.TokenPair, error) {
	f.mu.Lock()
	f.RefreshCalls++
	f.RefreshedWith = append(f.RefreshedWith, refreshToken)
	fn := f.RefreshFunc
	resp, err := f.RefreshResponse, f.RefreshErr
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, refreshToken)
	}
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("apifake: no refresh response scripted")
	}
	return resp, nil
}

func (f *FakeAPI) Logout(_ context.Context, refreshToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LogoutCalls++
	f.LoggedOutWith = append(f.LoggedOutWith, refreshToken)
	return f.LogoutErr
}

func (f *FakeAPI) CurrentUser(_ context.Context, _ string) (*backend.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UserErr != nil {
		return nil, f.UserErr
	}
	if f.UserResponse == nil {
		return nil, errors.New("apifake: no user response scripted")
	}
	return f.UserResponse, nil
}
