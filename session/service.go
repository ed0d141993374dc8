// Package session orchestrates the authentication lifecycle: login and
// registration, the atomic commit of authentication state, token refresh,
// logout, and dashboard routing. It composes the backend client, the token
// store, and the token inspector; the transport package drives it per
// request.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/carelink/go-portal-session/backend"
	errs "github.com/carelink/go-portal-session/internal/errors"
	"github.com/carelink/go-portal-session/store"
	"github.com/carelink/go-portal-session/token"
)

// API is the slice of the backend client the service depends on.
type API interface {
	Login(ctx context.Context, creds backend.Credentials) (*backend.AuthResponse, error)
	Register(ctx context.Context, reg backend.Registration) (*backend.AuthResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*backend.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	CurrentUser(ctx context.Context, accessToken string) (*backend.User, error)
}

// ExpiryStatus is the three-way split that drives recovery routing after a
// failed refresh.
type ExpiryStatus int

const (
	// ExpiryValid means the access token has not actually expired yet
	// (soon-expiring still counts as valid here).
	ExpiryValid ExpiryStatus = iota
	// ExpiryShort means the token expired recently enough that automatic
	// recovery is appropriate.
	ExpiryShort
	// ExpiryLong means the token expired long enough ago that the user must
	// re-authenticate from scratch.
	ExpiryLong
)

func (s ExpiryStatus) String() string {
	switch s {
	case ExpiryValid:
		return "valid"
	case ExpiryShort:
		return "short-expired"
	case ExpiryLong:
		return "long-expired"
	}
	return "unknown"
}

// Deps holds all dependencies for the Service.
type Deps struct {
	API       API
	Store     *store.Store
	Navigator Navigator
}

// Service is the session lifecycle orchestrator. Construct one per process
// (or per test) with NewService.
type Service struct {
	deps Deps
	log  zerolog.Logger

	// Concurrent refreshes triggered by simultaneous in-flight requests
	// collapse into one backend call.
	refreshGroup singleflight.Group

	// lastExchanged is the refresh token most recently sent to the backend.
	// CommitTokens refuses to write when the stored refresh token no longer
	// matches it, so a refresh resolving after logout cannot resurrect
	// cleared session state.
	mu            sync.Mutex
	lastExchanged string
}

// Option modifies the Service instance.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// NewService initializes a Service with required dependencies.
func NewService(deps Deps, options ...Option) (*Service, error) {
	if deps.API == nil {
		return nil, errors.New("[NewService] API client is required")
	}
	if deps.Store == nil {
		return nil, errors.New("[NewService] Store is required")
	}
	if deps.Navigator == nil {
		return nil, errors.New("[NewService] Navigator is required")
	}

	s := &Service{
		deps: deps,
		log:  zerolog.Nop(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Login forwards credentials to the backend. It deliberately does not touch
// the store: the caller confirms the response and commits it via StoreAuth.
func (s *Service) Login(ctx context.Context, creds backend.Credentials) (*backend.AuthResponse, error) {
	resp, err := s.deps.API.Login(ctx, creds)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Login] backend login")
	}
	return resp, nil
}

// Register forwards a registration request. Like Login, it does not commit
// session state.
func (s *Service) Register(ctx context.Context, reg backend.Registration) (*backend.AuthResponse, error) {
	resp, err := s.deps.API.Register(ctx, reg)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Register] backend register")
	}
	return resp, nil
}

// StoreAuth atomically commits an authentication response: both tokens, the
// role, the username, the derived user ID, and the cached profile object.
func (s *Service) StoreAuth(resp *backend.AuthResponse) {
	var userJSON string
	if resp.User != nil {
		if raw, err := json.Marshal(resp.User.Raw); err == nil {
			userJSON = string(raw)
		}
	}

	s.deps.Store.SetAuth(store.Snapshot{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		Role:         resp.Role,
		Username:     resp.Username,
		UserID:       resp.DerivedUserID(),
		UserJSON:     userJSON,
	})
	s.log.Info().Str("username", resp.Username).Str("role", resp.Role).Msg("session established")
}

// Refresh exchanges the current refresh token for a rotated pair. It does
// not update the store; the caller commits the pair via CommitTokens once it
// knows the outcome. Concurrent callers share one in-flight exchange.
func (s *Service) Refresh(ctx context.Context) (*backend.TokenPair, error) {
	refreshToken := s.deps.Store.RefreshToken()
	if refreshToken == "" {
		return nil, errs.ErrNoRefreshToken
	}

	v, err, _ := s.refreshGroup.Do("refresh", func() (any, error) {
		s.mu.Lock()
		s.lastExchanged = refreshToken
		s.mu.Unlock()

		pair, err := s.deps.API.Refresh(ctx, refreshToken)
		if err != nil {
			return nil, errors.Wrap(err, "[Service.Refresh] backend refresh")
		}
		return pair, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*backend.TokenPair), nil
}

// CommitTokens writes a refreshed pair into the store. It reports false, and
// writes nothing, when the session was cleared or replaced while the refresh
// was in flight.
func (s *Service) CommitTokens(pair *backend.TokenPair) bool {
	s.mu.Lock()
	exchanged := s.lastExchanged
	s.mu.Unlock()

	current := s.deps.Store.RefreshToken()
	if current == "" || current != exchanged {
		s.log.Debug().Msg("stale refresh result discarded, session changed while refresh was in flight")
		return false
	}

	s.deps.Store.Set(store.FieldAccessToken, pair.AccessToken)
	s.deps.Store.Set(store.FieldRefreshToken, pair.RefreshToken)
	return true
}

// CheckAndRefresh performs the pre-flight freshness check. It refreshes when
// the access token is inside the proactive window or already expired and a
// refresh token exists. refreshed is false when no refresh was needed or
// possible.
func (s *Service) CheckAndRefresh(ctx context.Context) (pair *backend.TokenPair, refreshed bool, err error) {
	status := token.Classify(s.deps.Store.AccessToken())
	if status == token.StatusValid {
		return nil, false, nil
	}
	if s.deps.Store.RefreshToken() == "" {
		return nil, false, nil
	}

	s.log.Debug().Stringer("status", status).Msg("access token needs refresh")
	pair, err = s.Refresh(ctx)
	if err != nil {
		return nil, true, err
	}
	return pair, true, nil
}

// ExpirationStatus classifies the current access token for recovery routing:
// not actually expired, short expired, or long expired.
func (s *Service) ExpirationStatus() ExpiryStatus {
	status := token.Classify(s.deps.Store.AccessToken())
	switch {
	case !status.Expired():
		return ExpiryValid
	case status == token.StatusLongExpired:
		return ExpiryLong
	}
	return ExpiryShort
}

// IsAuthenticated reports whether an access token is present. It says
// nothing about freshness; callers needing that use CheckAndRefresh or
// ExpirationStatus.
func (s *Service) IsAuthenticated() bool {
	return s.deps.Store.AccessToken() != ""
}

// CurrentUser fetches the live profile for the current access token.
func (s *Service) CurrentUser(ctx context.Context) (*backend.User, error) {
	accessToken := s.deps.Store.AccessToken()
	if accessToken == "" {
		return nil, errs.ErrNotAuthenticated
	}
	user, err := s.deps.API.CurrentUser(ctx, accessToken)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.CurrentUser] backend current-user")
	}
	return user, nil
}

// Logout notifies the backend, clears all session state, and navigates to
// the login surface. The backend call is fire-and-forget: logout is always
// effective client-side, network failure or not.
func (s *Service) Logout(ctx context.Context) {
	s.logout(ctx, "")
}

// ForceLogout behaves like Logout and carries a human-readable reason to the
// login surface (inactivity, expired session, failed renewal).
func (s *Service) ForceLogout(ctx context.Context, reason string) {
	s.logout(ctx, reason)
}

func (s *Service) logout(ctx context.Context, reason string) {
	if refreshToken := s.deps.Store.RefreshToken(); refreshToken != "" {
		// Dispatch and ignore: revocation is a courtesy to the backend.
		if err := s.deps.API.Logout(ctx, refreshToken); err != nil {
			s.log.Debug().Err(err).Msg("backend logout notification failed, clearing session anyway")
		}
	}

	s.deps.Store.Clear()
	s.log.Info().Str("reason", reason).Msg("session cleared")
	s.deps.Navigator.NavigateTo(RouteLogin, reason)
}

// DashboardRoute maps a role to its home surface. Unknown roles, including
// ADMIN, fall through to the login surface; no admin landing page exists in
// the portal's routing.
func DashboardRoute(role string) Route {
	switch role {
	case backend.RoleDoctor:
		return RouteDoctorDashboard
	case backend.RolePatient:
		return RoutePatientDashboard
	}
	return RouteLogin
}

// RedirectToDashboard navigates to the dashboard for role.
func (s *Service) RedirectToDashboard(role string) {
	s.deps.Navigator.NavigateTo(DashboardRoute(role), "")
}

// Navigate exposes the navigator to collaborating packages (the transport's
// recovery routing goes through here).
func (s *Service) Navigate(route Route, reason string) {
	s.deps.Navigator.NavigateTo(route, reason)
}

// RefreshToken returns the stored refresh token; empty when absent.
func (s *Service) RefreshToken() string {
	return s.deps.Store.RefreshToken()
}

// AccessToken returns the stored access token; empty when absent.
func (s *Service) AccessToken() string {
	return s.deps.Store.AccessToken()
}

// RemainingValidity reports how long the current access token stays valid.
func (s *Service) RemainingValidity() time.Duration {
	return token.RemainingValidity(s.deps.Store.AccessToken())
}
