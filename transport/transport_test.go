package transport_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/carelink/go-portal-session/backend"
	"github.com/carelink/go-portal-session/internal/tokentest"
	"github.com/carelink/go-portal-session/session"
	"github.com/carelink/go-portal-session/session/apifake"
	"github.com/carelink/go-portal-session/store"
	"github.com/carelink/go-portal-session/transport"
)

type recordingNavigator struct {
	mu     sync.Mutex
	routes []session.Route
}

func (n *recordingNavigator) NavigateTo(route session.Route, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routes = append(n.routes, route)
}

func (n *recordingNavigator) visited() []session.Route {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]session.Route(nil), n.routes...)
}

// apiServer is the protected resource the guarded requests hit.
type apiServer struct {
	mu       sync.Mutex
	hits     int
	bearers  []string
	statuses []int // consumed in order; last one repeats
}

func (s *apiServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits++
		s.bearers = append(s.bearers, r.Header.Get("Authorization"))
		status := s.statuses[0]
		if len(s.statuses) > 1 {
			s.statuses = s.statuses[1:]
		}
		s.mu.Unlock()

		w.WriteHeader(status)
		if status == http.StatusOK {
			io.WriteString(w, `{"ok":true}`)
		}
	}
}

func (s *apiServer) hitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits
}

func (s *apiServer) bearer(i int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bearers[i]
}

type fixture struct {
	api    *apifake.FakeAPI
	store  *store.Store
	nav    *recordingNavigator
	server *apiServer
	ts     *httptest.Server
	client *http.Client
}

func setup(t *testing.T, statuses ...int) *fixture {
	t.Helper()

	f := &fixture{
		api:    apifake.NewFakeAPI(),
		store:  store.New(),
		nav:    &recordingNavigator{},
		server: &apiServer{statuses: statuses},
	}

	svc, err := session.NewService(session.Deps{
		API:       f.api,
		Store:     f.store,
		Navigator: f.nav,
	})
	require.NoError(t, err)

	f.ts = httptest.NewServer(f.server.handler())
	t.Cleanup(f.ts.Close)

	f.client = transport.New(svc).Client()
	return f
}

func (f *fixture) seedSession(t *testing.T, accessExpiry time.Duration) {
	t.Helper()
	f.store.SetAuth(store.Snapshot{
		AccessToken:  tokentest.Mint(t, time.Now().Add(accessExpiry)),
		RefreshToken: "refresh-1",
		Role:         backend.RoleDoctor,
		Username:     "dr.jones",
	})
}

func (f *fixture) get(t *testing.T) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, f.ts.URL+"/api/appointments", nil)
	require.NoError(t, err)
	resp, rerr := f.client.Do(req)
	if resp != nil {
		t.Cleanup(func() { resp.Body.Close() })
	}
	return resp, rerr
}

func TestRoundTrip_ValidTokenPassesThrough(t *testing.T) {
	f := setup(t, http.StatusOK)
	f.seedSession(t, 30*time.Minute)

	resp, err := f.get(t)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Zero(t, f.api.RefreshCalls)
	require.Equal(t, 1, f.server.hitCount())
	require.True(t, strings.HasPrefix(f.server.bearer(0), "Bearer "))
}

func TestRoundTrip_NoTokenNoHeader(t *testing.T) {
	f := setup(t, http.StatusOK)

	resp, err := f.get(t)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "", f.server.bearer(0))
}

func TestRoundTrip_PreflightRefresh(t *testing.T) {
	f := setup(t, http.StatusOK)
	f.seedSession(t, -time.Minute) // expired, refresh token present
	f.api.RefreshResponse = &backend.TokenPair{AccessToken: tokentest.Mint(t, time.Now().Add(time.Hour)), RefreshToken: "refresh-2"}

	resp, err := f.get(t)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Equal(t, 1, f.api.RefreshCalls)
	require.Equal(t, 1, f.server.hitCount(), "pre-flight refresh must not cause a retry")
	require.Equal(t, "Bearer "+f.api.RefreshResponse.AccessToken, f.server.bearer(0))
	// Rotated pair was committed.
	require.Equal(t, "refresh-2", f.store.RefreshToken())
}

func TestRoundTrip_PreflightRefreshFailure(t *testing.T) {
	t.Run("short expired routes to token-refresh", func(t *testing.T) {
		f := setup(t, http.StatusOK)
		f.seedSession(t, -time.Minute)
		f.api.RefreshErr = errors.New("refresh rejected")

		_, err := f.get(t)
		require.Error(t, err)
		require.Zero(t, f.server.hitCount(), "request must not be sent when pre-flight refresh fails")
		require.Equal(t, []session.Route{session.RouteTokenRefresh}, f.nav.visited())
	})

	t.Run("long expired routes to session-expired", func(t *testing.T) {
		f := setup(t, http.StatusOK)
		f.seedSession(t, -2*time.Hour)
		f.api.RefreshErr = errors.New("refresh rejected")

		_, err := f.get(t)
		require.Error(t, err)
		require.Equal(t, []session.Route{session.RouteSessionExpired}, f.nav.visited())
	})
}

func TestRoundTrip_ReactiveRefreshAndRetry(t *testing.T) {
	f := setup(t, http.StatusUnauthorized, http.StatusOK)
	f.seedSession(t, 30*time.Minute) // looks valid client-side, backend disagrees
	newAccess := tokentest.Mint(t, time.Now().Add(time.Hour))
	f.api.RefreshResponse = &backend.TokenPair{AccessToken: newAccess, RefreshToken: "refresh-2"}

	resp, err := f.get(t)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Equal(t, 1, f.api.RefreshCalls, "exactly one refresh")
	require.Equal(t, 2, f.server.hitCount(), "exactly one retry")
	require.Equal(t, "Bearer "+newAccess, f.server.bearer(1), "retry carries the new token")
	require.Equal(t, "refresh-2", f.store.RefreshToken())
}

func TestRoundTrip_RetriesAtMostOnce(t *testing.T) {
	f := setup(t, http.StatusUnauthorized) // rejects forever
	f.seedSession(t, 30*time.Minute)
	f.api.RefreshResponse = &backend.TokenPair{AccessToken: tokentest.Mint(t, time.Now().Add(time.Hour)), RefreshToken: "refresh-2"}

	resp, err := f.get(t)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	require.Equal(t, 1, f.api.RefreshCalls)
	require.Equal(t, 2, f.server.hitCount(), "a rejected retry is never retried again")
}

func TestRoundTrip_401WithoutRefreshToken(t *testing.T) {
	f := setup(t, http.StatusUnauthorized)
	f.store.Set(store.FieldAccessToken, tokentest.Mint(t, time.Now().Add(30*time.Minute)))

	resp, err := f.get(t)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode, "401 propagates unchanged")
	require.Zero(t, f.api.RefreshCalls)
	require.Equal(t, 1, f.server.hitCount())
	require.Empty(t, f.nav.visited())
}

func TestRoundTrip_ReactiveRefreshFailure(t *testing.T) {
	f := setup(t, http.StatusUnauthorized)
	f.seedSession(t, 30*time.Minute)
	f.api.RefreshErr = errors.New("refresh rejected")

	resp, err := f.get(t)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode, "original response is surfaced to the caller")
	require.Equal(t, []session.Route{session.RouteTokenRefresh}, f.nav.visited())
}

func TestRoundTrip_OtherErrorsPassThrough(t *testing.T) {
	f := setup(t, http.StatusServiceUnavailable)
	f.seedSession(t, 30*time.Minute)

	resp, err := f.get(t)
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Zero(t, f.api.RefreshCalls)
}

func TestRoundTrip_RetryReplaysBody(t *testing.T) {
	var bodies []string
	var mu sync.Mutex
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(raw))
		n := len(bodies)
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(ts.Close)

	api := apifake.NewFakeAPI()
	api.RefreshResponse = &backend.TokenPair{AccessToken: tokentest.Mint(t, time.Now().Add(time.Hour)), RefreshToken: "refresh-2"}
	st := store.New()
	st.SetAuth(store.Snapshot{
		AccessToken:  tokentest.Mint(t, time.Now().Add(30*time.Minute)),
		RefreshToken: "refresh-1",
	})
	svc, err := session.NewService(session.Deps{API: api, Store: st, Navigator: &recordingNavigator{}})
	require.NoError(t, err)

	client := transport.New(svc).Client()
	resp, err := client.Post(ts.URL+"/api/lab-bookings", "application/json", strings.NewReader(`{"slot":"am"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Equal(t, []string{`{"slot":"am"}`, `{"slot":"am"}`}, bodies)
}

func TestEndToEnd_TransparentMidSessionRefresh(t *testing.T) {
	// Access token expires mid-session while the refresh token stays valid:
	// the next API call refreshes transparently and the caller never sees an
	// auth error.
	f := setup(t, http.StatusOK)
	f.seedSession(t, -30*time.Second)
	f.api.RefreshResponse = &backend.TokenPair{AccessToken: tokentest.Mint(t, time.Now().Add(time.Hour)), RefreshToken: "refresh-2"}

	resp, err := f.get(t)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, f.nav.visited())
}

func TestEndToEnd_LongExpiredRoutesToSessionExpired(t *testing.T) {
	// Both tokens expired over an hour ago: the refresh attempt fails and
	// the user lands on the full re-authentication surface.
	f := setup(t, http.StatusOK)
	f.seedSession(t, -90*time.Minute)
	f.api.RefreshErr = errors.New("refresh token expired")

	_, err := f.get(t)
	require.Error(t, err)
	require.Equal(t, []session.Route{session.RouteSessionExpired}, f.nav.visited())
	require.NotContains(t, f.nav.visited(), session.RouteTokenRefresh)
}
