// Package transport wraps outgoing portal API calls with bearer decoration,
// pre-flight token refresh, and a single reactive retry on 401/403.
package transport

import (
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/carelink/go-portal-session/session"
)

// Transport is an http.RoundTripper guarding authenticated requests. Wire it
// into the http.Client every portal feature uses.
type Transport struct {
	base    http.RoundTripper
	session *session.Service
	log     zerolog.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithBase sets the underlying RoundTripper. Defaults to
// http.DefaultTransport.
func WithBase(rt http.RoundTripper) Option {
	return func(t *Transport) { t.base = rt }
}

// WithLogger sets the transport logger.
func WithLogger(log zerolog.Logger) Option {
	return func(t *Transport) { t.log = log }
}

// New creates a Transport guarding requests with svc.
func New(svc *session.Service, options ...Option) *Transport {
	t := &Transport{
		base:    http.DefaultTransport,
		session: svc,
		log:     zerolog.Nop(),
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

// RoundTrip applies the guard algorithm:
//
//  1. Pre-flight: when the access token is stale and a refresh token exists,
//     refresh first, commit, and send with the new token. A pre-flight
//     refresh failure routes to a recovery surface and returns the error;
//     the request is never sent.
//  2. Otherwise send with the current token. On 401/403 with a refresh
//     token present, refresh once, commit, and retry the request exactly
//     once. A reactive refresh failure routes to a recovery surface and
//     returns the original response so callers still see the HTTP error.
//
// The two paths are mutually exclusive per request, so no request is ever
// retried more than once and refresh itself is never retried.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	pair, refreshed, err := t.session.CheckAndRefresh(req.Context())
	if refreshed {
		if err != nil {
			t.routeRecovery(err)
			return nil, err
		}
		t.session.CommitTokens(pair)
		return t.send(req, pair.AccessToken)
	}

	resp, err := t.send(req, t.session.AccessToken())
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden {
		return resp, nil
	}
	if t.session.RefreshToken() == "" {
		// Nothing to recover with; the caller sees the raw status.
		return resp, nil
	}

	t.log.Debug().Int("status", resp.StatusCode).Str("path", req.URL.Path).Msg("auth rejection, attempting reactive refresh")

	newPair, refreshErr := t.session.Refresh(req.Context())
	if refreshErr != nil {
		t.routeRecovery(refreshErr)
		return resp, nil
	}
	t.session.CommitTokens(newPair)

	retry, err := t.rewind(req)
	if err != nil {
		return resp, nil
	}
	resp.Body.Close()

	return t.send(retry, newPair.AccessToken)
}

// send clones the request, attaches the bearer credential when present, and
// dispatches it on the base transport. The caller's request is never
// mutated.
func (t *Transport) send(req *http.Request, accessToken string) (*http.Response, error) {
	out := req.Clone(req.Context())
	if accessToken != "" {
		out.Header.Set("Authorization", "Bearer "+accessToken)
	}
	return t.base.RoundTrip(out)
}

// rewind produces a replayable copy of req for the single retry. Requests
// with a one-shot body cannot be retried.
func (t *Transport) rewind(req *http.Request) (*http.Request, error) {
	out := req.Clone(req.Context())
	if req.Body == nil {
		return out, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("request body cannot be replayed")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	out.Body = body
	return out, nil
}

// routeRecovery picks the recovery surface after a failed refresh:
// long-expired credentials need a full re-authentication, anything else gets
// the automatic-recovery surface.
func (t *Transport) routeRecovery(refreshErr error) {
	status := t.session.ExpirationStatus()
	t.log.Warn().Err(refreshErr).Stringer("expiry", status).Msg("token refresh failed, routing to recovery")

	if status == session.ExpiryLong {
		t.session.Navigate(session.RouteSessionExpired, "your session has expired, please sign in again")
		return
	}
	t.session.Navigate(session.RouteTokenRefresh, "we could not renew your session automatically")
}

// Client returns an http.Client using this transport.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}
