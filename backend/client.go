// Package backend is the typed HTTP client for the portal's auth endpoints.
// It performs no token management of its own; the session service owns that.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const defaultTimeout = 30 * time.Second

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend returned %d", e.StatusCode)
}

// Client calls the portal auth API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	deviceID   string
	log        zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (primarily for testing).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithDeviceID sets the per-install identifier sent as X-Device-ID. A random
// one is generated when not provided.
func WithDeviceID(id string) Option {
	return func(c *Client) { c.deviceID = id }
}

// WithLogger sets the request logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient creates a Client for the given portal base URL.
func NewClient(baseURL string, options ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("[backend.NewClient] baseURL is required")
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        zerolog.Nop(),
	}
	for _, opt := range options {
		opt(c)
	}
	if c.deviceID == "" {
		c.deviceID = uuid.New().String()
	}
	return c, nil
}

// Login exchanges credentials for a token pair and profile.
func (c *Client) Login(ctx context.Context, creds Credentials) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.post(ctx, RouteLogin, creds, "", &resp); err != nil {
		return nil, errors.Wrap(err, "[Client.Login] login request")
	}
	return &resp, nil
}

// Register creates an account and returns the same response shape as Login.
func (c *Client) Register(ctx context.Context, reg Registration) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.post(ctx, RouteRegister, reg, "", &resp); err != nil {
		return nil, errors.Wrap(err, "[Client.Register] register request")
	}
	return &resp, nil
}

// Refresh exchanges refreshToken for a rotated token pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	body := map[string]string{"refreshToken": refreshToken}
	var pair TokenPair
	if err := c.post(ctx, RouteRefresh, body, "", &pair); err != nil {
		return nil, errors.Wrap(err, "[Client.Refresh] refresh request")
	}
	return &pair, nil
}

// Logout notifies the backend that refreshToken should be revoked. Callers
// treat this as fire-and-forget; any error is theirs to ignore.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	body := map[string]string{"refreshToken": refreshToken}
	if err := c.post(ctx, RouteLogout, body, "", nil); err != nil {
		return errors.Wrap(err, "[Client.Logout] logout request")
	}
	return nil
}

// CurrentUser fetches the profile for accessToken.
func (c *Client) CurrentUser(ctx context.Context, accessToken string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+RouteCurrentUser, nil)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.CurrentUser] build request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var user User
	if err := c.do(req, &user); err != nil {
		return nil, errors.Wrap(err, "[Client.CurrentUser] current-user request")
	}
	return &user, nil
}

func (c *Client) post(ctx context.Context, route string, body any, bearer string, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal request body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+route, bytes.NewReader(raw))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("X-Device-ID", c.deviceID)

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(started)).
		Msg("backend call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(apiErr)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response body")
	}
	return nil
}
