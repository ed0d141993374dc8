// Package idle watches for user inactivity and upcoming session expiry. The
// UI glue reports interaction events via Activity; the watcher polls wall
// clocks and either forces logout or asks the user to renew.
package idle

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/carelink/go-portal-session/backend"
	"github.com/carelink/go-portal-session/session"
	"github.com/carelink/go-portal-session/token"
)

// Defaults match the portal's session policy.
const (
	DefaultIdleTimeout     = 60 * time.Minute
	DefaultIdleInterval    = 10 * time.Second
	DefaultWarningInterval = 30 * time.Second
	DefaultWarningWindow   = 5 * time.Minute
)

// Decision is the user's answer to the renew-session prompt.
type Decision int

const (
	// DecisionLogout ends the session.
	DecisionLogout Decision = iota
	// DecisionExtend renews the session via a token refresh.
	DecisionExtend
)

// Prompter surfaces the blocking renew-session prompt. deadline is when the
// access token expires, for a live countdown. Implementations block until
// the user decides; the watcher guarantees only one outstanding prompt.
type Prompter interface {
	PromptRenew(ctx context.Context, deadline time.Time) Decision
}

// PrompterFunc adapts a function to the Prompter interface.
type PrompterFunc func(ctx context.Context, deadline time.Time) Decision

func (f PrompterFunc) PromptRenew(ctx context.Context, deadline time.Time) Decision {
	return f(ctx, deadline)
}

// Sessioner is the slice of the session service the watcher drives.
type Sessioner interface {
	IsAuthenticated() bool
	AccessToken() string
	Refresh(ctx context.Context) (*backend.TokenPair, error)
	CommitTokens(pair *backend.TokenPair) bool
	ForceLogout(ctx context.Context, reason string)
}

var _ Sessioner = (*session.Service)(nil)

// Watcher runs the two independent polls: the inactivity check and the
// expiry warning check.
type Watcher struct {
	session  Sessioner
	prompter Prompter
	log      zerolog.Logger

	idleTimeout     time.Duration
	idleInterval    time.Duration
	warningInterval time.Duration
	warningWindow   time.Duration
	now             func() time.Time

	lastActivity struct {
		sync.Mutex
		at time.Time
	}

	promptMu      sync.Mutex
	promptPending bool

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithIdleTimeout overrides the inactivity limit.
func WithIdleTimeout(d time.Duration) Option {
	return func(w *Watcher) { w.idleTimeout = d }
}

// WithPollIntervals overrides both poll intervals (tests run sub-second).
func WithPollIntervals(idle, warning time.Duration) Option {
	return func(w *Watcher) {
		w.idleInterval = idle
		w.warningInterval = warning
	}
}

// WithWarningWindow overrides how close to expiry the renew prompt appears.
func WithWarningWindow(d time.Duration) Option {
	return func(w *Watcher) { w.warningWindow = d }
}

// WithNowTime sets the clock (primarily for testing).
func WithNowTime(now func() time.Time) Option {
	return func(w *Watcher) { w.now = now }
}

// WithLogger sets the watcher logger.
func WithLogger(log zerolog.Logger) Option {
	return func(w *Watcher) { w.log = log }
}

// NewWatcher creates a Watcher. It does not start polling until Start.
func NewWatcher(sess Sessioner, prompter Prompter, options ...Option) *Watcher {
	w := &Watcher{
		session:         sess,
		prompter:        prompter,
		log:             zerolog.Nop(),
		idleTimeout:     DefaultIdleTimeout,
		idleInterval:    DefaultIdleInterval,
		warningInterval: DefaultWarningInterval,
		warningWindow:   DefaultWarningWindow,
		now:             time.Now,
		stop:            make(chan struct{}),
	}
	for _, opt := range options {
		opt(w)
	}
	w.lastActivity.at = w.now()
	return w
}

// Activity records a user interaction (pointer, keyboard, touch, scroll).
// Safe to call from any goroutine at any rate.
func (w *Watcher) Activity() {
	w.lastActivity.Lock()
	w.lastActivity.at = w.now()
	w.lastActivity.Unlock()
}

// LastActivity returns the most recent recorded interaction time.
func (w *Watcher) LastActivity() time.Time {
	w.lastActivity.Lock()
	defer w.lastActivity.Unlock()
	return w.lastActivity.at
}

// Start launches both polls. Calling Start twice is a no-op.
func (w *Watcher) Start() {
	w.startOnce.Do(func() {
		w.done.Add(2)
		go w.idleLoop()
		go w.warningLoop()
	})
}

// Stop cancels both polls and waits for them to exit. Safe to call more than
// once; must be called on teardown so no ticker leaks across navigation.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	w.done.Wait()
}

func (w *Watcher) idleLoop() {
	defer w.done.Done()
	ticker := time.NewTicker(w.idleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.checkIdle()
		}
	}
}

func (w *Watcher) checkIdle() {
	if !w.session.IsAuthenticated() {
		return
	}
	idleFor := w.now().Sub(w.LastActivity())
	if idleFor < w.idleTimeout {
		return
	}
	w.log.Info().Dur("idle", idleFor).Msg("inactivity limit reached, forcing logout")
	w.session.ForceLogout(context.Background(), "you were signed out after a period of inactivity")
}

func (w *Watcher) warningLoop() {
	defer w.done.Done()
	ticker := time.NewTicker(w.warningInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.checkExpiry()
		}
	}
}

func (w *Watcher) checkExpiry() {
	if !w.session.IsAuthenticated() {
		return
	}

	deadline, err := token.ExpiresAt(w.session.AccessToken())
	if err != nil {
		return
	}
	remaining := deadline.Sub(w.now())
	if remaining <= 0 || remaining > w.warningWindow {
		return
	}

	w.promptMu.Lock()
	if w.promptPending {
		w.promptMu.Unlock()
		return
	}
	w.promptPending = true
	w.promptMu.Unlock()

	go w.prompt(deadline)
}

func (w *Watcher) prompt(deadline time.Time) {
	defer func() {
		w.promptMu.Lock()
		w.promptPending = false
		w.promptMu.Unlock()
	}()

	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	decision := w.prompter.PromptRenew(ctx, deadline)
	if decision != DecisionExtend {
		w.session.ForceLogout(context.Background(), "you chose to sign out")
		return
	}

	pair, err := w.session.Refresh(context.Background())
	if err != nil {
		w.log.Warn().Err(err).Msg("session renewal failed")
		w.session.ForceLogout(context.Background(), "your session could not be renewed, please sign in again")
		return
	}
	w.session.CommitTokens(pair)
	w.log.Info().Msg("session renewed")
}
