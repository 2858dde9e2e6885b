package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"doccal/internal/credstore"
	"doccal/internal/models"
)

// SessionState is a step of the interactive authorization flow.
type SessionState int

const (
	StateIdle SessionState = iota
	StateAwaitingConsent
	StateAwaitingCallback
	StateExchanging
	StateComplete
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingConsent:
		return "awaiting-consent"
	case StateAwaitingCallback:
		return "awaiting-callback"
	case StateExchanging:
		return "exchanging"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	successBody = "Authorization successful! You can close this window."
	deniedBody  = "Authorization was denied. You can close this window."
	genericBody = "This endpoint only accepts an authorization callback."

	shutdownTimeout = 5 * time.Second
)

// ErrSessionUsed is returned when Run is called on a session that already ran.
var ErrSessionUsed = errors.New("authorization session already used")

// Presenter shows the authorization URL to the user, e.g. by printing it
// or opening a browser.
type Presenter func(authURL string)

// SessionOptions configure a Session.
type SessionOptions struct {
	// Timeout bounds the wait for the callback.
	Timeout   time.Duration
	Presenter Presenter
}

type callbackResult struct {
	code string
	err  error
}

// Session drives a single interactive authorization: it presents the
// consent URL, receives exactly one callback on a short-lived local
// listener, exchanges the code and stores the resulting grant.
// A session runs at most once; after a failure the caller starts a new one.
type Session struct {
	config    *oauth2.Config
	store     credstore.Store
	logger    *slog.Logger
	timeout   time.Duration
	presenter Presenter

	mu    sync.Mutex
	state SessionState
	err   error
}

// NewSession prepares an authorization flow for config that saves the
// grant to store. A zero Timeout means five minutes.
func NewSession(config *oauth2.Config, store credstore.Store, logger *slog.Logger, opts SessionOptions) *Session {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	return &Session{
		config:    config,
		store:     store,
		logger:    logger,
		timeout:   opts.Timeout,
		presenter: opts.Presenter,
	}
}

// State returns the current state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the reason of a failed session.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Run performs the flow and blocks until it completes, fails, times out
// or ctx is cancelled. The listening port is released on every return.
func (s *Session) Run(ctx context.Context) (*credstore.Grant, error) {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil, ErrSessionUsed
	}
	s.state = StateAwaitingConsent
	s.mu.Unlock()
	s.logger.Debug("Authorization session transition", "from", StateIdle, "to", StateAwaitingConsent)

	redirect, err := url.Parse(s.config.RedirectURL)
	if err != nil {
		return s.fail(fmt.Errorf("invalid redirect URL: %w", err))
	}
	listenAddr := redirect.Host
	if redirect.Port() == "" {
		listenAddr = net.JoinHostPort(redirect.Hostname(), "80")
	}

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return s.fail(fmt.Errorf("failed to bind callback listener on %s: %w", listenAddr, err))
	}
	if redirect.Port() == "0" {
		_, port, _ := net.SplitHostPort(ln.Addr().String())
		redirect.Host = net.JoinHostPort(redirect.Hostname(), port)
	}
	callbackPath := redirect.Path
	if callbackPath == "" {
		callbackPath = "/"
	}

	cfg := *s.config
	cfg.RedirectURL = redirect.String()
	state := uuid.NewString()
	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)

	results := make(chan callbackResult, 1)
	srv := &http.Server{
		Handler:           callbackRouter(callbackPath, state, results),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	stop := sync.OnceFunc(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("Callback listener did not shut down cleanly", "error", err)
			_ = srv.Close()
		}
	})
	defer stop()

	s.transition(StateAwaitingCallback)
	s.logger.Info("Waiting for authorization callback.", "redirect", cfg.RedirectURL, "timeout", s.timeout)
	if s.presenter != nil {
		s.presenter(authURL)
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	var code string
	select {
	case res := <-results:
		if res.err != nil {
			return s.fail(res.err)
		}
		code = res.code
	case err := <-serveErr:
		return s.fail(fmt.Errorf("callback listener failed: %w", err))
	case <-timer.C:
		return s.fail(fmt.Errorf("%w after %s", models.ErrCallbackTimeout, s.timeout))
	case <-ctx.Done():
		return s.fail(fmt.Errorf("authorization cancelled: %w", ctx.Err()))
	}
	stop()

	s.transition(StateExchanging)
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return s.fail(fmt.Errorf("%w: %w", models.ErrTokenExchange, err))
	}

	grant := credstore.FromToken(tok, cfg.Scopes)
	if !grant.Complete() {
		return s.fail(fmt.Errorf("%w: no refresh token in response", models.ErrTokenExchange))
	}
	if err := s.store.Save(grant); err != nil {
		return s.fail(fmt.Errorf("failed to save grant: %w", err))
	}

	s.transition(StateComplete)
	s.logger.Info("Authorization complete.", "expiry", grant.Expiry, "scope", grant.Scope)
	return grant, nil
}

func (s *Session) transition(to SessionState) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	s.logger.Debug("Authorization session transition", "from", from, "to", to)
}

func (s *Session) fail(err error) (*credstore.Grant, error) {
	s.mu.Lock()
	s.state = StateFailed
	s.err = err
	s.mu.Unlock()
	s.logger.Error("Authorization failed", "error", err)
	return nil, err
}

// callbackRouter accepts one callback carrying the expected state and
// either a code or an error. Everything else gets a generic reply.
func callbackRouter(path, state string, results chan<- callbackResult) http.Handler {
	var once sync.Once
	generic := func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, genericBody, http.StatusNotFound)
	}

	r := chi.NewRouter()
	r.NotFound(generic)
	r.MethodNotAllowed(generic)
	r.Get(path, func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		code, denial := q.Get("code"), q.Get("error")
		if q.Get("state") != state || (code == "" && denial == "") {
			generic(w, req)
			return
		}

		handled := false
		once.Do(func() {
			handled = true
			if denial != "" {
				_, _ = fmt.Fprint(w, deniedBody)
				results <- callbackResult{err: fmt.Errorf("%w: %s", models.ErrUserDenied, denial)}
				return
			}
			_, _ = fmt.Fprint(w, successBody)
			results <- callbackResult{code: code}
		})
		if !handled {
			generic(w, req)
		}
	})
	return r
}

// Authorizer obtains a new grant interactively.
type Authorizer interface {
	Run(ctx context.Context) (*credstore.Grant, error)
}

// EnsureGrant returns the stored grant, falling back to the interactive
// flow when none is stored or the stored one is unusable.
func EnsureGrant(ctx context.Context, store credstore.Store, auth Authorizer, logger *slog.Logger) (*credstore.Grant, error) {
	g, err := store.Load()
	if err == nil {
		return g, nil
	}
	if !errors.Is(err, credstore.ErrNotFound) {
		return nil, fmt.Errorf("failed to load grant: %w", err)
	}
	logger.Info("No usable grant stored, starting authorization.", "reason", err)
	return auth.Run(ctx)
}
