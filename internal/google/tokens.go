package google

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/oauth2"

	"doccal/internal/credstore"
	"doccal/internal/metrics"
	"doccal/internal/models"
)

// TokenManager hands out access tokens from the stored grant, refreshing
// it without user interaction once it has expired. Every refresh is
// persisted before the new token is handed out.
type TokenManager struct {
	ctx     context.Context
	config  *oauth2.Config
	store   credstore.Store
	logger  *slog.Logger
	metrics *metrics.Recorder

	mu    sync.Mutex
	grant *credstore.Grant
}

// NewTokenManager creates a TokenManager. ctx is used for refreshes
// triggered through Token, and may carry an oauth2.HTTPClient.
func NewTokenManager(ctx context.Context, config *oauth2.Config, store credstore.Store, logger *slog.Logger, rec *metrics.Recorder) *TokenManager {
	return &TokenManager{
		ctx:     ctx,
		config:  config,
		store:   store,
		logger:  logger,
		metrics: rec,
	}
}

// EnsureFresh makes sure a valid access token is available, refreshing
// and persisting the grant if needed.
func (m *TokenManager) EnsureFresh(ctx context.Context) error {
	_, err := m.token(ctx)
	return err
}

// Token implements oauth2.TokenSource.
func (m *TokenManager) Token() (*oauth2.Token, error) {
	return m.token(m.ctx)
}

// Client returns an HTTP client authorized with the managed grant.
func (m *TokenManager) Client() *http.Client {
	return oauth2.NewClient(m.ctx, m)
}

func (m *TokenManager) token(ctx context.Context) (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.grant == nil {
		g, err := m.store.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load grant: %w", err)
		}
		m.grant = g
	}

	tok := m.grant.Token()
	if tok.Valid() {
		return tok, nil
	}

	m.logger.Info("Access token expired, refreshing.", "expiry", m.grant.Expiry)
	fresh, err := m.config.TokenSource(ctx, tok).Token()
	m.metrics.ObserveRefresh(err)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrTokenRefresh, err)
	}

	g := credstore.FromToken(fresh, m.grant.Scope)
	if err := m.store.Save(g); err != nil {
		return nil, fmt.Errorf("%w: failed to persist refreshed grant: %w", models.ErrTokenRefresh, err)
	}
	m.grant = g
	m.logger.Debug("Refreshed grant persisted.", "expiry", g.Expiry)
	return g.Token(), nil
}
