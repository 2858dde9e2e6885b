package google

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doccal/internal/credstore"
	"doccal/internal/metrics"
	"doccal/internal/models"
)

func expiredGrant() *credstore.Grant {
	return &credstore.Grant{
		AccessToken:  "stale-access",
		RefreshToken: "refresh-1",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(-time.Hour),
		Scope:        Scopes,
	}
}

func TestTokenManager_ValidGrantNotRefreshed(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, tokenResponse)
	g := expiredGrant()
	g.Expiry = time.Now().Add(time.Hour)
	store := credstore.NewMemoryStore(g)

	m := NewTokenManager(context.Background(), testOAuthConfig(ts.URL), store, testLogger(), nil)
	require.NoError(t, m.EnsureFresh(context.Background()))

	tok, err := m.Token()
	require.NoError(t, err)
	assert.Equal(t, "stale-access", tok.AccessToken)
	assert.Empty(t, ts.Requests())
	assert.Equal(t, 0, store.Saves())
}

func TestTokenManager_RefreshesAndPersists(t *testing.T) {
	// The refresh response omits refresh_token; the old one must be kept.
	ts := newTokenServer(t, http.StatusOK, `{"access_token":"fresh-access","token_type":"Bearer","expires_in":3600}`)
	store := credstore.NewMemoryStore(expiredGrant())

	m := NewTokenManager(context.Background(), testOAuthConfig(ts.URL), store, testLogger(), metrics.NewRecorder())
	require.NoError(t, m.EnsureFresh(context.Background()))

	reqs := ts.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "refresh_token", reqs[0].Get("grant_type"))
	assert.Equal(t, "refresh-1", reqs[0].Get("refresh_token"))

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, store.Saves())
	assert.Equal(t, "fresh-access", saved.AccessToken)
	assert.Equal(t, "refresh-1", saved.RefreshToken)
	assert.Equal(t, Scopes, saved.Scope)
	assert.True(t, saved.Expiry.After(time.Now()))

	// A second call reuses the refreshed grant.
	require.NoError(t, m.EnsureFresh(context.Background()))
	assert.Len(t, ts.Requests(), 1)
}

func TestTokenManager_RefreshFailure(t *testing.T) {
	ts := newTokenServer(t, http.StatusBadRequest, `{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`)
	store := credstore.NewMemoryStore(expiredGrant())

	m := NewTokenManager(context.Background(), testOAuthConfig(ts.URL), store, testLogger(), nil)
	err := m.EnsureFresh(context.Background())

	assert.ErrorIs(t, err, models.ErrTokenRefresh)
	saved, loadErr := store.Load()
	require.NoError(t, loadErr)
	assert.Equal(t, "stale-access", saved.AccessToken)
	assert.Equal(t, 0, store.Saves())
}

func TestTokenManager_NoGrant(t *testing.T) {
	m := NewTokenManager(context.Background(), testOAuthConfig("http://127.0.0.1:1/token"), credstore.NewMemoryStore(nil), testLogger(), nil)
	err := m.EnsureFresh(context.Background())
	assert.ErrorIs(t, err, credstore.ErrNotFound)
}

func TestTokenManager_ClientAuthorizesRequests(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, `{"access_token":"fresh-access","token_type":"Bearer","expires_in":3600}`)
	store := credstore.NewMemoryStore(expiredGrant())

	var gotAuth string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer api.Close()

	m := NewTokenManager(context.Background(), testOAuthConfig(ts.URL), store, testLogger(), nil)
	resp, err := m.Client().Get(api.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, "Bearer fresh-access", gotAuth)
	assert.Equal(t, 1, store.Saves())
}
