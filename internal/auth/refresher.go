// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

/*
Package auth refreshes provider OAuth2 access tokens for stored connections.

Vitalsync never issues tokens. The authorization-code exchange happens
outside the service and the result arrives through the reconnect endpoint;
this package only runs the refresh-token grant when an access token has
expired, and persists whatever the provider returns.

	r := auth.NewRefresher(cfg.Providers, store)
	conn, err := r.Refresh(ctx, conn)
	if err != nil {
	    // *classify.Error with code TOKEN_REFRESH_FAILED
	}
*/
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/tomtom215/vitalsync/internal/classify"
	"github.com/tomtom215/vitalsync/internal/config"
	"github.com/tomtom215/vitalsync/internal/logging"
	"github.com/tomtom215/vitalsync/internal/metrics"
	"github.com/tomtom215/vitalsync/internal/models"
)

var (
	errNoRefreshToken = errors.New("connection has no refresh token")
	errNotConfigured  = errors.New("oauth client not configured for provider")
)

// CredentialStore persists refreshed tokens.
type CredentialStore interface {
	UpdateConnectionCredentials(ctx context.Context, id, accessToken, refreshToken string, expiresAt *time.Time) error
}

// Refresher runs the refresh-token grant per provider.
type Refresher struct {
	configs    map[string]*oauth2.Config
	store      CredentialStore
	httpClient *http.Client
	now        func() time.Time
}

// NewRefresher builds an OAuth2 client for every provider with a client id
// and token URL configured.
func NewRefresher(providers map[string]config.ProviderConfig, store CredentialStore) *Refresher {
	configs := make(map[string]*oauth2.Config, len(providers))
	for name, p := range providers {
		if p.ClientID == "" || p.TokenURL == "" {
			continue
		}
		configs[name] = &oauth2.Config{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: p.TokenURL},
		}
	}
	return &Refresher{configs: configs, store: store, now: time.Now}
}

// SetHTTPClient overrides the client used for token requests.
func (r *Refresher) SetHTTPClient(c *http.Client) {
	r.httpClient = c
}

// Configured reports whether provider has OAuth client credentials.
func (r *Refresher) Configured(provider string) bool {
	_, ok := r.configs[provider]
	return ok
}

// Refresh exchanges conn's refresh token for a new access token, stores the
// result and returns the updated connection. Every failure is a
// non-retryable TOKEN_REFRESH_FAILED classification.
func (r *Refresher) Refresh(ctx context.Context, conn *models.Connection) (*models.Connection, error) {
	cfg, ok := r.configs[conn.Provider]
	if !ok {
		return nil, r.fail(conn, fmt.Errorf("%w: %s", errNotConfigured, conn.Provider))
	}
	if conn.RefreshToken == "" {
		return nil, r.fail(conn, errNoRefreshToken)
	}

	if r.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	}

	// An expiry in the past makes the token source refresh on first use.
	current := &oauth2.Token{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       r.now().Add(-time.Second),
	}

	var persistErr error
	src := &notifyTokenSource{
		src:     cfg.TokenSource(ctx, current),
		current: current,
		callback: func(t *oauth2.Token) error {
			persistErr = r.store.UpdateConnectionCredentials(ctx, conn.ID, t.AccessToken, refreshTokenOf(t, conn), expiryOf(t))
			return persistErr
		},
	}

	tok, err := src.Token()
	if persistErr != nil {
		return nil, fmt.Errorf("persist refreshed credentials for connection %s: %w", conn.ID, persistErr)
	}
	if err != nil {
		return nil, r.fail(conn, err)
	}

	updated := *conn
	updated.AccessToken = tok.AccessToken
	updated.RefreshToken = refreshTokenOf(tok, conn)
	updated.TokenExpiresAt = expiryOf(tok)
	updated.Status = models.ConnectionActive
	updated.ConsecutiveErrors = 0
	updated.LastError = ""

	metrics.TokenRefreshes.WithLabelValues(conn.Provider, "success").Inc()
	logging.Ctx(ctx).Info().
		Str("provider", conn.Provider).
		Str("connection_id", conn.ID).
		Msg("Refreshed provider access token")
	return &updated, nil
}

func (r *Refresher) fail(conn *models.Connection, cause error) error {
	metrics.TokenRefreshes.WithLabelValues(conn.Provider, "failure").Inc()
	logging.Warn().
		Str("provider", conn.Provider).
		Str("connection_id", conn.ID).
		Str("reason", logging.SanitizeLogValue(cause.Error())).
		Msg("Token refresh failed")
	return classify.New(classify.CodeTokenRefreshFailed, conn.Provider, cause)
}

// notifyTokenSource calls callback whenever the wrapped source hands out a
// different access token than the one it started with.
type notifyTokenSource struct {
	src      oauth2.TokenSource
	current  *oauth2.Token
	callback func(*oauth2.Token) error
}

func (s *notifyTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if s.callback != nil && s.current.AccessToken != t.AccessToken {
		s.current = t
		if err := s.callback(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Providers may omit the refresh token when it did not rotate.
func refreshTokenOf(t *oauth2.Token, conn *models.Connection) string {
	if t.RefreshToken != "" {
		return t.RefreshToken
	}
	return conn.RefreshToken
}

func expiryOf(t *oauth2.Token) *time.Time {
	if t.Expiry.IsZero() {
		return nil
	}
	e := t.Expiry.UTC()
	return &e
}
