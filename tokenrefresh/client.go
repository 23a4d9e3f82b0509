// Package tokenrefresh renews the Habitate API access token.
//
// Tokens issued by the backend are renewed with POST {base}/auth/refresh. Sessions
// that only hold a provider-managed token are renewed by fetching a fresh ID token
// from the identity provider instead.
package tokenrefresh

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/habitate-session/credentials"
	autherrors "github.com/jrsteele09/habitate-session/internal/errors"
	"github.com/jrsteele09/habitate-session/internal/utils"
	"github.com/jrsteele09/habitate-session/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	refreshPath = "/auth/refresh"

	defaultBackendLifetime  = 15 * time.Minute
	defaultProviderLifetime = 1 * time.Hour

	// DefaultTimeout bounds a shared refresh independently of any one caller.
	DefaultTimeout = 30 * time.Second
)

// TokenStore is the part of *credentials.Store the client reads and writes.
type TokenStore interface {
	RefreshToken() string
	Generation() uint64
	SaveTokensIfCurrent(ctx context.Context, generation uint64, access, refresh string, lifetime time.Duration) error
}

// IDTokenSource hands out identity provider ID tokens. *oidcprovider.Provider
// satisfies it.
type IDTokenSource interface {
	IDToken(ctx context.Context, forceRefresh bool) (string, error)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// AuthResponse is the backend's token response.
type AuthResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    *int64 `json:"expires_in,omitempty"` // Seconds
}

type Client struct {
	baseURL          string
	httpClient       *http.Client
	store            TokenStore
	idTokens         IDTokenSource
	backendLifetime  time.Duration
	providerLifetime time.Duration
	timeout          time.Duration
	nowFunc          func() time.Time
	logger           zerolog.Logger
	group            singleflight.Group
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithIDTokenSource enables the provider fallback for provider-managed sessions.
func WithIDTokenSource(src IDTokenSource) ClientOption {
	return func(c *Client) {
		c.idTokens = src
	}
}

// WithTokenLifetimes sets the lifetimes assumed when a response carries no expiry.
func WithTokenLifetimes(backend, provider time.Duration) ClientOption {
	return func(c *Client) {
		c.backendLifetime = backend
		c.providerLifetime = provider
	}
}

// WithTimeout bounds each shared refresh. Callers still give up on their own context.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

func WithNowFunc(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.nowFunc = now
	}
}

func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

func New(baseURL string, store TokenStore, options ...ClientOption) *Client {
	c := &Client{
		baseURL:          strings.TrimRight(baseURL, "/"),
		httpClient:       http.DefaultClient,
		store:            store,
		backendLifetime:  defaultBackendLifetime,
		providerLifetime: defaultProviderLifetime,
		timeout:          DefaultTimeout,
		nowFunc:          time.Now,
		logger:           log.Logger.With().Str("component", "tokenrefresh").Logger(),
	}
	for _, opt := range options {
		opt(c)
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	return c
}

// RefreshToken renews the access token and returns it. Concurrent callers share a
// single in-flight refresh; cancelling one caller does not cancel the others.
func (c *Client) RefreshToken(ctx context.Context) (string, error) {
	results := c.group.DoChan("refresh", func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.refresh(flightCtx)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-results:
		if res.Shared {
			c.logger.Debug().Msg("Joined in-flight token refresh")
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *Client) refresh(ctx context.Context) (string, error) {
	generation := c.store.Generation()
	refreshToken := c.store.RefreshToken()
	if strings.TrimSpace(refreshToken) != "" && refreshToken != credentials.ProviderManagedRefreshToken {
		return c.refreshWithBackend(ctx, generation, refreshToken)
	}
	return c.refreshWithProvider(ctx, generation)
}

func (c *Client) refreshWithBackend(ctx context.Context, generation uint64, refreshToken string) (string, error) {
	body, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return "", autherrors.Wrapf(err, "tokenrefresh json.Marshal")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+refreshPath, bytes.NewReader(body))
	if err != nil {
		return "", autherrors.Wrapf(err, "tokenrefresh http.NewRequest")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(transport.NoAuthHeader, "true")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", autherrors.Wrapf(err, "tokenrefresh POST %s", refreshPath)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", autherrors.Wrapf(autherrors.ErrRefreshFailed, "backend status %d", resp.StatusCode)
	}

	var auth AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return "", autherrors.Wrapf(autherrors.ErrRefreshFailed, "decode response: %v", err)
	}
	if auth.AccessToken == "" {
		return "", autherrors.Wrapf(autherrors.ErrRefreshFailed, "response has no access token")
	}
	if auth.RefreshToken == "" {
		auth.RefreshToken = refreshToken
	}

	lifetime := c.lifetime(auth.AccessToken, time.Duration(utils.ValueOr(auth.ExpiresIn, 0))*time.Second, c.backendLifetime)
	if err := c.store.SaveTokensIfCurrent(ctx, generation, auth.AccessToken, auth.RefreshToken, lifetime); err != nil {
		return "", autherrors.Wrapf(err, "tokenrefresh SaveTokensIfCurrent")
	}
	c.logger.Debug().Dur("lifetime", lifetime).Msg("Backend token refreshed")
	return auth.AccessToken, nil
}

func (c *Client) refreshWithProvider(ctx context.Context, generation uint64) (string, error) {
	if c.idTokens == nil {
		return "", autherrors.Wrapf(autherrors.ErrNoRefreshCredential, "no backend refresh token and no identity provider")
	}

	idToken, err := c.idTokens.IDToken(ctx, true)
	if err != nil {
		if autherrors.Is(err, autherrors.ErrNotSignedIn) {
			return "", autherrors.Wrapf(autherrors.ErrNoRefreshCredential, "no user signed in")
		}
		return "", autherrors.Wrapf(err, "tokenrefresh IDToken")
	}
	if idToken == "" {
		return "", autherrors.Wrapf(autherrors.ErrRefreshFailed, "identity provider returned an empty token")
	}

	lifetime := c.lifetime(idToken, 0, c.providerLifetime)
	if err := c.store.SaveTokensIfCurrent(ctx, generation, idToken, credentials.ProviderManagedRefreshToken, lifetime); err != nil {
		return "", autherrors.Wrapf(err, "tokenrefresh SaveTokensIfCurrent")
	}
	c.logger.Debug().Dur("lifetime", lifetime).Msg("Provider token refreshed")
	return idToken, nil
}

// lifetime prefers an explicit expires_in, then the token's own exp claim, then the
// fallback.
func (c *Client) lifetime(token string, expiresIn, fallback time.Duration) time.Duration {
	if expiresIn > 0 {
		return expiresIn
	}
	if remaining, ok := remainingFromJWT(token, c.nowFunc()); ok {
		return remaining
	}
	return fallback
}

// remainingFromJWT reads the exp claim without verifying the signature; the backend
// is trusted for its own tokens and the value only drives refresh scheduling.
func remainingFromJWT(token string, now time.Time) (time.Duration, bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return 0, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0, false
	}
	remaining := exp.Sub(now)
	if remaining <= 0 {
		return 0, false
	}
	return remaining, true
}
