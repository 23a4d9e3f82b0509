// Package transport authenticates outgoing Habitate API requests.
package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// NoAuthHeader marks a request that must go out without a bearer token and must
	// never trigger a refresh, such as the refresh call itself.
	NoAuthHeader = "No-Auth"

	DefaultRefreshTimeout = 10 * time.Second

	// DefaultMaxResponses bounds how many responses one logical request may see.
	DefaultMaxResponses = 3
)

// TokenSource reports the current access token. *credentials.Store satisfies it.
type TokenSource interface {
	AccessToken() string
}

type Refresher interface {
	RefreshToken(ctx context.Context) (string, error)
}

// RefresherProvider is resolved on every 401, so the refresher may be built after the
// transport that its own HTTP client uses.
type RefresherProvider func() Refresher

var _ http.RoundTripper = (*AuthTransport)(nil)

// AuthTransport adds the bearer token to requests and retries once per refresh when
// the API answers 401.
type AuthTransport struct {
	base           http.RoundTripper
	tokens         TokenSource
	refresher      RefresherProvider
	refreshTimeout time.Duration
	maxResponses   int
	logger         zerolog.Logger
}

type AuthTransportOption func(*AuthTransport)

func WithBase(base http.RoundTripper) AuthTransportOption {
	return func(t *AuthTransport) {
		t.base = base
	}
}

func WithRefreshTimeout(timeout time.Duration) AuthTransportOption {
	return func(t *AuthTransport) {
		t.refreshTimeout = timeout
	}
}

func WithMaxResponses(n int) AuthTransportOption {
	return func(t *AuthTransport) {
		t.maxResponses = n
	}
}

func WithLogger(logger zerolog.Logger) AuthTransportOption {
	return func(t *AuthTransport) {
		t.logger = logger
	}
}

func NewAuthTransport(tokens TokenSource, refresher RefresherProvider, options ...AuthTransportOption) *AuthTransport {
	t := &AuthTransport{
		base:           http.DefaultTransport,
		tokens:         tokens,
		refresher:      refresher,
		refreshTimeout: DefaultRefreshTimeout,
		maxResponses:   DefaultMaxResponses,
		logger:         log.Logger.With().Str("component", "transport").Logger(),
	}
	for _, opt := range options {
		opt(t)
	}
	if t.maxResponses < 1 {
		t.maxResponses = DefaultMaxResponses
	}
	return t
}

// RoundTrip implements http.RoundTripper.
func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get(NoAuthHeader) == "true" {
		out := req.Clone(req.Context())
		out.Header.Del(NoAuthHeader)
		return t.base.RoundTrip(out)
	}

	out := req
	if req.Header.Get("Authorization") == "" {
		if token := t.tokens.AccessToken(); token != "" {
			out = withBearer(req, token)
		}
	}

	for responses := 1; ; responses++ {
		resp, err := t.base.RoundTrip(out)
		if err != nil || resp.StatusCode != http.StatusUnauthorized {
			return resp, err
		}
		if responses >= t.maxResponses {
			t.logger.Warn().Str("path", req.URL.Path).Msg("Max auth retries reached, giving up")
			return resp, nil
		}

		retry, ok := t.retryRequest(req)
		if !ok {
			return resp, nil
		}
		token, ok := t.refresh(req.Context())
		if !ok {
			return resp, nil
		}

		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		out = withBearer(retry, token)
	}
}

// retryRequest returns a copy of req with a fresh body, or false when the body
// cannot be replayed.
func (t *AuthTransport) retryRequest(req *http.Request) (*http.Request, bool) {
	if req.Body == nil || req.Body == http.NoBody {
		return req, true
	}
	if req.GetBody == nil {
		return nil, false
	}
	body, err := req.GetBody()
	if err != nil {
		t.logger.Debug().Err(err).Msg("Request body could not be replayed")
		return nil, false
	}
	retry := req.Clone(req.Context())
	retry.Body = body
	return retry, true
}

func (t *AuthTransport) refresh(ctx context.Context) (string, bool) {
	var refresher Refresher
	if t.refresher != nil {
		refresher = t.refresher()
	}
	if refresher == nil {
		return "", false
	}

	if t.refreshTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.refreshTimeout)
		defer cancel()
	}

	token, err := refresher.RefreshToken(ctx)
	if err != nil {
		if ctx.Err() == nil && !errors.Is(err, context.Canceled) {
			t.logger.Error().Err(err).Msg("Token refresh failed")
		}
		return "", false
	}
	return token, token != ""
}

func withBearer(req *http.Request, token string) *http.Request {
	out := req.Clone(req.Context())
	out.Header.Set("Authorization", "Bearer "+token)
	return out
}
