// Package oidcprovider implements identity.Provider on top of OpenID Connect ID tokens.
//
// A principal is established by verifying a raw ID token with an *oidc.IDTokenVerifier.
// When an oauth2.Config and refresh token are available, Refresh renews the ID token
// through the issuer's token endpoint; a rejected renewal invalidates the principal,
// which listeners observe as a sign-out they did not request.
package oidcprovider

import (
	"context"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/habitate-session/identity"
	autherrors "github.com/jrsteele09/habitate-session/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

var _ identity.Provider = (*Provider)(nil)

// Verifier is satisfied by *oidc.IDTokenVerifier.
type Verifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

type idTokenClaims struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// Provider tracks the signed-in principal derived from the last verified ID token.
type Provider struct {
	verifier     Verifier
	oauth2Config *oauth2.Config
	listeners    identity.Listeners
	logger       zerolog.Logger

	mu           sync.RWMutex
	principal    *identity.Principal
	rawIDToken   string
	expiry       time.Time
	refreshToken string
	// generation changes on every sign-in and sign-out so a renewal can tell
	// whether the session it started from is still current.
	generation uint64
}

type ProviderOption func(*Provider)

// WithOAuth2Config enables ID token renewal through the issuer's token endpoint.
func WithOAuth2Config(cfg *oauth2.Config) ProviderOption {
	return func(p *Provider) {
		p.oauth2Config = cfg
	}
}

func WithLogger(logger zerolog.Logger) ProviderOption {
	return func(p *Provider) {
		p.logger = logger
	}
}

func New(verifier Verifier, options ...ProviderOption) *Provider {
	p := &Provider{
		verifier: verifier,
		logger:   log.Logger.With().Str("component", "oidcprovider").Logger(),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

func (p *Provider) AddStateListener(listener identity.StateListener) {
	p.listeners.Add(listener)
}

func (p *Provider) RemoveStateListener(listener identity.StateListener) {
	p.listeners.Remove(listener)
}

func (p *Provider) CurrentPrincipal() *identity.Principal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.principal.Clone()
}

// Expiry reports when the current ID token expires; zero when signed out.
func (p *Provider) Expiry() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.expiry
}

// SignIn verifies rawIDToken and makes its subject the current principal.
func (p *Provider) SignIn(ctx context.Context, rawIDToken string) (*identity.Principal, error) {
	return p.signIn(ctx, rawIDToken, "")
}

// SignInWithToken signs in with the id_token carried by an OAuth2 token response and
// keeps its refresh token for later renewal.
func (p *Provider) SignInWithToken(ctx context.Context, tok *oauth2.Token) (*identity.Principal, error) {
	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, autherrors.Wrapf(autherrors.ErrInvalidIDToken, "no id_token in token response")
	}
	return p.signIn(ctx, rawIDToken, tok.RefreshToken)
}

func (p *Provider) signIn(ctx context.Context, rawIDToken, refreshToken string) (*identity.Principal, error) {
	principal, expiry, err := p.verify(ctx, rawIDToken)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.commitLocked(principal, rawIDToken, refreshToken, expiry)
	p.mu.Unlock()

	p.listeners.Notify(principal)
	return principal.Clone(), nil
}

func (p *Provider) commitLocked(principal *identity.Principal, rawIDToken, refreshToken string, expiry time.Time) {
	p.principal = principal
	p.rawIDToken = rawIDToken
	p.expiry = expiry
	if refreshToken != "" {
		p.refreshToken = refreshToken
	}
	p.generation++
}

// SignOut clears the principal and notifies listeners.
func (p *Provider) SignOut() {
	p.mu.Lock()
	p.clearLocked()
	p.mu.Unlock()
	p.listeners.Notify(nil)
}

// Invalidate drops the current credential without a user-initiated sign out,
// e.g. after the issuer rejected a renewal.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	signedIn := p.principal != nil
	if signedIn {
		p.clearLocked()
	}
	p.mu.Unlock()
	if !signedIn {
		return
	}
	p.logger.Warn().Msg("ID token invalidated")
	p.listeners.Notify(nil)
}

// invalidateGeneration invalidates only if no sign-in or sign-out happened since
// generation was read.
func (p *Provider) invalidateGeneration(generation uint64) {
	p.mu.Lock()
	current := p.principal != nil && p.generation == generation
	if current {
		p.clearLocked()
	}
	p.mu.Unlock()
	if !current {
		return
	}
	p.logger.Warn().Msg("ID token invalidated")
	p.listeners.Notify(nil)
}

func (p *Provider) clearLocked() {
	p.principal = nil
	p.rawIDToken = ""
	p.expiry = time.Time{}
	p.refreshToken = ""
	p.generation++
}

// Refresh renews the ID token with the stored refresh token. The renewed principal is
// broadcast to listeners so profile flags such as email verification are re-read.
// A renewal that completes after a sign-out or a new sign-in is discarded with
// ErrNotSignedIn.
func (p *Provider) Refresh(ctx context.Context) (*identity.Principal, error) {
	p.mu.RLock()
	refreshToken := p.refreshToken
	signedIn := p.principal != nil
	generation := p.generation
	p.mu.RUnlock()

	if !signedIn {
		return nil, autherrors.ErrNotSignedIn
	}
	if p.oauth2Config == nil || refreshToken == "" {
		return nil, autherrors.ErrNoRefreshCredential
	}

	// A token without an access token is never valid, so the source always refreshes.
	tok, err := p.oauth2Config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if autherrors.As(err, &retrieveErr) {
			p.invalidateGeneration(generation)
		}
		return nil, autherrors.Wrapf(err, "oidcprovider.Refresh")
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		p.invalidateGeneration(generation)
		return nil, autherrors.Wrapf(autherrors.ErrInvalidIDToken, "no id_token in token response")
	}
	principal, expiry, err := p.verify(ctx, rawIDToken)
	if err != nil {
		p.invalidateGeneration(generation)
		return nil, err
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}

	p.mu.Lock()
	if p.generation != generation {
		p.mu.Unlock()
		p.logger.Debug().Msg("Discarding ID token renewal for a session that ended")
		return nil, autherrors.Wrapf(autherrors.ErrNotSignedIn, "session changed during refresh")
	}
	p.commitLocked(principal, rawIDToken, tok.RefreshToken, expiry)
	p.mu.Unlock()

	p.listeners.Notify(principal)
	return principal.Clone(), nil
}

// IDToken returns the current raw ID token, renewing it first when forceRefresh is
// set and renewal is configured.
func (p *Provider) IDToken(ctx context.Context, forceRefresh bool) (string, error) {
	p.mu.RLock()
	raw := p.rawIDToken
	canRefresh := p.oauth2Config != nil && p.refreshToken != ""
	p.mu.RUnlock()

	if raw == "" {
		return "", autherrors.ErrNotSignedIn
	}
	if !forceRefresh || !canRefresh {
		return raw, nil
	}
	if _, err := p.Refresh(ctx); err != nil {
		return "", err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rawIDToken, nil
}

func (p *Provider) verify(ctx context.Context, rawIDToken string) (*identity.Principal, time.Time, error) {
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, time.Time{}, autherrors.Wrapf(autherrors.ErrInvalidIDToken, "verify: %v", err)
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, time.Time{}, autherrors.Wrapf(autherrors.ErrInvalidIDToken, "claims: %v", err)
	}
	if claims.Sub == "" {
		claims.Sub = idToken.Subject
	}
	if claims.Sub == "" {
		return nil, time.Time{}, autherrors.Wrapf(autherrors.ErrInvalidIDToken, "missing subject")
	}

	return &identity.Principal{
		ID:            claims.Sub,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
	}, idToken.Expiry, nil
}
