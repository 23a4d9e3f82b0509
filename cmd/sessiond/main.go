package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/habitate-session/credentials"
	"github.com/jrsteele09/habitate-session/credentials/redisrepo"
	"github.com/jrsteele09/habitate-session/credentials/sqliterepo"
	"github.com/jrsteele09/habitate-session/identity/oidcprovider"
	"github.com/jrsteele09/habitate-session/internal/config"
	autherrors "github.com/jrsteele09/habitate-session/internal/errors"
	"github.com/jrsteele09/habitate-session/session"
	"github.com/jrsteele09/habitate-session/tokenrefresh"
	"github.com/jrsteele09/habitate-session/transport"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

func main() {
	for {
		if err := run(); err != nil {
			log.Fatal().Err(err).Msg("Error running session daemon")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Info().Msg("Session daemon stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Msgf("Recovered from panic: %v", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	setupLogging(c.GetLogLevel())
	displayAppname(c.GetAppName())

	ctx := context.Background()

	repo, err := openRepo(c)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			log.Err(err).Msg("Closing credential storage")
		}
	}()

	store, err := credentials.Open(ctx, repo, credentials.WithExpiryWarning(c.GetExpiryWarningWindow()))
	if err != nil {
		return err
	}

	idp, err := newIdentityProvider(ctx, c)
	if err != nil {
		return err
	}

	// The refresh client is built after the manager and transport that reach it lazily.
	var refreshClient *tokenrefresh.Client
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: transport.NewAuthTransport(store, func() transport.Refresher {
			if refreshClient == nil {
				return nil
			}
			return refreshClient
		},
			transport.WithRefreshTimeout(c.GetRefreshTimeout()),
			transport.WithMaxResponses(c.GetMaxAuthAttempts()),
		),
	}
	refreshClient = tokenrefresh.New(c.GetAPIBaseURL(), store,
		tokenrefresh.WithHTTPClient(httpClient),
		tokenrefresh.WithIDTokenSource(idp),
		tokenrefresh.WithTokenLifetimes(c.GetBackendTokenLifetime(), c.GetProviderTokenLifetime()),
	)

	manager := session.New(idp, store, func() session.Refresher {
		if refreshClient == nil {
			return nil
		}
		return refreshClient
	},
		session.WithRefreshInterval(c.GetRefreshCheckInterval()),
		session.WithRefreshTimeout(c.GetRefreshTimeout()),
	)

	sub := manager.Subscribe()
	defer sub.Close()
	go logStates(sub)

	manager.StartObserving()
	defer manager.StopObserving()

	if err := signInFromConfig(ctx, c, idp, store, manager); err != nil {
		log.Err(err).Msg("Startup sign in failed")
	}

	waitForStopSignal()
	return nil
}

type closableRepo interface {
	credentials.Repo
	io.Closer
}

type redisCredentialsRepo struct {
	*redisrepo.Repo
	client *redis.Client
}

func (r redisCredentialsRepo) Close() error {
	return r.client.Close()
}

func openRepo(c config.StorageConfig) (closableRepo, error) {
	sealer, err := credentials.NewSealerFromHex(c.GetCredentialKey())
	if err != nil {
		return nil, err
	}

	if addr := c.GetRedisAddr(); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		log.Info().Str("addr", addr).Msg("Using Redis credential storage")
		return redisCredentialsRepo{Repo: redisrepo.New(rdb, c.GetRedisKeyPrefix(), sealer), client: rdb}, nil
	}

	log.Info().Str("path", c.GetDatabasePath()).Msg("Using SQLite credential storage")
	return sqliterepo.Open(c.GetDatabasePath(), sealer)
}

func newIdentityProvider(ctx context.Context, c config.IdentityConfig) (*oidcprovider.Provider, error) {
	if c.GetIssuerURL() == "" || c.GetClientID() == "" {
		return nil, autherrors.Wrapf(autherrors.ErrInvalidConfig, "OIDC_ISSUER_URL and OIDC_CLIENT_ID are required")
	}

	provider, err := oidc.NewProvider(ctx, c.GetIssuerURL())
	if err != nil {
		return nil, fmt.Errorf("oidc.NewProvider: %w", err)
	}

	oauth2Config := &oauth2.Config{
		ClientID:     c.GetClientID(),
		ClientSecret: c.GetClientSecret(),
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, oidc.ScopeOfflineAccess, "email"},
	}

	return oidcprovider.New(provider.Verifier(&oidc.Config{ClientID: c.GetClientID()}),
		oidcprovider.WithOAuth2Config(oauth2Config),
	), nil
}

// signInFromConfig signs in with a configured ID token and records it as the
// provider-managed access credential.
func signInFromConfig(ctx context.Context, c config.IdentityConfig, idp *oidcprovider.Provider, store *credentials.Store, manager *session.Manager) error {
	rawIDToken := c.GetIDToken()
	if rawIDToken == "" {
		return nil
	}

	tok := (&oauth2.Token{RefreshToken: c.GetRefreshToken()}).WithExtra(map[string]interface{}{"id_token": rawIDToken})
	principal, err := idp.SignInWithToken(ctx, tok)
	if err != nil {
		return err
	}

	if err := store.SetUserID(ctx, principal.ID); err != nil {
		return err
	}
	if err := store.SaveTokens(ctx, rawIDToken, credentials.ProviderManagedRefreshToken, time.Until(idp.Expiry())); err != nil {
		return err
	}
	manager.OnLoginSuccess(principal.ID)
	return nil
}

func logStates(sub *session.Subscription) {
	for state := range sub.C {
		log.Info().Str("state", state.String()).Msg("Session state")
	}
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
