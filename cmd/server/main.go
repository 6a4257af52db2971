package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-oidc-testapp/auth"
	"github.com/jrsteele09/go-oidc-testapp/idp"
	"github.com/jrsteele09/go-oidc-testapp/internal/config"
	"github.com/jrsteele09/go-oidc-testapp/internal/logging"
	"github.com/jrsteele09/go-oidc-testapp/server"
	"github.com/jrsteele09/go-oidc-testapp/sessions"
	"github.com/jrsteele09/go-oidc-testapp/sessions/redisstore"
	"github.com/jrsteele09/go-oidc-testapp/sessions/sqlstore"
	"github.com/rs/zerolog/log"
)

const (
	discoveryTimeout = 15 * time.Second
	purgeInterval    = 10 * time.Minute
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Error running server")
	}
	log.Info().Msg("Server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c, err := config.Load("")
	if err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return err
	}
	logging.Setup(c.GetEnv())
	displayAppname(c.GetAppName())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, closeRepo, err := openSessionStore(ctx, c)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeRepo(); err != nil {
			log.Warn().Err(err).Msg("failed to close session store")
		}
	}()

	provider, err := discover(ctx, c)
	if err != nil {
		return err
	}

	manager, err := auth.NewManager(provider, repo,
		auth.WithRefreshThreshold(c.GetRefreshThreshold()),
		auth.WithRefreshTimeout(c.GetRequestTimeout()),
		auth.WithPostLogoutRedirectURL(c.GetPostLogoutRedirectURL()),
	)
	if err != nil {
		return err
	}

	cookies, err := sessions.NewCookieCodec(c.GetSessionSecret(), c.GetCookieSecure(), c.GetSessionMaxAge())
	if err != nil {
		return err
	}

	handler, err := server.New(c, manager, repo, cookies)
	if err != nil {
		return err
	}

	srv := &http.Server{Addr: c.GetPort(), Handler: handler}
	serveErr := make(chan error, 1)
	go func() { serveErr <- listenAndServe(srv) }()

	select {
	case err := <-serveErr:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(srv)
}

func discover(ctx context.Context, c config.Config) (*idp.OIDCProvider, error) {
	ctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	provider, err := idp.Discover(ctx, idp.Config{
		IssuerURL:    c.GetIssuerURL(),
		ClientID:     c.GetClientID(),
		ClientSecret: c.GetClientSecret(),
		RedirectURL:  c.GetRedirectURL(),
		Scopes:       c.GetScopes(),
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("issuer", provider.Issuer()).Str("client_id", c.GetClientID()).Msg("OIDC provider discovered")
	return provider, nil
}

// openSessionStore returns the configured session backend and its close func
func openSessionStore(ctx context.Context, c config.Config) (sessions.Repo, func() error, error) {
	maxAge := c.GetSessionMaxAge()

	switch c.GetSessionStore() {
	case config.StoreSQLite, config.StoreMySQL:
		driver := sqlstore.DriverSQLite
		if c.GetSessionStore() == config.StoreMySQL {
			driver = sqlstore.DriverMySQL
		}
		store, err := sqlstore.Open(ctx, driver, c.GetSessionDSN(), maxAge)
		if err != nil {
			return nil, nil, err
		}
		go purgeExpired(ctx, store)
		log.Info().Str("driver", driver).Msg("using sql session store")
		return store, store.Close, nil

	case config.StoreRedis:
		store, err := redisstore.Dial(ctx, c.GetRedisAddr(), maxAge)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("addr", c.GetRedisAddr()).Msg("using redis session store")
		return store, store.Close, nil

	default:
		log.Info().Msg("using in-memory session store")
		return sessions.NewInMemoryRepo(maxAge), func() error { return nil }, nil
	}
}

// purgeExpired removes stale sql sessions until ctx is done. Redis expires keys itself.
func purgeExpired(ctx context.Context, store *sqlstore.Store) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.DeleteExpired(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("failed to purge expired sessions")
				continue
			}
			if n > 0 {
				log.Debug().Int64("count", n).Msg("purged expired sessions")
			}
		}
	}
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
