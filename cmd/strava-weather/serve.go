package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/lildude/strava-weather/internal/cache"
	"github.com/lildude/strava-weather/internal/client"
	"github.com/lildude/strava-weather/internal/database"
	"github.com/lildude/strava-weather/internal/handlers/activities"
	"github.com/lildude/strava-weather/internal/handlers/auth"
	"github.com/lildude/strava-weather/internal/handlers/callback"
	"github.com/lildude/strava-weather/internal/handlers/webhook"
	"github.com/lildude/strava-weather/internal/metrics"
	"github.com/lildude/strava-weather/internal/pipeline"
	"github.com/lildude/strava-weather/internal/server"
	"github.com/lildude/strava-weather/internal/sessions"
	"github.com/lildude/strava-weather/internal/subscription"
	"github.com/lildude/strava-weather/internal/vault"
	"github.com/lildude/strava-weather/internal/weather"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func serveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook and API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	if err := cfg.RequireServer(); err != nil {
		return err
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, Environment: cfg.Env}); err != nil {
			a.log.WithError(err).Warn("Failed to initialise Sentry")
		}
		defer sentry.Flush(2 * time.Second)
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	store := database.NewStore(db)

	v, err := vault.New(cfg.EncryptionKey)
	if err != nil {
		return err
	}

	m, err := metrics.New()
	if err != nil {
		return err
	}

	resolver, closeCache, err := a.weatherResolver(ctx, m)
	if err != nil {
		return err
	}
	defer closeCache()
	go resolver.RunSweeper(ctx, cfg.Weather.SweepInterval)

	p := pipeline.New(a.strava, store, resolver, v, a.log, pipeline.WithMetrics(m))
	subs := subscription.NewManager(a.strava, cfg.Strava.CallbackURI, cfg.Strava.VerifyToken, a.http, a.log)
	sess := sessions.NewStore(cfg.SessionKey, cfg.IsProduction())

	policy := webhook.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.Webhook.MaxAttempts
	policy.Budget = cfg.Webhook.Budget

	handler := server.NewRouter(server.Handlers{
		Callback:   callback.Handler(cfg.Strava.VerifyToken, a.log),
		Webhook:    webhook.New(p, store, policy, a.log, webhook.WithMetrics(m)),
		Auth:       auth.New(a.strava, store, v, sess, cfg.Strava.StateToken, a.log, auth.WithSubscriber(subs)),
		Activities: activities.New(p, a.log),
		Sessions:   sess,
		Metrics:    m,
	}, a.log)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.log.WithField("port", cfg.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	// The subscription handshake calls back into this server, so it has to
	// be listening first.
	if cfg.IsProduction() {
		go subs.Run(ctx)
	}

	select {
	case err := <-errc:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	a.log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// weatherResolver uses Redis for the weather cache when REDIS_URL is set and
// the in-process cache otherwise.
func (a *app) weatherResolver(ctx context.Context, m *metrics.Metrics) (*weather.Resolver, func(), error) {
	cfg := a.cfg.Weather
	u, err := url.Parse(weather.BaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing weather URL: %w", err)
	}

	wc := weather.Cache(weather.NewMemoryCache(cfg.CacheTTL))
	closer := func() {}

	if a.cfg.RedisURL != "" {
		rc, err := cache.NewRedisCache(ctx, a.cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		wc = weather.NewRedisCache(rc, cfg.CacheTTL)
		closer = func() { rc.Close() } //nolint:errcheck
	}

	r := weather.NewResolver(client.NewClient(u, a.http), cfg.APIKey, cfg.Units, a.log, weather.WithCache(wc), weather.WithMetrics(m))
	return r, closer, nil
}
