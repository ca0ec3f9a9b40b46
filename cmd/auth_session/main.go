package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auth_session/internal/auth"
	"auth_session/internal/config"
	"auth_session/internal/handler"
	"auth_session/internal/identity"
	"auth_session/internal/metrics"
	"auth_session/internal/provider"
	"auth_session/internal/service"
	"auth_session/internal/storage"
	"auth_session/internal/storage/memory"
	"auth_session/internal/storage/postgres"
	"auth_session/internal/storage/sqlite"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const shutdownTimeout = 10 * time.Second

func main() {
	//PARSE ARGS
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to the YAML config file")

	flag.Parse()
	if configPath == "" {
		log.Fatal("failed get config path from flags")
	}

	cfg := config.MustLoadConfig(configPath)

	//INIT LOGGER
	lgr := setupLogger(cfg.Env)
	lgr.Info("starting auth session service", slog.String("env", cfg.Env), slog.String("driver", cfg.DB.Driver))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	//INIT DB
	st, err := setupStorage(ctx, cfg.DB)
	if err != nil {
		lgr.Error("failed to init storage", slog.Any("error", err))
		os.Exit(1)
	}
	defer st.Close()

	//INIT SERVICES
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	verifier := identity.NewVerifier(st, lgr, identity.WithStrictProviderMatch(cfg.Session.StrictProviderMatch))
	minter := auth.NewMinter([]byte(cfg.JWT.Secret), cfg.JWT.Issuer, cfg.JWT.AccessTTL)

	sessions := service.NewSessions(st, verifier, minter, lgr,
		service.WithRefreshTTLMonths(cfg.Session.RefreshTTLMonths),
		service.WithMetrics(m),
	)
	users := service.NewUsers(st, verifier, lgr, m)

	providers := provider.NewOAuth(
		provider.Credentials{
			ClientID:     cfg.OAuth.Google.ClientID,
			ClientSecret: cfg.OAuth.Google.ClientSecret,
			RedirectURL:  cfg.OAuth.Google.RedirectURL,
		},
		provider.Credentials{
			ClientID:     cfg.OAuth.GitHub.ClientID,
			ClientSecret: cfg.OAuth.GitHub.ClientSecret,
			RedirectURL:  cfg.OAuth.GitHub.RedirectURL,
		},
	)

	//INIT SERVER
	if cfg.Env != config.EnvLocal {
		gin.SetMode(gin.ReleaseMode)
	}

	h := handler.NewHandler(sessions, users, providers, minter, reg, handler.CookieConfig{
		Name:   cfg.Session.CookieName,
		Secure: cfg.Env == config.EnvProd,
	}, lgr, handler.WithSuccessRedirect(cfg.OAuth.SuccessRedirectURL))

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      h.InitRoutes(),
		ReadTimeout:  cfg.HTTPServer.ReadTimeout,
		WriteTimeout: cfg.HTTPServer.WriteTimeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		lgr.Info("http server listening", slog.String("address", cfg.HTTPServer.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lgr.Error("http server stopped", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()

	lgr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		lgr.Error("failed to shut down http server", slog.Any("error", err))
	}
}

func setupStorage(ctx context.Context, cfg config.DB) (storage.Storage, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return sqlite.NewSQLiteStorage(cfg.SQLitePath)
	case config.DriverMemory:
		return memory.New(), nil
	default:
		st, err := postgres.NewPostgresStorage(ctx, cfg.DbURL)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, err
		}
		return st, nil
	}
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case config.EnvLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case config.EnvDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case config.EnvProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}
	return log
}
