package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Vishnusai4/pipeflow-mcp-server/internal/app"
	"github.com/Vishnusai4/pipeflow-mcp-server/internal/catalog"
	"github.com/Vishnusai4/pipeflow-mcp-server/internal/collections"
	"github.com/Vishnusai4/pipeflow-mcp-server/internal/config"
	"github.com/Vishnusai4/pipeflow-mcp-server/internal/database"
	"github.com/Vishnusai4/pipeflow-mcp-server/internal/logging"
	"github.com/Vishnusai4/pipeflow-mcp-server/internal/notify"
	"github.com/Vishnusai4/pipeflow-mcp-server/internal/provider"
	"github.com/Vishnusai4/pipeflow-mcp-server/internal/redis"
	"github.com/Vishnusai4/pipeflow-mcp-server/internal/server"
	"github.com/Vishnusai4/pipeflow-mcp-server/internal/version"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized.
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *database.DB {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := database.Connect(ctx, cfg.DatabaseURL, cfg.TokenEncryptionKey)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := db.RunMigrations(ctx); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	return db
}

func setupRedis(cfg *config.Config) *redis.Client {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

// originOf reduces the base URL to scheme://host for the completion message
// origin check.
func originOf(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return baseURL
	}
	return u.Scheme + "://" + u.Host
}

func runGracefulShutdown(srv *server.Server, svc *app.Service, hub *notify.Hub) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		svc.Stop()
		hub.Stop()
		close(done)
	}()

	return done
}

func main() {
	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get().Version)

	db := setupDB(cfg)
	defer db.Close()

	redisClient := setupRedis(cfg)
	defer func() { _ = redisClient.Close() }()

	apps, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		slog.Error("Failed to load app catalog", "error", err)
		os.Exit(1)
	}

	userRepo := database.NewUserRepo(db)
	sessionRepo := database.NewSessionRepo(db)
	cache := collections.New(redisClient.Underlying(), apps, sessionRepo)
	hub := notify.NewHub()

	providerClient := provider.NewClient(provider.Config{
		ClientID:     cfg.ProviderClientID,
		ClientSecret: cfg.ProviderClientSecret,
		ProjectID:    cfg.ProviderProjectID,
		Environment:  cfg.ProviderEnvironment,
		AuthorizeURL: cfg.ProviderAuthorizeURL,
		TokenURL:     cfg.ProviderTokenURL,
		RedirectURI:  cfg.BaseURL + "/auth/callback",
	})

	svc := app.NewService(app.Deps{
		Users:       userRepo,
		Sessions:    sessionRepo,
		Catalog:     apps,
		Collections: cache,
		Provider:    providerClient,
		Notifier:    hub,
		Origin:      originOf(cfg.BaseURL),
		RedirectURL: cfg.BaseURL + "/auth/callback",
		Clock:       clockwork.NewRealClock(),
	})

	if cfg.BootstrapUsername != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if _, err := svc.EnsureBootstrapUser(ctx, cfg.BootstrapUsername, cfg.BootstrapPassword); err != nil {
			slog.Error("Failed to create bootstrap user", "error", err)
			cancel()
			os.Exit(1)
		}
		cancel()
		slog.Info("Bootstrap user ready", "username", cfg.BootstrapUsername)
	}

	srv, err := server.NewServer(cfg, svc, hub, db, redisClient)
	if err != nil {
		slog.Error("Failed to create server", "error", err)
		os.Exit(1)
	}

	done := runGracefulShutdown(srv, svc, hub)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
