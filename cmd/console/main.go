package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.uber.org/zap"

	"novel-client/internal/client"
	"novel-client/internal/config"
	"novel-client/internal/logger"
	"novel-client/internal/notify"
	"novel-client/internal/orchestrator"
	"novel-client/internal/relay"
	"novel-client/internal/resume"
)

func main() {
	// --- Configuration ---
	configPath := os.Getenv("CONSOLE_CONFIG")
	if configPath == "" {
		configPath = "config.yml"
	}
	cfg, err := config.LoadConsole(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// --- Logger Setup ---
	log, err := logger.New(logger.Config{
		Level:    cfg.Log.Level,
		Encoding: cfg.Log.Encoding,
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	zap.ReplaceGlobals(log)
	zap.L().Info("Logger initialized", zap.String("logLevel", cfg.Log.Level))

	requestTimeout, err := time.ParseDuration(cfg.Backend.RequestTimeout)
	if err != nil {
		zap.L().Fatal("Invalid request timeout", zap.String("value", cfg.Backend.RequestTimeout), zap.Error(err))
	}

	// --- Resume Marker Store ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, closeStore, err := setupStore(ctx, cfg, log)
	if err != nil {
		zap.L().Fatal("Failed to set up resume marker store", zap.Error(err))
	}
	defer closeStore()
	zap.L().Info("Resume marker store ready", zap.String("kind", cfg.Store.Kind))

	// --- Backend Clients ---
	tokens, err := client.NewTokenProvider(cfg.Backend.AuthURL, requestTimeout, cfg.AccessToken, cfg.RefreshToken, log)
	if err != nil {
		zap.L().Fatal("Failed to create token provider", zap.Error(err))
	}
	streamer, err := client.NewStreamClient(cfg.Backend.URL, log, tokens)
	if err != nil {
		zap.L().Fatal("Failed to create stream client", zap.Error(err))
	}
	api, err := client.NewProjectAPIClient(cfg.Backend.URL, requestTimeout, log, tokens)
	if err != nil {
		zap.L().Fatal("Failed to create project API client", zap.Error(err))
	}

	// --- Orchestrator + Relay ---
	hub := relay.NewHub(log)
	orch, err := orchestrator.New(streamer, api, store, log,
		orchestrator.WithObserver(hub.Publish),
	)
	if err != nil {
		zap.L().Fatal("Failed to create orchestrator", zap.Error(err))
	}
	manager := relay.NewRunManager(orch, log)
	server := relay.NewServer(manager, hub, log)

	// --- Push Listener (опционально) ---
	listenCtx, stopListener := context.WithCancel(context.Background())
	defer stopListener()
	if cfg.Backend.WebsocketURL != "" {
		zl := zerolog.New(os.Stdout).With().Timestamp().Logger()
		listener, err := notify.NewListener(cfg.Backend.WebsocketURL, cfg.AccessToken, func(update notify.ProjectUpdate) {
			// Push-обновления лишь повод перечитать серверное состояние;
			// здесь они транслируются в лог консоли.
			zap.L().Debug("Backend push update",
				zap.String("projectID", update.ProjectID),
				zap.String("status", update.Status),
			)
		}, zl)
		if err != nil {
			zap.L().Fatal("Failed to create push listener", zap.Error(err))
		}
		go func() {
			if err := listener.Listen(listenCtx); err != nil && listenCtx.Err() == nil {
				zap.L().Error("Push listener stopped with error", zap.Error(err))
			}
		}()
		zap.L().Info("Push listener started", zap.String("url", cfg.Backend.WebsocketURL))
	}

	// --- HTTP Server ---
	// WriteTimeout не ставим: SSE-соединения живут дольше любого разумного таймаута.
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     server.Router(cfg.AllowedOrigins),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	zap.L().Info("Starting console HTTP server", zap.String("port", cfg.Port))
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.L().Fatal("HTTP server listen error", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zap.L().Info("Shutting down console...")

	stopListener()
	manager.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("HTTP server forced to shutdown", zap.Error(err))
	}

	zap.L().Info("Console exiting")
}

// setupStore выбирает бэкенд хранилища маркеров по конфигурации.
func setupStore(ctx context.Context, cfg *config.ConsoleConfig, log *zap.Logger) (resume.Store, func(), error) {
	switch cfg.Store.Kind {
	case "redis":
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.Store.RedisAddr,
			DB:   cfg.Store.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return resume.NewRedisStore(redisClient, log), func() { _ = redisClient.Close() }, nil

	case "postgres":
		if cfg.Store.PostgresURL == "" {
			return nil, nil, fmt.Errorf("postgres store selected but CONSOLE_POSTGRES_URL is empty")
		}
		if err := resume.RunMigrations(cfg.Store.PostgresURL); err != nil {
			return nil, nil, err
		}
		pool, err := pgxpool.New(ctx, cfg.Store.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to ping postgres: %w", err)
		}
		return resume.NewPostgresStore(pool, log), pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store kind %q (expected redis or postgres)", cfg.Store.Kind)
	}
}
