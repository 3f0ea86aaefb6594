// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Shivanand-hulikatti/helper-slots/internal/config"
	"github.com/Shivanand-hulikatti/helper-slots/internal/database"
	"github.com/Shivanand-hulikatti/helper-slots/internal/handler"
	"github.com/Shivanand-hulikatti/helper-slots/internal/logging"
	"github.com/Shivanand-hulikatti/helper-slots/internal/notify"
	"github.com/Shivanand-hulikatti/helper-slots/internal/repository"
	"github.com/Shivanand-hulikatti/helper-slots/internal/service"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx := context.Background()

	// ── 1. Open the reservation store ─────────────────────────────────────
	store, closeStore, err := openStore(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// ── 2. Pick the notification sink ────────────────────────────────────
	notifier, closeNotifier, err := openNotifier(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeNotifier()
	dispatcher := notify.NewDispatcher(notifier, cfg.Notify.Timeout, log)

	// ── 3. Wire up layers ────────────────────────────────────────────────
	clock := service.SystemClock{}
	eventSvc := service.NewEventService(store, clock, log)
	reservationSvc := service.NewReservationService(store, clock, log)
	router := handler.NewRouter(
		handler.NewEventHandler(eventSvc, log),
		handler.NewReservationHandler(reservationSvc, dispatcher, clock, log),
		log,
		cfg.Server.WebDir,
	)

	// ── 4. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.String("env", cfg.App.Environment),
			zap.String("store", cfg.Database.Driver),
			zap.String("notifier", notifier.Name()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Block until SIGINT or SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		log.Info("shutting down server", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	dispatcher.Wait()
	log.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (repository.Store, func(), error) {
	switch cfg.Driver {
	case "sqlite":
		db, err := database.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("database: %w", err)
		}
		log.Info("opened sqlite store", zap.String("path", cfg.SQLitePath))
		return repository.NewSQLiteStore(db), func() { _ = db.Close() }, nil
	default:
		pool, err := database.NewPool(ctx, cfg, log)
		if err != nil {
			return nil, nil, fmt.Errorf("database: %w", err)
		}
		log.Info("connected to postgres", zap.String("host", cfg.Host), zap.String("db", cfg.DBName))
		return repository.NewPostgresStore(pool), pool.Close, nil
	}
}

func openNotifier(ctx context.Context, cfg *config.Config, log *zap.Logger) (notify.Notifier, func(), error) {
	switch cfg.Notify.Driver {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr(),
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			DialTimeout:  cfg.Redis.DialTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		return notify.NewRedisNotifier(client, cfg.Notify.Queue), func() { _ = client.Close() }, nil
	case "kafka":
		client, err := notify.NewKafkaClient(cfg.Kafka.Brokers, cfg.Kafka.ClientID)
		if err != nil {
			return nil, nil, err
		}
		return notify.NewKafkaNotifier(client, cfg.Notify.Topic), client.Close, nil
	default:
		return notify.NewLogNotifier(log), func() {}, nil
	}
}
