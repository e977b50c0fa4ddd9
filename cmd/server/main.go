package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"github.com/rl1809/rocketshoes-cart/internal/adapter/catalog"
	"github.com/rl1809/rocketshoes-cart/internal/adapter/handler"
	"github.com/rl1809/rocketshoes-cart/internal/adapter/notifier"
	"github.com/rl1809/rocketshoes-cart/internal/adapter/storage"
	"github.com/rl1809/rocketshoes-cart/internal/config"
	"github.com/rl1809/rocketshoes-cart/internal/core/service"
	"github.com/rl1809/rocketshoes-cart/internal/logger"
	"github.com/rl1809/rocketshoes-cart/internal/port"
	"github.com/rl1809/rocketshoes-cart/internal/tracing"
)

const serviceName = "rocketshoes-cart"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logger.New(serviceName, cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.TracingEnabled {
		shutdownTracing, err := tracing.Init(serviceName, os.Stdout)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				log.Warn("tracer shutdown failed", slog.String("error", err.Error()))
			}
		}()
		log.Info("tracing enabled")
	}

	// Initialize snapshot slot
	snapshots, check, closeSnapshots, err := openSnapshots(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeSnapshots()

	// Initialize adapters
	catalogCfg := catalog.DefaultConfig(cfg.CatalogBaseURL)
	catalogCfg.Timeout = cfg.CatalogTimeout
	catalogAdapter := catalog.NewHTTPAdapter(catalogCfg, log)

	feed := notifier.NewFeed(cfg.NotificationFeedSize)
	notifications := notifier.Multi{notifier.NewLogNotifier(log), feed}

	// Initialize service
	cartService := service.NewCartService(ctx, catalogAdapter, snapshots, notifications, log,
		service.WithSnapshotKey(cfg.SnapshotKey))
	log.Info("cart loaded",
		slog.String("backend", cfg.SnapshotBackend),
		slog.Int("lines", len(cartService.Cart())),
	)

	// Initialize gRPC server
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.RequestIDInterceptor))
	handler.RegisterCartServiceServer(grpcServer, handler.NewGRPCHandler(cartService, log))

	grpcAddr := fmt.Sprintf(":%d", cfg.GRPCPort)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", grpcAddr, err)
	}

	go func() {
		log.Info("gRPC server listening", slog.String("addr", grpcAddr))
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("gRPC server error", slog.String("error", err.Error()))
		}
	}()

	// Initialize HTTP server
	checks := map[string]handler.HealthChecker{"snapshots": check}
	httpHandler := handler.NewHTTPHandler(cartService, feed, checks, log)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler.NewRouter(httpHandler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("HTTP server listening", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	// Stop HTTP server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown", slog.String("error", err.Error()))
	}
	log.Info("HTTP server stopped")

	// Ending the subscriptions lets WatchCart streams return before GracefulStop.
	cartService.Close()
	grpcServer.GracefulStop()
	log.Info("gRPC server stopped")

	return nil
}

// openSnapshots connects the configured snapshot backend and returns it with
// a health check and a closer.
func openSnapshots(ctx context.Context, cfg *config.Config, log *slog.Logger) (port.SnapshotRepository, handler.HealthChecker, func(), error) {
	switch cfg.SnapshotBackend {
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
			PoolSize: 10,
		})
		adapter := storage.NewRedisAdapter(rdb, cfg.SnapshotTTL)
		if err := adapter.Ping(ctx); err != nil {
			_ = rdb.Close()
			return nil, nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		log.Info("connected to redis", slog.String("addr", cfg.RedisAddr))
		return adapter, adapter.Ping, func() { _ = rdb.Close() }, nil

	case config.BackendMySQL:
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open mysql: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		adapter := storage.NewMySQLAdapter(db)
		if err := adapter.Ping(ctx); err != nil {
			_ = db.Close()
			return nil, nil, nil, fmt.Errorf("connect mysql: %w", err)
		}
		if err := adapter.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, nil, err
		}
		log.Info("connected to mysql")
		return adapter, adapter.Ping, func() { _ = db.Close() }, nil

	default:
		log.Warn("using in-memory snapshot slot, the cart will not survive a restart")
		return storage.NewMemoryAdapter(), func(context.Context) error { return nil }, func() {}, nil
	}
}
