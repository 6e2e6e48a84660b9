package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tyrowin/boardchat/internal/config"
	"github.com/Tyrowin/boardchat/internal/relay"
	"github.com/Tyrowin/boardchat/internal/server"
	"github.com/Tyrowin/boardchat/internal/stats"
	"github.com/Tyrowin/boardchat/pkg/logger"

	"github.com/go-redis/redis/v8"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logger.New("info").Fatal("Failed to load config", "error", err)
	}

	log := logger.New(cfg.Log.Level)
	defer func() { _ = log.Sync() }()

	log.Info("Starting board server", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []server.Option
	var redisRelay *relay.RedisRelay
	if cfg.Relay.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Relay.Address,
			Password: cfg.Relay.Password,
			DB:       cfg.Relay.DB,
		})
		redisRelay = relay.NewRedisRelay(rdb, cfg.Relay.Channel, cfg.Instance.ID, log)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisRelay.Ping(pingCtx)
		cancel()
		if err != nil {
			log.Fatal("Failed to connect to Redis", "address", cfg.Relay.Address, "error", err)
		}
		log.Info("Connected to Redis", "address", cfg.Relay.Address)
		opts = append(opts, server.WithRelay(redisRelay))
	}

	srv := server.New(*cfg, log, opts...)

	if redisRelay != nil {
		go func() {
			if err := redisRelay.Subscribe(ctx, srv.ApplyRemote); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Relay subscriber failed", "error", err)
			}
		}()
	}

	reporter := stats.NewReporter(cfg.Stats.Schedule, srv.Registry().Len, srv.Board().Len, log)
	if err := reporter.Start(); err != nil {
		log.Fatal("Failed to start stats reporter", "error", err)
	}

	var httpServer *http.Server
	if cfg.Server.HTTPAddress != "" {
		httpServer = server.CreateServer(cfg.Server.HTTPAddress, server.SetupRoutes(server.NewGateway(srv)))
		go func() {
			if err := server.StartServer(httpServer, log); err != nil {
				log.Error("HTTP gateway failed", "error", err)
				stop()
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, server.ErrServerClosed) {
			log.Error("Listener failed", "error", err)
		}
	}

	reporter.Stop()

	if httpServer != nil {
		_ = server.ShutdownServer(httpServer, shutdownTimeout, log)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Board server forced to shutdown", "error", err)
	}

	if redisRelay != nil {
		if err := redisRelay.Close(); err != nil {
			log.Error("Failed to close Redis client", "error", err)
		}
	}

	log.Info("Board server stopped")
}
