package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/deepfake-detector/internal/auth"
	"github.com/example/deepfake-detector/internal/config"
	"github.com/example/deepfake-detector/internal/filestore"
	"github.com/example/deepfake-detector/internal/grpchealth"
	"github.com/example/deepfake-detector/internal/handlers"
	"github.com/example/deepfake-detector/internal/inference"
	"github.com/example/deepfake-detector/internal/inference/runtimes"
	"github.com/example/deepfake-detector/internal/metrics"
	"github.com/example/deepfake-detector/internal/repository/backends"
	"github.com/example/deepfake-detector/internal/service"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the gRPC health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			return runServe(cmd.Context(), cfg, logger)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if err := cfg.RequireSecret(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	store, err := backends.Open(startCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open %s storage: %w", cfg.Storage.Backend, err)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Warn("closing storage failed", zap.Error(err))
		}
	}()

	files, err := filestore.New(cfg.Uploads.Dir)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	engine := inference.NewEngine(runtimes.EngineOptions(cfg.Model), logger, m)
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Warn("closing model failed", zap.Error(err))
		}
	}()
	if err := engine.Load(ctx, runtimes.Opener(cfg.Model)); err != nil {
		return fmt.Errorf("load %s model %s: %w", cfg.Model.Runtime, cfg.Model.Path, err)
	}

	redisCtx, redisCancel := context.WithTimeout(startCtx, 5*time.Second)
	defer redisCancel()
	cache, closeCache, err := initCache(redisCtx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}
	passwords := auth.NewPasswordService(cfg.Auth.BcryptCost)

	policy := service.UploadPolicy{MaxBytes: cfg.Uploads.MaxBytes, AllowedExtensions: cfg.Uploads.AllowedExtensions}
	recorder := service.NewRecorder(store, files, engine, service.RecorderOptions{
		Policy:   policy,
		Cache:    cache,
		CacheTTL: cfg.Redis.TTL,
		Metrics:  m,
	}, logger)
	queries := service.NewQueryService(store, files, cache, cfg.Redis.TTL, logger)
	accounts := service.NewAccountService(store, files, passwords, tokens, cache, logger)

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handlers.NewRouter(handlers.Dependencies{
		Recorder: recorder,
		Queries:  queries,
		Accounts: accounts,
		Tokens:   tokens,
		Engine:   engine,
		Storage:  store,
		Metrics:  m,
		Gatherer: reg,
		Logger:   logger,
	})

	if cfg.Server.GRPCAddr != "" {
		stopHealth, err := startHealthServer(ctx, cfg.Server.GRPCAddr, engine, logger)
		if err != nil {
			return err
		}
		defer stopHealth()
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	logger.Info("deepfake detector listening",
		zap.String("addr", cfg.Server.Addr),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("runtime", cfg.Model.Runtime))
	return serveHTTPServer(ctx, server, nil, cfg.Server.ShutdownTimeout, logger)
}

// initCache connects to Redis when configured. A nil Cache disables caching.
func initCache(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (service.Cache, func(), error) {
	if cfg.Addr == "" {
		logger.Info("redis not configured, detail cache disabled")
		return nil, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis connection failed: %w", err)
	}
	logger.Info("detail cache enabled", zap.String("addr", cfg.Addr), zap.Duration("ttl", cfg.TTL))
	return service.NewRedisCache(client), func() { _ = client.Close() }, nil
}

func startHealthServer(ctx context.Context, addr string, engine *inference.Engine, logger *zap.Logger) (func(), error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen grpc %s: %w", addr, err)
	}
	hs := grpchealth.NewServer(logger)
	trackCtx, stopTracking := context.WithCancel(ctx)
	go hs.Track(trackCtx, engine.Ready, time.Second)
	go func() {
		if err := hs.Serve(lis); err != nil {
			logger.Error("gRPC health server stopped", zap.Error(err))
		}
	}()
	return func() {
		stopTracking()
		hs.Shutdown()
	}, nil
}

// serveHTTPServer serves until ctx is cancelled, then drains in-flight
// requests for at most shutdownTimeout. A nil listener binds server.Addr.
func serveHTTPServer(ctx context.Context, server *http.Server, listener net.Listener, shutdownTimeout time.Duration, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down HTTP server", zap.Duration("timeout", shutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return <-errCh
}
