package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	echoapi "github.com/srus/yith-library-server/api/echo"
	"github.com/srus/yith-library-server/config"
	"github.com/srus/yith-library-server/internal/metrics"
	"github.com/srus/yith-library-server/internal/server"
	"github.com/srus/yith-library-server/log"
	"github.com/srus/yith-library-server/middleware"
	"github.com/srus/yith-library-server/services"
	"github.com/srus/yith-library-server/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		stdLog := zerolog.New(os.Stdout).With().Timestamp().Logger()
		stdLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logLevel, parseErr := zerolog.ParseLevel(cfg.LogLevel)
	if parseErr != nil {
		logLevel = zerolog.InfoLevel
		stdLog := zerolog.New(os.Stdout).With().Timestamp().Logger()
		stdLog.Warn().
			Str("configured_log_level", cfg.LogLevel).
			Err(parseErr).
			Msg("Invalid LOG_LEVEL configured, defaulting to 'info'")
	}
	zerolog.SetGlobalLevel(logLevel)
	if cfg.LogPretty {
		zlog.Logger = zlog.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	appLogger := log.NewZerologAdapter(logLevel, cfg.LogPretty)

	ctx := context.Background()
	appLogger.Info(ctx, "Starting yith-library-server", log.Fields{
		"http_port":       cfg.HTTPPort,
		"storage_backend": cfg.StorageBackend,
		"token_cache":     cfg.TokenCache,
		"log_level":       cfg.LogLevel,
	})

	var tp *sdktrace.TracerProvider
	if cfg.TracingEnabled {
		tp, err = tracing.InitTracerProvider(cfg.OtelServiceName)
		if err != nil {
			appLogger.Fatal(ctx, "Failed to initialize TracerProvider", err)
		}
	}

	repos, closeRepos, err := server.OpenRepositories(ctx, cfg)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to open storage backend", err)
	}

	tokenCache, closeCache, err := server.OpenTokenCache(ctx, cfg)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to open token cache", err)
	}

	sp, err := services.NewDefaultServiceProvider(services.DefaultServiceProviderOptions{
		RepositoryProvider:   repos,
		TokenCache:           tokenCache,
		Logger:               appLogger,
		AccessTokenTTL:       cfg.AccessTokenTTL(),
		AuthorizationCodeTTL: cfg.AuthorizationCodeTTL(),
		DefaultScopes:        cfg.DefaultScopeList(),
		SecretHashCost:       cfg.ClientSecretHashCost,
	})
	if err != nil {
		appLogger.Fatal(ctx, "Failed to build services", err)
	}

	api := echoapi.NewOAuth2API(
		sp.AuthorizationService(),
		sp.TokenService(),
		sp.ClientService(),
		sp.ConsentTracker(),
		sp.GrantValidator(),
		middleware.HeaderOwnerResolver{Header: cfg.ResourceOwnerHeader},
		middleware.NewCORSManager(cfg.CORSOrigins(), sp.ClientService()),
	)

	var gatherer prometheus.Gatherer
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics.InitCustomMetrics(reg)
		if tokenCache != nil {
			metrics.RegisterTokenCacheEntries(reg, func() int {
				return tokenCache.Count(context.Background())
			})
		}
		gatherer = reg
	}

	httpServer := server.NewHTTPServer(cfg, server.NewEcho(appLogger, api, gatherer))
	go func() {
		appLogger.Info(ctx, fmt.Sprintf("HTTP server listening on port %s", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal(ctx, "Failed to start HTTP server", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	receivedSignal := <-quit

	appLogger.Info(ctx, fmt.Sprintf("Received signal: %v. Shutting down server...", receivedSignal))

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "HTTP server shutdown error", err)
	}

	if tp != nil {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			appLogger.Error(shutdownCtx, "TracerProvider shutdown error", err)
		}
	}

	closeCache()
	closeRepos(shutdownCtx)

	appLogger.Info(shutdownCtx, "Server gracefully stopped.")
}
