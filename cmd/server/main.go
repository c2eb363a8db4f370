package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/plex-auth-server/internal/cache"
	"github.com/openclaw/plex-auth-server/internal/config"
	"github.com/openclaw/plex-auth-server/internal/database"
	"github.com/openclaw/plex-auth-server/internal/handler"
	"github.com/openclaw/plex-auth-server/internal/jobs"
	"github.com/openclaw/plex-auth-server/internal/metrics"
	"github.com/openclaw/plex-auth-server/internal/middleware"
	"github.com/openclaw/plex-auth-server/internal/plex"
	"github.com/openclaw/plex-auth-server/internal/redis"
	"github.com/openclaw/plex-auth-server/internal/repository"
	"github.com/openclaw/plex-auth-server/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := cfg.IsProduction()
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Str("driver", db.DriverName()).Msg("database connected")

	if err := db.Migrate(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	settingsRepo := repository.NewSettingsRepository(db)
	credentialRepo := repository.NewCredentialRepository(settingsRepo)

	cipher, err := service.LoadTokenCipher(context.Background(), settingsRepo, cfg.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load token encryption key")
	}

	recorder := metrics.Init(cfg.MetricsEnabled)

	plexClient := plex.NewClient(
		cfg.PlexBaseURL,
		cfg.PlexAuthAppURL,
		cfg.Plex,
		plex.WithTimeout(config.ProviderRequestTimeout),
		plex.WithRateLimit(cfg.ProviderRatePerSecond),
		plex.WithRetries(cfg.ProviderMaxRetries, config.ProviderRetryInitialInterval),
		plex.WithMetrics(recorder),
	)

	pairings := cache.NewPairingCache()
	prober := service.NewConnectionProber(config.ProbeTimeout, recorder)
	oauthService := service.NewOAuthService(plexClient, pairings, cipher, credentialRepo, recorder)
	discoveryService := service.NewDiscoveryService(oauthService, plexClient, prober, credentialRepo, cfg.ProbeConcurrency)

	var limiter middleware.Limiter
	var redisHealth handler.HealthChecker
	if cfg.RedisURL != "" {
		redisClient, err := redis.NewClient(context.Background(), cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")
		limiter = middleware.NewRedisRateLimiter(redisClient.Client)
		redisHealth = redisClient
	} else {
		log.Info().Msg("REDIS_URL not set, using in-memory rate limiting")
		limiter = middleware.NewMemoryRateLimiter()
	}

	pinRateLimit := middleware.NewIPRateLimitMiddleware(limiter, cfg.PinRateLimitPerMin, config.PinRateLimitWindow, "pin")
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	plexHandler := handler.NewPlexHandler(oauthService, discoveryService, pinRateLimit.Handler)
	healthHandler := handler.NewHealthHandler(db, redisHealth)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(metrics.HTTPMetricsMiddleware(recorder))
	r.Use(securityHeadersMiddleware.Handler)
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", healthHandler.ServeHTTP)
	if m, ok := recorder.(*metrics.Metrics); ok {
		r.Handle("/metrics", m.Handler())
	}

	r.Mount("/api/plex", plexHandler.Routes())

	cleanupJob := jobs.NewCleanupJob(pairings, recorder, config.CleanupJobInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	keepAliveJob := jobs.NewKeepAliveJob(oauthService, config.KeepAliveJobInterval, config.CredentialMaxAge)
	keepAliveJob.Start()
	defer keepAliveJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerRequestTimeout + config.ProbeTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
