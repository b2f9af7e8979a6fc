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

	"github.com/openclaw/wa-session-broker/internal/bridge"
	"github.com/openclaw/wa-session-broker/internal/config"
	"github.com/openclaw/wa-session-broker/internal/database"
	"github.com/openclaw/wa-session-broker/internal/driver/wsdriver"
	"github.com/openclaw/wa-session-broker/internal/extraction"
	"github.com/openclaw/wa-session-broker/internal/handler"
	"github.com/openclaw/wa-session-broker/internal/jobs"
	"github.com/openclaw/wa-session-broker/internal/middleware"
	"github.com/openclaw/wa-session-broker/internal/ocrqueue"
	"github.com/openclaw/wa-session-broker/internal/redis"
	"github.com/openclaw/wa-session-broker/internal/repository"
	"github.com/openclaw/wa-session-broker/internal/sse"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
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
	log.Info().Msg("database connected")

	if cfg.SchemaPath != "" {
		if err := db.ApplySchema(context.Background(), cfg.SchemaPath); err != nil {
			log.Fatal().Err(err).Str("path", cfg.SchemaPath).Msg("failed to apply schema")
		}
		log.Info().Str("path", cfg.SchemaPath).Msg("schema applied")
	}

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	sessionRepo := repository.NewSessionRepository(db.DB)
	messageRepo := repository.NewMessageRepository(db.DB)
	messageStore := repository.NewMessageStore(db, messageRepo)

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	var mediaQueue extraction.MediaQueue
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := ocrqueue.NewPublisher(cfg.KafkaBrokers, cfg.OCRTopic)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create ocr publisher")
		}
		defer publisher.Close()
		mediaQueue = publisher
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.OCRTopic).Msg("ocr hand-off enabled")
	}

	pipeline := extraction.NewPipeline(
		extraction.NewHTTPFetcher(&http.Client{Timeout: cfg.MediaDownloadTimeout()}, cfg.MediaMaxBytes),
		extraction.NewFileStore(cfg.MediaDir),
		messageStore,
		mediaQueue,
		cfg.MediaDownloadTimeout(),
	)

	drv := wsdriver.New(cfg.DriverURL, wsdriver.DefaultOptions())
	drv.Start()

	sessions := bridge.New(bridge.Deps{
		Driver:    drv,
		Extractor: pipeline,
		Sessions:  sessionRepo,
		Notifier:  broker,
	}, bridge.Config{
		QRTimeout:       cfg.QRTimeout(),
		ContactsTimeout: cfg.ContactsTimeout(),
		ExtractTimeout:  cfg.ExtractTimeout(),
		SendTimeout:     cfg.SendTimeout(),
		ReuseConnected:  cfg.ReuseConnectedSession,
	})

	ctx, cancel = context.WithTimeout(context.Background(), config.CleanupRunTimeout)
	if _, err := sessions.Restore(ctx); err != nil {
		log.Error().Err(err).Msg("failed to restore sessions")
	}
	cancel()

	janitor := jobs.NewJanitor(sessions, messageRepo, jobs.JanitorConfig{
		Interval:             cfg.JanitorInterval(),
		QRTTL:                cfg.QRTTL(),
		Retention:            cfg.Retention(),
		FailedMediaRetention: cfg.FailedMediaRetention(),
	})

	authMiddleware := middleware.NewAuthMiddleware(cfg.APITokenHash)
	rateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(redisClient.Client, config.GenerateRateLimitPerMin)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	eventsHandler := handler.NewEventsHandler(sessions, broker)
	sessionHandler := handler.NewSessionHandler(sessions, eventsHandler, rateLimitMiddleware.Handler)
	commandHandler := handler.NewCommandHandler(sessions, rateLimitMiddleware.Handler)
	cleanupHandler := handler.NewCleanupHandler(janitor)
	healthHandler := handler.NewHealthHandler(sessions, drv)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(securityHeadersMiddleware.Handler)
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", healthHandler.ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Mount("/sessions", sessionHandler.Routes())
		r.Post("/commands", commandHandler.ServeHTTP)
		r.Post("/cleanup", cleanupHandler.ServeHTTP)
	})

	janitor.Start()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
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

	// Open event streams end once the broker closes its clients.
	broker.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	janitor.Stop()
	sessions.Shutdown(shutdownCtx)
	drv.Close()

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
