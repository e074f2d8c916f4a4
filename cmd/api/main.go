package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mdthorpe/llm-web-chat/internal/config"
	"github.com/mdthorpe/llm-web-chat/internal/guard"
	"github.com/mdthorpe/llm-web-chat/internal/handler"
	"github.com/mdthorpe/llm-web-chat/internal/handler/session"
	"github.com/mdthorpe/llm-web-chat/internal/metrics"
	speechModel "github.com/mdthorpe/llm-web-chat/internal/model/speech"
	"github.com/mdthorpe/llm-web-chat/internal/service/ai"
	"github.com/mdthorpe/llm-web-chat/internal/service/chat"
	"github.com/mdthorpe/llm-web-chat/internal/service/speech"
	"github.com/mdthorpe/llm-web-chat/internal/service/turn"
	"github.com/mdthorpe/llm-web-chat/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	setupLogger(cfg.Log)
	if envErr != nil {
		log.Debug().Err(envErr).Msg("no .env file loaded, using process environment only")
	}

	m := metrics.Global()

	store, closeStore, err := openStore(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize message store")
	}
	defer closeStore()

	turnGuard, closeGuard, err := openGuard(ctx, cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize turn guard")
	}
	defer closeGuard()

	registry, err := ai.NewRegistryFromConfig(ctx, cfg.AI, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize generation provider")
	}
	log.Info().Str("provider", cfg.AI.Provider).Strs("models", registry.Models()).Bool("stream", cfg.AI.StreamResponse).Msg("generation ready")

	transcriber, err := speech.New(speech.Options{
		Provider:       cfg.Speech.Provider,
		DeepgramAPIKey: cfg.Speech.DeepgramAPIKey,
		DeepgramModel:  cfg.Speech.DeepgramModel,
		DeepgramURL:    cfg.Speech.DeepgramURL,

		VolcAppID:       cfg.Speech.VolcAppID,
		VolcAccessToken: cfg.Speech.VolcAccessToken,
		VolcResourceID:  cfg.Speech.VolcResourceID,
		VolcURL:         cfg.Speech.VolcURL,

		Logger: log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize transcription provider")
	}
	log.Info().Str("provider", cfg.Speech.Provider).Str("language", cfg.Speech.Language).Msg("transcription ready")

	streamCfg := speechModel.DefaultStreamConfig()
	streamCfg.Language = cfg.Speech.Language
	streamCfg.Model = cfg.Speech.DeepgramModel

	sessions := session.New(session.Config{
		Relay: speech.NewRelay(speech.RelayConfig{
			Transcriber: transcriber,
			Stream:      streamCfg,
			Logger:      log.Logger,
			Metrics:     m,
		}),
		Turns: turn.New(turn.Config{
			Store:     store,
			Generator: registry,
			Catalog:   registry,
			Guard:     turnGuard,
			Streaming: cfg.AI.StreamResponse,
			Logger:    log.Logger,
			Metrics:   m,
		}),
		CancelOnClose: cfg.Session.CancelOnClose,
		PingInterval:  cfg.Session.PingInterval,
		ReadTimeout:   cfg.Session.ReadTimeout,
		Logger:        log.Logger,
		Metrics:       m,
	})

	router := handler.NewRouter(handler.Deps{
		Store:    store,
		Catalog:  registry,
		Sessions: sessions,
		Logger:   log.Logger,
	})

	startServer(ctx, cfg.Server, router, sessions)
}

func openStore(ctx context.Context, cfg config.StorageConfig) (chat.Store, func(), error) {
	if cfg.Driver == "memory" {
		log.Info().Msg("using in-memory message store")
		return chat.NewService(), func() {}, nil
	}

	store, err := storage.Open(ctx, storage.Options{
		Driver:      cfg.Driver,
		DSN:         cfg.DSN,
		AutoMigrate: cfg.AutoMigrate,
		Logger:      log.Logger,
	})
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("driver", cfg.Driver).Bool("auto_migrate", cfg.AutoMigrate).Msg("sql message store opened")
	return store, func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close message store")
		}
	}, nil
}

func openGuard(ctx context.Context, cfg config.RedisConfig) (guard.Guard, func(), error) {
	if !cfg.Enabled() {
		log.Info().Int("rate_per_hour", cfg.RatePerHour).Msg("using in-process turn guard")
		return guard.NewLocal(cfg.RatePerHour), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	log.Info().Str("addr", cfg.Addr).Int("rate_per_hour", cfg.RatePerHour).Dur("lock_ttl", cfg.LockTTL).Msg("using redis turn guard")

	g := guard.NewRedis(guard.RedisConfig{
		Client:      rdb,
		LockTTL:     cfg.LockTTL,
		RatePerHour: cfg.RatePerHour,
		Logger:      log.Logger,
	})
	return g, func() { _ = rdb.Close() }, nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, sessions *session.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", serverCfg.Addr).Msg("llm-web-chat listening")
	if err := runServer(ctx, srv, sessions); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
	log.Info().Msg("stopped")
}

func runServer(ctx context.Context, srv *http.Server, sessions *session.Handler) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		// turns and dictations detached from their sockets get the rest of the budget
		if err := sessions.Wait(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("in-flight sessions did not finish before shutdown")
		}
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupLogger(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(cfg.Level))
	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "2006-01-02 15:04:05",
	}).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
