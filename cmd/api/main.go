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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/medchat/backend/internal/analysis/contentfilter"
	"github.com/zhouzirui/medchat/backend/internal/config"
	"github.com/zhouzirui/medchat/backend/internal/handler"
	"github.com/zhouzirui/medchat/backend/internal/logger"
	"github.com/zhouzirui/medchat/backend/internal/observability/metrics"
	"github.com/zhouzirui/medchat/backend/internal/service/ai"
	"github.com/zhouzirui/medchat/backend/internal/service/chat"
	"github.com/zhouzirui/medchat/backend/internal/service/llm"
	"github.com/zhouzirui/medchat/backend/internal/service/policy"
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

	appLogger := logger.Init(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	if envErr != nil {
		appLogger.Debug().Err(envErr).Msg("no .env file loaded, using system environment only")
	}

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		appLogger.Fatal().Err(err).Str("backend", cfg.Store.Backend).Msg("failed to open conversation store")
	}
	defer func() {
		if err := closeStore(); err != nil {
			appLogger.Warn().Err(err).Msg("closing conversation store")
		}
	}()
	appLogger.Info().Str("backend", cfg.Store.Backend).Msg("conversation store ready")

	selector := contentfilter.RandomSelector()
	if cfg.Filter.Deterministic {
		selector = contentfilter.FixedSelector(0)
	}
	filter := contentfilter.New(
		contentfilter.WithSelector(selector),
		contentfilter.WithLogger(logger.Component(appLogger, "contentfilter")),
	)

	policyLogger := logger.Component(appLogger, "policy")
	policyEngine := policy.Load(ctx, policyConfigPath(cfg.Policy, policyLogger), cfg.Policy.NewChatModel, policyLogger)

	if cfg.AI.UsingPlaceholderKey() {
		appLogger.Warn().Msg("OPENAI_API_KEY not set, completions will fail and users will see the apology message")
	}
	completer := llm.NewOpenAIClient(cfg.AI, logger.Component(appLogger, "llm"))

	aiService := ai.NewService(filter, policyEngine, completer,
		ai.WithMetrics(metrics.NewPipelineMetrics(nil)),
		ai.WithLogger(logger.Component(appLogger, "ai")),
	)

	router := handler.NewRouter(handler.Options{
		Store:          store,
		Responder:      aiService,
		Logger:         logger.Component(appLogger, "http"),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Metrics:        promhttp.Handler(),
	})

	startServer(ctx, appLogger, cfg.Server, router)
}

// policyConfigPath returns the rails file to load, or "" when the engine
// cannot run because its Ark model is not configured.
func policyConfigPath(cfg config.PolicyConfig, l zerolog.Logger) string {
	if cfg.ConfigPath != "" && !cfg.Enabled() {
		l.Warn().
			Str("config", cfg.ConfigPath).
			Msg("POLICY_CONFIG_PATH set but ARK_MODEL or ARK credentials missing, skipping policy engine")
		return ""
	}
	return cfg.ConfigPath
}

// openStore builds the configured conversation store and a matching close func.
func openStore(ctx context.Context, cfg config.StoreConfig) (chat.Store, func() error, error) {
	switch cfg.Backend {
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("ping redis at %s: %w", cfg.RedisAddr, err)
		}
		return chat.NewRedisStore(client), client.Close, nil

	case config.StoreSQLite:
		db, err := chat.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		store, err := chat.NewSQLiteStore(db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, store.Close, nil

	default:
		return chat.NewMemoryStore(), func() error { return nil }, nil
	}
}

func startServer(ctx context.Context, appLogger zerolog.Logger, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	appLogger.Info().Str("addr", addr).Msg("medchat backend listening")
	if err := runServer(ctx, srv); err != nil {
		appLogger.Fatal().Err(err).Msg("server error")
	}
	appLogger.Info().Msg("server stopped")
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
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
