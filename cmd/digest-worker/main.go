package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"my-feed-bot/internal/adapters/repo"
	"my-feed-bot/internal/adapters/summarizer"
	"my-feed-bot/internal/adapters/telegram"
	"my-feed-bot/internal/infra/cache"
	"my-feed-bot/internal/infra/config"
	"my-feed-bot/internal/infra/db"
	applog "my-feed-bot/internal/infra/log"
	"my-feed-bot/internal/infra/metrics"
	"my-feed-bot/internal/infra/openai"
	"my-feed-bot/internal/infra/queue"
	"my-feed-bot/internal/usecase/digest"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("digest-worker: не указан токен Telegram (TG_BOT_TOKEN)")
	}
	if cfg.PGDSN == "" {
		logger.Fatal().Msg("digest-worker: не указан PG_DSN")
	}
	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("digest-worker: нет подключения к БД")
	}
	defer pool.Close()
	store := repo.NewPostgres(pool)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient, err = cache.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Fatal().Err(err).Msg("digest-worker: нет подключения к Redis")
		}
		defer redisClient.Close()
	}
	digestQueue, closeQueue, err := queue.Open(cfg.Queues.Backend, redisClient, cfg.RabbitURL, cfg.Queues.Digest)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.Queues.Backend).Msg("digest-worker: не удалось открыть очередь")
	}
	defer closeQueue()

	botAPI, err := telegram.NewBotAPI(cfg.Telegram.Token, cfg.Feed.SendTimeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("digest-worker: не удалось создать бота")
	}

	var llm *summarizer.LLM
	if client := openai.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.DigestTimeout); client.Enabled() {
		llm = summarizer.NewLLM(client, cfg.LLM.Model, cfg.LLM.DigestTimeout)
	} else {
		logger.Warn().Msg("digest-worker: LLM_API_KEY не задан, сводки собираются локально")
	}
	writer := summarizer.NewDigest(llm, cfg.LLM.DigestTimeout, cfg.Digest.Window, applog.Component(logger, "summarizer"))

	service := digest.NewService(store, store, digestQueue, nil, writer, store, digest.Config{
		Window:   cfg.Digest.Window,
		MaxPosts: cfg.Digest.MaxPosts,
		Cooldown: cfg.Digest.Cooldown,
	}, applog.Component(logger, "digest"))
	sender := telegram.NewDispatcher(botAPI, cfg.Feed.SendRPS, applog.Component(logger, "telegram"))
	worker := digest.NewWorker(service, digestQueue, store, sender, applog.Component(logger, "digest-worker"))

	logger.Info().Str("backend", cfg.Queues.Backend).Str("queue", cfg.Queues.Digest).Msg("digest-worker: старт")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("digest-worker: остановлен с ошибкой")
	}
	logger.Info().Msg("digest-worker: остановлен")
}
