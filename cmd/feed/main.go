package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"my-feed-bot/internal/adapters/repo"
	"my-feed-bot/internal/adapters/spam"
	"my-feed-bot/internal/adapters/summarizer"
	"my-feed-bot/internal/adapters/telegram"
	"my-feed-bot/internal/domain"
	"my-feed-bot/internal/infra/cache"
	"my-feed-bot/internal/infra/config"
	"my-feed-bot/internal/infra/db"
	applog "my-feed-bot/internal/infra/log"
	"my-feed-bot/internal/infra/metrics"
	"my-feed-bot/internal/infra/openai"
	"my-feed-bot/internal/usecase/delivery"
	"my-feed-bot/internal/usecase/entitlement"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("feed: не указан токен Telegram (TG_BOT_TOKEN)")
	}
	if cfg.PGDSN == "" {
		logger.Fatal().Msg("feed: не указан PG_DSN")
	}
	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("feed: нет подключения к БД")
	}
	defer pool.Close()
	store := repo.NewPostgres(pool)

	botAPI, err := telegram.NewBotAPI(cfg.Telegram.Token, cfg.Feed.SendTimeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("feed: не удалось создать бота")
	}

	var summaryCache domain.Cache
	if cfg.RedisAddr != "" {
		redisClient, err := cache.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Fatal().Err(err).Msg("feed: нет подключения к Redis")
		}
		defer redisClient.Close()
		summaryCache = cache.NewRedis(redisClient, "short_feed:")
	}
	var llm *summarizer.LLM
	if client := openai.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Timeout); client.Enabled() {
		llm = summarizer.NewLLM(client, cfg.LLM.Model, cfg.LLM.Timeout)
	} else {
		logger.Warn().Msg("feed: LLM_API_KEY не задан, краткая лента берёт первое предложение")
	}

	pipeline := delivery.NewPipeline(
		spam.New(),
		summarizer.NewShortener(llm, summaryCache, cfg.LLM.CacheTTL, applog.Component(logger, "summarizer")),
		telegram.NewDispatcher(botAPI, cfg.Feed.SendRPS, applog.Component(logger, "telegram")),
	)

	group, ok := domain.ParseBroadcastGroup(cfg.Feed.Group)
	if !ok {
		logger.Fatal().Str("group", cfg.Feed.Group).Msg("feed: неизвестная группа рассылки")
	}
	ent := entitlement.NewService(store, store, cfg.TierLimits(), cfg.Limits.TrialDays, applog.Component(logger, "entitlement"))
	engine, err := delivery.NewEngine(store, store, ent, pipeline, delivery.Config{
		Mode:          delivery.Mode(cfg.Feed.Mode),
		OwnerTGUserID: cfg.Telegram.OwnerUserID,
		Group:         group,
		BatchSize:     cfg.Feed.BatchSize,
		Overfetch:     cfg.Feed.Overfetch,
		SendTimeout:   cfg.Feed.SendTimeout,
	}, applog.Component(logger, "delivery"))
	if errors.Is(err, domain.ErrMissingRecipient) {
		logger.Fatal().Msg("feed: в режиме owner нужен OWNER_TG_USER_ID")
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("feed: некорректная конфигурация доставки")
	}

	logger.Info().Str("mode", string(cfg.Feed.Mode)).Str("group", string(group)).Dur("interval", cfg.Feed.Interval).Msg("feed: старт")
	if err := engine.Run(ctx, cfg.Feed.Interval); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("feed: цикл доставки остановлен с ошибкой")
	}
	logger.Info().Msg("feed: остановлен")
}
