package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"my-feed-bot/internal/adapters/bot"
	"my-feed-bot/internal/adapters/repo"
	"my-feed-bot/internal/adapters/telegram"
	"my-feed-bot/internal/adapters/tochka"
	"my-feed-bot/internal/infra/cache"
	"my-feed-bot/internal/infra/config"
	"my-feed-bot/internal/infra/db"
	infrahttp "my-feed-bot/internal/infra/http"
	applog "my-feed-bot/internal/infra/log"
	"my-feed-bot/internal/infra/metrics"
	"my-feed-bot/internal/infra/queue"
	"my-feed-bot/internal/usecase/channels"
	"my-feed-bot/internal/usecase/digest"
	"my-feed-bot/internal/usecase/entitlement"
	"my-feed-bot/internal/usecase/payments"
)

// updateTimeout ограничивает обработку одного апдейта.
const updateTimeout = 30 * time.Second

// pollTimeout задаёт длительность long polling в секундах Bot API.
const pollTimeout = 60 * time.Second

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("bot: не указан токен Telegram (TG_BOT_TOKEN)")
	}
	if cfg.PGDSN == "" {
		logger.Fatal().Msg("bot: не указан PG_DSN")
	}
	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot: нет подключения к БД")
	}
	defer pool.Close()
	store := repo.NewPostgres(pool)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient, err = cache.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Fatal().Err(err).Msg("bot: нет подключения к Redis")
		}
		defer redisClient.Close()
	}

	ent := entitlement.NewService(store, store, cfg.TierLimits(), cfg.Limits.TrialDays, applog.Component(logger, "entitlement"))
	deps := bot.Deps{
		Entitlement: ent,
		Channels:    channels.NewService(store, store, ent, store, applog.Component(logger, "channels")),
		Payments:    newPayments(cfg, store, ent, logger),
		Users:       store,
		Stats:       store,
		OwnerID:     cfg.Telegram.OwnerUserID,
		CardToken:   cfg.Payments.CardProviderToken,
	}

	digestQueue, closeQueue, err := queue.Open(cfg.Queues.Backend, redisClient, cfg.RabbitURL, cfg.Queues.Digest)
	if err != nil {
		logger.Warn().Err(err).Msg("bot: очередь сводок недоступна, /digest отключён")
	} else {
		defer closeQueue()
		var throttle digest.Throttle
		if redisClient != nil {
			throttle = cache.NewRedis(redisClient, "digest_cooldown:")
		}
		deps.Digest = digest.NewService(store, store, digestQueue, throttle, nil, store, digest.Config{
			Window:   cfg.Digest.Window,
			MaxPosts: cfg.Digest.MaxPosts,
			Cooldown: cfg.Digest.Cooldown,
		}, applog.Component(logger, "digest"))
	}

	botAPI, err := telegram.NewBotAPI(cfg.Telegram.Token, pollTimeout+updateTimeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot: не удалось создать бота")
	}
	handler := bot.NewHandler(botAPI, applog.Component(logger, "bot"), deps)
	if err := bot.SetCommands(botAPI); err != nil {
		logger.Warn().Err(err).Msg("bot: не удалось обновить меню команд")
	}

	handle := func(upd tgbotapi.Update) {
		updCtx, cancel := context.WithTimeout(ctx, updateTimeout)
		defer cancel()
		handler.HandleUpdate(updCtx, upd)
	}

	logger.Info().Str("username", botAPI.Self.UserName).Bool("webhook", cfg.Telegram.WebhookURL != "").Msg("bot: старт")
	if cfg.Telegram.WebhookURL != "" {
		runWebhook(ctx, cfg, botAPI, logger, handle)
	} else {
		runPolling(ctx, botAPI, logger, handle)
	}
	logger.Info().Msg("bot: остановлен")
}

func newPayments(cfg config.AppConfig, store *repo.Postgres, ent *entitlement.Service, logger zerolog.Logger) *payments.Service {
	opts := []payments.Option{
		payments.WithEvents(store),
		payments.WithProvider(payments.NewStarsProvider()),
		payments.WithProvider(payments.NewCardProvider()),
	}
	client := tochka.NewClient(tochka.Config{
		BaseURL:         cfg.Tochka.BaseURL,
		MerchantID:      cfg.Tochka.MerchantID,
		AccountID:       cfg.Tochka.AccountID,
		AccessToken:     cfg.Tochka.AccessToken,
		NotificationURL: cfg.Tochka.NotificationURL,
		Timeout:         cfg.Tochka.Timeout,
	})
	if client.Configured() {
		opts = append(opts, payments.WithProvider(tochka.NewProvider(client)))
	}
	return payments.NewService(store, ent, applog.Component(logger, "payments"), opts...)
}

func runWebhook(ctx context.Context, cfg config.AppConfig, botAPI *tgbotapi.BotAPI, logger zerolog.Logger, handle func(tgbotapi.Update)) {
	wh, err := tgbotapi.NewWebhook(cfg.Telegram.WebhookURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot: некорректный TG_WEBHOOK_URL")
	}
	wh.AllowedUpdates = []string{"message", "callback_query", "pre_checkout_query"}
	if _, err := botAPI.Request(wh); err != nil {
		logger.Fatal().Err(err).Msg("bot: не удалось установить вебхук")
	}

	server := infrahttp.NewServer(applog.Component(logger, "http"))
	server.Router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		infrahttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	server.Router.Post("/bot/webhook", func(w http.ResponseWriter, r *http.Request) {
		upd, err := botAPI.HandleUpdate(r)
		if err != nil {
			infrahttp.WriteError(w, http.StatusBadRequest, "некорректный апдейт")
			return
		}
		handle(*upd)
		w.WriteHeader(http.StatusOK)
	})
	if err := server.Run(ctx, fmt.Sprintf(":%d", cfg.Port)); err != nil {
		logger.Error().Err(err).Msg("bot: HTTP сервер остановлен с ошибкой")
	}
}

func runPolling(ctx context.Context, botAPI *tgbotapi.BotAPI, logger zerolog.Logger, handle func(tgbotapi.Update)) {
	if _, err := botAPI.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		logger.Warn().Err(err).Msg("bot: не удалось снять вебхук")
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = int(pollTimeout / time.Second)
	u.AllowedUpdates = []string{"message", "callback_query", "pre_checkout_query"}
	updates := botAPI.GetUpdatesChan(u)
	defer botAPI.StopReceivingUpdates()
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			handle(upd)
		}
	}
}
