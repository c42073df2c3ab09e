package main

import (
	"context"
	"crypto/rsa"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"my-feed-bot/internal/adapters/httpapi"
	"my-feed-bot/internal/adapters/repo"
	"my-feed-bot/internal/adapters/tochka"
	"my-feed-bot/internal/infra/cache"
	"my-feed-bot/internal/infra/config"
	"my-feed-bot/internal/infra/db"
	infrahttp "my-feed-bot/internal/infra/http"
	applog "my-feed-bot/internal/infra/log"
	"my-feed-bot/internal/infra/metrics"
	"my-feed-bot/internal/usecase/channels"
	"my-feed-bot/internal/usecase/entitlement"
	"my-feed-bot/internal/usecase/payments"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.PGDSN == "" {
		logger.Fatal().Msg("api: не указан PG_DSN")
	}
	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()
	if cfg.PGMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Fatal().Err(err).Msg("api: не удалось применить миграции")
		}
	}
	store := repo.NewPostgres(pool)

	ent := entitlement.NewService(store, store, cfg.TierLimits(), cfg.Limits.TrialDays, applog.Component(logger, "entitlement"))
	channelService := channels.NewService(store, store, ent, store, applog.Component(logger, "channels"))

	paymentOpts := []payments.Option{
		payments.WithEvents(store),
		payments.WithProvider(payments.NewCardProvider()),
		payments.WithProvider(payments.NewStarsProvider()),
	}
	tochkaClient := tochka.NewClient(tochka.Config{
		BaseURL:         cfg.Tochka.BaseURL,
		MerchantID:      cfg.Tochka.MerchantID,
		AccountID:       cfg.Tochka.AccountID,
		AccessToken:     cfg.Tochka.AccessToken,
		NotificationURL: cfg.Tochka.NotificationURL,
		Timeout:         cfg.Tochka.Timeout,
	})
	if tochkaClient.Configured() {
		paymentOpts = append(paymentOpts, payments.WithProvider(tochka.NewProvider(tochkaClient)))
	} else {
		logger.Warn().Msg("api: реквизиты Точки не заданы, оплата по QR отключена")
	}
	if cfg.RedisAddr != "" {
		redisClient, err := cache.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: нет подключения к Redis")
		}
		defer redisClient.Close()
		paymentOpts = append(paymentOpts, payments.WithNotificationDedup(cache.NewRedis(redisClient, "sbp:")))
	}
	paymentService := payments.NewService(store, ent, applog.Component(logger, "payments"), paymentOpts...)

	var webhookKey *rsa.PublicKey
	if cfg.Tochka.WebhookKey != "" {
		webhookKey, err = tochka.ParseRSAPublicKeyFromJWK([]byte(cfg.Tochka.WebhookKey))
		if err != nil {
			logger.Fatal().Err(err).Msg("api: некорректный ключ вебхука Точки")
		}
	}
	if cfg.API.Token == "" {
		logger.Warn().Msg("api: API_TOKEN не задан, запросы принимаются без токена")
	}

	server := infrahttp.NewServer(applog.Component(logger, "http"))
	httpapi.New(httpapi.Deps{
		Store:       store,
		Stats:       store,
		Channels:    channelService,
		Entitlement: ent,
		Payments:    paymentService,
		WebhookKey:  webhookKey,
		Token:       cfg.API.Token,
		Log:         applog.Component(logger, "api"),
	}).Register(server.Router)

	logger.Info().Int("port", cfg.Port).Msg("api: старт")
	if err := server.Run(ctx, fmt.Sprintf(":%d", cfg.Port)); err != nil {
		logger.Error().Err(err).Msg("api: сервер остановлен с ошибкой")
	}
	logger.Info().Msg("api: остановка")
}
