package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/gotd/td/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"my-feed-bot/internal/adapters/apiclient"
	"my-feed-bot/internal/adapters/mediastore"
	"my-feed-bot/internal/adapters/mtproto"
	"my-feed-bot/internal/adapters/repo"
	"my-feed-bot/internal/domain"
	"my-feed-bot/internal/infra/config"
	"my-feed-bot/internal/infra/db"
	applog "my-feed-bot/internal/infra/log"
	"my-feed-bot/internal/infra/metrics"
	"my-feed-bot/internal/usecase/ingest"
	"my-feed-bot/internal/usecase/schedule"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	store, sessionStorage, cleanup := openStore(ctx, cfg, logger)
	defer cleanup()

	client, err := mtproto.NewClient(mtproto.Options{
		APIID:   cfg.Telegram.APIID,
		APIHash: cfg.Telegram.APIHash,
		Session: sessionStorage,
		Proxy:   cfg.MTProto.Proxy,
		RPS:     cfg.MTProto.GlobalRPS,
	}, applog.Component(logger, "mtproto"))
	if err != nil {
		logger.Fatal().Err(err).Msg("collector: не удалось создать MTProto клиента")
	}

	media := mediastore.NewLocal(cfg.Collector.MediaRoot)
	scheduler := schedule.NewService(applog.Component(logger, "schedule"), 10*time.Minute)
	err = scheduler.Add("media_sweep", cfg.Collector.CleanSchedule, func(context.Context) error {
		res, err := media.Sweep(cfg.Collector.MediaTTL)
		metrics.MediaSweptFiles.Add(float64(res.Files))
		if err != nil {
			return err
		}
		if res.Files > 0 || res.Dirs > 0 {
			logger.Info().Int("files", res.Files).Int("dirs", res.Dirs).Msg("collector: старые медиафайлы удалены")
		}
		return nil
	})
	if err != nil {
		logger.Fatal().Err(err).Str("spec", cfg.Collector.CleanSchedule).Msg("collector: некорректное расписание очистки медиа")
	}
	go scheduler.Run(ctx)

	engine := ingest.NewEngine(store, client, media, ingest.Config{
		FetchLimit:    cfg.Collector.FetchLimit,
		OwnerTGUserID: cfg.Telegram.OwnerUserID,
	}, applog.Component(logger, "ingest"))

	logger.Info().
		Dur("interval", cfg.Collector.Interval).
		Int64("owner", cfg.Telegram.OwnerUserID).
		Str("media_root", media.Root()).
		Msg("collector: старт")
	err = client.Run(ctx, func(ctx context.Context) error {
		return engine.Run(ctx, cfg.Collector.Interval)
	})
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		logger.Info().Msg("collector: остановлен")
	case errors.Is(err, mtproto.ErrNotAuthorized):
		logger.Fatal().Err(err).Str("session", cfg.MTProto.SessionName).Msg("collector: сессия MTProto не авторизована")
	default:
		logger.Fatal().Err(err).Msg("collector: MTProto клиент остановлен с ошибкой")
	}
}

// openStore выбирает хранилище: Postgres при заданном PG_DSN, иначе HTTP API.
func openStore(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (domain.IngestStore, session.Storage, func()) {
	if cfg.PGDSN != "" {
		pool, err := db.Connect(cfg.PGDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("collector: нет подключения к БД")
		}
		if cfg.PGMigrate {
			if err := db.Migrate(ctx, pool); err != nil {
				logger.Fatal().Err(err).Msg("collector: не удалось применить миграции")
			}
		}
		store := repo.NewPostgres(pool)
		logger.Info().Msg("collector: хранилище Postgres")
		return store, mtproto.NewSessionStorage(store, cfg.MTProto.SessionName), pool.Close
	}

	if cfg.API.URL == "" {
		logger.Fatal().Msg("collector: не указан ни PG_DSN, ни API_URL")
	}
	client, err := apiclient.New(cfg.API.URL, apiclient.WithToken(cfg.API.Token), apiclient.WithTimeout(30*time.Second))
	if err != nil {
		logger.Fatal().Err(err).Msg("collector: некорректный API_URL")
	}
	logger.Info().Str("api", cfg.API.URL).Str("session_file", cfg.MTProto.SessionFile).Msg("collector: хранилище через API")
	return client, &session.FileStorage{Path: cfg.MTProto.SessionFile}, func() {}
}
