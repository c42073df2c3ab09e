package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"my-feed-bot/internal/adapters/mtproto"
	"my-feed-bot/internal/adapters/repo"
	"my-feed-bot/internal/infra/config"
	"my-feed-bot/internal/infra/db"
	applog "my-feed-bot/internal/infra/log"
)

func main() {
	var (
		filePath    string
		sessionName string
		outPath     string
	)
	flag.StringVar(&filePath, "file", "", "Path to Telethon string or gotd JSON session")
	flag.StringVar(&sessionName, "name", "default", "Name of the MTProto session in Postgres")
	flag.StringVar(&outPath, "out", "", "Write the normalized session to this file instead of Postgres")
	flag.Parse()

	cfg := config.Load()
	logger := applog.Component(applog.NewLogger(cfg.AppEnv), "mtproto-importer")

	if filePath == "" {
		logger.Fatal().Msg("mtproto-importer: не указан файл сессии (-file)")
	}
	raw, err := os.ReadFile(filePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("mtproto-importer: не удалось прочитать файл сессии")
	}
	data, converted, err := mtproto.NormalizeSession(raw)
	if err != nil {
		logger.Fatal().Err(err).Msg("mtproto-importer: неподдерживаемый формат сессии")
	}

	if outPath != "" {
		if err := os.MkdirAll(filepath.Dir(outPath), 0o700); err != nil {
			logger.Fatal().Err(err).Msg("mtproto-importer: не удалось создать каталог")
		}
		if err := os.WriteFile(outPath, data, 0o600); err != nil {
			logger.Fatal().Err(err).Msg("mtproto-importer: не удалось записать сессию")
		}
		report(converted, fmt.Sprintf("file %s", outPath), len(data))
		return
	}

	if cfg.PGDSN == "" {
		logger.Fatal().Msg("mtproto-importer: нужен PG_DSN или флаг -out")
	}
	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("mtproto-importer: нет подключения к БД")
	}
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if cfg.PGMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Fatal().Err(err).Msg("mtproto-importer: не удалось применить миграции")
		}
	}
	if err := repo.NewPostgres(pool).StoreMTProtoSession(ctx, sessionName, data); err != nil {
		logger.Fatal().Err(err).Msg("mtproto-importer: не удалось сохранить сессию")
	}
	report(converted, fmt.Sprintf("session %q in database", sessionName), len(data))
}

func report(converted bool, target string, size int) {
	if converted {
		fmt.Println("Session was converted to gotd JSON format before storing")
	}
	fmt.Printf("Stored MTProto %s (%d bytes)\n", target, size)
}
