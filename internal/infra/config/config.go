package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"

	"my-feed-bot/internal/domain"
)

// FeedMode определяет, кому доставляется лента.
type FeedMode string

const (
	FeedModeOwner     FeedMode = "owner"
	FeedModeBroadcast FeedMode = "broadcast"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	TZ          string `envconfig:"TZ" default:"UTC"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	Telegram struct {
		Token       string `envconfig:"TG_BOT_TOKEN"`
		WebhookURL  string `envconfig:"TG_WEBHOOK_URL"`
		APIID       int    `envconfig:"TG_API_ID"`
		APIHash     string `envconfig:"TG_API_HASH"`
		OwnerUserID int64  `envconfig:"OWNER_TG_USER_ID"`
	} `envconfig:""`

	MTProto struct {
		SessionName string `envconfig:"MTPROTO_SESSION_NAME" default:"default"`
		// SessionFile используется вместо Postgres, когда коллектор работает через API.
		SessionFile string `envconfig:"MTPROTO_SESSION_FILE" default:"/app/session/session.json"`
		Proxy       string `envconfig:"MTPROTO_PROXY"`
		GlobalRPS   int    `envconfig:"MTPROTO_GLOBAL_RPS" default:"20"`
	} `envconfig:""`

	PGDSN     string `envconfig:"PG_DSN"`
	PGMigrate bool   `envconfig:"PG_MIGRATE" default:"true"`
	RedisAddr string `envconfig:"REDIS_ADDR"`
	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Queues struct {
		Backend string `envconfig:"QUEUE_BACKEND" default:"redis"`
		Digest  string `envconfig:"DIGEST_QUEUE_KEY" default:"digest_jobs"`
	} `envconfig:""`

	API struct {
		URL   string `envconfig:"API_URL" default:"http://api:8080"`
		Token string `envconfig:"API_TOKEN"`
	} `envconfig:""`

	LLM struct {
		APIKey        string        `envconfig:"LLM_API_KEY"`
		BaseURL       string        `envconfig:"LLM_BASE_URL" default:"https://api.mistral.ai/v1"`
		Model         string        `envconfig:"LLM_MODEL" default:"mistral-small-latest"`
		Timeout       time.Duration `envconfig:"LLM_TIMEOUT" default:"20s"`
		DigestTimeout time.Duration `envconfig:"LLM_DIGEST_TIMEOUT" default:"30s"`
		CacheTTL      time.Duration `envconfig:"SHORT_FEED_CACHE_TTL" default:"24h"`
	} `envconfig:""`

	Collector struct {
		Interval      time.Duration `envconfig:"COLLECT_INTERVAL" default:"60s"`
		FetchLimit    int           `envconfig:"COLLECT_FETCH_LIMIT" default:"10"`
		MediaRoot     string        `envconfig:"MEDIA_ROOT" default:"/app/media"`
		MediaTTL      time.Duration `envconfig:"MEDIA_TTL" default:"72h"`
		CleanSchedule string        `envconfig:"MEDIA_CLEAN_SCHEDULE" default:"@every 1h"`
	} `envconfig:""`

	Feed struct {
		Interval    time.Duration `envconfig:"FEED_INTERVAL" default:"5s"`
		BatchSize   int           `envconfig:"FEED_BATCH_SIZE" default:"10"`
		Overfetch   int           `envconfig:"FEED_OVERFETCH" default:"3"`
		Mode        FeedMode      `envconfig:"FEED_MODE" default:"owner"`
		Group       string        `envconfig:"FEED_GROUP" default:"all"`
		SendTimeout time.Duration `envconfig:"FEED_SEND_TIMEOUT" default:"30s"`
		SendRPS     float64       `envconfig:"FEED_SEND_RPS" default:"25"`
	} `envconfig:""`

	Limits struct {
		FreeChannels int `envconfig:"FREE_CHANNELS_LIMIT" default:"5"`
		VIPChannels  int `envconfig:"VIP_CHANNELS_LIMIT" default:"50"`
		TrialDays    int `envconfig:"TRIAL_DAYS" default:"7"`
	} `envconfig:""`

	Digest struct {
		Window   time.Duration `envconfig:"DIGEST_WINDOW" default:"12h"`
		MaxPosts int           `envconfig:"DIGEST_MAX_POSTS" default:"20"`
		Cooldown time.Duration `envconfig:"DIGEST_COOLDOWN" default:"1m"`
	} `envconfig:""`

	Payments struct {
		CardProviderToken string `envconfig:"PAYMENTS_CARD_PROVIDER_TOKEN"`
	} `envconfig:""`

	Tochka struct {
		BaseURL         string        `envconfig:"TOCHKA_BASE_URL" default:"https://enter.tochka.com/uapi"`
		MerchantID      string        `envconfig:"TOCHKA_MERCHANT_ID"`
		AccountID       string        `envconfig:"TOCHKA_ACCOUNT_ID"`
		AccessToken     string        `envconfig:"TOCHKA_ACCESS_TOKEN"`
		Timeout         time.Duration `envconfig:"TOCHKA_TIMEOUT" default:"15s"`
		WebhookKey      string        `envconfig:"TOCHKA_WEBHOOK_KEY"`
		NotificationURL string        `envconfig:"TOCHKA_NOTIFICATION_URL"`
	} `envconfig:""`
}

// TierLimits возвращает лимиты каналов из конфига.
func (c AppConfig) TierLimits() domain.TierLimits {
	return domain.TierLimits{Free: c.Limits.FreeChannels, VIP: c.Limits.VIPChannels}
}

// Location возвращает часовой пояс из TZ, по умолчанию UTC.
func (c AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.TZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
