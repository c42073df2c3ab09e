package digest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"my-feed-bot/internal/domain"
)

// ErrNoPosts возвращается, если за окно сводки не было доставленных постов.
var ErrNoPosts = errors.New("нет доставленных постов для сводки")

// ErrCooldown возвращается, если пользователь запрашивает сводку слишком часто.
var ErrCooldown = errors.New("сводка уже запрашивалась недавно")

// Значения по умолчанию.
const (
	DefaultWindow   = 12 * time.Hour
	DefaultMaxPosts = 20
	DefaultCooldown = time.Minute
)

// Throttle занимает ключ на время ttl.
type Throttle interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Config задаёт параметры сводки.
type Config struct {
	Window   time.Duration
	MaxPosts int
	Cooldown time.Duration
}

// Service ставит сводки в очередь и собирает их по доставленным постам.
type Service struct {
	users    domain.UserRepo
	posts    domain.PostRepo
	queue    domain.DigestQueue
	throttle Throttle
	writer   domain.DigestWriter
	events   domain.BusinessMetricRepo
	cfg      Config
	log      zerolog.Logger
	now      func() time.Time
}

// NewService создаёт сервис сводок. throttle и events могут быть nil.
func NewService(users domain.UserRepo, posts domain.PostRepo, queue domain.DigestQueue, throttle Throttle, writer domain.DigestWriter, events domain.BusinessMetricRepo, cfg Config, log zerolog.Logger) *Service {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxPosts <= 0 {
		cfg.MaxPosts = DefaultMaxPosts
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	return &Service{
		users:    users,
		posts:    posts,
		queue:    queue,
		throttle: throttle,
		writer:   writer,
		events:   events,
		cfg:      cfg,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Window возвращает окно, за которое собирается сводка.
func (s *Service) Window() time.Duration { return s.cfg.Window }

// Request ставит задачу сводки в очередь. Ручной запрос доступен только VIP и
// не чаще одного раза за Cooldown.
func (s *Service) Request(ctx context.Context, tgUserID, chatID int64, cause domain.DigestJobCause) (domain.DigestJob, error) {
	if cause == "" {
		cause = domain.DigestCauseManual
	}
	if cause == domain.DigestCauseManual {
		user, err := s.users.GetUser(ctx, tgUserID)
		if err != nil {
			return domain.DigestJob{}, fmt.Errorf("получение пользователя: %w", err)
		}
		if !user.IsVIP(s.now()) {
			return domain.DigestJob{}, domain.ErrVIPRequired
		}
		if s.throttle != nil {
			ok, err := s.throttle.Acquire(ctx, fmt.Sprintf("digest:%d", tgUserID), s.cfg.Cooldown)
			if err != nil {
				s.log.Warn().Err(err).Int64("tg_user_id", tgUserID).Msg("digest: не удалось проверить частоту запросов")
			} else if !ok {
				return domain.DigestJob{}, ErrCooldown
			}
		}
	}

	job := domain.DigestJob{
		ID:          uuid.NewString(),
		UserTGID:    tgUserID,
		ChatID:      chatID,
		RequestedAt: s.now(),
		Cause:       cause,
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return domain.DigestJob{}, fmt.Errorf("постановка сводки в очередь: %w", err)
	}
	s.record(ctx, domain.BusinessMetricEventDigestRequested, tgUserID, map[string]any{"job_id": job.ID, "cause": cause})
	s.log.Info().Int64("tg_user_id", tgUserID).Str("job_id", job.ID).Msg("digest: задача поставлена в очередь")
	return job, nil
}

// Build собирает HTML-сводку по постам, доставленным пользователю за окно.
func (s *Service) Build(ctx context.Context, tgUserID int64) (string, error) {
	since := s.now().Add(-s.cfg.Window)
	posts, err := s.posts.ListSentPostsSince(ctx, tgUserID, since, s.cfg.MaxPosts)
	if err != nil {
		return "", fmt.Errorf("получение постов: %w", err)
	}
	entries := Entries(posts)
	if len(entries) == 0 {
		return "", ErrNoPosts
	}
	text, err := s.writer.WriteDigest(ctx, entries)
	if err != nil {
		return "", fmt.Errorf("построение сводки: %w", err)
	}
	return text, nil
}

func (s *Service) record(ctx context.Context, event string, tgUserID int64, meta map[string]any) {
	if s.events == nil {
		return
	}
	id := tgUserID
	if err := s.events.RecordBusinessMetric(ctx, domain.BusinessMetric{Event: event, TGUserID: &id, Metadata: meta, OccurredAt: s.now()}); err != nil {
		s.log.Warn().Err(err).Str("event", event).Msg("digest: не удалось записать событие")
	}
}
