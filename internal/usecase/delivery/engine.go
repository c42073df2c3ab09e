package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"my-feed-bot/internal/domain"
	"my-feed-bot/internal/infra/metrics"
)

// Mode определяет, кому отправляется лента.
type Mode string

const (
	// ModeOwner отправляет ленту одному владельцу.
	ModeOwner Mode = "owner"
	// ModeBroadcast отправляет ленту группе пользователей.
	ModeBroadcast Mode = "broadcast"
)

// Значения по умолчанию.
const (
	DefaultBatchSize   = 10
	DefaultOverfetch   = 3
	DefaultSendTimeout = 30 * time.Second
)

// Config задаёт параметры доставки.
type Config struct {
	Mode          Mode
	OwnerTGUserID int64
	Group         domain.BroadcastGroup
	BatchSize     int
	Overfetch     int
	SendTimeout   time.Duration
}

// RecipientSource возвращает пользователей группы рассылки.
type RecipientSource interface {
	Recipients(ctx context.Context, group domain.BroadcastGroup) ([]domain.User, error)
}

// Engine выполняет циклы доставки.
type Engine struct {
	feed       domain.FeedRepo
	users      domain.UserRepo
	recipients RecipientSource
	pipeline   *Pipeline
	cfg        Config
	log        zerolog.Logger
	now        func() time.Time
}

// NewEngine создаёт движок доставки. В режиме владельца нужен OwnerTGUserID.
func NewEngine(feed domain.FeedRepo, users domain.UserRepo, recipients RecipientSource, pipeline *Pipeline, cfg Config, log zerolog.Logger) (*Engine, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeOwner
	}
	switch cfg.Mode {
	case ModeOwner:
		if cfg.OwnerTGUserID == 0 {
			return nil, domain.ErrMissingRecipient
		}
	case ModeBroadcast:
		if recipients == nil {
			return nil, errors.New("broadcast mode requires a recipient source")
		}
		if cfg.Group == "" {
			cfg.Group = domain.GroupAll
		}
	default:
		return nil, fmt.Errorf("unknown feed mode %q", cfg.Mode)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Overfetch <= 0 {
		cfg.Overfetch = DefaultOverfetch
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	return &Engine{
		feed:       feed,
		users:      users,
		recipients: recipients,
		pipeline:   pipeline,
		cfg:        cfg,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Result описывает итог доставки одному получателю.
type Result struct {
	Delivered   int
	SpamSkipped int
	Failed      int
}

// CycleStats хранит сводку по циклу.
type CycleStats struct {
	Recipients int
	Failed     int
	Delivered  int
}

// Run выполняет циклы доставки с паузой interval до отмены контекста.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	for {
		stats, err := e.RunCycle(ctx)
		switch {
		case err != nil && !errors.Is(err, context.Canceled):
			e.log.Error().Err(err).Msg("feed: цикл завершился ошибкой")
		case err == nil && stats.Delivered > 0:
			e.log.Info().Int("recipients", stats.Recipients).Int("delivered", stats.Delivered).Int("failed", stats.Failed).Msg("feed: цикл завершён")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// RunCycle доставляет посты всем получателям. Ошибка одного получателя не
// останавливает остальных.
func (e *Engine) RunCycle(ctx context.Context) (CycleStats, error) {
	users, err := e.resolveRecipients(ctx)
	if err != nil {
		return CycleStats{}, err
	}
	stats := CycleStats{Recipients: len(users)}
	for _, user := range users {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		res, err := e.DeliverTo(ctx, user)
		stats.Delivered += res.Delivered
		if err != nil {
			stats.Failed++
			e.log.Error().Err(err).Int64("tg_user_id", user.TGUserID).Msg("feed: ошибка доставки получателю")
		}
	}
	return stats, nil
}

func (e *Engine) resolveRecipients(ctx context.Context) ([]domain.User, error) {
	if e.cfg.Mode == ModeBroadcast {
		return e.recipients.Recipients(ctx, e.cfg.Group)
	}
	user, err := e.users.GetUser(ctx, e.cfg.OwnerTGUserID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("получение владельца: %w", err)
	}
	return []domain.User{user}, nil
}

// DeliverTo отправляет получателю очередную порцию неотправленных постов.
// Отправленные посты и пропущенная реклама отмечаются одним обновлением
// после всех попыток отправки.
func (e *Engine) DeliverTo(ctx context.Context, user domain.User) (Result, error) {
	var res Result
	if !user.ForwardingOn {
		return res, nil
	}
	opts := OptionsFor(user, user.IsVIP(e.now()))

	candidates, err := e.feed.ListUnsentPosts(ctx, user.TGUserID, e.cfg.BatchSize*e.cfg.Overfetch)
	if err != nil {
		return res, fmt.Errorf("получение неотправленных постов: %w", err)
	}
	if len(candidates) == 0 {
		return res, nil
	}

	var (
		batch   []domain.FeedPost
		skipped []int64
	)
	for _, post := range candidates {
		if len(batch) >= e.cfg.BatchSize {
			break
		}
		if e.pipeline.IsAd(post, opts) {
			skipped = append(skipped, post.ID)
			continue
		}
		batch = append(batch, post)
	}

	sent := make([]int64, 0, len(batch)+len(skipped))
	for _, post := range batch {
		if ctx.Err() != nil {
			break
		}
		if err := e.deliver(ctx, user.TGUserID, post, opts); err != nil {
			res.Failed++
			metrics.FeedSendErrors.Inc()
			e.log.Error().Err(err).Int64("tg_user_id", user.TGUserID).Int64("post_id", post.ID).Str("channel", post.ChannelUsername).Msg("feed: не удалось отправить пост")
			continue
		}
		sent = append(sent, post.ID)
	}
	res.Delivered = len(sent)
	res.SpamSkipped = len(skipped)
	sent = append(sent, skipped...)

	if len(sent) > 0 {
		// Контекст цикла мог быть отменён, но уже отправленное нужно отметить.
		markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.SendTimeout)
		defer cancel()
		if err := e.feed.MarkPostsSent(markCtx, sent); err != nil {
			return res, fmt.Errorf("отметка отправленных постов: %w", err)
		}
	}
	metrics.DeliveredPosts.Add(float64(res.Delivered))
	metrics.SpamSkippedPosts.Add(float64(res.SpamSkipped))
	if res.Delivered > 0 || res.SpamSkipped > 0 {
		e.log.Info().Int64("tg_user_id", user.TGUserID).Int("delivered", res.Delivered).Int("spam_skipped", res.SpamSkipped).Int("failed", res.Failed).Msg("feed: посты отправлены")
	}
	return res, nil
}

func (e *Engine) deliver(ctx context.Context, chatID int64, post domain.FeedPost, opts Options) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout)
	defer cancel()
	text := e.pipeline.Summarize(ctx, post, opts)
	return e.pipeline.Dispatch(ctx, chatID, Render(post, text))
}
