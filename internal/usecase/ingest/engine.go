package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"my-feed-bot/internal/domain"
	"my-feed-bot/internal/infra/metrics"
)

// DefaultFetchLimit ограничивает число последних сообщений канала, читаемых за цикл.
const DefaultFetchLimit = 10

// Config задаёт параметры сбора.
type Config struct {
	FetchLimit int
	// OwnerTGUserID ограничивает сбор каналами одного пользователя; 0 означает всех.
	OwnerTGUserID int64
}

// Engine собирает новые сообщения каналов и сохраняет их постами.
type Engine struct {
	store  domain.IngestStore
	source domain.MessageSource
	media  domain.MediaStore
	cfg    Config
	log    zerolog.Logger
}

// NewEngine создаёт движок сбора.
func NewEngine(store domain.IngestStore, source domain.MessageSource, media domain.MediaStore, cfg Config, log zerolog.Logger) *Engine {
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = DefaultFetchLimit
	}
	return &Engine{store: store, source: source, media: media, cfg: cfg, log: log}
}

// ChannelResult описывает итог обработки канала за цикл.
type ChannelResult struct {
	Baseline bool
	Cursor   int64
	New      int
	Inserted int
}

// CycleStats хранит сводку по циклу.
type CycleStats struct {
	Channels int
	Failed   int
	Inserted int
}

// Run выполняет циклы сбора с паузой interval до отмены контекста.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	for {
		stats, err := e.RunCycle(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			e.log.Error().Err(err).Msg("collector: цикл завершился ошибкой")
		} else if err == nil {
			e.log.Debug().Int("channels", stats.Channels).Int("failed", stats.Failed).Int("inserted", stats.Inserted).Msg("collector: цикл завершён")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// RunCycle обходит все каналы. Ошибка одного канала не прерывает обход.
func (e *Engine) RunCycle(ctx context.Context) (CycleStats, error) {
	start := time.Now()
	defer func() { metrics.CollectorCycleSeconds.Observe(time.Since(start).Seconds()) }()

	channels, err := e.store.ListCollectChannels(ctx, e.cfg.OwnerTGUserID)
	if err != nil {
		return CycleStats{}, fmt.Errorf("получение каналов: %w", err)
	}
	stats := CycleStats{Channels: len(channels)}
	for _, ch := range channels {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		res, err := e.CollectChannel(ctx, ch)
		if err != nil {
			stats.Failed++
			metrics.CollectorErrors.Inc()
			e.log.Error().Err(err).Int64("tg_user_id", ch.TGUserID).Str("channel", ch.Username).Msg("collector: ошибка обработки канала")
			continue
		}
		stats.Inserted += res.Inserted
	}
	return stats, nil
}

// CollectChannel выполняет один шаг сбора для канала. При первом наблюдении
// курсор ставится на самое новое сообщение без сохранения постов.
// Курсор двигается только после того, как все новые посты сохранены.
func (e *Engine) CollectChannel(ctx context.Context, ch domain.Channel) (ChannelResult, error) {
	src, err := e.source.ResolveChannel(ctx, ch.Username)
	if err != nil {
		return ChannelResult{}, fmt.Errorf("поиск канала %s: %w", ch.Username, err)
	}
	if src.Title != "" && src.Title != ch.Title {
		if err := e.store.SetChannelTitle(ctx, ch.TGUserID, ch.Username, src.Title); err != nil {
			e.log.Warn().Err(err).Str("channel", ch.Username).Msg("collector: не удалось обновить название")
		}
	}

	cursor, err := e.store.GetCursor(ctx, ch.TGUserID, ch.Username)
	if err != nil {
		return ChannelResult{}, fmt.Errorf("чтение курсора: %w", err)
	}
	msgs, err := e.source.RecentMessages(ctx, src, e.cfg.FetchLimit)
	if err != nil {
		return ChannelResult{}, fmt.Errorf("чтение сообщений: %w", err)
	}
	newest := maxID(msgs)
	if newest == 0 {
		return ChannelResult{}, nil
	}

	if cursor == nil {
		if err := e.store.SetCursor(ctx, ch.TGUserID, ch.Username, newest); err != nil {
			return ChannelResult{}, fmt.Errorf("установка базового курсора: %w", err)
		}
		metrics.IngestBaselines.Inc()
		e.log.Info().Str("channel", ch.Username).Int64("cursor", newest).Msg("collector: базовый курсор установлен, история не загружается")
		return ChannelResult{Baseline: true, Cursor: newest}, nil
	}

	fresh := newerThan(msgs, *cursor)
	if len(fresh) == 0 {
		return ChannelResult{Cursor: *cursor}, nil
	}

	res := ChannelResult{Cursor: *cursor, New: len(fresh)}
	groups, singles := partition(fresh)
	for _, group := range groups {
		post, ok := e.groupPost(ctx, ch, group)
		if !ok {
			continue
		}
		inserted, err := e.store.InsertPost(ctx, post)
		if err != nil {
			return res, fmt.Errorf("сохранение альбома %d: %w", post.TGMessageID, err)
		}
		if inserted {
			res.Inserted++
		}
	}
	for _, m := range singles {
		inserted, err := e.store.InsertPost(ctx, e.singlePost(ctx, ch, m))
		if err != nil {
			return res, fmt.Errorf("сохранение сообщения %d: %w", m.ID, err)
		}
		if inserted {
			res.Inserted++
		}
	}

	last := maxID(fresh)
	if err := e.store.SetCursor(ctx, ch.TGUserID, ch.Username, last); err != nil {
		return res, fmt.Errorf("сдвиг курсора: %w", err)
	}
	res.Cursor = last
	metrics.IngestedPosts.Add(float64(res.Inserted))
	e.log.Info().Str("channel", ch.Username).Int("new", res.New).Int("inserted", res.Inserted).Int64("cursor", last).Msg("collector: новые посты")
	return res, nil
}

// groupPost склеивает альбом в один пост с id последнего сообщения.
// Альбом без единого скачанного файла пропускается.
func (e *Engine) groupPost(ctx context.Context, ch domain.Channel, items []domain.SourceMessage) (domain.Post, bool) {
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	groupID := items[0].GroupID
	var (
		caption string
		paths   []string
	)
	for idx, item := range items {
		if text := strings.TrimSpace(item.Text); text != "" {
			caption = text
		}
		if item.Media == nil {
			continue
		}
		if _, _, ok := item.Media.Kind(); !ok {
			continue
		}
		name := fmt.Sprintf("%d_g%d_%d%s", item.ID, groupID, idx+1, item.Media.Ext)
		if path, ok := e.download(ctx, ch, *item.Media, name); ok {
			paths = append(paths, path)
		}
	}
	if len(paths) == 0 {
		e.log.Warn().Str("channel", ch.Username).Int64("group_id", groupID).Msg("collector: альбом пропущен, ни один файл не скачан")
		return domain.Post{}, false
	}
	last := items[len(items)-1]
	gid := groupID
	return domain.Post{
		ChannelID:    ch.ID,
		TGMessageID:  last.ID,
		Text:         caption,
		MediaType:    domain.MediaMediaGroup,
		MediaPaths:   paths,
		MediaGroupID: &gid,
		PublishedAt:  last.Date.UTC(),
	}, true
}

func (e *Engine) singlePost(ctx context.Context, ch domain.Channel, m domain.SourceMessage) domain.Post {
	post := domain.Post{
		ChannelID:   ch.ID,
		TGMessageID: m.ID,
		Text:        strings.TrimSpace(m.Text),
		PublishedAt: m.Date.UTC(),
	}
	if m.Media == nil {
		return post
	}
	kind, suffix, ok := m.Media.Kind()
	if !ok {
		return post
	}
	post.MediaType = kind
	name := fmt.Sprintf("%d_%s%s", m.ID, suffix, m.Media.Ext)
	if path, ok := e.download(ctx, ch, *m.Media, name); ok {
		post.MediaPaths = []string{path}
	}
	return post
}

func (e *Engine) download(ctx context.Context, ch domain.Channel, media domain.SourceMedia, name string) (string, bool) {
	if e.media == nil {
		return "", false
	}
	path, err := e.media.Path(ch.Username, name)
	if err != nil {
		e.log.Warn().Err(err).Str("channel", ch.Username).Msg("collector: не удалось подготовить каталог")
		return "", false
	}
	if err := e.source.DownloadMedia(ctx, media, path); err != nil {
		e.log.Warn().Err(err).Str("channel", ch.Username).Str("file", name).Msg("collector: не удалось скачать вложение")
		_ = e.media.Remove(path)
		return "", false
	}
	return path, true
}

func maxID(msgs []domain.SourceMessage) int64 {
	var newest int64
	for _, m := range msgs {
		if m.ID > newest {
			newest = m.ID
		}
	}
	return newest
}

func newerThan(msgs []domain.SourceMessage, cursor int64) []domain.SourceMessage {
	out := make([]domain.SourceMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.ID > cursor {
			out = append(out, m)
		}
	}
	return out
}

// partition делит сообщения на альбомы (в порядке первого появления) и одиночные.
func partition(msgs []domain.SourceMessage) ([][]domain.SourceMessage, []domain.SourceMessage) {
	var (
		order   []int64
		groups  = map[int64][]domain.SourceMessage{}
		singles []domain.SourceMessage
	)
	for _, m := range msgs {
		if m.GroupID == 0 {
			singles = append(singles, m)
			continue
		}
		if _, ok := groups[m.GroupID]; !ok {
			order = append(order, m.GroupID)
		}
		groups[m.GroupID] = append(groups[m.GroupID], m)
	}
	out := make([][]domain.SourceMessage, 0, len(order))
	for _, id := range order {
		out = append(out, groups[id])
	}
	return out, singles
}
