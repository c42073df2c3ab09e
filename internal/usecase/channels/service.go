package channels

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/rs/zerolog"

	"my-feed-bot/internal/domain"
	"my-feed-bot/internal/usecase/entitlement"
)

var (
	handleRe = regexp.MustCompile(`@([a-zA-Z0-9_]{5,32})`)
	linkRe   = regexp.MustCompile(`(?:https?://)?(?:t\.me|telegram\.me)/([a-zA-Z0-9_]{5,32})`)
)

// Service управляет каналами пользователя.
type Service struct {
	users       domain.UserRepo
	channels    domain.ChannelRepo
	entitlement *entitlement.Service
	events      domain.BusinessMetricRepo
	log         zerolog.Logger
}

// NewService создаёт сервис каналов. events может быть nil.
func NewService(users domain.UserRepo, channels domain.ChannelRepo, ent *entitlement.Service, events domain.BusinessMetricRepo, log zerolog.Logger) *Service {
	return &Service{users: users, channels: channels, entitlement: ent, events: events, log: log}
}

// ExtractHandles находит в тексте @username и ссылки t.me и возвращает
// отсортированный список уникальных хэндлов в нижнем регистре.
func ExtractHandles(text string) []string {
	found := map[string]struct{}{}
	for _, re := range []*regexp.Regexp{handleRe, linkRe} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if handle, err := domain.NormalizeHandle("@" + m[1]); err == nil {
				found[handle] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(found))
	for h := range found {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// AddResult описывает итог добавления одного канала.
type AddResult struct {
	Channel domain.Channel
	Created bool
}

// Add подписывает пользователя на канал. Пользователь создаётся при первом обращении.
// При достижении лимита возвращает *domain.ChannelLimitError и ничего не меняет.
func (s *Service) Add(ctx context.Context, tgUserID int64, raw string) (AddResult, error) {
	handle, err := domain.NormalizeHandle(raw)
	if err != nil {
		return AddResult{}, err
	}
	user, _, err := s.users.EnsureUser(ctx, domain.UserProfile{TGUserID: tgUserID})
	if err != nil {
		return AddResult{}, fmt.Errorf("получение пользователя: %w", err)
	}
	existing, err := s.channels.ListChannels(ctx, tgUserID)
	if err != nil {
		return AddResult{}, fmt.Errorf("получение каналов: %w", err)
	}
	for _, ch := range existing {
		if ch.Username == handle {
			return AddResult{Channel: ch}, nil
		}
	}
	if err := s.entitlement.CheckChannelLimit(user, len(existing)); err != nil {
		return AddResult{}, err
	}
	ch, created, err := s.channels.AddChannel(ctx, tgUserID, handle)
	if err != nil {
		return AddResult{}, fmt.Errorf("сохранение канала: %w", err)
	}
	if created {
		s.record(ctx, domain.BusinessMetricEventChannelAdded, tgUserID, ch.ID)
		s.log.Info().Int64("tg_user_id", tgUserID).Str("channel", handle).Msg("channels: канал добавлен")
	}
	return AddResult{Channel: ch, Created: created}, nil
}

// BulkResult описывает итог добавления каналов из произвольного текста.
type BulkResult struct {
	Added        []string
	Already      []string
	Failed       []string
	LimitReached []string
	Limit        int
	Tier         domain.Tier
}

// AddFromText добавляет все найденные в тексте каналы по одному.
func (s *Service) AddFromText(ctx context.Context, tgUserID int64, text string) (BulkResult, error) {
	var res BulkResult
	handles := ExtractHandles(text)
	if len(handles) == 0 {
		return res, domain.ErrInvalidUsername
	}
	for _, h := range handles {
		added, err := s.Add(ctx, tgUserID, h)
		var limitErr *domain.ChannelLimitError
		switch {
		case errors.As(err, &limitErr):
			res.LimitReached = append(res.LimitReached, h)
			res.Limit, res.Tier = limitErr.Limit, limitErr.Tier
		case err != nil:
			s.log.Warn().Err(err).Str("channel", h).Msg("channels: не удалось добавить канал")
			res.Failed = append(res.Failed, h)
		case added.Created:
			res.Added = append(res.Added, h)
		default:
			res.Already = append(res.Already, h)
		}
	}
	return res, nil
}

// List возвращает каналы пользователя.
func (s *Service) List(ctx context.Context, tgUserID int64) ([]domain.Channel, error) {
	chs, err := s.channels.ListChannels(ctx, tgUserID)
	if err != nil {
		return nil, fmt.Errorf("получение каналов: %w", err)
	}
	return chs, nil
}

// Delete отписывает пользователя от канала. Возвращает domain.ErrUserNotFound
// или domain.ErrChannelNotFound, если удалять нечего.
func (s *Service) Delete(ctx context.Context, tgUserID int64, raw string) error {
	handle, err := domain.NormalizeHandle(raw)
	if err != nil {
		return err
	}
	if _, err := s.users.GetUser(ctx, tgUserID); err != nil {
		return err
	}
	deleted, err := s.channels.DeleteChannel(ctx, tgUserID, handle)
	if err != nil {
		return fmt.Errorf("удаление канала: %w", err)
	}
	if !deleted {
		return domain.ErrChannelNotFound
	}
	s.record(ctx, domain.BusinessMetricEventChannelDeleted, tgUserID, 0)
	return nil
}

// DeleteAll отписывает пользователя от всех каналов.
func (s *Service) DeleteAll(ctx context.Context, tgUserID int64) (int64, error) {
	if _, err := s.users.GetUser(ctx, tgUserID); err != nil {
		return 0, err
	}
	n, err := s.channels.DeleteAllChannels(ctx, tgUserID)
	if err != nil {
		return 0, fmt.Errorf("удаление каналов: %w", err)
	}
	if n > 0 {
		s.record(ctx, domain.BusinessMetricEventChannelDeleted, tgUserID, 0)
	}
	return n, nil
}

func (s *Service) record(ctx context.Context, event string, tgUserID, channelID int64) {
	if s.events == nil {
		return
	}
	m := domain.BusinessMetric{Event: event, TGUserID: &tgUserID, OccurredAt: s.entitlement.Now()}
	if channelID > 0 {
		m.ChannelID = &channelID
	}
	if err := s.events.RecordBusinessMetric(ctx, m); err != nil {
		s.log.Warn().Err(err).Str("event", event).Msg("channels: не удалось записать событие")
	}
}
