package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"my-feed-bot/internal/domain"
	"my-feed-bot/internal/infra/metrics"
)

// Service управляет VIP-статусом, пробным периодом и лимитами каналов.
type Service struct {
	users     domain.UserRepo
	events    domain.BusinessMetricRepo
	limits    domain.TierLimits
	trialDays int
	log       zerolog.Logger
	now       func() time.Time
}

// NewService создаёт сервис. events может быть nil.
func NewService(users domain.UserRepo, events domain.BusinessMetricRepo, limits domain.TierLimits, trialDays int, log zerolog.Logger) *Service {
	return &Service{
		users:     users,
		events:    events,
		limits:    limits,
		trialDays: trialDays,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Limits возвращает лимиты тарифов.
func (s *Service) Limits() domain.TierLimits { return s.limits }

// Now возвращает текущее время сервиса.
func (s *Service) Now() time.Time { return s.now() }

// Extend продлевает VIP на days дней от max(vip_until, now).
func (s *Service) Extend(ctx context.Context, tgUserID int64, days int, source string) (time.Time, error) {
	if days <= 0 {
		return time.Time{}, domain.ErrInvalidDays
	}
	user, err := s.users.GetUser(ctx, tgUserID)
	if err != nil {
		return time.Time{}, fmt.Errorf("получение пользователя: %w", err)
	}
	until, err := domain.ExtendVIP(user.VIPUntil, s.now(), days)
	if err != nil {
		return time.Time{}, err
	}
	if err := s.users.SetVIPUntil(ctx, tgUserID, &until); err != nil {
		return time.Time{}, fmt.Errorf("сохранение vip_until: %w", err)
	}
	metrics.VIPExtensions.WithLabelValues(source).Inc()
	s.record(ctx, domain.BusinessMetricEventVIPExtended, tgUserID, map[string]any{"days": days, "source": source, "vip_until": until})
	s.log.Info().Int64("tg_user_id", tgUserID).Int("days", days).Str("source", source).Time("vip_until", until).Msg("entitlement: VIP продлён")
	return until, nil
}

// GrantForever выдаёт бессрочный VIP.
func (s *Service) GrantForever(ctx context.Context, tgUserID int64, source string) (time.Time, error) {
	if _, err := s.users.GetUser(ctx, tgUserID); err != nil {
		return time.Time{}, fmt.Errorf("получение пользователя: %w", err)
	}
	until := domain.VIPForever
	if err := s.users.SetVIPUntil(ctx, tgUserID, &until); err != nil {
		return time.Time{}, fmt.Errorf("сохранение vip_until: %w", err)
	}
	metrics.VIPExtensions.WithLabelValues(source).Inc()
	s.record(ctx, domain.BusinessMetricEventVIPExtended, tgUserID, map[string]any{"forever": true, "source": source})
	s.log.Info().Int64("tg_user_id", tgUserID).Str("source", source).Msg("entitlement: выдан бессрочный VIP")
	return until, nil
}

// Revoke снимает VIP независимо от текущего состояния.
func (s *Service) Revoke(ctx context.Context, tgUserID int64) error {
	if err := s.users.SetVIPUntil(ctx, tgUserID, nil); err != nil {
		return fmt.Errorf("снятие VIP: %w", err)
	}
	s.record(ctx, domain.BusinessMetricEventVIPRevoked, tgUserID, nil)
	s.log.Info().Int64("tg_user_id", tgUserID).Msg("entitlement: VIP снят")
	return nil
}

// StartResult описывает итог первого запуска.
type StartResult struct {
	User         domain.User
	Created      bool
	TrialGranted bool
	// ShowWelcome истинно только при первом показе приветствия.
	ShowWelcome bool
}

// FirstStart регистрирует пользователя, один раз выдаёт пробный VIP и
// один раз сообщает, что пора показать приветствие.
func (s *Service) FirstStart(ctx context.Context, profile domain.UserProfile) (StartResult, error) {
	user, created, err := s.users.EnsureUser(ctx, profile)
	if err != nil {
		return StartResult{}, fmt.Errorf("регистрация пользователя: %w", err)
	}
	res := StartResult{User: user, Created: created}
	if created {
		s.record(ctx, domain.BusinessMetricEventUserRegistered, profile.TGUserID, nil)
	}

	if !user.TrialVIPGranted && s.trialDays > 0 {
		until, err := domain.ExtendVIP(user.VIPUntil, s.now(), s.trialDays)
		if err != nil {
			return res, err
		}
		granted, err := s.users.GrantTrial(ctx, profile.TGUserID, until)
		if err != nil {
			return res, fmt.Errorf("выдача пробного VIP: %w", err)
		}
		if granted {
			res.TrialGranted = true
			res.User.TrialVIPGranted = true
			res.User.VIPUntil = &until
			metrics.VIPExtensions.WithLabelValues("trial").Inc()
			s.record(ctx, domain.BusinessMetricEventTrialGranted, profile.TGUserID, map[string]any{"days": s.trialDays})
		}
	}

	if !user.WelcomeSent {
		first, err := s.users.MarkWelcomeSent(ctx, profile.TGUserID)
		if err != nil {
			return res, fmt.Errorf("отметка приветствия: %w", err)
		}
		res.ShowWelcome = first
		res.User.WelcomeSent = true
	}
	return res, nil
}

// CheckChannelLimit возвращает *domain.ChannelLimitError, если у пользователя
// уже count каналов при лимите его тарифа.
func (s *Service) CheckChannelLimit(user domain.User, count int) error {
	plan := s.limits.Plan(user.Tier(s.now()))
	if plan.ChannelLimit > 0 && count >= plan.ChannelLimit {
		return &domain.ChannelLimitError{Limit: plan.ChannelLimit, Tier: plan.Tier}
	}
	return nil
}

// SetToggle переключает функцию пользователя. VIP-функции нельзя включить без VIP.
func (s *Service) SetToggle(ctx context.Context, tgUserID int64, toggle domain.Toggle, on bool) error {
	if !toggle.Valid() {
		return fmt.Errorf("неизвестный переключатель %q", toggle)
	}
	if on && toggle.RequiresVIP() {
		user, err := s.users.GetUser(ctx, tgUserID)
		if err != nil {
			return fmt.Errorf("получение пользователя: %w", err)
		}
		if !user.IsVIP(s.now()) {
			return domain.ErrVIPRequired
		}
	}
	if err := s.users.SetToggle(ctx, tgUserID, toggle, on); err != nil {
		return fmt.Errorf("сохранение %s: %w", toggle, err)
	}
	return nil
}

// Recipients возвращает пользователей группы рассылки.
func (s *Service) Recipients(ctx context.Context, group domain.BroadcastGroup) ([]domain.User, error) {
	users, err := s.users.ListUsersByGroup(ctx, group, s.now())
	if err != nil {
		return nil, fmt.Errorf("получение группы %s: %w", group, err)
	}
	return users, nil
}

// Status возвращает пользователя и его тарифный план.
func (s *Service) Status(ctx context.Context, tgUserID int64) (domain.User, domain.TierPlan, error) {
	user, err := s.users.GetUser(ctx, tgUserID)
	if err != nil {
		return domain.User{}, domain.TierPlan{}, err
	}
	return user, s.limits.Plan(user.Tier(s.now())), nil
}

func (s *Service) record(ctx context.Context, event string, tgUserID int64, meta map[string]any) {
	if s.events == nil {
		return
	}
	id := tgUserID
	err := s.events.RecordBusinessMetric(ctx, domain.BusinessMetric{Event: event, TGUserID: &id, Metadata: meta, OccurredAt: s.now()})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn().Err(err).Str("event", event).Msg("entitlement: не удалось записать событие")
	}
}
