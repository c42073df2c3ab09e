// Package payments ведёт платёжные намерения и продлевает VIP после оплаты.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"my-feed-bot/internal/domain"
	"my-feed-bot/internal/infra/metrics"
)

// StarsCurrency обозначает валюту Telegram Stars.
const StarsCurrency = "XTR"

// notificationTTL задаёт, сколько помнить обработанные уведомления банка.
const notificationTTL = 7 * 24 * time.Hour

const reopenTimeout = 5 * time.Second

// ErrAmountMismatch возвращается, когда сумма оплаты не совпадает с намерением.
var ErrAmountMismatch = errors.New("payment amount mismatch")

// ErrNotPending возвращается, когда намерение уже подтверждено или отменено.
var ErrNotPending = errors.New("payment is not pending")

// Extender продлевает VIP после оплаты.
type Extender interface {
	Extend(ctx context.Context, tgUserID int64, days int, source string) (time.Time, error)
}

// Service создаёт намерения и подтверждает их.
type Service struct {
	repo      domain.PaymentRepo
	extender  Extender
	providers map[domain.PaymentMethod]domain.PaymentProvider
	events    domain.BusinessMetricRepo
	dedup     domain.Cache
	log       zerolog.Logger
	now       func() time.Time
}

// Option настраивает сервис.
type Option func(*Service)

// WithEvents сохраняет события об оплате.
func WithEvents(events domain.BusinessMetricRepo) Option {
	return func(s *Service) { s.events = events }
}

// WithNotificationDedup отбрасывает повторные уведомления банка по operation id.
func WithNotificationDedup(cache domain.Cache) Option {
	return func(s *Service) { s.dedup = cache }
}

// WithProvider регистрирует провайдера способа оплаты.
func WithProvider(p domain.PaymentProvider) Option {
	return func(s *Service) { s.providers[p.Method()] = p }
}

// NewService создаёт сервис платежей.
func NewService(repo domain.PaymentRepo, extender Extender, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		extender:  extender,
		providers: map[domain.PaymentMethod]domain.PaymentProvider{},
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Methods возвращает доступные способы оплаты в порядке отображения.
func (s *Service) Methods() []domain.PaymentMethod {
	var out []domain.PaymentMethod
	for _, m := range []domain.PaymentMethod{domain.PaymentCard, domain.PaymentQR, domain.PaymentStars} {
		if _, ok := s.providers[m]; ok {
			out = append(out, m)
		}
	}
	return out
}

// Price возвращает сумму тарифа для способа оплаты.
func Price(tariff domain.Tariff, method domain.PaymentMethod) domain.Money {
	if method == domain.PaymentStars {
		return domain.Money{Amount: int64(tariff.Stars), Currency: StarsCurrency}
	}
	return tariff.Price()
}

// CreateIntent сохраняет намерение и создаёт платёж у провайдера.
func (s *Service) CreateIntent(ctx context.Context, tgUserID int64, plan domain.PlanID, method domain.PaymentMethod) (domain.PaymentIntent, error) {
	tariff, err := domain.TariffByID(plan)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	provider, ok := s.providers[method]
	if !ok {
		return domain.PaymentIntent{}, domain.ErrUnknownMethod
	}
	now := s.now()
	intent := domain.PaymentIntent{
		ID:        uuid.NewString(),
		TGUserID:  tgUserID,
		Plan:      tariff.ID,
		Method:    method,
		Amount:    Price(tariff, method),
		Status:    domain.PaymentPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreatePaymentIntent(ctx, intent); err != nil {
		return domain.PaymentIntent{}, fmt.Errorf("сохранение намерения: %w", err)
	}

	created, err := provider.Create(ctx, intent, tariff)
	if err != nil {
		if markErr := s.repo.MarkPaymentFailed(ctx, intent.ID); markErr != nil {
			s.log.Warn().Err(markErr).Str("intent_id", intent.ID).Msg("payments: не удалось отменить намерение")
		}
		metrics.Payments.WithLabelValues(string(method), string(domain.PaymentFailed)).Inc()
		return domain.PaymentIntent{}, fmt.Errorf("создание платежа: %w", err)
	}
	if created.ProviderRef != "" || created.PaymentLink != "" {
		if err := s.repo.UpdatePaymentProvider(ctx, intent.ID, created.ProviderRef, created.PaymentLink); err != nil {
			return domain.PaymentIntent{}, fmt.Errorf("сохранение данных провайдера: %w", err)
		}
	}
	metrics.Payments.WithLabelValues(string(method), string(domain.PaymentPending)).Inc()
	s.log.Info().Int64("tg_user_id", tgUserID).Str("intent_id", intent.ID).Str("plan", string(tariff.ID)).Str("method", string(method)).Msg("payments: создано намерение")
	return created, nil
}

// ConfirmResult описывает итог подтверждения оплаты.
type ConfirmResult struct {
	Intent domain.PaymentIntent
	// Extended истинно только для первого подтверждения.
	Extended bool
	VIPUntil time.Time
}

// Confirm отмечает намерение оплаченным. VIP продлевается только при первом подтверждении.
func (s *Service) Confirm(ctx context.Context, intentID, providerRef string) (ConfirmResult, error) {
	intent, err := s.repo.GetPaymentIntent(ctx, intentID)
	if err != nil {
		return ConfirmResult{}, fmt.Errorf("получение намерения: %w", err)
	}
	tariff, err := domain.TariffByID(intent.Plan)
	if err != nil {
		return ConfirmResult{Intent: intent}, err
	}
	paidAt := s.now()
	flipped, err := s.repo.MarkPaymentSucceeded(ctx, intent.ID, providerRef, paidAt)
	if err != nil {
		return ConfirmResult{Intent: intent}, fmt.Errorf("подтверждение оплаты: %w", err)
	}
	if !flipped {
		s.log.Info().Str("intent_id", intent.ID).Msg("payments: повторное подтверждение проигнорировано")
		current, err := s.repo.GetPaymentIntent(ctx, intent.ID)
		if err != nil {
			return ConfirmResult{Intent: intent}, nil
		}
		return ConfirmResult{Intent: current}, nil
	}

	intent.Status = domain.PaymentSucceeded
	intent.PaidAt = &paidAt
	if providerRef != "" {
		intent.ProviderRef = providerRef
	}
	until, err := s.extender.Extend(ctx, intent.TGUserID, tariff.Days, "payment_"+string(intent.Method))
	if err != nil {
		// Повторное подтверждение должно снова дойти до продления.
		reopenCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reopenTimeout)
		defer cancel()
		if rerr := s.repo.ReopenPayment(reopenCtx, intent.ID); rerr != nil {
			s.log.Error().Err(rerr).Str("intent_id", intent.ID).Msg("payments: не удалось вернуть намерение в pending")
		}
		intent.Status = domain.PaymentPending
		intent.PaidAt = nil
		return ConfirmResult{Intent: intent}, fmt.Errorf("продление VIP: %w", err)
	}
	metrics.Payments.WithLabelValues(string(intent.Method), string(domain.PaymentSucceeded)).Inc()
	s.record(ctx, intent)
	s.log.Info().Int64("tg_user_id", intent.TGUserID).Str("intent_id", intent.ID).Time("vip_until", until).Msg("payments: оплата подтверждена")
	return ConfirmResult{Intent: intent, Extended: true, VIPUntil: until}, nil
}

// Check запрашивает статус у провайдера и подтверждает оплаченное намерение.
func (s *Service) Check(ctx context.Context, intentID string) (ConfirmResult, error) {
	intent, err := s.repo.GetPaymentIntent(ctx, intentID)
	if err != nil {
		return ConfirmResult{}, fmt.Errorf("получение намерения: %w", err)
	}
	if intent.Status != domain.PaymentPending {
		return ConfirmResult{Intent: intent}, nil
	}
	provider, ok := s.providers[intent.Method]
	if !ok {
		return ConfirmResult{Intent: intent}, domain.ErrUnknownMethod
	}
	status, err := provider.Check(ctx, intent)
	if err != nil {
		return ConfirmResult{Intent: intent}, fmt.Errorf("проверка статуса: %w", err)
	}
	switch status {
	case domain.PaymentSucceeded:
		return s.Confirm(ctx, intent.ID, intent.ProviderRef)
	case domain.PaymentFailed:
		if err := s.repo.MarkPaymentFailed(ctx, intent.ID); err != nil {
			return ConfirmResult{Intent: intent}, fmt.Errorf("отметка отказа: %w", err)
		}
		metrics.Payments.WithLabelValues(string(intent.Method), string(domain.PaymentFailed)).Inc()
		intent.Status = domain.PaymentFailed
	}
	return ConfirmResult{Intent: intent}, nil
}

// ValidateInvoice проверяет намерение перед списанием средств (pre_checkout).
func (s *Service) ValidateInvoice(ctx context.Context, intentID string, amount int64, currency string) (domain.PaymentIntent, error) {
	intent, err := s.repo.GetPaymentIntent(ctx, intentID)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	if intent.Status != domain.PaymentPending {
		return intent, ErrNotPending
	}
	if intent.Amount.Amount != amount || !strings.EqualFold(intent.Amount.Currency, currency) {
		return intent, ErrAmountMismatch
	}
	return intent, nil
}

// HandleSBPNotification подтверждает намерение по уведомлению банка об оплате QR.
// Повторные уведомления с тем же operation id не обрабатываются.
func (s *Service) HandleSBPNotification(ctx context.Context, n domain.SBPPaymentNotification) (ConfirmResult, error) {
	if n.QRID == "" {
		return ConfirmResult{}, fmt.Errorf("уведомление без qrc id")
	}
	var res ConfirmResult
	handle := func() error {
		intent, err := s.repo.FindPaymentByProviderRef(ctx, n.QRID)
		if err != nil {
			return fmt.Errorf("поиск намерения по QR %s: %w", n.QRID, err)
		}
		if n.Amount.Amount > 0 && n.Amount.Amount != intent.Amount.Amount {
			res.Intent = intent
			return fmt.Errorf("%w: ожидалось %d, получено %d", ErrAmountMismatch, intent.Amount.Amount, n.Amount.Amount)
		}
		res, err = s.Confirm(ctx, intent.ID, n.QRID)
		return err
	}
	if s.dedup == nil || n.OperationID == "" {
		return res, handle()
	}
	err := s.dedup.Once(ctx, "sbp:"+n.OperationID, notificationTTL, handle)
	return res, err
}

func (s *Service) record(ctx context.Context, intent domain.PaymentIntent) {
	if s.events == nil {
		return
	}
	id := intent.TGUserID
	err := s.events.RecordBusinessMetric(ctx, domain.BusinessMetric{
		Event:    domain.BusinessMetricEventPaymentSucceeded,
		TGUserID: &id,
		Metadata: map[string]any{
			"intent_id": intent.ID,
			"plan":      intent.Plan,
			"method":    intent.Method,
			"amount":    intent.Amount.Amount,
			"currency":  intent.Amount.Currency,
		},
		OccurredAt: s.now(),
	})
	if err != nil {
		s.log.Warn().Err(err).Str("intent_id", intent.ID).Msg("payments: не удалось записать событие")
	}
}
