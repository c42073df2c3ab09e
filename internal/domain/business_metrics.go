package domain

import (
	"context"
	"time"
)

// BusinessMetric описывает бизнесовое событие, которое сохраняется для последующего анализа.
type BusinessMetric struct {
	Event      string
	TGUserID   *int64
	ChannelID  *int64
	Metadata   map[string]any
	OccurredAt time.Time
}

const (
	// BusinessMetricEventUserRegistered фиксирует первый запуск бота пользователем.
	BusinessMetricEventUserRegistered = "user_registered"
	// BusinessMetricEventChannelAdded фиксирует подписку на канал.
	BusinessMetricEventChannelAdded = "channel_added"
	// BusinessMetricEventChannelDeleted фиксирует отписку от канала.
	BusinessMetricEventChannelDeleted = "channel_deleted"
	// BusinessMetricEventTrialGranted фиксирует выдачу пробного VIP.
	BusinessMetricEventTrialGranted = "trial_granted"
	// BusinessMetricEventVIPExtended фиксирует продление VIP.
	BusinessMetricEventVIPExtended = "vip_extended"
	// BusinessMetricEventVIPRevoked фиксирует отзыв VIP.
	BusinessMetricEventVIPRevoked = "vip_revoked"
	// BusinessMetricEventPaymentSucceeded фиксирует подтверждённую оплату.
	BusinessMetricEventPaymentSucceeded = "payment_succeeded"
	// BusinessMetricEventDigestRequested фиксирует постановку сводки в очередь.
	BusinessMetricEventDigestRequested = "digest_requested"
	// BusinessMetricEventDigestDelivered фиксирует доставку сводки.
	BusinessMetricEventDigestDelivered = "digest_delivered"
)

// BusinessMetricRepo сохраняет бизнесовые события.
type BusinessMetricRepo interface {
	RecordBusinessMetric(ctx context.Context, metric BusinessMetric) error
}
