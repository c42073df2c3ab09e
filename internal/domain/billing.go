package domain

import (
	"context"
	"strings"
	"time"
)

// Money описывает сумму в минимальных единицах валюты.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// PlanID идентифицирует тариф VIP.
type PlanID string

const (
	Plan7Days   PlanID = "7d"
	Plan1Month  PlanID = "1m"
	Plan12Month PlanID = "12m"
)

// Tariff описывает стоимость и длительность тарифа VIP.
type Tariff struct {
	ID       PlanID
	Title    string
	Days     int
	PriceRUB int64
	Stars    int
}

// Price возвращает цену тарифа в копейках.
func (t Tariff) Price() Money {
	return Money{Amount: t.PriceRUB * 100, Currency: "RUB"}
}

var tariffs = []Tariff{
	{ID: Plan7Days, Title: "7 дней", Days: 7, PriceRUB: 199, Stars: 150},
	{ID: Plan1Month, Title: "1 месяц", Days: 30, PriceRUB: 399, Stars: 250},
	{ID: Plan12Month, Title: "12 месяцев", Days: 365, PriceRUB: 1499, Stars: 750},
}

// Tariffs возвращает список тарифов в порядке отображения.
func Tariffs() []Tariff {
	out := make([]Tariff, len(tariffs))
	copy(out, tariffs)
	return out
}

// TariffByID ищет тариф по идентификатору.
func TariffByID(id PlanID) (Tariff, error) {
	key := PlanID(strings.ToLower(strings.TrimSpace(string(id))))
	for _, t := range tariffs {
		if t.ID == key {
			return t, nil
		}
	}
	return Tariff{}, ErrUnknownPlan
}

// PaymentMethod описывает способ оплаты.
type PaymentMethod string

const (
	PaymentCard  PaymentMethod = "card"
	PaymentQR    PaymentMethod = "qr"
	PaymentStars PaymentMethod = "stars"
)

// ParsePaymentMethod разбирает способ оплаты.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch m := PaymentMethod(strings.ToLower(strings.TrimSpace(raw))); m {
	case PaymentCard, PaymentQR, PaymentStars:
		return m, nil
	}
	return "", ErrUnknownMethod
}

// PaymentStatus описывает состояние платёжного намерения.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

// PaymentIntent фиксирует намерение пользователя оплатить тариф выбранным способом.
type PaymentIntent struct {
	ID          string        `json:"id"`
	TGUserID    int64         `json:"tg_user_id"`
	Plan        PlanID        `json:"plan"`
	Method      PaymentMethod `json:"method"`
	Amount      Money         `json:"amount"`
	Status      PaymentStatus `json:"status"`
	ProviderRef string        `json:"provider_ref,omitempty"`
	PaymentLink string        `json:"payment_link,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	PaidAt      *time.Time    `json:"paid_at,omitempty"`
}

// PaymentProvider создаёт платёж у провайдера и проверяет его статус.
type PaymentProvider interface {
	Method() PaymentMethod
	Create(ctx context.Context, intent PaymentIntent, tariff Tariff) (PaymentIntent, error)
	Check(ctx context.Context, intent PaymentIntent) (PaymentStatus, error)
}

// PaymentRepo хранит платёжные намерения.
type PaymentRepo interface {
	CreatePaymentIntent(ctx context.Context, intent PaymentIntent) error
	GetPaymentIntent(ctx context.Context, id string) (PaymentIntent, error)
	UpdatePaymentProvider(ctx context.Context, id, providerRef, link string) error
	// MarkPaymentSucceeded переводит намерение из pending в succeeded.
	// Возвращает false, если намерение уже было подтверждено.
	MarkPaymentSucceeded(ctx context.Context, id, providerRef string, paidAt time.Time) (bool, error)
	MarkPaymentFailed(ctx context.Context, id string) error
	// ReopenPayment возвращает подтверждённое намерение в pending, если VIP не удалось продлить.
	ReopenPayment(ctx context.Context, id string) error
	FindPaymentByProviderRef(ctx context.Context, providerRef string) (PaymentIntent, error)
}
