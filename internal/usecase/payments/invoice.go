package payments

import (
	"context"

	"my-feed-bot/internal/domain"
)

// InvoiceProvider принимает оплату счётом Telegram (картой или звёздами).
// Счёт отправляет бот с payload равным id намерения; подтверждение приходит
// в successful_payment, поэтому статус у провайдера не запрашивается.
type InvoiceProvider struct {
	method domain.PaymentMethod
}

var _ domain.PaymentProvider = InvoiceProvider{}

// NewCardProvider создаёт провайдера оплаты картой через Telegram Payments.
func NewCardProvider() InvoiceProvider { return InvoiceProvider{method: domain.PaymentCard} }

// NewStarsProvider создаёт провайдера оплаты Telegram Stars.
func NewStarsProvider() InvoiceProvider { return InvoiceProvider{method: domain.PaymentStars} }

// Method возвращает способ оплаты.
func (p InvoiceProvider) Method() domain.PaymentMethod { return p.method }

// Create возвращает намерение без изменений.
func (p InvoiceProvider) Create(_ context.Context, intent domain.PaymentIntent, _ domain.Tariff) (domain.PaymentIntent, error) {
	return intent, nil
}

// Check всегда возвращает pending.
func (p InvoiceProvider) Check(context.Context, domain.PaymentIntent) (domain.PaymentStatus, error) {
	return domain.PaymentPending, nil
}
