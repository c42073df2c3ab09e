package tochka

import (
	"context"
	"fmt"

	"my-feed-bot/internal/domain"
)

// Provider выпускает QR СБП под платёжное намерение.
type Provider struct {
	client *Client
}

var _ domain.PaymentProvider = (*Provider)(nil)

// NewProvider создаёт провайдера оплаты по QR.
func NewProvider(client *Client) *Provider {
	return &Provider{client: client}
}

// Method возвращает способ оплаты qr.
func (p *Provider) Method() domain.PaymentMethod { return domain.PaymentQR }

// Create регистрирует QR. Ключ идемпотентности совпадает с id намерения.
func (p *Provider) Create(ctx context.Context, intent domain.PaymentIntent, tariff domain.Tariff) (domain.PaymentIntent, error) {
	qr, err := p.client.RegisterQRCode(ctx, RegisterQRCodeRequest{
		Amount:         intent.Amount,
		OrderID:        intent.ID,
		Description:    "VIP " + tariff.Title,
		PaymentPurpose: fmt.Sprintf("Оплата VIP %s, заказ %s", tariff.Title, intent.ID),
		IdempotencyKey: intent.ID,
	})
	if err != nil {
		return intent, fmt.Errorf("выпуск QR: %w", err)
	}
	intent.ProviderRef = qr.QRID
	intent.PaymentLink = qr.PaymentLink
	return intent, nil
}

// Check спрашивает у банка статус оплаты по QR намерения.
func (p *Provider) Check(ctx context.Context, intent domain.PaymentIntent) (domain.PaymentStatus, error) {
	if intent.ProviderRef == "" {
		return domain.PaymentPending, nil
	}
	status, err := p.client.PaymentStatus(ctx, intent.ProviderRef)
	if err != nil {
		return "", fmt.Errorf("статус QR: %w", err)
	}
	return status, nil
}
