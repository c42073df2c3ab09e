package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"my-feed-bot/internal/domain"
	"my-feed-bot/internal/infra/metrics"
)

const paymentColumns = `id, tg_user_id, plan, method, amount, currency, status,
COALESCE(provider_ref, ''), COALESCE(payment_link, ''), created_at, updated_at, paid_at`

func scanPayment(row pgx.Row) (domain.PaymentIntent, error) {
	var (
		pi     domain.PaymentIntent
		plan   string
		method string
		status string
		paidAt sql.NullTime
	)
	err := row.Scan(&pi.ID, &pi.TGUserID, &plan, &method, &pi.Amount.Amount, &pi.Amount.Currency, &status,
		&pi.ProviderRef, &pi.PaymentLink, &pi.CreatedAt, &pi.UpdatedAt, &paidAt)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	pi.Plan = domain.PlanID(plan)
	pi.Method = domain.PaymentMethod(method)
	pi.Status = domain.PaymentStatus(status)
	if paidAt.Valid {
		t := paidAt.Time
		pi.PaidAt = &t
	}
	return pi, nil
}

// CreatePaymentIntent сохраняет новое платёжное намерение.
func (p *Postgres) CreatePaymentIntent(ctx context.Context, intent domain.PaymentIntent) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO payment_intents (id, tg_user_id, plan, method, amount, currency, status)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, intent.ID, intent.TGUserID, string(intent.Plan), string(intent.Method),
		intent.Amount.Amount, intent.Amount.Currency, string(domain.PaymentPending))
	metrics.ObserveNetworkRequest("postgres", "payment_intents_insert", "payment_intents", start, err)
	return err
}

// GetPaymentIntent возвращает намерение по идентификатору.
func (p *Postgres) GetPaymentIntent(ctx context.Context, id string) (domain.PaymentIntent, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	pi, err := scanPayment(p.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payment_intents WHERE id = $1`, id))
	metrics.ObserveNetworkRequest("postgres", "payment_intents_get", "payment_intents", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PaymentIntent{}, domain.ErrPaymentNotFound
	}
	return pi, err
}

// FindPaymentByProviderRef ищет намерение по идентификатору у провайдера.
func (p *Postgres) FindPaymentByProviderRef(ctx context.Context, providerRef string) (domain.PaymentIntent, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	pi, err := scanPayment(p.pool.QueryRow(ctx, `
SELECT `+paymentColumns+` FROM payment_intents WHERE provider_ref = $1 ORDER BY created_at DESC LIMIT 1
`, providerRef))
	metrics.ObserveNetworkRequest("postgres", "payment_intents_find_ref", "payment_intents", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PaymentIntent{}, domain.ErrPaymentNotFound
	}
	return pi, err
}

// UpdatePaymentProvider сохраняет данные, выданные провайдером.
func (p *Postgres) UpdatePaymentProvider(ctx context.Context, id, providerRef, link string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE payment_intents
SET provider_ref = NULLIF($2, ''), payment_link = NULLIF($3, ''), updated_at = now()
WHERE id = $1
`, id, providerRef, link)
	metrics.ObserveNetworkRequest("postgres", "payment_intents_update_provider", "payment_intents", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

// MarkPaymentSucceeded подтверждает оплату. Только первый вызов возвращает true.
func (p *Postgres) MarkPaymentSucceeded(ctx context.Context, id, providerRef string, paidAt time.Time) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE payment_intents
SET status = 'succeeded',
    provider_ref = COALESCE(NULLIF($2, ''), provider_ref),
    paid_at = $3,
    updated_at = now()
WHERE id = $1 AND status = 'pending'
`, id, providerRef, paidAt.UTC())
	metrics.ObserveNetworkRequest("postgres", "payment_intents_succeed", "payment_intents", start, err)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkPaymentFailed отмечает неуспешную оплату.
func (p *Postgres) MarkPaymentFailed(ctx context.Context, id string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE payment_intents SET status = 'failed', updated_at = now()
WHERE id = $1 AND status = 'pending'
`, id)
	metrics.ObserveNetworkRequest("postgres", "payment_intents_fail", "payment_intents", start, err)
	return err
}

// ReopenPayment откатывает подтверждение, после которого VIP не продлился.
func (p *Postgres) ReopenPayment(ctx context.Context, id string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE payment_intents SET status = 'pending', paid_at = NULL, updated_at = now()
WHERE id = $1 AND status = 'succeeded'
`, id)
	metrics.ObserveNetworkRequest("postgres", "payment_intents_reopen", "payment_intents", start, err)
	return err
}
