package tochka

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"my-feed-bot/internal/domain"
	"my-feed-bot/internal/infra/metrics"
)

// DefaultBaseURL используется, если адрес API банка не задан.
const DefaultBaseURL = "https://enter.tochka.com/uapi"

// ErrNotConfigured возвращается, если не заданы реквизиты мерчанта.
var ErrNotConfigured = errors.New("tochka: не заданы merchant/account")

// Config содержит реквизиты подключения к СБП.
type Config struct {
	BaseURL         string
	MerchantID      string
	AccountID       string
	AccessToken     string
	NotificationURL string
	Timeout         time.Duration
}

// Client ходит в API СБП банка Точка.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient создаёт клиента с таймаутом из конфига (15s по умолчанию).
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: timeout}}
}

// SetHTTPClient подменяет HTTP-клиент.
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	if httpClient != nil {
		c.httpClient = httpClient
	}
}

// Configured сообщает, заданы ли реквизиты для выпуска QR.
func (c *Client) Configured() bool {
	return c != nil && c.cfg.MerchantID != "" && c.cfg.AccountID != ""
}

// RegisterQRCodeRequest описывает динамический QR на оплату.
type RegisterQRCodeRequest struct {
	Amount         domain.Money
	OrderID        string
	Description    string
	PaymentPurpose string
	// IdempotencyKey обязателен: повтор запроса с тем же ключом не выпускает второй QR.
	IdempotencyKey string
}

// RegisterQRCode выпускает динамический QR-код СБП.
func (c *Client) RegisterQRCode(ctx context.Context, req RegisterQRCodeRequest) (domain.SBPQRCode, error) {
	if !c.Configured() {
		return domain.SBPQRCode{}, ErrNotConfigured
	}
	if req.IdempotencyKey == "" {
		return domain.SBPQRCode{}, fmt.Errorf("tochka: не задан ключ идемпотентности")
	}
	orderID := req.OrderID
	if orderID == "" {
		orderID = req.IdempotencyKey
	}
	currency := req.Amount.Currency
	if currency == "" {
		currency = "RUB"
	}

	order := map[string]any{
		"orderId": orderID,
		"amount": map[string]any{
			"value":    formatMinorAmount(req.Amount.Amount),
			"currency": currency,
		},
	}
	if req.Description != "" {
		order["description"] = req.Description
	}
	payload := map[string]any{
		"order":  order,
		"qrType": "02",
	}
	if req.PaymentPurpose != "" {
		payload["paymentPurpose"] = req.PaymentPurpose
	}
	if c.cfg.NotificationURL != "" {
		payload["notificationUrl"] = c.cfg.NotificationURL
	}

	endpoint := fmt.Sprintf("%s/qr-code/merchant/%s/account/%s", c.cfg.BaseURL, url.PathEscape(c.cfg.MerchantID), url.PathEscape(c.cfg.AccountID))
	data, err := c.do(ctx, http.MethodPost, endpoint, "register_qr_code", payload, req.IdempotencyKey)
	if err != nil {
		return domain.SBPQRCode{}, err
	}

	var parsed struct {
		Data struct {
			QRID          string `json:"qrcId"`
			PaymentLink   string `json:"payload"`
			Image         string `json:"image"`
			Status        string `json:"status"`
			ExpiresAt     string `json:"qrExpirationDate"`
			PayloadBase64 string `json:"payloadBase64"`
		} `json:"Data"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return domain.SBPQRCode{}, fmt.Errorf("tochka: разбор ответа: %w", err)
	}
	if parsed.Data.QRID == "" {
		return domain.SBPQRCode{}, fmt.Errorf("tochka: в ответе нет qrcId")
	}
	var raw map[string]any
	_ = json.Unmarshal(data, &raw)

	qr := domain.SBPQRCode{
		QRID:          parsed.Data.QRID,
		PaymentLink:   parsed.Data.PaymentLink,
		Payload:       parsed.Data.PaymentLink,
		PayloadBase64: parsed.Data.PayloadBase64,
		Status:        parsed.Data.Status,
		Raw:           raw,
	}
	if qr.PayloadBase64 == "" {
		qr.PayloadBase64 = parsed.Data.Image
	}
	if parsed.Data.ExpiresAt != "" {
		qr.ExpiresAt = parseTime(parsed.Data.ExpiresAt)
	}
	return qr, nil
}

// PaymentStatus запрашивает статус оплаты по QR.
func (c *Client) PaymentStatus(ctx context.Context, qrID string) (domain.PaymentStatus, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	endpoint := fmt.Sprintf("%s/qr-code/qrs/%s/payment-status", c.cfg.BaseURL, url.PathEscape(qrID))
	data, err := c.do(ctx, http.MethodGet, endpoint, "payment_status", nil, "")
	if err != nil {
		return "", err
	}
	var parsed struct {
		Data struct {
			PaymentList []struct {
				QRID   string `json:"qrcId"`
				Status string `json:"status"`
			} `json:"paymentList"`
		} `json:"Data"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("tochka: разбор статуса: %w", err)
	}
	for _, p := range parsed.Data.PaymentList {
		if p.QRID == "" || p.QRID == qrID {
			return mapStatus(p.Status), nil
		}
	}
	return domain.PaymentPending, nil
}

func (c *Client) do(ctx context.Context, method, endpoint, op string, payload any, idempotencyKey string) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("tochka: сериализация запроса: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("tochka: сборка запроса: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
		req.Header.Set("X-Request-ID", idempotencyKey)
	}
	if c.cfg.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ObserveNetworkRequest("tochka", op, "sbp", start, err)
	if err != nil {
		return nil, fmt.Errorf("tochka: запрос %s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tochka: чтение ответа: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("tochka: %s вернул %d: %s", op, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

func mapStatus(status string) domain.PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "accepted", "paid", "success", "succeeded":
		return domain.PaymentSucceeded
	case "rejected", "expired", "canceled", "cancelled", "failed":
		return domain.PaymentFailed
	default:
		return domain.PaymentPending
	}
}

func formatMinorAmount(amount int64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}
	formatted := fmt.Sprintf("%d.%02d", amount/100, amount%100)
	if negative {
		return "-" + formatted
	}
	return formatted
}

func parseTime(value string) *time.Time {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05-07:00",
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}
