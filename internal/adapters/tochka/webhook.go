package tochka

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"my-feed-bot/internal/domain"
)

// ErrInvalidWebhookSignature возвращается при неверной подписи уведомления.
var ErrInvalidWebhookSignature = errors.New("tochka: неверная подпись уведомления")

// ErrUnexpectedWebhook возвращается для уведомлений, не относящихся к оплате по QR.
var ErrUnexpectedWebhook = errors.New("tochka: неожиданный тип уведомления")

type rsaJWK struct {
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// ParseRSAPublicKeyFromJWK разбирает публичный RSA-ключ из JWK (kty, n, e в base64url).
func ParseRSAPublicKeyFromJWK(data []byte) (*rsa.PublicKey, error) {
	var jwk rsaJWK
	if err := json.Unmarshal(data, &jwk); err != nil {
		return nil, fmt.Errorf("разбор jwk: %w", err)
	}
	if !strings.EqualFold(jwk.Kty, "rsa") {
		return nil, fmt.Errorf("неподдерживаемый kty: %s", jwk.Kty)
	}
	modulus, err := decodeBase64(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("модуль jwk: %w", err)
	}
	exponent, err := decodeBase64(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("экспонента jwk: %w", err)
	}
	e := 0
	for _, b := range exponent {
		e = (e << 8) | int(b)
	}
	if e <= 0 {
		return nil, fmt.Errorf("некорректная экспонента jwk")
	}
	n := new(big.Int).SetBytes(modulus)
	if n.Sign() <= 0 {
		return nil, fmt.Errorf("некорректный модуль jwk")
	}
	return &rsa.PublicKey{N: n, E: e}, nil
}

// ParseNotification разбирает уведомление об оплате. Если key задан, тело
// должно быть JWT (RS256) и подпись проверяется; иначе ожидается JSON.
func ParseNotification(body []byte, key *rsa.PublicKey) (domain.SBPPaymentNotification, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return domain.SBPPaymentNotification{}, fmt.Errorf("tochka: пустое уведомление")
	}
	if key == nil {
		return parsePayload(trimmed)
	}
	payload, err := verifyCompactJWT(string(trimmed), key)
	if err != nil {
		return domain.SBPPaymentNotification{}, err
	}
	return parsePayload(payload)
}

func verifyCompactJWT(compact string, key *rsa.PublicKey) ([]byte, error) {
	parts := strings.Split(compact, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("tochka: некорректный формат jwt")
	}
	headerBytes, err := decodeBase64(parts[0])
	if err != nil {
		return nil, fmt.Errorf("tochka: заголовок jwt: %w", err)
	}
	var header struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, fmt.Errorf("tochka: разбор заголовка jwt: %w", err)
	}
	if !strings.EqualFold(header.Alg, "rs256") {
		return nil, fmt.Errorf("tochka: неподдерживаемый alg %s", header.Alg)
	}
	signature, err := decodeBase64(parts[2])
	if err != nil {
		return nil, fmt.Errorf("tochka: подпись jwt: %w", err)
	}
	sum := sha256.Sum256([]byte(parts[0] + "." + parts[1]))
	if err := rsa.VerifyPKCS1v15(key, crypto.SHA256, sum[:], signature); err != nil {
		return nil, errors.Join(ErrInvalidWebhookSignature, err)
	}
	payload, err := decodeBase64(parts[1])
	if err != nil {
		return nil, fmt.Errorf("tochka: тело jwt: %w", err)
	}
	return payload, nil
}

func parsePayload(data []byte) (domain.SBPPaymentNotification, error) {
	var raw struct {
		WebhookType string          `json:"webhookType"`
		OperationID string          `json:"operationId"`
		QRID        string          `json:"qrcId"`
		Amount      json.RawMessage `json:"amount"`
		Purpose     string          `json:"purpose"`
		Date        string          `json:"date"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.SBPPaymentNotification{}, fmt.Errorf("tochka: разбор уведомления: %w", err)
	}
	if raw.WebhookType != "" && !strings.EqualFold(raw.WebhookType, "incomingSbpPayment") {
		return domain.SBPPaymentNotification{}, fmt.Errorf("%w: %s", ErrUnexpectedWebhook, raw.WebhookType)
	}
	if raw.QRID == "" {
		return domain.SBPPaymentNotification{}, fmt.Errorf("tochka: в уведомлении нет qrcId")
	}
	amount, err := parseAmount(raw.Amount)
	if err != nil {
		return domain.SBPPaymentNotification{}, err
	}
	paidAt := time.Now().UTC()
	if raw.Date != "" {
		if ts := parseTime(raw.Date); ts != nil {
			paidAt = ts.UTC()
		}
	}
	return domain.SBPPaymentNotification{
		QRID:        raw.QRID,
		OperationID: raw.OperationID,
		Amount:      domain.Money{Amount: amount, Currency: "RUB"},
		Purpose:     raw.Purpose,
		PaidAt:      paidAt,
	}, nil
}

// parseAmount переводит "199.00" или 199 в копейки.
func parseAmount(raw json.RawMessage) (int64, error) {
	value := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if value == "" || value == "null" {
		return 0, nil
	}
	value = strings.ReplaceAll(value, ",", ".")
	major, minor, _ := strings.Cut(value, ".")
	rub, err := strconv.ParseInt(major, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("tochka: сумма %q: %w", value, err)
	}
	var kop int64
	if minor != "" {
		if len(minor) == 1 {
			minor += "0"
		}
		kop, err = strconv.ParseInt(minor[:2], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("tochka: сумма %q: %w", value, err)
		}
	}
	return rub*100 + kop, nil
}

func decodeBase64(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("пустое значение")
	}
	if decoded, err := base64.RawURLEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	standard := strings.ReplaceAll(strings.ReplaceAll(value, "-", "+"), "_", "/")
	if decoded, err := base64.StdEncoding.DecodeString(standard); err == nil {
		return decoded, nil
	}
	return nil, fmt.Errorf("некорректный base64")
}
