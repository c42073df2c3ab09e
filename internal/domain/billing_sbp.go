package domain

import "time"

// SBPQRCode описывает QR-код СБП, выпущенный банком.
type SBPQRCode struct {
	QRID          string         `json:"qr_id"`
	PaymentLink   string         `json:"payment_link,omitempty"`
	Payload       string         `json:"payload,omitempty"`
	PayloadBase64 string         `json:"payload_base64,omitempty"`
	Status        string         `json:"status,omitempty"`
	ExpiresAt     *time.Time     `json:"expires_at,omitempty"`
	Raw           map[string]any `json:"raw,omitempty"`
}

// SBPPaymentNotification описывает входящее уведомление банка об оплате по QR.
type SBPPaymentNotification struct {
	QRID        string
	OperationID string
	Amount      Money
	Purpose     string
	PaidAt      time.Time
}
