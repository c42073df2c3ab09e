package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUserNotFound возвращается, когда пользователь не зарегистрирован.
	ErrUserNotFound = errors.New("user not found")
	// ErrChannelNotFound возвращается, когда у пользователя нет такого канала.
	ErrChannelNotFound = errors.New("channel not found")
	// ErrInvalidUsername возвращается для хэндла без @ или с недопустимыми символами.
	ErrInvalidUsername = errors.New("username must start with @")
	// ErrInvalidDays возвращается для неположительного количества дней.
	ErrInvalidDays = errors.New("days must be positive")
	// ErrChannelLimit возвращается, когда достигнут лимит каналов тарифа.
	ErrChannelLimit = errors.New("limit reached")
	// ErrVIPRequired возвращается при попытке включить VIP-функцию без VIP.
	ErrVIPRequired = errors.New("vip required")
	// ErrUnknownPlan возвращается для неизвестного тарифа.
	ErrUnknownPlan = errors.New("unknown plan")
	// ErrUnknownMethod возвращается для неизвестного способа оплаты.
	ErrUnknownMethod = errors.New("unknown payment method")
	// ErrPaymentNotFound возвращается, когда платёжное намерение не найдено.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrSourceNotFound возвращается, когда канал не удалось найти в Telegram.
	ErrSourceNotFound = errors.New("source channel not found")
	// ErrMissingRecipient возвращается, когда не указан получатель ленты.
	ErrMissingRecipient = errors.New("recipient id is not configured")
)

// ChannelLimitError сообщает лимит и тариф пользователя при отказе в добавлении канала.
type ChannelLimitError struct {
	Limit int
	Tier  Tier
}

func (e *ChannelLimitError) Error() string {
	return fmt.Sprintf("limit reached: %d channels for tier %s", e.Limit, e.Tier)
}

// Unwrap позволяет сравнивать ошибку с ErrChannelLimit.
func (e *ChannelLimitError) Unwrap() error {
	return ErrChannelLimit
}
