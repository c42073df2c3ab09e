package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"my-feed-bot/internal/domain"
)

func (h *Handler) handleVIP(ctx context.Context, chatID, tgUserID int64) {
	user, _, err := h.Users.EnsureUser(ctx, domain.UserProfile{TGUserID: tgUserID})
	if err != nil {
		h.log.Error().Err(err).Int64("tg_user_id", tgUserID).Msg("bot: не удалось получить пользователя")
		h.reply(chatID, "Не удалось получить профиль, попробуйте позже", nil)
		return
	}
	h.reply(chatID, vipText(user, h.Entitlement.Now(), h.Entitlement.Limits()), vipTariffsKeyboard())
}

// handleVIPCallback обрабатывает plan:<тариф>, pay:<тариф>:<способ>, check:<id> и back.
func (h *Handler) handleVIPCallback(ctx context.Context, chatID int64, msgID int, tgUserID int64, data string) string {
	action, rest, _ := strings.Cut(data, ":")
	switch action {
	case "back":
		h.edit(chatID, msgID, "Выберите тариф VIP:", vipTariffsKeyboard())
	case "plan":
		tariff, err := domain.TariffByID(domain.PlanID(rest))
		if err != nil {
			return "Неизвестный тариф"
		}
		h.edit(chatID, msgID, planText(tariff), vipPaymentKeyboard(tariff.ID))
	case "pay":
		plan, method, _ := strings.Cut(rest, ":")
		return h.startPayment(ctx, chatID, tgUserID, domain.PlanID(plan), method)
	case "check":
		return h.checkPayment(ctx, chatID, rest)
	}
	return ""
}

func (h *Handler) startPayment(ctx context.Context, chatID, tgUserID int64, plan domain.PlanID, rawMethod string) string {
	method, err := domain.ParsePaymentMethod(rawMethod)
	if err != nil {
		return "Неизвестный способ оплаты"
	}
	if h.Payments == nil || (method == domain.PaymentCard && h.CardToken == "") {
		return "Этот способ оплаты временно недоступен"
	}
	tariff, err := domain.TariffByID(plan)
	if err != nil {
		return "Неизвестный тариф"
	}
	if _, _, err := h.Users.EnsureUser(ctx, domain.UserProfile{TGUserID: tgUserID}); err != nil {
		h.log.Error().Err(err).Int64("tg_user_id", tgUserID).Msg("bot: не удалось получить пользователя")
		return "Не удалось создать платёж"
	}
	intent, err := h.Payments.CreateIntent(ctx, tgUserID, plan, method)
	if errors.Is(err, domain.ErrUnknownMethod) {
		return "Этот способ оплаты временно недоступен"
	}
	if err != nil {
		h.log.Error().Err(err).Int64("tg_user_id", tgUserID).Str("method", string(method)).Msg("bot: не удалось создать платёж")
		h.reply(chatID, "Не удалось создать платёж, попробуйте позже", nil)
		return ""
	}

	switch method {
	case domain.PaymentQR:
		if intent.PaymentLink == "" {
			h.reply(chatID, "Не удалось получить QR-код, попробуйте позже", nil)
			return ""
		}
		h.reply(chatID, qrText(tariff), qrKeyboard(intent))
	case domain.PaymentStars:
		h.send(chatID, "send_invoice", invoice(chatID, intent, tariff, ""))
	case domain.PaymentCard:
		h.send(chatID, "send_invoice", invoice(chatID, intent, tariff, h.CardToken))
	}
	return ""
}

func invoice(chatID int64, intent domain.PaymentIntent, tariff domain.Tariff, providerToken string) tgbotapi.InvoiceConfig {
	prices := []tgbotapi.LabeledPrice{{Label: "VIP " + tariff.Title, Amount: int(intent.Amount.Amount)}}
	cfg := tgbotapi.NewInvoice(
		chatID,
		"VIP на "+tariff.Title,
		"50 каналов, фильтр рекламы, краткая лента и ИИ-сводка",
		intent.ID,
		providerToken,
		"",
		intent.Amount.Currency,
		prices,
	)
	cfg.SuggestedTipAmounts = []int{}
	return cfg
}

func (h *Handler) checkPayment(ctx context.Context, chatID int64, intentID string) string {
	if h.Payments == nil {
		return "Оплата временно недоступна"
	}
	res, err := h.Payments.Check(ctx, intentID)
	if errors.Is(err, domain.ErrPaymentNotFound) {
		return "Платёж не найден"
	}
	if err != nil {
		h.log.Error().Err(err).Str("intent_id", intentID).Msg("bot: не удалось проверить платёж")
		return "Не удалось проверить оплату, попробуйте позже"
	}
	switch res.Intent.Status {
	case domain.PaymentSucceeded:
		if res.Extended {
			h.reply(chatID, paidText(res.VIPUntil), nil)
		}
		return "Оплата получена ✅"
	case domain.PaymentFailed:
		return "Платёж отменён"
	}
	return "Оплата пока не поступила"
}

func (h *Handler) handlePreCheckout(ctx context.Context, q *tgbotapi.PreCheckoutQuery) {
	answer := tgbotapi.PreCheckoutConfig{PreCheckoutQueryID: q.ID, OK: true}
	if h.Payments == nil {
		answer.OK = false
		answer.ErrorMessage = "Оплата временно недоступна"
	} else if _, err := h.Payments.ValidateInvoice(ctx, q.InvoicePayload, int64(q.TotalAmount), q.Currency); err != nil {
		h.log.Warn().Err(err).Str("intent_id", q.InvoicePayload).Msg("bot: счёт отклонён перед оплатой")
		answer.OK = false
		answer.ErrorMessage = "Счёт устарел, оформите оплату заново: /vip"
	}
	if _, err := h.bot.Request(answer); err != nil {
		h.log.Error().Err(err).Str("intent_id", q.InvoicePayload).Msg("bot: не удалось ответить на pre_checkout")
	}
}

func (h *Handler) handleSuccessfulPayment(ctx context.Context, msg *tgbotapi.Message) {
	p := msg.SuccessfulPayment
	if h.Payments == nil {
		h.log.Error().Str("intent_id", p.InvoicePayload).Msg("bot: оплата получена без настроенных платежей")
		return
	}
	res, err := h.Payments.Confirm(ctx, p.InvoicePayload, p.TelegramPaymentChargeID)
	if err != nil {
		h.log.Error().Err(err).Str("intent_id", p.InvoicePayload).Str("charge_id", p.TelegramPaymentChargeID).Msg("bot: не удалось подтвердить оплату")
		h.reply(msg.Chat.ID, "Оплата получена, но VIP не активировался. Напишите в поддержку, мы всё исправим.", nil)
		return
	}
	if !res.Extended {
		return
	}
	h.reply(msg.Chat.ID, paidText(res.VIPUntil), nil)
}

func vipTariffsKeyboard() *tgbotapi.InlineKeyboardMarkup {
	labels := map[domain.PlanID]string{
		domain.Plan7Days:   "🔥",
		domain.Plan1Month:  "💪",
		domain.Plan12Month: "👑",
	}
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, t := range domain.Tariffs() {
		label := fmt.Sprintf("%s %s — %d₽", labels[t.ID], t.Title, t.PriceRUB)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(label, "vip:plan:"+string(t.ID))))
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}

func vipPaymentKeyboard(plan domain.PlanID) *tgbotapi.InlineKeyboardMarkup {
	pay := func(label string, method domain.PaymentMethod) tgbotapi.InlineKeyboardButton {
		return tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("vip:pay:%s:%s", plan, method))
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(pay("💳 Оплата картой", domain.PaymentCard), pay("🌳 Оплата по QR", domain.PaymentQR)),
		tgbotapi.NewInlineKeyboardRow(pay("⭐ Telegram Stars", domain.PaymentStars)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("⬅️ Назад", "vip:back")),
	)
	return &markup
}

func qrKeyboard(intent domain.PaymentIntent) *tgbotapi.InlineKeyboardMarkup {
	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("🌳 Оплатить по QR", intent.PaymentLink)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🔄 Проверить оплату", "vip:check:"+intent.ID)),
	)
	return &markup
}
