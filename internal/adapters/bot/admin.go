package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"my-feed-bot/internal/domain"
)

func (h *Handler) adminOnly(chatID, tgUserID int64, fn func()) {
	if h.OwnerID == 0 || tgUserID != h.OwnerID {
		h.reply(chatID, "⛔ Команда доступна только администратору.", nil)
		return
	}
	fn()
}

func (h *Handler) handleUsers(ctx context.Context, chatID int64) {
	if h.Stats == nil {
		h.reply(chatID, "Статистика недоступна", nil)
		return
	}
	stats, err := h.Stats.AdminStats(ctx, h.Entitlement.Now())
	if err != nil {
		h.log.Error().Err(err).Msg("bot: не удалось получить статистику")
		h.reply(chatID, "Не удалось получить статистику, попробуйте позже", nil)
		return
	}
	h.reply(chatID, statsText(stats), nil)
}

// resolveTarget принимает числовой id или @username пользователя, писавшего боту.
func (h *Handler) resolveTarget(ctx context.Context, raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
		return id, nil
	}
	if raw == "" {
		return 0, domain.ErrUserNotFound
	}
	user, err := h.Users.GetUserByUsername(ctx, raw)
	if err != nil {
		return 0, err
	}
	return user.TGUserID, nil
}

func (h *Handler) handleGrantVIP(ctx context.Context, chatID int64, args string) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		h.reply(chatID, "Использование: /grant_vip user_id|@username <days|forever>", nil)
		return
	}
	target, err := h.resolveTarget(ctx, parts[0])
	if err != nil {
		h.reply(chatID, "Не удалось найти пользователя. Убедись, что он писал боту.", nil)
		return
	}

	var (
		until time.Time
		gift  string
	)
	if strings.EqualFold(parts[1], "forever") {
		until, err = h.Entitlement.GrantForever(ctx, target, "admin")
		gift = "🎁 Вам подарили VIP-доступ!"
	} else {
		days, convErr := strconv.Atoi(parts[1])
		if convErr != nil || days <= 0 {
			h.reply(chatID, "Неверный формат дней. Пример: /grant_vip @user 30", nil)
			return
		}
		until, err = h.Entitlement.Extend(ctx, target, days, "admin")
		gift = fmt.Sprintf("🎁 Вам подарили VIP-доступ на %d дней!", days)
	}
	if errors.Is(err, domain.ErrUserNotFound) {
		h.reply(chatID, "Не удалось найти пользователя. Убедись, что он писал боту.", nil)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Int64("tg_user_id", target).Msg("bot: не удалось выдать VIP")
		h.reply(chatID, "Не удалось выдать VIP, попробуйте позже", nil)
		return
	}
	h.reply(chatID, fmt.Sprintf("✅ VIP выдан. Активен до %s", formatDate(until)), nil)
	h.reply(target, fmt.Sprintf("%s Подписка активна до %s.", gift, formatDate(until)), nil)
}

func (h *Handler) handleRevokeVIP(ctx context.Context, chatID int64, args string) {
	if args == "" {
		h.reply(chatID, "Использование: /revoke_vip user_id|@username", nil)
		return
	}
	target, err := h.resolveTarget(ctx, args)
	if err == nil {
		err = h.Entitlement.Revoke(ctx, target)
	}
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		h.reply(chatID, "ℹ️ Пользователь не найден.", nil)
	case err != nil:
		h.log.Error().Err(err).Str("target", args).Msg("bot: не удалось снять VIP")
		h.reply(chatID, "Не удалось снять VIP, попробуйте позже", nil)
	default:
		h.reply(chatID, "✅ VIP снят.", nil)
	}
}

// handleBroadcast рассылает текст или сообщение, на которое ответил администратор.
func (h *Handler) handleBroadcast(ctx context.Context, msg *tgbotapi.Message, args string) {
	chatID := msg.Chat.ID
	group := domain.GroupAll
	text := args
	if first, rest, _ := strings.Cut(args, " "); first != "" {
		if g, ok := domain.ParseBroadcastGroup(first); ok && g != domain.GroupAll {
			group, text = g, strings.TrimSpace(rest)
		}
	}
	source := msg.ReplyToMessage
	if text == "" && source == nil {
		h.reply(chatID, "Использование: /broadcast [vip|free|active] <текст> или ответом на сообщение.", nil)
		return
	}

	users, err := h.Entitlement.Recipients(ctx, group)
	if err != nil {
		h.log.Error().Err(err).Str("group", string(group)).Msg("bot: не удалось получить получателей")
		h.reply(chatID, "Не удалось получить получателей, попробуйте позже", nil)
		return
	}
	if len(users) == 0 {
		h.reply(chatID, "Нет получателей для рассылки.", nil)
		return
	}

	var sent, failed int
	for _, u := range users {
		if ctx.Err() != nil {
			break
		}
		var c tgbotapi.Chattable
		if text != "" {
			c = tgbotapi.NewMessage(u.TGUserID, text)
		} else {
			c = tgbotapi.NewCopyMessage(u.TGUserID, source.Chat.ID, source.MessageID)
		}
		if h.send(u.TGUserID, "broadcast", c) {
			sent++
		} else {
			failed++
		}
	}
	h.log.Info().Str("group", string(group)).Int("sent", sent).Int("failed", failed).Msg("bot: рассылка завершена")
	h.reply(chatID, fmt.Sprintf("✅ Рассылка завершена. Успешно: %d, ошибок: %d.", sent, failed), nil)
}
