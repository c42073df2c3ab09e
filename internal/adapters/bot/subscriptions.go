package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"my-feed-bot/internal/domain"
)

// pageSize ограничивает число кнопок каналов на странице, по две в ряд.
const pageSize = 10

const subscriptionsTitle = "Ваши подписки:"

func (h *Handler) channelNames(ctx context.Context, tgUserID int64) ([]string, error) {
	chs, err := h.Channels.List(ctx, tgUserID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(chs))
	for _, ch := range chs {
		names = append(names, ch.Username)
	}
	return names, nil
}

func (h *Handler) handleSubscriptions(ctx context.Context, chatID, tgUserID int64) {
	names, err := h.channelNames(ctx, tgUserID)
	if err != nil {
		h.log.Error().Err(err).Int64("tg_user_id", tgUserID).Msg("bot: не удалось получить подписки")
		h.reply(chatID, "Не удалось получить подписки, попробуйте позже", nil)
		return
	}
	if len(names) == 0 {
		h.reply(chatID, noSubscriptionsText, nil)
		return
	}
	h.reply(chatID, subscriptionsTitle, subscriptionsKeyboard(names, 0))
}

func (h *Handler) showSubscriptionsPage(ctx context.Context, chatID int64, msgID int, tgUserID int64, page int) {
	names, err := h.channelNames(ctx, tgUserID)
	if err != nil {
		h.log.Error().Err(err).Int64("tg_user_id", tgUserID).Msg("bot: не удалось получить подписки")
		return
	}
	if len(names) == 0 {
		h.edit(chatID, msgID, noSubscriptionsText, nil)
		return
	}
	h.edit(chatID, msgID, subscriptionsTitle, subscriptionsKeyboard(names, clampPage(page, len(names))))
}

func clampPage(page, total int) int {
	last := 0
	if total > 0 {
		last = (total - 1) / pageSize
	}
	if page > last {
		return last
	}
	if page < 0 {
		return 0
	}
	return page
}

func pageBounds(page, total int) (int, int) {
	start := page * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return start, end
}

// navRow возвращает кнопки листания или nil, если страница одна.
func navRow(prefix string, page, total int) []tgbotapi.InlineKeyboardButton {
	var row []tgbotapi.InlineKeyboardButton
	if page > 0 {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("⬅️ Назад", fmt.Sprintf("%s:%d", prefix, page-1)))
	}
	if (page+1)*pageSize < total {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("Вперёд ▶️", fmt.Sprintf("%s:%d", prefix, page+1)))
	}
	return row
}

func pairs(buttons []tgbotapi.InlineKeyboardButton) [][]tgbotapi.InlineKeyboardButton {
	var rows [][]tgbotapi.InlineKeyboardButton
	for i := 0; i < len(buttons); i += 2 {
		end := i + 2
		if end > len(buttons) {
			end = len(buttons)
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(buttons[i:end]...))
	}
	return rows
}

func subscriptionsKeyboard(names []string, page int) *tgbotapi.InlineKeyboardMarkup {
	start, end := pageBounds(page, len(names))
	buttons := make([]tgbotapi.InlineKeyboardButton, 0, end-start)
	for _, name := range names[start:end] {
		bare := strings.TrimPrefix(name, "@")
		buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(bare, "https://t.me/"+bare))
	}
	rows := pairs(buttons)
	if nav := navRow("subs", page, len(names)); nav != nil {
		rows = append(rows, nav)
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}

func deleteKeyboard(names []string, page int) *tgbotapi.InlineKeyboardMarkup {
	start, end := pageBounds(page, len(names))
	buttons := make([]tgbotapi.InlineKeyboardButton, 0, end-start)
	for _, name := range names[start:end] {
		buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(
			"🗑 "+strings.TrimPrefix(name, "@"),
			fmt.Sprintf("del:ch:%s:%d", name, page),
		))
	}
	rows := pairs(buttons)
	if nav := navRow("del:page", page, len(names)); nav != nil {
		rows = append(rows, nav)
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Удалить все", "del:all")))
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}

// handleDelete удаляет канал из аргумента или показывает клавиатуру удаления.
func (h *Handler) handleDelete(ctx context.Context, chatID, tgUserID int64, args string) {
	if args != "" {
		err := h.Channels.Delete(ctx, tgUserID, args)
		switch {
		case err == nil:
			h.reply(chatID, "Канал удалён ✅", nil)
		case errors.Is(err, domain.ErrInvalidUsername):
			h.reply(chatID, "Формат: /delete @channel", nil)
		case errors.Is(err, domain.ErrUserNotFound), errors.Is(err, domain.ErrChannelNotFound):
			h.reply(chatID, "Такой подписки нет", nil)
		default:
			h.log.Error().Err(err).Int64("tg_user_id", tgUserID).Msg("bot: не удалось удалить канал")
			h.reply(chatID, "Не удалось удалить канал, попробуйте позже", nil)
		}
		return
	}
	names, err := h.channelNames(ctx, tgUserID)
	if err != nil {
		h.log.Error().Err(err).Int64("tg_user_id", tgUserID).Msg("bot: не удалось получить подписки")
		h.reply(chatID, "Не удалось получить подписки, попробуйте позже", nil)
		return
	}
	if len(names) == 0 {
		h.reply(chatID, noSubscriptionsText, nil)
		return
	}
	h.reply(chatID, deleteTitle, deleteKeyboard(names, 0))
}

// handleDeleteCallback обрабатывает del:ch:<канал>:<стр>, del:page:<стр> и del:all.
func (h *Handler) handleDeleteCallback(ctx context.Context, chatID int64, msgID int, tgUserID int64, data string) string {
	action, rest, _ := strings.Cut(data, ":")
	page := 0
	var notice string
	switch action {
	case "ch":
		handle, rawPage, _ := strings.Cut(rest, ":")
		page = atoi(rawPage)
		if err := h.Channels.Delete(ctx, tgUserID, handle); err != nil {
			if !errors.Is(err, domain.ErrChannelNotFound) && !errors.Is(err, domain.ErrUserNotFound) {
				h.log.Error().Err(err).Int64("tg_user_id", tgUserID).Str("channel", handle).Msg("bot: не удалось удалить канал")
				return "Не удалось удалить канал"
			}
		}
		notice = "Удалено: " + handle
	case "page":
		page = atoi(rest)
	case "all":
		n, err := h.Channels.DeleteAll(ctx, tgUserID)
		if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
			h.log.Error().Err(err).Int64("tg_user_id", tgUserID).Msg("bot: не удалось удалить каналы")
			return "Не удалось удалить каналы"
		}
		notice = fmt.Sprintf("Удалено каналов: %d", n)
	default:
		return ""
	}

	names, err := h.channelNames(ctx, tgUserID)
	if err != nil {
		h.log.Error().Err(err).Int64("tg_user_id", tgUserID).Msg("bot: не удалось получить подписки")
		return notice
	}
	if len(names) == 0 {
		h.edit(chatID, msgID, "Подписок больше нет", nil)
		return notice
	}
	h.edit(chatID, msgID, deleteTitle, deleteKeyboard(names, clampPage(page, len(names))))
	return notice
}

// handleChannelsText добавляет каналы, найденные в сообщении.
func (h *Handler) handleChannelsText(ctx context.Context, chatID, tgUserID int64, text string) {
	res, err := h.Channels.AddFromText(ctx, tgUserID, text)
	if errors.Is(err, domain.ErrInvalidUsername) {
		h.reply(chatID, "Не вижу ссылок/username. Пришли, например: @durov или https://t.me/durov", nil)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Int64("tg_user_id", tgUserID).Msg("bot: не удалось добавить каналы")
		h.reply(chatID, "Не удалось добавить каналы, попробуйте позже", nil)
		return
	}
	var lines []string
	if n := len(res.Added); n > 0 {
		lines = append(lines, fmt.Sprintf("Добавлено ✅: %d", n))
	}
	if n := len(res.Already); n > 0 {
		lines = append(lines, fmt.Sprintf("Уже было 👍: %d", n))
	}
	if n := len(res.Failed); n > 0 {
		lines = append(lines, fmt.Sprintf("Ошибки ⚠️: %d", n))
	}
	var keyboard *tgbotapi.InlineKeyboardMarkup
	if n := len(res.LimitReached); n > 0 {
		lines = append(lines, fmt.Sprintf("Не добавлено из-за лимита 🚫: %d", n))
		lines = append(lines, limitText(res.Tier, res.Limit))
		if res.Tier != domain.TierVIP {
			keyboard = vipTariffsKeyboard()
		}
	}
	lines = append(lines, "", "/subscriptions — посмотреть список")
	h.reply(chatID, strings.Join(lines, "\n"), keyboard)
}
