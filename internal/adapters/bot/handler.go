// Package bot обрабатывает апдейты Telegram-бота: команды, кнопки и платежи.
package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"my-feed-bot/internal/adapters/telegram"
	"my-feed-bot/internal/domain"
	"my-feed-bot/internal/infra/metrics"
	"my-feed-bot/internal/usecase/channels"
	"my-feed-bot/internal/usecase/digest"
	"my-feed-bot/internal/usecase/entitlement"
	"my-feed-bot/internal/usecase/payments"
)

type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Deps собирает сервисы, с которыми работает бот. Payments, Digest и Stats необязательны.
type Deps struct {
	Entitlement *entitlement.Service
	Channels    *channels.Service
	Payments    *payments.Service
	Digest      *digest.Service
	Users       domain.UserRepo
	Stats       domain.StatsRepo
	// OwnerID задаёт администратора бота; 0 отключает админские команды.
	OwnerID int64
	// CardToken нужен Telegram Payments для оплаты картой.
	CardToken string
}

// Handler обслуживает апдейты бота.
type Handler struct {
	Deps
	bot botAPI
	log zerolog.Logger
}

// NewHandler создаёт обработчик.
func NewHandler(bot botAPI, log zerolog.Logger, deps Deps) *Handler {
	return &Handler{Deps: deps, bot: bot, log: log}
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	switch {
	case upd.PreCheckoutQuery != nil:
		h.handlePreCheckout(ctx, upd.PreCheckoutQuery)
	case upd.Message != nil && upd.Message.SuccessfulPayment != nil:
		h.handleSuccessfulPayment(ctx, upd.Message)
	case upd.Message != nil:
		h.handleMessage(ctx, upd.Message)
	case upd.CallbackQuery != nil:
		h.handleCallback(ctx, upd.CallbackQuery)
	}
}

// splitCommand отделяет команду от аргументов; суффикс @botname отбрасывается.
func splitCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	cmd, args, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return strings.ToLower(cmd), strings.TrimSpace(args)
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	chatID, tgUserID := msg.Chat.ID, msg.From.ID
	cmd, args := splitCommand(msg.Text)
	switch cmd {
	case "":
		h.handleChannelsText(ctx, chatID, tgUserID, args)
	case "/start":
		h.handleStart(ctx, msg)
	case "/help":
		h.reply(chatID, helpText, nil)
	case "/subscriptions":
		h.handleSubscriptions(ctx, chatID, tgUserID)
	case "/delete":
		h.handleDelete(ctx, chatID, tgUserID, args)
	case "/start_forward":
		h.setForwarding(ctx, chatID, tgUserID, true)
	case "/stop_forward", "/stop":
		h.setForwarding(ctx, chatID, tgUserID, false)
	case "/spam":
		h.switchToggle(ctx, chatID, tgUserID, domain.ToggleSpamFilter)
	case "/switch_feed":
		h.switchToggle(ctx, chatID, tgUserID, domain.ToggleShortFeed)
	case "/digest":
		h.handleDigest(ctx, chatID, tgUserID)
	case "/vip":
		h.handleVIP(ctx, chatID, tgUserID)
	case "/users":
		h.adminOnly(chatID, tgUserID, func() { h.handleUsers(ctx, chatID) })
	case "/grant_vip":
		h.adminOnly(chatID, tgUserID, func() { h.handleGrantVIP(ctx, chatID, args) })
	case "/revoke_vip":
		h.adminOnly(chatID, tgUserID, func() { h.handleRevokeVIP(ctx, chatID, args) })
	case "/broadcast":
		h.adminOnly(chatID, tgUserID, func() { h.handleBroadcast(ctx, msg, args) })
	default:
		h.reply(chatID, "Неизвестная команда. Используйте /help", nil)
	}
}

func (h *Handler) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	res, err := h.Entitlement.FirstStart(ctx, domain.UserProfile{
		TGUserID:  msg.From.ID,
		Username:  msg.From.UserName,
		FirstName: msg.From.FirstName,
		LastName:  msg.From.LastName,
	})
	if err != nil {
		h.log.Error().Err(err).Int64("tg_user_id", msg.From.ID).Msg("bot: не удалось зарегистрировать пользователя")
		h.reply(msg.Chat.ID, "Не удалось сохранить профиль, попробуйте позже", nil)
		return
	}
	if err := h.Entitlement.SetToggle(ctx, msg.From.ID, domain.ToggleForwarding, true); err != nil {
		h.log.Error().Err(err).Int64("tg_user_id", msg.From.ID).Msg("bot: не удалось включить пересылку")
	}
	if res.ShowWelcome {
		h.reply(msg.Chat.ID, welcomeText(res, h.Entitlement.Limits()), nil)
		return
	}
	h.reply(msg.Chat.ID, "Пересылка включена ✅", nil)
}

func (h *Handler) setForwarding(ctx context.Context, chatID, tgUserID int64, on bool) {
	if _, _, err := h.Users.EnsureUser(ctx, domain.UserProfile{TGUserID: tgUserID}); err != nil {
		h.log.Error().Err(err).Int64("tg_user_id", tgUserID).Msg("bot: не удалось получить пользователя")
		h.reply(chatID, "Не удалось обновить настройки, попробуйте позже", nil)
		return
	}
	if err := h.Entitlement.SetToggle(ctx, tgUserID, domain.ToggleForwarding, on); err != nil {
		h.log.Error().Err(err).Int64("tg_user_id", tgUserID).Msg("bot: не удалось переключить пересылку")
		h.reply(chatID, "Не удалось обновить настройки, попробуйте позже", nil)
		return
	}
	if on {
		h.reply(chatID, "Пересылка включена ✅", nil)
		return
	}
	h.reply(chatID, "Пересылка остановлена ⛔ Включить снова: /start_forward", nil)
}

// switchToggle инвертирует VIP-функцию пользователя.
func (h *Handler) switchToggle(ctx context.Context, chatID, tgUserID int64, toggle domain.Toggle) {
	user, _, err := h.Users.EnsureUser(ctx, domain.UserProfile{TGUserID: tgUserID})
	if err != nil {
		h.log.Error().Err(err).Int64("tg_user_id", tgUserID).Msg("bot: не удалось получить пользователя")
		h.reply(chatID, "Не удалось обновить настройки, попробуйте позже", nil)
		return
	}
	on := !toggleState(user, toggle)
	err = h.Entitlement.SetToggle(ctx, tgUserID, toggle, on)
	switch {
	case errors.Is(err, domain.ErrVIPRequired):
		h.reply(chatID, vipRequiredText(toggle), vipTariffsKeyboard())
	case err != nil:
		h.log.Error().Err(err).Int64("tg_user_id", tgUserID).Str("toggle", string(toggle)).Msg("bot: не удалось переключить функцию")
		h.reply(chatID, "Не удалось обновить настройки, попробуйте позже", nil)
	default:
		h.reply(chatID, toggleText(toggle, on), nil)
	}
}

func toggleState(u domain.User, toggle domain.Toggle) bool {
	switch toggle {
	case domain.ToggleSpamFilter:
		return u.SpamFilterOn
	case domain.ToggleShortFeed:
		return u.ShortFeedOn
	}
	return u.ForwardingOn
}

func (h *Handler) handleDigest(ctx context.Context, chatID, tgUserID int64) {
	if h.Digest == nil {
		h.reply(chatID, "Сводка сейчас недоступна", nil)
		return
	}
	_, err := h.Digest.Request(ctx, tgUserID, chatID, domain.DigestCauseManual)
	switch {
	case err == nil:
		h.reply(chatID, digest.QueuedText, nil)
	case errors.Is(err, domain.ErrVIPRequired), errors.Is(err, domain.ErrUserNotFound):
		h.reply(chatID, digest.VIPOnlyText, nil)
	case errors.Is(err, digest.ErrCooldown):
		h.reply(chatID, digest.CooldownText, nil)
	default:
		h.log.Error().Err(err).Int64("tg_user_id", tgUserID).Msg("bot: не удалось поставить сводку в очередь")
		h.reply(chatID, digest.FailedText, nil)
	}
}

func (h *Handler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	var notice string
	if cb.Message != nil {
		chatID, msgID := cb.Message.Chat.ID, cb.Message.MessageID
		prefix, rest, _ := strings.Cut(cb.Data, ":")
		switch prefix {
		case "subs":
			h.showSubscriptionsPage(ctx, chatID, msgID, cb.From.ID, atoi(rest))
		case "del":
			notice = h.handleDeleteCallback(ctx, chatID, msgID, cb.From.ID, rest)
		case "vip":
			notice = h.handleVIPCallback(ctx, chatID, msgID, cb.From.ID, rest)
		}
	}
	start := time.Now()
	_, err := h.bot.Request(tgbotapi.NewCallback(cb.ID, notice))
	metrics.ObserveNetworkRequest("telegram_bot", "answer_callback", strconv.FormatInt(cb.From.ID, 10), start, err)
	if err != nil {
		h.log.Error().Err(err).Msg("bot: не удалось ответить на callback")
	}
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (h *Handler) reply(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	parts := telegram.SplitMessage(text)
	for i, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.DisableWebPagePreview = true
		if i == 0 && keyboard != nil {
			msg.ReplyMarkup = keyboard
		}
		if !h.send(chatID, "send_message", msg) {
			return
		}
	}
}

// edit заменяет текст и клавиатуру сообщения с кнопками.
func (h *Handler) edit(chatID int64, msgID int, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	var cfg tgbotapi.EditMessageTextConfig
	if keyboard != nil {
		cfg = tgbotapi.NewEditMessageTextAndMarkup(chatID, msgID, text, *keyboard)
	} else {
		cfg = tgbotapi.NewEditMessageText(chatID, msgID, text)
	}
	start := time.Now()
	_, err := h.bot.Request(cfg)
	metrics.ObserveNetworkRequest("telegram_bot", "edit_message", strconv.FormatInt(chatID, 10), start, err)
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "message is not modified") {
		h.log.Error().Err(err).Int64("chat_id", chatID).Msg("bot: не удалось обновить сообщение")
	}
}

func (h *Handler) send(chatID int64, op string, c tgbotapi.Chattable) bool {
	start := time.Now()
	_, err := h.bot.Send(c)
	metrics.ObserveNetworkRequest("telegram_bot", op, strconv.FormatInt(chatID, 10), start, err)
	if err != nil {
		h.log.Error().Err(err).Int64("chat_id", chatID).Str("op", op).Msg("bot: не удалось отправить сообщение")
		return false
	}
	return true
}

// SetCommands публикует меню команд бота.
func SetCommands(bot botAPI) error {
	cfg := tgbotapi.NewSetMyCommands(
		tgbotapi.BotCommand{Command: "subscriptions", Description: "Ваши подписки 📋"},
		tgbotapi.BotCommand{Command: "digest", Description: "Сводка ✍️"},
		tgbotapi.BotCommand{Command: "switch_feed", Description: "Краткая лента 🗒️"},
		tgbotapi.BotCommand{Command: "spam", Description: "Отключить рекламу и партнерские посты каналов 🚫📣"},
		tgbotapi.BotCommand{Command: "start_forward", Description: "Активировать пересылку ✅"},
		tgbotapi.BotCommand{Command: "stop_forward", Description: "Остановить пересылку ⛔"},
		tgbotapi.BotCommand{Command: "vip", Description: "Стать VIP-пользователем 💎"},
		tgbotapi.BotCommand{Command: "delete", Description: "Удалить подписку ❌"},
		tgbotapi.BotCommand{Command: "help", Description: "Инструкция бота ⚙️"},
	)
	_, err := bot.Request(cfg)
	return err
}
