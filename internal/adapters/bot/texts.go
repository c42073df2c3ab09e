package bot

import (
	"fmt"
	"strings"
	"time"

	"my-feed-bot/internal/domain"
	"my-feed-bot/internal/usecase/entitlement"
)

const helpText = "📰 Твоя персональная лента новостей в Telegram!\n\n" +
	"Вот что умеет бот:\n\n" +
	"• /subscriptions — список твоих подписок.\n" +
	"• /digest — ИИ-сводка по всем каналам в одно сообщение.\n" +
	"• /switch_feed — включить режим Краткой ленты: только текст, только суть.\n" +
	"• /spam — отключить рекламные и партнерские посты каналов.\n" +
	"• /start_forward — включить доставку постов с каналов.\n" +
	"• /stop_forward — приостановить пересылку.\n" +
	"• /delete — удалить ненужные каналы.\n" +
	"• /vip — доступ к 50 каналам, ИИ-режиму и фильтру рекламы.\n\n" +
	"Как добавить канал: просто пришли ссылку или @ник (например, @telegram).\n\n" +
	"Оставайся в курсе главного — быстро, удобно, без лишнего ✨"

const (
	noSubscriptionsText = "Подписок пока нет. Пришли @username или ссылку на канал — я добавлю ✅"
	deleteTitle         = "Выберите канал для удаления:"
)

const dateLayout = "02.01.2006"

func formatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

func welcomeText(res entitlement.StartResult, limits domain.TierLimits) string {
	lines := []string{
		"👋 Привет! Я соберу посты твоих каналов в одну ленту.",
		"",
		"Пришли @username или ссылку на канал, и новые посты начнут приходить сюда.",
		fmt.Sprintf("Бесплатно доступно до %d каналов.", limits.Plan(domain.TierFree).ChannelLimit),
	}
	if res.TrialGranted && res.User.VIPUntil != nil {
		lines = append(lines, "", fmt.Sprintf("🎁 Дарим пробный VIP до %s: фильтр рекламы, краткая лента и ИИ-сводка.", formatDate(*res.User.VIPUntil)))
	}
	lines = append(lines, "", "Все команды: /help")
	return strings.Join(lines, "\n")
}

func vipRequiredText(toggle domain.Toggle) string {
	switch toggle {
	case domain.ToggleSpamFilter:
		return "🚫 Фильтр рекламы доступен только VIP. Выберите тариф:"
	case domain.ToggleShortFeed:
		return "🗒️ Краткая лента доступна только VIP. Выберите тариф:"
	}
	return "Функция доступна только VIP. Выберите тариф:"
}

func toggleText(toggle domain.Toggle, on bool) string {
	switch {
	case toggle == domain.ToggleSpamFilter && on:
		return "Фильтр рекламы включён 🚫📣"
	case toggle == domain.ToggleSpamFilter:
		return "Фильтр рекламы выключен"
	case toggle == domain.ToggleShortFeed && on:
		return "Краткая лента включена 🗒️ Посты будут приходить одним предложением."
	case toggle == domain.ToggleShortFeed:
		return "Краткая лента выключена, посты снова приходят целиком"
	}
	return "Настройки обновлены"
}

func limitText(tier domain.Tier, limit int) string {
	if tier == domain.TierVIP {
		return fmt.Sprintf("Достигнут лимит VIP: %d каналов. Удалите лишние: /delete", limit)
	}
	return fmt.Sprintf("Бесплатный тариф позволяет до %d каналов. С VIP — больше 💎", limit)
}

func vipText(user domain.User, now time.Time, limits domain.TierLimits) string {
	vip := limits.Plan(domain.TierVIP)
	lines := []string{"💎 VIP-доступ", ""}
	if user.IsVIP(now) {
		if user.VIPUntil.Equal(domain.VIPForever) {
			lines = append(lines, "Ваш VIP активен бессрочно.")
		} else {
			lines = append(lines, fmt.Sprintf("Ваш VIP активен до %s. Продлить:", formatDate(*user.VIPUntil)))
		}
		lines = append(lines, "")
	}
	lines = append(lines,
		fmt.Sprintf("• до %d каналов", vip.ChannelLimit),
		"• фильтр рекламы и партнерских постов",
		"• краткая лента: суть поста одним предложением",
		"• ИИ-сводка по всем каналам",
		"",
		"Выберите тариф:",
	)
	return strings.Join(lines, "\n")
}

func planText(t domain.Tariff) string {
	return fmt.Sprintf("Тариф «%s»: %d₽ или %d ⭐\nВыберите способ оплаты:", t.Title, t.PriceRUB, t.Stars)
}

func qrText(t domain.Tariff) string {
	return fmt.Sprintf("Оплата VIP на %s — %d₽ по QR через СБП.\nПосле оплаты нажмите «Проверить оплату».", t.Title, t.PriceRUB)
}

func paidText(until time.Time) string {
	return fmt.Sprintf("💎 Спасибо! VIP активен до %s.", formatDate(until))
}

func statsText(s domain.AdminStats) string {
	lines := []string{
		"МОЯ ЛЕНТА | Персональные новости",
		"",
		fmt.Sprintf("👥 Всего пользователей: %d", s.UsersTotal),
		fmt.Sprintf("📬 Доставку включили: %d", s.ForwardingOn),
		fmt.Sprintf("⚡ Краткая лента: %d  •  🚫 Анти-спам: %d", s.ShortFeedOn, s.SpamFilterOn),
		fmt.Sprintf("💎 Активных VIP: %d  (⏳ истечёт ≤7д: %d)", s.VIPActive, s.VIPExpiring7d),
		"",
		fmt.Sprintf("🔗 Подписок всего: %d", s.ChannelsTotal),
		"",
		fmt.Sprintf("📊 Активность за 7 дней: %d постов / %d активных юзеров", s.Posts7d, s.ActiveUsers7d),
	}
	if len(s.TopActivity7d) > 0 {
		lines = append(lines, "🏆 Топ-10 по активности (7д):")
		for _, row := range s.TopActivity7d {
			lines = append(lines, fmt.Sprintf("— %s: %d пост(ов)", userLabel(row), row.Count))
		}
	}
	if len(s.TopChannels) > 0 {
		lines = append(lines, "", "🏅 Топ-10 по числу подписок:")
		for _, row := range s.TopChannels {
			lines = append(lines, fmt.Sprintf("— %s: %d канал(ов)", userLabel(row), row.Count))
		}
	}
	return strings.Join(lines, "\n")
}

func userLabel(c domain.UserCount) string {
	if c.Username != "" {
		return fmt.Sprintf("%d (@%s)", c.TGUserID, strings.TrimPrefix(c.Username, "@"))
	}
	return fmt.Sprintf("%d", c.TGUserID)
}
