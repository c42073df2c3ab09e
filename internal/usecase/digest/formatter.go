package digest

import (
	"fmt"
	"strings"
	"time"

	"my-feed-bot/internal/domain"
)

// Entries превращает доставленные посты в пункты для сводки.
// Посты без текста или без ссылки на источник пропускаются.
func Entries(posts []domain.FeedPost) []domain.DigestEntry {
	out := make([]domain.DigestEntry, 0, len(posts))
	for _, p := range posts {
		text := strings.TrimSpace(p.Text)
		link := p.SourceLink()
		if text == "" || link == "" {
			continue
		}
		out = append(out, domain.DigestEntry{
			Channel: p.ChannelUsername,
			Title:   p.ChannelTitle,
			Link:    link,
			Text:    text,
		})
	}
	return out
}

// EmptyText отправляется, когда за окно нечего сводить.
func EmptyText(window time.Duration) string {
	return fmt.Sprintf("За последние %s не было отправленных постов для сводки.", formatWindow(window))
}

// QueuedText подтверждает принятый запрос сводки.
const QueuedText = "Собираю сводку ✍️ Пришлю отдельным сообщением."

// CooldownText отвечает на слишком частый запрос.
const CooldownText = "Сводка уже готовится, попробуй чуть позже."

// VIPOnlyText получает пользователь без VIP.
const VIPOnlyText = "ИИ-сводка доступна только VIP. Подробнее: /vip"

// FailedText отправляется, если сводку собрать не удалось.
const FailedText = "Не получилось собрать сводку, попробуй позже."

func formatWindow(window time.Duration) string {
	hours := int(window / time.Hour)
	switch {
	case hours <= 0:
		return fmt.Sprintf("%d мин", int(window/time.Minute))
	case hours%24 == 0 && hours >= 24:
		return fmt.Sprintf("%d дн", hours/24)
	default:
		return fmt.Sprintf("%d ч", hours)
	}
}
