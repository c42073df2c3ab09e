package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"my-feed-bot/internal/domain"
)

// ErrDigestFormat возвращается, если модель ответила не JSON-массивом.
var ErrDigestFormat = errors.New("ответ модели не является JSON-массивом")

// DigestHeader открывает каждую сводку.
const DigestHeader = "🤖 Сводка:"

// digestTextRunes ограничивает текст одного поста в промпте.
const digestTextRunes = 800

const digestPrompt = "Сделай краткую сводку на русском. " +
	"Используй только факты из постов, без выдумок. " +
	"Если несколько постов про одно и то же событие, объединяй в один пункт и перечисляй все источники. " +
	"Верни ТОЛЬКО JSON-массив объектов, без пояснений. " +
	"Используй в источниках TITLE (название канала), не @username. " +
	"Формат объекта:\n" +
	"{\n" +
	"  \"summary\": \"одно предложение\",\n" +
	"  \"sources\": [\n" +
	"    {\"title\": \"Название канала\", \"link\": \"https://t.me/channel/123\"}\n" +
	"  ]\n" +
	"}\n" +
	"summary должно быть ОДНИМ предложением."

type digestItem struct {
	Summary string         `json:"summary"`
	Sources []digestSource `json:"sources"`
}

type digestSource struct {
	Title   string `json:"title"`
	Channel string `json:"channel"`
	Link    string `json:"link"`
}

// Digest собирает AI-сводку. Если модель недоступна или ответила мусором,
// строится локальная сводка из первых предложений.
type Digest struct {
	llm     *LLM
	timeout time.Duration
	window  time.Duration
	log     zerolog.Logger
}

var _ domain.DigestWriter = (*Digest)(nil)

// NewDigest создаёт сборщик сводки. llm может быть nil.
func NewDigest(llm *LLM, timeout, window time.Duration, log zerolog.Logger) *Digest {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if window <= 0 {
		window = 12 * time.Hour
	}
	return &Digest{llm: llm, timeout: timeout, window: window, log: log}
}

// WriteDigest возвращает HTML-текст сводки. Пустой результат означает, что
// ни у одного поста нет текста.
func (d *Digest) WriteDigest(ctx context.Context, entries []domain.DigestEntry) (string, error) {
	entries = usableEntries(entries)
	if len(entries) == 0 {
		return "", nil
	}
	if d.llm == nil {
		return LocalDigest(entries), nil
	}

	user := fmt.Sprintf("Сделай сводку по этим постам за последние %d часов:\n\n%s", int(d.window.Hours()), BuildDigestPrompt(entries))
	content, err := d.llm.complete(ctx, d.timeout, 0.2, digestPrompt, user)
	if err != nil {
		d.log.Warn().Err(err).Msg("summarizer: генерация сводки не удалась, собираем локально")
		return LocalDigest(entries), nil
	}
	items, err := extractJSON(content)
	if err != nil {
		d.log.Warn().Err(err).Str("raw", clipRunes(content, 500)).Msg("summarizer: ответ сводки не разобран, собираем локально")
		return LocalDigest(entries), nil
	}
	text := formatDigest(items, allowedLinks(entries))
	if text == DigestHeader {
		d.log.Warn().Msg("summarizer: в ответе модели нет пунктов с источниками")
		return LocalDigest(entries), nil
	}
	return text, nil
}

// BuildDigestPrompt формирует строки CHANNEL=.. TITLE=.. LINK=.. TEXT=.. для модели.
func BuildDigestPrompt(entries []domain.DigestEntry) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		text := normalizeDigestText(e.Text)
		if text == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("CHANNEL=%s TITLE=%s LINK=%s TEXT=%s", e.Channel, e.Title, e.Link, text))
	}
	return strings.Join(lines, "\n")
}

// LocalDigest строит сводку без модели: по пункту на пост.
func LocalDigest(entries []domain.DigestEntry) string {
	lines := []string{DigestHeader, ""}
	for _, e := range usableEntries(entries) {
		summary := FirstSentence(e.Text)
		if summary == "" {
			continue
		}
		lines = append(lines, "• "+html.EscapeString(summary)+" — "+sourceAnchor(e.Title, e.Channel, e.Link))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func formatDigest(items []digestItem, allowed map[string]struct{}) string {
	lines := []string{DigestHeader, ""}
	for _, item := range items {
		summary := strings.TrimSpace(item.Summary)
		links := make([]string, 0, len(item.Sources))
		for _, s := range item.Sources {
			link := strings.TrimSpace(s.Link)
			if link == "" {
				continue
			}
			if _, ok := allowed[link]; !ok {
				continue
			}
			if anchor := sourceAnchor(s.Title, s.Channel, link); anchor != "" {
				links = append(links, anchor)
			}
		}
		if summary == "" || len(links) == 0 {
			continue
		}
		lines = append(lines, "• "+html.EscapeString(summary)+" — "+strings.Join(links, ", "))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func sourceAnchor(title, channel, link string) string {
	name := strings.TrimSpace(title)
	if name == "" {
		name = strings.TrimSpace(channel)
	}
	if name == "" || link == "" {
		return ""
	}
	return fmt.Sprintf("<a href=\"%s\">%s</a>", html.EscapeString(link), html.EscapeString(name))
}

// extractJSON достаёт массив пунктов из ответа модели. Снимает markdown-ограждение
// и, если весь текст не разбирается, пробует фрагмент между первой [ и последней ].
func extractJSON(text string) ([]digestItem, error) {
	cleaned := strings.TrimSpace(text)
	if cleaned == "" {
		return nil, ErrDigestFormat
	}
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimSpace(strings.Trim(cleaned, "`"))
		cleaned = strings.TrimSpace(strings.TrimPrefix(cleaned, "json"))
	}
	var items []digestItem
	if err := json.Unmarshal([]byte(cleaned), &items); err == nil && len(items) > 0 {
		return items, nil
	}
	start := strings.Index(cleaned, "[")
	end := strings.LastIndex(cleaned, "]")
	if start == -1 || end <= start {
		return nil, ErrDigestFormat
	}
	items = nil
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDigestFormat, err)
	}
	if len(items) == 0 {
		return nil, ErrDigestFormat
	}
	return items, nil
}

func normalizeDigestText(text string) string {
	cleaned := strings.Join(strings.Fields(text), " ")
	runes := []rune(cleaned)
	if len(runes) > digestTextRunes {
		return string(runes[:digestTextRunes-1]) + "…"
	}
	return cleaned
}

func usableEntries(entries []domain.DigestEntry) []domain.DigestEntry {
	out := make([]domain.DigestEntry, 0, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e.Text) == "" || e.Link == "" {
			continue
		}
		out = append(out, e)
	}
	return out
}

func allowedLinks(entries []domain.DigestEntry) map[string]struct{} {
	out := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		out[e.Link] = struct{}{}
	}
	return out
}
