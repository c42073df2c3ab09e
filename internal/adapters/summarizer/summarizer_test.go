package summarizer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"my-feed-bot/internal/domain"
	"my-feed-bot/internal/infra/openai"
)

type fakeChat struct {
	reply string
	err   error
	calls int
	last  openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{Message: openai.ChatMessage{Role: "assistant", Content: f.reply}}}}, nil
}

type memCache struct {
	data map[string][]byte
}

func (m *memCache) Once(context.Context, string, time.Duration, func() error) error { return nil }

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.data[key] = value
	return nil
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.data[key]
	if !ok {
		return nil, errors.New("miss")
	}
	return v, nil
}

func TestShortenerUsesModel(t *testing.T) {
	chat := &fakeChat{reply: "  Коротко о главном.  "}
	s := NewShortener(NewLLM(chat, "", time.Second), nil, 0, zerolog.Nop())

	got := s.Shorten(context.Background(), "Длинный текст. Ещё текст.")
	if got != "Коротко о главном." {
		t.Fatalf("unexpected short text %q", got)
	}
	if chat.last.Model != DefaultModel || chat.last.Temperature != 0.2 {
		t.Fatalf("unexpected request %+v", chat.last)
	}
	if chat.last.Messages[0].Content != oneSentencePrompt {
		t.Fatalf("unexpected system prompt %q", chat.last.Messages[0].Content)
	}
}

func TestShortenerFallsBackOnError(t *testing.T) {
	chat := &fakeChat{err: errors.New("timeout")}
	s := NewShortener(NewLLM(chat, "m", time.Second), nil, 0, zerolog.Nop())

	got := s.Shorten(context.Background(), "Первое. Второе.")
	if got != "Первое." {
		t.Fatalf("expected first sentence, got %q", got)
	}
}

func TestShortenerWithoutModel(t *testing.T) {
	s := NewShortener(nil, nil, 0, zerolog.Nop())
	if got := s.Shorten(context.Background(), "Раз! Два."); got != "Раз!" {
		t.Fatalf("unexpected %q", got)
	}
	if got := s.Shorten(context.Background(), "   "); got != "" {
		t.Fatalf("empty text must stay empty, got %q", got)
	}
}

func TestShortenerCachesResult(t *testing.T) {
	chat := &fakeChat{reply: "Итог."}
	cache := &memCache{data: map[string][]byte{}}
	s := NewShortener(NewLLM(chat, "m", time.Second), cache, time.Hour, zerolog.Nop())

	for i := 0; i < 3; i++ {
		if got := s.Shorten(context.Background(), "Текст поста"); got != "Итог." {
			t.Fatalf("unexpected %q", got)
		}
	}
	if chat.calls != 1 {
		t.Fatalf("expected one model call, got %d", chat.calls)
	}
}

func digestEntries() []domain.DigestEntry {
	return []domain.DigestEntry{
		{Channel: "@news_one", Title: "Новости", Link: "https://t.me/news_one/10", Text: "Курс вырос. Подробности позже."},
		{Channel: "@tech_two", Title: "", Link: "https://t.me/tech_two/5", Text: "Вышел релиз Go. Много нового."},
		{Channel: "@empty_ch", Title: "Пусто", Link: "https://t.me/empty_ch/1", Text: "   "},
	}
}

func TestWriteDigestFromModel(t *testing.T) {
	chat := &fakeChat{reply: "```json\n[{\"summary\":\"Курс <вырос>\",\"sources\":[{\"title\":\"Новости\",\"link\":\"https://t.me/news_one/10\"},{\"title\":\"Фейк\",\"link\":\"https://t.me/fake/1\"}]}]\n```"}
	d := NewDigest(NewLLM(chat, "m", time.Second), time.Second, 12*time.Hour, zerolog.Nop())

	got, err := d.WriteDigest(context.Background(), digestEntries())
	if err != nil {
		t.Fatalf("WriteDigest: %v", err)
	}
	want := DigestHeader + "\n\n• Курс &lt;вырос&gt; — <a href=\"https://t.me/news_one/10\">Новости</a>"
	if got != want {
		t.Fatalf("unexpected digest:\n%s\nwant:\n%s", got, want)
	}
	prompt := chat.last.Messages[1].Content
	if !strings.Contains(prompt, "CHANNEL=@news_one TITLE=Новости LINK=https://t.me/news_one/10 TEXT=Курс вырос. Подробности позже.") {
		t.Fatalf("prompt misses post line: %s", prompt)
	}
	if strings.Contains(prompt, "@empty_ch") {
		t.Fatalf("prompt must skip empty posts: %s", prompt)
	}
	if !strings.Contains(prompt, "12 часов") {
		t.Fatalf("prompt must mention window: %s", prompt)
	}
}

func TestWriteDigestFallsBack(t *testing.T) {
	tests := []struct {
		name string
		chat *fakeChat
	}{
		{name: "error", chat: &fakeChat{err: errors.New("502")}},
		{name: "garbage", chat: &fakeChat{reply: "не могу"}},
		{name: "no sources", chat: &fakeChat{reply: "[{\"summary\":\"x\",\"sources\":[]}]"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDigest(NewLLM(tt.chat, "m", time.Second), time.Second, 0, zerolog.Nop())
			got, err := d.WriteDigest(context.Background(), digestEntries())
			if err != nil {
				t.Fatalf("WriteDigest: %v", err)
			}
			if got != LocalDigest(digestEntries()) {
				t.Fatalf("expected local digest, got %q", got)
			}
		})
	}
}

func TestLocalDigest(t *testing.T) {
	got := LocalDigest(digestEntries())
	want := DigestHeader + "\n\n" +
		"• Курс вырос. — <a href=\"https://t.me/news_one/10\">Новости</a>\n" +
		"• Вышел релиз Go. — <a href=\"https://t.me/tech_two/5\">@tech_two</a>"
	if got != want {
		t.Fatalf("unexpected local digest:\n%s", got)
	}
}

func TestWriteDigestEmpty(t *testing.T) {
	d := NewDigest(nil, 0, 0, zerolog.Nop())
	got, err := d.WriteDigest(context.Background(), nil)
	if err != nil || got != "" {
		t.Fatalf("expected empty digest, got %q, %v", got, err)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantLen int
		wantErr bool
	}{
		{name: "plain", in: `[{"summary":"a","sources":[]}]`, wantLen: 1},
		{name: "fenced", in: "```json\n[{\"summary\":\"a\"},{\"summary\":\"b\"}]\n```", wantLen: 2},
		{name: "with prose", in: "Вот сводка: [{\"summary\":\"a\"}] готово", wantLen: 1},
		{name: "empty", in: "", wantErr: true},
		{name: "object", in: `{"summary":"a"}`, wantErr: true},
		{name: "broken", in: "[{]", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := extractJSON(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrDigestFormat) {
					t.Fatalf("expected ErrDigestFormat, got %v", err)
				}
				return
			}
			if err != nil || len(items) != tt.wantLen {
				t.Fatalf("got %d items, err %v", len(items), err)
			}
		})
	}
}

func TestNormalizeDigestText(t *testing.T) {
	got := normalizeDigestText(strings.Repeat("а ", 1000))
	if n := len([]rune(got)); n != digestTextRunes {
		t.Fatalf("expected %d runes, got %d", digestTextRunes, n)
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("expected ellipsis suffix")
	}
}
