package digest

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"my-feed-bot/internal/domain"
)

func TestEntriesSkipsUnlinkedAndEmpty(t *testing.T) {
	posts := []domain.FeedPost{
		{Post: domain.Post{TGMessageID: 5, Text: "  Новость  "}, ChannelUsername: "@news", ChannelTitle: "Новости"},
		{Post: domain.Post{TGMessageID: 6, Text: " "}, ChannelUsername: "@news"},
		{Post: domain.Post{TGMessageID: 0, Text: "Без ссылки"}, ChannelUsername: "@news"},
	}
	want := []domain.DigestEntry{{Channel: "@news", Title: "Новости", Link: "https://t.me/news/5", Text: "Новость"}}
	if diff := cmp.Diff(want, Entries(posts)); diff != "" {
		t.Fatalf("пункты не совпали (-want +got):\n%s", diff)
	}
}

func TestFormatWindow(t *testing.T) {
	tests := []struct {
		window time.Duration
		want   string
	}{
		{12 * time.Hour, "12 ч"},
		{48 * time.Hour, "2 дн"},
		{30 * time.Minute, "30 мин"},
	}
	for _, tt := range tests {
		if got := formatWindow(tt.window); got != tt.want {
			t.Fatalf("formatWindow(%s) = %q, ожидали %q", tt.window, got, tt.want)
		}
	}
}
