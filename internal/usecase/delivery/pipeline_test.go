package delivery

import (
	"context"
	"testing"

	"my-feed-bot/internal/domain"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		post domain.FeedPost
		text string
		want string
	}{
		{
			name: "title with link",
			post: domain.FeedPost{Post: domain.Post{TGMessageID: 101}, ChannelUsername: "@news", ChannelTitle: "Новости & факты"},
			text: "Hello <world>",
			want: "📰 <a href=\"https://t.me/news/101\">Новости &amp; факты</a>\n\nHello &lt;world&gt;",
		},
		{
			name: "handle without title",
			post: domain.FeedPost{Post: domain.Post{TGMessageID: 7}, ChannelUsername: "@news"},
			text: "Hello",
			want: "📰 <a href=\"https://t.me/news/7\">@news</a>\n\nHello",
		},
		{
			name: "no message id",
			post: domain.FeedPost{ChannelUsername: "@news"},
			text: "",
			want: "📰 <b>@news</b>",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Render(tt.post, tt.text)
			if got.Text != tt.want {
				t.Fatalf("Render() = %q, want %q", got.Text, tt.want)
			}
		})
	}
}

func TestRenderKeepsMedia(t *testing.T) {
	post := domain.FeedPost{Post: domain.Post{TGMessageID: 1, MediaType: domain.MediaPhoto, MediaPaths: []string{"/m/1_photo.jpg"}}, ChannelUsername: "@news"}
	out := Render(post, "x")
	if out.MediaType != domain.MediaPhoto || len(out.Paths) != 1 || out.Paths[0] != "/m/1_photo.jpg" {
		t.Fatalf("unexpected media %+v", out)
	}
}

func TestOptionsFor(t *testing.T) {
	user := domain.User{SpamFilterOn: true, ShortFeedOn: true}
	if got := OptionsFor(user, true); !got.SpamFilter || !got.ShortFeed {
		t.Fatalf("vip user must keep toggles, got %+v", got)
	}
	if got := OptionsFor(user, false); got.SpamFilter || got.ShortFeed {
		t.Fatalf("expired vip must disable toggles, got %+v", got)
	}
}

type upperShortener struct{ calls int }

func (s *upperShortener) Shorten(_ context.Context, text string) string {
	s.calls++
	return "short: " + text
}

func TestSummarize(t *testing.T) {
	sh := &upperShortener{}
	p := NewPipeline(nil, sh, nil)
	post := domain.FeedPost{Post: domain.Post{Text: "  Long text. More.  "}}

	if got := p.Summarize(context.Background(), post, Options{}); got != "Long text. More." {
		t.Fatalf("short feed off must keep text, got %q", got)
	}
	if got := p.Summarize(context.Background(), post, Options{ShortFeed: true}); got != "short: Long text. More." {
		t.Fatalf("unexpected summary %q", got)
	}
	if got := p.Summarize(context.Background(), domain.FeedPost{}, Options{ShortFeed: true}); got != "" || sh.calls != 1 {
		t.Fatalf("empty text must not be summarized, got %q after %d calls", got, sh.calls)
	}
}
