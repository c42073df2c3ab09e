package channels

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"my-feed-bot/internal/adapters/memstore"
	"my-feed-bot/internal/domain"
	"my-feed-bot/internal/usecase/entitlement"
)

func newService(limits domain.TierLimits) (*Service, *entitlement.Service, *memstore.Store) {
	store := memstore.New()
	ent := entitlement.NewService(store, store, limits, 0, zerolog.Nop())
	return NewService(store, store, ent, store, zerolog.Nop()), ent, store
}

func TestExtractHandles(t *testing.T) {
	text := "Смотри @Golang_News и https://t.me/rust_lang, ещё telegram.me/golang_news и t.me/abc (короткий) @python_ru"
	got := ExtractHandles(text)
	want := []string{"@golang_news", "@python_ru", "@rust_lang"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ExtractHandles mismatch (-want +got):\n%s", diff)
	}
	if got := ExtractHandles("нет каналов"); len(got) != 0 {
		t.Fatalf("expected nothing, got %v", got)
	}
}

func TestAddCreatesUserLazily(t *testing.T) {
	svc, _, store := newService(domain.DefaultTierLimits())
	ctx := context.Background()

	res, err := svc.Add(ctx, 77, "@News_Channel")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !res.Created || res.Channel.Username != "@news_channel" {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := store.GetUser(ctx, 77); err != nil {
		t.Fatalf("user must be created: %v", err)
	}

	again, err := svc.Add(ctx, 77, "@news_channel")
	if err != nil {
		t.Fatalf("Add again: %v", err)
	}
	if again.Created || again.Channel.ID != res.Channel.ID {
		t.Fatalf("second add must be a no-op, got %+v", again)
	}
}

func TestAddRejectsInvalidHandle(t *testing.T) {
	svc, _, _ := newService(domain.DefaultTierLimits())
	for _, raw := range []string{"news_channel", "@abc", "", "@bad-name"} {
		if _, err := svc.Add(context.Background(), 1, raw); !errors.Is(err, domain.ErrInvalidUsername) {
			t.Fatalf("Add(%q): expected ErrInvalidUsername, got %v", raw, err)
		}
	}
}

func TestAddRespectsTierLimit(t *testing.T) {
	svc, ent, store := newService(domain.TierLimits{Free: 2, VIP: 3})
	ctx := context.Background()
	for _, h := range []string{"@channel_a", "@channel_b"} {
		if _, err := svc.Add(ctx, 1, h); err != nil {
			t.Fatalf("Add(%s): %v", h, err)
		}
	}

	_, err := svc.Add(ctx, 1, "@channel_c")
	var limitErr *domain.ChannelLimitError
	if !errors.As(err, &limitErr) || limitErr.Limit != 2 || limitErr.Tier != domain.TierFree {
		t.Fatalf("expected free limit error, got %v", err)
	}
	if n, _ := store.CountChannels(ctx, 1); n != 2 {
		t.Fatalf("rejected add must not create a channel, count=%d", n)
	}
	if _, err := svc.Add(ctx, 1, "@channel_a"); err != nil {
		t.Fatalf("re-adding existing channel at limit must succeed: %v", err)
	}

	if _, err := ent.Extend(ctx, 1, 30, "test"); err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if _, err := svc.Add(ctx, 1, "@channel_c"); err != nil {
		t.Fatalf("vip add: %v", err)
	}
	if _, err := svc.Add(ctx, 1, "@channel_d"); !errors.Is(err, domain.ErrChannelLimit) {
		t.Fatalf("expected vip limit, got %v", err)
	}
}

func TestAddFromText(t *testing.T) {
	svc, _, _ := newService(domain.TierLimits{Free: 2, VIP: 10})
	ctx := context.Background()
	if _, err := svc.Add(ctx, 1, "@channel_a"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	res, err := svc.AddFromText(ctx, 1, "@channel_a t.me/channel_b https://t.me/channel_c")
	if err != nil {
		t.Fatalf("AddFromText: %v", err)
	}
	want := BulkResult{
		Added:        []string{"@channel_b"},
		Already:      []string{"@channel_a"},
		LimitReached: []string{"@channel_c"},
		Limit:        2,
		Tier:         domain.TierFree,
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("AddFromText mismatch (-want +got):\n%s", diff)
	}

	if _, err := svc.AddFromText(ctx, 1, "просто текст"); !errors.Is(err, domain.ErrInvalidUsername) {
		t.Fatalf("expected ErrInvalidUsername, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	svc, _, store := newService(domain.DefaultTierLimits())
	ctx := context.Background()

	if err := svc.Delete(ctx, 1, "@channel_a"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := svc.Add(ctx, 1, "@channel_a"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := svc.Add(ctx, 1, "@channel_b"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := svc.Delete(ctx, 1, "@channel_x"); !errors.Is(err, domain.ErrChannelNotFound) {
		t.Fatalf("expected ErrChannelNotFound, got %v", err)
	}
	if err := svc.Delete(ctx, 1, "@CHANNEL_A"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	n, err := svc.DeleteAll(ctx, 1)
	if err != nil || n != 1 {
		t.Fatalf("DeleteAll = %d, %v", n, err)
	}
	if left, _ := store.CountChannels(ctx, 1); left != 0 {
		t.Fatalf("expected no channels, got %d", left)
	}
}
