package apiclient

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"my-feed-bot/internal/adapters/httpapi"
	"my-feed-bot/internal/adapters/memstore"
	"my-feed-bot/internal/domain"
	"my-feed-bot/internal/usecase/channels"
	"my-feed-bot/internal/usecase/entitlement"
)

func newClient(t *testing.T, token string) (*Client, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	ent := entitlement.NewService(store, store, domain.DefaultTierLimits(), 0, zerolog.Nop())
	h := httpapi.New(httpapi.Deps{
		Store:       store,
		Channels:    channels.NewService(store, store, ent, store, zerolog.Nop()),
		Entitlement: ent,
		Token:       "secret",
		Log:         zerolog.Nop(),
	})
	r := chi.NewRouter()
	h.Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	client, err := New(srv.URL, WithToken(token), WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client, store
}

func TestClientRoundTrip(t *testing.T) {
	client, store := newClient(t, "secret")
	ctx := context.Background()
	if _, _, err := store.EnsureUser(ctx, domain.UserProfile{TGUserID: 1}); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	ch, _, err := store.AddChannel(ctx, 1, "@go_news")
	if err != nil {
		t.Fatalf("AddChannel: %v", err)
	}

	chs, err := client.ListCollectChannels(ctx, 0)
	if err != nil {
		t.Fatalf("ListCollectChannels: %v", err)
	}
	if len(chs) != 1 || chs[0].Username != "@go_news" || chs[0].ID != ch.ID {
		t.Fatalf("unexpected channels %+v", chs)
	}

	cursor, err := client.GetCursor(ctx, 1, "@go_news")
	if err != nil || cursor != nil {
		t.Fatalf("fresh cursor: %v, %v", cursor, err)
	}
	if err := client.SetCursor(ctx, 1, "@go_news", 42); err != nil {
		t.Fatalf("SetCursor: %v", err)
	}
	cursor, err = client.GetCursor(ctx, 1, "@go_news")
	if err != nil || cursor == nil || *cursor != 42 {
		t.Fatalf("cursor must be 42: %v, %v", cursor, err)
	}

	if err := client.SetChannelTitle(ctx, 1, "@go_news", "Go News"); err != nil {
		t.Fatalf("SetChannelTitle: %v", err)
	}

	post := domain.Post{
		ChannelID:   ch.ID,
		TGMessageID: 43,
		Text:        "hello",
		MediaType:   domain.MediaPhoto,
		MediaPaths:  []string{"/media/go_news/43_photo.jpg"},
		PublishedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	inserted, err := client.InsertPost(ctx, post)
	if err != nil || !inserted {
		t.Fatalf("InsertPost: %v, %v", inserted, err)
	}
	inserted, err = client.InsertPost(ctx, post)
	if err != nil || inserted {
		t.Fatalf("duplicate InsertPost: %v, %v", inserted, err)
	}
	stored := store.Posts(ch.ID)
	if len(stored) != 1 || stored[0].MediaType != domain.MediaPhoto || stored[0].Text != "hello" {
		t.Fatalf("unexpected stored posts %+v", stored)
	}
}

func TestClientMapsKnownErrors(t *testing.T) {
	client, store := newClient(t, "secret")
	ctx := context.Background()

	if err := client.SetCursor(ctx, 9, "@go_news", 1); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, _, err := store.EnsureUser(ctx, domain.UserProfile{TGUserID: 9}); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if err := client.SetCursor(ctx, 9, "@go_news", 1); !errors.Is(err, domain.ErrChannelNotFound) {
		t.Fatalf("expected ErrChannelNotFound, got %v", err)
	}
	if err := client.SetCursor(ctx, 9, "go_news", 1); !errors.Is(err, domain.ErrInvalidUsername) {
		t.Fatalf("expected ErrInvalidUsername, got %v", err)
	}
}

func TestClientRejectedToken(t *testing.T) {
	client, _ := newClient(t, "wrong")
	_, err := client.ListCollectChannels(context.Background(), 0)
	if !errors.Is(err, ErrAPI) {
		t.Fatalf("expected ErrAPI, got %v", err)
	}
}
