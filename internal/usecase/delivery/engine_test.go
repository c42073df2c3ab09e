package delivery

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"my-feed-bot/internal/adapters/memstore"
	"my-feed-bot/internal/adapters/spam"
	"my-feed-bot/internal/domain"
)

var baseNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type sentMessage struct {
	ChatID int64
	Text   string
}

type fakeDispatcher struct {
	sent    []sentMessage
	failOn  string
	failFor int64
}

func (d *fakeDispatcher) Dispatch(_ context.Context, chatID int64, post domain.OutgoingPost) error {
	if d.failFor != 0 && chatID == d.failFor {
		return errors.New("bot was blocked by the user")
	}
	if d.failOn != "" && strings.Contains(post.Text, d.failOn) {
		return errors.New("Bad Request: message is too long")
	}
	d.sent = append(d.sent, sentMessage{ChatID: chatID, Text: post.Text})
	return nil
}

func (d *fakeDispatcher) texts() []string {
	out := make([]string, 0, len(d.sent))
	for _, m := range d.sent {
		_, body, _ := strings.Cut(m.Text, "\n\n")
		out = append(out, body)
	}
	return out
}

type fixture struct {
	store *memstore.Store
	bot   *fakeDispatcher
	ch    map[int64]domain.Channel
}

func newFixture(t *testing.T, users ...int64) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{store: memstore.New(), bot: &fakeDispatcher{}, ch: map[int64]domain.Channel{}}
	f.store.SetClock(func() time.Time { return baseNow })
	for _, id := range users {
		if _, _, err := f.store.EnsureUser(ctx, domain.UserProfile{TGUserID: id}); err != nil {
			t.Fatalf("EnsureUser: %v", err)
		}
		ch, _, err := f.store.AddChannel(ctx, id, "@news")
		if err != nil {
			t.Fatalf("AddChannel: %v", err)
		}
		f.ch[id] = ch
	}
	return f
}

func (f *fixture) post(t *testing.T, user, msgID int64, text string) {
	t.Helper()
	_, err := f.store.InsertPost(context.Background(), domain.Post{
		ChannelID:   f.ch[user].ID,
		TGMessageID: msgID,
		Text:        text,
		PublishedAt: baseNow.Add(-time.Hour).Add(time.Duration(msgID) * time.Minute),
	})
	if err != nil {
		t.Fatalf("InsertPost: %v", err)
	}
}

func (f *fixture) vip(t *testing.T, user int64, toggles ...domain.Toggle) {
	t.Helper()
	ctx := context.Background()
	until := baseNow.Add(24 * time.Hour)
	if err := f.store.SetVIPUntil(ctx, user, &until); err != nil {
		t.Fatalf("SetVIPUntil: %v", err)
	}
	for _, tg := range toggles {
		if err := f.store.SetToggle(ctx, user, tg, true); err != nil {
			t.Fatalf("SetToggle: %v", err)
		}
	}
}

func (f *fixture) engine(t *testing.T, cfg Config, shortener domain.Shortener, recipients RecipientSource) *Engine {
	t.Helper()
	e, err := NewEngine(f.store, f.store, recipients, NewPipeline(spam.New(), shortener, f.bot), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	e.now = func() time.Time { return baseNow }
	return e
}

func (f *fixture) unsent(t *testing.T, user int64) []int64 {
	t.Helper()
	posts, err := f.store.ListUnsentPosts(context.Background(), user, 100)
	if err != nil {
		t.Fatalf("ListUnsentPosts: %v", err)
	}
	ids := make([]int64, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.TGMessageID)
	}
	return ids
}

func TestNewEngineValidation(t *testing.T) {
	store := memstore.New()
	p := NewPipeline(nil, nil, &fakeDispatcher{})
	if _, err := NewEngine(store, store, nil, p, Config{Mode: ModeOwner}, zerolog.Nop()); !errors.Is(err, domain.ErrMissingRecipient) {
		t.Fatalf("expected ErrMissingRecipient, got %v", err)
	}
	if _, err := NewEngine(store, store, nil, p, Config{Mode: ModeBroadcast}, zerolog.Nop()); err == nil {
		t.Fatal("broadcast without recipients must fail")
	}
	if _, err := NewEngine(store, store, nil, p, Config{Mode: "weekly", OwnerTGUserID: 1}, zerolog.Nop()); err == nil {
		t.Fatal("unknown mode must fail")
	}
}

func TestDeliverInPublishedOrder(t *testing.T) {
	f := newFixture(t, 1)
	f.post(t, 1, 3, "third")
	f.post(t, 1, 1, "first")
	f.post(t, 1, 2, "second")

	e := f.engine(t, Config{OwnerTGUserID: 1}, nil, nil)
	stats, err := e.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if stats.Delivered != 3 {
		t.Fatalf("expected 3 delivered, got %+v", stats)
	}
	if diff := cmp.Diff([]string{"first", "second", "third"}, f.bot.texts()); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	if ids := f.unsent(t, 1); len(ids) != 0 {
		t.Fatalf("all posts must be marked sent, left %v", ids)
	}
}

func TestBatchSizeLimit(t *testing.T) {
	f := newFixture(t, 1)
	for i := int64(1); i <= 5; i++ {
		f.post(t, 1, i, "post")
	}
	e := f.engine(t, Config{OwnerTGUserID: 1, BatchSize: 2}, nil, nil)
	res, err := e.DeliverTo(context.Background(), mustUser(t, f.store, 1))
	if err != nil {
		t.Fatalf("DeliverTo: %v", err)
	}
	if res.Delivered != 2 {
		t.Fatalf("expected 2 delivered, got %+v", res)
	}
	if diff := cmp.Diff([]int64{3, 4, 5}, f.unsent(t, 1)); diff != "" {
		t.Fatalf("unsent mismatch (-want +got):\n%s", diff)
	}
}

func TestForwardingDisabled(t *testing.T) {
	f := newFixture(t, 1)
	f.post(t, 1, 1, "post")
	if err := f.store.SetToggle(context.Background(), 1, domain.ToggleForwarding, false); err != nil {
		t.Fatalf("SetToggle: %v", err)
	}
	e := f.engine(t, Config{OwnerTGUserID: 1}, nil, nil)
	if _, err := e.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(f.bot.sent) != 0 || len(f.unsent(t, 1)) != 1 {
		t.Fatalf("forwarding off must not deliver or mark, sent=%d", len(f.bot.sent))
	}
}

func TestSpamSkippedPostsMarkedSent(t *testing.T) {
	f := newFixture(t, 1)
	f.vip(t, 1, domain.ToggleSpamFilter)
	f.post(t, 1, 1, "Обычная новость")
	f.post(t, 1, 2, "Реклама: лучший курс по Go")
	f.post(t, 1, 3, "Ещё новость")
	f.post(t, 1, 4, "Используйте промокод GO10")

	e := f.engine(t, Config{OwnerTGUserID: 1}, nil, nil)
	res, err := e.DeliverTo(context.Background(), mustUser(t, f.store, 1))
	if err != nil {
		t.Fatalf("DeliverTo: %v", err)
	}
	if res.Delivered != 2 || res.SpamSkipped != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if diff := cmp.Diff([]string{"Обычная новость", "Ещё новость"}, f.bot.texts()); diff != "" {
		t.Fatalf("delivered mismatch (-want +got):\n%s", diff)
	}
	if ids := f.unsent(t, 1); len(ids) != 0 {
		t.Fatalf("ads must be marked sent, left %v", ids)
	}
}

func TestSpamFilterIgnoredWithoutVIP(t *testing.T) {
	f := newFixture(t, 1)
	if err := f.store.SetToggle(context.Background(), 1, domain.ToggleSpamFilter, true); err != nil {
		t.Fatalf("SetToggle: %v", err)
	}
	f.post(t, 1, 1, "Реклама")

	e := f.engine(t, Config{OwnerTGUserID: 1}, nil, nil)
	res, err := e.DeliverTo(context.Background(), mustUser(t, f.store, 1))
	if err != nil {
		t.Fatalf("DeliverTo: %v", err)
	}
	if res.Delivered != 1 || res.SpamSkipped != 0 {
		t.Fatalf("expired toggle must not filter, got %+v", res)
	}
}

func TestOverfetchFillsBatchAfterAds(t *testing.T) {
	f := newFixture(t, 1)
	f.vip(t, 1, domain.ToggleSpamFilter)
	f.post(t, 1, 1, "реклама")
	f.post(t, 1, 2, "реклама")
	f.post(t, 1, 3, "news one")
	f.post(t, 1, 4, "news two")
	f.post(t, 1, 5, "news three")

	e := f.engine(t, Config{OwnerTGUserID: 1, BatchSize: 2, Overfetch: 3}, nil, nil)
	res, err := e.DeliverTo(context.Background(), mustUser(t, f.store, 1))
	if err != nil {
		t.Fatalf("DeliverTo: %v", err)
	}
	if res.Delivered != 2 || res.SpamSkipped != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if diff := cmp.Diff([]int64{5}, f.unsent(t, 1)); diff != "" {
		t.Fatalf("unsent mismatch (-want +got):\n%s", diff)
	}
}

func TestShortFeed(t *testing.T) {
	f := newFixture(t, 1)
	f.vip(t, 1, domain.ToggleShortFeed)
	f.post(t, 1, 1, "Long story")

	sh := &upperShortener{}
	e := f.engine(t, Config{OwnerTGUserID: 1}, sh, nil)
	if _, err := e.DeliverTo(context.Background(), mustUser(t, f.store, 1)); err != nil {
		t.Fatalf("DeliverTo: %v", err)
	}
	if diff := cmp.Diff([]string{"short: Long story"}, f.bot.texts()); diff != "" {
		t.Fatalf("text mismatch (-want +got):\n%s", diff)
	}
}

func TestPartialFailureKeepsPostUnsent(t *testing.T) {
	f := newFixture(t, 1)
	f.post(t, 1, 1, "ok one")
	f.post(t, 1, 2, "broken")
	f.post(t, 1, 3, "ok two")
	f.bot.failOn = "broken"

	e := f.engine(t, Config{OwnerTGUserID: 1}, nil, nil)
	res, err := e.DeliverTo(context.Background(), mustUser(t, f.store, 1))
	if err != nil {
		t.Fatalf("DeliverTo: %v", err)
	}
	if res.Delivered != 2 || res.Failed != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if diff := cmp.Diff([]int64{2}, f.unsent(t, 1)); diff != "" {
		t.Fatalf("failed post must stay unsent (-want +got):\n%s", diff)
	}
}

type storeRecipients struct{ store *memstore.Store }

func (r storeRecipients) Recipients(ctx context.Context, group domain.BroadcastGroup) ([]domain.User, error) {
	return r.store.ListUsersByGroup(ctx, group, baseNow)
}

func TestBroadcastIsolatesRecipients(t *testing.T) {
	f := newFixture(t, 1, 2, 3)
	for _, u := range []int64{1, 2, 3} {
		f.post(t, u, 1, "hello")
	}
	f.bot.failFor = 2

	e := f.engine(t, Config{Mode: ModeBroadcast, Group: domain.GroupAll}, nil, storeRecipients{f.store})
	stats, err := e.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if stats.Recipients != 3 || stats.Delivered != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	var chats []int64
	for _, m := range f.bot.sent {
		chats = append(chats, m.ChatID)
	}
	if diff := cmp.Diff([]int64{1, 3}, chats); diff != "" {
		t.Fatalf("recipients mismatch (-want +got):\n%s", diff)
	}
	if ids := f.unsent(t, 2); len(ids) != 1 {
		t.Fatalf("failed recipient must keep unsent posts, got %v", ids)
	}
}

func TestBroadcastVIPGroup(t *testing.T) {
	f := newFixture(t, 1, 2)
	f.vip(t, 2)
	f.post(t, 1, 1, "free")
	f.post(t, 2, 1, "vip")

	e := f.engine(t, Config{Mode: ModeBroadcast, Group: domain.GroupVIP}, nil, storeRecipients{f.store})
	if _, err := e.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(f.bot.sent) != 1 || f.bot.sent[0].ChatID != 2 {
		t.Fatalf("only vip recipient expected, got %+v", f.bot.sent)
	}
}

func TestOwnerNotRegistered(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t, Config{OwnerTGUserID: 42}, nil, nil)
	stats, err := e.RunCycle(context.Background())
	if err != nil || stats.Recipients != 0 {
		t.Fatalf("unknown owner must be a no-op, got %+v, %v", stats, err)
	}
}

func mustUser(t *testing.T, store *memstore.Store, id int64) domain.User {
	t.Helper()
	u, err := store.GetUser(context.Background(), id)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	return u
}
