package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"my-feed-bot/internal/adapters/memstore"
	"my-feed-bot/internal/domain"
)

type fakeSource struct {
	titles     map[string]string
	messages   map[string][]domain.SourceMessage
	failFetch  map[string]bool
	failMedia  map[string]bool
	downloaded []string
	limits     []int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		titles:    map[string]string{},
		messages:  map[string][]domain.SourceMessage{},
		failFetch: map[string]bool{},
		failMedia: map[string]bool{},
	}
}

func (f *fakeSource) post(channel string, msgs ...domain.SourceMessage) {
	f.messages[channel] = append(f.messages[channel], msgs...)
}

func (f *fakeSource) ResolveChannel(_ context.Context, username string) (domain.SourceChannel, error) {
	return domain.SourceChannel{ID: 1, Username: username, Title: f.titles[username]}, nil
}

func (f *fakeSource) RecentMessages(_ context.Context, ch domain.SourceChannel, limit int) ([]domain.SourceMessage, error) {
	f.limits = append(f.limits, limit)
	if f.failFetch[ch.Username] {
		return nil, errors.New("FLOOD_WAIT")
	}
	msgs := append([]domain.SourceMessage(nil), f.messages[ch.Username]...)
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID > msgs[j].ID })
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (f *fakeSource) DownloadMedia(_ context.Context, media domain.SourceMedia, path string) error {
	if ref, _ := media.Ref.(string); f.failMedia[ref] {
		return errors.New("download failed")
	}
	f.downloaded = append(f.downloaded, path)
	return nil
}

type fakeMedia struct {
	removed []string
}

func (m *fakeMedia) Path(channel, name string) (string, error) {
	return filepath.Join("/media", strings.TrimPrefix(channel, "@"), name), nil
}

func (m *fakeMedia) Remove(path string) error {
	m.removed = append(m.removed, path)
	return nil
}

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func msg(id int64, text string) domain.SourceMessage {
	return domain.SourceMessage{ID: id, Text: text, Date: t0.Add(time.Duration(id) * time.Minute)}
}

func setup(t *testing.T, handles ...string) (*Engine, *memstore.Store, *fakeSource, *fakeMedia, map[string]domain.Channel) {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	if _, _, err := store.EnsureUser(ctx, domain.UserProfile{TGUserID: 1}); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	chans := map[string]domain.Channel{}
	for _, h := range handles {
		ch, _, err := store.AddChannel(ctx, 1, h)
		if err != nil {
			t.Fatalf("AddChannel: %v", err)
		}
		chans[h] = ch
	}
	src := newFakeSource()
	media := &fakeMedia{}
	return NewEngine(store, src, media, Config{OwnerTGUserID: 1}, zerolog.Nop()), store, src, media, chans
}

func cursorOf(t *testing.T, store *memstore.Store, handle string) int64 {
	t.Helper()
	c, err := store.GetCursor(context.Background(), 1, handle)
	if err != nil || c == nil {
		t.Fatalf("cursor for %s: %v, %v", handle, c, err)
	}
	return *c
}

func TestBaselineDoesNotBackfill(t *testing.T) {
	engine, store, src, _, chans := setup(t, "@news_channel")
	src.post("@news_channel", msg(1, "a"), msg(2, "b"), msg(3, "c"), msg(4, "d"), msg(5, "e"))

	res, err := engine.CollectChannel(context.Background(), chans["@news_channel"])
	if err != nil {
		t.Fatalf("CollectChannel: %v", err)
	}
	if !res.Baseline || res.Cursor != 5 || res.Inserted != 0 {
		t.Fatalf("unexpected baseline result %+v", res)
	}
	if posts := store.Posts(chans["@news_channel"].ID); len(posts) != 0 {
		t.Fatalf("baseline must not ingest posts, got %d", len(posts))
	}
	if got := cursorOf(t, store, "@news_channel"); got != 5 {
		t.Fatalf("expected cursor 5, got %d", got)
	}
}

func TestEmptyChannelKeepsNoCursor(t *testing.T) {
	engine, store, _, _, chans := setup(t, "@empty_channel")
	if _, err := engine.CollectChannel(context.Background(), chans["@empty_channel"]); err != nil {
		t.Fatalf("CollectChannel: %v", err)
	}
	if c, _ := store.GetCursor(context.Background(), 1, "@empty_channel"); c != nil {
		t.Fatalf("empty channel must stay without cursor, got %d", *c)
	}
}

func TestIngestNewMessagesIdempotent(t *testing.T) {
	engine, store, src, _, chans := setup(t, "@news_channel")
	ctx := context.Background()
	ch := chans["@news_channel"]
	src.titles["@news_channel"] = "Новости"
	src.post("@news_channel", msg(100, "old"))
	if _, err := engine.CollectChannel(ctx, ch); err != nil {
		t.Fatalf("baseline: %v", err)
	}

	src.post("@news_channel", msg(101, "  Hello  "), msg(102, "World"))
	res, err := engine.CollectChannel(ctx, ch)
	if err != nil {
		t.Fatalf("CollectChannel: %v", err)
	}
	if res.New != 2 || res.Inserted != 2 || res.Cursor != 102 {
		t.Fatalf("unexpected result %+v", res)
	}

	// Курсор откатили вручную: окно пересекается с уже сохранёнными постами.
	if err := store.SetCursor(ctx, 1, "@news_channel", 100); err != nil {
		t.Fatalf("SetCursor: %v", err)
	}
	res, err = engine.CollectChannel(ctx, ch)
	if err != nil {
		t.Fatalf("CollectChannel: %v", err)
	}
	if res.New != 2 || res.Inserted != 0 {
		t.Fatalf("overlap must be absorbed, got %+v", res)
	}

	posts := store.Posts(ch.ID)
	var got []string
	for _, p := range posts {
		got = append(got, fmt.Sprintf("%d:%s", p.TGMessageID, p.Text))
	}
	if diff := cmp.Diff([]string{"101:Hello", "102:World"}, got); diff != "" {
		t.Fatalf("posts mismatch (-want +got):\n%s", diff)
	}
	if !posts[0].PublishedAt.Equal(t0.Add(101 * time.Minute)) {
		t.Fatalf("unexpected published_at %v", posts[0].PublishedAt)
	}
	chs, _ := store.ListChannels(ctx, 1)
	if chs[0].Title != "Новости" {
		t.Fatalf("title must be updated, got %q", chs[0].Title)
	}
}

func TestCursorEqualsMaxObserved(t *testing.T) {
	engine, store, src, _, chans := setup(t, "@news_channel")
	ctx := context.Background()
	ch := chans["@news_channel"]
	src.post("@news_channel", msg(10, "x"))
	_, _ = engine.CollectChannel(ctx, ch)

	for i := int64(11); i <= 40; i += 3 {
		src.post("@news_channel", msg(i, "a"), msg(i+1, "b"), msg(i+2, "c"))
		if _, err := engine.CollectChannel(ctx, ch); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}
	if got := cursorOf(t, store, "@news_channel"); got != 40 {
		t.Fatalf("expected cursor 40, got %d", got)
	}
	if n := len(store.Posts(ch.ID)); n != 30 {
		t.Fatalf("expected 30 posts, got %d", n)
	}
}

func TestMediaGroupMerged(t *testing.T) {
	engine, store, src, media, chans := setup(t, "@media_channel")
	ctx := context.Background()
	ch := chans["@media_channel"]
	src.post("@media_channel", msg(1, ""))
	_, _ = engine.CollectChannel(ctx, ch)

	photo := func(id int64, text, ref string) domain.SourceMessage {
		m := msg(id, text)
		m.GroupID = 777
		m.Media = &domain.SourceMedia{Photo: true, Ext: ".jpg", Ref: ref}
		return m
	}
	src.failMedia["broken"] = true
	src.post("@media_channel", photo(4, "", "c"), photo(2, "Подпись", "a"), photo(3, "", "broken"))

	res, err := engine.CollectChannel(ctx, ch)
	if err != nil {
		t.Fatalf("CollectChannel: %v", err)
	}
	if res.Inserted != 1 || res.Cursor != 4 {
		t.Fatalf("unexpected result %+v", res)
	}
	posts := store.Posts(ch.ID)
	if len(posts) != 1 {
		t.Fatalf("expected one merged post, got %d", len(posts))
	}
	p := posts[0]
	if p.TGMessageID != 4 || p.Text != "Подпись" || p.MediaType != domain.MediaMediaGroup || p.MediaGroupID == nil || *p.MediaGroupID != 777 {
		t.Fatalf("unexpected group post %+v", p)
	}
	want := []string{"/media/media_channel/2_g777_1.jpg", "/media/media_channel/4_g777_3.jpg"}
	if diff := cmp.Diff(want, p.MediaPaths); diff != "" {
		t.Fatalf("paths mismatch (-want +got):\n%s", diff)
	}
	if len(media.removed) != 1 || media.removed[0] != "/media/media_channel/3_g777_2.jpg" {
		t.Fatalf("failed download must be cleaned up, got %v", media.removed)
	}
}

func TestMediaGroupWithoutFilesSkipped(t *testing.T) {
	engine, store, src, _, chans := setup(t, "@media_channel")
	ctx := context.Background()
	ch := chans["@media_channel"]
	src.post("@media_channel", msg(1, ""))
	_, _ = engine.CollectChannel(ctx, ch)

	m := msg(2, "caption")
	m.GroupID = 9
	m.Media = &domain.SourceMedia{Video: true, Ext: ".mp4", Ref: "broken"}
	src.failMedia["broken"] = true
	src.post("@media_channel", m, msg(3, "text"))

	res, err := engine.CollectChannel(ctx, ch)
	if err != nil {
		t.Fatalf("CollectChannel: %v", err)
	}
	if res.Inserted != 1 || res.Cursor != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
	if posts := store.Posts(ch.ID); len(posts) != 1 || posts[0].TGMessageID != 3 {
		t.Fatalf("group must be skipped, got %+v", posts)
	}
}

func TestSingleMediaPriority(t *testing.T) {
	engine, store, src, _, chans := setup(t, "@media_channel")
	ctx := context.Background()
	ch := chans["@media_channel"]
	src.post("@media_channel", msg(1, ""))
	_, _ = engine.CollectChannel(ctx, ch)

	withMedia := func(id int64, media domain.SourceMedia) domain.SourceMessage {
		m := msg(id, "")
		m.Media = &media
		return m
	}
	src.post("@media_channel",
		withMedia(2, domain.SourceMedia{Photo: true, Document: true, Ext: ".jpg"}),
		withMedia(3, domain.SourceMedia{Video: true, Document: true, Ext: ".mp4"}),
		withMedia(4, domain.SourceMedia{Voice: true, Document: true, Ext: ".ogg"}),
		withMedia(5, domain.SourceMedia{Document: true, Ext: ".pdf"}),
		withMedia(6, domain.SourceMedia{Photo: true, Ext: ".jpg", Ref: "broken"}),
	)
	src.failMedia["broken"] = true

	if _, err := engine.CollectChannel(ctx, ch); err != nil {
		t.Fatalf("CollectChannel: %v", err)
	}
	var got []string
	for _, p := range store.Posts(ch.ID) {
		got = append(got, fmt.Sprintf("%d:%s:%v", p.TGMessageID, p.MediaType, p.MediaPaths))
	}
	want := []string{
		"2:photo:[/media/media_channel/2_photo.jpg]",
		"3:video:[/media/media_channel/3_video.mp4]",
		"4:voice:[/media/media_channel/4_voice.ogg]",
		"5:document:[/media/media_channel/5_doc.pdf]",
		"6:photo:[]",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("media mismatch (-want +got):\n%s", diff)
	}
}

func TestRunCycleIsolatesFailures(t *testing.T) {
	engine, store, src, _, _ := setup(t, "@bad_channel", "@good_channel")
	ctx := context.Background()
	src.failFetch["@bad_channel"] = true
	src.post("@good_channel", msg(5, "x"))

	stats, err := engine.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if stats.Channels != 2 || stats.Failed != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if got := cursorOf(t, store, "@good_channel"); got != 5 {
		t.Fatalf("good channel must be baselined, got %d", got)
	}
	if c, _ := store.GetCursor(ctx, 1, "@bad_channel"); c != nil {
		t.Fatalf("failed channel must keep its cursor")
	}
	for _, l := range src.limits {
		if l != DefaultFetchLimit {
			t.Fatalf("expected fetch limit %d, got %d", DefaultFetchLimit, l)
		}
	}
}
