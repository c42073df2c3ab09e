package entitlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"my-feed-bot/internal/adapters/memstore"
	"my-feed-bot/internal/domain"
)

var baseNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T, trialDays int) (*Service, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	store.SetClock(func() time.Time { return baseNow })
	svc := NewService(store, store, domain.DefaultTierLimits(), trialDays, zerolog.Nop())
	svc.now = func() time.Time { return baseNow }
	return svc, store
}

func TestFirstStartGrantsTrialOnce(t *testing.T) {
	svc, store := newService(t, 7)
	ctx := context.Background()

	first, err := svc.FirstStart(ctx, domain.UserProfile{TGUserID: 10, Username: "alice"})
	if err != nil {
		t.Fatalf("FirstStart: %v", err)
	}
	if !first.Created || !first.TrialGranted || !first.ShowWelcome {
		t.Fatalf("unexpected first result %+v", first)
	}
	want := baseNow.AddDate(0, 0, 7)
	if first.User.VIPUntil == nil || !first.User.VIPUntil.Equal(want) {
		t.Fatalf("trial must end at %v, got %v", want, first.User.VIPUntil)
	}

	second, err := svc.FirstStart(ctx, domain.UserProfile{TGUserID: 10})
	if err != nil {
		t.Fatalf("FirstStart: %v", err)
	}
	if second.Created || second.TrialGranted || second.ShowWelcome {
		t.Fatalf("second start must be a no-op, got %+v", second)
	}
	user, _ := store.GetUser(ctx, 10)
	if !user.VIPUntil.Equal(want) {
		t.Fatalf("trial must not stack, got %v", user.VIPUntil)
	}

	var trials int
	for _, e := range store.Events() {
		if e.Event == domain.BusinessMetricEventTrialGranted {
			trials++
		}
	}
	if trials != 1 {
		t.Fatalf("expected one trial event, got %d", trials)
	}
}

func TestFirstStartWithoutTrial(t *testing.T) {
	svc, _ := newService(t, 0)
	res, err := svc.FirstStart(context.Background(), domain.UserProfile{TGUserID: 1})
	if err != nil {
		t.Fatalf("FirstStart: %v", err)
	}
	if res.TrialGranted || res.User.VIPUntil != nil {
		t.Fatalf("trial disabled, got %+v", res)
	}
}

func TestExtendStacks(t *testing.T) {
	svc, store := newService(t, 0)
	ctx := context.Background()
	_, _, _ = store.EnsureUser(ctx, domain.UserProfile{TGUserID: 5})

	if _, err := svc.Extend(ctx, 5, 7, "test"); err != nil {
		t.Fatalf("Extend: %v", err)
	}
	until, err := svc.Extend(ctx, 5, 30, "test")
	if err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if want := baseNow.AddDate(0, 0, 37); !until.Equal(want) {
		t.Fatalf("expected %v, got %v", want, until)
	}
}

func TestExtendFromExpired(t *testing.T) {
	svc, store := newService(t, 0)
	ctx := context.Background()
	_, _, _ = store.EnsureUser(ctx, domain.UserProfile{TGUserID: 5})
	stale := baseNow.AddDate(0, -2, 0)
	_ = store.SetVIPUntil(ctx, 5, &stale)

	until, err := svc.Extend(ctx, 5, 30, "test")
	if err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if want := baseNow.AddDate(0, 0, 30); !until.Equal(want) {
		t.Fatalf("expected window from now %v, got %v", want, until)
	}
}

func TestExtendErrors(t *testing.T) {
	svc, _ := newService(t, 0)
	if _, err := svc.Extend(context.Background(), 5, 0, "test"); !errors.Is(err, domain.ErrInvalidDays) {
		t.Fatalf("expected ErrInvalidDays, got %v", err)
	}
	if _, err := svc.Extend(context.Background(), 404, 3, "test"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestGrantForeverAndRevoke(t *testing.T) {
	svc, store := newService(t, 0)
	ctx := context.Background()
	_, _, _ = store.EnsureUser(ctx, domain.UserProfile{TGUserID: 5})

	until, err := svc.GrantForever(ctx, 5, "admin")
	if err != nil {
		t.Fatalf("GrantForever: %v", err)
	}
	if !until.Equal(domain.VIPForever) {
		t.Fatalf("unexpected forever date %v", until)
	}
	if err := svc.Revoke(ctx, 5); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	user, _ := store.GetUser(ctx, 5)
	if user.VIPUntil != nil || user.Tier(baseNow) != domain.TierFree {
		t.Fatalf("revoke must clear vip_until, got %v", user.VIPUntil)
	}
}

func TestCheckChannelLimit(t *testing.T) {
	svc, _ := newService(t, 0)
	limits := domain.DefaultTierLimits()
	future := baseNow.Add(time.Hour)

	free := domain.User{TGUserID: 1}
	if err := svc.CheckChannelLimit(free, limits.Free-1); err != nil {
		t.Fatalf("below limit must pass: %v", err)
	}
	err := svc.CheckChannelLimit(free, limits.Free)
	var limitErr *domain.ChannelLimitError
	if !errors.As(err, &limitErr) || !errors.Is(err, domain.ErrChannelLimit) {
		t.Fatalf("expected ChannelLimitError, got %v", err)
	}
	if limitErr.Limit != limits.Free || limitErr.Tier != domain.TierFree {
		t.Fatalf("unexpected limit error %+v", limitErr)
	}

	vip := domain.User{TGUserID: 1, VIPUntil: &future}
	if err := svc.CheckChannelLimit(vip, limits.Free); err != nil {
		t.Fatalf("vip must pass free limit: %v", err)
	}
	if err := svc.CheckChannelLimit(vip, limits.VIP); !errors.Is(err, domain.ErrChannelLimit) {
		t.Fatalf("vip limit must apply, got %v", err)
	}
}

func TestSetToggleRequiresVIP(t *testing.T) {
	svc, store := newService(t, 0)
	ctx := context.Background()
	_, _, _ = store.EnsureUser(ctx, domain.UserProfile{TGUserID: 5})

	if err := svc.SetToggle(ctx, 5, domain.ToggleSpamFilter, true); !errors.Is(err, domain.ErrVIPRequired) {
		t.Fatalf("expected ErrVIPRequired, got %v", err)
	}
	if err := svc.SetToggle(ctx, 5, domain.ToggleShortFeed, false); err != nil {
		t.Fatalf("disabling must not require VIP: %v", err)
	}
	if err := svc.SetToggle(ctx, 5, domain.ToggleForwarding, false); err != nil {
		t.Fatalf("forwarding is free: %v", err)
	}
	if _, err := svc.Extend(ctx, 5, 1, "test"); err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if err := svc.SetToggle(ctx, 5, domain.ToggleSpamFilter, true); err != nil {
		t.Fatalf("vip toggle: %v", err)
	}
	user, _ := store.GetUser(ctx, 5)
	if user.ForwardingOn || !user.SpamFilterOn {
		t.Fatalf("unexpected toggles %+v", user)
	}
	if err := svc.SetToggle(ctx, 5, domain.Toggle("bogus"), true); err == nil {
		t.Fatalf("unknown toggle must fail")
	}
}

func TestRecipients(t *testing.T) {
	svc, store := newService(t, 0)
	ctx := context.Background()
	for _, id := range []int64{1, 2, 3} {
		_, _, _ = store.EnsureUser(ctx, domain.UserProfile{TGUserID: id})
	}
	_, _ = svc.Extend(ctx, 2, 5, "test")

	tests := []struct {
		group domain.BroadcastGroup
		want  []int64
	}{
		{group: domain.GroupAll, want: []int64{1, 2, 3}},
		{group: domain.GroupVIP, want: []int64{2}},
		{group: domain.GroupFree, want: []int64{1, 3}},
		{group: domain.GroupActive, want: nil},
	}
	for _, tt := range tests {
		users, err := svc.Recipients(ctx, tt.group)
		if err != nil {
			t.Fatalf("Recipients(%s): %v", tt.group, err)
		}
		if len(users) != len(tt.want) {
			t.Fatalf("%s: expected %v, got %d users", tt.group, tt.want, len(users))
		}
		for i, u := range users {
			if u.TGUserID != tt.want[i] {
				t.Fatalf("%s: expected %v, got %d at %d", tt.group, tt.want, u.TGUserID, i)
			}
		}
	}
}
