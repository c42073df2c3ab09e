// Package memstore хранит пользователей, каналы, посты и платежи в памяти.
// Соблюдает те же ограничения уникальности, что и схема Postgres.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"my-feed-bot/internal/domain"
)

// Store реализует потокобезопасное хранилище в памяти.
type Store struct {
	mu       sync.Mutex
	now      func() time.Time
	nextID   int64
	users    map[int64]*domain.User
	channels map[int64]*domain.Channel
	posts    map[int64]*domain.Post
	sentAt   map[int64]time.Time
	payments map[string]*domain.PaymentIntent
	events   []domain.BusinessMetric
}

var (
	_ domain.UserRepo           = (*Store)(nil)
	_ domain.ChannelRepo        = (*Store)(nil)
	_ domain.IngestStore        = (*Store)(nil)
	_ domain.FeedRepo           = (*Store)(nil)
	_ domain.PostRepo           = (*Store)(nil)
	_ domain.PaymentRepo        = (*Store)(nil)
	_ domain.BusinessMetricRepo = (*Store)(nil)
)

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{
		now:      func() time.Time { return time.Now().UTC() },
		users:    map[int64]*domain.User{},
		channels: map[int64]*domain.Channel{},
		posts:    map[int64]*domain.Post{},
		sentAt:   map[int64]time.Time{},
		payments: map[string]*domain.PaymentIntent{},
	}
}

// SetClock подменяет источник времени.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// EnsureUser создаёт пользователя или обновляет непустые поля профиля.
func (s *Store) EnsureUser(_ context.Context, p domain.UserProfile) (domain.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if u, ok := s.users[p.TGUserID]; ok {
		if p.Username != "" {
			u.Username = p.Username
		}
		if p.FirstName != "" {
			u.FirstName = p.FirstName
		}
		if p.LastName != "" {
			u.LastName = p.LastName
		}
		u.UpdatedAt = now
		return *u, false, nil
	}
	u := &domain.User{
		ID:           s.id(),
		TGUserID:     p.TGUserID,
		Username:     p.Username,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		ForwardingOn: true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.users[p.TGUserID] = u
	return *u, true, nil
}

// GetUser возвращает пользователя.
func (s *Store) GetUser(_ context.Context, tgUserID int64) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[tgUserID]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return *u, nil
}

// GetUserByUsername ищет пользователя по username без учёта регистра и @.
func (s *Store) GetUserByUsername(_ context.Context, username string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := strings.ToLower(domain.TrimHandle(strings.TrimSpace(username)))
	for _, u := range s.users {
		if strings.ToLower(u.Username) == name {
			return *u, nil
		}
	}
	return domain.User{}, domain.ErrUserNotFound
}

// SetToggle переключает функцию пользователя.
func (s *Store) SetToggle(_ context.Context, tgUserID int64, toggle domain.Toggle, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[tgUserID]
	if !ok {
		return domain.ErrUserNotFound
	}
	switch toggle {
	case domain.ToggleForwarding:
		u.ForwardingOn = on
	case domain.ToggleSpamFilter:
		u.SpamFilterOn = on
	case domain.ToggleShortFeed:
		u.ShortFeedOn = on
	}
	return nil
}

// SetVIPUntil сохраняет окончание VIP; nil снимает VIP.
func (s *Store) SetVIPUntil(_ context.Context, tgUserID int64, until *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[tgUserID]
	if !ok {
		return domain.ErrUserNotFound
	}
	if until == nil {
		u.VIPUntil = nil
		return nil
	}
	v := *until
	u.VIPUntil = &v
	return nil
}

// GrantTrial выдаёт пробный период один раз.
func (s *Store) GrantTrial(_ context.Context, tgUserID int64, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[tgUserID]
	if !ok {
		return false, domain.ErrUserNotFound
	}
	if u.TrialVIPGranted {
		return false, nil
	}
	u.TrialVIPGranted = true
	u.VIPUntil = &until
	return true, nil
}

// MarkWelcomeSent отмечает приветствие показанным.
func (s *Store) MarkWelcomeSent(_ context.Context, tgUserID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[tgUserID]
	if !ok {
		return false, domain.ErrUserNotFound
	}
	if u.WelcomeSent {
		return false, nil
	}
	u.WelcomeSent = true
	return true, nil
}

// ListUsersByGroup возвращает пользователей группы рассылки по возрастанию tg id.
func (s *Store) ListUsersByGroup(_ context.Context, group domain.BroadcastGroup, now time.Time) ([]domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := map[int64]bool{}
	if group == domain.GroupActive {
		since := now.Add(-domain.ActiveWindow)
		for postID, at := range s.sentAt {
			if at.Before(since) {
				continue
			}
			if p, ok := s.posts[postID]; ok {
				if ch, ok := s.channels[p.ChannelID]; ok {
					active[ch.TGUserID] = true
				}
			}
		}
	}
	var out []domain.User
	for _, u := range s.users {
		include := false
		switch group {
		case domain.GroupAll:
			include = true
		case domain.GroupVIP:
			include = u.IsVIP(now)
		case domain.GroupFree:
			include = !u.IsVIP(now)
		case domain.GroupActive:
			include = active[u.TGUserID]
		}
		if include {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TGUserID < out[j].TGUserID })
	return out, nil
}

// CountChannels считает каналы пользователя.
func (s *Store) CountChannels(_ context.Context, tgUserID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ch := range s.channels {
		if ch.TGUserID == tgUserID {
			n++
		}
	}
	return n, nil
}

// AddChannel добавляет канал; повторное добавление возвращает существующий.
func (s *Store) AddChannel(_ context.Context, tgUserID int64, username string) (domain.Channel, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[tgUserID]
	if !ok {
		return domain.Channel{}, false, domain.ErrUserNotFound
	}
	if ch := s.findChannel(tgUserID, username); ch != nil {
		return *ch, false, nil
	}
	ch := &domain.Channel{ID: s.id(), UserID: u.ID, TGUserID: tgUserID, Username: username, CreatedAt: s.now()}
	s.channels[ch.ID] = ch
	return *ch, true, nil
}

func (s *Store) findChannel(tgUserID int64, username string) *domain.Channel {
	for _, ch := range s.channels {
		if ch.TGUserID == tgUserID && ch.Username == username {
			return ch
		}
	}
	return nil
}

// ListChannels возвращает каналы пользователя в порядке добавления.
func (s *Store) ListChannels(_ context.Context, tgUserID int64) ([]domain.Channel, error) {
	return s.listChannels(tgUserID), nil
}

// ListCollectChannels возвращает каналы пользователя или всех при tgUserID == 0.
func (s *Store) ListCollectChannels(_ context.Context, tgUserID int64) ([]domain.Channel, error) {
	return s.listChannels(tgUserID), nil
}

func (s *Store) listChannels(tgUserID int64) []domain.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Channel
	for _, ch := range s.channels {
		if tgUserID == 0 || ch.TGUserID == tgUserID {
			out = append(out, *ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DeleteChannel удаляет канал вместе с постами.
func (s *Store) DeleteChannel(_ context.Context, tgUserID int64, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.findChannel(tgUserID, username)
	if ch == nil {
		return false, nil
	}
	s.dropChannel(ch.ID)
	return true, nil
}

// DeleteAllChannels удаляет все каналы пользователя.
func (s *Store) DeleteAllChannels(_ context.Context, tgUserID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, ch := range s.channels {
		if ch.TGUserID == tgUserID {
			s.dropChannel(id)
			n++
		}
	}
	return n, nil
}

func (s *Store) dropChannel(channelID int64) {
	delete(s.channels, channelID)
	for id, p := range s.posts {
		if p.ChannelID == channelID {
			delete(s.posts, id)
			delete(s.sentAt, id)
		}
	}
}

// SetChannelTitle сохраняет название канала.
func (s *Store) SetChannelTitle(_ context.Context, tgUserID int64, username, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.findChannel(tgUserID, username)
	if ch == nil {
		return domain.ErrChannelNotFound
	}
	ch.Title = title
	return nil
}

// GetCursor возвращает курсор или nil для неизвестной пары.
func (s *Store) GetCursor(_ context.Context, tgUserID int64, username string) (*int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.findChannel(tgUserID, username)
	if ch == nil || ch.LastTGMessageID == nil {
		return nil, nil
	}
	v := *ch.LastTGMessageID
	return &v, nil
}

// SetCursor сохраняет курсор канала.
func (s *Store) SetCursor(_ context.Context, tgUserID int64, username string, msgID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[tgUserID]; !ok {
		return domain.ErrUserNotFound
	}
	ch := s.findChannel(tgUserID, username)
	if ch == nil {
		return domain.ErrChannelNotFound
	}
	ch.LastTGMessageID = &msgID
	return nil
}

// InsertPost сохраняет пост; дубликат по (channel, msg id) игнорируется.
func (s *Store) InsertPost(_ context.Context, post domain.Post) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[post.ChannelID]; !ok {
		return false, domain.ErrChannelNotFound
	}
	for _, p := range s.posts {
		if p.ChannelID == post.ChannelID && p.TGMessageID == post.TGMessageID {
			return false, nil
		}
	}
	post.ID = s.id()
	post.IsSent = false
	post.CreatedAt = s.now()
	if post.MediaType == "" && len(post.MediaPaths) > 0 {
		post.MediaType = domain.MediaDocument
	}
	s.posts[post.ID] = &post
	return true, nil
}

// Posts возвращает все посты канала по возрастанию id сообщения.
func (s *Store) Posts(channelID int64) []domain.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Post
	for _, p := range s.posts {
		if p.ChannelID == channelID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TGMessageID < out[j].TGMessageID })
	return out
}

// ListUnsentPosts возвращает неотправленные посты по возрастанию published_at.
func (s *Store) ListUnsentPosts(_ context.Context, tgUserID int64, limit int) ([]domain.FeedPost, error) {
	return s.feed(tgUserID, limit, true, func(p *domain.Post) bool { return !p.IsSent }), nil
}

// MarkPostsSent отмечает посты отправленными.
func (s *Store) MarkPostsSent(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, id := range ids {
		if p, ok := s.posts[id]; ok && !p.IsSent {
			p.IsSent = true
			s.sentAt[id] = now
		}
	}
	return nil
}

// ListLatestPosts возвращает последние посты пользователя.
func (s *Store) ListLatestPosts(_ context.Context, tgUserID int64, limit int) ([]domain.FeedPost, error) {
	return s.feed(tgUserID, limit, false, func(*domain.Post) bool { return true }), nil
}

// ListSentPostsSince возвращает отправленные посты, опубликованные после since.
func (s *Store) ListSentPostsSince(_ context.Context, tgUserID int64, since time.Time, limit int) ([]domain.FeedPost, error) {
	return s.feed(tgUserID, limit, false, func(p *domain.Post) bool {
		return p.IsSent && !p.PublishedAt.Before(since)
	}), nil
}

func (s *Store) feed(tgUserID int64, limit int, asc bool, keep func(*domain.Post) bool) []domain.FeedPost {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.FeedPost
	for _, p := range s.posts {
		ch, ok := s.channels[p.ChannelID]
		if !ok || ch.TGUserID != tgUserID || !keep(p) {
			continue
		}
		out = append(out, domain.FeedPost{Post: *p, ChannelUsername: ch.Username, ChannelTitle: ch.Title})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].PublishedAt, out[j].PublishedAt
		if a.Equal(b) {
			if asc {
				return out[i].ID < out[j].ID
			}
			return out[i].ID > out[j].ID
		}
		if asc {
			return a.Before(b)
		}
		return a.After(b)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// CreatePaymentIntent сохраняет платёжное намерение.
func (s *Store) CreatePaymentIntent(_ context.Context, intent domain.PaymentIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := intent
	s.payments[intent.ID] = &v
	return nil
}

// GetPaymentIntent возвращает намерение по id.
func (s *Store) GetPaymentIntent(_ context.Context, id string) (domain.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return domain.PaymentIntent{}, domain.ErrPaymentNotFound
	}
	return *p, nil
}

// UpdatePaymentProvider сохраняет ссылку провайдера.
func (s *Store) UpdatePaymentProvider(_ context.Context, id, providerRef, link string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	p.ProviderRef, p.PaymentLink, p.UpdatedAt = providerRef, link, s.now()
	return nil
}

// MarkPaymentSucceeded переводит pending в succeeded ровно один раз.
func (s *Store) MarkPaymentSucceeded(_ context.Context, id, providerRef string, paidAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return false, domain.ErrPaymentNotFound
	}
	if p.Status != domain.PaymentPending {
		return false, nil
	}
	p.Status = domain.PaymentSucceeded
	if providerRef != "" {
		p.ProviderRef = providerRef
	}
	p.PaidAt = &paidAt
	p.UpdatedAt = s.now()
	return true, nil
}

// MarkPaymentFailed переводит pending в failed.
func (s *Store) MarkPaymentFailed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	if p.Status == domain.PaymentPending {
		p.Status = domain.PaymentFailed
		p.UpdatedAt = s.now()
	}
	return nil
}

// ReopenPayment переводит succeeded обратно в pending.
func (s *Store) ReopenPayment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	if p.Status == domain.PaymentSucceeded {
		p.Status = domain.PaymentPending
		p.PaidAt = nil
		p.UpdatedAt = s.now()
	}
	return nil
}

// FindPaymentByProviderRef ищет намерение по ссылке провайдера.
func (s *Store) FindPaymentByProviderRef(_ context.Context, providerRef string) (domain.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if providerRef != "" && p.ProviderRef == providerRef {
			return *p, nil
		}
	}
	return domain.PaymentIntent{}, domain.ErrPaymentNotFound
}

// RecordBusinessMetric запоминает событие.
func (s *Store) RecordBusinessMetric(_ context.Context, metric domain.BusinessMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, metric)
	return nil
}

// Events возвращает записанные события.
func (s *Store) Events() []domain.BusinessMetric {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.BusinessMetric, len(s.events))
	copy(out, s.events)
	return out
}
