package domain

import (
	"context"
	"time"
)

// UserRepo управляет пользователями и их VIP-состоянием.
type UserRepo interface {
	// EnsureUser создаёт пользователя при первом обращении и обновляет профиль.
	EnsureUser(ctx context.Context, profile UserProfile) (User, bool, error)
	GetUser(ctx context.Context, tgUserID int64) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	SetToggle(ctx context.Context, tgUserID int64, toggle Toggle, on bool) error
	SetVIPUntil(ctx context.Context, tgUserID int64, until *time.Time) error
	// GrantTrial атомарно выставляет trial_vip_granted и vip_until.
	// Возвращает false, если пробный период уже выдавался.
	GrantTrial(ctx context.Context, tgUserID int64, until time.Time) (bool, error)
	// MarkWelcomeSent возвращает true только для первого вызова.
	MarkWelcomeSent(ctx context.Context, tgUserID int64) (bool, error)
	ListUsersByGroup(ctx context.Context, group BroadcastGroup, now time.Time) ([]User, error)
}

// ChannelRepo управляет подписками пользователя.
type ChannelRepo interface {
	CountChannels(ctx context.Context, tgUserID int64) (int, error)
	// AddChannel возвращает false, если канал уже был добавлен.
	AddChannel(ctx context.Context, tgUserID int64, username string) (Channel, bool, error)
	ListChannels(ctx context.Context, tgUserID int64) ([]Channel, error)
	DeleteChannel(ctx context.Context, tgUserID int64, username string) (bool, error)
	DeleteAllChannels(ctx context.Context, tgUserID int64) (int64, error)
}

// CursorRepo хранит курсор последнего собранного сообщения канала.
// Монотонность курсора обеспечивает вызывающий код.
type CursorRepo interface {
	// GetCursor возвращает nil для неизвестной пары пользователь/канал.
	GetCursor(ctx context.Context, tgUserID int64, username string) (*int64, error)
	// SetCursor возвращает ErrUserNotFound или ErrChannelNotFound для неизвестной пары.
	SetCursor(ctx context.Context, tgUserID int64, username string, msgID int64) error
}

// IngestStore описывает хранилище, с которым работает коллектор.
type IngestStore interface {
	CursorRepo
	// ListCollectChannels возвращает каналы пользователя или всех пользователей при tgUserID == 0.
	ListCollectChannels(ctx context.Context, tgUserID int64) ([]Channel, error)
	SetChannelTitle(ctx context.Context, tgUserID int64, username, title string) error
	// InsertPost идемпотентно сохраняет пост. Возвращает false для дубликата.
	InsertPost(ctx context.Context, post Post) (bool, error)
}

// FeedRepo выдаёт неотправленные посты и отмечает их отправленными.
type FeedRepo interface {
	// ListUnsentPosts возвращает посты по возрастанию published_at.
	ListUnsentPosts(ctx context.Context, tgUserID int64, limit int) ([]FeedPost, error)
	MarkPostsSent(ctx context.Context, ids []int64) error
}

// PostRepo отдаёт уже собранные посты.
type PostRepo interface {
	ListLatestPosts(ctx context.Context, tgUserID int64, limit int) ([]FeedPost, error)
	ListSentPostsSince(ctx context.Context, tgUserID int64, since time.Time, limit int) ([]FeedPost, error)
}

// StatsRepo считает статистику для администратора.
type StatsRepo interface {
	AdminStats(ctx context.Context, now time.Time) (AdminStats, error)
}

// SourceChannel описывает канал, найденный в Telegram.
type SourceChannel struct {
	ID         int64
	AccessHash int64
	Username   string
	Title      string
}

// SourceMedia описывает вложение сообщения источника.
type SourceMedia struct {
	Photo    bool
	Video    bool
	Voice    bool
	Document bool
	Ext      string
	// Ref хранит адаптер-специфичную ссылку на файл для скачивания.
	Ref any
}

// Kind возвращает тип вложения в порядке приоритета photo, video, voice, document.
func (m SourceMedia) Kind() (MediaType, string, bool) {
	switch {
	case m.Photo:
		return MediaPhoto, "photo", true
	case m.Video:
		return MediaVideo, "video", true
	case m.Voice:
		return MediaVoice, "voice", true
	case m.Document:
		return MediaDocument, "doc", true
	}
	return MediaNone, "", false
}

// SourceMessage описывает сообщение канала, полученное из Telegram.
type SourceMessage struct {
	ID      int64
	Text    string
	Date    time.Time
	GroupID int64
	Media   *SourceMedia
}

// MessageSource читает сообщения каналов из Telegram.
type MessageSource interface {
	ResolveChannel(ctx context.Context, username string) (SourceChannel, error)
	// RecentMessages возвращает последние limit сообщений, новые первыми.
	RecentMessages(ctx context.Context, channel SourceChannel, limit int) ([]SourceMessage, error)
	DownloadMedia(ctx context.Context, media SourceMedia, path string) error
}

// MediaStore раскладывает скачанные вложения по каталогам каналов.
type MediaStore interface {
	// Path возвращает путь для файла канала, создавая каталог при необходимости.
	Path(channel, name string) (string, error)
	Remove(path string) error
}

// Shortener сокращает текст поста до одного предложения.
type Shortener interface {
	Shorten(ctx context.Context, text string) string
}

// SpamClassifier отмечает рекламные тексты.
type SpamClassifier interface {
	LooksLikeAd(text string) bool
}

// OutgoingPost описывает пост, подготовленный к отправке в Telegram.
type OutgoingPost struct {
	// Text содержит HTML-разметку с подписью источника.
	Text      string
	MediaType MediaType
	Paths     []string
}

// Dispatcher отправляет сообщение получателю.
type Dispatcher interface {
	Dispatch(ctx context.Context, chatID int64, post OutgoingPost) error
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// DigestEntry описывает пост, попадающий в AI-сводку.
type DigestEntry struct {
	Channel string
	Title   string
	Link    string
	Text    string
}

// DigestWriter собирает HTML-сводку по постам.
type DigestWriter interface {
	WriteDigest(ctx context.Context, entries []DigestEntry) (string, error)
}
