package domain

import (
	"strconv"
	"time"
)

// User описывает подписчика бота.
type User struct {
	ID              int64
	TGUserID        int64
	Username        string
	FirstName       string
	LastName        string
	ForwardingOn    bool
	SpamFilterOn    bool
	ShortFeedOn     bool
	WelcomeSent     bool
	TrialVIPGranted bool
	VIPUntil        *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// UserProfile содержит данные профиля, которые приходят из Telegram.
type UserProfile struct {
	TGUserID  int64
	Username  string
	FirstName string
	LastName  string
}

// Channel описывает канал, на который подписан пользователь.
type Channel struct {
	ID              int64
	UserID          int64
	TGUserID        int64
	Username        string
	Title           string
	LastTGMessageID *int64
	CreatedAt       time.Time
}

// DisplayName возвращает название канала или его @username.
func (c Channel) DisplayName() string {
	if c.Title != "" {
		return c.Title
	}
	return c.Username
}

// MediaType описывает вид вложения поста.
type MediaType string

const (
	MediaNone       MediaType = ""
	MediaPhoto      MediaType = "photo"
	MediaVideo      MediaType = "video"
	MediaVoice      MediaType = "voice"
	MediaDocument   MediaType = "document"
	MediaMediaGroup MediaType = "media_group"
)

// Valid сообщает, является ли значение известным видом вложения.
func (m MediaType) Valid() bool {
	switch m {
	case MediaNone, MediaPhoto, MediaVideo, MediaVoice, MediaDocument, MediaMediaGroup:
		return true
	}
	return false
}

// Post представляет сообщение канала, сохранённое коллектором.
type Post struct {
	ID           int64
	ChannelID    int64
	TGMessageID  int64
	Text         string
	MediaType    MediaType
	MediaPaths   []string
	MediaGroupID *int64
	PublishedAt  time.Time
	IsSent       bool
	CreatedAt    time.Time
}

// HasMedia сообщает, есть ли у поста локальные вложения.
func (p Post) HasMedia() bool {
	return p.MediaType != MediaNone && len(p.MediaPaths) > 0
}

// FeedPost хранит неотправленный пост вместе с данными канала для рендера.
type FeedPost struct {
	Post
	ChannelUsername string
	ChannelTitle    string
}

// SourceLink возвращает ссылку на оригинальное сообщение в канале.
func (p FeedPost) SourceLink() string {
	return PostLink(p.ChannelUsername, p.TGMessageID)
}

// PostLink строит ссылку t.me на сообщение канала.
func PostLink(username string, msgID int64) string {
	name := TrimHandle(username)
	if name == "" || msgID <= 0 {
		return ""
	}
	return "https://t.me/" + name + "/" + strconv.FormatInt(msgID, 10)
}

// AdminStats агрегирует статистику для администратора.
type AdminStats struct {
	UsersTotal    int64
	ForwardingOn  int64
	ShortFeedOn   int64
	SpamFilterOn  int64
	VIPActive     int64
	VIPExpiring7d int64
	ChannelsTotal int64
	Posts7d       int64
	ActiveUsers7d int64
	TopActivity7d []UserCount
	TopChannels   []UserCount
	GeneratedAt   time.Time
}

// UserCount описывает строку рейтинга пользователей.
type UserCount struct {
	TGUserID int64
	Username string
	Count    int64
}
