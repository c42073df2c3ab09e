package httpapi

import (
	"time"

	"my-feed-bot/internal/domain"
)

// ChannelDTO описывает канал в ответах API.
type ChannelDTO struct {
	ID              int64  `json:"id"`
	TGUserID        int64  `json:"tg_user_id"`
	Username        string `json:"username"`
	Title           string `json:"title"`
	LastTGMessageID *int64 `json:"last_tg_message_id"`
}

// ChannelsResponse содержит список каналов.
type ChannelsResponse struct {
	Channels []ChannelDTO `json:"channels"`
}

// CursorRequest описывает тело POST /channels/cursor.
type CursorRequest struct {
	TGUserID        int64  `json:"tg_user_id"`
	Username        string `json:"username"`
	LastTGMessageID int64  `json:"last_tg_message_id"`
}

// CursorResponse описывает ответ GET /channels/cursor.
type CursorResponse struct {
	LastTGMessageID *int64 `json:"last_tg_message_id"`
}

// ChannelRequest задаёт пару пользователь/канал.
type ChannelRequest struct {
	TGUserID int64  `json:"tg_user_id"`
	Username string `json:"username"`
	Title    string `json:"title,omitempty"`
}

// PostDTO описывает пост в запросах и ответах API.
type PostDTO struct {
	ID              int64            `json:"id,omitempty"`
	ChannelID       int64            `json:"channel_id"`
	ChannelUsername string           `json:"channel,omitempty"`
	ChannelTitle    string           `json:"channel_title,omitempty"`
	TGMessageID     int64            `json:"tg_message_id"`
	Text            string           `json:"text"`
	MediaType       domain.MediaType `json:"media_type,omitempty"`
	MediaPaths      []string         `json:"media_paths,omitempty"`
	MediaGroupID    *int64           `json:"media_group_id,omitempty"`
	PublishedAt     time.Time        `json:"published_at"`
	IsSent          bool             `json:"is_sent"`
}

// PostsResponse содержит список постов.
type PostsResponse struct {
	Posts []PostDTO `json:"posts"`
}

// AddPostResponse описывает ответ POST /posts/add.
type AddPostResponse struct {
	OK       bool   `json:"ok"`
	Inserted bool   `json:"inserted"`
	Message  string `json:"message,omitempty"`
}

// OKResponse используется как универсальный ответ с флагом и сообщением.
type OKResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// NewChannelDTO переводит канал в формат API.
func NewChannelDTO(c domain.Channel) ChannelDTO {
	return ChannelDTO{ID: c.ID, TGUserID: c.TGUserID, Username: c.Username, Title: c.Title, LastTGMessageID: c.LastTGMessageID}
}

// Channel возвращает доменный канал.
func (d ChannelDTO) Channel() domain.Channel {
	return domain.Channel{ID: d.ID, TGUserID: d.TGUserID, Username: d.Username, Title: d.Title, LastTGMessageID: d.LastTGMessageID}
}

// NewPostDTO переводит пост ленты в формат API.
func NewPostDTO(p domain.FeedPost) PostDTO {
	dto := newPostDTO(p.Post)
	dto.ChannelUsername = p.ChannelUsername
	dto.ChannelTitle = p.ChannelTitle
	return dto
}

func newPostDTO(p domain.Post) PostDTO {
	return PostDTO{
		ID:           p.ID,
		ChannelID:    p.ChannelID,
		TGMessageID:  p.TGMessageID,
		Text:         p.Text,
		MediaType:    p.MediaType,
		MediaPaths:   p.MediaPaths,
		MediaGroupID: p.MediaGroupID,
		PublishedAt:  p.PublishedAt,
		IsSent:       p.IsSent,
	}
}

// Post возвращает доменный пост.
func (d PostDTO) Post() domain.Post {
	return domain.Post{
		ID:           d.ID,
		ChannelID:    d.ChannelID,
		TGMessageID:  d.TGMessageID,
		Text:         d.Text,
		MediaType:    d.MediaType,
		MediaPaths:   d.MediaPaths,
		MediaGroupID: d.MediaGroupID,
		PublishedAt:  d.PublishedAt,
		IsSent:       d.IsSent,
	}
}

// AddPostRequest описывает тело POST /posts/add. Канал задаётся channel_id или парой
// tg_user_id и channel.
type AddPostRequest struct {
	PostDTO
	TGUserID int64 `json:"tg_user_id,omitempty"`
}

// AddChannelResponse описывает ответ POST /channels/add.
type AddChannelResponse struct {
	OK      bool        `json:"ok"`
	Message string      `json:"message,omitempty"`
	Limit   int         `json:"limit,omitempty"`
	Tier    domain.Tier `json:"tier,omitempty"`
}

// DeleteResponse описывает ответ POST /channels/delete.
type DeleteResponse struct {
	OK      bool   `json:"ok"`
	Deleted bool   `json:"deleted"`
	Message string `json:"message,omitempty"`
}

// DeleteAllResponse описывает ответ POST /channels/delete_all.
type DeleteAllResponse struct {
	OK      bool   `json:"ok"`
	Deleted int64  `json:"deleted"`
	Message string `json:"message,omitempty"`
}

// ToggleRequest описывает тело POST /users/{toggle}.
type ToggleRequest struct {
	TGUserID int64 `json:"tg_user_id"`
	Enabled  bool  `json:"enabled"`
}

// ToggleResponse возвращает состояние переключателя.
type ToggleResponse struct {
	TGUserID int64 `json:"tg_user_id"`
	Enabled  bool  `json:"enabled"`
}

// StartRequest описывает тело POST /users/start.
type StartRequest struct {
	TGUserID  int64  `json:"tg_user_id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// StartResponse описывает итог первого запуска.
type StartResponse struct {
	Created      bool       `json:"created"`
	TrialGranted bool       `json:"trial_granted"`
	ShowWelcome  bool       `json:"show_welcome"`
	VIPUntil     *time.Time `json:"vip_until"`
}

// GrantRequest описывает тело POST /admin/vip/grant.
type GrantRequest struct {
	TGUserID int64 `json:"tg_user_id"`
	Days     int   `json:"days"`
	Forever  bool  `json:"forever"`
}

// VIPResponse описывает результат изменения VIP.
type VIPResponse struct {
	OK       bool       `json:"ok"`
	VIPUntil *time.Time `json:"vip_until"`
}

// UserCountDTO описывает строку рейтинга.
type UserCountDTO struct {
	TGUserID int64  `json:"tg_user_id"`
	Username string `json:"username,omitempty"`
	Count    int64  `json:"count"`
}

// StatsDTO содержит статистику администратора.
type StatsDTO struct {
	UsersTotal    int64          `json:"users_total"`
	ForwardingOn  int64          `json:"forwarding_on"`
	ShortFeedOn   int64          `json:"short_feed_on"`
	SpamFilterOn  int64          `json:"spam_filter_on"`
	VIPActive     int64          `json:"vip_active"`
	VIPExpiring7d int64          `json:"vip_expiring_7d"`
	ChannelsTotal int64          `json:"channels_total"`
	Posts7d       int64          `json:"posts_7d"`
	ActiveUsers7d int64          `json:"active_users_7d"`
	TopActivity7d []UserCountDTO `json:"top_activity_7d"`
	TopChannels   []UserCountDTO `json:"top_channels"`
	GeneratedAt   time.Time      `json:"generated_at"`
}

// NewStatsDTO переводит статистику в формат API.
func NewStatsDTO(s domain.AdminStats) StatsDTO {
	return StatsDTO{
		UsersTotal:    s.UsersTotal,
		ForwardingOn:  s.ForwardingOn,
		ShortFeedOn:   s.ShortFeedOn,
		SpamFilterOn:  s.SpamFilterOn,
		VIPActive:     s.VIPActive,
		VIPExpiring7d: s.VIPExpiring7d,
		ChannelsTotal: s.ChannelsTotal,
		Posts7d:       s.Posts7d,
		ActiveUsers7d: s.ActiveUsers7d,
		TopActivity7d: userCounts(s.TopActivity7d),
		TopChannels:   userCounts(s.TopChannels),
		GeneratedAt:   s.GeneratedAt,
	}
}

func userCounts(in []domain.UserCount) []UserCountDTO {
	out := make([]UserCountDTO, 0, len(in))
	for _, c := range in {
		out = append(out, UserCountDTO{TGUserID: c.TGUserID, Username: c.Username, Count: c.Count})
	}
	return out
}

// TargetsResponse перечисляет получателей рассылки.
type TargetsResponse struct {
	Group   domain.BroadcastGroup `json:"group"`
	UserIDs []int64               `json:"tg_user_ids"`
}

// CreatePaymentRequest описывает тело POST /payments.
type CreatePaymentRequest struct {
	TGUserID int64  `json:"tg_user_id"`
	Plan     string `json:"plan"`
	Method   string `json:"method"`
}

// PaymentResponse возвращает намерение и итог проверки.
type PaymentResponse struct {
	Intent   domain.PaymentIntent `json:"intent"`
	Extended bool                 `json:"extended"`
}
