package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"my-feed-bot/internal/domain"
	infrahttp "my-feed-bot/internal/infra/http"
)

// MarkSentRequest описывает тело POST /posts/mark_sent: массив id
// или объект {"post_ids": [...]}.
type MarkSentRequest struct {
	PostIDs []int64 `json:"post_ids"`
}

// UnmarshalJSON принимает обе формы тела.
func (m *MarkSentRequest) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return json.Unmarshal(trimmed, &m.PostIDs)
	}
	type plain MarkSentRequest
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return err
	}
	*m = MarkSentRequest(p)
	return nil
}

func (h *Handler) addPost(w http.ResponseWriter, r *http.Request) {
	var req AddPostRequest
	if !decode(w, r, &req) {
		return
	}
	post := req.Post()
	if post.ChannelID == 0 {
		id, ok := h.resolveChannel(w, r, req.TGUserID, req.ChannelUsername)
		if !ok {
			return
		}
		post.ChannelID = id
	}
	if post.TGMessageID <= 0 {
		infrahttp.WriteError(w, http.StatusBadRequest, "tg_message_id is required")
		return
	}
	if post.PublishedAt.IsZero() {
		post.PublishedAt = time.Now().UTC()
	}
	post.IsSent = false
	inserted, err := h.Store.InsertPost(r.Context(), post)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	resp := AddPostResponse{OK: true, Inserted: inserted}
	if !inserted {
		resp.Message = "already exists"
	}
	infrahttp.WriteJSON(w, http.StatusOK, resp)
}

// resolveChannel находит id канала пользователя по имени.
func (h *Handler) resolveChannel(w http.ResponseWriter, r *http.Request, tgUserID int64, raw string) (int64, bool) {
	if tgUserID == 0 {
		infrahttp.WriteError(w, http.StatusBadRequest, "channel_id or tg_user_id with channel is required")
		return 0, false
	}
	handle, err := domain.NormalizeHandle(raw)
	if err != nil {
		h.writeDomainError(w, r, err)
		return 0, false
	}
	chs, err := h.Store.ListChannels(r.Context(), tgUserID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return 0, false
	}
	for _, ch := range chs {
		if ch.Username == handle {
			return ch.ID, true
		}
	}
	h.writeDomainError(w, r, domain.ErrChannelNotFound)
	return 0, false
}

func (h *Handler) latestPosts(w http.ResponseWriter, r *http.Request) {
	tgUserID, ok := requireUser(w, r)
	if !ok {
		return
	}
	limit, err := queryLimit(r, defaultLatestLimit, maxLatestLimit)
	if err != nil {
		infrahttp.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	posts, err := h.Store.ListLatestPosts(r.Context(), tgUserID, limit)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writePosts(w, posts)
}

// unsentPosts отдаёт неотправленные посты; при выключенной пересылке список пуст.
func (h *Handler) unsentPosts(w http.ResponseWriter, r *http.Request) {
	tgUserID, ok := requireUser(w, r)
	if !ok {
		return
	}
	limit, err := queryLimit(r, defaultUnsentLimit, maxUnsentLimit)
	if err != nil {
		infrahttp.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := h.Store.GetUser(r.Context(), tgUserID)
	if errors.Is(err, domain.ErrUserNotFound) {
		writePosts(w, nil)
		return
	}
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if !user.ForwardingOn {
		writePosts(w, nil)
		return
	}
	posts, err := h.Store.ListUnsentPosts(r.Context(), tgUserID, limit)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writePosts(w, posts)
}

func writePosts(w http.ResponseWriter, posts []domain.FeedPost) {
	resp := PostsResponse{Posts: make([]PostDTO, 0, len(posts))}
	for _, p := range posts {
		resp.Posts = append(resp.Posts, NewPostDTO(p))
	}
	infrahttp.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) markSent(w http.ResponseWriter, r *http.Request) {
	var req MarkSentRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.PostIDs) == 0 {
		infrahttp.WriteJSON(w, http.StatusOK, OKResponse{OK: true})
		return
	}
	if err := h.Store.MarkPostsSent(r.Context(), req.PostIDs); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	infrahttp.WriteJSON(w, http.StatusOK, OKResponse{OK: true})
}
