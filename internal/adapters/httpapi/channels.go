package httpapi

import (
	"errors"
	"net/http"

	"my-feed-bot/internal/domain"
	infrahttp "my-feed-bot/internal/infra/http"
)

func (h *Handler) addChannel(w http.ResponseWriter, r *http.Request) {
	var req ChannelRequest
	if !decode(w, r, &req) {
		return
	}
	if req.TGUserID == 0 {
		infrahttp.WriteError(w, http.StatusBadRequest, "tg_user_id is required")
		return
	}
	res, err := h.Channels.Add(r.Context(), req.TGUserID, req.Username)
	var limitErr *domain.ChannelLimitError
	switch {
	case errors.As(err, &limitErr):
		infrahttp.WriteJSON(w, http.StatusConflict, AddChannelResponse{
			OK:      false,
			Message: domain.ErrChannelLimit.Error(),
			Limit:   limitErr.Limit,
			Tier:    limitErr.Tier,
		})
	case err != nil:
		h.writeDomainError(w, r, err)
	case !res.Created:
		infrahttp.WriteJSON(w, http.StatusOK, AddChannelResponse{OK: true, Message: "already added"})
	default:
		infrahttp.WriteJSON(w, http.StatusOK, AddChannelResponse{OK: true})
	}
}

func (h *Handler) listChannels(w http.ResponseWriter, r *http.Request) {
	tgUserID, ok := requireUser(w, r)
	if !ok {
		return
	}
	chs, err := h.Channels.List(r.Context(), tgUserID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeChannels(w, chs)
}

// collectChannels отдаёт каналы для сбора. Без tg_user_id отдаются каналы всех пользователей.
func (h *Handler) collectChannels(w http.ResponseWriter, r *http.Request) {
	tgUserID, err := queryInt64(r, "tg_user_id")
	if err != nil {
		infrahttp.WriteError(w, http.StatusBadRequest, "invalid tg_user_id")
		return
	}
	chs, err := h.Store.ListCollectChannels(r.Context(), tgUserID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeChannels(w, chs)
}

func writeChannels(w http.ResponseWriter, chs []domain.Channel) {
	resp := ChannelsResponse{Channels: make([]ChannelDTO, 0, len(chs))}
	for _, ch := range chs {
		resp.Channels = append(resp.Channels, NewChannelDTO(ch))
	}
	infrahttp.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) getCursor(w http.ResponseWriter, r *http.Request) {
	tgUserID, ok := requireUser(w, r)
	if !ok {
		return
	}
	handle, err := domain.NormalizeHandle(r.URL.Query().Get("username"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	cursor, err := h.Store.GetCursor(r.Context(), tgUserID, handle)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	infrahttp.WriteJSON(w, http.StatusOK, CursorResponse{LastTGMessageID: cursor})
}

func (h *Handler) setCursor(w http.ResponseWriter, r *http.Request) {
	var req CursorRequest
	if !decode(w, r, &req) {
		return
	}
	handle, err := domain.NormalizeHandle(req.Username)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if err := h.Store.SetCursor(r.Context(), req.TGUserID, handle, req.LastTGMessageID); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	infrahttp.WriteJSON(w, http.StatusOK, OKResponse{OK: true})
}

func (h *Handler) setTitle(w http.ResponseWriter, r *http.Request) {
	var req ChannelRequest
	if !decode(w, r, &req) {
		return
	}
	handle, err := domain.NormalizeHandle(req.Username)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if err := h.Store.SetChannelTitle(r.Context(), req.TGUserID, handle, req.Title); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	infrahttp.WriteJSON(w, http.StatusOK, OKResponse{OK: true})
}

func (h *Handler) deleteChannel(w http.ResponseWriter, r *http.Request) {
	var req ChannelRequest
	if !decode(w, r, &req) {
		return
	}
	err := h.Channels.Delete(r.Context(), req.TGUserID, req.Username)
	switch {
	case errors.Is(err, domain.ErrUserNotFound), errors.Is(err, domain.ErrChannelNotFound):
		infrahttp.WriteJSON(w, http.StatusOK, DeleteResponse{OK: true, Message: rootMessage(err)})
	case err != nil:
		h.writeDomainError(w, r, err)
	default:
		infrahttp.WriteJSON(w, http.StatusOK, DeleteResponse{OK: true, Deleted: true})
	}
}

func (h *Handler) deleteAllChannels(w http.ResponseWriter, r *http.Request) {
	var req ChannelRequest
	if !decode(w, r, &req) {
		return
	}
	n, err := h.Channels.DeleteAll(r.Context(), req.TGUserID)
	if errors.Is(err, domain.ErrUserNotFound) {
		infrahttp.WriteJSON(w, http.StatusOK, DeleteAllResponse{OK: true, Message: domain.ErrUserNotFound.Error()})
		return
	}
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	infrahttp.WriteJSON(w, http.StatusOK, DeleteAllResponse{OK: true, Deleted: n})
}
