package httpapi

import (
	"net/http"
	"time"

	"my-feed-bot/internal/domain"
	infrahttp "my-feed-bot/internal/infra/http"
)

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	if h.Stats == nil {
		infrahttp.WriteError(w, http.StatusNotImplemented, "stats are not available")
		return
	}
	stats, err := h.Stats.AdminStats(r.Context(), h.Entitlement.Now())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	infrahttp.WriteJSON(w, http.StatusOK, NewStatsDTO(stats))
}

func (h *Handler) grantVIP(w http.ResponseWriter, r *http.Request) {
	var req GrantRequest
	if !decode(w, r, &req) {
		return
	}
	if req.TGUserID == 0 {
		infrahttp.WriteError(w, http.StatusBadRequest, "tg_user_id is required")
		return
	}
	var (
		until time.Time
		err   error
	)
	if req.Forever {
		until, err = h.Entitlement.GrantForever(r.Context(), req.TGUserID, "admin")
	} else {
		until, err = h.Entitlement.Extend(r.Context(), req.TGUserID, req.Days, "admin")
	}
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.Log.Info().Int64("tg_user_id", req.TGUserID).Time("vip_until", until).Msg("api: VIP выдан администратором")
	infrahttp.WriteJSON(w, http.StatusOK, VIPResponse{OK: true, VIPUntil: &until})
}

func (h *Handler) revokeVIP(w http.ResponseWriter, r *http.Request) {
	var req GrantRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.Entitlement.Revoke(r.Context(), req.TGUserID); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	infrahttp.WriteJSON(w, http.StatusOK, VIPResponse{OK: true})
}

func (h *Handler) broadcastTargets(w http.ResponseWriter, r *http.Request) {
	group, ok := domain.ParseBroadcastGroup(r.URL.Query().Get("group"))
	if !ok {
		infrahttp.WriteError(w, http.StatusBadRequest, "unknown group")
		return
	}
	users, err := h.Entitlement.Recipients(r.Context(), group)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	resp := TargetsResponse{Group: group, UserIDs: make([]int64, 0, len(users))}
	for _, u := range users {
		resp.UserIDs = append(resp.UserIDs, u.TGUserID)
	}
	infrahttp.WriteJSON(w, http.StatusOK, resp)
}
