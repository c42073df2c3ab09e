package httpapi

import (
	"net/http"

	"my-feed-bot/internal/domain"
	infrahttp "my-feed-bot/internal/infra/http"
)

func (h *Handler) getToggle(toggle domain.Toggle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tgUserID, ok := requireUser(w, r)
		if !ok {
			return
		}
		user, err := h.Store.GetUser(r.Context(), tgUserID)
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		infrahttp.WriteJSON(w, http.StatusOK, ToggleResponse{TGUserID: tgUserID, Enabled: toggleValue(user, toggle)})
	}
}

func (h *Handler) setToggle(toggle domain.Toggle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ToggleRequest
		if !decode(w, r, &req) {
			return
		}
		if req.TGUserID == 0 {
			infrahttp.WriteError(w, http.StatusBadRequest, "tg_user_id is required")
			return
		}
		if err := h.Entitlement.SetToggle(r.Context(), req.TGUserID, toggle, req.Enabled); err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		infrahttp.WriteJSON(w, http.StatusOK, ToggleResponse{TGUserID: req.TGUserID, Enabled: req.Enabled})
	}
}

func toggleValue(u domain.User, toggle domain.Toggle) bool {
	switch toggle {
	case domain.ToggleForwarding:
		return u.ForwardingOn
	case domain.ToggleSpamFilter:
		return u.SpamFilterOn
	case domain.ToggleShortFeed:
		return u.ShortFeedOn
	}
	return false
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if !decode(w, r, &req) {
		return
	}
	if req.TGUserID == 0 {
		infrahttp.WriteError(w, http.StatusBadRequest, "tg_user_id is required")
		return
	}
	res, err := h.Entitlement.FirstStart(r.Context(), domain.UserProfile{
		TGUserID:  req.TGUserID,
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	infrahttp.WriteJSON(w, http.StatusOK, StartResponse{
		Created:      res.Created,
		TrialGranted: res.TrialGranted,
		ShowWelcome:  res.ShowWelcome,
		VIPUntil:     res.User.VIPUntil,
	})
}
