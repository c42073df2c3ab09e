// Package httpapi реализует HTTP API хранилища для коллектора, бота и администратора.
package httpapi

import (
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"my-feed-bot/internal/domain"
	infrahttp "my-feed-bot/internal/infra/http"
	"my-feed-bot/internal/usecase/channels"
	"my-feed-bot/internal/usecase/entitlement"
	"my-feed-bot/internal/usecase/payments"
)

// Store объединяет репозитории, которые нужны API.
type Store interface {
	domain.UserRepo
	domain.ChannelRepo
	domain.IngestStore
	domain.FeedRepo
	domain.PostRepo
}

// Deps собирает зависимости API. Stats, Payments и WebhookKey необязательны.
type Deps struct {
	Store       Store
	Stats       domain.StatsRepo
	Channels    *channels.Service
	Entitlement *entitlement.Service
	Payments    *payments.Service
	WebhookKey  *rsa.PublicKey
	Token       string
	Log         zerolog.Logger
}

// Limits ответов списков постов.
const (
	defaultLatestLimit = 20
	maxLatestLimit     = 100
	defaultUnsentLimit = 10
	maxUnsentLimit     = 50
)

// Handler обслуживает запросы API.
type Handler struct {
	Deps
}

// New создаёт обработчик API.
func New(deps Deps) *Handler {
	return &Handler{Deps: deps}
}

// Register добавляет маршруты API в роутер.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		infrahttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/payments/sbp/webhook", h.sbpWebhook)

	r.Group(func(p chi.Router) {
		p.Use(infrahttp.TokenAuthMiddleware(h.Token))

		p.Post("/channels/add", h.addChannel)
		p.Get("/channels/list", h.listChannels)
		p.Get("/channels/collect", h.collectChannels)
		p.Get("/channels/cursor", h.getCursor)
		p.Post("/channels/cursor", h.setCursor)
		p.Post("/channels/title", h.setTitle)
		p.Post("/channels/delete", h.deleteChannel)
		p.Post("/channels/delete_all", h.deleteAllChannels)

		p.Post("/posts/add", h.addPost)
		p.Get("/posts/latest", h.latestPosts)
		p.Get("/posts/unsent", h.unsentPosts)
		p.Post("/posts/mark_sent", h.markSent)

		for path, toggle := range map[string]domain.Toggle{
			"/users/forwarding":  domain.ToggleForwarding,
			"/users/spam_filter": domain.ToggleSpamFilter,
			"/users/short_feed":  domain.ToggleShortFeed,
		} {
			p.Get(path, h.getToggle(toggle))
			p.Post(path, h.setToggle(toggle))
		}
		p.Post("/users/start", h.start)

		p.Get("/admin/stats", h.stats)
		p.Post("/admin/vip/grant", h.grantVIP)
		p.Post("/admin/vip/revoke", h.revokeVIP)
		p.Get("/admin/broadcast_targets", h.broadcastTargets)

		p.Post("/payments", h.createPayment)
		p.Get("/payments/{id}", h.checkPayment)
	})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		infrahttp.WriteError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func queryInt64(r *http.Request, key string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func requireUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := queryInt64(r, "tg_user_id")
	if err != nil || id == 0 {
		infrahttp.WriteError(w, http.StatusBadRequest, "tg_user_id is required")
		return 0, false
	}
	return id, true
}

func queryLimit(r *http.Request, def, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > max {
		return 0, errors.New("limit must be between 1 and " + strconv.Itoa(max))
	}
	return n, nil
}

// writeDomainError переводит доменные ошибки в коды HTTP.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrUserNotFound), errors.Is(err, domain.ErrChannelNotFound), errors.Is(err, domain.ErrPaymentNotFound):
		infrahttp.WriteError(w, http.StatusNotFound, rootMessage(err))
	case errors.Is(err, domain.ErrInvalidUsername), errors.Is(err, domain.ErrInvalidDays),
		errors.Is(err, domain.ErrUnknownPlan), errors.Is(err, domain.ErrUnknownMethod):
		infrahttp.WriteError(w, http.StatusBadRequest, rootMessage(err))
	case errors.Is(err, domain.ErrVIPRequired):
		infrahttp.WriteError(w, http.StatusForbidden, domain.ErrVIPRequired.Error())
	default:
		h.Log.Error().Err(err).Str("path", r.URL.Path).Str("request_id", infrahttp.RequestID(r)).Msg("api: внутренняя ошибка")
		infrahttp.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

var knownErrors = []error{
	domain.ErrUserNotFound,
	domain.ErrChannelNotFound,
	domain.ErrPaymentNotFound,
	domain.ErrInvalidUsername,
	domain.ErrInvalidDays,
	domain.ErrUnknownPlan,
	domain.ErrUnknownMethod,
}

// rootMessage возвращает текст известной ошибки без обёрток, чтобы клиент мог её распознать.
func rootMessage(err error) string {
	for _, known := range knownErrors {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return err.Error()
}
