package httpapi

import (
	"errors"
	"io"
	"net/http"

	chi "github.com/go-chi/chi/v5"

	"my-feed-bot/internal/adapters/tochka"
	"my-feed-bot/internal/domain"
	infrahttp "my-feed-bot/internal/infra/http"
	"my-feed-bot/internal/usecase/payments"
)

const maxWebhookBody = 1 << 20

// sbpWebhook принимает уведомления банка об оплате по QR.
func (h *Handler) sbpWebhook(w http.ResponseWriter, r *http.Request) {
	if h.Payments == nil {
		infrahttp.WriteError(w, http.StatusNotImplemented, "payments are not configured")
		return
	}
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		infrahttp.WriteError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	notification, err := tochka.ParseNotification(body, h.WebhookKey)
	switch {
	case errors.Is(err, tochka.ErrInvalidWebhookSignature):
		infrahttp.WriteError(w, http.StatusUnauthorized, "invalid signature")
		return
	case errors.Is(err, tochka.ErrUnexpectedWebhook):
		infrahttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	case err != nil:
		h.Log.Warn().Err(err).Msg("api: некорректное уведомление СБП")
		infrahttp.WriteError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	res, err := h.Payments.HandleSBPNotification(r.Context(), notification)
	switch {
	case errors.Is(err, domain.ErrPaymentNotFound):
		infrahttp.WriteError(w, http.StatusNotFound, domain.ErrPaymentNotFound.Error())
	case errors.Is(err, payments.ErrAmountMismatch):
		h.Log.Warn().Str("qrc_id", notification.QRID).Int64("amount", notification.Amount.Amount).Msg("api: сумма оплаты не совпадает")
		infrahttp.WriteError(w, http.StatusUnprocessableEntity, payments.ErrAmountMismatch.Error())
	case err != nil:
		h.writeDomainError(w, r, err)
	default:
		infrahttp.WriteJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"intent_id": res.Intent.ID,
			"extended":  res.Extended,
		})
	}
}

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	if h.Payments == nil {
		infrahttp.WriteError(w, http.StatusNotImplemented, "payments are not configured")
		return
	}
	var req CreatePaymentRequest
	if !decode(w, r, &req) {
		return
	}
	method, err := domain.ParsePaymentMethod(req.Method)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	intent, err := h.Payments.CreateIntent(r.Context(), req.TGUserID, domain.PlanID(req.Plan), method)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	infrahttp.WriteJSON(w, http.StatusCreated, PaymentResponse{Intent: intent})
}

func (h *Handler) checkPayment(w http.ResponseWriter, r *http.Request) {
	if h.Payments == nil {
		infrahttp.WriteError(w, http.StatusNotImplemented, "payments are not configured")
		return
	}
	res, err := h.Payments.Check(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	infrahttp.WriteJSON(w, http.StatusOK, PaymentResponse{Intent: res.Intent, Extended: res.Extended})
}
