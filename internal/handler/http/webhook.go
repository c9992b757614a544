package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	apperrors "github.com/amingione/fas-checkout/pkg/errors"
	"github.com/amingione/fas-checkout/pkg/httputil"

	"github.com/amingione/fas-checkout/internal/service"
)

// SignatureHeader carries the hex-encoded HMAC-SHA256 of the webhook body.
const SignatureHeader = "X-Webhook-Signature"

// eventPaymentSucceeded is the only gateway event type this endpoint acts on.
const eventPaymentSucceeded = "payment_intent.succeeded"

// WebhookHandler receives payment gateway notifications and triggers the
// completion saga. It races the client's explicit completion call by design.
type WebhookHandler struct {
	completer *service.CompletionService
	secret    []byte
	logger    *slog.Logger
}

// NewWebhookHandler creates the webhook handler. secret is the shared signing
// key configured at the payment gateway.
func NewWebhookHandler(completer *service.CompletionService, secret string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		completer: completer,
		secret:    []byte(secret),
		logger:    logger,
	}
}

type webhookEvent struct {
	Type string `json:"type"`
	Data struct {
		PaymentIntentID string `json:"payment_intent_id"`
	} `json:"data"`
}

// HandlePaymentEvent handles POST /webhooks/payment.
//
// Response codes steer the gateway's retry behavior: 5xx asks for redelivery,
// 2xx acknowledges, and a terminal rejection is acknowledged too since
// redelivering it cannot change the outcome.
func (h *WebhookHandler) HandlePaymentEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "unreadable request body"},
		})
		return
	}

	if !h.verifySignature(body, r.Header.Get(SignatureHeader)) {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed",
			slog.String("remote_addr", r.RemoteAddr),
		)
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "UNAUTHORIZED", Message: "invalid webhook signature"},
		})
		return
	}

	var evt webhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "malformed webhook payload"},
		})
		return
	}

	if evt.Type != eventPaymentSucceeded {
		httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{"status": "ignored"}})
		return
	}
	if evt.Data.PaymentIntentID == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "payment_intent_id is required"},
		})
		return
	}

	order, err := h.completer.Complete(r.Context(), evt.Data.PaymentIntentID)
	if err != nil {
		if apperrors.HTTPStatus(err) >= 500 {
			httputil.WriteError(w, r, err, h.logger)
			return
		}
		// Terminal for this payload; acknowledge so the gateway stops
		// retrying. The failure is already logged and published.
		h.logger.ErrorContext(r.Context(), "webhook completion rejected",
			slog.String("payment_intent_id", evt.Data.PaymentIntentID),
			slog.String("error", err.Error()),
		)
		httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{"status": "rejected"}})
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{
		"status":   "completed",
		"order_id": order.ID,
	}})
}

func (h *WebhookHandler) verifySignature(body []byte, signature string) bool {
	if len(h.secret) == 0 || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
