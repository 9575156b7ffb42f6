package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

const (
	signatureHeader = "X-Hub-Signature-256"
	maxWebhookBody  = 1 << 20
)

// UpdateFunc receives the raw JSON body of every verified webhook delivery.
type UpdateFunc func(ctx context.Context, payload []byte) error

type WebhookHandler struct {
	verifyToken string
	appSecret   string
	onUpdate    UpdateFunc
	log         logrus.FieldLogger
}

// NewWebhookHandler builds the webhook endpoint. With an empty appSecret the
// X-Hub-Signature-256 header is not checked.
func NewWebhookHandler(verifyToken, appSecret string, onUpdate UpdateFunc, log logrus.FieldLogger) *WebhookHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &WebhookHandler{
		verifyToken: verifyToken,
		appSecret:   appSecret,
		onUpdate:    onUpdate,
		log:         log,
	}
}

// Mount registers the verification and delivery routes on path.
func (h *WebhookHandler) Mount(r chi.Router, path string) {
	r.Get(path, h.HandleVerify)
	r.Post(path, h.HandleIncoming)
}

// HandleVerify handles the GET webhook verification from Meta.
// Reference: https://developers.facebook.com/docs/whatsapp/cloud-api/get-started#webhook-verification
func (h *WebhookHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token != "" && token == h.verifyToken {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(challenge))
		return
	}

	h.log.WithField("mode", mode).Warn("webhook: verification rejected")
	http.Error(w, "Forbidden", http.StatusForbidden)
}

// HandleIncoming processes incoming webhook POST notifications.
// Reference: https://developers.facebook.com/docs/whatsapp/cloud-api/webhooks/components
func (h *WebhookHandler) HandleIncoming(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.log.WithField("limit", tooLarge.Limit).Warn("webhook: body too large")
			http.Error(w, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
			return
		}
		h.log.WithError(err).Error("webhook: failed to read body")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !h.validSignature(r.Header.Get(signatureHeader), body) {
		h.log.Warn("webhook: invalid signature")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	// Meta retries anything but 200, so undecodable payloads are acknowledged and dropped.
	if !json.Valid(body) {
		h.log.Error("webhook: payload is not valid JSON")
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.onUpdate(r.Context(), body); err != nil {
		h.log.WithError(err).Error("webhook: update processing failed")
	}
	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) validSignature(header string, body []byte) bool {
	if h.appSecret == "" {
		return true
	}
	if !strings.HasPrefix(header, "sha256=") {
		return false
	}
	return hmac.Equal([]byte(header), []byte(Sign(h.appSecret, body)))
}

// Sign computes the X-Hub-Signature-256 header value for body.
func Sign(appSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
