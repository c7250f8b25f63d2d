package bitnob

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"satchat/internal/metrics"
)

// Webhook event types Bitnob delivers for wallet activity. Older deliveries
// use "transaction.completed" for the success event.
const (
	EventTransactionSuccess   = "transaction.success"
	EventTransactionCompleted = "transaction.completed"
	EventTransactionFailed    = "transaction.failed"
	EventWalletCredited       = "wallet.credited"
)

// Event contains the verified payload of a Bitnob webhook delivery.
type Event struct {
	Type       string
	Data       EventData
	Raw        json.RawMessage
	ReceivedAt time.Time
}

// EventData carries the transaction fields Bitnob includes in wallet events.
type EventData struct {
	ID            string `json:"id"`
	Reference     string `json:"reference"`
	Status        string `json:"status"`
	TxHash        string `json:"txHash"`
	Address       string `json:"address"`
	Satoshis      int64  `json:"satoshis"`
	CustomerPhone string `json:"customerPhone"`
	FailureReason string `json:"failureReason"`
}

// Processor defines the handler interface for Bitnob events.
type Processor interface {
	HandleBitnobEvent(ctx context.Context, event Event) error
}

// WebhookHandler verifies the Bitnob webhook signature and forwards events.
type WebhookHandler struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	secret    string
	processor Processor
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(logger *slog.Logger, m *metrics.Metrics, secret string, processor Processor) *WebhookHandler {
	return &WebhookHandler{
		logger:    logger.With("component", "bitnob_webhook"),
		metrics:   m,
		secret:    secret,
		processor: processor,
	}
}

// ServeHTTP satisfies http.Handler.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.metrics.Errors.WithLabelValues("bitnob_webhook").Inc()
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if !h.verifySignature(r.Header.Get("X-Bitnob-Signature"), body) {
		h.metrics.Errors.WithLabelValues("bitnob_webhook_auth").Inc()
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var envelope struct {
		Event string    `json:"event"`
		Data  EventData `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		h.metrics.Errors.WithLabelValues("bitnob_webhook").Inc()
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if envelope.Event == "" {
		envelope.Event = "unknown"
	}

	event := Event{
		Type:       envelope.Event,
		Data:       envelope.Data,
		Raw:        body,
		ReceivedAt: time.Now(),
	}

	if h.processor != nil {
		if err := h.processor.HandleBitnobEvent(r.Context(), event); err != nil {
			h.logger.Error("failed processing webhook", "error", err, "event", event.Type)
			h.metrics.Errors.WithLabelValues("bitnob_webhook_process").Inc()
			http.Error(w, "failed to process", http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// verifySignature checks the hex HMAC-SHA256 of the raw payload.
func (h *WebhookHandler) verifySignature(signature string, payload []byte) bool {
	signature = strings.TrimSpace(strings.ToLower(signature))
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}
