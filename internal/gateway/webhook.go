package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ziadkadry99/relaybot/internal/dispatch"
)

// signatureWindow bounds how old a signed webhook request may be.
const signatureWindow = 5 * time.Minute

// WebhookOptions configures the webhook source.
type WebhookOptions struct {
	// Secret enables request signature verification. Empty disables it.
	Secret string

	// Filter restricts which conversations are admitted. Nil admits all.
	Filter *Filter

	// OnReject, when set, records events refused before dispatch.
	OnReject dispatch.RecordFunc

	Logger *slog.Logger
}

// Webhook ingests platform events pushed over HTTP and submits them to
// the intake. Accepted events are processed asynchronously; the response
// only acknowledges receipt.
type Webhook struct {
	intake Intake
	opts   WebhookOptions
}

// NewWebhook creates a webhook source feeding the given intake.
func NewWebhook(intake Intake, opts WebhookOptions) *Webhook {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Webhook{intake: intake, opts: opts}
}

// RegisterRoutes mounts the webhook endpoint on the given router.
func RegisterRoutes(r chi.Router, wh *Webhook) {
	r.Post("/api/events", wh.HandleEvent)
}

// HandleEvent handles one pushed platform event (HTTP POST).
func (h *Webhook) HandleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if h.opts.Secret != "" {
		if !h.verifySignature(r, body) {
			h.reject(r.Context(), "", "", "invalid signature")
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	we, err := parseWireEvent(body)
	if err != nil {
		h.reject(r.Context(), "", "", "malformed payload")
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	switch we.Type {
	case "url_verification":
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"challenge": we.Challenge})
		return
	case "", "event":
	default:
		w.WriteHeader(http.StatusOK)
		return
	}

	// Our own replies echo back from the platform; dropping them here
	// prevents loops.
	if we.Bot {
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := we.validate(); err != nil {
		h.reject(r.Context(), we.ConversationID, we.EventID, err.Error())
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !h.opts.Filter.Admit(we.ConversationID) {
		h.reject(r.Context(), we.ConversationID, we.EventID, "conversation filtered")
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.intake.Submit(r.Context(), we.toEvent(time.Now())); err != nil {
		h.opts.Logger.Warn("webhook intake refused event",
			"event_id", we.EventID, "conversation_id", we.ConversationID, "error", err)
		http.Error(w, "intake unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]bool{"queued": true})
}

func (h *Webhook) reject(ctx context.Context, conversationID, eventID, reason string) {
	h.opts.Logger.Warn("rejecting inbound event",
		"conversation_id", conversationID, "event_id", eventID, "reason", reason)
	if h.opts.OnReject != nil {
		h.opts.OnReject(ctx, dispatch.Record{
			ConversationID: conversationID,
			EventID:        eventID,
			Outcome:        "rejected",
			Detail:         reason,
		})
	}
}

// verifySignature checks the request signature and timestamp window.
func (h *Webhook) verifySignature(r *http.Request, body []byte) bool {
	timestamp := r.Header.Get("X-Relay-Timestamp")
	signature := r.Header.Get("X-Relay-Signature")
	if timestamp == "" || signature == "" {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	age := time.Since(time.Unix(ts, 0))
	if age < 0 {
		age = -age
	}
	if age > signatureWindow {
		return false
	}

	expected := Sign(h.opts.Secret, timestamp, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign computes the signature callers must send with a webhook body:
// an HMAC-SHA256 over "v0:<timestamp>:<body>", hex encoded with a "v0="
// prefix.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:", timestamp)
	mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}
