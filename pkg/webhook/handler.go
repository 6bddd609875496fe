package webhook

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wisbric/courier/internal/apperror"
	"github.com/wisbric/courier/internal/httpserver"
	"github.com/wisbric/courier/internal/telemetry"
	"github.com/wisbric/courier/pkg/message"
	"github.com/wisbric/courier/pkg/provider"
)

// Signature headers, one per integration.
const (
	twilioSignatureHeader = "X-Twilio-Signature"
	resendSignatureHeader = "X-Resend-Signature"
)

// maxBody bounds webhook request bodies.
const maxBody = 1 << 20

// Store is the persistence surface the webhook ingestor needs.
type Store interface {
	GetMessageByProviderID(ctx context.Context, providerMessageID string) (*message.ScheduledMessage, error)
	PatchMessage(ctx context.Context, id uuid.UUID, expect message.Status, patch message.Patch) (bool, error)
	InsertEvent(ctx context.Context, e *message.Event) error
}

// Secrets holds the per-integration webhook signing secrets.
type Secrets struct {
	Twilio string
	Resend string
}

// Handler ingests provider callbacks.
type Handler struct {
	store   Store
	dedup   *Deduplicator
	secrets Secrets
	logger  *slog.Logger
	now     func() time.Time
}

// NewHandler creates a webhook Handler.
func NewHandler(store Store, dedup *Deduplicator, secrets Secrets, logger *slog.Logger) *Handler {
	return &Handler{store: store, dedup: dedup, secrets: secrets, logger: logger, now: time.Now}
}

// Routes returns a chi.Router with all webhook endpoints mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/twilio/status", h.handleTwilioStatus)
	r.Post("/twilio/inbound", h.handleTwilioInbound)
	r.Post("/resend", h.handleResend)
	return r
}

// readVerified reads the raw body and checks its HMAC before any
// parsing. A missing or mismatched signature is rejected as 401.
func (h *Handler) readVerified(w http.ResponseWriter, r *http.Request, providerName, header, secret string) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "reading request body")
		return nil, false
	}

	if !VerifySignature(secret, body, r.Header.Get(header)) {
		telemetry.WebhookEventsTotal.WithLabelValues(providerName, "rejected_signature").Inc()
		h.logger.Warn("webhook signature verification failed", "provider", providerName)
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "invalid signature")
		return nil, false
	}
	return body, true
}

func (h *Handler) handleTwilioStatus(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readVerified(w, r, provider.ProviderTwilio, twilioSignatureHeader, h.secrets.Twilio)
	if !ok {
		return
	}

	var payload twilioStatusPayload
	if err := decodeStrict(body, &payload); err != nil {
		telemetry.WebhookEventsTotal.WithLabelValues(provider.ProviderTwilio, "rejected_schema").Inc()
		httpserver.RespondAppError(w, err)
		return
	}
	if err := payload.validate(); err != nil {
		telemetry.WebhookEventsTotal.WithLabelValues(provider.ProviderTwilio, "rejected_schema").Inc()
		httpserver.RespondAppError(w, err)
		return
	}
	status, err := payload.eventStatus()
	if err != nil {
		telemetry.WebhookEventsTotal.WithLabelValues(provider.ProviderTwilio, "rejected_schema").Inc()
		httpserver.RespondAppError(w, err)
		return
	}

	h.fold(r.Context(), w, provider.ProviderTwilio, payload.MessageSid, status, body)
}

func (h *Handler) handleTwilioInbound(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readVerified(w, r, provider.ProviderTwilio, twilioSignatureHeader, h.secrets.Twilio)
	if !ok {
		return
	}

	var payload twilioInboundPayload
	if err := decodeStrict(body, &payload); err != nil {
		telemetry.WebhookEventsTotal.WithLabelValues(provider.ProviderTwilio, "rejected_schema").Inc()
		httpserver.RespondAppError(w, err)
		return
	}
	if err := payload.validate(); err != nil {
		telemetry.WebhookEventsTotal.WithLabelValues(provider.ProviderTwilio, "rejected_schema").Inc()
		httpserver.RespondAppError(w, err)
		return
	}

	// Inbound messages never match a scheduled message: always orphan.
	pmid := payload.MessageSid
	event := &message.Event{
		ID:                uuid.New(),
		Provider:          provider.ProviderTwilio,
		ProviderMessageID: &pmid,
		Status:            message.EventInbound,
		Raw:               body,
		CreatedAt:         h.now(),
	}
	if err := h.store.InsertEvent(r.Context(), event); err != nil {
		h.logger.Error("recording inbound event", "error", err)
		httpserver.RespondAppError(w, err)
		return
	}

	telemetry.WebhookEventsTotal.WithLabelValues(provider.ProviderTwilio, "inbound").Inc()
	httpserver.Respond(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleResend(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readVerified(w, r, provider.ProviderResend, resendSignatureHeader, h.secrets.Resend)
	if !ok {
		return
	}

	var payload resendEventPayload
	if err := decodeStrict(body, &payload); err != nil {
		telemetry.WebhookEventsTotal.WithLabelValues(provider.ProviderResend, "rejected_schema").Inc()
		httpserver.RespondAppError(w, err)
		return
	}
	if err := payload.validate(); err != nil {
		telemetry.WebhookEventsTotal.WithLabelValues(provider.ProviderResend, "rejected_schema").Inc()
		httpserver.RespondAppError(w, err)
		return
	}
	status, err := payload.eventStatus()
	if err != nil {
		telemetry.WebhookEventsTotal.WithLabelValues(provider.ProviderResend, "rejected_schema").Inc()
		httpserver.RespondAppError(w, err)
		return
	}

	h.fold(r.Context(), w, provider.ProviderResend, payload.Data.EmailID, status, body)
}

// fold applies a verified, schema-valid status callback. Replays are
// absorbed twice over: the dedup check up front, and the store's unique
// event constraint underneath it.
func (h *Handler) fold(ctx context.Context, w http.ResponseWriter, providerName, providerMessageID string, status message.EventStatus, raw []byte) {
	seen, err := h.dedup.Seen(ctx, providerName, providerMessageID, status)
	if err != nil {
		h.logger.Error("webhook dedup check failed", "error", err, "provider", providerName)
		httpserver.RespondAppError(w, err)
		return
	}
	if seen {
		// A replay can arrive after the event row landed but before
		// the status transition did. Re-drive the transition so a
		// half-applied callback is repaired instead of acknowledged.
		if err := h.applyStatus(ctx, providerMessageID, status); err != nil {
			h.logger.Error("folding webhook status on replay", "error", err, "provider", providerName)
			httpserver.RespondAppError(w, err)
			return
		}
		httpserver.Respond(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	event := &message.Event{
		ID:                uuid.New(),
		Provider:          providerName,
		ProviderMessageID: &providerMessageID,
		Status:            status,
		Raw:               raw,
		CreatedAt:         h.now(),
	}

	m, err := h.store.GetMessageByProviderID(ctx, providerMessageID)
	switch {
	case err == nil:
		event.TenantID = m.TenantID
		event.ScheduledMessageID = &m.ID
	case apperror.IsKind(err, apperror.KindNotFound):
		// Orphan: no matching scheduled message. Recorded, not failed.
		telemetry.WebhookEventsTotal.WithLabelValues(providerName, "orphan").Inc()
	default:
		h.logger.Error("looking up message for webhook", "error", err, "provider", providerName)
		httpserver.RespondAppError(w, err)
		return
	}

	if err := h.store.InsertEvent(ctx, event); err != nil {
		if apperror.IsKind(err, apperror.KindConflict) {
			// Lost a race with a concurrent replay: same outcome, but
			// the winner may not have finished the transition yet.
			if err := h.applyStatus(ctx, providerMessageID, status); err != nil {
				h.logger.Error("folding webhook status after event conflict", "error", err, "provider", providerName)
				httpserver.RespondAppError(w, err)
				return
			}
			h.dedup.Record(ctx, providerName, providerMessageID, status)
			httpserver.Respond(w, http.StatusOK, map[string]bool{"ok": true})
			return
		}
		h.logger.Error("recording webhook event", "error", err, "provider", providerName)
		httpserver.RespondAppError(w, err)
		return
	}

	if m != nil {
		newStatus := message.StatusDelivered
		if status == message.EventBounced {
			newStatus = message.StatusBounced
		}
		ok, err := h.store.PatchMessage(ctx, m.ID, message.StatusSent, message.Patch{Status: newStatus})
		if err != nil {
			// Leave the dedup key unrecorded: the provider's retry
			// must get another shot at the transition.
			h.logger.Error("folding webhook status", "error", err, "message_id", m.ID)
			httpserver.RespondAppError(w, err)
			return
		}
		if !ok {
			// Already terminal: the event row is kept, the status stands.
			h.logger.Info("webhook for finalized message recorded without transition",
				"message_id", m.ID, "status", status)
		}
	}
	h.dedup.Record(ctx, providerName, providerMessageID, status)

	telemetry.WebhookEventsTotal.WithLabelValues(providerName, "folded").Inc()
	httpserver.Respond(w, http.StatusOK, map[string]bool{"ok": true})
}

// applyStatus drives the sent-to-terminal transition for the message
// matching providerMessageID, if one exists. The conditional patch makes
// it safe to repeat: a message already finalized is left alone.
func (h *Handler) applyStatus(ctx context.Context, providerMessageID string, status message.EventStatus) error {
	m, err := h.store.GetMessageByProviderID(ctx, providerMessageID)
	if apperror.IsKind(err, apperror.KindNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	newStatus := message.StatusDelivered
	if status == message.EventBounced {
		newStatus = message.StatusBounced
	}
	if _, err := h.store.PatchMessage(ctx, m.ID, message.StatusSent, message.Patch{Status: newStatus}); err != nil {
		return err
	}
	return nil
}
