package message

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wisbric/courier/internal/apperror"
	"github.com/wisbric/courier/internal/httpserver"
	"github.com/wisbric/courier/pkg/tenant"
)

// Handler provides the HTTP handlers for the messages API.
type Handler struct {
	scheduler *Scheduler
	logger    *slog.Logger
}

// NewHandler creates a message Handler.
func NewHandler(scheduler *Scheduler, logger *slog.Logger) *Handler {
	return &Handler{scheduler: scheduler, logger: logger}
}

// Routes returns a chi.Router with all message routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleSchedule)
	r.Get("/", h.handleList)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Post("/cancel", h.handleCancel)
		r.Get("/events", h.handleEvents)
	})
	return r
}

// scheduleRequest is the wire shape of POST /messages.
type scheduleRequest struct {
	ContactID  string  `json:"contact_id" validate:"required,uuid"`
	TemplateID *string `json:"template_id,omitempty" validate:"omitempty,uuid"`
	SendAt     string  `json:"send_at" validate:"required"`
	Payload    Payload `json:"payload" validate:"required"`
}

func (h *Handler) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	sendAt, err := time.Parse(time.RFC3339, req.SendAt)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "send_at must be RFC 3339")
		return
	}

	contactID, err := uuid.Parse(req.ContactID)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "contact_id must be a UUID")
		return
	}
	var templateID *uuid.UUID
	if req.TemplateID != nil {
		id, err := uuid.Parse(*req.TemplateID)
		if err != nil {
			httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "template_id must be a UUID")
			return
		}
		templateID = &id
	}

	t := tenant.FromContext(r.Context())
	m, err := h.scheduler.Schedule(r.Context(), t.ID, ScheduleRequest{
		ContactID:  contactID,
		TemplateID: templateID,
		SendAt:     sendAt,
		Payload:    req.Payload,
	})
	if err != nil {
		if apperror.KindOf(err) == apperror.KindInternal {
			h.logger.Error("scheduling message", "error", err, "tenant_id", t.ID)
		}
		httpserver.RespondAppError(w, err)
		return
	}

	httpserver.Respond(w, http.StatusCreated, m)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid message id")
		return
	}

	t := tenant.FromContext(r.Context())
	m, err := h.scheduler.Cancel(r.Context(), t.ID, id)
	if err != nil {
		httpserver.RespondAppError(w, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, m)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid message id")
		return
	}

	t := tenant.FromContext(r.Context())
	m, err := h.scheduler.Get(r.Context(), t.ID, id)
	if err != nil {
		httpserver.RespondAppError(w, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, m)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	status := Status(r.URL.Query().Get("status"))

	t := tenant.FromContext(r.Context())
	items, total, err := h.scheduler.List(r.Context(), t.ID, status, params.PageSize, params.Offset)
	if err != nil {
		h.logger.Error("listing messages", "error", err, "tenant_id", t.ID)
		httpserver.RespondAppError(w, err)
		return
	}
	if items == nil {
		items = []ScheduledMessage{}
	}

	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(items, params, total))
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid message id")
		return
	}

	t := tenant.FromContext(r.Context())
	events, err := h.scheduler.Events(r.Context(), t.ID, id)
	if err != nil {
		httpserver.RespondAppError(w, err)
		return
	}
	if events == nil {
		events = []Event{}
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{"items": events})
}
