// Package httpapi is the HTTP surface of the dispatch service.
package httpapi

import (
	"encoding/json"
	"errors"
	"expvar"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bankdesk/dispatch-service/internal/slots"
	"bankdesk/dispatch-service/internal/store"

	"github.com/go-playground/validator/v10"
)

const DefaultLiveMinutesPerTicket = 5

const (
	defaultEventsLimit = 100
	maxEventsLimit     = 1000
)

type Handler struct {
	store                store.Store
	slots                *slots.Generator
	listOrder            store.QueueOrder
	positionOrder        store.QueueOrder
	liveMinutesPerTicket int
	logger               *slog.Logger
	validate             *validator.Validate
	now                  func() time.Time
}

type Options struct {
	Slots                *slots.Generator
	ListOrder            store.QueueOrder
	PositionOrder        store.QueueOrder
	LiveMinutesPerTicket int
	Logger               *slog.Logger
	Now                  func() time.Time
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func NewHandler(st store.Store, options Options) *Handler {
	h := &Handler{
		store:                st,
		slots:                options.Slots,
		listOrder:            options.ListOrder,
		positionOrder:        options.PositionOrder,
		liveMinutesPerTicket: options.LiveMinutesPerTicket,
		logger:               options.Logger,
		validate:             newValidator(),
		now:                  options.Now,
	}
	if h.slots == nil {
		h.slots = slots.NewGenerator(nil, slots.DefaultDaysAhead, slots.DefaultLeadTime)
	}
	if h.listOrder == "" {
		h.listOrder = store.TieNewestFirst
	}
	if h.positionOrder == "" {
		h.positionOrder = store.TieOldestFirst
	}
	if h.liveMinutesPerTicket <= 0 {
		h.liveMinutesPerTicket = DefaultLiveMinutesPerTicket
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.Handle("GET /debug/vars", expvar.Handler())
	mux.HandleFunc("GET /departments", h.handleDepartments)

	mux.HandleFunc("GET /appointment/slots", h.handleSlots)
	mux.HandleFunc("POST /appointment/book", h.handleBook)
	mux.HandleFunc("GET /appointment/customer/{id}", h.handleCustomerAppointments)
	mux.HandleFunc("GET /appointment/worker", h.handleWorkerAppointments)

	mux.HandleFunc("POST /ticket/add", h.handleAddTicket)
	mux.HandleFunc("GET /ticket", h.handleListTickets)
	mux.HandleFunc("GET /ticket/history/{id}", h.handleTicketHistory)
	mux.HandleFunc("GET /ticket/queue/{$}", h.handleQueue)
	mux.HandleFunc("GET /ticket/queue/checkStatus", h.handleCheckStatus)
	mux.HandleFunc("GET /ticket/queue/{id}", h.handleQueuePosition)
	mux.HandleFunc("POST /ticket/queue/process", h.handleProcessTicket)
	mux.HandleFunc("POST /ticket/queue/complete", h.handleCompleteTicket)
	mux.HandleFunc("POST /ticket/resolve/live", h.handleResolveLive)

	mux.HandleFunc("GET /data/worker", h.handleWorkerDashboard)
	mux.HandleFunc("GET /events", h.handleEvents)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleDepartments(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireRole(w, r); !ok {
		return
	}
	departments, err := h.store.ListDepartments(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"departments": departments})
}

func (h *Handler) handleWorkerDashboard(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireRole(w, r, RoleWorker)
	if !ok {
		return
	}
	dashboard, err := h.store.WorkerDashboard(r.Context(), sess.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireRole(w, r, RoleWorker); !ok {
		return
	}

	afterRaw := strings.TrimSpace(r.URL.Query().Get("after"))
	var after time.Time
	if afterRaw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, afterRaw)
		if err != nil {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "after must be RFC3339 timestamp")
			return
		}
		after = parsed
	}
	afterID := strings.TrimSpace(r.URL.Query().Get("after_id"))
	if afterID != "" && (after.IsZero() || !isValidUUID(afterID)) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "after_id must be a UUID and requires after")
		return
	}

	limit := defaultEventsLimit
	if limitRaw := strings.TrimSpace(r.URL.Query().Get("limit")); limitRaw != "" {
		parsed, err := strconv.Atoi(limitRaw)
		if err != nil || parsed <= 0 {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxEventsLimit)
	}

	events, err := h.store.ListOutboxEvents(r.Context(), after, afterID, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if events == nil {
		events = []store.OutboxEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// decodeRequest reads a JSON body into target and runs struct validation.
func (h *Handler) decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", validationMessage(err))
		return false
	}
	return true
}

// fail writes the mapped error. Unclassified errors are logged and answered
// with a generic message.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapError(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", requestIDFromRequest(r)),
			slog.Any("error", err),
		)
	}
	writeError(w, requestIDFromRequest(r), status, code, msg)
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrDepartmentNotFound):
		return http.StatusNotFound, "department_not_found", "Department not found"
	case errors.Is(err, store.ErrWorkerNotFound):
		return http.StatusNotFound, "worker_not_found", "Worker not found"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "Ticket not found"
	case errors.Is(err, store.ErrQueueEmpty):
		return http.StatusNotFound, "queue_empty", "No tickets in queue"
	case errors.Is(err, store.ErrNotInQueue):
		return http.StatusNotFound, "not_in_queue", "Ticket not found in pending queue"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusBadRequest, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, store.ErrTicketCompleted):
		return http.StatusBadRequest, "ticket_completed", "Ticket already completed"
	case errors.Is(err, store.ErrTicketInProgress):
		return http.StatusBadRequest, "ticket_in_progress", "Ticket already in progress"
	case errors.Is(err, store.ErrAlreadyAllotted):
		return http.StatusBadRequest, "already_allotted", "Ticket already allotted"
	case errors.Is(err, store.ErrDepartmentMismatch):
		return http.StatusBadRequest, "department_mismatch", "Ticket belongs to another department"
	case errors.Is(err, store.ErrNoWorkerAvailable):
		return http.StatusBadRequest, "no_worker_available", "No workers available for this slot"
	case errors.Is(err, store.ErrDepartmentExists):
		return http.StatusConflict, "department_exists", "Department already exists"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
