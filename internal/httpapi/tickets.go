package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"bankdesk/dispatch-service/internal/models"
	"bankdesk/dispatch-service/internal/store"
)

type addTicketRequest struct {
	Dep           string `json:"dep" validate:"required"`
	Type          string `json:"type" validate:"required,oneof=text audio video"`
	Content       string `json:"content" validate:"required"`
	Transcription string `json:"transcription"`
	PriorityScore *int   `json:"priority_score" validate:"omitempty,min=0,max=100"`
}

type ticketActionRequest struct {
	TicketID string `json:"ticketID" validate:"required,uuid"`
}

type addTicketResponse struct {
	Message string        `json:"message"`
	Ticket  models.Ticket `json:"ticket"`
}

type queuePositionResponse struct {
	Message             string `json:"message"`
	Position            int    `json:"position"`
	TotalPendingTickets int    `json:"totalPendingTickets"`
}

type liveResponse struct {
	Message  string `json:"message"`
	WaitTime string `json:"wait_time"`
	Position int    `json:"position,omitempty"`
}

type historyResponse struct {
	Ticket   models.Ticket       `json:"ticket"`
	Events   []store.TicketEvent `json:"events"`
	Verified bool                `json:"verified"`
	BrokenAt int                 `json:"broken_at,omitempty"`
}

func (h *Handler) handleAddTicket(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireRole(w, r, RoleCustomer)
	if !ok {
		return
	}
	var req addTicketRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}

	priority := models.DefaultPriorityScore
	if req.PriorityScore != nil {
		priority = *req.PriorityScore
	}
	ticket, err := h.store.CreateTicket(r.Context(), store.CreateTicketInput{
		UserID:         sess.UserID,
		DepartmentName: strings.TrimSpace(req.Dep),
		QueryType:      req.Type,
		Content:        req.Content,
		Transcription:  strings.TrimSpace(req.Transcription),
		PriorityScore:  priority,
		CreatedAt:      h.now().UTC(),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, addTicketResponse{Message: "Ticket created", Ticket: ticket})
}

func (h *Handler) handleListTickets(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireRole(w, r)
	if !ok {
		return
	}
	tickets, err := h.store.ListUserTickets(r.Context(), sess.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}
	writeJSON(w, http.StatusOK, map[string][]models.Ticket{"tickets": tickets})
}

func (h *Handler) handleTicketHistory(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireRole(w, r, RoleWorker); !ok {
		return
	}
	ticketID, ok := ticketIDParam(w, r, r.PathValue("id"))
	if !ok {
		return
	}

	events, err := h.store.ListTicketEvents(r.Context(), ticketID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rehydrated, err := store.RehydrateTicket(events)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	brokenAt, verified := store.VerifyTicketEvents(events)
	if !verified {
		h.logger.WarnContext(r.Context(), "ticket event chain broken",
			"ticket_id", ticketID,
			"seq", brokenAt,
		)
	}
	writeJSON(w, http.StatusOK, historyResponse{
		Ticket:   rehydrated,
		Events:   events,
		Verified: verified,
		BrokenAt: brokenAt,
	})
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireRole(w, r, RoleWorker); !ok {
		return
	}
	queue, err := h.store.ListLiveQueue(r.Context(), h.listOrder)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if len(queue) == 0 {
		h.fail(w, r, store.ErrQueueEmpty)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]models.Ticket{"nextTickets": queue})
}

func (h *Handler) handleCheckStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireRole(w, r); !ok {
		return
	}
	raw := strings.TrimSpace(r.URL.Query().Get("ticketID"))
	if raw == "" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "Please provide ticket ID")
		return
	}
	ticketID, ok := ticketIDParam(w, r, raw)
	if !ok {
		return
	}

	ticket, err := h.store.GetTicket(r.Context(), ticketID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"alloted": ticket.Status == models.StatusInProgress})
}

func (h *Handler) handleQueuePosition(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireRole(w, r); !ok {
		return
	}
	ticketID, ok := ticketIDParam(w, r, r.PathValue("id"))
	if !ok {
		return
	}

	queue, err := h.store.ListLiveQueue(r.Context(), h.positionOrder)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	position, total, err := store.QueuePosition(queue, ticketID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queuePositionResponse{
		Message:             "Ticket found in queue",
		Position:            position,
		TotalPendingTickets: total,
	})
}

func (h *Handler) handleProcessTicket(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireRole(w, r, RoleWorker)
	if !ok {
		return
	}
	var req ticketActionRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}

	ticket, err := h.store.ProcessTicket(r.Context(), store.TicketActionInput{
		TicketID:   req.TicketID,
		WorkerID:   sess.UserID,
		OccurredAt: h.now().UTC(),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: fmt.Sprintf("Ticket %s marked as in progress.", ticket.TicketID)})
}

func (h *Handler) handleCompleteTicket(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireRole(w, r, RoleWorker)
	if !ok {
		return
	}
	var req ticketActionRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}

	ticket, err := h.store.CompleteTicket(r.Context(), store.TicketActionInput{
		TicketID:   req.TicketID,
		WorkerID:   sess.UserID,
		OccurredAt: h.now().UTC(),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: fmt.Sprintf("Ticket %s marked as completed.", ticket.TicketID)})
}

// handleResolveLive puts the caller's ticket on the live queue and estimates
// the wait from its position.
func (h *Handler) handleResolveLive(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireRole(w, r, RoleCustomer)
	if !ok {
		return
	}
	var req ticketActionRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}

	current, err := h.store.GetTicket(r.Context(), req.TicketID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if current.UserID != sess.UserID {
		h.fail(w, r, store.ErrTicketNotFound)
		return
	}

	if _, err := h.store.RequestLive(r.Context(), store.TicketActionInput{
		TicketID:   req.TicketID,
		OccurredAt: h.now().UTC(),
	}); err != nil {
		h.fail(w, r, err)
		return
	}

	minutes := h.liveMinutesPerTicket
	position := 0
	if queue, err := h.store.ListLiveQueue(r.Context(), h.positionOrder); err == nil {
		if pos, _, err := store.QueuePosition(queue, req.TicketID); err == nil {
			position = pos
			minutes = pos * h.liveMinutesPerTicket
		}
	}
	writeJSON(w, http.StatusOK, liveResponse{
		Message:  "Ticket allotted successfully",
		WaitTime: fmt.Sprintf("%d minutes", minutes),
		Position: position,
	})
}

func ticketIDParam(w http.ResponseWriter, r *http.Request, raw string) (string, bool) {
	ticketID := strings.TrimSpace(raw)
	if ticketID == "" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "Please provide ticket ID")
		return "", false
	}
	if !isValidUUID(ticketID) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "ticketID must be a valid UUID")
		return "", false
	}
	return ticketID, true
}
