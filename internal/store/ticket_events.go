package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"bankdesk/dispatch-service/internal/models"
)

type TicketEvent struct {
	TicketID  string          `json:"ticket_id"`
	TicketSeq int             `json:"ticket_seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

type eventPayload struct {
	TicketID       string     `json:"ticket_id"`
	UserID         string     `json:"user_id"`
	DepartmentID   string     `json:"department_id"`
	Status         string     `json:"status"`
	ResolutionMode *string    `json:"resolution_mode"`
	PriorityScore  *int       `json:"priority_score"`
	WorkerID       *string    `json:"worker_id"`
	CreatedAt      *time.Time `json:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at"`
}

// TicketPayload is the JSON body recorded for outbox and audit events.
func TicketPayload(ticket models.Ticket) ([]byte, error) {
	priority := ticket.PriorityScore
	payload := eventPayload{
		TicketID:       ticket.TicketID,
		UserID:         ticket.UserID,
		DepartmentID:   ticket.DepartmentID,
		Status:         ticket.Status,
		ResolutionMode: ticket.ResolutionMode,
		PriorityScore:  &priority,
		WorkerID:       ticket.WorkerID,
	}
	if !ticket.CreatedAt.IsZero() {
		createdAt := ticket.CreatedAt.UTC()
		payload.CreatedAt = &createdAt
	}
	if !ticket.UpdatedAt.IsZero() {
		updatedAt := ticket.UpdatedAt.UTC()
		payload.UpdatedAt = &updatedAt
	}
	return json.Marshal(payload)
}

func ComputeTicketEventHash(prevHash, ticketID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, ticketID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// VerifyTicketEvents walks the chain and reports the first sequence number
// whose hash or back-link does not match.
func VerifyTicketEvents(events []TicketEvent) (int, bool) {
	prev := ""
	for _, event := range events {
		if event.PrevHash != prev {
			return event.TicketSeq, false
		}
		if ComputeTicketEventHash(prev, event.TicketID, event.Type, event.Payload, event.CreatedAt, event.TicketSeq) != event.Hash {
			return event.TicketSeq, false
		}
		prev = event.Hash
	}
	return 0, true
}

func RehydrateTicket(events []TicketEvent) (models.Ticket, error) {
	var ticket models.Ticket
	for _, event := range events {
		if len(event.Payload) == 0 {
			continue
		}
		var payload eventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return models.Ticket{}, err
		}
		if payload.TicketID != "" {
			ticket.TicketID = payload.TicketID
		}
		if payload.UserID != "" {
			ticket.UserID = payload.UserID
		}
		if payload.DepartmentID != "" {
			ticket.DepartmentID = payload.DepartmentID
		}
		if payload.Status != "" {
			ticket.Status = payload.Status
		}
		if payload.ResolutionMode != nil {
			ticket.ResolutionMode = payload.ResolutionMode
		}
		if payload.PriorityScore != nil {
			ticket.PriorityScore = *payload.PriorityScore
		}
		if payload.WorkerID != nil {
			ticket.WorkerID = payload.WorkerID
		}
		if payload.CreatedAt != nil {
			ticket.CreatedAt = *payload.CreatedAt
		}
		if payload.UpdatedAt != nil {
			ticket.UpdatedAt = *payload.UpdatedAt
		}
	}
	return ticket, nil
}

// AppointmentPayload is the outbox body for a new booking.
func AppointmentPayload(appt models.Appointment) ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"appointment_id": appt.AppointmentID,
		"customer_id":    appt.CustomerID,
		"worker_id":      appt.WorkerID,
		"department_id":  appt.DepartmentID,
		"ticket_id":      appt.TicketID,
		"slot_at":        appt.SlotAt.UTC(),
		"time_slot":      appt.TimeSlot,
		"status":         appt.Status,
	})
}
