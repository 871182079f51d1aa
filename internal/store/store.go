package store

import (
	"context"
	"encoding/json"
	"time"

	"bankdesk/dispatch-service/internal/models"
)

type BookAppointmentInput struct {
	CustomerID     string
	DepartmentName string
	SlotAt         time.Time
	TimeSlot       string
	TicketID       string
	BookedAt       time.Time
}

type CreateTicketInput struct {
	UserID         string
	DepartmentName string
	QueryType      string
	Content        string
	Transcription  string
	PriorityScore  int
	CreatedAt      time.Time
}

type TicketActionInput struct {
	TicketID   string
	WorkerID   string
	OccurredAt time.Time
}

type CreateWorkerInput struct {
	DepartmentName string
	FullName       string
	Email          string
	Phone          string
}

type Store interface {
	ListDepartments(ctx context.Context) ([]models.Department, error)
	GetDepartmentByName(ctx context.Context, name string) (models.Department, error)
	CreateDepartment(ctx context.Context, name string) (models.Department, bool, error)
	CreateWorker(ctx context.Context, input CreateWorkerInput) (models.Worker, error)
	WorkerDashboard(ctx context.Context, workerID string) (models.WorkerDashboard, error)

	ListFullSlots(ctx context.Context, departmentID string, candidates []time.Time) ([]time.Time, error)
	BookAppointment(ctx context.Context, input BookAppointmentInput) (models.Booking, error)
	ListCustomerAppointments(ctx context.Context, customerID string) ([]models.Appointment, error)
	ListWorkerAppointments(ctx context.Context, workerID string) ([]models.Appointment, error)

	CreateTicket(ctx context.Context, input CreateTicketInput) (models.Ticket, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	ListUserTickets(ctx context.Context, userID string) ([]models.Ticket, error)
	ListLiveQueue(ctx context.Context, order QueueOrder) ([]models.Ticket, error)
	ProcessTicket(ctx context.Context, input TicketActionInput) (models.Ticket, error)
	CompleteTicket(ctx context.Context, input TicketActionInput) (models.Ticket, error)
	RequestLive(ctx context.Context, input TicketActionInput) (models.Ticket, error)
	ListTicketEvents(ctx context.Context, ticketID string) ([]TicketEvent, error)

	// ListOutboxEvents pages through the outbox in (created_at, event_id)
	// order. With afterID set, paging resumes after that exact event;
	// without it, after the given time.
	ListOutboxEvents(ctx context.Context, after time.Time, afterID string, limit int) ([]OutboxEvent, error)
}

type OutboxEvent struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

const (
	EventTicketCreated     = "ticket.created"
	EventTicketLive        = "ticket.live_requested"
	EventTicketProcessing  = "ticket.processing"
	EventTicketCompleted   = "ticket.completed"
	EventTicketAppointment = "ticket.appointment_booked"
	EventAppointmentBooked = "appointment.booked"
)

// DepartmentAliases maps the long department labels produced by the query
// classifier to the short names stored in the departments table.
var DepartmentAliases = map[string]string{
	"Loan Services Department":                         "loan",
	"Deposit & Account Services Department":            "deposit",
	"Customer Grievance & Fraud Resolution Department": "grievance",
	"Operations & Service Requests Department":         "operation",
}

func NormalizeDepartment(name string) string {
	if short, ok := DepartmentAliases[name]; ok {
		return short
	}
	return name
}
