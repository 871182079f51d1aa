package models

import "time"

type Appointment struct {
	AppointmentID string    `json:"appointment_id"`
	CustomerID    string    `json:"customer_id"`
	WorkerID      string    `json:"worker_id"`
	DepartmentID  string    `json:"department_id"`
	TicketID      *string   `json:"ticket_id,omitempty"`
	SlotAt        time.Time `json:"slot_at"`
	TimeSlot      string    `json:"timeSlot"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	AppointmentScheduled = "scheduled"
	AppointmentCompleted = "completed"
	AppointmentCancelled = "cancelled"
)

// Booking is the confirmation returned after an appointment is allocated.
type Booking struct {
	Appointment Appointment `json:"appointment"`
	Worker      Worker      `json:"worker"`
	Department  Department  `json:"department"`
}
