package models

import "time"

type Ticket struct {
	TicketID       string      `json:"ticketID"`
	UserID         string      `json:"userID"`
	DepartmentID   string      `json:"departmentID"`
	Status         string      `json:"status"`
	ResolutionMode *string     `json:"resolution_mode"`
	PriorityScore  int         `json:"priority_score"`
	WorkerID       *string     `json:"workerID,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
	Data           *TicketData `json:"data,omitempty"`
}

type TicketData struct {
	Type          string  `json:"type"`
	Content       string  `json:"content"`
	Transcription *string `json:"transcription,omitempty"`
}

const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

const (
	ResolutionLive        = "live"
	ResolutionAppointment = "appointment"
)

const (
	QueryText  = "text"
	QueryAudio = "audio"
	QueryVideo = "video"
)

const DefaultPriorityScore = 50

func (t Ticket) HasResolutionMode() bool {
	return t.ResolutionMode != nil && *t.ResolutionMode != ""
}
