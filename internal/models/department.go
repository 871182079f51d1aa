package models

import "time"

type Department struct {
	DepartmentID    string    `json:"department_id"`
	Name            string    `json:"name"`
	RoundRobinIndex int       `json:"round_robin_index"`
	CreatedAt       time.Time `json:"created_at"`
}

type Worker struct {
	WorkerID     string    `json:"worker_id"`
	DepartmentID string    `json:"department_id"`
	FullName     string    `json:"full_name"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

const (
	WorkerIdle          = "idle"
	WorkerInAppointment = "in_appointment"
	WorkerHandlingLive  = "handling_live"
)

type WorkerDashboard struct {
	WorkerID                 string `json:"worker_id"`
	ActiveUsersCount         int    `json:"activeUsersCount"`
	PendingQueriesCount      int    `json:"pendingQueriesCount"`
	PendingAppointmentsCount int    `json:"pendingAppointmentsCount"`
}
