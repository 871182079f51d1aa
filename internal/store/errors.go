package store

import "errors"

var (
	ErrDepartmentNotFound = errors.New("department not found")
	ErrWorkerNotFound     = errors.New("worker not found")
	ErrTicketNotFound     = errors.New("ticket not found")
	ErrInvalidState       = errors.New("invalid ticket state")
	ErrTicketCompleted    = errors.New("ticket already completed")
	ErrTicketInProgress   = errors.New("ticket already in progress")
	ErrAlreadyAllotted    = errors.New("ticket already allotted")
	ErrNoWorkerAvailable  = errors.New("no workers available for this slot")
	ErrQueueEmpty         = errors.New("no tickets in queue")
	ErrNotInQueue         = errors.New("ticket not found in pending queue")
	ErrDepartmentExists   = errors.New("department already exists")
	ErrDepartmentMismatch = errors.New("ticket belongs to another department")
)
