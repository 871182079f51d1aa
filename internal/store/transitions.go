package store

import "bankdesk/dispatch-service/internal/models"

var transitionMap = map[string][]string{
	"process":  {models.StatusPending},
	"complete": {models.StatusInProgress},
}

var transitionTarget = map[string]string{
	"process":  models.StatusInProgress,
	"complete": models.StatusCompleted,
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// AllowedFrom lists the statuses an action may start from.
func AllowedFrom(action string) []string {
	return append([]string(nil), transitionMap[action]...)
}

func TransitionTarget(action string) (string, bool) {
	to, ok := transitionTarget[action]
	return to, ok
}

// CheckLiveRequest applies the live-resolution preconditions in order:
// the ticket must not be completed, not in progress, and have no mode yet.
func CheckLiveRequest(ticket models.Ticket) error {
	switch {
	case ticket.Status == models.StatusCompleted:
		return ErrTicketCompleted
	case ticket.Status == models.StatusInProgress:
		return ErrTicketInProgress
	case ticket.HasResolutionMode():
		return ErrAlreadyAllotted
	case ticket.Status != models.StatusPending:
		return ErrInvalidState
	}
	return nil
}

// CheckAppointmentResolution is the appointment counterpart of CheckLiveRequest.
// The ticket must belong to the customer and to the department being booked.
func CheckAppointmentResolution(ticket models.Ticket, customerID, departmentID string) error {
	if ticket.UserID != customerID {
		return ErrTicketNotFound
	}
	if ticket.DepartmentID != departmentID {
		return ErrDepartmentMismatch
	}
	return CheckLiveRequest(ticket)
}
