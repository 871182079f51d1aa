package store

import (
	"fmt"
	"sort"
	"strings"

	"bankdesk/dispatch-service/internal/models"
)

// QueueOrder decides how tickets with equal priority are ordered. The queue
// listing has historically shown newer tickets first while position lookups
// count older tickets first; both are kept as named orderings.
type QueueOrder string

const (
	TieNewestFirst QueueOrder = "newest"
	TieOldestFirst QueueOrder = "oldest"
)

func ParseQueueOrder(value string) (QueueOrder, error) {
	switch QueueOrder(strings.ToLower(strings.TrimSpace(value))) {
	case TieNewestFirst:
		return TieNewestFirst, nil
	case TieOldestFirst:
		return TieOldestFirst, nil
	default:
		return "", fmt.Errorf("unknown queue order %q", value)
	}
}

// SQL returns the ORDER BY clause for the ordering.
func (o QueueOrder) SQL() string {
	if o == TieNewestFirst {
		return "priority_score DESC, created_at DESC, ticket_id ASC"
	}
	return "priority_score DESC, created_at ASC, ticket_id ASC"
}

func InLiveQueue(ticket models.Ticket) bool {
	return ticket.Status == models.StatusPending &&
		ticket.ResolutionMode != nil && *ticket.ResolutionMode == models.ResolutionLive
}

// SortQueue orders tickets by priority (highest first), then by creation time
// according to the tie-break, then by id so the result is total.
func SortQueue(tickets []models.Ticket, order QueueOrder) {
	sort.SliceStable(tickets, func(i, j int) bool {
		a, b := tickets[i], tickets[j]
		if a.PriorityScore != b.PriorityScore {
			return a.PriorityScore > b.PriorityScore
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if order == TieNewestFirst {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.TicketID < b.TicketID
	})
}

// QueuePosition returns the 1-based position of ticketID in an already ordered
// queue and the queue length.
func QueuePosition(queue []models.Ticket, ticketID string) (int, int, error) {
	if len(queue) == 0 {
		return 0, 0, ErrQueueEmpty
	}
	for i, ticket := range queue {
		if ticket.TicketID == ticketID {
			return i + 1, len(queue), nil
		}
	}
	return 0, len(queue), ErrNotInQueue
}
