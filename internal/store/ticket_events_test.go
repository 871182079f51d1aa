package store

import (
	"testing"
	"time"

	"bankdesk/dispatch-service/internal/models"
)

func TestTicketEventChainRehydrates(t *testing.T) {
	createdAt := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	live := models.ResolutionLive
	worker := "worker-1"
	steps := []struct {
		eventType string
		ticket    models.Ticket
	}{
		{EventTicketCreated, models.Ticket{TicketID: "t1", UserID: "u1", DepartmentID: "d1", Status: models.StatusPending, PriorityScore: 50, CreatedAt: createdAt}},
		{EventTicketLive, models.Ticket{TicketID: "t1", Status: models.StatusPending, ResolutionMode: &live, PriorityScore: 50}},
		{EventTicketProcessing, models.Ticket{TicketID: "t1", Status: models.StatusInProgress, ResolutionMode: &live, PriorityScore: 50, WorkerID: &worker}},
	}

	var events []TicketEvent
	prev := ""
	for i, step := range steps {
		payload, err := TicketPayload(step.ticket)
		if err != nil {
			t.Fatalf("payload: %v", err)
		}
		at := createdAt.Add(time.Duration(i) * time.Minute)
		hash := ComputeTicketEventHash(prev, "t1", step.eventType, payload, at, i+1)
		events = append(events, TicketEvent{TicketID: "t1", TicketSeq: i + 1, Type: step.eventType, Payload: payload, CreatedAt: at, PrevHash: prev, Hash: hash})
		prev = hash
	}

	if seq, ok := VerifyTicketEvents(events); !ok {
		t.Fatalf("chain broken at seq %d", seq)
	}

	ticket, err := RehydrateTicket(events)
	if err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	if ticket.Status != models.StatusInProgress || ticket.UserID != "u1" || ticket.WorkerID == nil || *ticket.WorkerID != worker {
		t.Fatalf("unexpected ticket %+v", ticket)
	}
	if !ticket.CreatedAt.Equal(createdAt) {
		t.Fatalf("expected created_at %v, got %v", createdAt, ticket.CreatedAt)
	}

	events[1].Payload = []byte(`{"status":"completed"}`)
	if seq, ok := VerifyTicketEvents(events); ok || seq != 2 {
		t.Fatalf("expected tamper detection at seq 2, got %d %v", seq, ok)
	}
}
