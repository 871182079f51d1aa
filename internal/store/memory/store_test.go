package memory

import (
	"context"
	"testing"
	"time"

	"bankdesk/dispatch-service/internal/models"
	"bankdesk/dispatch-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	now := baseTime
	return NewStore(Options{Now: func() time.Time {
		now = now.Add(time.Second)
		return now
	}})
}

func seedDepartment(t *testing.T, s *Store, name string, workers ...string) []models.Worker {
	t.Helper()
	ctx := context.Background()
	_, created, err := s.CreateDepartment(ctx, name)
	require.NoError(t, err)
	require.True(t, created)

	out := make([]models.Worker, 0, len(workers))
	for _, fullName := range workers {
		worker, err := s.CreateWorker(ctx, store.CreateWorkerInput{DepartmentName: name, FullName: fullName})
		require.NoError(t, err)
		out = append(out, worker)
	}
	return out
}

func book(s *Store, customer, dept string, at time.Time) (models.Booking, error) {
	return s.BookAppointment(context.Background(), store.BookAppointmentInput{
		CustomerID:     customer,
		DepartmentName: dept,
		SlotAt:         at,
		TimeSlot:       at.Format("2006-01-02 15:04"),
	})
}

func TestBookAppointmentRoundRobinExhaustsSlot(t *testing.T) {
	s := newTestStore(t)
	workers := seedDepartment(t, s, "loan", "W1", "W2")
	slot := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)

	first, err := book(s, "C1", "loan", slot)
	require.NoError(t, err)
	assert.Equal(t, workers[0].WorkerID, first.Worker.WorkerID)

	second, err := book(s, "C2", "loan", slot)
	require.NoError(t, err)
	assert.Equal(t, workers[1].WorkerID, second.Worker.WorkerID)

	_, err = book(s, "C3", "loan", slot)
	assert.ErrorIs(t, err, store.ErrNoWorkerAvailable)

	dept, err := s.GetDepartmentByName(context.Background(), "loan")
	require.NoError(t, err)
	assert.Equal(t, 2, dept.RoundRobinIndex)
}

func TestBookAppointmentRotatesAcrossSlots(t *testing.T) {
	s := newTestStore(t)
	workers := seedDepartment(t, s, "deposit", "A", "B", "C")
	counts := map[string]int{}

	for i := 0; i < 9; i++ {
		slot := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC).Add(time.Duration(i) * 30 * time.Minute)
		booking, err := book(s, "customer", "deposit", slot)
		require.NoError(t, err)
		assert.Equal(t, workers[i%3].WorkerID, booking.Worker.WorkerID)
		counts[booking.Worker.WorkerID]++
	}
	for _, worker := range workers {
		assert.Equal(t, 3, counts[worker.WorkerID])
	}
}

func TestBookAppointmentSkipsLiveWorkers(t *testing.T) {
	s := newTestStore(t)
	workers := seedDepartment(t, s, "loan", "W1", "W2")
	require.NoError(t, s.SetWorkerStatus(workers[0].WorkerID, models.WorkerHandlingLive))

	booking, err := book(s, "C1", "loan", baseTime.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, workers[1].WorkerID, booking.Worker.WorkerID)
}

func TestBookAppointmentUnknownDepartment(t *testing.T) {
	s := newTestStore(t)
	_, err := book(s, "C1", "mortgage", baseTime)
	assert.ErrorIs(t, err, store.ErrDepartmentNotFound)
}

func TestBookAppointmentDepartmentsAreIndependent(t *testing.T) {
	s := newTestStore(t)
	loan := seedDepartment(t, s, "loan", "L1")
	deposit := seedDepartment(t, s, "deposit", "D1")
	slot := baseTime.Add(24 * time.Hour)

	a, err := book(s, "C1", "loan", slot)
	require.NoError(t, err)
	b, err := book(s, "C2", "deposit", slot)
	require.NoError(t, err)
	assert.Equal(t, loan[0].WorkerID, a.Worker.WorkerID)
	assert.Equal(t, deposit[0].WorkerID, b.Worker.WorkerID)
}

func TestListFullSlots(t *testing.T) {
	s := newTestStore(t)
	seedDepartment(t, s, "loan", "W1", "W2")
	ctx := context.Background()
	slotA := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	slotB := slotA.Add(30 * time.Minute)

	_, err := book(s, "C1", "loan", slotA)
	require.NoError(t, err)
	_, err = book(s, "C2", "loan", slotA)
	require.NoError(t, err)
	_, err = book(s, "C3", "loan", slotB)
	require.NoError(t, err)

	dept, err := s.GetDepartmentByName(ctx, "loan")
	require.NoError(t, err)
	full, err := s.ListFullSlots(ctx, dept.DepartmentID, []time.Time{slotA, slotB})
	require.NoError(t, err)
	assert.Equal(t, []time.Time{slotA}, full)
}

func TestBookAppointmentWithTicketSetsMode(t *testing.T) {
	s := newTestStore(t)
	seedDepartment(t, s, "loan", "W1")
	ctx := context.Background()

	ticket, err := s.CreateTicket(ctx, store.CreateTicketInput{
		UserID: "C1", DepartmentName: "Loan Services Department", QueryType: models.QueryText,
		Content: "loan status", PriorityScore: models.DefaultPriorityScore,
	})
	require.NoError(t, err)

	booking, err := s.BookAppointment(ctx, store.BookAppointmentInput{
		CustomerID: "C1", DepartmentName: "loan", SlotAt: baseTime.Add(24 * time.Hour), TicketID: ticket.TicketID,
	})
	require.NoError(t, err)
	require.NotNil(t, booking.Appointment.TicketID)
	assert.Equal(t, ticket.TicketID, *booking.Appointment.TicketID)

	got, err := s.GetTicket(ctx, ticket.TicketID)
	require.NoError(t, err)
	require.NotNil(t, got.ResolutionMode)
	assert.Equal(t, models.ResolutionAppointment, *got.ResolutionMode)

	_, err = s.RequestLive(ctx, store.TicketActionInput{TicketID: ticket.TicketID})
	assert.ErrorIs(t, err, store.ErrAlreadyAllotted)

	_, err = s.BookAppointment(ctx, store.BookAppointmentInput{
		CustomerID: "C2", DepartmentName: "loan", SlotAt: baseTime.Add(48 * time.Hour), TicketID: ticket.TicketID,
	})
	assert.ErrorIs(t, err, store.ErrTicketNotFound)
}

func TestBookAppointmentRejectsTicketFromOtherDepartment(t *testing.T) {
	s := newTestStore(t)
	seedDepartment(t, s, "loan", "L1")
	seedDepartment(t, s, "deposit", "D1")
	ctx := context.Background()

	ticket, err := s.CreateTicket(ctx, store.CreateTicketInput{
		UserID: "C1", DepartmentName: "loan", QueryType: models.QueryText, Content: "emi", PriorityScore: models.DefaultPriorityScore,
	})
	require.NoError(t, err)

	_, err = s.BookAppointment(ctx, store.BookAppointmentInput{
		CustomerID: "C1", DepartmentName: "deposit", SlotAt: baseTime.Add(24 * time.Hour), TicketID: ticket.TicketID,
	})
	assert.ErrorIs(t, err, store.ErrDepartmentMismatch)

	got, err := s.GetTicket(ctx, ticket.TicketID)
	require.NoError(t, err)
	assert.Nil(t, got.ResolutionMode)

	appointments, err := s.ListCustomerAppointments(ctx, "C1")
	require.NoError(t, err)
	assert.Empty(t, appointments)
}

func TestAppointmentListings(t *testing.T) {
	s := newTestStore(t)
	workers := seedDepartment(t, s, "loan", "W1")
	ctx := context.Background()
	later := baseTime.Add(48 * time.Hour)
	earlier := baseTime.Add(24 * time.Hour)

	_, err := book(s, "C1", "loan", later)
	require.NoError(t, err)
	_, err = book(s, "C1", "loan", earlier)
	require.NoError(t, err)

	mine, err := s.ListCustomerAppointments(ctx, "C1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.True(t, mine[0].SlotAt.Equal(earlier))

	assigned, err := s.ListWorkerAppointments(ctx, workers[0].WorkerID)
	require.NoError(t, err)
	assert.Len(t, assigned, 2)

	none, err := s.ListCustomerAppointments(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func createLiveTicket(t *testing.T, s *Store, user string, priority int) models.Ticket {
	t.Helper()
	ctx := context.Background()
	ticket, err := s.CreateTicket(ctx, store.CreateTicketInput{
		UserID: user, DepartmentName: "loan", QueryType: models.QueryText, Content: "help", PriorityScore: priority,
	})
	require.NoError(t, err)
	live, err := s.RequestLive(ctx, store.TicketActionInput{TicketID: ticket.TicketID})
	require.NoError(t, err)
	return live
}

func TestLiveQueueOrdering(t *testing.T) {
	s := newTestStore(t)
	seedDepartment(t, s, "loan")
	ctx := context.Background()

	low := createLiveTicket(t, s, "U1", 10)
	olderHigh := createLiveTicket(t, s, "U2", 90)
	newerHigh := createLiveTicket(t, s, "U3", 90)

	_, err := s.CreateTicket(ctx, store.CreateTicketInput{UserID: "U4", DepartmentName: "loan", QueryType: models.QueryText, Content: "no mode"})
	require.NoError(t, err)

	newest, err := s.ListLiveQueue(ctx, store.TieNewestFirst)
	require.NoError(t, err)
	assert.Equal(t, []string{newerHigh.TicketID, olderHigh.TicketID, low.TicketID}, ticketIDs(newest))

	oldest, err := s.ListLiveQueue(ctx, store.TieOldestFirst)
	require.NoError(t, err)
	assert.Equal(t, []string{olderHigh.TicketID, newerHigh.TicketID, low.TicketID}, ticketIDs(oldest))

	pos, total, err := store.QueuePosition(oldest, low.TicketID)
	require.NoError(t, err)
	assert.Equal(t, 3, pos)
	assert.Equal(t, 3, total)
}

func TestTicketLifecycle(t *testing.T) {
	s := newTestStore(t)
	workers := seedDepartment(t, s, "loan", "W1")
	ctx := context.Background()
	ticket := createLiveTicket(t, s, "U1", 50)
	action := store.TicketActionInput{TicketID: ticket.TicketID, WorkerID: workers[0].WorkerID}

	_, err := s.CompleteTicket(ctx, action)
	assert.ErrorIs(t, err, store.ErrInvalidState)

	processed, err := s.ProcessTicket(ctx, action)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, processed.Status)
	require.NotNil(t, processed.WorkerID)

	queue, err := s.ListLiveQueue(ctx, store.TieOldestFirst)
	require.NoError(t, err)
	assert.Empty(t, queue)

	_, err = s.ProcessTicket(ctx, action)
	assert.ErrorIs(t, err, store.ErrInvalidState)
	_, err = s.RequestLive(ctx, action)
	assert.ErrorIs(t, err, store.ErrTicketInProgress)

	_, err = book(s, "C1", "loan", baseTime.Add(24*time.Hour))
	assert.ErrorIs(t, err, store.ErrNoWorkerAvailable)

	completed, err := s.CompleteTicket(ctx, action)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, completed.Status)

	_, err = s.RequestLive(ctx, action)
	assert.ErrorIs(t, err, store.ErrTicketCompleted)

	_, err = book(s, "C1", "loan", baseTime.Add(24*time.Hour))
	assert.NoError(t, err)

	events, err := s.ListTicketEvents(ctx, ticket.TicketID)
	require.NoError(t, err)
	require.Len(t, events, 4)
	seq, ok := store.VerifyTicketEvents(events)
	assert.True(t, ok, "chain broken at %d", seq)

	rehydrated, err := store.RehydrateTicket(events)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, rehydrated.Status)
}

func TestCompleteKeepsWorkerBusyWhileAnotherTicketInProgress(t *testing.T) {
	s := newTestStore(t)
	workers := seedDepartment(t, s, "loan", "W1")
	ctx := context.Background()
	first := createLiveTicket(t, s, "U1", 50)
	second := createLiveTicket(t, s, "U2", 50)
	workerID := workers[0].WorkerID

	for _, ticket := range []models.Ticket{first, second} {
		_, err := s.ProcessTicket(ctx, store.TicketActionInput{TicketID: ticket.TicketID, WorkerID: workerID})
		require.NoError(t, err)
	}

	_, err := s.CompleteTicket(ctx, store.TicketActionInput{TicketID: first.TicketID, WorkerID: workerID})
	require.NoError(t, err)

	_, err = book(s, "C1", "loan", baseTime.Add(24*time.Hour))
	assert.ErrorIs(t, err, store.ErrNoWorkerAvailable)

	_, err = s.CompleteTicket(ctx, store.TicketActionInput{TicketID: second.TicketID, WorkerID: workerID})
	require.NoError(t, err)

	booking, err := book(s, "C1", "loan", baseTime.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, workerID, booking.Worker.WorkerID)
}

func TestUnknownTicket(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	action := store.TicketActionInput{TicketID: "missing"}

	_, err := s.GetTicket(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrTicketNotFound)
	_, err = s.ProcessTicket(ctx, action)
	assert.ErrorIs(t, err, store.ErrTicketNotFound)
	_, err = s.RequestLive(ctx, action)
	assert.ErrorIs(t, err, store.ErrTicketNotFound)
	_, err = s.ListTicketEvents(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrTicketNotFound)
}

func TestCreateDepartmentIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, created, err := s.CreateDepartment(ctx, "loan")
	require.NoError(t, err)
	assert.True(t, created)
	second, created, err := s.CreateDepartment(ctx, "loan")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.DepartmentID, second.DepartmentID)

	_, err = s.CreateWorker(ctx, store.CreateWorkerInput{DepartmentName: "unknown", FullName: "X"})
	assert.ErrorIs(t, err, store.ErrDepartmentNotFound)
}

func TestWorkerDashboard(t *testing.T) {
	s := newTestStore(t)
	workers := seedDepartment(t, s, "loan", "W1")
	createLiveTicket(t, s, "U1", 50)
	_, err := book(s, "C1", "loan", baseTime.Add(24*time.Hour))
	require.NoError(t, err)

	dashboard, err := s.WorkerDashboard(context.Background(), workers[0].WorkerID)
	require.NoError(t, err)
	assert.Equal(t, 3, dashboard.ActiveUsersCount)
	assert.Equal(t, 1, dashboard.PendingQueriesCount)
	assert.Equal(t, 1, dashboard.PendingAppointmentsCount)
}

func TestListOutboxEventsAfter(t *testing.T) {
	s := newTestStore(t)
	seedDepartment(t, s, "loan", "W1")
	ctx := context.Background()
	createLiveTicket(t, s, "U1", 50)
	_, err := book(s, "C1", "loan", baseTime.Add(24*time.Hour))
	require.NoError(t, err)

	all, err := s.ListOutboxEvents(ctx, time.Time{}, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, store.EventTicketCreated, all[0].Type)
	assert.Equal(t, store.EventTicketLive, all[1].Type)
	assert.Equal(t, store.EventAppointmentBooked, all[2].Type)

	rest, err := s.ListOutboxEvents(ctx, all[0].CreatedAt, "", 1)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, all[1].EventID, rest[0].EventID)

	resumed, err := s.ListOutboxEvents(ctx, all[1].CreatedAt, all[1].EventID, 10)
	require.NoError(t, err)
	require.Len(t, resumed, 1)
	assert.Equal(t, all[2].EventID, resumed[0].EventID)
}

func TestOutboxAfterOrdersEqualTimestampsByID(t *testing.T) {
	at := baseTime
	assert.True(t, outboxAfter(store.OutboxEvent{EventID: "b", CreatedAt: at}, at, "a"))
	assert.False(t, outboxAfter(store.OutboxEvent{EventID: "a", CreatedAt: at}, at, "a"))
	assert.False(t, outboxAfter(store.OutboxEvent{EventID: "z", CreatedAt: at}, at, ""))
	assert.True(t, outboxAfter(store.OutboxEvent{EventID: "a", CreatedAt: at.Add(time.Microsecond)}, at, "z"))
}

func ticketIDs(tickets []models.Ticket) []string {
	out := make([]string, 0, len(tickets))
	for _, ticket := range tickets {
		out = append(out, ticket.TicketID)
	}
	return out
}
