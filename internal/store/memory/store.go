// Package memory is a process-local implementation of store.Store. Every
// operation runs under a single mutex, so bookings and ticket transitions are
// serialised the same way the Postgres store serialises them with row locks.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"bankdesk/dispatch-service/internal/models"
	"bankdesk/dispatch-service/internal/store"

	"github.com/google/uuid"
)

type Options struct {
	Now func() time.Time
}

type Store struct {
	mu  sync.Mutex
	now func() time.Time

	departments  map[string]*models.Department
	deptByName   map[string]string
	workers      []*models.Worker
	users        map[string]struct{}
	appointments []models.Appointment
	tickets      map[string]*models.Ticket
	ticketData   map[string]models.TicketData
	events       map[string][]store.TicketEvent
	outbox       []store.OutboxEvent
}

var _ store.Store = (*Store)(nil)

func NewStore(options Options) *Store {
	now := options.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		now:         now,
		departments: make(map[string]*models.Department),
		deptByName:  make(map[string]string),
		users:       make(map[string]struct{}),
		tickets:     make(map[string]*models.Ticket),
		ticketData:  make(map[string]models.TicketData),
		events:      make(map[string][]store.TicketEvent),
	}
}

func (s *Store) ListDepartments(ctx context.Context) ([]models.Department, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Department, 0, len(s.departments))
	for _, dept := range s.departments {
		out = append(out, *dept)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetDepartmentByName(ctx context.Context, name string) (models.Department, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dept, err := s.departmentByName(name)
	if err != nil {
		return models.Department{}, err
	}
	return *dept, nil
}

func (s *Store) CreateDepartment(ctx context.Context, name string) (models.Department, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name = strings.TrimSpace(name)
	if dept, err := s.departmentByName(name); err == nil {
		return *dept, false, nil
	}
	dept := &models.Department{
		DepartmentID: uuid.NewString(),
		Name:         name,
		CreatedAt:    s.now().UTC(),
	}
	s.departments[dept.DepartmentID] = dept
	s.deptByName[name] = dept.DepartmentID
	return *dept, true, nil
}

func (s *Store) CreateWorker(ctx context.Context, input store.CreateWorkerInput) (models.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dept, err := s.departmentByName(input.DepartmentName)
	if err != nil {
		return models.Worker{}, err
	}
	worker := &models.Worker{
		WorkerID:     uuid.NewString(),
		DepartmentID: dept.DepartmentID,
		FullName:     input.FullName,
		Status:       models.WorkerIdle,
		CreatedAt:    s.now().UTC(),
	}
	s.workers = append(s.workers, worker)
	s.users[worker.WorkerID] = struct{}{}
	return *worker, nil
}

// SetWorkerStatus is used by tests to put workers into
// a given state.
func (s *Store) SetWorkerStatus(workerID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	worker := s.workerByID(workerID)
	if worker == nil {
		return store.ErrWorkerNotFound
	}
	worker.Status = status
	return nil
}

func (s *Store) WorkerDashboard(ctx context.Context, workerID string) (models.WorkerDashboard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dashboard := models.WorkerDashboard{WorkerID: workerID, ActiveUsersCount: len(s.users)}
	for _, ticket := range s.tickets {
		if store.InLiveQueue(*ticket) {
			dashboard.PendingQueriesCount++
		}
	}
	for _, appt := range s.appointments {
		if appt.WorkerID == workerID && appt.Status == models.AppointmentScheduled {
			dashboard.PendingAppointmentsCount++
		}
	}
	return dashboard, nil
}

func (s *Store) ListFullSlots(ctx context.Context, departmentID string, candidates []time.Time) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var appointments []models.Appointment
	for _, appt := range s.appointments {
		if appt.DepartmentID == departmentID {
			appointments = append(appointments, appt)
		}
	}
	return store.FullSlots(candidates, appointments, s.departmentWorkers(departmentID)), nil
}

func (s *Store) BookAppointment(ctx context.Context, input store.BookAppointmentInput) (models.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dept, err := s.departmentByName(input.DepartmentName)
	if err != nil {
		return models.Booking{}, err
	}

	var ticket *models.Ticket
	if input.TicketID != "" {
		ticket = s.tickets[input.TicketID]
		if ticket == nil {
			return models.Booking{}, store.ErrTicketNotFound
		}
		if err := store.CheckAppointmentResolution(*ticket, input.CustomerID, dept.DepartmentID); err != nil {
			return models.Booking{}, err
		}
	}

	var atSlot []models.Appointment
	for _, appt := range s.appointments {
		if appt.DepartmentID == dept.DepartmentID && appt.SlotAt.Equal(input.SlotAt) {
			atSlot = append(atSlot, appt)
		}
	}
	available := store.AvailableWorkers(s.departmentWorkers(dept.DepartmentID), store.BusyWorkers(atSlot))
	worker, next, err := store.SelectWorker(available, dept.RoundRobinIndex)
	if err != nil {
		return models.Booking{}, err
	}
	dept.RoundRobinIndex = next

	bookedAt := input.BookedAt
	if bookedAt.IsZero() {
		bookedAt = s.now().UTC()
	}
	appt := models.Appointment{
		AppointmentID: uuid.NewString(),
		CustomerID:    input.CustomerID,
		WorkerID:      worker.WorkerID,
		DepartmentID:  dept.DepartmentID,
		SlotAt:        input.SlotAt,
		TimeSlot:      input.TimeSlot,
		Status:        models.AppointmentScheduled,
		CreatedAt:     bookedAt,
	}
	if ticket != nil {
		ticketID := ticket.TicketID
		appt.TicketID = &ticketID
		mode := models.ResolutionAppointment
		ticket.ResolutionMode = &mode
		ticket.UpdatedAt = bookedAt
		if err := s.recordTicketEvent(*ticket, store.EventTicketAppointment); err != nil {
			return models.Booking{}, err
		}
	}
	s.appointments = append(s.appointments, appt)
	s.users[input.CustomerID] = struct{}{}
	payload, err := store.AppointmentPayload(appt)
	if err != nil {
		return models.Booking{}, err
	}
	s.appendOutbox(store.EventAppointmentBooked, payload)

	return models.Booking{Appointment: appt, Worker: worker, Department: *dept}, nil
}

func (s *Store) ListCustomerAppointments(ctx context.Context, customerID string) ([]models.Appointment, error) {
	return s.listAppointments(func(appt models.Appointment) bool { return appt.CustomerID == customerID }), nil
}

func (s *Store) ListWorkerAppointments(ctx context.Context, workerID string) ([]models.Appointment, error) {
	return s.listAppointments(func(appt models.Appointment) bool { return appt.WorkerID == workerID }), nil
}

func (s *Store) listAppointments(match func(models.Appointment) bool) []models.Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.Appointment{}
	for _, appt := range s.appointments {
		if match(appt) {
			out = append(out, appt)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SlotAt.Before(out[j].SlotAt) })
	return out
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dept, err := s.departmentByName(store.NormalizeDepartment(input.DepartmentName))
	if err != nil {
		return models.Ticket{}, err
	}
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now().UTC()
	}
	ticket := &models.Ticket{
		TicketID:      uuid.NewString(),
		UserID:        input.UserID,
		DepartmentID:  dept.DepartmentID,
		Status:        models.StatusPending,
		PriorityScore: input.PriorityScore,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
	data := models.TicketData{Type: input.QueryType, Content: input.Content}
	if input.Transcription != "" {
		transcription := input.Transcription
		data.Transcription = &transcription
	}
	s.tickets[ticket.TicketID] = ticket
	s.ticketData[ticket.TicketID] = data
	s.users[input.UserID] = struct{}{}
	if err := s.recordTicketEvent(*ticket, store.EventTicketCreated); err != nil {
		return models.Ticket{}, err
	}

	out := *ticket
	out.Data = &data
	return out, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket := s.tickets[ticketID]
	if ticket == nil {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return s.withData(*ticket), nil
}

func (s *Store) ListUserTickets(ctx context.Context, userID string) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.Ticket{}
	for _, ticket := range s.tickets {
		if ticket.UserID == userID {
			out = append(out, s.withData(*ticket))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListLiveQueue(ctx context.Context, order store.QueueOrder) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []models.Ticket{}
	for _, ticket := range s.tickets {
		if store.InLiveQueue(*ticket) {
			out = append(out, *ticket)
		}
	}
	store.SortQueue(out, order)
	return out, nil
}

func (s *Store) ProcessTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	return s.transition(input, "process", store.EventTicketProcessing)
}

func (s *Store) CompleteTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	return s.transition(input, "complete", store.EventTicketCompleted)
}

func (s *Store) transition(input store.TicketActionInput, action, eventType string) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket := s.tickets[input.TicketID]
	if ticket == nil {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	if !store.ValidTransition(action, ticket.Status) {
		return models.Ticket{}, store.ErrInvalidState
	}
	to, _ := store.TransitionTarget(action)

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.now().UTC()
	}
	ticket.Status = to
	ticket.UpdatedAt = occurredAt

	switch action {
	case "process":
		if input.WorkerID != "" {
			workerID := input.WorkerID
			ticket.WorkerID = &workerID
			if worker := s.workerByID(workerID); worker != nil {
				worker.Status = models.WorkerHandlingLive
			}
		}
	case "complete":
		workerID := input.WorkerID
		if ticket.WorkerID != nil {
			workerID = *ticket.WorkerID
		}
		if worker := s.workerByID(workerID); worker != nil && worker.Status == models.WorkerHandlingLive && !s.handlingTicket(workerID) {
			worker.Status = models.WorkerIdle
		}
	}

	if err := s.recordTicketEvent(*ticket, eventType); err != nil {
		return models.Ticket{}, err
	}
	return *ticket, nil
}

// handlingTicket reports whether the worker still has an in_progress ticket.
func (s *Store) handlingTicket(workerID string) bool {
	for _, ticket := range s.tickets {
		if ticket.Status == models.StatusInProgress && ticket.WorkerID != nil && *ticket.WorkerID == workerID {
			return true
		}
	}
	return false
}

func (s *Store) RequestLive(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket := s.tickets[input.TicketID]
	if ticket == nil {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	if err := store.CheckLiveRequest(*ticket); err != nil {
		return models.Ticket{}, err
	}
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.now().UTC()
	}
	mode := models.ResolutionLive
	ticket.ResolutionMode = &mode
	ticket.UpdatedAt = occurredAt
	if err := s.recordTicketEvent(*ticket, store.EventTicketLive); err != nil {
		return models.Ticket{}, err
	}
	return *ticket, nil
}

func (s *Store) ListTicketEvents(ctx context.Context, ticketID string) ([]store.TicketEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tickets[ticketID] == nil {
		return nil, store.ErrTicketNotFound
	}
	events := s.events[ticketID]
	out := make([]store.TicketEvent, len(events))
	copy(out, events)
	return out, nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, after time.Time, afterID string, limit int) ([]store.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	var out []store.OutboxEvent
	for _, event := range s.outbox {
		if !after.IsZero() && !outboxAfter(event, after, afterID) {
			continue
		}
		out = append(out, event)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func outboxAfter(event store.OutboxEvent, after time.Time, afterID string) bool {
	if afterID != "" && event.CreatedAt.Equal(after) {
		return event.EventID > afterID
	}
	return event.CreatedAt.After(after)
}

func (s *Store) departmentByName(name string) (*models.Department, error) {
	id, ok := s.deptByName[strings.TrimSpace(name)]
	if !ok {
		return nil, store.ErrDepartmentNotFound
	}
	return s.departments[id], nil
}

// departmentWorkers returns the department's workers in registration order.
func (s *Store) departmentWorkers(departmentID string) []models.Worker {
	var out []models.Worker
	for _, worker := range s.workers {
		if worker.DepartmentID == departmentID {
			out = append(out, *worker)
		}
	}
	return out
}

func (s *Store) workerByID(workerID string) *models.Worker {
	for _, worker := range s.workers {
		if worker.WorkerID == workerID {
			return worker
		}
	}
	return nil
}

func (s *Store) withData(ticket models.Ticket) models.Ticket {
	if data, ok := s.ticketData[ticket.TicketID]; ok {
		ticket.Data = &data
	}
	return ticket
}

func (s *Store) recordTicketEvent(ticket models.Ticket, eventType string) error {
	payload, err := store.TicketPayload(ticket)
	if err != nil {
		return err
	}
	chain := s.events[ticket.TicketID]
	prev := ""
	if len(chain) > 0 {
		prev = chain[len(chain)-1].Hash
	}
	seq := len(chain) + 1
	createdAt := s.nextEventTime()
	s.events[ticket.TicketID] = append(chain, store.TicketEvent{
		TicketID:  ticket.TicketID,
		TicketSeq: seq,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: createdAt,
		PrevHash:  prev,
		Hash:      store.ComputeTicketEventHash(prev, ticket.TicketID, eventType, payload, createdAt, seq),
	})
	s.outbox = append(s.outbox, store.OutboxEvent{
		EventID:   uuid.NewString(),
		Type:      eventType,
		Payload:   payload,
		CreatedAt: createdAt,
	})
	return nil
}

func (s *Store) appendOutbox(eventType string, payload []byte) {
	s.outbox = append(s.outbox, store.OutboxEvent{
		EventID:   uuid.NewString(),
		Type:      eventType,
		Payload:   payload,
		CreatedAt: s.nextEventTime(),
	})
}

// nextEventTime keeps outbox timestamps strictly increasing so that an
// offset-based reader never skips an event written in the same instant.
func (s *Store) nextEventTime() time.Time {
	at := s.now().UTC()
	if n := len(s.outbox); n > 0 && !at.After(s.outbox[n-1].CreatedAt) {
		at = s.outbox[n-1].CreatedAt.Add(time.Microsecond)
	}
	return at
}
