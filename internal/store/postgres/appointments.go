package postgres

import (
	"context"
	"database/sql"
	"time"

	"bankdesk/dispatch-service/internal/models"
	"bankdesk/dispatch-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
)

const appointmentColumns = "appointment_id, customer_id, worker_id, department_id, ticket_id, slot_at, time_slot, status, created_at"

func (s *Store) ListFullSlots(ctx context.Context, departmentID string, candidates []time.Time) ([]time.Time, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appointments, err := queryAppointments(ctx, tx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE department_id = $1 AND slot_at = ANY($2) AND status = 'scheduled'
	`, departmentID, candidates)
	if err != nil {
		return nil, err
	}
	workers, err := departmentWorkers(ctx, tx, departmentID)
	if err != nil {
		return nil, err
	}
	return store.FullSlots(candidates, appointments, workers), nil
}

// BookAppointment allocates a worker for the slot. The department row is
// locked for the whole transaction, so concurrent bookings in one department
// see each other's appointments and advance the round-robin cursor in turn.
func (s *Store) BookAppointment(ctx context.Context, input store.BookAppointmentInput) (booking models.Booking, err error) {
	ctx, span := tracer.Start(ctx, "postgres.BookAppointment")
	defer span.End()
	span.SetAttributes(attribute.String("department", input.DepartmentName))

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Booking{}, err
	}
	defer func() {
		if err != nil {
			span.RecordError(err)
			_ = tx.Rollback(ctx)
		}
	}()

	dept, err := lookupDepartment(ctx, tx, input.DepartmentName, true)
	if err != nil {
		return models.Booking{}, err
	}

	var ticket *models.Ticket
	if input.TicketID != "" {
		current, err := getTicket(ctx, tx, input.TicketID, true)
		if err != nil {
			return models.Booking{}, err
		}
		if err := store.CheckAppointmentResolution(current, input.CustomerID, dept.DepartmentID); err != nil {
			return models.Booking{}, err
		}
		ticket = &current
	}

	atSlot, err := queryAppointments(ctx, tx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE department_id = $1 AND slot_at = $2 AND status = 'scheduled'
	`, dept.DepartmentID, input.SlotAt)
	if err != nil {
		return models.Booking{}, err
	}
	workers, err := departmentWorkers(ctx, tx, dept.DepartmentID)
	if err != nil {
		return models.Booking{}, err
	}

	worker, next, err := store.SelectWorker(store.AvailableWorkers(workers, store.BusyWorkers(atSlot)), dept.RoundRobinIndex)
	if err != nil {
		return models.Booking{}, err
	}
	if _, err = tx.Exec(ctx, `
		UPDATE departments SET round_robin_index = $1 WHERE department_id = $2
	`, next, dept.DepartmentID); err != nil {
		return models.Booking{}, err
	}
	dept.RoundRobinIndex = next

	if err = ensureUser(ctx, tx, input.CustomerID, "customer", "", "", ""); err != nil {
		return models.Booking{}, err
	}

	bookedAt := input.BookedAt
	if bookedAt.IsZero() {
		bookedAt = s.nowUTC()
	}
	var ticketID interface{}
	if ticket != nil {
		ticketID = ticket.TicketID
	}
	rows, err := tx.Query(ctx, `
		INSERT INTO appointments (appointment_id, customer_id, worker_id, department_id, ticket_id, slot_at, time_slot, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+appointmentColumns,
		uuid.NewString(), input.CustomerID, worker.WorkerID, dept.DepartmentID, ticketID, input.SlotAt, input.TimeSlot, models.AppointmentScheduled, bookedAt)
	if err != nil {
		return models.Booking{}, err
	}
	inserted, err := scanAppointments(rows)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Booking{}, store.ErrNoWorkerAvailable
		}
		return models.Booking{}, err
	}
	appt := inserted[0]

	if ticket != nil {
		updated, err := setResolutionMode(ctx, tx, ticket.TicketID, models.ResolutionAppointment, bookedAt)
		if err != nil {
			return models.Booking{}, err
		}
		if err := s.recordTicketEvent(ctx, tx, store.EventTicketAppointment, updated); err != nil {
			return models.Booking{}, err
		}
	}

	payload, err := store.AppointmentPayload(appt)
	if err != nil {
		return models.Booking{}, err
	}
	if err = insertOutboxEvent(ctx, tx, store.EventAppointmentBooked, payload, s.nowUTC()); err != nil {
		return models.Booking{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Booking{}, err
	}

	return models.Booking{Appointment: appt, Worker: worker, Department: dept}, nil
}

func (s *Store) ListCustomerAppointments(ctx context.Context, customerID string) ([]models.Appointment, error) {
	return s.listAppointments(ctx, "customer_id", customerID)
}

func (s *Store) ListWorkerAppointments(ctx context.Context, workerID string) ([]models.Appointment, error) {
	return s.listAppointments(ctx, "worker_id", workerID)
}

func (s *Store) listAppointments(ctx context.Context, column, value string) ([]models.Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE `+column+`::text = $1
		ORDER BY slot_at ASC, created_at ASC
	`, value)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

// departmentWorkers returns the department's workers in registration order,
// which is the order the round-robin cursor walks.
func departmentWorkers(ctx context.Context, tx pgx.Tx, departmentID string) ([]models.Worker, error) {
	rows, err := tx.Query(ctx, `
		SELECT worker_id, department_id, full_name, status, created_at
		FROM workers
		WHERE department_id = $1
		ORDER BY created_at ASC, worker_id ASC
	`, departmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workers []models.Worker
	for rows.Next() {
		var worker models.Worker
		if err := rows.Scan(&worker.WorkerID, &worker.DepartmentID, &worker.FullName, &worker.Status, &worker.CreatedAt); err != nil {
			return nil, err
		}
		workers = append(workers, worker)
	}
	return workers, rows.Err()
}

func queryAppointments(ctx context.Context, tx pgx.Tx, query string, args ...interface{}) ([]models.Appointment, error) {
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func scanAppointments(rows pgx.Rows) ([]models.Appointment, error) {
	defer rows.Close()

	appointments := []models.Appointment{}
	for rows.Next() {
		var appt models.Appointment
		var ticketIDNull sql.NullString
		if err := rows.Scan(&appt.AppointmentID, &appt.CustomerID, &appt.WorkerID, &appt.DepartmentID, &ticketIDNull, &appt.SlotAt, &appt.TimeSlot, &appt.Status, &appt.CreatedAt); err != nil {
			return nil, err
		}
		appt.TicketID = nullStringPtr(ticketIDNull)
		appointments = append(appointments, appt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return appointments, nil
}
