package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"bankdesk/dispatch-service/internal/models"
	"bankdesk/dispatch-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
)

const ticketColumns = "ticket_id, user_id, department_id, status, resolution_mode, priority_score, worker_id, created_at, updated_at"

const ticketWithDataSelect = `
	SELECT t.ticket_id, t.user_id, t.department_id, t.status, t.resolution_mode, t.priority_score, t.worker_id, t.created_at, t.updated_at,
		d.type, d.content, d.transcription
	FROM service_tickets t
	LEFT JOIN ticket_data d ON d.ticket_id = t.ticket_id
`

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (ticket models.Ticket, err error) {
	ctx, span := tracer.Start(ctx, "postgres.CreateTicket")
	defer span.End()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			span.RecordError(err)
			_ = tx.Rollback(ctx)
		}
	}()

	dept, err := lookupDepartment(ctx, tx, store.NormalizeDepartment(input.DepartmentName), false)
	if err != nil {
		return models.Ticket{}, err
	}
	if err = ensureUser(ctx, tx, input.UserID, "customer", "", "", ""); err != nil {
		return models.Ticket{}, err
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.nowUTC()
	}
	row := tx.QueryRow(ctx, `
		INSERT INTO service_tickets (ticket_id, user_id, department_id, status, priority_score, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING `+ticketColumns,
		uuid.NewString(), input.UserID, dept.DepartmentID, models.StatusPending, input.PriorityScore, createdAt)
	if ticket, err = scanTicket(row); err != nil {
		return models.Ticket{}, err
	}

	data := models.TicketData{Type: input.QueryType, Content: input.Content}
	if input.Transcription != "" {
		transcription := input.Transcription
		data.Transcription = &transcription
	}
	if _, err = tx.Exec(ctx, `
		INSERT INTO ticket_data (ticket_id, type, content, transcription)
		VALUES ($1, $2, $3, $4)
	`, ticket.TicketID, data.Type, data.Content, data.Transcription); err != nil {
		return models.Ticket{}, err
	}
	ticket.Data = &data

	if err = s.recordTicketEvent(ctx, tx, store.EventTicketCreated, ticket); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	row := s.pool.QueryRow(ctx, ticketWithDataSelect+" WHERE t.ticket_id = $1", ticketID)
	ticket, err := scanTicketWithData(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) ListUserTickets(ctx context.Context, userID string) ([]models.Ticket, error) {
	rows, err := s.pool.Query(ctx, ticketWithDataSelect+" WHERE t.user_id = $1 ORDER BY t.created_at ASC", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tickets := []models.Ticket{}
	for rows.Next() {
		ticket, err := scanTicketWithData(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

func (s *Store) ListLiveQueue(ctx context.Context, order store.QueueOrder) ([]models.Ticket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM service_tickets
		WHERE status = 'pending' AND resolution_mode = 'live'
		ORDER BY `+order.SQL())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tickets := []models.Ticket{}
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

func (s *Store) ProcessTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	return s.updateTicketStatus(ctx, input, "process", store.EventTicketProcessing)
}

func (s *Store) CompleteTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	return s.updateTicketStatus(ctx, input, "complete", store.EventTicketCompleted)
}

// updateTicketStatus moves a ticket with a conditional update, so two workers
// racing on the same ticket cannot both succeed.
func (s *Store) updateTicketStatus(ctx context.Context, input store.TicketActionInput, action, eventType string) (ticket models.Ticket, err error) {
	ctx, span := tracer.Start(ctx, "postgres.updateTicketStatus")
	defer span.End()
	span.SetAttributes(attribute.String("action", action), attribute.String("ticket_id", input.TicketID))

	toStatus, ok := store.TransitionTarget(action)
	if !ok {
		return models.Ticket{}, store.ErrInvalidState
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			span.RecordError(err)
			_ = tx.Rollback(ctx)
		}
	}()

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.nowUTC()
	}
	var assignWorker interface{}
	if action == "process" {
		assignWorker = nullIfEmpty(input.WorkerID)
	}

	row := tx.QueryRow(ctx, `
		UPDATE service_tickets
		SET status = $1, updated_at = $2, worker_id = COALESCE($3::uuid, worker_id)
		WHERE ticket_id = $4 AND status = ANY($5)
		RETURNING `+ticketColumns,
		toStatus, occurredAt, assignWorker, input.TicketID, store.AllowedFrom(action))
	if ticket, err = scanTicket(row); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			_, exists, loadErr := loadTicketState(ctx, tx, input.TicketID)
			if loadErr != nil {
				return models.Ticket{}, loadErr
			}
			if !exists {
				return models.Ticket{}, store.ErrTicketNotFound
			}
			return models.Ticket{}, store.ErrInvalidState
		}
		return models.Ticket{}, err
	}

	switch action {
	case "process":
		if input.WorkerID != "" {
			if _, err = tx.Exec(ctx, `
				UPDATE workers SET status = $1 WHERE worker_id = $2
			`, models.WorkerHandlingLive, input.WorkerID); err != nil {
				return models.Ticket{}, err
			}
		}
	case "complete":
		workerID := input.WorkerID
		if ticket.WorkerID != nil {
			workerID = *ticket.WorkerID
		}
		if workerID != "" {
			// The worker row lock serialises concurrent completions, so the
			// last one to finish sees no in_progress ticket left and frees the worker.
			if _, err = tx.Exec(ctx, `SELECT 1 FROM workers WHERE worker_id = $1 FOR UPDATE`, workerID); err != nil {
				return models.Ticket{}, err
			}
			if _, err = tx.Exec(ctx, `
				UPDATE workers SET status = $1
				WHERE worker_id = $2 AND status = $3
				  AND NOT EXISTS (
					SELECT 1 FROM service_tickets WHERE worker_id = $2 AND status = $4
				  )
			`, models.WorkerIdle, workerID, models.WorkerHandlingLive, models.StatusInProgress); err != nil {
				return models.Ticket{}, err
			}
		}
	}

	if err = s.recordTicketEvent(ctx, tx, eventType, ticket); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) RequestLive(ctx context.Context, input store.TicketActionInput) (ticket models.Ticket, err error) {
	ctx, span := tracer.Start(ctx, "postgres.RequestLive")
	defer span.End()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			span.RecordError(err)
			_ = tx.Rollback(ctx)
		}
	}()

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.nowUTC()
	}
	ticket, err = setResolutionMode(ctx, tx, input.TicketID, models.ResolutionLive, occurredAt)
	if err != nil {
		return models.Ticket{}, err
	}

	if err = s.recordTicketEvent(ctx, tx, store.EventTicketLive, ticket); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

// setResolutionMode records the first resolution mode chosen for a pending
// ticket. When the conditional update misses, the current row decides which
// precondition failed.
func setResolutionMode(ctx context.Context, tx pgx.Tx, ticketID, mode string, at time.Time) (models.Ticket, error) {
	row := tx.QueryRow(ctx, `
		UPDATE service_tickets
		SET resolution_mode = $1, updated_at = $2
		WHERE ticket_id = $3 AND status = 'pending' AND resolution_mode IS NULL
		RETURNING `+ticketColumns,
		mode, at, ticketID)
	ticket, err := scanTicket(row)
	if err == nil {
		return ticket, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, err
	}

	current, err := getTicket(ctx, tx, ticketID, false)
	if err != nil {
		return models.Ticket{}, err
	}
	if err := store.CheckLiveRequest(current); err != nil {
		return models.Ticket{}, err
	}
	return models.Ticket{}, store.ErrAlreadyAllotted
}

func getTicket(ctx context.Context, tx pgx.Tx, ticketID string, forUpdate bool) (models.Ticket, error) {
	query := "SELECT " + ticketColumns + " FROM service_tickets WHERE ticket_id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}
	ticket, err := scanTicket(tx.QueryRow(ctx, query, ticketID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func loadTicketState(ctx context.Context, tx pgx.Tx, ticketID string) (string, bool, error) {
	var status string
	row := tx.QueryRow(ctx, `
		SELECT status
		FROM service_tickets
		WHERE ticket_id = $1
	`, ticketID)
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return status, true, nil
}

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var ticket models.Ticket
	var modeNull sql.NullString
	var workerIDNull sql.NullString
	if err := row.Scan(&ticket.TicketID, &ticket.UserID, &ticket.DepartmentID, &ticket.Status, &modeNull, &ticket.PriorityScore, &workerIDNull, &ticket.CreatedAt, &ticket.UpdatedAt); err != nil {
		return models.Ticket{}, err
	}
	ticket.ResolutionMode = nullStringPtr(modeNull)
	ticket.WorkerID = nullStringPtr(workerIDNull)
	return ticket, nil
}

func scanTicketWithData(row pgx.Row) (models.Ticket, error) {
	var ticket models.Ticket
	var modeNull, workerIDNull sql.NullString
	var typeNull, contentNull, transcriptionNull sql.NullString
	if err := row.Scan(&ticket.TicketID, &ticket.UserID, &ticket.DepartmentID, &ticket.Status, &modeNull, &ticket.PriorityScore, &workerIDNull, &ticket.CreatedAt, &ticket.UpdatedAt,
		&typeNull, &contentNull, &transcriptionNull); err != nil {
		return models.Ticket{}, err
	}
	ticket.ResolutionMode = nullStringPtr(modeNull)
	ticket.WorkerID = nullStringPtr(workerIDNull)
	if typeNull.Valid {
		ticket.Data = &models.TicketData{
			Type:          typeNull.String,
			Content:       contentNull.String,
			Transcription: nullStringPtr(transcriptionNull),
		}
	}
	return ticket, nil
}
