// Package postgres implements store.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"bankdesk/dispatch-service/internal/models"
	"bankdesk/dispatch-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("bankdesk/dispatch-service/internal/store/postgres")

const uniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

type Options struct {
	Now func() time.Time
}

var _ store.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	now := options.Now
	if now == nil {
		now = time.Now
	}
	return &Store{pool: pool, now: now}
}

// nowUTC is truncated to the microsecond precision Postgres keeps, so that
// hashes computed before insert still verify after a round trip.
func (s *Store) nowUTC() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *Store) ListDepartments(ctx context.Context) ([]models.Department, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT department_id, name, round_robin_index, created_at
		FROM departments
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	departments := []models.Department{}
	for rows.Next() {
		var dept models.Department
		if err := rows.Scan(&dept.DepartmentID, &dept.Name, &dept.RoundRobinIndex, &dept.CreatedAt); err != nil {
			return nil, err
		}
		departments = append(departments, dept)
	}
	return departments, rows.Err()
}

func (s *Store) GetDepartmentByName(ctx context.Context, name string) (models.Department, error) {
	var dept models.Department
	row := s.pool.QueryRow(ctx, `
		SELECT department_id, name, round_robin_index, created_at
		FROM departments
		WHERE name = $1
	`, strings.TrimSpace(name))
	if err := row.Scan(&dept.DepartmentID, &dept.Name, &dept.RoundRobinIndex, &dept.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Department{}, store.ErrDepartmentNotFound
		}
		return models.Department{}, err
	}
	return dept, nil
}

func (s *Store) CreateDepartment(ctx context.Context, name string) (models.Department, bool, error) {
	name = strings.TrimSpace(name)
	var dept models.Department
	row := s.pool.QueryRow(ctx, `
		INSERT INTO departments (department_id, name, round_robin_index, created_at)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (name) DO NOTHING
		RETURNING department_id, name, round_robin_index, created_at
	`, uuid.NewString(), name, s.nowUTC())
	if err := row.Scan(&dept.DepartmentID, &dept.Name, &dept.RoundRobinIndex, &dept.CreatedAt); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return models.Department{}, false, err
		}
		existing, err := s.GetDepartmentByName(ctx, name)
		return existing, false, err
	}
	return dept, true, nil
}

func (s *Store) CreateWorker(ctx context.Context, input store.CreateWorkerInput) (worker models.Worker, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Worker{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	dept, err := lookupDepartment(ctx, tx, input.DepartmentName, false)
	if err != nil {
		return models.Worker{}, err
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO workers (worker_id, department_id, full_name, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING worker_id, department_id, full_name, status, created_at
	`, uuid.NewString(), dept.DepartmentID, input.FullName, models.WorkerIdle, s.nowUTC())
	if err = row.Scan(&worker.WorkerID, &worker.DepartmentID, &worker.FullName, &worker.Status, &worker.CreatedAt); err != nil {
		return models.Worker{}, err
	}

	if err = ensureUser(ctx, tx, worker.WorkerID, "worker", input.FullName, input.Email, input.Phone); err != nil {
		return models.Worker{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Worker{}, err
	}
	return worker, nil
}

func (s *Store) WorkerDashboard(ctx context.Context, workerID string) (models.WorkerDashboard, error) {
	dashboard := models.WorkerDashboard{WorkerID: workerID}
	row := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM service_tickets WHERE status = 'pending' AND resolution_mode = 'live'),
			(SELECT COUNT(*) FROM appointments WHERE worker_id = $1 AND status = 'scheduled')
	`, workerID)
	if err := row.Scan(&dashboard.ActiveUsersCount, &dashboard.PendingQueriesCount, &dashboard.PendingAppointmentsCount); err != nil {
		return models.WorkerDashboard{}, err
	}
	return dashboard, nil
}

func lookupDepartment(ctx context.Context, tx pgx.Tx, name string, forUpdate bool) (models.Department, error) {
	query := `
		SELECT department_id, name, round_robin_index, created_at
		FROM departments
		WHERE name = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}
	var dept models.Department
	row := tx.QueryRow(ctx, query, strings.TrimSpace(name))
	if err := row.Scan(&dept.DepartmentID, &dept.Name, &dept.RoundRobinIndex, &dept.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Department{}, store.ErrDepartmentNotFound
		}
		return models.Department{}, fmt.Errorf("lookup department: %w", err)
	}
	return dept, nil
}

func ensureUser(ctx context.Context, tx pgx.Tx, userID, role, fullName, email, phone string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO users (user_id, role, full_name, email, phone)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, role, nullIfEmpty(fullName), nullIfEmpty(email), nullIfEmpty(phone))
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}
