package postgres

import (
	"context"
	"fmt"

	"bankdesk/dispatch-service/migrations"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Migrate runs a goose command ("up", "down", "status" or "version") with the
// embedded migrations against the pool's database.
func Migrate(ctx context.Context, pool *pgxpool.Pool, command string) (int64, error) {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return 0, fmt.Errorf("set goose dialect: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	switch command {
	case "up":
		if err := goose.UpContext(ctx, db, "."); err != nil {
			return 0, fmt.Errorf("migrate up: %w", err)
		}
	case "down":
		if err := goose.DownContext(ctx, db, "."); err != nil {
			return 0, fmt.Errorf("migrate down: %w", err)
		}
	case "status":
		if err := goose.StatusContext(ctx, db, "."); err != nil {
			return 0, fmt.Errorf("migrate status: %w", err)
		}
	case "version":
	default:
		return 0, fmt.Errorf("unknown migrate command %q", command)
	}
	return goose.GetDBVersionContext(ctx, db)
}
