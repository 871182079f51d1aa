// Package outbox publishes committed domain events to a Redis stream.
//
// The relay keeps its read position in a Redis key so restarts resume where
// the previous run stopped. Delivery is at-least-once: the position is saved
// after each publish, so a crash between the two repeats one event.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"bankdesk/dispatch-service/internal/store"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

const (
	DefaultStream    = "dispatch.events"
	DefaultBatchSize = 100
	DefaultSchedule  = "@every 5s"
	DefaultSettle    = 2 * time.Second
)

// Source is the part of the store the relay reads from.
type Source interface {
	ListOutboxEvents(ctx context.Context, after time.Time, afterID string, limit int) ([]store.OutboxEvent, error)
}

type Options struct {
	Stream    string
	OffsetKey string
	BatchSize int
	// Settle holds back events younger than this so that transactions which
	// committed out of timestamp order are not skipped.
	Settle time.Duration
	Logger *slog.Logger
	Now    func() time.Time
}

type Relay struct {
	source    Source
	rdb       redis.Cmdable
	stream    string
	offsetKey string
	batchSize int
	settle    time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu sync.Mutex
}

// Cursor is the last published event. Events are ordered by creation time
// then id, so both are needed to resume inside a run of equal timestamps.
type Cursor struct {
	CreatedAt time.Time
	EventID   string
}

func NewRelay(source Source, rdb redis.Cmdable, options Options) *Relay {
	r := &Relay{
		source:    source,
		rdb:       rdb,
		stream:    options.Stream,
		offsetKey: options.OffsetKey,
		batchSize: options.BatchSize,
		settle:    options.Settle,
		logger:    options.Logger,
		now:       options.Now,
	}
	if r.stream == "" {
		r.stream = DefaultStream
	}
	if r.offsetKey == "" {
		r.offsetKey = r.stream + ":offset"
	}
	if r.batchSize <= 0 {
		r.batchSize = DefaultBatchSize
	}
	if r.settle < 0 {
		r.settle = 0
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// RunOnce publishes one batch and returns how many events went out.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cursor, err := r.loadCursor(ctx)
	if err != nil {
		return 0, err
	}

	events, err := r.source.ListOutboxEvents(ctx, cursor.CreatedAt, cursor.EventID, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list outbox events: %w", err)
	}

	horizon := r.now().Add(-r.settle)
	published := 0
	for _, event := range events {
		if event.CreatedAt.After(horizon) {
			break
		}
		if err := r.publish(ctx, event); err != nil {
			return published, err
		}
		cursor = Cursor{CreatedAt: event.CreatedAt, EventID: event.EventID}
		if err := r.saveCursor(ctx, cursor); err != nil {
			return published, err
		}
		published++
	}
	return published, nil
}

func (r *Relay) publish(ctx context.Context, event store.OutboxEvent) error {
	err := r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		Values: []interface{}{
			"event_id", event.EventID,
			"type", event.Type,
			"payload", string(event.Payload),
			"created_at", event.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.EventID, err)
	}
	return nil
}

func (r *Relay) loadCursor(ctx context.Context) (Cursor, error) {
	raw, err := r.rdb.Get(ctx, r.offsetKey).Result()
	if errors.Is(err, redis.Nil) {
		return Cursor{}, nil
	}
	if err != nil {
		return Cursor{}, fmt.Errorf("load outbox offset: %w", err)
	}
	return ParseCursor(raw)
}

func (r *Relay) saveCursor(ctx context.Context, cursor Cursor) error {
	if err := r.rdb.Set(ctx, r.offsetKey, cursor.String(), 0).Err(); err != nil {
		return fmt.Errorf("save outbox offset: %w", err)
	}
	return nil
}

func (c Cursor) String() string {
	return c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.EventID
}

func ParseCursor(raw string) (Cursor, error) {
	at, id, _ := strings.Cut(strings.TrimSpace(raw), "|")
	createdAt, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return Cursor{}, fmt.Errorf("parse outbox offset %q: %w", raw, err)
	}
	return Cursor{CreatedAt: createdAt, EventID: id}, nil
}

// Schedule registers the relay on c. Runs that overlap a slow predecessor
// are skipped.
func (r *Relay) Schedule(c *cron.Cron, schedule string, timeout time.Duration) (cron.EntryID, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	job := cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		count, err := r.RunOnce(ctx)
		if err != nil {
			r.logger.Error("outbox relay failed", "error", err, "published", count)
			return
		}
		if count > 0 {
			r.logger.Info("outbox relay published events", "count", count, "stream", r.stream)
		}
	})
	return c.AddJob(schedule, cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(job))
}
