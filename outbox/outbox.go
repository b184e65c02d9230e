// Package outbox implements a transactional outbox: domain services append
// event rows inside their own transactions, and a dispatcher delivers them to
// a subscriber out of band. Delivery is push-shaped for the subscriber but
// polling underneath, which doubles as the fallback transport the change-feed
// abstraction requires.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Message is a queued event row.
type Message struct {
	ID        string
	Topic     string
	Payload   []byte
	Status    string
	Attempts  int
	CreatedAt time.Time
}

// Writer appends outbox rows inside a caller-owned transaction.
type Writer struct{}

// NewWriter creates a Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Enqueue inserts an event row in the caller's transaction, so the event is
// published exactly when the surrounding write commits.
func (w *Writer) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	if topic == "" {
		return fmt.Errorf("outbox: topic required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`, topic, string(body)); err != nil {
		return fmt.Errorf("outbox: enqueue %s: %w", topic, err)
	}
	return nil
}

// Handler consumes a delivered event. Returning an error leaves the row
// pending for a later attempt.
type Handler func(ctx context.Context, msg Message) error

// Dispatcher polls pending rows and hands them to a handler.
type Dispatcher struct {
	pool        *pgxpool.Pool
	handler     Handler
	interval    time.Duration
	batchSize   int
	maxAttempts int
}

// NewDispatcher builds a dispatcher delivering to handler.
func NewDispatcher(pool *pgxpool.Pool, handler Handler) *Dispatcher {
	return &Dispatcher{
		pool:        pool,
		handler:     handler,
		interval:    time.Second,
		batchSize:   20,
		maxAttempts: 5,
	}
}

// WithInterval overrides the polling interval, for tests.
func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	d.interval = interval
	return d
}

// Run polls until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.DispatchOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				// transient store failures just wait for the next tick
			}
		}
	}
}

// DispatchOnce claims one batch of pending rows with SKIP LOCKED, delivers
// them, and marks each processed or, past maxAttempts, dead.
func (d *Dispatcher) DispatchOnce(ctx context.Context) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("outbox: begin dispatch tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, topic, payload, status, attempts, created_at
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, d.batchSize)
	if err != nil {
		return fmt.Errorf("outbox: claim batch: %w", err)
	}

	batch := make([]Message, 0, d.batchSize)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.Status, &m.Attempts, &m.CreatedAt); err != nil {
			rows.Close()
			return fmt.Errorf("outbox: scan message: %w", err)
		}
		batch = append(batch, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("outbox: iterate batch: %w", err)
	}

	for _, m := range batch {
		if err := d.handler(ctx, m); err != nil {
			if m.Attempts+1 >= d.maxAttempts {
				if _, err := tx.Exec(ctx, `UPDATE outbox SET status='dead', attempts=attempts+1, last_attempt=now() WHERE id=$1`, m.ID); err != nil {
					return fmt.Errorf("outbox: mark dead: %w", err)
				}
			} else {
				if _, err := tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1, last_attempt=now() WHERE id=$1`, m.ID); err != nil {
					return fmt.Errorf("outbox: bump attempts: %w", err)
				}
			}
			continue
		}
		if _, err := tx.Exec(ctx, `UPDATE outbox SET status='processed', attempts=attempts+1, last_attempt=now() WHERE id=$1`, m.ID); err != nil {
			return fmt.Errorf("outbox: mark processed: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("outbox: commit dispatch: %w", err)
	}
	return nil
}
