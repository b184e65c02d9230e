// Package message stores the partner/admin mailbox. Pure CRUD, persisted
// server-side so no client cache ever becomes the system of record.
package message

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals that the message does not exist or is not visible.
	ErrNotFound = errors.New("message: not found")
	// ErrEmptyBody signals a blank message body.
	ErrEmptyBody = errors.New("message: body required")
)

// SenderRole identifies which side of the conversation wrote a message.
type SenderRole string

const (
	SenderPartner SenderRole = "partner"
	SenderAdmin   SenderRole = "admin"
)

// Record mirrors the messages table.
type Record struct {
	ID         string
	PartnerID  string
	SenderRole SenderRole
	Body       string
	CreatedAt  time.Time
	ReadAt     *time.Time
}

const messageColumns = `id, partner_id, sender_role, body, created_at, read_at`

// Repository handles data access for messages.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed message repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) List(ctx context.Context, partnerID string) ([]Record, error) {
	const query = `SELECT ` + messageColumns + ` FROM messages WHERE partner_id = $1 ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, partnerID)
	if err != nil {
		return nil, fmt.Errorf("message: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 8)
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.PartnerID, &rec.SenderRole, &rec.Body, &rec.CreatedAt, &rec.ReadAt); err != nil {
			return nil, fmt.Errorf("message: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message: iterate: %w", err)
	}
	return out, nil
}

func (r *Repository) Create(ctx context.Context, partnerID string, sender SenderRole, body string) (Record, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Record{}, ErrEmptyBody
	}

	const query = `
		INSERT INTO messages (partner_id, sender_role, body)
		VALUES ($1, $2, $3)
		RETURNING ` + messageColumns

	var rec Record
	err := r.pool.QueryRow(ctx, query, partnerID, sender, body).
		Scan(&rec.ID, &rec.PartnerID, &rec.SenderRole, &rec.Body, &rec.CreatedAt, &rec.ReadAt)
	if err != nil {
		return Record{}, fmt.Errorf("message: create: %w", err)
	}
	return rec, nil
}

// MarkRead stamps read_at on a message belonging to the partner, once.
func (r *Repository) MarkRead(ctx context.Context, partnerID, messageID string) (Record, error) {
	const query = `
		UPDATE messages
		SET read_at = COALESCE(read_at, now())
		WHERE id = $1 AND partner_id = $2
		RETURNING ` + messageColumns

	var rec Record
	err := r.pool.QueryRow(ctx, query, messageID, partnerID).
		Scan(&rec.ID, &rec.PartnerID, &rec.SenderRole, &rec.Body, &rec.CreatedAt, &rec.ReadAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("message: mark read: %w", err)
	}
	return rec, nil
}
