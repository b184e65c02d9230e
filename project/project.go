// Package project tracks admin-assigned work items for partners.
package project

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
	// ErrNotFound signals that the project does not exist.
	ErrNotFound = errors.New("project: not found")
	// ErrUnknownPartner signals assignment to a partner that does not exist.
	ErrUnknownPartner = errors.New("project: unknown partner")
)

// Status represents the lifecycle of a project.
type Status string

const (
	StatusOpen     Status = "open"
	StatusAssigned Status = "assigned"
	StatusDone     Status = "done"
)

// Record mirrors the projects table.
type Record struct {
	ID        string
	Title     string
	Details   string
	PartnerID *string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

const projectColumns = `id, title, details, partner_id, status, created_at, updated_at`

// OutboxWriter appends an event row inside the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Service handles project CRUD and assignment.
type Service struct {
	pool   *pgxpool.Pool
	outbox OutboxWriter
}

// NewService builds a project service.
func NewService(pool *pgxpool.Pool, outbox OutboxWriter) *Service {
	return &Service{pool: pool, outbox: outbox}
}

// List returns projects, scoped to a partner when partnerID is set.
func (s *Service) List(ctx context.Context, partnerID string) ([]Record, error) {
	query := `SELECT ` + projectColumns + ` FROM projects`
	args := []any{}
	if partnerID != "" {
		query += ` WHERE partner_id = $1`
		args = append(args, partnerID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("project: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 8)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("project: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("project: iterate: %w", err)
	}
	return out, nil
}

// Create records a new unassigned project.
func (s *Service) Create(ctx context.Context, title, details string) (Record, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Record{}, fmt.Errorf("project: title required")
	}

	const query = `
		INSERT INTO projects (title, details)
		VALUES ($1, $2)
		RETURNING ` + projectColumns

	rec, err := scanRecord(s.pool.QueryRow(ctx, query, title, details))
	if err != nil {
		return Record{}, fmt.Errorf("project: create: %w", err)
	}
	return rec, nil
}

// Assign hands a project to a partner and marks it assigned.
func (s *Service) Assign(ctx context.Context, projectID, partnerID string) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("project: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM partners WHERE id = $1)`, partnerID).Scan(&exists); err != nil {
		return Record{}, fmt.Errorf("project: verify partner: %w", err)
	}
	if !exists {
		return Record{}, ErrUnknownPartner
	}

	const query = `
		UPDATE projects
		SET partner_id = $2, status = 'assigned', updated_at = now()
		WHERE id = $1
		RETURNING ` + projectColumns

	rec, err := scanRecord(tx.QueryRow(ctx, query, projectID, partnerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("project: assign: %w", err)
	}

	if s.outbox != nil {
		payload := map[string]any{
			"project_id": rec.ID,
			"partner_id": partnerID,
		}
		if err := s.outbox.Enqueue(ctx, tx, "project.assigned", payload); err != nil {
			return Record{}, fmt.Errorf("project: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("project: commit: %w", err)
	}
	return rec, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.Title, &rec.Details, &rec.PartnerID, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}
