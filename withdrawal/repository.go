package withdrawal

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound signals that the withdrawal request does not exist.
	ErrNotFound = errors.New("withdrawal: not found")
	// ErrTerminal signals a review attempt on an already-decided request.
	ErrTerminal = errors.New("withdrawal: request already decided")
)

const requestColumns = `id, partner_id, amount, method, destination, status, admin_message, created_at, updated_at`

// Repository handles data access for withdrawal requests.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed withdrawal repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) List(ctx context.Context, partnerID string) ([]Request, error) {
	query := `SELECT ` + requestColumns + ` FROM withdrawal_requests`
	args := []any{}
	if partnerID != "" {
		query += ` WHERE partner_id = $1`
		args = append(args, partnerID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("withdrawal: list: %w", err)
	}
	defer rows.Close()

	out := make([]Request, 0, 8)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("withdrawal: scan: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("withdrawal: iterate: %w", err)
	}
	return out, nil
}

// LockPartner takes a row lock on the partner so the outstanding sum and the
// insert happen against one snapshot.
func (r *Repository) LockPartner(ctx context.Context, tx pgx.Tx, partnerID string) error {
	var id string
	if err := tx.QueryRow(ctx, `SELECT id FROM partners WHERE id = $1 FOR UPDATE`, partnerID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("withdrawal: lock partner: %w", err)
	}
	return nil
}

func (r *Repository) Create(ctx context.Context, tx pgx.Tx, params CreateParams) (Request, error) {
	const query = `
		INSERT INTO withdrawal_requests (partner_id, amount, method, destination)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + requestColumns

	req, err := scanRequest(tx.QueryRow(ctx, query, params.PartnerID, params.Amount, params.Method, params.Destination))
	if err != nil {
		return Request{}, fmt.Errorf("withdrawal: create: %w", err)
	}
	return req, nil
}

// OutstandingTotal sums the partner's pending and approved requests inside
// the caller's transaction, so a concurrent create sees a consistent balance.
func (r *Repository) OutstandingTotal(ctx context.Context, tx pgx.Tx, partnerID string) (decimal.Decimal, error) {
	const query = `
		SELECT COALESCE(SUM(amount), 0)
		FROM withdrawal_requests
		WHERE partner_id = $1 AND status IN ('pending','approved')
	`

	var total decimal.Decimal
	if err := tx.QueryRow(ctx, query, partnerID).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("withdrawal: outstanding total: %w", err)
	}
	return total, nil
}

// Review moves a pending request to a terminal status. Guarded in SQL so two
// concurrent reviews cannot both win.
func (r *Repository) Review(ctx context.Context, tx pgx.Tx, requestID string, status Status, adminMessage *string) (Request, error) {
	const query = `
		UPDATE withdrawal_requests
		SET status = $2, admin_message = $3, updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + requestColumns

	req, err := scanRequest(tx.QueryRow(ctx, query, requestID, status, adminMessage))
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Request{}, fmt.Errorf("withdrawal: review: %w", err)
	}

	var current Status
	if err := tx.QueryRow(ctx, `SELECT status FROM withdrawal_requests WHERE id = $1`, requestID).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, fmt.Errorf("withdrawal: review fetch: %w", err)
	}
	return Request{}, ErrTerminal
}

func scanRequest(row pgx.Row) (Request, error) {
	var req Request
	err := row.Scan(
		&req.ID,
		&req.PartnerID,
		&req.Amount,
		&req.Method,
		&req.Destination,
		&req.Status,
		&req.AdminMessage,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return Request{}, err
	}
	return req, nil
}
