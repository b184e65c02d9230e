package click

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrUnknownPartner signals that the beneficiary does not exist.
	ErrUnknownPartner = errors.New("click: unknown partner")
)

// Repository handles data access for the append-only clicks table. There is
// deliberately no update or delete path.
type Repository interface {
	HasRecentDirect(ctx context.Context, partnerID, ipAddress string, since time.Time) (bool, error)
	LockPartner(ctx context.Context, tx pgx.Tx, partnerID string) error
	InsertDirect(ctx context.Context, tx pgx.Tx, params InsertParams) (Click, error)
	UpstreamOf(ctx context.Context, tx pgx.Tx, partnerID string) (*string, error)
	CountDirect(ctx context.Context, tx pgx.Tx, partnerID string) (int, error)
	CountBonus(ctx context.Context, tx pgx.Tx, upstreamID, sourceID string) (int, error)
	InsertBonus(ctx context.Context, tx pgx.Tx, upstreamID, sourceID string, n int, ipAddress, userAgent string) error
	TotalsFor(ctx context.Context, partnerID string) (Totals, error)
	MaturedCount(ctx context.Context, partnerID string, before time.Time) (int, error)
	DownlineIDs(ctx context.Context, upstreamCode string) ([]string, error)
}

// InsertParams contains write parameters for a direct click.
type InsertParams struct {
	PartnerID string
	IPAddress string
	UserAgent string
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed click repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// HasRecentDirect reports whether a direct click from the same origin address
// already credited the partner within the lookback window.
func (r *PGRepository) HasRecentDirect(ctx context.Context, partnerID, ipAddress string, since time.Time) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM clicks
			WHERE partner_id = $1 AND ip_address = $2 AND kind = 'direct' AND created_at >= $3
		)
	`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, partnerID, ipAddress, since).Scan(&exists); err != nil {
		return false, fmt.Errorf("click: suppression lookback: %w", err)
	}
	return exists, nil
}

// LockPartner takes a row lock on the partner so shortfall counting and the
// matching insert happen against one snapshot per downline.
func (r *PGRepository) LockPartner(ctx context.Context, tx pgx.Tx, partnerID string) error {
	var id string
	err := tx.QueryRow(ctx, `SELECT id FROM partners WHERE id = $1 FOR UPDATE`, partnerID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUnknownPartner
		}
		return fmt.Errorf("click: lock partner: %w", err)
	}
	return nil
}

func (r *PGRepository) InsertDirect(ctx context.Context, tx pgx.Tx, params InsertParams) (Click, error) {
	const insertSQL = `
		INSERT INTO clicks (partner_id, kind, ip_address, user_agent)
		VALUES ($1, 'direct', $2, $3)
		RETURNING id, partner_id, kind, source_partner_id, ip_address, user_agent, created_at
	`

	var c Click
	err := tx.QueryRow(ctx, insertSQL, params.PartnerID, params.IPAddress, params.UserAgent).Scan(
		&c.ID, &c.PartnerID, &c.Kind, &c.SourcePartnerID, &c.IPAddress, &c.UserAgent, &c.CreatedAt)
	if err != nil {
		return Click{}, fmt.Errorf("click: insert direct: %w", err)
	}
	return c, nil
}

// UpstreamOf resolves the beneficiary's referred_by code to the upstream
// partner id. Returns nil when referred_by is absent or dangling; both are
// soft no-ops for the caller.
func (r *PGRepository) UpstreamOf(ctx context.Context, tx pgx.Tx, partnerID string) (*string, error) {
	const query = `
		SELECT u.id
		FROM partners p
		JOIN partners u ON u.partner_code = p.referred_by
		WHERE p.id = $1
	`

	var upstreamID string
	err := tx.QueryRow(ctx, query, partnerID).Scan(&upstreamID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("click: resolve upstream: %w", err)
	}
	return &upstreamID, nil
}

func (r *PGRepository) CountDirect(ctx context.Context, tx pgx.Tx, partnerID string) (int, error) {
	var n int
	err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM clicks WHERE partner_id = $1 AND kind = 'direct'`, partnerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("click: count direct: %w", err)
	}
	return n, nil
}

func (r *PGRepository) CountBonus(ctx context.Context, tx pgx.Tx, upstreamID, sourceID string) (int, error) {
	const query = `
		SELECT COUNT(*) FROM clicks
		WHERE partner_id = $1 AND source_partner_id = $2 AND kind = 'bonus'
	`

	var n int
	if err := tx.QueryRow(ctx, query, upstreamID, sourceID).Scan(&n); err != nil {
		return 0, fmt.Errorf("click: count bonus: %w", err)
	}
	return n, nil
}

func (r *PGRepository) InsertBonus(ctx context.Context, tx pgx.Tx, upstreamID, sourceID string, n int, ipAddress, userAgent string) error {
	if n <= 0 {
		return nil
	}

	const insertSQL = `
		INSERT INTO clicks (partner_id, kind, source_partner_id, ip_address, user_agent)
		SELECT $1, 'bonus', $2, $3, $4
		FROM generate_series(1, $5)
	`

	if _, err := tx.Exec(ctx, insertSQL, upstreamID, sourceID, ipAddress, userAgent, n); err != nil {
		return fmt.Errorf("click: insert bonus: %w", err)
	}
	return nil
}

func (r *PGRepository) TotalsFor(ctx context.Context, partnerID string) (Totals, error) {
	const query = `
		SELECT COUNT(*) FILTER (WHERE kind = 'direct'),
		       COUNT(*) FILTER (WHERE kind = 'bonus')
		FROM clicks
		WHERE partner_id = $1
	`

	var t Totals
	if err := r.pool.QueryRow(ctx, query, partnerID).Scan(&t.Direct, &t.Bonus); err != nil {
		return Totals{}, fmt.Errorf("click: totals: %w", err)
	}
	return t, nil
}

// MaturedCount returns the number of clicks credited to the partner before
// the given cutoff, regardless of kind. Earnings on younger clicks are still
// inside the withdrawal hold.
func (r *PGRepository) MaturedCount(ctx context.Context, partnerID string, before time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM clicks WHERE partner_id = $1 AND created_at < $2`,
		partnerID, before).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("click: matured count: %w", err)
	}
	return n, nil
}

func (r *PGRepository) DownlineIDs(ctx context.Context, upstreamCode string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM partners WHERE referred_by = $1 ORDER BY created_at`, upstreamCode)
	if err != nil {
		return nil, fmt.Errorf("click: list downline ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("click: scan downline id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("click: iterate downline ids: %w", err)
	}
	return ids, nil
}
