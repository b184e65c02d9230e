package partner

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals that no partner matches the given id or code.
	ErrNotFound = errors.New("partner: not found")
	// ErrDuplicateEmail signals that the email is already registered.
	ErrDuplicateEmail = errors.New("partner: email already exists")
	// ErrDuplicateCode signals a partner-code collision on insert.
	ErrDuplicateCode = errors.New("partner: partner code already exists")
)

// Repository handles data access for partner records.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (Partner, error)
	GetByID(ctx context.Context, id string) (Partner, error)
	GetByEmail(ctx context.Context, email string) (Partner, error)
	GetByCode(ctx context.Context, code string) (Partner, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Partner, error)
	SetReferredBy(ctx context.Context, tx pgx.Tx, id, upstreamCode string) (Partner, error)
	ReferrerCodeOf(ctx context.Context, tx pgx.Tx, code string) (*string, error)
	ListDownline(ctx context.Context, upstreamCode string) ([]DownlineEntry, error)
}

// CreateParams contains write parameters for registering partners.
type CreateParams struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	PartnerCode  string
	Role         Role
}

const partnerColumns = `id, email, display_name, password_hash, partner_code, referred_by, role, created_at, updated_at`

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed partner repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Create(ctx context.Context, params CreateParams) (Partner, error) {
	const insertSQL = `
		INSERT INTO partners (id, email, display_name, password_hash, partner_code, role)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + partnerColumns

	p, err := scanPartner(r.pool.QueryRow(ctx, insertSQL,
		params.ID, params.Email, params.DisplayName, params.PasswordHash, params.PartnerCode, params.Role))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == "partners_partner_code_key" {
				return Partner{}, ErrDuplicateCode
			}
			return Partner{}, ErrDuplicateEmail
		}
		return Partner{}, fmt.Errorf("partner: create: %w", err)
	}
	return p, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Partner, error) {
	return r.getWhere(ctx, "id = $1", id)
}

func (r *PGRepository) GetByEmail(ctx context.Context, email string) (Partner, error) {
	return r.getWhere(ctx, "email = $1", email)
}

func (r *PGRepository) GetByCode(ctx context.Context, code string) (Partner, error) {
	return r.getWhere(ctx, "partner_code = $1", code)
}

func (r *PGRepository) getWhere(ctx context.Context, cond string, arg any) (Partner, error) {
	query := `SELECT ` + partnerColumns + ` FROM partners WHERE ` + cond

	p, err := scanPartner(r.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Partner{}, ErrNotFound
		}
		return Partner{}, fmt.Errorf("partner: get: %w", err)
	}
	return p, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Partner, error) {
	const query = `SELECT ` + partnerColumns + ` FROM partners WHERE id = $1 FOR UPDATE`

	p, err := scanPartner(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Partner{}, ErrNotFound
		}
		return Partner{}, fmt.Errorf("partner: get for update: %w", err)
	}
	return p, nil
}

func (r *PGRepository) SetReferredBy(ctx context.Context, tx pgx.Tx, id, upstreamCode string) (Partner, error) {
	const query = `
		UPDATE partners
		SET referred_by = $2, updated_at = now()
		WHERE id = $1 AND referred_by IS NULL
		RETURNING ` + partnerColumns

	p, err := scanPartner(tx.QueryRow(ctx, query, id, upstreamCode))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Partner{}, ErrReferrerImmutable
		}
		return Partner{}, fmt.Errorf("partner: set referred_by: %w", err)
	}
	return p, nil
}

// ReferrerCodeOf returns the referred_by code of the partner owning the given
// code, read inside the caller's transaction so cycle walks see one snapshot.
func (r *PGRepository) ReferrerCodeOf(ctx context.Context, tx pgx.Tx, code string) (*string, error) {
	var referredBy *string
	err := tx.QueryRow(ctx, `SELECT referred_by FROM partners WHERE partner_code = $1`, code).Scan(&referredBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("partner: referrer code of %q: %w", code, err)
	}
	return referredBy, nil
}

func (r *PGRepository) ListDownline(ctx context.Context, upstreamCode string) ([]DownlineEntry, error) {
	const query = `
		SELECT ` + prefixedPartnerColumns + `,
		       (SELECT COUNT(*) FROM clicks c WHERE c.partner_id = p.id AND c.kind = 'direct') AS direct_clicks,
		       (SELECT COUNT(*) FROM clicks b WHERE b.source_partner_id = p.id AND b.kind = 'bonus') AS bonus_clicks
		FROM partners p
		WHERE p.referred_by = $1
		ORDER BY p.created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, upstreamCode)
	if err != nil {
		return nil, fmt.Errorf("partner: list downline: %w", err)
	}
	defer rows.Close()

	out := make([]DownlineEntry, 0, 8)
	for rows.Next() {
		var e DownlineEntry
		if err := rows.Scan(
			&e.Partner.ID,
			&e.Partner.Email,
			&e.Partner.DisplayName,
			&e.Partner.PasswordHash,
			&e.Partner.PartnerCode,
			&e.Partner.ReferredBy,
			&e.Partner.Role,
			&e.Partner.CreatedAt,
			&e.Partner.UpdatedAt,
			&e.DirectClicks,
			&e.BonusClicks,
		); err != nil {
			return nil, fmt.Errorf("partner: scan downline: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("partner: iterate downline: %w", err)
	}
	return out, nil
}

const prefixedPartnerColumns = `p.id, p.email, p.display_name, p.password_hash, p.partner_code, p.referred_by, p.role, p.created_at, p.updated_at`

func scanPartner(row pgx.Row) (Partner, error) {
	var p Partner
	err := row.Scan(
		&p.ID,
		&p.Email,
		&p.DisplayName,
		&p.PasswordHash,
		&p.PartnerCode,
		&p.ReferredBy,
		&p.Role,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return Partner{}, err
	}
	return p, nil
}
