package link

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals that no short link matches the given code.
	ErrNotFound = errors.New("link: not found")
	// ErrDuplicateCode signals a short-code collision on insert.
	ErrDuplicateCode = errors.New("link: short code already exists")
)

// Repository handles data access for short links.
type Repository interface {
	Resolve(ctx context.Context, shortCode string) (Resolution, error)
	GetByDestination(ctx context.Context, partnerID, destinationURL string) (ShortLink, error)
	Create(ctx context.Context, params CreateParams) (ShortLink, error)
}

// CreateParams contains write parameters for minting short links.
type CreateParams struct {
	ShortCode      string
	DestinationURL string
	PartnerID      string
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed short-link repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Resolve looks up the owner and destination for a short code. Read-only and
// safe under arbitrary concurrency.
func (r *PGRepository) Resolve(ctx context.Context, shortCode string) (Resolution, error) {
	const query = `SELECT partner_id, destination_url FROM short_links WHERE short_code = $1`

	var res Resolution
	err := r.pool.QueryRow(ctx, query, shortCode).Scan(&res.OwnerPartnerID, &res.DestinationURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Resolution{}, ErrNotFound
		}
		return Resolution{}, fmt.Errorf("link: resolve %q: %w", shortCode, err)
	}
	return res, nil
}

func (r *PGRepository) GetByDestination(ctx context.Context, partnerID, destinationURL string) (ShortLink, error) {
	const query = `
		SELECT id, short_code, destination_url, partner_id, created_at
		FROM short_links
		WHERE partner_id = $1 AND destination_url = $2
	`

	l, err := scanLink(r.pool.QueryRow(ctx, query, partnerID, destinationURL))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ShortLink{}, ErrNotFound
		}
		return ShortLink{}, fmt.Errorf("link: get by destination: %w", err)
	}
	return l, nil
}

func (r *PGRepository) Create(ctx context.Context, params CreateParams) (ShortLink, error) {
	const insertSQL = `
		INSERT INTO short_links (short_code, destination_url, partner_id)
		VALUES ($1, $2, $3)
		RETURNING id, short_code, destination_url, partner_id, created_at
	`

	l, err := scanLink(r.pool.QueryRow(ctx, insertSQL, params.ShortCode, params.DestinationURL, params.PartnerID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ShortLink{}, ErrDuplicateCode
		}
		return ShortLink{}, fmt.Errorf("link: create: %w", err)
	}
	return l, nil
}

func scanLink(row pgx.Row) (ShortLink, error) {
	var l ShortLink
	err := row.Scan(&l.ID, &l.ShortCode, &l.DestinationURL, &l.PartnerID, &l.CreatedAt)
	if err != nil {
		return ShortLink{}, err
	}
	return l, nil
}
