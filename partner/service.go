package partner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	// ErrReferrerImmutable signals an attempt to change an already-set referred_by.
	ErrReferrerImmutable = errors.New("partner: referrer already set")
	// ErrReferrerCycle signals that attaching the referrer would create a cycle.
	ErrReferrerCycle = errors.New("partner: referrer would create a cycle")
	// ErrSelfReferral signals a partner naming their own code as referrer.
	ErrSelfReferral = errors.New("partner: cannot refer yourself")
	// ErrUnknownReferrer signals that the referrer code resolves to no partner.
	ErrUnknownReferrer = errors.New("partner: unknown referrer code")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service exposes business-level partner operations, including the referral
// graph guards.
type Service struct {
	pool    TxBeginner
	repo    Repository
	genID   func() string
	genCode func() (string, error)
}

// NewService builds a Service using the provided pool and repository.
func NewService(pool TxBeginner, repo Repository) *Service {
	return &Service{
		pool:    pool,
		repo:    repo,
		genID:   uuid.NewString,
		genCode: NewCode,
	}
}

// WithIDGenerator overrides partner-ID generation, for tests.
func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.genID = gen
	return s
}

// WithCodeGenerator overrides partner-code generation, for tests.
func (s *Service) WithCodeGenerator(gen func() (string, error)) *Service {
	s.genCode = gen
	return s
}

// RegisterParams contains the fields needed to create a partner record.
// Password hashing happens in the auth service; this layer only stores.
type RegisterParams struct {
	Email        string
	DisplayName  string
	PasswordHash string
	Role         Role
}

// Register creates a partner with a freshly generated unique partner code.
// Code collisions are retried a few times before giving up.
func (s *Service) Register(ctx context.Context, params RegisterParams) (Partner, error) {
	if params.Email == "" || params.DisplayName == "" {
		return Partner{}, fmt.Errorf("partner: email and display name are required")
	}
	role := params.Role
	if role == "" {
		role = RolePartner
	}
	if role != RolePartner && role != RoleAdmin {
		return Partner{}, fmt.Errorf("partner: invalid role %q", role)
	}

	for attempt := 0; attempt < 3; attempt++ {
		code, err := s.genCode()
		if err != nil {
			return Partner{}, fmt.Errorf("partner: generate code: %w", err)
		}
		p, err := s.repo.Create(ctx, CreateParams{
			ID:           s.genID(),
			Email:        params.Email,
			DisplayName:  params.DisplayName,
			PasswordHash: params.PasswordHash,
			PartnerCode:  code,
			Role:         role,
		})
		if errors.Is(err, ErrDuplicateCode) {
			continue
		}
		if err != nil {
			return Partner{}, err
		}
		return p, nil
	}
	return Partner{}, fmt.Errorf("partner: exhausted partner code attempts")
}

// GetByID returns the partner for the given identifier.
func (s *Service) GetByID(ctx context.Context, id string) (Partner, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByEmail returns the partner registered under the given email.
func (s *Service) GetByEmail(ctx context.Context, email string) (Partner, error) {
	return s.repo.GetByEmail(ctx, email)
}

// GetByCode returns the partner owning the given partner code.
func (s *Service) GetByCode(ctx context.Context, code string) (Partner, error) {
	return s.repo.GetByCode(ctx, strings.TrimSpace(code))
}

// ListDownline returns the partners recruited by the given upstream partner.
func (s *Service) ListDownline(ctx context.Context, upstream Partner) ([]DownlineEntry, error) {
	return s.repo.ListDownline(ctx, upstream.PartnerCode)
}

// AttachReferrer sets referred_by for the partner, once. The partner row is
// locked for the duration so the immutability check and the cycle walk see a
// single snapshot.
func (s *Service) AttachReferrer(ctx context.Context, partnerID, upstreamCode string) (Partner, error) {
	upstreamCode = strings.TrimSpace(upstreamCode)
	if upstreamCode == "" {
		return Partner{}, fmt.Errorf("partner: referrer code required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Partner{}, fmt.Errorf("partner: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := s.repo.GetForUpdate(ctx, tx, partnerID)
	if err != nil {
		return Partner{}, err
	}
	if p.ReferredBy != nil {
		return Partner{}, ErrReferrerImmutable
	}
	if p.PartnerCode == upstreamCode {
		return Partner{}, ErrSelfReferral
	}

	if err := s.checkNoCycle(ctx, tx, p.PartnerCode, upstreamCode); err != nil {
		return Partner{}, err
	}

	updated, err := s.repo.SetReferredBy(ctx, tx, partnerID, upstreamCode)
	if err != nil {
		return Partner{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Partner{}, fmt.Errorf("partner: commit: %w", err)
	}
	return updated, nil
}

// checkNoCycle walks the upstream chain starting at candidate and fails if it
// reaches selfCode. The walk is bounded so a corrupted graph cannot spin.
func (s *Service) checkNoCycle(ctx context.Context, tx pgx.Tx, selfCode, candidate string) error {
	const maxDepth = 64

	code := candidate
	for depth := 0; depth < maxDepth; depth++ {
		next, err := s.repo.ReferrerCodeOf(ctx, tx, code)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				if depth == 0 {
					return ErrUnknownReferrer
				}
				// dangling back-reference mid-chain ends the walk
				return nil
			}
			return err
		}
		if next == nil {
			return nil
		}
		if *next == selfCode {
			return ErrReferrerCycle
		}
		code = *next
	}
	return fmt.Errorf("partner: referral chain exceeds depth %d", maxDepth)
}
