package click

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// OutboxWriter appends an event row inside the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Service implements the click-attribution chain: duplicate suppression,
// direct-click recording, deterministic upstream bonus crediting, and the
// reconciliation sweep. The crediting rule is shared between the hot path and
// the sweep so totals converge on floor(direct * 0.20) per downline.
type Service struct {
	pool   TxBeginner
	repo   Repository
	outbox OutboxWriter
	now    func() time.Time
	window time.Duration
}

// NewService builds a click service with the default 24h suppression window.
func NewService(pool TxBeginner, repo Repository, outbox OutboxWriter) *Service {
	return &Service{
		pool:   pool,
		repo:   repo,
		outbox: outbox,
		now:    time.Now,
		window: SuppressionWindow,
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithWindow overrides the suppression window, for tests.
func (s *Service) WithWindow(d time.Duration) *Service {
	s.window = d
	return s
}

// RegisterParams carries a direct click to record.
type RegisterParams struct {
	BeneficiaryID string
	IPAddress     string
	UserAgent     string
}

// Register runs the attribution chain for one inbound visit. If a direct
// click from the same origin already credited the beneficiary within the
// window the call is a neutral no-op with Suppressed set.
//
// Suppression failure policy: fail closed. When the lookback query itself
// errors the visit is treated as a duplicate rather than risking a
// double-credit from a store in an unknown state.
func (s *Service) Register(ctx context.Context, params RegisterParams) (RegisterResult, error) {
	if params.BeneficiaryID == "" {
		return RegisterResult{}, fmt.Errorf("click: beneficiary id required")
	}

	since := s.now().Add(-s.window)
	seen, err := s.repo.HasRecentDirect(ctx, params.BeneficiaryID, params.IPAddress, since)
	if err != nil || seen {
		return RegisterResult{Suppressed: true}, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("click: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// serializes crediting per beneficiary against concurrent registrations
	// and overlapping reconciliation sweeps
	if err := s.repo.LockPartner(ctx, tx, params.BeneficiaryID); err != nil {
		return RegisterResult{}, err
	}

	recorded, err := s.repo.InsertDirect(ctx, tx, InsertParams{
		PartnerID: params.BeneficiaryID,
		IPAddress: params.IPAddress,
		UserAgent: params.UserAgent,
	})
	if err != nil {
		return RegisterResult{}, err
	}

	credited, err := s.maybeCreditUpstream(ctx, tx, params.BeneficiaryID, params.IPAddress, params.UserAgent)
	if err != nil {
		return RegisterResult{}, err
	}

	if s.outbox != nil {
		payload := map[string]any{
			"click_id":   recorded.ID,
			"partner_id": recorded.PartnerID,
		}
		if err := s.outbox.Enqueue(ctx, tx, "click.recorded", payload); err != nil {
			return RegisterResult{}, fmt.Errorf("click: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return RegisterResult{}, fmt.Errorf("click: commit tx: %w", err)
	}

	return RegisterResult{Click: recorded, BonusCredited: credited}, nil
}

// maybeCreditUpstream resolves the beneficiary's referrer and tops up the
// bonus shortfall. A missing or dangling referred_by is a soft no-op; the
// direct click that triggered us is already in the transaction.
func (s *Service) maybeCreditUpstream(ctx context.Context, tx pgx.Tx, beneficiaryID, ipAddress, userAgent string) (int, error) {
	upstreamID, err := s.repo.UpstreamOf(ctx, tx, beneficiaryID)
	if err != nil {
		return 0, err
	}
	if upstreamID == nil {
		return 0, nil
	}

	credited, err := s.creditShortfall(ctx, tx, *upstreamID, beneficiaryID, ipAddress, userAgent)
	if err != nil {
		return 0, err
	}

	if credited > 0 && s.outbox != nil {
		payload := map[string]any{
			"upstream_partner_id": *upstreamID,
			"source_partner_id":   beneficiaryID,
			"credited":            credited,
		}
		if err := s.outbox.Enqueue(ctx, tx, "bonus.credited", payload); err != nil {
			return 0, fmt.Errorf("click: enqueue bonus outbox: %w", err)
		}
	}
	return credited, nil
}

// creditShortfall recomputes, inside the caller's transaction, how many bonus
// records the upstream partner is still owed for the given downline and
// inserts exactly that many. Owed is floor(direct * 0.20); the shortfall is
// clamped at zero so an over-credited edge is never "corrected" by deletion.
func (s *Service) creditShortfall(ctx context.Context, tx pgx.Tx, upstreamID, sourceID, ipAddress, userAgent string) (int, error) {
	direct, err := s.repo.CountDirect(ctx, tx, sourceID)
	if err != nil {
		return 0, err
	}
	bonus, err := s.repo.CountBonus(ctx, tx, upstreamID, sourceID)
	if err != nil {
		return 0, err
	}

	shortfall := direct/BonusPerDirect - bonus
	if shortfall <= 0 {
		return 0, nil
	}

	if err := s.repo.InsertBonus(ctx, tx, upstreamID, sourceID, shortfall, ipAddress, userAgent); err != nil {
		return 0, err
	}
	return shortfall, nil
}

// TotalsFor returns a partner's click tallies by kind.
func (s *Service) TotalsFor(ctx context.Context, partnerID string) (Totals, error) {
	return s.repo.TotalsFor(ctx, partnerID)
}

// MaturedCount returns how many of a partner's clicks are older than the
// given hold duration.
func (s *Service) MaturedCount(ctx context.Context, partnerID string, hold time.Duration) (int, error) {
	return s.repo.MaturedCount(ctx, partnerID, s.now().Add(-hold))
}
