package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount signals a zero, negative, or unparseable amount.
	ErrInvalidAmount = errors.New("withdrawal: invalid amount")
	// ErrInvalidMethod signals an unsupported payout method.
	ErrInvalidMethod = errors.New("withdrawal: invalid method")
	// ErrInsufficientBalance signals a request beyond the withdrawable balance.
	ErrInsufficientBalance = errors.New("withdrawal: insufficient balance")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// RequestStore is the data-access surface the service needs.
type RequestStore interface {
	List(ctx context.Context, partnerID string) ([]Request, error)
	LockPartner(ctx context.Context, tx pgx.Tx, partnerID string) error
	Create(ctx context.Context, tx pgx.Tx, params CreateParams) (Request, error)
	OutstandingTotal(ctx context.Context, tx pgx.Tx, partnerID string) (decimal.Decimal, error)
	Review(ctx context.Context, tx pgx.Tx, requestID string, status Status, adminMessage *string) (Request, error)
}

// BalanceSource reports a partner's withdrawable earnings (past the hold).
type BalanceSource interface {
	Available(ctx context.Context, partnerID string) (decimal.Decimal, error)
}

// OutboxWriter appends an event row inside the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Service handles withdrawal requests and their admin review.
type Service struct {
	pool    TxBeginner
	repo    RequestStore
	balance BalanceSource
	outbox  OutboxWriter
}

// NewService builds a withdrawal service.
func NewService(pool TxBeginner, repo RequestStore, balance BalanceSource, outbox OutboxWriter) *Service {
	return &Service{
		pool:    pool,
		repo:    repo,
		balance: balance,
		outbox:  outbox,
	}
}

// CreateParams contains the fields of a new withdrawal request.
type CreateParams struct {
	PartnerID   string
	Amount      decimal.Decimal
	Method      Method
	Destination string
}

// Create validates and records a withdrawal request. The requested amount
// plus everything already pending or approved must fit inside the partner's
// withdrawable balance, checked against the same snapshot as the insert.
func (s *Service) Create(ctx context.Context, params CreateParams) (Request, error) {
	if params.PartnerID == "" {
		return Request{}, fmt.Errorf("withdrawal: partner id required")
	}
	if params.Amount.LessThanOrEqual(decimal.Zero) {
		return Request{}, ErrInvalidAmount
	}
	if !validMethod(params.Method) {
		return Request{}, ErrInvalidMethod
	}
	if strings.TrimSpace(params.Destination) == "" {
		return Request{}, fmt.Errorf("withdrawal: destination required")
	}

	available, err := s.balance.Available(ctx, params.PartnerID)
	if err != nil {
		return Request{}, fmt.Errorf("withdrawal: fetch balance: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Request{}, fmt.Errorf("withdrawal: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// serializes the balance check against concurrent creates for the partner
	if err := s.repo.LockPartner(ctx, tx, params.PartnerID); err != nil {
		return Request{}, err
	}

	outstanding, err := s.repo.OutstandingTotal(ctx, tx, params.PartnerID)
	if err != nil {
		return Request{}, err
	}
	if params.Amount.Add(outstanding).GreaterThan(available) {
		return Request{}, ErrInsufficientBalance
	}

	created, err := s.repo.Create(ctx, tx, params)
	if err != nil {
		return Request{}, err
	}

	if s.outbox != nil {
		payload := map[string]any{
			"request_id": created.ID,
			"partner_id": created.PartnerID,
			"amount":     created.Amount.String(),
		}
		if err := s.outbox.Enqueue(ctx, tx, "withdrawal.requested", payload); err != nil {
			return Request{}, fmt.Errorf("withdrawal: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Request{}, fmt.Errorf("withdrawal: commit: %w", err)
	}
	return created, nil
}

// List returns withdrawal requests, scoped to a partner when partnerID is set.
func (s *Service) List(ctx context.Context, partnerID string) ([]Request, error) {
	return s.repo.List(ctx, partnerID)
}

// ReviewParams carries an admin decision on a pending request.
type ReviewParams struct {
	RequestID    string
	Approve      bool
	AdminMessage *string
}

// Review applies an admin decision. Terminal states are final: re-reviewing
// an already-decided request fails with ErrTerminal.
func (s *Service) Review(ctx context.Context, params ReviewParams) (Request, error) {
	if params.RequestID == "" {
		return Request{}, fmt.Errorf("withdrawal: request id required")
	}

	status := StatusRejected
	if params.Approve {
		status = StatusApproved
	}

	var message *string
	if params.AdminMessage != nil {
		trimmed := strings.TrimSpace(*params.AdminMessage)
		if trimmed != "" {
			message = &trimmed
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Request{}, fmt.Errorf("withdrawal: begin review tx: %w", err)
	}
	defer tx.Rollback(ctx)

	reviewed, err := s.repo.Review(ctx, tx, params.RequestID, status, message)
	if err != nil {
		return Request{}, err
	}

	if s.outbox != nil {
		payload := map[string]any{
			"request_id": reviewed.ID,
			"partner_id": reviewed.PartnerID,
			"status":     reviewed.Status,
		}
		if err := s.outbox.Enqueue(ctx, tx, "withdrawal.reviewed", payload); err != nil {
			return Request{}, fmt.Errorf("withdrawal: enqueue review outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Request{}, fmt.Errorf("withdrawal: commit review: %w", err)
	}
	return reviewed, nil
}
