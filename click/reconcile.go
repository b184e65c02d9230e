package click

import (
	"context"
	"fmt"
)

// Reconcile backfills under-counted bonus records for every downline of the
// given upstream partner. Each downline is patched in its own transaction:
// the shortfall is recomputed against the locked snapshot immediately before
// the insert, so overlapping sweeps or a concurrent registration never patch
// the same gap twice. Idempotent: a second run with no new direct clicks
// patches nothing.
//
// This runs off the redirect hot path, triggered when a partner views their
// sub-partner list.
func (s *Service) Reconcile(ctx context.Context, upstreamID, upstreamCode string) (ReconcileResult, error) {
	if upstreamID == "" || upstreamCode == "" {
		return ReconcileResult{}, fmt.Errorf("click: upstream id and code required")
	}

	downline, err := s.repo.DownlineIDs(ctx, upstreamCode)
	if err != nil {
		return ReconcileResult{}, err
	}

	var patched int
	for _, sourceID := range downline {
		n, err := s.reconcileOne(ctx, upstreamID, sourceID)
		if err != nil {
			return ReconcileResult{}, err
		}
		patched += n
	}
	return ReconcileResult{Patched: patched}, nil
}

func (s *Service) reconcileOne(ctx context.Context, upstreamID, sourceID string) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("click: begin reconcile tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.LockPartner(ctx, tx, sourceID); err != nil {
		return 0, err
	}

	// synthetic backfill rows carry no visitor context
	credited, err := s.creditShortfall(ctx, tx, upstreamID, sourceID, "unknown", "unknown")
	if err != nil {
		return 0, err
	}

	if credited > 0 && s.outbox != nil {
		payload := map[string]any{
			"upstream_partner_id": upstreamID,
			"source_partner_id":   sourceID,
			"credited":            credited,
		}
		if err := s.outbox.Enqueue(ctx, tx, "bonus.credited", payload); err != nil {
			return 0, fmt.Errorf("click: enqueue reconcile outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("click: commit reconcile tx: %w", err)
	}
	return credited, nil
}
