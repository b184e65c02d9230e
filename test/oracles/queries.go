// Package oracles holds SQL invariant checks run against the database while
// the actors are mid-flight. A row returned by any oracle is a violation.
package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			// bonus records per (upstream, downline) edge never exceed
			// floor(direct/5); crediting is serialized per downline row
			Name: "O1_bonus_within_rule",
			SQL: `WITH bonus AS (
                      SELECT partner_id, source_partner_id, COUNT(*) AS n
                      FROM clicks WHERE kind = 'bonus'
                      GROUP BY partner_id, source_partner_id
                  ),
                  direct AS (
                      SELECT partner_id, COUNT(*) AS n
                      FROM clicks WHERE kind = 'direct'
                      GROUP BY partner_id
                  )
                  SELECT b.partner_id, b.source_partner_id, b.n, COALESCE(d.n, 0)
                  FROM bonus b
                  LEFT JOIN direct d ON d.partner_id = b.source_partner_id
                  WHERE b.n > COALESCE(d.n, 0) / 5`,
		},
		{
			// every bonus names a source, and that source really is in the
			// credited partner's downline
			Name: "O2_bonus_edge_integrity",
			SQL: `SELECT c.id
                  FROM clicks c
                  LEFT JOIN partners src ON src.id = c.source_partner_id
                  LEFT JOIN partners up ON up.id = c.partner_id
                  WHERE c.kind = 'bonus'
                    AND (c.source_partner_id IS NULL
                         OR src.referred_by IS DISTINCT FROM up.partner_code)`,
		},
		{
			// the referral graph carries no self-references or 2-cycles
			Name: "O3_referral_graph_acyclic",
			SQL: `SELECT p.id FROM partners p
                  LEFT JOIN partners u ON u.partner_code = p.referred_by
                  WHERE p.referred_by = p.partner_code
                     OR u.referred_by = p.partner_code`,
		},
		{
			// pending plus approved withdrawals never exceed the matured
			// balance at $0.10 per click
			Name: "O4_withdrawals_within_balance",
			SQL: `WITH outstanding AS (
                      SELECT partner_id, SUM(amount) AS total
                      FROM withdrawal_requests
                      WHERE status IN ('pending','approved')
                      GROUP BY partner_id
                  ),
                  matured AS (
                      SELECT partner_id, COUNT(*) AS n
                      FROM clicks
                      WHERE created_at < now() - interval '30 days'
                      GROUP BY partner_id
                  )
                  SELECT o.partner_id, o.total
                  FROM outstanding o
                  LEFT JOIN matured m ON m.partner_id = o.partner_id
                  WHERE o.total > COALESCE(m.n, 0) * 0.10`,
		},
		{
			// terminal withdrawal states carry no second decision artifacts:
			// updated_at is set exactly when status left pending, never for
			// a row that is still pending with an admin message attached
			Name: "O5_review_consistency",
			SQL: `SELECT id FROM withdrawal_requests
                  WHERE status = 'pending' AND admin_message IS NOT NULL`,
		},
		{
			// the outbox keeps moving: nothing stays pending for minutes
			Name: "O6_outbox_liveness",
			SQL: `SELECT id FROM outbox
                  WHERE status = 'pending'
                    AND now() - created_at > interval '5 minutes'`,
		},
		{
			// clicks are append-only events; direct clicks never carry a source
			Name: "O7_click_shape",
			SQL: `SELECT id FROM clicks
                  WHERE (kind = 'direct' AND source_partner_id IS NOT NULL)
                     OR kind NOT IN ('direct','bonus')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text) or an empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
