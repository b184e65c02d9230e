// Package actors holds the concurrent workloads the stress test runs against
// a live database. Clickers and reconcilers drive the real services so the
// locking inside them is what gets exercised, not a reimplementation.
package actors

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"partnerflow/click"
	"partnerflow/outbox"
	"partnerflow/withdrawal"
)

// Clicker fires direct clicks at a beneficiary from a rotating set of source
// addresses. Each clicker owns its address pool, so within one actor the
// suppressor sees strictly sequential visits.
func Clicker(ctx context.Context, svc *click.Service, beneficiaryID string, ips []string, stop <-chan struct{}) error {
	i := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		ip := ips[i%len(ips)]
		i++
		if _, err := svc.Register(ctx, click.RegisterParams{
			BeneficiaryID: beneficiaryID,
			IPAddress:     ip,
			UserAgent:     "stress-agent",
		}); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// chaos may have killed the backend mid-flight; the next
			// iteration gets a fresh connection from the pool
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Reconciler repeatedly sweeps the upstream's downline, racing the clickers
// crediting the same edges.
func Reconciler(ctx context.Context, svc *click.Service, upstreamID, upstreamCode string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := svc.Reconcile(ctx, upstreamID, upstreamCode); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		time.Sleep(time.Duration(40+rand.Intn(60)) * time.Millisecond)
	}
}

// Withdrawer files small withdrawal requests against a partner with matured
// earnings. Running several withdrawers for one partner races the balance
// guard; insufficient balance is the expected steady state once funds run out.
func Withdrawer(ctx context.Context, svc *withdrawal.Service, partnerID string, stop <-chan struct{}) error {
	amount := decimal.RequireFromString("0.50")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := svc.Create(ctx, withdrawal.CreateParams{
			PartnerID:   partnerID,
			Amount:      amount,
			Method:      withdrawal.MethodPaypal,
			Destination: "stress@paypal.example",
		})
		if err != nil && !errors.Is(err, withdrawal.ErrInsufficientBalance) && ctx.Err() != nil {
			return ctx.Err()
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}

// Reviewer picks a random pending withdrawal and decides it, sometimes twice
// in a row to probe the terminal-state guard.
func Reviewer(ctx context.Context, svc *withdrawal.Service, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var id string
		err := pool.QueryRow(ctx, `SELECT id FROM withdrawal_requests WHERE status='pending' ORDER BY random() LIMIT 1`).Scan(&id)
		if err == nil {
			approve := rand.Intn(2) == 0
			for attempt := 0; attempt < 2; attempt++ {
				_, err := svc.Review(ctx, withdrawal.ReviewParams{RequestID: id, Approve: approve})
				if err != nil && ctx.Err() != nil {
					return ctx.Err()
				}
			}
		}
		time.Sleep(time.Duration(100+rand.Intn(100)) * time.Millisecond)
	}
}

// Dispatcher drains the outbox with the real SKIP LOCKED worker. The handler
// fails randomly so the retry and dead-letter paths get traffic too.
func Dispatcher(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	d := outbox.NewDispatcher(pool, func(ctx context.Context, msg outbox.Message) error {
		if rand.Intn(10) == 0 {
			return errors.New("simulated subscriber failure")
		}
		return nil
	})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if err := d.DispatchOnce(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		time.Sleep(100 * time.Millisecond)
	}
}
