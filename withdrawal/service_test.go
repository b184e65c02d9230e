package withdrawal

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

func TestCreate_WithinBalance(t *testing.T) {
	pool := &fakePool{}
	store := newFakeStore()
	svc := NewService(pool, store, staticBalance("5.00"), nil)

	req, err := svc.Create(context.Background(), CreateParams{
		PartnerID:   "p-1",
		Amount:      decimal.RequireFromString("3.00"),
		Method:      MethodPaypal,
		Destination: "me@paypal.example",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if req.Status != StatusPending {
		t.Errorf("expected pending status, got %q", req.Status)
	}
	if !pool.tx.committed {
		t.Errorf("expected commit")
	}
}

func TestCreate_CountsOutstandingAgainstBalance(t *testing.T) {
	pool := &fakePool{}
	store := newFakeStore()
	store.outstanding = decimal.RequireFromString("3.00")
	svc := NewService(pool, store, staticBalance("5.00"), nil)

	_, err := svc.Create(context.Background(), CreateParams{
		PartnerID:   "p-1",
		Amount:      decimal.RequireFromString("2.50"),
		Method:      MethodCrypto,
		Destination: "0xabc",
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if len(store.created) != 0 {
		t.Errorf("expected no request recorded")
	}
	if pool.tx.committed {
		t.Errorf("expected rollback")
	}
}

func TestCreate_Validation(t *testing.T) {
	svc := NewService(&fakePool{}, newFakeStore(), staticBalance("5.00"), nil)

	cases := []struct {
		name    string
		params  CreateParams
		wantErr error
	}{
		{
			name:    "zero amount",
			params:  CreateParams{PartnerID: "p-1", Amount: decimal.Zero, Method: MethodPaypal, Destination: "x"},
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "negative amount",
			params:  CreateParams{PartnerID: "p-1", Amount: decimal.RequireFromString("-1"), Method: MethodPaypal, Destination: "x"},
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "bad method",
			params:  CreateParams{PartnerID: "p-1", Amount: decimal.RequireFromString("1"), Method: Method("venmo"), Destination: "x"},
			wantErr: ErrInvalidMethod,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Create(context.Background(), tc.params); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestReview_Approve(t *testing.T) {
	pool := &fakePool{}
	store := newFakeStore()
	store.requests["w-1"] = Request{ID: "w-1", PartnerID: "p-1", Status: StatusPending}
	svc := NewService(pool, store, staticBalance("0"), nil)

	note := "looks good"
	req, err := svc.Review(context.Background(), ReviewParams{RequestID: "w-1", Approve: true, AdminMessage: &note})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if req.Status != StatusApproved {
		t.Errorf("expected approved, got %q", req.Status)
	}
	if req.AdminMessage == nil || *req.AdminMessage != "looks good" {
		t.Errorf("expected admin message to be stored, got %v", req.AdminMessage)
	}
	if !pool.tx.committed {
		t.Errorf("expected commit")
	}
}

func TestReview_TerminalIsFinal(t *testing.T) {
	pool := &fakePool{}
	store := newFakeStore()
	store.requests["w-1"] = Request{ID: "w-1", PartnerID: "p-1", Status: StatusApproved}
	svc := NewService(pool, store, staticBalance("0"), nil)

	_, err := svc.Review(context.Background(), ReviewParams{RequestID: "w-1", Approve: false})
	if !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected ErrTerminal, got %v", err)
	}
}

func TestReview_NotFound(t *testing.T) {
	svc := NewService(&fakePool{}, newFakeStore(), staticBalance("0"), nil)

	_, err := svc.Review(context.Background(), ReviewParams{RequestID: "missing", Approve: true})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func staticBalance(amount string) BalanceSource {
	return balanceFunc(decimal.RequireFromString(amount))
}

type balanceFunc decimal.Decimal

func (b balanceFunc) Available(ctx context.Context, partnerID string) (decimal.Decimal, error) {
	return decimal.Decimal(b), nil
}

type fakeStore struct {
	requests    map[string]Request
	created     []Request
	outstanding decimal.Decimal
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		requests:    map[string]Request{},
		outstanding: decimal.Zero,
	}
}

func (f *fakeStore) LockPartner(ctx context.Context, tx pgx.Tx, partnerID string) error {
	return nil
}

func (f *fakeStore) List(ctx context.Context, partnerID string) ([]Request, error) {
	out := []Request{}
	for _, req := range f.requests {
		if partnerID == "" || req.PartnerID == partnerID {
			out = append(out, req)
		}
	}
	return out, nil
}

func (f *fakeStore) Create(ctx context.Context, tx pgx.Tx, params CreateParams) (Request, error) {
	req := Request{
		ID:          "w-new",
		PartnerID:   params.PartnerID,
		Amount:      params.Amount,
		Method:      params.Method,
		Destination: params.Destination,
		Status:      StatusPending,
	}
	f.requests[req.ID] = req
	f.created = append(f.created, req)
	return req, nil
}

func (f *fakeStore) OutstandingTotal(ctx context.Context, tx pgx.Tx, partnerID string) (decimal.Decimal, error) {
	return f.outstanding, nil
}

func (f *fakeStore) Review(ctx context.Context, tx pgx.Tx, requestID string, status Status, adminMessage *string) (Request, error) {
	req, ok := f.requests[requestID]
	if !ok {
		return Request{}, ErrNotFound
	}
	if req.Status != StatusPending {
		return Request{}, ErrTerminal
	}
	req.Status = status
	req.AdminMessage = adminMessage
	f.requests[requestID] = req
	return req, nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
