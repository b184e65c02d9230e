package partner

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestRegister_RetriesOnCodeCollision(t *testing.T) {
	repo := newFakeRepo()
	repo.partners["taken"] = Partner{ID: "p-0", PartnerCode: "TAKEN123"}
	repo.codes["TAKEN123"] = "p-0"

	codes := []string{"TAKEN123", "FRESH456"}
	svc := NewService(&fakePool{}, repo).WithCodeGenerator(func() (string, error) {
		code := codes[0]
		codes = codes[1:]
		return code, nil
	})

	p, err := svc.Register(context.Background(), RegisterParams{
		Email:        "new@example.com",
		DisplayName:  "New Partner",
		PasswordHash: "hash",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if p.PartnerCode != "FRESH456" {
		t.Errorf("expected retry to mint FRESH456, got %q", p.PartnerCode)
	}
	if p.Role != RolePartner {
		t.Errorf("expected default partner role, got %q", p.Role)
	}
}

func TestRegister_RejectsInvalidRole(t *testing.T) {
	svc := NewService(&fakePool{}, newFakeRepo())

	_, err := svc.Register(context.Background(), RegisterParams{
		Email:       "a@example.com",
		DisplayName: "A",
		Role:        Role("superuser"),
	})
	if err == nil {
		t.Fatalf("expected error for invalid role")
	}
}

func TestAttachReferrer_SetsOnce(t *testing.T) {
	pool := &fakePool{}
	repo := newFakeRepo()
	repo.add(Partner{ID: "p-1", PartnerCode: "AAAA1111"})
	repo.add(Partner{ID: "p-2", PartnerCode: "BBBB2222"})
	svc := NewService(pool, repo)

	updated, err := svc.AttachReferrer(context.Background(), "p-1", "BBBB2222")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if updated.ReferredBy == nil || *updated.ReferredBy != "BBBB2222" {
		t.Fatalf("expected referred_by BBBB2222, got %v", updated.ReferredBy)
	}
	if !pool.tx.committed {
		t.Errorf("expected commit")
	}
}

func TestAttachReferrer_Immutable(t *testing.T) {
	pool := &fakePool{}
	repo := newFakeRepo()
	existing := "CCCC3333"
	repo.add(Partner{ID: "p-1", PartnerCode: "AAAA1111", ReferredBy: &existing})
	repo.add(Partner{ID: "p-2", PartnerCode: "BBBB2222"})
	svc := NewService(pool, repo)

	_, err := svc.AttachReferrer(context.Background(), "p-1", "BBBB2222")
	if !errors.Is(err, ErrReferrerImmutable) {
		t.Fatalf("expected ErrReferrerImmutable, got %v", err)
	}
	if pool.tx.committed {
		t.Errorf("expected no commit")
	}
}

func TestAttachReferrer_SelfReferral(t *testing.T) {
	repo := newFakeRepo()
	repo.add(Partner{ID: "p-1", PartnerCode: "AAAA1111"})
	svc := NewService(&fakePool{}, repo)

	_, err := svc.AttachReferrer(context.Background(), "p-1", "AAAA1111")
	if !errors.Is(err, ErrSelfReferral) {
		t.Fatalf("expected ErrSelfReferral, got %v", err)
	}
}

func TestAttachReferrer_DetectsCycle(t *testing.T) {
	repo := newFakeRepo()
	bCode := "BBBB2222"
	// A was recruited by B; B now trying to name A as its own referrer
	repo.add(Partner{ID: "p-a", PartnerCode: "AAAA1111", ReferredBy: &bCode})
	repo.add(Partner{ID: "p-b", PartnerCode: "BBBB2222"})
	svc := NewService(&fakePool{}, repo)

	_, err := svc.AttachReferrer(context.Background(), "p-b", "AAAA1111")
	if !errors.Is(err, ErrReferrerCycle) {
		t.Fatalf("expected ErrReferrerCycle, got %v", err)
	}
}

func TestAttachReferrer_UnknownReferrer(t *testing.T) {
	repo := newFakeRepo()
	repo.add(Partner{ID: "p-1", PartnerCode: "AAAA1111"})
	svc := NewService(&fakePool{}, repo)

	_, err := svc.AttachReferrer(context.Background(), "p-1", "NOPE0000")
	if !errors.Is(err, ErrUnknownReferrer) {
		t.Fatalf("expected ErrUnknownReferrer, got %v", err)
	}
}

func TestAttachReferrer_DanglingMidChainIsAllowed(t *testing.T) {
	repo := newFakeRepo()
	gone := "GONE0000"
	repo.add(Partner{ID: "p-1", PartnerCode: "AAAA1111"})
	// the candidate's own referrer no longer exists; the walk just ends there
	repo.add(Partner{ID: "p-2", PartnerCode: "BBBB2222", ReferredBy: &gone})
	svc := NewService(&fakePool{}, repo)

	updated, err := svc.AttachReferrer(context.Background(), "p-1", "BBBB2222")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if updated.ReferredBy == nil || *updated.ReferredBy != "BBBB2222" {
		t.Fatalf("expected referred_by BBBB2222, got %v", updated.ReferredBy)
	}
}

func TestNewCode_Format(t *testing.T) {
	code, err := NewCode()
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(code) != 8 {
		t.Fatalf("expected 8-character code, got %q", code)
	}
	for _, r := range code {
		switch {
		case r >= 'A' && r <= 'Z', r >= '2' && r <= '9':
		default:
			t.Fatalf("unexpected character %q in code %q", r, code)
		}
	}
}

type fakeRepo struct {
	partners map[string]Partner // by id
	codes    map[string]string  // partner code -> id
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		partners: map[string]Partner{},
		codes:    map[string]string{},
	}
}

func (f *fakeRepo) add(p Partner) {
	f.partners[p.ID] = p
	f.codes[p.PartnerCode] = p.ID
}

func (f *fakeRepo) Create(ctx context.Context, params CreateParams) (Partner, error) {
	if _, taken := f.codes[params.PartnerCode]; taken {
		return Partner{}, ErrDuplicateCode
	}
	p := Partner{
		ID:           params.ID,
		Email:        params.Email,
		DisplayName:  params.DisplayName,
		PasswordHash: params.PasswordHash,
		PartnerCode:  params.PartnerCode,
		Role:         params.Role,
	}
	f.add(p)
	return p, nil
}

func (f *fakeRepo) GetByID(ctx context.Context, id string) (Partner, error) {
	p, ok := f.partners[id]
	if !ok {
		return Partner{}, ErrNotFound
	}
	return p, nil
}

func (f *fakeRepo) GetByEmail(ctx context.Context, email string) (Partner, error) {
	for _, p := range f.partners {
		if p.Email == email {
			return p, nil
		}
	}
	return Partner{}, ErrNotFound
}

func (f *fakeRepo) GetByCode(ctx context.Context, code string) (Partner, error) {
	id, ok := f.codes[code]
	if !ok {
		return Partner{}, ErrNotFound
	}
	return f.partners[id], nil
}

func (f *fakeRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Partner, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeRepo) SetReferredBy(ctx context.Context, tx pgx.Tx, id, upstreamCode string) (Partner, error) {
	p, ok := f.partners[id]
	if !ok || p.ReferredBy != nil {
		return Partner{}, ErrReferrerImmutable
	}
	p.ReferredBy = &upstreamCode
	f.partners[id] = p
	return p, nil
}

func (f *fakeRepo) ReferrerCodeOf(ctx context.Context, tx pgx.Tx, code string) (*string, error) {
	id, ok := f.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	return f.partners[id].ReferredBy, nil
}

func (f *fakeRepo) ListDownline(ctx context.Context, upstreamCode string) ([]DownlineEntry, error) {
	out := []DownlineEntry{}
	for _, p := range f.partners {
		if p.ReferredBy != nil && *p.ReferredBy == upstreamCode {
			out = append(out, DownlineEntry{Partner: p})
		}
	}
	return out, nil
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
