package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"partnerflow/partner"
)

func TestService_RegisterAndLogin(t *testing.T) {
	dir := newFakeDirectory()
	svc := NewService(dir, "test-secret")

	req := RegisterRequest{
		Email:       "alice@example.com",
		Password:    "supersafe",
		DisplayName: "Alice Partner",
	}

	ctx := context.Background()
	p, err := svc.Register(ctx, req)
	if err != nil {
		t.Fatalf("register: unexpected error: %v", err)
	}

	if p.Email != req.Email {
		t.Fatalf("expected email %q got %q", req.Email, p.Email)
	}
	if p.Role != partner.RolePartner {
		t.Fatalf("register: expected default role %s got %s", partner.RolePartner, p.Role)
	}
	if p.PartnerCode == "" {
		t.Fatal("register: expected a partner code to be assigned")
	}

	resp, err := svc.Login(ctx, LoginRequest{Email: req.Email, Password: req.Password})
	if err != nil {
		t.Fatalf("login: unexpected error: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("login: expected token, got empty string")
	}
	if resp.Partner.ID != p.ID {
		t.Fatalf("login: expected partner id %q got %q", p.ID, resp.Partner.ID)
	}

	tokenPartnerID, tokenRole, err := svc.VerifyToken(resp.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if tokenPartnerID != p.ID {
		t.Fatalf("verify token: expected %q got %q", p.ID, tokenPartnerID)
	}
	if tokenRole != partner.RolePartner {
		t.Fatalf("verify token: expected role %s got %s", partner.RolePartner, tokenRole)
	}
}

func TestService_RegisterWithReferrer(t *testing.T) {
	dir := newFakeDirectory()
	svc := NewService(dir, "test-secret")

	upstream, err := svc.Register(context.Background(), RegisterRequest{
		Email:       "upstream@example.com",
		Password:    "strongpassword",
		DisplayName: "Upstream",
	})
	if err != nil {
		t.Fatalf("register upstream: %v", err)
	}

	downline, err := svc.Register(context.Background(), RegisterRequest{
		Email:        "downline@example.com",
		Password:     "strongpassword",
		DisplayName:  "Downline",
		ReferrerCode: upstream.PartnerCode,
	})
	if err != nil {
		t.Fatalf("register downline: %v", err)
	}
	if downline.ReferredBy == nil || *downline.ReferredBy != upstream.PartnerCode {
		t.Fatalf("expected referred_by %q, got %v", upstream.PartnerCode, downline.ReferredBy)
	}
}

func TestService_RegisterUnknownReferrerIsSoft(t *testing.T) {
	dir := newFakeDirectory()
	svc := NewService(dir, "test-secret")

	p, err := svc.Register(context.Background(), RegisterRequest{
		Email:        "solo@example.com",
		Password:     "strongpassword",
		DisplayName:  "Solo",
		ReferrerCode: "NOPE99",
	})
	if err != nil {
		t.Fatalf("expected soft no-op for unknown referrer, got %v", err)
	}
	if p.ReferredBy != nil {
		t.Fatalf("expected no referrer attached, got %v", *p.ReferredBy)
	}
}

func TestService_RegisterValidation(t *testing.T) {
	dir := newFakeDirectory()
	svc := NewService(dir, "test-secret")

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:       "alice@example.com",
		Password:    "short",
		DisplayName: "Alice Partner",
	})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:       "",
		Password:    "strongpassword",
		DisplayName: "",
	}); err == nil {
		t.Fatal("expected validation error for missing fields")
	}
}

func TestService_DuplicateEmail(t *testing.T) {
	dir := newFakeDirectory()
	svc := NewService(dir, "test-secret")

	req := RegisterRequest{
		Email:       "alice@example.com",
		Password:    "strongpassword",
		DisplayName: "Alice Partner",
	}
	if _, err := svc.Register(context.Background(), req); err != nil {
		t.Fatalf("first register failed: %v", err)
	}

	if _, err := svc.Register(context.Background(), req); !errors.Is(err, partner.ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestService_LoginInvalidCredentials(t *testing.T) {
	dir := newFakeDirectory()
	svc := NewService(dir, "test-secret")

	_, err := svc.Login(context.Background(), LoginRequest{
		Email:    "unknown@example.com",
		Password: "irrelevant",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

type fakeDirectory struct {
	byEmail map[string]partner.Partner
	byID    map[string]partner.Partner
	byCode  map[string]partner.Partner
	nextID  int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		byEmail: make(map[string]partner.Partner),
		byID:    make(map[string]partner.Partner),
		byCode:  make(map[string]partner.Partner),
		nextID:  1,
	}
}

func (f *fakeDirectory) Register(ctx context.Context, params partner.RegisterParams) (partner.Partner, error) {
	if _, exists := f.byEmail[strings.ToLower(params.Email)]; exists {
		return partner.Partner{}, partner.ErrDuplicateEmail
	}

	id := fmt.Sprintf("partner-%d", f.nextID)
	code := fmt.Sprintf("CODE%04d", f.nextID)
	f.nextID++
	role := params.Role
	if role == "" {
		role = partner.RolePartner
	}

	p := partner.Partner{
		ID:           id,
		Email:        params.Email,
		DisplayName:  params.DisplayName,
		PasswordHash: params.PasswordHash,
		PartnerCode:  code,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	f.store(p)
	return p, nil
}

func (f *fakeDirectory) GetByEmail(ctx context.Context, email string) (partner.Partner, error) {
	p, ok := f.byEmail[strings.ToLower(email)]
	if !ok {
		return partner.Partner{}, partner.ErrNotFound
	}
	return p, nil
}

func (f *fakeDirectory) GetByID(ctx context.Context, id string) (partner.Partner, error) {
	p, ok := f.byID[id]
	if !ok {
		return partner.Partner{}, partner.ErrNotFound
	}
	return p, nil
}

func (f *fakeDirectory) AttachReferrer(ctx context.Context, partnerID, upstreamCode string) (partner.Partner, error) {
	p, ok := f.byID[partnerID]
	if !ok {
		return partner.Partner{}, partner.ErrNotFound
	}
	if p.ReferredBy != nil {
		return partner.Partner{}, partner.ErrReferrerImmutable
	}
	if _, ok := f.byCode[upstreamCode]; !ok {
		return partner.Partner{}, partner.ErrUnknownReferrer
	}
	if p.PartnerCode == upstreamCode {
		return partner.Partner{}, partner.ErrSelfReferral
	}
	p.ReferredBy = &upstreamCode
	f.store(p)
	return p, nil
}

func (f *fakeDirectory) store(p partner.Partner) {
	f.byEmail[strings.ToLower(p.Email)] = p
	f.byID[p.ID] = p
	f.byCode[p.PartnerCode] = p
}
