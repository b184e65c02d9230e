package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"partnerflow/auth"
	"partnerflow/click"
	"partnerflow/earnings"
	"partnerflow/link"
	"partnerflow/message"
	"partnerflow/partner"
	"partnerflow/project"
	"partnerflow/withdrawal"
)

type authenticator interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*partner.Partner, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (string, partner.Role, error)
}

type partnerDirectory interface {
	GetByID(ctx context.Context, id string) (partner.Partner, error)
	GetByCode(ctx context.Context, code string) (partner.Partner, error)
	ListDownline(ctx context.Context, upstream partner.Partner) ([]partner.DownlineEntry, error)
	AttachReferrer(ctx context.Context, partnerID, upstreamCode string) (partner.Partner, error)
}

type linkService interface {
	Resolve(ctx context.Context, shortCode string) (link.Resolution, error)
	EnsureForPartner(ctx context.Context, partnerID, partnerCode string) (link.ShortLink, error)
}

type clickService interface {
	Register(ctx context.Context, params click.RegisterParams) (click.RegisterResult, error)
	Reconcile(ctx context.Context, upstreamID, upstreamCode string) (click.ReconcileResult, error)
	TotalsFor(ctx context.Context, partnerID string) (click.Totals, error)
	MaturedCount(ctx context.Context, partnerID string, hold time.Duration) (int, error)
}

type withdrawalService interface {
	Create(ctx context.Context, params withdrawal.CreateParams) (withdrawal.Request, error)
	List(ctx context.Context, partnerID string) ([]withdrawal.Request, error)
	Review(ctx context.Context, params withdrawal.ReviewParams) (withdrawal.Request, error)
}

type messageStore interface {
	List(ctx context.Context, partnerID string) ([]message.Record, error)
	Create(ctx context.Context, partnerID string, sender message.SenderRole, body string) (message.Record, error)
	MarkRead(ctx context.Context, partnerID, messageID string) (message.Record, error)
}

type projectService interface {
	List(ctx context.Context, partnerID string) ([]project.Record, error)
	Create(ctx context.Context, title, details string) (project.Record, error)
	Assign(ctx context.Context, projectID, partnerID string) (project.Record, error)
}

// Server routes HTTP requests to the domain services.
type Server struct {
	logger      *zap.Logger
	authService authenticator
	partners    partnerDirectory
	links       linkService
	clicks      clickService
	withdrawals withdrawalService
	messages    messageStore
	projects    projectService
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/auth/register", s.handleRegister)
	mux.HandleFunc("/api/auth/login", s.handleLogin)

	mux.Handle("/api/partners/me", s.requireAuth(http.HandlerFunc(s.handleMe)))
	mux.Handle("/api/partners/me/link", s.requireAuth(http.HandlerFunc(s.handleMyLink)))
	mux.Handle("/api/partners/me/downline", s.requireAuth(http.HandlerFunc(s.handleDownline)))
	mux.Handle("/api/partners/me/referrer", s.requireAuth(http.HandlerFunc(s.handleAttachReferrer)))

	mux.Handle("/api/withdrawals", s.requireAuth(http.HandlerFunc(s.handleWithdrawals)))
	mux.Handle("/api/withdrawals/", s.requireAuth(http.HandlerFunc(s.handleWithdrawalDetail)))

	mux.Handle("/api/messages", s.requireAuth(http.HandlerFunc(s.handleMessages)))
	mux.Handle("/api/messages/", s.requireAuth(http.HandlerFunc(s.handleMessageDetail)))

	mux.Handle("/api/projects", s.requireAuth(http.HandlerFunc(s.handleProjects)))
	mux.Handle("/api/projects/", s.requireAuth(http.HandlerFunc(s.handleProjectDetail)))

	// the redirect and click-tracking entry points share the root
	mux.HandleFunc("/", s.handleRoot)

	return s.withRequestLog(withCORS(mux))
}

// handleRoot fans out the two public entry points: GET /<short-code> performs
// the redirect chain, POST / records a click for a referral code.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		s.handleRedirect(w, r)
	case http.MethodPost:
		s.handleTrackClick(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleRedirect(w http.ResponseWriter, r *http.Request) {
	code := strings.Trim(r.URL.Path, "/")
	if code == "" {
		writeError(w, http.StatusBadRequest, "No short code provided")
		return
	}
	if strings.Contains(code, "/") {
		writeError(w, http.StatusNotFound, "Invalid short code")
		return
	}

	res, err := s.links.Resolve(r.Context(), code)
	if err != nil {
		if errors.Is(err, link.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Invalid short code")
			return
		}
		s.logger.Error("resolve short code", zap.String("code", code), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if _, err := s.clicks.Register(r.Context(), click.RegisterParams{
		BeneficiaryID: res.OwnerPartnerID,
		IPAddress:     clientIP(r),
		UserAgent:     userAgent(r),
	}); err != nil {
		s.logger.Error("register click", zap.String("code", code), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	http.Redirect(w, r, res.DestinationURL, http.StatusFound)
}

func (s *Server) handleTrackClick(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ReferralCode string `json:"referralCode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.ReferralCode) == "" {
		writeError(w, http.StatusBadRequest, "Referral code is required")
		return
	}

	p, err := s.partners.GetByCode(r.Context(), body.ReferralCode)
	if err != nil {
		if errors.Is(err, partner.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Invalid referral code")
			return
		}
		s.logger.Error("lookup referral code", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	result, err := s.clicks.Register(r.Context(), click.RegisterParams{
		BeneficiaryID: p.ID,
		IPAddress:     clientIP(r),
		UserAgent:     userAgent(r),
	})
	if err != nil {
		s.logger.Error("register tracked click", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if result.Suppressed {
		writeJSON(w, http.StatusOK, map[string]any{"message": "Click already recorded recently"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Click registered successfully"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := s.authService.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, partner.ErrDuplicateEmail):
			writeError(w, http.StatusConflict, "email already registered")
		default:
			s.logger.Error("register partner", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, toPartnerResponse(*p))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		s.logger.Error("login", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:   result.Token,
		Partner: toPartnerResponse(result.Partner),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	partnerID := partnerIDFrom(r.Context())
	p, err := s.partners.GetByID(r.Context(), partnerID)
	if err != nil {
		if errors.Is(err, partner.ErrNotFound) {
			writeError(w, http.StatusNotFound, "partner not found")
			return
		}
		s.logger.Error("load partner", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	totals, err := s.clicks.TotalsFor(r.Context(), partnerID)
	if err != nil {
		s.logger.Error("load click totals", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	matured, err := s.clicks.MaturedCount(r.Context(), partnerID, earnings.HoldPeriod)
	if err != nil {
		s.logger.Error("load matured clicks", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	summary := earnings.Summarize(totals.Direct, totals.Bonus, matured)
	writeJSON(w, http.StatusOK, meResponse{
		Partner:        toPartnerResponse(p),
		DirectClicks:   summary.DirectClicks,
		BonusClicks:    summary.BonusClicks,
		TotalEarnings:  summary.Total.StringFixed(2),
		AvailableFunds: summary.Available.StringFixed(2),
	})
}

func (s *Server) handleMyLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	partnerID := partnerIDFrom(r.Context())
	p, err := s.partners.GetByID(r.Context(), partnerID)
	if err != nil {
		writeError(w, http.StatusNotFound, "partner not found")
		return
	}

	l, err := s.links.EnsureForPartner(r.Context(), p.ID, p.PartnerCode)
	if err != nil {
		s.logger.Error("ensure short link", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, linkResponse{
		ShortCode:      l.ShortCode,
		DestinationURL: l.DestinationURL,
		CreatedAt:      l.CreatedAt.Format(time.RFC3339),
	})
}

func (s *Server) handleDownline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	partnerID := partnerIDFrom(r.Context())
	p, err := s.partners.GetByID(r.Context(), partnerID)
	if err != nil {
		writeError(w, http.StatusNotFound, "partner not found")
		return
	}

	// the sweep runs on downline views, never on the redirect path
	patched, err := s.clicks.Reconcile(r.Context(), p.ID, p.PartnerCode)
	if err != nil {
		s.logger.Error("reconcile downline", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	entries, err := s.partners.ListDownline(r.Context(), p)
	if err != nil {
		s.logger.Error("list downline", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	items := make([]downlineResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, downlineResponse{
			PartnerCode:  e.Partner.PartnerCode,
			DisplayName:  e.Partner.DisplayName,
			DirectClicks: e.DirectClicks,
			BonusClicks:  e.BonusClicks,
			JoinedAt:     e.Partner.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "patched": patched.Patched})
}

func (s *Server) handleAttachReferrer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		ReferrerCode string `json:"referrer_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := s.partners.AttachReferrer(r.Context(), partnerIDFrom(r.Context()), body.ReferrerCode)
	if err != nil {
		switch {
		case errors.Is(err, partner.ErrReferrerImmutable):
			writeError(w, http.StatusConflict, "referrer already set")
		case errors.Is(err, partner.ErrUnknownReferrer):
			writeError(w, http.StatusNotFound, "unknown referrer code")
		case errors.Is(err, partner.ErrSelfReferral), errors.Is(err, partner.ErrReferrerCycle):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("attach referrer", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, toPartnerResponse(p))
}

func (s *Server) handleWithdrawals(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		scope := partnerIDFrom(r.Context())
		if roleFrom(r.Context()) == partner.RoleAdmin {
			scope = ""
		}
		items, err := s.withdrawals.List(r.Context(), scope)
		if err != nil {
			s.logger.Error("list withdrawals", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		out := make([]withdrawalResponse, 0, len(items))
		for _, item := range items {
			out = append(out, toWithdrawalResponse(item))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": out})
	case http.MethodPost:
		var body struct {
			Amount      string `json:"amount"`
			Method      string `json:"method"`
			Destination string `json:"destination"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		amount, err := decimal.NewFromString(body.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid amount")
			return
		}
		req, err := s.withdrawals.Create(r.Context(), withdrawal.CreateParams{
			PartnerID:   partnerIDFrom(r.Context()),
			Amount:      amount,
			Method:      withdrawal.Method(body.Method),
			Destination: body.Destination,
		})
		if err != nil {
			switch {
			case errors.Is(err, withdrawal.ErrInvalidAmount),
				errors.Is(err, withdrawal.ErrInvalidMethod),
				errors.Is(err, withdrawal.ErrInsufficientBalance):
				writeError(w, http.StatusBadRequest, err.Error())
			default:
				s.logger.Error("create withdrawal", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
			return
		}
		writeJSON(w, http.StatusCreated, toWithdrawalResponse(req))
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleWithdrawalDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if roleFrom(r.Context()) != partner.RoleAdmin {
		writeError(w, http.StatusForbidden, "admin only")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/withdrawals/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "withdrawal id required")
		return
	}

	var body struct {
		Approve bool    `json:"approve"`
		Message *string `json:"message,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req, err := s.withdrawals.Review(r.Context(), withdrawal.ReviewParams{
		RequestID:    id,
		Approve:      body.Approve,
		AdminMessage: body.Message,
	})
	if err != nil {
		switch {
		case errors.Is(err, withdrawal.ErrNotFound):
			writeError(w, http.StatusNotFound, "withdrawal not found")
		case errors.Is(err, withdrawal.ErrTerminal):
			writeError(w, http.StatusConflict, "withdrawal already decided")
		default:
			s.logger.Error("review withdrawal", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, toWithdrawalResponse(req))
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	partnerID := partnerIDFrom(r.Context())

	switch r.Method {
	case http.MethodGet:
		items, err := s.messages.List(r.Context(), partnerID)
		if err != nil {
			s.logger.Error("list messages", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		out := make([]messageResponse, 0, len(items))
		for _, item := range items {
			out = append(out, toMessageResponse(item))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": out})
	case http.MethodPost:
		var body struct {
			PartnerID string `json:"partner_id,omitempty"`
			Body      string `json:"body"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		sender := message.SenderPartner
		target := partnerID
		if roleFrom(r.Context()) == partner.RoleAdmin && body.PartnerID != "" {
			sender = message.SenderAdmin
			target = body.PartnerID
		}

		rec, err := s.messages.Create(r.Context(), target, sender, body.Body)
		if err != nil {
			if errors.Is(err, message.ErrEmptyBody) {
				writeError(w, http.StatusBadRequest, "message body required")
				return
			}
			s.logger.Error("create message", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		writeJSON(w, http.StatusCreated, toMessageResponse(rec))
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleMessageDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/messages/")
	id, action, found := strings.Cut(rest, "/")
	if !found || action != "read" || id == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	rec, err := s.messages.MarkRead(r.Context(), partnerIDFrom(r.Context()), id)
	if err != nil {
		if errors.Is(err, message.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		s.logger.Error("mark message read", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, toMessageResponse(rec))
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		scope := partnerIDFrom(r.Context())
		if roleFrom(r.Context()) == partner.RoleAdmin {
			scope = ""
		}
		items, err := s.projects.List(r.Context(), scope)
		if err != nil {
			s.logger.Error("list projects", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		out := make([]projectResponse, 0, len(items))
		for _, item := range items {
			out = append(out, toProjectResponse(item))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": out})
	case http.MethodPost:
		if roleFrom(r.Context()) != partner.RoleAdmin {
			writeError(w, http.StatusForbidden, "admin only")
			return
		}
		var body struct {
			Title   string `json:"title"`
			Details string `json:"details"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		rec, err := s.projects.Create(r.Context(), body.Title, body.Details)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, toProjectResponse(rec))
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleProjectDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if roleFrom(r.Context()) != partner.RoleAdmin {
		writeError(w, http.StatusForbidden, "admin only")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/projects/")
	id, action, found := strings.Cut(rest, "/")
	if !found || action != "assign" || id == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	var body struct {
		PartnerID string `json:"partner_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.PartnerID == "" {
		writeError(w, http.StatusBadRequest, "partner_id required")
		return
	}

	rec, err := s.projects.Assign(r.Context(), id, body.PartnerID)
	if err != nil {
		switch {
		case errors.Is(err, project.ErrNotFound):
			writeError(w, http.StatusNotFound, "project not found")
		case errors.Is(err, project.ErrUnknownPartner):
			writeError(w, http.StatusBadRequest, "unknown partner")
		default:
			s.logger.Error("assign project", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}
	writeJSON(w, http.StatusOK, toProjectResponse(rec))
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("x-forwarded-for"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	if real := r.Header.Get("x-real-ip"); real != "" {
		return real
	}
	return "unknown"
}

func userAgent(r *http.Request) string {
	if ua := r.Header.Get("user-agent"); ua != "" {
		return ua
	}
	return "unknown"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
