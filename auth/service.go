package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"partnerflow/partner"
)

var (
	// ErrInvalidCredentials signals wrong email or password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = errors.New("auth: password must be at least 8 characters")
)

// PartnerDirectory is the slice of partner operations the auth layer needs.
type PartnerDirectory interface {
	Register(ctx context.Context, params partner.RegisterParams) (partner.Partner, error)
	GetByEmail(ctx context.Context, email string) (partner.Partner, error)
	GetByID(ctx context.Context, id string) (partner.Partner, error)
	AttachReferrer(ctx context.Context, partnerID, upstreamCode string) (partner.Partner, error)
}

// Service handles authentication business logic.
type Service struct {
	partners  PartnerDirectory
	jwtSecret []byte
}

// LoginResult bundles the token and domain partner returned after a successful login.
type LoginResult struct {
	Token   string
	Partner partner.Partner
}

// NewService creates a new authentication service.
func NewService(partners PartnerDirectory, jwtSecret string) *Service {
	return &Service{
		partners:  partners,
		jwtSecret: []byte(jwtSecret),
	}
}

// Register creates a new partner account and, when a referrer code is
// supplied, attaches the new partner to that upstream's downline.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*partner.Partner, error) {
	if len(req.Password) < 8 {
		return nil, ErrWeakPassword
	}
	if req.Email == "" || req.DisplayName == "" {
		return nil, fmt.Errorf("auth: email and display_name are required")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	p, err := s.partners.Register(ctx, partner.RegisterParams{
		Email:        req.Email,
		DisplayName:  req.DisplayName,
		PasswordHash: string(passwordHash),
		Role:         partner.RolePartner,
	})
	if err != nil {
		return nil, err
	}

	if code := strings.TrimSpace(req.ReferrerCode); code != "" {
		attached, err := s.partners.AttachReferrer(ctx, p.ID, code)
		if err != nil {
			// the account exists; an unusable referrer code only costs the edge
			if errors.Is(err, partner.ErrUnknownReferrer) || errors.Is(err, partner.ErrSelfReferral) {
				return &p, nil
			}
			return nil, err
		}
		p = attached
	}

	return &p, nil
}

// Login authenticates a partner and returns a JWT token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	p, err := s.partners.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, partner.ErrNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.generateToken(p.ID, p.Role)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: generate token: %w", err)
	}

	return LoginResult{
		Token:   token,
		Partner: p,
	}, nil
}

// GetPartnerByID retrieves partner information by ID.
func (s *Service) GetPartnerByID(ctx context.Context, partnerID string) (*partner.Partner, error) {
	p, err := s.partners.GetByID(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// VerifyToken validates a JWT token and returns the partner ID and role.
func (s *Service) VerifyToken(tokenString string) (string, partner.Role, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("auth: parse token: %w", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		partnerID, ok := claims["partner_id"].(string)
		if !ok {
			return "", "", fmt.Errorf("auth: invalid partner_id in token")
		}
		roleStr, ok := claims["role"].(string)
		if !ok {
			return "", "", fmt.Errorf("auth: invalid role in token")
		}
		role := partner.Role(roleStr)
		if role != partner.RolePartner && role != partner.RoleAdmin {
			return "", "", fmt.Errorf("auth: invalid role %q in token", roleStr)
		}
		return partnerID, role, nil
	}

	return "", "", fmt.Errorf("auth: invalid token")
}

// generateToken creates a JWT token for the partner.
func (s *Service) generateToken(partnerID string, role partner.Role) (string, error) {
	claims := jwt.MapClaims{
		"partner_id": partnerID,
		"role":       role,
		"exp":        time.Now().Add(24 * time.Hour).Unix(),
		"iat":        time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}
