package link

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/url"
)

const shortCodeAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

const shortCodeLength = 6

// Service mints and resolves short links.
type Service struct {
	repo    Repository
	baseURL string
	genCode func() (string, error)
}

// NewService builds a Service. baseURL is the landing destination that partner
// links point at, e.g. "https://example.com/landing".
func NewService(repo Repository, baseURL string) *Service {
	return &Service{
		repo:    repo,
		baseURL: baseURL,
		genCode: newShortCode,
	}
}

// WithCodeGenerator overrides short-code generation, for tests.
func (s *Service) WithCodeGenerator(gen func() (string, error)) *Service {
	s.genCode = gen
	return s
}

// Resolve maps a short code to its owner and destination. Pure lookup.
func (s *Service) Resolve(ctx context.Context, shortCode string) (Resolution, error) {
	if shortCode == "" {
		return Resolution{}, ErrNotFound
	}
	return s.repo.Resolve(ctx, shortCode)
}

// EnsureForPartner returns the partner's referral short link, creating it on
// first use. The (partner, destination) pair is unique so repeated calls hand
// back the same mapping instead of minting duplicates.
func (s *Service) EnsureForPartner(ctx context.Context, partnerID, partnerCode string) (ShortLink, error) {
	if partnerID == "" || partnerCode == "" {
		return ShortLink{}, fmt.Errorf("link: partner id and code required")
	}

	destination, err := s.destinationFor(partnerCode)
	if err != nil {
		return ShortLink{}, err
	}

	existing, err := s.repo.GetByDestination(ctx, partnerID, destination)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return ShortLink{}, err
	}

	for attempt := 0; attempt < 3; attempt++ {
		code, err := s.genCode()
		if err != nil {
			return ShortLink{}, fmt.Errorf("link: generate code: %w", err)
		}
		created, err := s.repo.Create(ctx, CreateParams{
			ShortCode:      code,
			DestinationURL: destination,
			PartnerID:      partnerID,
		})
		if errors.Is(err, ErrDuplicateCode) {
			// either a code collision or a concurrent first render won the
			// (partner, destination) uniqueness race; reuse if the latter
			if l, lookupErr := s.repo.GetByDestination(ctx, partnerID, destination); lookupErr == nil {
				return l, nil
			}
			continue
		}
		if err != nil {
			return ShortLink{}, err
		}
		return created, nil
	}
	return ShortLink{}, fmt.Errorf("link: exhausted short code attempts")
}

func (s *Service) destinationFor(partnerCode string) (string, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("link: parse base url: %w", err)
	}
	q := u.Query()
	q.Set("ref", partnerCode)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func newShortCode() (string, error) {
	buf := make([]byte, shortCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("link: read random: %w", err)
	}
	for i, b := range buf {
		buf[i] = shortCodeAlphabet[int(b)%len(shortCodeAlphabet)]
	}
	return string(buf), nil
}
