package partner

import "time"

type Role string

const (
	RolePartner Role = "partner"
	RoleAdmin   Role = "admin"
)

// Partner is the domain representation of a registered affiliate.
// It mirrors the partners table and carries no JSON annotations so it can be
// reused by different presentation layers.
type Partner struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	PartnerCode  string
	ReferredBy   *string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DownlineEntry is a partner recruited by an upstream partner, together with
// its current click tallies.
type DownlineEntry struct {
	Partner      Partner
	DirectClicks int
	BonusClicks  int
}
