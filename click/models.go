package click

import "time"

type Kind string

const (
	// KindDirect credits the partner whose own link was visited.
	KindDirect Kind = "direct"
	// KindBonus credits an upstream referrer for a downline's direct click.
	KindBonus Kind = "bonus"
)

// SuppressionWindow is how far back the duplicate suppressor looks for an
// existing direct click from the same origin address.
const SuppressionWindow = 24 * time.Hour

// BonusPerDirect is the deterministic crediting rule: the upstream referrer is
// owed one bonus click per five of a downline's direct clicks, i.e.
// floor(direct * 0.20), rounding down.
const BonusPerDirect = 5

// Click is an immutable append-only attribution event.
type Click struct {
	ID              string
	PartnerID       string
	Kind            Kind
	SourcePartnerID *string
	IPAddress       string
	UserAgent       string
	CreatedAt       time.Time
}

// Totals bundles a partner's click tallies by kind.
type Totals struct {
	Direct int
	Bonus  int
}

// RegisterResult reports what the click-registration chain did.
type RegisterResult struct {
	Suppressed    bool
	Click         Click
	BonusCredited int
}

// ReconcileResult reports how many synthetic bonus records a sweep inserted.
type ReconcileResult struct {
	Patched int
}
