// Package earnings derives monetary balances from click tallies. Nothing here
// is stored: every click is worth a fixed rate regardless of kind, and the
// withdrawable portion is whatever has aged past the hold.
package earnings

import (
	"time"

	"github.com/shopspring/decimal"
)

// RatePerClick is the fixed value of one click record, direct or bonus.
var RatePerClick = decimal.NewFromFloat(0.10)

// HoldPeriod is how long a click's earnings stay locked before they become
// withdrawable.
const HoldPeriod = 30 * 24 * time.Hour

// Summary is a partner's derived earnings breakdown.
type Summary struct {
	DirectClicks int
	BonusClicks  int
	Total        decimal.Decimal
	Available    decimal.Decimal
}

// Total returns the earnings for the given click count.
func Total(clicks int) decimal.Decimal {
	return RatePerClick.Mul(decimal.NewFromInt(int64(clicks)))
}

// Summarize derives a partner's earnings from total and matured click counts.
// maturedClicks is the number of clicks older than HoldPeriod; it is clamped
// to the total so a stale tally can never report more available than earned.
func Summarize(directClicks, bonusClicks, maturedClicks int) Summary {
	total := directClicks + bonusClicks
	if maturedClicks > total {
		maturedClicks = total
	}
	if maturedClicks < 0 {
		maturedClicks = 0
	}
	return Summary{
		DirectClicks: directClicks,
		BonusClicks:  bonusClicks,
		Total:        Total(total),
		Available:    Total(maturedClicks),
	}
}
