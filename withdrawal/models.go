package withdrawal

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status represents the lifecycle of a withdrawal request. Both approved and
// rejected are terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Method is a supported payout channel.
type Method string

const (
	MethodPaypal       Method = "paypal"
	MethodBankTransfer Method = "bank_transfer"
	MethodCrypto       Method = "crypto"
)

// Request mirrors the withdrawal_requests table.
type Request struct {
	ID           string
	PartnerID    string
	Amount       decimal.Decimal
	Method       Method
	Destination  string
	Status       Status
	AdminMessage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func validMethod(m Method) bool {
	switch m {
	case MethodPaypal, MethodBankTransfer, MethodCrypto:
		return true
	default:
		return false
	}
}
