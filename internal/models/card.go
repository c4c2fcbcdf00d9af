package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CardStatus is the stored lifecycle state of a card. Expiry is not a
// stored status; see Card.IsExpired.
type CardStatus string

const (
	StatusActive    CardStatus = "active"
	StatusSuspended CardStatus = "suspended"
	StatusDeleted   CardStatus = "deleted"
)

// CardTier is a cosmetic classification and has no effect on financial logic.
type CardTier string

const (
	TierStandard CardTier = "standard"
	TierGold     CardTier = "gold"
	TierPlatinum CardTier = "platinum"
)

// RecentOperationsMax bounds the denormalized operations cache on a card.
const RecentOperationsMax = 10

// Card represents an investor card together with its denormalized
// financial summary. The summary fields are a display cache recomputed
// from the investor's contracts and operations; the ledger itself is
// owned elsewhere.
type Card struct {
	ID           string     `json:"id"`
	InvestorID   string     `json:"investor_id"`
	Number       string     `json:"number"`
	SecurityCode string     `json:"security_code"`
	PIN          string     `json:"pin,omitempty"`
	IssueDate    time.Time  `json:"issue_date"`
	ExpiryDate   time.Time  `json:"expiry_date"`
	Status       CardStatus `json:"status"`
	Tier         CardTier   `json:"tier"`
	UpdatedAt    time.Time  `json:"updated_at"`

	TotalPrincipal decimal.Decimal `json:"total_principal"`
	TotalAccrued   decimal.Decimal `json:"total_accrued"`
	TotalPaid      decimal.Decimal `json:"total_paid"`
	TotalDue       decimal.Decimal `json:"total_due"`

	RecentOperations []Operation `json:"recent_operations,omitempty"`
}

// IsExpired reports whether the card has passed its expiry date. An
// expired card keeps its stored status but must be treated as unusable
// until renewed.
func (c *Card) IsExpired(now time.Time) bool {
	return now.After(c.ExpiryDate)
}

// MaskedNumber returns the card number with all but the last four
// digits hidden, e.g. "**** **** **** 1234".
func (c *Card) MaskedNumber() string {
	if len(c.Number) < 4 {
		return "****"
	}
	return "**** **** **** " + c.Number[len(c.Number)-4:]
}
