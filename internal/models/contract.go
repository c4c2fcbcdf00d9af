package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ContractStatus is the state of an investment contract in the external ledger.
type ContractStatus string

const (
	ContractActive ContractStatus = "active"
	ContractClosed ContractStatus = "closed"
)

// Contract is an investment contract as reported by the external
// ledger. Only active contracts accrue profit.
type Contract struct {
	ID          string          `json:"id"`
	InvestorID  string          `json:"investor_id"`
	Principal   decimal.Decimal `json:"principal"`
	MonthlyRate decimal.Decimal `json:"monthly_rate"`
	StartDate   time.Time       `json:"start_date"`
	Status      ContractStatus  `json:"status"`
}

// OperationType classifies ledger operations.
type OperationType string

const (
	OperationProfit     OperationType = "profit"
	OperationDeposit    OperationType = "deposit"
	OperationWithdrawal OperationType = "withdrawal"
)

// OperationStatus is the state of a ledger operation. Cancelled
// operations do not count towards paid totals.
type OperationStatus string

const (
	OperationActive    OperationStatus = "active"
	OperationCancelled OperationStatus = "cancelled"
)

// Operation is a payment or withdrawal recorded in the external ledger.
type Operation struct {
	ID         string          `json:"id"`
	InvestorID string          `json:"investor_id"`
	Type       OperationType   `json:"type"`
	Amount     decimal.Decimal `json:"amount"`
	Status     OperationStatus `json:"status"`
	Date       time.Time       `json:"date"`
}

// FinancialSummary aggregates an investor's balances as of a point in time.
type FinancialSummary struct {
	TotalPrincipal decimal.Decimal `json:"total_principal"`
	TotalAccrued   decimal.Decimal `json:"total_accrued"`
	TotalPaid      decimal.Decimal `json:"total_paid"`
	TotalDue       decimal.Decimal `json:"total_due"`
}
