// Package accrual computes profit accrual and due balances. All
// functions are pure and safe for concurrent use; amounts stay in
// decimal form through the whole chain, rounding is left to the
// presentation layer.
package accrual

import (
	"time"

	"github.com/akulagin/invest-card-service/internal/models"
	"github.com/shopspring/decimal"
)

// monthHours is the average month length (365.25 days / 12) in hours.
// Elapsed time is expressed in fractional months against this constant
// rather than calendar month differences.
var monthHours = decimal.NewFromFloat(730.5)

var hundred = decimal.NewFromInt(100)

// MonthsElapsed returns the real elapsed time between start and asOf in
// fractional months. Zero when asOf is not after start.
func MonthsElapsed(start, asOf time.Time) decimal.Decimal {
	if !asOf.After(start) {
		return decimal.Zero
	}
	hours := decimal.NewFromFloat(asOf.Sub(start).Hours())
	return hours.Div(monthHours)
}

// Accrued computes linear profit accrual:
// principal * (monthlyRatePercent / 100) * months elapsed.
// The result is zero for evaluation dates before the start date.
func Accrued(principal decimal.Decimal, start, asOf time.Time, monthlyRatePercent decimal.Decimal) decimal.Decimal {
	months := MonthsElapsed(start, asOf)
	if months.IsZero() {
		return decimal.Zero
	}
	return principal.Mul(monthlyRatePercent.Div(hundred)).Mul(months)
}

// DueProfit returns accrued minus paid, floored at zero. Overpayment is
// absorbed silently rather than reported as a negative due.
func DueProfit(accrued, paid decimal.Decimal) decimal.Decimal {
	due := accrued.Sub(paid)
	if due.IsNegative() {
		return decimal.Zero
	}
	return due
}

// InvestorFinancials aggregates balances across an investor's contracts
// and ledger operations as of the given date. Only active contracts
// accrue; only active profit operations count as paid. The aggregate is
// a function of asOf and must be recomputed on demand, never served
// from a stale cache.
func InvestorFinancials(contracts []models.Contract, operations []models.Operation, asOf time.Time) models.FinancialSummary {
	summary := models.FinancialSummary{
		TotalPrincipal: decimal.Zero,
		TotalAccrued:   decimal.Zero,
		TotalPaid:      decimal.Zero,
		TotalDue:       decimal.Zero,
	}

	for _, contract := range contracts {
		if contract.Status != models.ContractActive {
			continue
		}
		summary.TotalPrincipal = summary.TotalPrincipal.Add(contract.Principal)
		summary.TotalAccrued = summary.TotalAccrued.Add(
			Accrued(contract.Principal, contract.StartDate, asOf, contract.MonthlyRate))
	}

	for _, op := range operations {
		if op.Type != models.OperationProfit || op.Status != models.OperationActive {
			continue
		}
		summary.TotalPaid = summary.TotalPaid.Add(op.Amount)
	}

	summary.TotalDue = DueProfit(summary.TotalAccrued, summary.TotalPaid)
	return summary
}
