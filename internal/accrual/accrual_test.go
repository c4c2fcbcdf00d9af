package accrual

import (
	"testing"
	"time"

	"github.com/akulagin/invest-card-service/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

// month is the average month used by the accrual model (365.25/12 days).
const month = 730*time.Hour + 30*time.Minute

func TestAccruedZeroAtStart(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	principal := decimal.NewFromInt(5_000_000)
	rate := decimal.NewFromInt(2)

	got := Accrued(principal, start, start, rate)
	assert.True(t, got.IsZero(), "accrual at the start date must be zero, got %s", got)
}

func TestAccruedZeroBeforeStart(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	asOf := start.AddDate(0, -1, 0)

	got := Accrued(decimal.NewFromInt(1_000_000), start, asOf, decimal.NewFromInt(3))
	assert.True(t, got.IsZero(), "accrual before the start date must be zero, got %s", got)
}

func TestAccruedThreeMonths(t *testing.T) {
	// Principal 10,000,000 at 2% monthly, exactly 3 months in: 600,000.
	start := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	asOf := start.Add(3 * month)
	principal := decimal.NewFromInt(10_000_000)
	rate := decimal.NewFromInt(2)

	accrued := Accrued(principal, start, asOf, rate)
	assert.True(t, accrued.Equal(decimal.NewFromInt(600_000)),
		"want 600000, got %s", accrued)

	due := DueProfit(accrued, decimal.Zero)
	assert.True(t, due.Equal(decimal.NewFromInt(600_000)), "want 600000 due, got %s", due)
}

func TestAccruedMonotonic(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	principal := decimal.NewFromInt(1_000_000)
	rate := decimal.NewFromFloat(1.5)

	prev := decimal.Zero
	for days := 0; days <= 365; days += 7 {
		got := Accrued(principal, start, start.AddDate(0, 0, days), rate)
		assert.True(t, got.GreaterThanOrEqual(prev),
			"accrual must not decrease: day %d gave %s after %s", days, got, prev)
		prev = got
	}
}

func TestDueProfit(t *testing.T) {
	tests := []struct {
		name    string
		accrued int64
		paid    int64
		want    int64
	}{
		{"nothing paid", 600_000, 0, 600_000},
		{"partially paid", 600_000, 200_000, 400_000},
		{"fully paid", 600_000, 600_000, 0},
		{"overpaid floors at zero", 600_000, 900_000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DueProfit(decimal.NewFromInt(tt.accrued), decimal.NewFromInt(tt.paid))
			assert.True(t, got.Equal(decimal.NewFromInt(tt.want)), "want %d, got %s", tt.want, got)
		})
	}
}

func TestInvestorFinancials(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	asOf := start.Add(2 * month)

	contracts := []models.Contract{
		{
			ID:          "c1",
			Principal:   decimal.NewFromInt(10_000_000),
			MonthlyRate: decimal.NewFromInt(2),
			StartDate:   start,
			Status:      models.ContractActive,
		},
		{
			// Closed contract must not contribute.
			ID:          "c2",
			Principal:   decimal.NewFromInt(99_000_000),
			MonthlyRate: decimal.NewFromInt(2),
			StartDate:   start,
			Status:      models.ContractClosed,
		},
	}
	operations := []models.Operation{
		{ID: "o1", Type: models.OperationProfit, Status: models.OperationActive, Amount: decimal.NewFromInt(150_000), Date: asOf},
		{ID: "o2", Type: models.OperationProfit, Status: models.OperationCancelled, Amount: decimal.NewFromInt(999_999), Date: asOf},
		{ID: "o3", Type: models.OperationDeposit, Status: models.OperationActive, Amount: decimal.NewFromInt(500_000), Date: asOf},
	}

	summary := InvestorFinancials(contracts, operations, asOf)

	assert.True(t, summary.TotalPrincipal.Equal(decimal.NewFromInt(10_000_000)), "principal: %s", summary.TotalPrincipal)
	assert.True(t, summary.TotalAccrued.Equal(decimal.NewFromInt(400_000)), "accrued: %s", summary.TotalAccrued)
	assert.True(t, summary.TotalPaid.Equal(decimal.NewFromInt(150_000)), "paid: %s", summary.TotalPaid)
	assert.True(t, summary.TotalDue.Equal(decimal.NewFromInt(250_000)), "due: %s", summary.TotalDue)
}

func TestInvestorFinancialsEmpty(t *testing.T) {
	summary := InvestorFinancials(nil, nil, time.Now())
	assert.True(t, summary.TotalPrincipal.IsZero())
	assert.True(t, summary.TotalAccrued.IsZero())
	assert.True(t, summary.TotalPaid.IsZero())
	assert.True(t, summary.TotalDue.IsZero())
}
