package billing_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/rabs/roster-engine/billing"
)

func TestCharge(t *testing.T) {
	rate := decimal.RequireFromString("65.47")
	hours := decimal.NewFromInt(6)

	// Billable: amount is rate * hours, exact.
	li := billing.Charge("04_104_0125_6_1", rate, hours, true)
	assert.True(t, li.Amount.Equal(decimal.RequireFromString("392.82")))
	assert.True(t, li.Billable)

	// Non-billable keeps the rate and hours visible but bills nothing.
	li = billing.Charge("04_104_0125_6_1", rate, hours, false)
	assert.True(t, li.Amount.IsZero())
	assert.True(t, li.Rate.Equal(rate))
	assert.True(t, li.Hours.Equal(hours))
}

func TestTotal(t *testing.T) {
	rate := decimal.RequireFromString("65.47")
	lines := []billing.LineItem{
		billing.Charge("a", rate, decimal.NewFromInt(6), true),
		billing.Charge("b", rate, decimal.NewFromInt(6), false),
		billing.Charge("c", decimal.RequireFromString("32.10"), decimal.RequireFromString("2.5"), true),
	}

	// 392.82 + 0 + 80.25
	assert.True(t, billing.Total(lines).Equal(decimal.RequireFromString("473.07")))

	assert.True(t, billing.Total(nil).IsZero())
}

func TestCodeIsZero(t *testing.T) {
	assert.True(t, billing.Code{}.IsZero())
	assert.False(t, billing.Code{Code: "04_104_0125_6_1"}.IsZero())
}
