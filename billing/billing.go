/*
Package billing holds the money-bearing types consumed read-only by the
allocation engine: enrollment billing codes and the charge rules applied to
allocations and cancellations.

PURPOSE:
  Every enrollment carries one or more billing codes (support item code,
  hourly rate, hours). When a participant is allocated to an instance, the
  enrollment's primary code and rate are snapshotted onto the allocation so
  later rate changes never rewrite billing history.

CANCELLATION RULE:
  A short-notice cancellation remains billable at the planned rate; a
  normal (advance) cancellation bills nothing. This mirrors NDIS short-notice
  cancellation rules and is why allocations are mutated, never deleted.

DESIGN PRINCIPLES:
  - decimal.Decimal everywhere money appears; no floats
  - Charges are derived on read, never stored

SEE ALSO:
  - loom/types.go: Allocation snapshots Code fields at allocation time
*/
package billing

import "github.com/shopspring/decimal"

// Code is one billing line configured on an enrollment.
type Code struct {
	Code       string          `json:"code"`
	HourlyRate decimal.Decimal `json:"hourly_rate"`
	Hours      decimal.Decimal `json:"hours"`
}

// IsZero reports whether the code is unconfigured.
func (c Code) IsZero() bool {
	return c.Code == "" && c.HourlyRate.IsZero() && c.Hours.IsZero()
}

// LineItem is a derived charge for one allocation.
type LineItem struct {
	Code     string          `json:"code"`
	Rate     decimal.Decimal `json:"rate"`
	Hours    decimal.Decimal `json:"hours"`
	Amount   decimal.Decimal `json:"amount"`
	Billable bool            `json:"billable"`
}

// Charge computes the line for an allocation. Billable is decided by the
// caller (planned or short-notice cancelled allocations bill; normal
// cancellations do not).
func Charge(code string, rate, hours decimal.Decimal, billable bool) LineItem {
	li := LineItem{Code: code, Rate: rate, Hours: hours, Billable: billable}
	if billable {
		li.Amount = rate.Mul(hours)
	} else {
		li.Amount = decimal.Zero
	}
	return li
}

// Total sums the billable amounts of a set of lines.
func Total(lines []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, li := range lines {
		total = total.Add(li.Amount)
	}
	return total
}
