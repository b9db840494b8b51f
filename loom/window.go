/*
window.go - Window computation and repeat-rule expansion

PURPOSE:
  Pure date math for the loom window. Given "today" and a window size in
  weeks, computes the active range; given a program and a range, expands the
  program's repeat rule into the concrete dates it runs on.

DESIGN:
  Rule expansion is a generator over the range with an injected per-pattern
  predicate, so the expansion logic is unit-testable without a database.
  Each call produces a fresh pass; there is no shared iterator state.

REPEAT PATTERNS:
  none:        start date only, if inside the range
  weekly:      every range date whose weekday is in the program's day set
  fortnightly: weekly, on even weeks counted from the program start date
  monthly:     weekly, on the start date's day-of-month only
*/
package loom

// Window is the active loom range: [Start, End).
type Window struct {
	Start Date `json:"start"`
	End   Date `json:"end"`
}

// ComputeWindow returns the window of weekCount weeks beginning at today.
func ComputeWindow(today Date, weekCount int) (Window, error) {
	if weekCount < MinWindowWeeks || weekCount > MaxWindowWeeks {
		return Window{}, &WindowError{Weeks: weekCount}
	}
	return Window{Start: today, End: today.AddWeeks(weekCount)}, nil
}

// Contains reports whether the date falls inside the half-open window.
func (w Window) Contains(d Date) bool {
	return d.AfterOrEqual(w.Start) && d.Before(w.End)
}

// DatePredicate decides whether a program runs on a given date.
type DatePredicate func(Date) bool

// RulePredicate builds the predicate for a program's repeat pattern. The
// predicate assumes the date is already inside the program's own start/end
// range; ExpandRule applies that bound.
func RulePredicate(p Program) DatePredicate {
	switch p.Repeat {
	case RepeatNone:
		return func(d Date) bool { return d.Equal(p.StartDate) }

	case RepeatWeekly:
		return func(d Date) bool { return p.RunsOn(d.Weekday()) }

	case RepeatFortnightly:
		return func(d Date) bool {
			if !p.RunsOn(d.Weekday()) {
				return false
			}
			days := DaysBetween(p.StartDate, d)
			if days < 0 {
				return false
			}
			return (days/7)%2 == 0
		}

	case RepeatMonthly:
		return func(d Date) bool {
			return p.RunsOn(d.Weekday()) && d.Day() == p.StartDate.Day()
		}

	default:
		return func(Date) bool { return false }
	}
}

// ExpandRule yields every date in [rangeStart, rangeEnd) the program runs
// on, bounded by the program's own start/end dates. The result is a finite,
// freshly-computed slice on every call.
func ExpandRule(p Program, rangeStart, rangeEnd Date) []Date {
	matches := RulePredicate(p)

	var dates []Date
	for d := rangeStart; d.Before(rangeEnd); d = d.AddDays(1) {
		if d.Before(p.StartDate) {
			continue
		}
		if p.EndDate != nil && d.After(*p.EndDate) {
			break
		}
		if matches(d) {
			dates = append(dates, d)
		}
	}
	return dates
}
