// Package entitlement computes plan expiry dates. Everything here is
// pure: no storage, no clocks, no side effects.
package entitlement

import (
	"strings"
	"time"
)

// Entitlement dates are civil dates in Japan. Asia/Tokyo has no DST, so
// a fixed offset is exact and keeps the math independent of the host
// tzdata.
var JST = time.FixedZone("Asia/Tokyo", 9*60*60)

// PlanMonths maps a plan code from a checkout reference to its duration
// in whole months. The legacy "1m" code is recognized on the wire but
// deliberately grants no extension, so it maps to 0 like any unknown
// code.
func PlanMonths(code string) int {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "3m":
		return 3
	case "6m":
		return 6
	case "12m":
		return 12
	default:
		return 0
	}
}

// SplitReference splits a checkout client_reference_id of the form
// "<task_id>_<plan>" on the last underscore. A reference without an
// underscore is treated as a bare task id with no plan.
func SplitReference(ref string) (taskID, plan string) {
	s := strings.TrimSpace(ref)
	if s == "" {
		return "", ""
	}
	i := strings.LastIndex(s, "_")
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i+1:]
}

// AddMonths advances t by the given number of calendar months, clamping
// the day-of-month to the last valid day of the target month. Jan 31
// plus one month is Feb 28 (or 29), never Mar 3.
func AddMonths(t time.Time, months int) time.Time {
	year := t.Year()
	month := int(t.Month()) + months
	year += (month - 1) / 12
	month = (month-1)%12 + 1

	day := t.Day()
	if last := lastDayOfMonth(year, time.Month(month)); day > last {
		day = last
	}
	return time.Date(year, time.Month(month), day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func lastDayOfMonth(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Extend computes the new expiry after a payment. The base instant is
// the current expiry when it is still ahead of the payment time, so a
// renewal stacks on remaining entitlement instead of shortening it.
// The result is expressed in JST.
func Extend(current *time.Time, months int, paidAt time.Time) time.Time {
	base := paidAt.In(JST)
	if current != nil {
		if cur := current.In(JST); cur.After(base) {
			base = cur
		}
	}
	return AddMonths(base, months)
}

// CivilDate truncates an instant to its civil date in JST, midnight.
func CivilDate(t time.Time) time.Time {
	j := t.In(JST)
	return time.Date(j.Year(), j.Month(), j.Day(), 0, 0, 0, 0, JST)
}
