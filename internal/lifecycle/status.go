// Package lifecycle holds the pure scheduling logic: lifecycle status
// derivation, alert planning, and plan/store reconciliation. Nothing in
// this package touches a clock, a database, or a network — callers pass
// time in explicitly, which is what keeps these functions trivially
// testable.
package lifecycle

import "time"

// Status is a document's lifecycle status, derived on demand from the
// current date and the document's validity date. It is never stored.
type Status string

const (
	StatusActive       Status = "active"
	StatusExpiringSoon Status = "expiring_soon"
	StatusExpired      Status = "expired"
)

// expiringSoonWindowDays is the remaining-validity window inside which a
// document counts as expiring soon.
const expiringSoonWindowDays = 30

// StatusOf maps (today, validUntil) to a lifecycle status. Both inputs
// are treated as calendar dates; time-of-day is discarded so the answer
// cannot flap within a single day.
//
// The validity window closes at the start of the validity day: a
// document whose validUntil equals today is already Expired.
func StatusOf(today, validUntil time.Time) Status {
	remaining := DaysBetween(today, validUntil)
	switch {
	case remaining <= 0:
		return StatusExpired
	case remaining <= expiringSoonWindowDays:
		return StatusExpiringSoon
	default:
		return StatusActive
	}
}

// DateOf truncates a timestamp to its calendar date in UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of whole calendar days from a to b,
// negative when b is before a.
func DaysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)) / (24 * time.Hour))
}
