package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/vigneshrao/docwatch/internal/db"
)

// DefaultLeadTimes is the alert schedule used when a document does not
// configure its own: warnings 30, 15, 7, 3 and 1 days before expiry.
var DefaultLeadTimes = []int32{30, 15, 7, 3, 1}

// ErrInvalidLeadTime rejects non-positive or duplicated lead times. Bad
// configuration fails the write that introduced it; it is never silently
// corrected.
var ErrInvalidLeadTime = errors.New("invalid lead time configuration")

// PlannedAlert is one entry of a document's computed alert plan.
type PlannedAlert struct {
	LeadTimeDays int32
	TriggerAt    time.Time
	Priority     string
}

// PriorityFor derives an alert priority from its lead time: the closer
// to expiry a warning fires, the more urgent it is.
func PriorityFor(leadTimeDays int32) string {
	switch {
	case leadTimeDays <= 7:
		return db.PriorityHigh
	case leadTimeDays <= 15:
		return db.PriorityMedium
	default:
		return db.PriorityLow
	}
}

// Plan computes the set of alerts that should exist for a document as of
// today. Each lead time maps to triggerAt = validUntil - leadTime days.
//
// Trigger dates strictly in the past are omitted: an alert whose moment
// had already elapsed before the document reached the scheduler must not
// be created only to fire immediately. A trigger date equal to today is
// kept, so a document registered on its last warning day still gets that
// warning.
func Plan(doc *db.Document, today time.Time) ([]PlannedAlert, error) {
	leadTimes := doc.LeadTimes
	if len(leadTimes) == 0 {
		leadTimes = DefaultLeadTimes
	}

	seen := make(map[int32]bool, len(leadTimes))
	for _, lt := range leadTimes {
		if lt <= 0 {
			return nil, fmt.Errorf("%w: lead time %d is not positive", ErrInvalidLeadTime, lt)
		}
		if seen[lt] {
			return nil, fmt.Errorf("%w: lead time %d appears twice", ErrInvalidLeadTime, lt)
		}
		seen[lt] = true
	}

	validUntil := DateOf(doc.ValidUntil)
	todayDate := DateOf(today)

	plan := make([]PlannedAlert, 0, len(leadTimes))
	for _, lt := range leadTimes {
		triggerAt := validUntil.AddDate(0, 0, -int(lt))
		if triggerAt.Before(todayDate) {
			continue
		}
		plan = append(plan, PlannedAlert{
			LeadTimeDays: lt,
			TriggerAt:    triggerAt,
			Priority:     PriorityFor(lt),
		})
	}
	return plan, nil
}
