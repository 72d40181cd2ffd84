package lifecycle

import (
	"sort"

	"github.com/google/uuid"

	"github.com/vigneshrao/docwatch/internal/db"
)

// Diff is the outcome of reconciling a computed plan against the alerts
// currently persisted for a document.
type Diff struct {
	ToCreate []PlannedAlert
	ToCancel []uuid.UUID
}

// Empty reports whether the diff carries no work.
func (d Diff) Empty() bool {
	return len(d.ToCreate) == 0 && len(d.ToCancel) == 0
}

// Reconcile diffs a freshly computed plan against the existing alerts
// for one document and returns the creates and cancels that bring the
// store in line with the plan.
//
// Existing alerts are indexed by lead time, cancelled ones excluded. A
// plan entry is satisfied by a live alert with the same lead time and
// trigger date; when the trigger date moved (validUntil changed) the
// stale alert is cancelled and a fresh one created. Live alerts whose
// lead time left the plan entirely are cancelled.
//
// Delivered alerts are exempt on both paths: a warning that already went
// out is historical fact and is not retracted when the plan changes, and
// its lead-time slot stays occupied so no duplicate is scheduled.
//
// Reconcile is pure and idempotent: running it again on an unchanged
// document yields an empty diff.
func Reconcile(plan []PlannedAlert, existing []*db.Alert) Diff {
	live := make(map[int32]*db.Alert, len(existing))
	for _, a := range existing {
		if a.State == db.StateCancelled {
			continue
		}
		live[a.LeadTimeDays] = a
	}

	var diff Diff

	planned := make(map[int32]bool, len(plan))
	for _, p := range plan {
		planned[p.LeadTimeDays] = true

		a, ok := live[p.LeadTimeDays]
		switch {
		case !ok:
			diff.ToCreate = append(diff.ToCreate, p)
		case a.State == db.StateDelivered:
			// Slot occupied by a delivered warning; nothing to do even
			// if its trigger date no longer matches.
		case !DateOf(a.TriggerAt).Equal(p.TriggerAt):
			diff.ToCancel = append(diff.ToCancel, a.ID)
			diff.ToCreate = append(diff.ToCreate, p)
		}
	}

	for leadTime, a := range live {
		if planned[leadTime] || a.State == db.StateDelivered {
			continue
		}
		diff.ToCancel = append(diff.ToCancel, a.ID)
	}

	// Map iteration order is random; keep the diff deterministic for
	// logging and tests.
	sort.Slice(diff.ToCancel, func(i, j int) bool {
		return diff.ToCancel[i].String() < diff.ToCancel[j].String()
	})

	return diff
}
