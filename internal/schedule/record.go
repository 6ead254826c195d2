package schedule

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// RecordAdherence validates and shapes an adherence entry for the given dose.
// Recording is only permitted while the dose is inside its grace window, or
// when correcting an entry that was already recorded. The returned entry is
// the payload the caller forwards to the persistence collaborator; the
// schedule itself is not mutated; callers re-expand afterward.
func RecordAdherence(sched *MedicineSchedule, doseID string, taken bool, at time.Time, notes string) (*AdherenceEntry, error) {
	dose, ok := sched.Dose(doseID)
	if !ok {
		return nil, ErrDoseNotFound
	}

	if !dose.Recorded && absDuration(at.Sub(dose.ScheduledTime)) > GraceWindow {
		return nil, &NotActiveError{
			DoseID:        doseID,
			ScheduledTime: dose.ScheduledTime,
			At:            at,
		}
	}

	entry := &AdherenceEntry{
		ID:        entryID(dose),
		Timestamp: at,
		Taken:     taken,
		Notes:     notes,
	}
	return entry, nil
}

// entryID reuses the identifier of an already-recorded dose so a correction
// overwrites the prior entry; a fresh recording gets a new one.
func entryID(dose *Dose) string {
	if dose.Recorded {
		return strings.TrimPrefix(dose.ID, RecordedIDPrefix)
	}
	return uuid.New().String()
}
