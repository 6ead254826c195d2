package schedule

import (
	"errors"
	"testing"
	"time"
)

func expandFixture(t *testing.T, now time.Time, entries []AdherenceEntry) *MedicineSchedule {
	t.Helper()
	order := metforminOrder()
	order.Adherence = entries
	sched, err := NewEngine(nil).Expand(order, now)
	if err != nil {
		t.Fatalf("expand failed: %v", err)
	}
	return sched
}

func TestRecordAdherenceWithinWindow(t *testing.T) {
	now := date(2024, 1, 2, 8, 15)
	sched := expandFixture(t, now, nil)

	var active *Dose
	for i := range sched.Doses {
		if sched.Doses[i].Active {
			active = &sched.Doses[i]
			break
		}
	}
	if active == nil {
		t.Fatal("expected an active dose at 08:15")
	}

	entry, err := RecordAdherence(sched, active.ID, true, now, "taken with water")
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if !entry.Taken {
		t.Error("entry should be marked taken")
	}
	if entry.ID == "" {
		t.Error("entry should have an identifier")
	}
	if entry.Notes != "taken with water" {
		t.Errorf("notes not carried: %q", entry.Notes)
	}
}

func TestRecordAdherenceOutsideWindow(t *testing.T) {
	now := date(2024, 1, 2, 8, 15)
	sched := expandFixture(t, now, nil)

	// The Jan 3 morning dose is well outside the window.
	var future *Dose
	for i := range sched.Doses {
		if sched.Doses[i].ScheduledTime.Equal(date(2024, 1, 3, 8, 0)) {
			future = &sched.Doses[i]
		}
	}
	if future == nil {
		t.Fatal("fixture missing expected dose")
	}

	_, err := RecordAdherence(sched, future.ID, true, now, "")
	var notActive *NotActiveError
	if !errors.As(err, &notActive) {
		t.Fatalf("expected NotActiveError, got %v", err)
	}
	if notActive.DoseID != future.ID {
		t.Errorf("error names wrong dose: %q", notActive.DoseID)
	}
}

func TestRecordAdherenceCorrection(t *testing.T) {
	now := date(2024, 1, 2, 8, 15)
	sched := expandFixture(t, now, []AdherenceEntry{
		{ID: "log-1", Timestamp: date(2024, 1, 1, 8, 0), Taken: true},
	})

	// Correcting a recorded entry is allowed even though its window passed.
	entry, err := RecordAdherence(sched, RecordedIDPrefix+"log-1", false, now, "logged in error")
	if err != nil {
		t.Fatalf("correction failed: %v", err)
	}
	if entry.ID != "log-1" {
		t.Errorf("correction should reuse the entry id, got %q", entry.ID)
	}
	if entry.Taken {
		t.Error("correction should flip taken to false")
	}
}

func TestRecordAdherenceUnknownDose(t *testing.T) {
	now := date(2024, 1, 2, 8, 15)
	sched := expandFixture(t, now, nil)

	_, err := RecordAdherence(sched, "no-such-dose", true, now, "")
	if !errors.Is(err, ErrDoseNotFound) {
		t.Fatalf("expected ErrDoseNotFound, got %v", err)
	}
}
