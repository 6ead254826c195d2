package schedule

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func date(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func metforminOrder() MedicineOrder {
	return MedicineOrder{
		ID:     "med-001",
		Name:   "Metformin",
		Dosage: "500mg",
		Timing: []string{"morning", "night"},
		Duration: DateRange{
			Start: date(2024, 1, 1, 0, 0),
			End:   date(2024, 1, 3, 0, 0),
		},
		PrescribedDate: date(2024, 1, 1, 0, 0),
	}
}

func TestExpandDateRangeCoverage(t *testing.T) {
	engine := NewEngine(nil)
	now := date(2024, 1, 2, 8, 15)

	sched, err := engine.Expand(metforminOrder(), now)
	if err != nil {
		t.Fatalf("expand failed: %v", err)
	}

	// 3 days x 2 slots
	if sched.TotalDoses != 6 {
		t.Errorf("expected 6 generated doses, got %d", sched.TotalDoses)
	}
	if len(sched.Doses) != 6 {
		t.Errorf("expected 6 doses, got %d", len(sched.Doses))
	}

	for i := 1; i < len(sched.Doses); i++ {
		if sched.Doses[i].ScheduledTime.Before(sched.Doses[i-1].ScheduledTime) {
			t.Errorf("doses not sorted at index %d", i)
		}
	}

	first := sched.Doses[0]
	if !first.ScheduledTime.Equal(date(2024, 1, 1, 8, 0)) {
		t.Errorf("unexpected first dose time: %v", first.ScheduledTime)
	}
	last := sched.Doses[len(sched.Doses)-1]
	if !last.ScheduledTime.Equal(date(2024, 1, 3, 20, 0)) {
		t.Errorf("unexpected last dose time: %v", last.ScheduledTime)
	}
}

func TestExpandIdempotence(t *testing.T) {
	engine := NewEngine(nil)
	now := date(2024, 1, 2, 8, 15)
	order := metforminOrder()
	order.Adherence = []AdherenceEntry{
		{ID: "log-1", Timestamp: date(2024, 1, 1, 8, 5), Taken: true},
	}

	a, err := engine.Expand(order, now)
	if err != nil {
		t.Fatalf("first expand failed: %v", err)
	}
	b, err := engine.Expand(order, now)
	if err != nil {
		t.Fatalf("second expand failed: %v", err)
	}

	if len(a.Doses) != len(b.Doses) {
		t.Fatalf("dose counts differ: %d vs %d", len(a.Doses), len(b.Doses))
	}
	for i := range a.Doses {
		if a.Doses[i].ID != b.Doses[i].ID {
			t.Errorf("dose %d: id %q vs %q", i, a.Doses[i].ID, b.Doses[i].ID)
		}
		if !a.Doses[i].ScheduledTime.Equal(b.Doses[i].ScheduledTime) {
			t.Errorf("dose %d: time differs", i)
		}
		if a.Doses[i].Taken != b.Doses[i].Taken {
			t.Errorf("dose %d: taken differs", i)
		}
	}
}

func TestExpandTabletCount(t *testing.T) {
	engine := NewEngine(nil)
	now := date(2024, 3, 1, 9, 0)

	t.Run("thirty tablets twice daily", func(t *testing.T) {
		order := MedicineOrder{
			ID:             "med-002",
			Name:           "Amoxicillin",
			Dosage:         "250mg",
			Timing:         []string{"morning", "night"},
			Duration:       TabletCount{TotalTablets: 30, TabletsPerDay: 2},
			PrescribedDate: date(2024, 3, 1, 0, 0),
		}
		sched, err := engine.Expand(order, now)
		if err != nil {
			t.Fatalf("expand failed: %v", err)
		}
		// ceil(30/2) = 15 days x 2 slots = 30 doses
		if sched.TotalDoses != 30 {
			t.Errorf("expected 30 doses, got %d", sched.TotalDoses)
		}
		lastDay := midnight(sched.Doses[len(sched.Doses)-1].ScheduledTime)
		if !lastDay.Equal(date(2024, 3, 15, 0, 0)) {
			t.Errorf("expected last day 2024-03-15, got %v", lastDay)
		}
	})

	t.Run("ten tablets thrice daily rounds up", func(t *testing.T) {
		order := MedicineOrder{
			ID:             "med-003",
			Name:           "Ibuprofen",
			Dosage:         "400mg",
			Timing:         []string{"morning", "afternoon", "night"},
			Duration:       TabletCount{TotalTablets: 10, TabletsPerDay: 3},
			PrescribedDate: date(2024, 3, 1, 0, 0),
		}
		sched, err := engine.Expand(order, now)
		if err != nil {
			t.Fatalf("expand failed: %v", err)
		}
		// ceil(10/3) = 4 days x up to 3 slots per day
		if sched.TotalDoses != 12 {
			t.Errorf("expected 12 doses, got %d", sched.TotalDoses)
		}
	})

	t.Run("per-day cap truncates timing slots", func(t *testing.T) {
		order := MedicineOrder{
			ID:             "med-004",
			Name:           "Lisinopril",
			Dosage:         "10mg",
			Timing:         []string{"morning", "afternoon", "night"},
			Duration:       TabletCount{TotalTablets: 10, TabletsPerDay: 1},
			PrescribedDate: date(2024, 3, 1, 0, 0),
		}
		sched, err := engine.Expand(order, now)
		if err != nil {
			t.Fatalf("expand failed: %v", err)
		}
		// 10 days, earliest slot only
		if sched.TotalDoses != 10 {
			t.Errorf("expected 10 doses, got %d", sched.TotalDoses)
		}
		for _, d := range sched.Doses {
			if d.ScheduledTime.Hour() != 8 {
				t.Errorf("expected only the 08:00 slot, got %v", d.ScheduledTime)
			}
		}
	})
}

func TestExpandAdherenceMergeAndRate(t *testing.T) {
	engine := NewEngine(nil)
	now := date(2024, 1, 2, 8, 15)

	order := metforminOrder()
	order.Adherence = []AdherenceEntry{
		{ID: "log-1", Timestamp: date(2024, 1, 1, 8, 10), Taken: true, Notes: "with breakfast"},
	}

	sched, err := engine.Expand(order, now)
	if err != nil {
		t.Fatalf("expand failed: %v", err)
	}

	var takenCount int
	for _, d := range sched.Doses {
		if d.Taken {
			takenCount++
			if !strings.HasPrefix(d.ID, RecordedIDPrefix) {
				t.Errorf("merged dose should carry the log entry id, got %q", d.ID)
			}
			if d.TakenAt == nil || !d.TakenAt.Equal(date(2024, 1, 1, 8, 10)) {
				t.Errorf("unexpected takenAt: %v", d.TakenAt)
			}
			if d.Notes != "with breakfast" {
				t.Errorf("notes not carried: %q", d.Notes)
			}
			if d.Overdue || d.Current || d.Upcoming || d.Active {
				t.Error("recorded dose must not carry temporal flags")
			}
		}
	}
	if takenCount != 1 {
		t.Errorf("expected exactly 1 taken dose, got %d", takenCount)
	}

	// Eligible: Jan 1 08:00, Jan 1 20:00, Jan 2 08:00. One taken.
	if sched.AdherenceRate != 33 {
		t.Errorf("expected adherence rate 33, got %d", sched.AdherenceRate)
	}
}

func TestExpandOrphanEntryMaterialized(t *testing.T) {
	engine := NewEngine(nil)
	now := date(2024, 1, 4, 12, 0)

	order := metforminOrder()
	order.Adherence = []AdherenceEntry{
		// 02:00 is hours away from any scheduled slot.
		{ID: "log-odd", Timestamp: date(2024, 1, 2, 2, 0), Taken: true, Notes: "ad hoc"},
	}

	sched, err := engine.Expand(order, now)
	if err != nil {
		t.Fatalf("expand failed: %v", err)
	}

	if len(sched.Doses) != 7 {
		t.Fatalf("expected 6 generated + 1 synthetic dose, got %d", len(sched.Doses))
	}

	found := false
	for _, d := range sched.Doses {
		if d.ID == RecordedIDPrefix+"log-odd" {
			found = true
			if !d.Recorded || !d.Taken {
				t.Error("synthetic dose should be recorded and taken")
			}
		}
	}
	if !found {
		t.Error("orphan adherence entry was dropped")
	}
}

func TestGraceWindowBoundary(t *testing.T) {
	engine := NewEngine(nil)

	order := MedicineOrder{
		ID:             "med-005",
		Name:           "Aspirin",
		Dosage:         "81mg",
		Timing:         []string{"12:00"},
		Duration:       DateRange{Start: date(2024, 5, 1, 0, 0), End: date(2024, 5, 1, 0, 0)},
		PrescribedDate: date(2024, 5, 1, 0, 0),
	}

	t.Run("exactly 30 minutes past is active", func(t *testing.T) {
		sched, err := engine.Expand(order, date(2024, 5, 1, 12, 30))
		if err != nil {
			t.Fatalf("expand failed: %v", err)
		}
		d := sched.Doses[0]
		if !d.Active || !d.Current {
			t.Error("dose at the window edge should be active")
		}
		if d.Overdue {
			t.Error("dose at the window edge should not be overdue")
		}
	})

	t.Run("31 minutes past is overdue", func(t *testing.T) {
		sched, err := engine.Expand(order, date(2024, 5, 1, 12, 31))
		if err != nil {
			t.Fatalf("expand failed: %v", err)
		}
		d := sched.Doses[0]
		if !d.Overdue {
			t.Error("dose past the window should be overdue")
		}
		if d.Active || d.Current {
			t.Error("dose past the window should not be active")
		}
	})

	t.Run("beyond the window ahead is upcoming", func(t *testing.T) {
		sched, err := engine.Expand(order, date(2024, 5, 1, 10, 0))
		if err != nil {
			t.Fatalf("expand failed: %v", err)
		}
		if !sched.Doses[0].Upcoming {
			t.Error("future dose should be upcoming")
		}
	})
}

func TestExpandFallbacks(t *testing.T) {
	engine := NewEngine(nil)
	now := date(2024, 6, 1, 9, 0)

	t.Run("unparseable frequency yields default slot", func(t *testing.T) {
		order := MedicineOrder{
			ID:             "med-006",
			Name:           "Cetirizine",
			Dosage:         "10mg",
			Frequency:      "as needed",
			PrescribedDate: date(2024, 6, 1, 0, 0),
		}
		sched, err := engine.Expand(order, now)
		if err != nil {
			t.Fatalf("expand failed: %v", err)
		}
		if len(sched.Doses) != 1 {
			t.Fatalf("expected single fallback dose, got %d", len(sched.Doses))
		}
		if sched.Doses[0].ScheduledTime.Hour() != 8 {
			t.Errorf("expected default 08:00 slot, got %v", sched.Doses[0].ScheduledTime)
		}
	})

	t.Run("reversed date range is swapped", func(t *testing.T) {
		order := MedicineOrder{
			ID:     "med-007",
			Name:   "Vitamin D",
			Dosage: "1000IU",
			Timing: []string{"morning"},
			Duration: DateRange{
				Start: date(2024, 6, 3, 0, 0),
				End:   date(2024, 6, 1, 0, 0),
			},
		}
		sched, err := engine.Expand(order, now)
		if err != nil {
			t.Fatalf("expand failed: %v", err)
		}
		if sched.TotalDoses != 3 {
			t.Errorf("expected 3 doses after swap, got %d", sched.TotalDoses)
		}
	})

	t.Run("empty adherence and future doses give zero rate", func(t *testing.T) {
		order := metforminOrder()
		sched, err := engine.Expand(order, date(2023, 12, 1, 0, 0))
		if err != nil {
			t.Fatalf("expand failed: %v", err)
		}
		if sched.AdherenceRate != 0 {
			t.Errorf("expected 0 rate with no eligible doses, got %d", sched.AdherenceRate)
		}
	})
}

func TestExpandInvalidMedicine(t *testing.T) {
	engine := NewEngine(nil)
	now := date(2024, 1, 1, 8, 0)

	_, err := engine.Expand(MedicineOrder{Dosage: "5mg"}, now)
	var invalid *InvalidMedicineError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidMedicineError, got %v", err)
	}
	if invalid.Field != "name" {
		t.Errorf("expected name field, got %q", invalid.Field)
	}

	_, err = engine.Expand(MedicineOrder{Name: "Metformin"}, now)
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidMedicineError for missing dosage, got %v", err)
	}
}

func TestExpandAllIsolatesFailures(t *testing.T) {
	engine := NewEngine(nil)
	now := date(2024, 1, 2, 8, 15)

	orders := []MedicineOrder{
		metforminOrder(),
		{ID: "bad", Name: "", Dosage: "5mg"},
		metforminOrder(),
	}

	results := engine.ExpandAll(orders, now)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Error("valid orders should expand despite a failing sibling")
	}
	if results[1].Err == nil {
		t.Error("invalid order should report its error")
	}
}

func TestGroupByDay(t *testing.T) {
	engine := NewEngine(nil)
	sched, err := engine.Expand(metforminOrder(), date(2024, 1, 2, 8, 15))
	if err != nil {
		t.Fatalf("expand failed: %v", err)
	}

	groups := GroupByDay(sched)
	if len(groups) != 3 {
		t.Fatalf("expected 3 day groups, got %d", len(groups))
	}
	for _, g := range groups {
		if len(g.Doses) != 2 {
			t.Errorf("day %v: expected 2 doses, got %d", g.Date, len(g.Doses))
		}
	}
}
