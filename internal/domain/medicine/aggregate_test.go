package medicine

import (
	"testing"
	"time"

	"github.com/caretrack/go-dose/internal/schedule"
)

func createdData() *OrderCreatedData {
	return &OrderCreatedData{
		OrderID:    "order-1",
		PatientID:  "patient-1",
		Name:       "Metformin",
		Dosage:     "500mg",
		Timing:     []string{"morning", "night"},
		FoodTiming: schedule.FoodAfter,
		Duration: DurationData{
			Type:          "tablet_count",
			TotalTablets:  30,
			TabletsPerDay: 2,
		},
		PrescribedDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestAggregateCreate(t *testing.T) {
	agg := NewAggregate("order-1")

	if err := agg.Create(createdData()); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if agg.Status() != StatusActive {
		t.Errorf("expected active status, got %s", agg.Status())
	}
	if agg.Version() != 1 {
		t.Errorf("expected version 1, got %d", agg.Version())
	}
	if len(agg.Changes()) != 1 {
		t.Errorf("expected 1 uncommitted event, got %d", len(agg.Changes()))
	}

	if err := agg.Create(createdData()); err == nil {
		t.Error("second create should fail")
	}
}

func TestAggregateCreateRequiresIdentity(t *testing.T) {
	agg := NewAggregate("order-1")
	data := createdData()
	data.Name = ""
	if err := agg.Create(data); err == nil {
		t.Error("create without a name should fail")
	}
}

func TestAggregateOrderProjection(t *testing.T) {
	agg := NewAggregate("order-1")
	if err := agg.Create(createdData()); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	at := time.Date(2024, 1, 1, 8, 5, 0, 0, time.UTC)
	err := agg.RecordAdherence(&AdherenceRecordedData{
		EntryID:   "entry-1",
		DoseID:    "dose-1",
		Taken:     true,
		Timestamp: at,
	})
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}

	order := agg.Order()
	if order.Name != "Metformin" || order.Dosage != "500mg" {
		t.Errorf("projection lost prescription attributes: %+v", order)
	}
	tc, ok := order.Duration.(schedule.TabletCount)
	if !ok {
		t.Fatalf("expected tablet count duration, got %T", order.Duration)
	}
	if tc.TotalTablets != 30 || tc.TabletsPerDay != 2 {
		t.Errorf("unexpected tablet count: %+v", tc)
	}
	if len(order.Adherence) != 1 || !order.Adherence[0].Taken {
		t.Errorf("adherence log not projected: %+v", order.Adherence)
	}
}

func TestAggregateAdherenceCorrection(t *testing.T) {
	agg := NewAggregate("order-1")
	if err := agg.Create(createdData()); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	at := time.Date(2024, 1, 1, 8, 5, 0, 0, time.UTC)
	if err := agg.RecordAdherence(&AdherenceRecordedData{EntryID: "entry-1", Taken: true, Timestamp: at}); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := agg.RecordAdherence(&AdherenceRecordedData{EntryID: "entry-1", Taken: false, Timestamp: at, Notes: "mis-tap"}); err != nil {
		t.Fatalf("correction failed: %v", err)
	}

	order := agg.Order()
	if len(order.Adherence) != 1 {
		t.Fatalf("correction should replace, not append: %d entries", len(order.Adherence))
	}
	if order.Adherence[0].Taken {
		t.Error("correction should have flipped taken to false")
	}
}

func TestAggregateRehydration(t *testing.T) {
	agg := NewAggregate("order-1")
	if err := agg.Create(createdData()); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := agg.UpdateSchedule(&ScheduleUpdatedData{Timing: []string{"09:00", "21:00"}}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	replayed := NewAggregate("order-1")
	replayed.LoadFromHistory(agg.Changes())

	if replayed.Version() != 2 {
		t.Errorf("expected version 2 after replay, got %d", replayed.Version())
	}
	order := replayed.Order()
	if len(order.Timing) != 2 || order.Timing[0] != "09:00" {
		t.Errorf("schedule update not replayed: %v", order.Timing)
	}
}

func TestAggregateDiscontinue(t *testing.T) {
	agg := NewAggregate("order-1")
	if err := agg.Create(createdData()); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := agg.Discontinue("adverse reaction"); err != nil {
		t.Fatalf("discontinue failed: %v", err)
	}
	if agg.Status() != StatusDiscontinued {
		t.Errorf("expected discontinued, got %s", agg.Status())
	}
	if err := agg.RecordAdherence(&AdherenceRecordedData{EntryID: "e", Timestamp: time.Now()}); err == nil {
		t.Error("recording on a discontinued order should fail")
	}
}

func TestAggregateComplete(t *testing.T) {
	agg := NewAggregate("order-1")
	if err := agg.Create(createdData()); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := agg.Complete(); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if agg.Status() != StatusCompleted {
		t.Errorf("expected completed, got %s", agg.Status())
	}
	if err := agg.Complete(); err == nil {
		t.Error("completing twice should fail")
	}
}
