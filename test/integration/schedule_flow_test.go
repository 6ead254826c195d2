// Package integration provides integration tests for the adherence engine.
package integration

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	fhir "github.com/caretrack/go-dose/internal/fhir/r5"
	"github.com/caretrack/go-dose/internal/intake"
	"github.com/caretrack/go-dose/internal/schedule"
	"github.com/caretrack/go-dose/pkg/idempotency"
)

func TestFHIRToScheduleFlow(t *testing.T) {
	// Load fixture
	data, err := os.ReadFile("../fixtures/medication_request_metformin.json")
	if err != nil {
		t.Skipf("fixture not found: %v", err)
	}

	var medRequest fhir.MedicationRequest
	if err := json.Unmarshal(data, &medRequest); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	// Create test patient
	patient := &fhir.Patient{
		ResourceType: "Patient",
		ID:           "test-patient-001",
		Name: []fhir.HumanName{
			{Use: "official", Family: "Doe", Given: []string{"John"}},
		},
		Gender:    "male",
		BirthDate: "1980-01-15",
		Identifier: []fhir.Identifier{
			{System: fhir.SystemMRN, Value: "MRN12345"},
		},
	}

	// Map to a medicine order
	m := intake.NewMapper()
	result, err := m.MapMedicationRequest(&medRequest, patient)
	if err != nil {
		t.Fatalf("mapping failed: %v", err)
	}

	if result.PatientID != "test-patient-001" {
		t.Errorf("patient id %q, want test-patient-001", result.PatientID)
	}
	order := result.Order
	if order.Name != "Metformin 500 MG Oral Tablet" {
		t.Errorf("unexpected medicine name %q", order.Name)
	}
	if order.FoodTiming != schedule.FoodAfter {
		t.Errorf("food timing %q, want after", order.FoodTiming)
	}

	// Expand mid-course: the supply duration spans 30 days from authoring
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	engine := schedule.NewEngine(zap.NewNop())
	sched, err := engine.Expand(order, now)
	if err != nil {
		t.Fatalf("expansion failed: %v", err)
	}

	if sched.TotalDoses != 60 {
		t.Errorf("total doses %d, want 60 (2 slots over 30 days)", sched.TotalDoses)
	}

	// Record the morning dose on day two, then re-expand with the entry merged
	var morning *schedule.Dose
	for i := range sched.Doses {
		d := &sched.Doses[i]
		if d.ScheduledTime.Equal(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)) {
			morning = d
			break
		}
	}
	if morning == nil {
		t.Fatal("no morning dose on 2026-03-02")
	}

	entry, err := schedule.RecordAdherence(sched, morning.ID, true, morning.ScheduledTime.Add(10*time.Minute), "with breakfast")
	if err != nil {
		t.Fatalf("record adherence failed: %v", err)
	}

	order.Adherence = append(order.Adherence, *entry)
	sched2, err := engine.Expand(order, now)
	if err != nil {
		t.Fatalf("re-expansion failed: %v", err)
	}

	var taken int
	for _, d := range sched2.Doses {
		if d.Taken {
			taken++
		}
	}
	if taken != 1 {
		t.Errorf("taken doses %d, want 1", taken)
	}
	if sched2.AdherenceRate == 0 {
		t.Error("expected nonzero adherence rate after a taken dose")
	}

	// Calendar grouping covers the full span
	days := schedule.GroupByDay(sched2)
	if len(days) != 30 {
		t.Errorf("calendar days %d, want 30", len(days))
	}
}

func TestIdempotencyKeyGeneration(t *testing.T) {
	ts := time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC)

	key1 := idempotency.GenerateKey("pat-001", "med-001", "dose-a", ts)
	key2 := idempotency.GenerateKey("pat-001", "med-001", "dose-a", ts)
	key3 := idempotency.GenerateKey("pat-001", "med-001", "dose-a", ts.Add(time.Second*30))
	key4 := idempotency.GenerateKey("pat-002", "med-001", "dose-a", ts)

	if key1 != key2 {
		t.Error("same inputs should produce same key")
	}
	if key1 != key3 {
		t.Error("keys within same minute should match")
	}
	if key1 == key4 {
		t.Error("different patient should produce different key")
	}
}
