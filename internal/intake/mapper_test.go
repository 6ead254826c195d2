package intake

import (
	"errors"
	"testing"
	"time"

	fhir "github.com/caretrack/go-dose/internal/fhir/r5"
	"github.com/caretrack/go-dose/internal/schedule"
)

func metforminRequest() *fhir.MedicationRequest {
	return &fhir.MedicationRequest{
		ResourceType: "MedicationRequest",
		ID:           "mr-001",
		Status:       fhir.StatusActive,
		Intent:       fhir.IntentOrder,
		Medication: fhir.CodeableReference{
			Concept: &fhir.CodeableConcept{
				Text: "Metformin",
				Coding: []fhir.Coding{
					{System: fhir.SystemRxNorm, Code: "6809", Display: "metformin"},
				},
			},
		},
		Subject:    fhir.Reference{Reference: "Patient/pat-42"},
		AuthoredOn: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		DosageInstruction: []fhir.Dosage{
			{
				Text: "Take 500mg twice daily with food",
				Timing: &fhir.Timing{
					Repeat: &fhir.TimingRepeat{
						Frequency:  2,
						Period:     1,
						PeriodUnit: "d",
						When:       []string{fhir.WhenMorning, fhir.WhenNight, fhir.WhenAfterMeals},
					},
				},
				DoseAndRate: []fhir.DoseAndRate{
					{DoseQuantity: &fhir.Quantity{Value: 500, Unit: "mg"}},
				},
			},
		},
		DispenseRequest: &fhir.DispenseRequest{
			Quantity: &fhir.Quantity{Value: 60, Unit: "tablet"},
		},
	}
}

func TestMapMedicationRequest(t *testing.T) {
	result, err := NewMapper().MapMedicationRequest(metforminRequest(), nil)
	if err != nil {
		t.Fatalf("MapMedicationRequest() error = %v", err)
	}

	order := result.Order
	if order.ID != "mr-001" {
		t.Errorf("order ID = %q, want mr-001", order.ID)
	}
	if order.Name != "Metformin" {
		t.Errorf("name = %q, want Metformin", order.Name)
	}
	if order.Dosage != "500mg" {
		t.Errorf("dosage = %q, want 500mg", order.Dosage)
	}
	if order.Frequency != "twice a day" {
		t.Errorf("frequency = %q, want %q", order.Frequency, "twice a day")
	}
	if len(order.Timing) != 2 || order.Timing[0] != "morning" || order.Timing[1] != "night" {
		t.Errorf("timing = %v, want [morning night]", order.Timing)
	}
	if order.FoodTiming != schedule.FoodAfter {
		t.Errorf("food timing = %q, want after", order.FoodTiming)
	}
	if result.PatientID != "pat-42" {
		t.Errorf("patient ID = %q, want pat-42", result.PatientID)
	}

	tc, ok := order.Duration.(schedule.TabletCount)
	if !ok {
		t.Fatalf("duration = %T, want TabletCount", order.Duration)
	}
	if tc.TotalTablets != 60 || tc.TabletsPerDay != 2 {
		t.Errorf("tablet count = %d/%d per day, want 60/2", tc.TotalTablets, tc.TabletsPerDay)
	}
}

func TestMapBoundsPeriodWinsOverQuantity(t *testing.T) {
	req := metforminRequest()
	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 14, 0, 0, 0, 0, time.UTC)
	req.DosageInstruction[0].Timing.Repeat.BoundsPeriod = &fhir.Period{Start: start, End: end}

	result, err := NewMapper().MapMedicationRequest(req, nil)
	if err != nil {
		t.Fatalf("MapMedicationRequest() error = %v", err)
	}

	dr, ok := result.Order.Duration.(schedule.DateRange)
	if !ok {
		t.Fatalf("duration = %T, want DateRange", result.Order.Duration)
	}
	if !dr.Start.Equal(start) || !dr.End.Equal(end) {
		t.Errorf("date range = %v..%v, want %v..%v", dr.Start, dr.End, start, end)
	}
}

func TestMapExplicitTimesOfDay(t *testing.T) {
	req := metforminRequest()
	req.DosageInstruction[0].Timing.Repeat.When = nil
	req.DosageInstruction[0].Timing.Repeat.TimeOfDay = []string{"08:00:00", "21:30:00"}

	result, err := NewMapper().MapMedicationRequest(req, nil)
	if err != nil {
		t.Fatalf("MapMedicationRequest() error = %v", err)
	}

	timing := result.Order.Timing
	if len(timing) != 2 || timing[0] != "08:00" || timing[1] != "21:30" {
		t.Errorf("timing = %v, want [08:00 21:30]", timing)
	}
	if result.Order.FoodTiming != schedule.FoodNone {
		t.Errorf("food timing = %q, want none", result.Order.FoodTiming)
	}
}

func TestMapAsNeeded(t *testing.T) {
	req := metforminRequest()
	req.DosageInstruction[0].AsNeeded = true

	result, err := NewMapper().MapMedicationRequest(req, nil)
	if err != nil {
		t.Fatalf("MapMedicationRequest() error = %v", err)
	}
	if result.Order.Frequency != "as needed" {
		t.Errorf("frequency = %q, want %q", result.Order.Frequency, "as needed")
	}
	if !result.AsNeeded {
		t.Error("AsNeeded flag not set on result")
	}
}

func TestMapPatientFallback(t *testing.T) {
	req := metforminRequest()
	req.Subject = fhir.Reference{}
	patient := &fhir.Patient{ResourceType: "Patient", ID: "pat-99"}

	result, err := NewMapper().MapMedicationRequest(req, patient)
	if err != nil {
		t.Fatalf("MapMedicationRequest() error = %v", err)
	}
	if result.PatientID != "pat-99" {
		t.Errorf("patient ID = %q, want pat-99", result.PatientID)
	}
}

func TestMapRejections(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*fhir.MedicationRequest)
		wantCode string
	}{
		{
			name:     "cancelled status",
			mutate:   func(r *fhir.MedicationRequest) { r.Status = fhir.StatusCancelled },
			wantCode: "INACTIVE_STATUS",
		},
		{
			name:     "do not perform",
			mutate:   func(r *fhir.MedicationRequest) { r.DoNotPerform = true },
			wantCode: "DO_NOT_PERFORM",
		},
		{
			name:     "missing medication",
			mutate:   func(r *fhir.MedicationRequest) { r.Medication = fhir.CodeableReference{} },
			wantCode: "MISSING_MEDICATION",
		},
		{
			name: "missing patient",
			mutate: func(r *fhir.MedicationRequest) {
				r.Subject = fhir.Reference{}
			},
			wantCode: "MISSING_PATIENT",
		},
		{
			name: "no dose and no sig",
			mutate: func(r *fhir.MedicationRequest) {
				r.DosageInstruction[0].DoseAndRate = nil
				r.DosageInstruction[0].Text = ""
				r.RenderedDosageInstruction = ""
			},
			wantCode: "MISSING_DOSE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := metforminRequest()
			tt.mutate(req)

			_, err := NewMapper().MapMedicationRequest(req, nil)
			if err == nil {
				t.Fatal("expected error, got nil")
			}

			var mapErr *MapError
			if !errors.As(err, &mapErr) {
				t.Fatalf("error type = %T, want *MapError", err)
			}
			if mapErr.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", mapErr.Code, tt.wantCode)
			}
		})
	}
}

func TestMapNilRequest(t *testing.T) {
	_, err := NewMapper().MapMedicationRequest(nil, nil)
	var mapErr *MapError
	if !errors.As(err, &mapErr) || mapErr.Code != "NULL_INPUT" {
		t.Fatalf("error = %v, want NULL_INPUT MapError", err)
	}
}
