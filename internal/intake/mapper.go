// Package intake transforms inbound FHIR R5 MedicationRequest resources
// into medicine orders the scheduling engine can expand.
package intake

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	fhir "github.com/caretrack/go-dose/internal/fhir/r5"
	"github.com/caretrack/go-dose/internal/schedule"
)

// MapError represents a mapping error with context
type MapError struct {
	Field   string
	Code    string
	Message string
	Cause   error
}

func (e *MapError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%s)", e.Field, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *MapError) Unwrap() error {
	return e.Cause
}

// MapResult contains the mapped order plus request context the API needs
type MapResult struct {
	Order     schedule.MedicineOrder
	PatientID string
	Requester string
	SigText   string
	AsNeeded  bool
}

// whenToTiming maps HL7 EventTiming codes onto scheduler timing words.
var whenToTiming = map[string]string{
	fhir.WhenMorning:   "morning",
	fhir.WhenAfternoon: "afternoon",
	fhir.WhenEvening:   "evening",
	fhir.WhenNight:     "night",
	fhir.WhenNoon:      "noon",
	fhir.WhenBedtime:   "bedtime",
}

// Mapper builds medicine orders from FHIR resources
type Mapper struct{}

// NewMapper creates a new intake mapper
func NewMapper() *Mapper {
	return &Mapper{}
}

// MapMedicationRequest transforms a FHIR MedicationRequest into a medicine order.
// The optional patient resource supplies the patient ID when the request's
// subject reference is absent.
func (m *Mapper) MapMedicationRequest(req *fhir.MedicationRequest, patient *fhir.Patient) (*MapResult, error) {
	if req == nil {
		return nil, &MapError{Field: "MedicationRequest", Code: "NULL_INPUT", Message: "medication request is required"}
	}
	if req.ResourceType != "" && req.ResourceType != "MedicationRequest" {
		return nil, &MapError{Field: "resourceType", Code: "WRONG_RESOURCE", Message: fmt.Sprintf("expected MedicationRequest, got %s", req.ResourceType)}
	}
	if req.DoNotPerform {
		return nil, &MapError{Field: "doNotPerform", Code: "DO_NOT_PERFORM", Message: "request is flagged do-not-perform"}
	}

	switch req.Status {
	case fhir.StatusActive, fhir.StatusCompleted, "":
	default:
		return nil, &MapError{Field: "status", Code: "INACTIVE_STATUS", Message: fmt.Sprintf("status %q cannot be scheduled", req.Status)}
	}

	name := req.GetMedicationDisplay()
	if name == "" {
		return nil, &MapError{Field: "medication", Code: "MISSING_MEDICATION", Message: "medication display name is required"}
	}

	dosage := req.GetDoseText()
	if dosage == "" {
		// Fall back to the sig, losing structure but keeping something to show.
		dosage = req.GetSigText()
	}
	if dosage == "" {
		return nil, &MapError{Field: "dosageInstruction", Code: "MISSING_DOSE", Message: "no dose quantity or sig text present"}
	}

	patientID := req.GetPatientID()
	if patientID == "" && patient != nil {
		patientID = patient.ID
	}
	if patientID == "" {
		return nil, &MapError{Field: "subject", Code: "MISSING_PATIENT", Message: "no patient reference on request"}
	}

	orderID := req.ID
	if orderID == "" {
		orderID = uuid.New().String()
	}

	order := schedule.MedicineOrder{
		ID:             orderID,
		Name:           name,
		Dosage:         dosage,
		Frequency:      mapFrequency(req),
		Timing:         mapTiming(req),
		FoodTiming:     mapFoodTiming(req),
		Duration:       mapDuration(req),
		PrescribedDate: req.AuthoredOn,
	}

	result := &MapResult{
		Order:     order,
		PatientID: patientID,
		SigText:   req.GetSigText(),
		AsNeeded:  req.IsAsNeeded(),
	}
	if req.Requester != nil {
		result.Requester = req.Requester.Display
	}
	return result, nil
}

// mapTiming converts explicit clock times and event timing codes into the
// scheduler's timing vocabulary. Unknown codes pass through untouched so the
// scheduler can log them as diagnostics rather than intake rejecting the order.
func mapTiming(req *fhir.MedicationRequest) []string {
	var timing []string
	for _, tod := range req.GetTimesOfDay() {
		// FHIR time type carries seconds, the scheduler wants HH:MM.
		if len(tod) >= 5 {
			timing = append(timing, tod[:5])
		}
	}
	for _, when := range req.GetWhenCodes() {
		if word, ok := whenToTiming[when]; ok {
			timing = append(timing, word)
		} else {
			timing = append(timing, strings.ToLower(when))
		}
	}
	return timing
}

// mapFrequency renders the timing repeat as the free-text frequency the
// scheduler parses. An explicit repeat wins over the sig text.
func mapFrequency(req *fhir.MedicationRequest) string {
	if req.IsAsNeeded() {
		return "as needed"
	}
	if n := req.GetFrequencyPerDay(); n > 0 {
		switch n {
		case 1:
			return "once a day"
		case 2:
			return "twice a day"
		case 3:
			return "thrice a day"
		default:
			return fmt.Sprintf("%d times a day", n)
		}
	}
	if d := req.PrimaryDosage(); d != nil && d.Timing != nil && d.Timing.Code != nil && d.Timing.Code.Text != "" {
		return d.Timing.Code.Text
	}
	return req.GetSigText()
}

func mapFoodTiming(req *fhir.MedicationRequest) schedule.FoodTiming {
	switch req.GetFoodRelation() {
	case fhir.WhenBeforeMeals:
		return schedule.FoodBefore
	case fhir.WhenAfterMeals:
		return schedule.FoodAfter
	case fhir.WhenWithMeals:
		return schedule.FoodWith
	default:
		return schedule.FoodNone
	}
}

// mapDuration chooses the strongest duration signal available:
// timing bounds, then dispense validity, then tablet quantities.
func mapDuration(req *fhir.MedicationRequest) schedule.DurationSpec {
	if p := req.GetBoundsPeriod(); p != nil && !p.Start.IsZero() && !p.End.IsZero() {
		return schedule.DateRange{Start: p.Start, End: p.End}
	}
	if p := req.GetValidityPeriod(); p != nil && !p.Start.IsZero() && !p.End.IsZero() {
		return schedule.DateRange{Start: p.Start, End: p.End}
	}

	if days := req.GetDaysSupply(); days > 0 && !req.AuthoredOn.IsZero() {
		start := req.AuthoredOn
		return schedule.DateRange{Start: start, End: start.AddDate(0, 0, days-1)}
	}

	qty, unit := req.GetQuantity()
	if qty > 0 && isCountableUnit(unit) {
		perDay := req.GetFrequencyPerDay()
		if perDay == 0 {
			perDay = len(mapTiming(req))
		}
		if perDay == 0 {
			perDay = 1
		}
		tc := schedule.TabletCount{
			TotalTablets:  int(qty),
			TabletsPerDay: perDay,
		}
		if !req.AuthoredOn.IsZero() {
			tc.Start = req.AuthoredOn
		}
		return tc
	}

	return nil
}

// isCountableUnit reports whether a dispense unit represents discrete doses.
// Liquids and creams cannot drive a tablet-count duration.
func isCountableUnit(unit string) bool {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "", "tablet", "tablets", "tab", "tabs", "capsule", "capsules", "cap", "caps", "dose", "doses", "each", "{tbl}":
		return true
	}
	return false
}
