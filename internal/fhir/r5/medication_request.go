// Package r5 provides FHIR R5 data structures for medication order intake.
package r5

import (
	"encoding/json"
	"strconv"
	"time"
)

// MedicationRequest represents a FHIR R5 MedicationRequest resource.
// This is the inbound resource from which medicine orders are built.
type MedicationRequest struct {
	ResourceType string `json:"resourceType"`
	ID           string `json:"id,omitempty"`
	Meta         *Meta  `json:"meta,omitempty"`

	// Identifiers
	Identifier []Identifier `json:"identifier,omitempty"`

	// Status of the order
	Status       string           `json:"status"` // active | on-hold | cancelled | completed | entered-in-error | stopped | draft | unknown
	StatusReason *CodeableConcept `json:"statusReason,omitempty"`

	// Intent of the request
	Intent string `json:"intent"` // proposal | plan | order | original-order | reflex-order | filler-order | instance-order | option

	// Category of medication usage
	Category []CodeableConcept `json:"category,omitempty"`

	// Priority
	Priority string `json:"priority,omitempty"` // routine | urgent | asap | stat

	// Do not perform flag
	DoNotPerform bool `json:"doNotPerform,omitempty"`

	// Medication being requested (R5 uses CodeableReference)
	Medication CodeableReference `json:"medication"`

	// Subject (patient) for whom the medication is prescribed
	Subject Reference `json:"subject"`

	// Encounter during which request was created
	Encounter *Reference `json:"encounter,omitempty"`

	// Supporting information
	SupportingInformation []Reference `json:"supportingInformation,omitempty"`

	// When request was initially authored
	AuthoredOn time.Time `json:"authoredOn"`

	// Who/What requested the medication
	Requester *Reference `json:"requester,omitempty"`

	// Reason for the order
	Reason []CodeableReference `json:"reason,omitempty"`

	// Additional notes about the order
	Note []Annotation `json:"note,omitempty"`

	// Rendered dosage instruction (human-readable sig)
	RenderedDosageInstruction string `json:"renderedDosageInstruction,omitempty"`

	// Dosage instructions
	DosageInstruction []Dosage `json:"dosageInstruction,omitempty"`

	// Dispense request
	DispenseRequest *DispenseRequest `json:"dispenseRequest,omitempty"`

	// Prior order being replaced
	PriorPrescription *Reference `json:"priorPrescription,omitempty"`

	// Event history
	EventHistory []Reference `json:"eventHistory,omitempty"`
}

// DispenseRequest contains information about the requested dispensing.
// The scheduler derives tablet-count durations from Quantity and
// ExpectedSupplyDuration.
type DispenseRequest struct {
	// Initial fill
	InitialFill *InitialFill `json:"initialFill,omitempty"`

	// Minimum time between dispensing
	DispenseInterval *Duration `json:"dispenseInterval,omitempty"`

	// Validity period for the order
	ValidityPeriod *Period `json:"validityPeriod,omitempty"`

	// Number of refills authorized
	NumberOfRepeatsAllowed int `json:"numberOfRepeatsAllowed,omitempty"`

	// Quantity per dispense
	Quantity *Quantity `json:"quantity,omitempty"`

	// Expected supply duration
	ExpectedSupplyDuration *Duration `json:"expectedSupplyDuration,omitempty"`

	// Intended dispenser
	Dispenser *Reference `json:"dispenser,omitempty"`
}

// InitialFill contains information about the initial dispensing.
type InitialFill struct {
	Quantity *Quantity `json:"quantity,omitempty"`
	Duration *Duration `json:"duration,omitempty"`
}

// Dosage contains dosage instructions for the medication.
type Dosage struct {
	Sequence                 int               `json:"sequence,omitempty"`
	Text                     string            `json:"text,omitempty"`
	AdditionalInstruction    []CodeableConcept `json:"additionalInstruction,omitempty"`
	PatientInstruction       string            `json:"patientInstruction,omitempty"`
	Timing                   *Timing           `json:"timing,omitempty"`
	AsNeeded                 bool              `json:"asNeeded,omitempty"`
	AsNeededFor              []CodeableConcept `json:"asNeededFor,omitempty"`
	Site                     *CodeableConcept  `json:"site,omitempty"`
	Route                    *CodeableConcept  `json:"route,omitempty"`
	Method                   *CodeableConcept  `json:"method,omitempty"`
	DoseAndRate              []DoseAndRate     `json:"doseAndRate,omitempty"`
	MaxDosePerPeriod         []Ratio           `json:"maxDosePerPeriod,omitempty"`
	MaxDosePerAdministration *Quantity         `json:"maxDosePerAdministration,omitempty"`
	MaxDosePerLifetime       *Quantity         `json:"maxDosePerLifetime,omitempty"`
}

// DoseAndRate contains dose/rate information.
type DoseAndRate struct {
	Type         *CodeableConcept `json:"type,omitempty"`
	DoseRange    *Range           `json:"doseRange,omitempty"`
	DoseQuantity *Quantity        `json:"doseQuantity,omitempty"`
	RateRatio    *Ratio           `json:"rateRatio,omitempty"`
	RateRange    *Range           `json:"rateRange,omitempty"`
	RateQuantity *Quantity        `json:"rateQuantity,omitempty"`
}

// Timing contains timing information for dosage.
type Timing struct {
	Event  []time.Time      `json:"event,omitempty"`
	Repeat *TimingRepeat    `json:"repeat,omitempty"`
	Code   *CodeableConcept `json:"code,omitempty"`
}

// TimingRepeat contains repeat details for timing.
type TimingRepeat struct {
	BoundsDuration *Duration `json:"boundsDuration,omitempty"`
	BoundsRange    *Range    `json:"boundsRange,omitempty"`
	BoundsPeriod   *Period   `json:"boundsPeriod,omitempty"`
	Count          int       `json:"count,omitempty"`
	CountMax       int       `json:"countMax,omitempty"`
	Duration       float64   `json:"duration,omitempty"`
	DurationMax    float64   `json:"durationMax,omitempty"`
	DurationUnit   string    `json:"durationUnit,omitempty"`
	Frequency      int       `json:"frequency,omitempty"`
	FrequencyMax   int       `json:"frequencyMax,omitempty"`
	Period         float64   `json:"period,omitempty"`
	PeriodMax      float64   `json:"periodMax,omitempty"`
	PeriodUnit     string    `json:"periodUnit,omitempty"`
	DayOfWeek      []string  `json:"dayOfWeek,omitempty"`
	TimeOfDay      []string  `json:"timeOfDay,omitempty"`
	When           []string  `json:"when,omitempty"`
	Offset         int       `json:"offset,omitempty"`
}

// GetPatientID extracts the patient ID from the Subject reference.
func (m *MedicationRequest) GetPatientID() string {
	if m.Subject.Reference != "" {
		// Extract ID from reference like "Patient/123"
		return extractIDFromReference(m.Subject.Reference)
	}
	return ""
}

// GetMedicationDisplay returns the display name of the medication.
func (m *MedicationRequest) GetMedicationDisplay() string {
	if m.Medication.Concept != nil && m.Medication.Concept.Text != "" {
		return m.Medication.Concept.Text
	}
	if m.Medication.Concept != nil && len(m.Medication.Concept.Coding) > 0 {
		return m.Medication.Concept.Coding[0].Display
	}
	return ""
}

// GetMedicationCode extracts the primary medication code (RxNorm preferred).
func (m *MedicationRequest) GetMedicationCode() (system, code string) {
	if m.Medication.Concept == nil {
		return "", ""
	}
	for _, coding := range m.Medication.Concept.Coding {
		if coding.System == SystemRxNorm {
			return "rxnorm", coding.Code
		}
	}
	for _, coding := range m.Medication.Concept.Coding {
		if coding.System == SystemNDC {
			return "ndc", coding.Code
		}
	}
	if len(m.Medication.Concept.Coding) > 0 {
		return m.Medication.Concept.Coding[0].System, m.Medication.Concept.Coding[0].Code
	}
	return "", ""
}

// PrimaryDosage returns the first dosage instruction, which carries the
// schedule. Repeated instructions (taper schedules) are out of scope.
func (m *MedicationRequest) PrimaryDosage() *Dosage {
	if len(m.DosageInstruction) == 0 {
		return nil
	}
	return &m.DosageInstruction[0]
}

// GetDoseText returns the human-readable dose strength, e.g. "500mg".
func (m *MedicationRequest) GetDoseText() string {
	d := m.PrimaryDosage()
	if d == nil {
		return ""
	}
	for _, dr := range d.DoseAndRate {
		if dr.DoseQuantity != nil && dr.DoseQuantity.Value > 0 {
			unit := dr.DoseQuantity.Unit
			if unit == "" {
				unit = dr.DoseQuantity.Code
			}
			return trimFloat(dr.DoseQuantity.Value) + unit
		}
	}
	return ""
}

// GetTimesOfDay returns explicit clock times from the timing repeat.
func (m *MedicationRequest) GetTimesOfDay() []string {
	d := m.PrimaryDosage()
	if d == nil || d.Timing == nil || d.Timing.Repeat == nil {
		return nil
	}
	return d.Timing.Repeat.TimeOfDay
}

// GetWhenCodes returns the event timing codes (MORN, NIGHT, HS...)
// excluding meal-relation codes, which GetFoodRelation handles.
func (m *MedicationRequest) GetWhenCodes() []string {
	d := m.PrimaryDosage()
	if d == nil || d.Timing == nil || d.Timing.Repeat == nil {
		return nil
	}
	var codes []string
	for _, w := range d.Timing.Repeat.When {
		switch w {
		case WhenBeforeMeals, WhenAfterMeals, WhenWithMeals:
			continue
		}
		codes = append(codes, w)
	}
	return codes
}

// GetFoodRelation returns the meal-relation code from the timing repeat,
// or empty string when none applies.
func (m *MedicationRequest) GetFoodRelation() string {
	d := m.PrimaryDosage()
	if d == nil || d.Timing == nil || d.Timing.Repeat == nil {
		return ""
	}
	for _, w := range d.Timing.Repeat.When {
		switch w {
		case WhenBeforeMeals, WhenAfterMeals, WhenWithMeals:
			return w
		}
	}
	return ""
}

// GetFrequencyPerDay returns how many administrations per day the timing
// repeat requests, or 0 when the repeat is absent or not daily.
func (m *MedicationRequest) GetFrequencyPerDay() int {
	d := m.PrimaryDosage()
	if d == nil || d.Timing == nil || d.Timing.Repeat == nil {
		return 0
	}
	r := d.Timing.Repeat
	if r.Frequency > 0 && (r.PeriodUnit == "d" || r.PeriodUnit == "") {
		return r.Frequency
	}
	return 0
}

// GetBoundsPeriod returns the timing bounds period, or nil.
func (m *MedicationRequest) GetBoundsPeriod() *Period {
	d := m.PrimaryDosage()
	if d == nil || d.Timing == nil || d.Timing.Repeat == nil {
		return nil
	}
	return d.Timing.Repeat.BoundsPeriod
}

// IsAsNeeded reports whether the order is PRN.
func (m *MedicationRequest) IsAsNeeded() bool {
	d := m.PrimaryDosage()
	return d != nil && d.AsNeeded
}

// GetQuantity returns the dispense quantity.
func (m *MedicationRequest) GetQuantity() (value float64, unit string) {
	if m.DispenseRequest == nil || m.DispenseRequest.Quantity == nil {
		return 0, ""
	}
	return m.DispenseRequest.Quantity.Value, m.DispenseRequest.Quantity.Unit
}

// GetDaysSupply returns the expected supply duration in days.
func (m *MedicationRequest) GetDaysSupply() int {
	if m.DispenseRequest == nil || m.DispenseRequest.ExpectedSupplyDuration == nil {
		return 0
	}
	// Assume days if unit is "d" or empty
	return int(m.DispenseRequest.ExpectedSupplyDuration.Value)
}

// GetValidityPeriod returns the dispense validity period, or nil.
func (m *MedicationRequest) GetValidityPeriod() *Period {
	if m.DispenseRequest == nil {
		return nil
	}
	return m.DispenseRequest.ValidityPeriod
}

// GetSigText returns the rendered dosage instruction (sig).
func (m *MedicationRequest) GetSigText() string {
	if m.RenderedDosageInstruction != "" {
		return m.RenderedDosageInstruction
	}
	if d := m.PrimaryDosage(); d != nil && d.Text != "" {
		return d.Text
	}
	return ""
}

// ToJSON serializes the MedicationRequest to JSON.
func (m *MedicationRequest) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// FromJSON deserializes a MedicationRequest from JSON.
func (m *MedicationRequest) FromJSON(data []byte) error {
	return json.Unmarshal(data, m)
}

// extractIDFromReference extracts the ID from a FHIR reference string.
func extractIDFromReference(ref string) string {
	// Handle references like "Patient/123" or "urn:uuid:123"
	for i := len(ref) - 1; i >= 0; i-- {
		if ref[i] == '/' || ref[i] == ':' {
			return ref[i+1:]
		}
	}
	return ref
}

// trimFloat formats a float without trailing zeros, e.g. 500.0 -> "500".
func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
