// Package r5 provides FHIR R5 data structures for medication order intake.
package r5

import "time"

// Patient represents a FHIR R5 Patient resource.
type Patient struct {
	ResourceType         string                 `json:"resourceType"`
	ID                   string                 `json:"id,omitempty"`
	Meta                 *Meta                  `json:"meta,omitempty"`
	Identifier           []Identifier           `json:"identifier,omitempty"`
	Active               bool                   `json:"active,omitempty"`
	Name                 []HumanName            `json:"name,omitempty"`
	Telecom              []ContactPoint         `json:"telecom,omitempty"`
	Gender               string                 `json:"gender,omitempty"` // male | female | other | unknown
	BirthDate            string                 `json:"birthDate,omitempty"`
	DeceasedBoolean      *bool                  `json:"deceasedBoolean,omitempty"`
	DeceasedDateTime     *time.Time             `json:"deceasedDateTime,omitempty"`
	Communication        []PatientCommunication `json:"communication,omitempty"`
	GeneralPractitioner  []Reference            `json:"generalPractitioner,omitempty"`
	ManagingOrganization *Reference             `json:"managingOrganization,omitempty"`
}

// PatientCommunication represents a patient's preferred language.
type PatientCommunication struct {
	Language  CodeableConcept `json:"language"`
	Preferred bool            `json:"preferred,omitempty"`
}

// GetOfficialName returns the patient's official name, or first available.
func (p *Patient) GetOfficialName() *HumanName {
	for i := range p.Name {
		if p.Name[i].Use == "official" {
			return &p.Name[i]
		}
	}
	if len(p.Name) > 0 {
		return &p.Name[0]
	}
	return nil
}

// GetFullName returns the patient's full name as a string.
func (p *Patient) GetFullName() string {
	name := p.GetOfficialName()
	if name == nil {
		return ""
	}
	if name.Text != "" {
		return name.Text
	}
	result := ""
	for _, g := range name.Given {
		if result != "" {
			result += " "
		}
		result += g
	}
	if name.Family != "" {
		if result != "" {
			result += " "
		}
		result += name.Family
	}
	return result
}

// GetMRN returns the patient's medical record number.
func (p *Patient) GetMRN() string {
	for _, id := range p.Identifier {
		if id.Type != nil {
			for _, coding := range id.Type.Coding {
				if coding.Code == "MR" {
					return id.Value
				}
			}
		}
	}
	return ""
}

// GetPhone returns the patient's primary phone number.
// Reminder delivery channels resolve contact details from here.
func (p *Patient) GetPhone() string {
	for _, t := range p.Telecom {
		if t.System == "phone" {
			return t.Value
		}
	}
	return ""
}
