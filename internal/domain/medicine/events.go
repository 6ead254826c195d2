// Package medicine implements the medicine order aggregate and its domain
// events. The aggregate's event history is the system of record for both the
// prescription attributes and the adherence log the schedule engine consumes.
package medicine

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/caretrack/go-dose/internal/schedule"
)

// EventType represents the type of domain event
type EventType string

const (
	EventOrderCreated      EventType = "MedicineOrderCreated"
	EventScheduleUpdated   EventType = "MedicineScheduleUpdated"
	EventAdherenceRecorded EventType = "AdherenceRecorded"
	EventOrderCompleted    EventType = "MedicineOrderCompleted"
	EventOrderDiscontinued EventType = "MedicineOrderDiscontinued"
)

// Event represents a domain event
type Event struct {
	ID            string          `json:"id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     EventType       `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Version       int             `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	PatientID     string          `json:"patient_id,omitempty"`
	RecordedBy    string          `json:"recorded_by,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// NewEvent creates a new event
func NewEvent(aggregateID string, eventType EventType, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: "MedicineOrder",
		EventType:     eventType,
		EventData:     eventData,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// WithAuditInfo sets audit fields
func (e *Event) WithAuditInfo(patientID, recordedBy string) *Event {
	e.PatientID = patientID
	e.RecordedBy = recordedBy
	return e
}

// DurationData is the serializable form of a duration spec.
type DurationData struct {
	Type          string     `json:"type"` // date_range | tablet_count | unspecified
	Start         *time.Time `json:"start,omitempty"`
	End           *time.Time `json:"end,omitempty"`
	TotalTablets  int        `json:"total_tablets,omitempty"`
	TabletsPerDay int        `json:"tablets_per_day,omitempty"`
}

// Spec converts the serialized form back to the engine's tagged union.
func (d DurationData) Spec() schedule.DurationSpec {
	switch d.Type {
	case "date_range":
		if d.Start == nil || d.End == nil {
			return nil
		}
		return schedule.DateRange{Start: *d.Start, End: *d.End}
	case "tablet_count":
		tc := schedule.TabletCount{TotalTablets: d.TotalTablets, TabletsPerDay: d.TabletsPerDay}
		if d.Start != nil {
			tc.Start = *d.Start
		}
		return tc
	default:
		return nil
	}
}

// DurationDataFrom serializes an engine duration spec.
func DurationDataFrom(spec schedule.DurationSpec) DurationData {
	switch s := spec.(type) {
	case schedule.DateRange:
		start, end := s.Start, s.End
		return DurationData{Type: "date_range", Start: &start, End: &end}
	case schedule.TabletCount:
		d := DurationData{
			Type:          "tablet_count",
			TotalTablets:  s.TotalTablets,
			TabletsPerDay: s.TabletsPerDay,
		}
		if !s.Start.IsZero() {
			start := s.Start
			d.Start = &start
		}
		return d
	default:
		return DurationData{Type: "unspecified"}
	}
}

// OrderCreatedData contains the prescription attributes at creation time.
type OrderCreatedData struct {
	OrderID        string              `json:"order_id"`
	PatientID      string              `json:"patient_id"`
	PrescriberID   string              `json:"prescriber_id,omitempty"`
	Name           string              `json:"name"`
	Dosage         string              `json:"dosage"`
	Frequency      string              `json:"frequency,omitempty"`
	Timing         []string            `json:"timing,omitempty"`
	FoodTiming     schedule.FoodTiming `json:"food_timing,omitempty"`
	Duration       DurationData        `json:"duration"`
	PrescribedDate time.Time           `json:"prescribed_date"`
}

// ScheduleUpdatedData contains revised timing or duration.
type ScheduleUpdatedData struct {
	OrderID   string              `json:"order_id"`
	Timing    []string            `json:"timing,omitempty"`
	Frequency string              `json:"frequency,omitempty"`
	Duration  *DurationData       `json:"duration,omitempty"`
	Food      schedule.FoodTiming `json:"food_timing,omitempty"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// AdherenceRecordedData contains one recorded adherence fact.
type AdherenceRecordedData struct {
	OrderID   string    `json:"order_id"`
	EntryID   string    `json:"entry_id"`
	DoseID    string    `json:"dose_id"`
	Taken     bool      `json:"taken"`
	Timestamp time.Time `json:"timestamp"`
	Notes     string    `json:"notes,omitempty"`
}

// OrderCompletedData marks the end of a course that ran its full duration.
type OrderCompletedData struct {
	OrderID     string    `json:"order_id"`
	CompletedAt time.Time `json:"completed_at"`
}

// OrderDiscontinuedData contains discontinuation details.
type OrderDiscontinuedData struct {
	OrderID        string    `json:"order_id"`
	Reason         string    `json:"reason,omitempty"`
	DiscontinuedAt time.Time `json:"discontinued_at"`
}
