package medicine

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/caretrack/go-dose/internal/schedule"
)

// Status represents medicine order status
type Status string

const (
	StatusDraft        Status = "draft"
	StatusActive       Status = "active"
	StatusCompleted    Status = "completed"
	StatusDiscontinued Status = "discontinued"
)

// Aggregate is the medicine order aggregate root. Its replayed event history
// yields the schedule engine's input: prescription attributes plus the
// accumulated adherence log.
type Aggregate struct {
	id             string
	version        int
	status         Status
	patientID      string
	prescriberID   string
	name           string
	dosage         string
	frequency      string
	timing         []string
	foodTiming     schedule.FoodTiming
	duration       DurationData
	prescribedDate time.Time
	adherence      []schedule.AdherenceEntry
	createdAt      time.Time
	updatedAt      time.Time
	changes        []*Event
}

// NewAggregate creates a new medicine order aggregate
func NewAggregate(id string) *Aggregate {
	return &Aggregate{
		id:        id,
		status:    StatusDraft,
		createdAt: time.Now().UTC(),
		updatedAt: time.Now().UTC(),
		changes:   make([]*Event, 0),
	}
}

// ID returns the aggregate ID
func (a *Aggregate) ID() string { return a.id }

// Version returns the current version
func (a *Aggregate) Version() int { return a.version }

// Status returns the current status
func (a *Aggregate) Status() Status { return a.status }

// PatientID returns the patient this order belongs to
func (a *Aggregate) PatientID() string { return a.patientID }

// Changes returns uncommitted events
func (a *Aggregate) Changes() []*Event { return a.changes }

// ClearChanges clears uncommitted events
func (a *Aggregate) ClearChanges() { a.changes = make([]*Event, 0) }

// Order projects the aggregate state into the schedule engine's input.
func (a *Aggregate) Order() schedule.MedicineOrder {
	return schedule.MedicineOrder{
		ID:             a.id,
		Name:           a.name,
		Dosage:         a.dosage,
		Frequency:      a.frequency,
		Timing:         a.timing,
		FoodTiming:     a.foodTiming,
		Duration:       a.duration.Spec(),
		PrescribedDate: a.prescribedDate,
		Adherence:      a.adherence,
	}
}

// Create initializes the medicine order
func (a *Aggregate) Create(data *OrderCreatedData) error {
	if a.status != StatusDraft {
		return errors.New("medicine order already created")
	}
	if data.Name == "" || data.Dosage == "" {
		return errors.New("medicine name and dosage are required")
	}

	event, err := NewEvent(a.id, EventOrderCreated, data)
	if err != nil {
		return err
	}
	event.WithAuditInfo(data.PatientID, data.PrescriberID)

	a.apply(event)
	a.changes = append(a.changes, event)
	return nil
}

// UpdateSchedule revises the order's timing, frequency, or duration.
func (a *Aggregate) UpdateSchedule(data *ScheduleUpdatedData) error {
	if a.status != StatusActive {
		return errors.New("medicine order not active")
	}

	data.OrderID = a.id
	data.UpdatedAt = time.Now().UTC()

	event, err := NewEvent(a.id, EventScheduleUpdated, data)
	if err != nil {
		return err
	}
	event.WithAuditInfo(a.patientID, "")

	a.apply(event)
	a.changes = append(a.changes, event)
	return nil
}

// RecordAdherence appends one adherence fact to the order's history.
func (a *Aggregate) RecordAdherence(data *AdherenceRecordedData) error {
	if a.status != StatusActive {
		return errors.New("medicine order not active")
	}

	data.OrderID = a.id

	event, err := NewEvent(a.id, EventAdherenceRecorded, data)
	if err != nil {
		return err
	}
	event.WithAuditInfo(a.patientID, "")

	a.apply(event)
	a.changes = append(a.changes, event)
	return nil
}

// Complete marks the order finished after its course ran out.
func (a *Aggregate) Complete() error {
	if a.status != StatusActive {
		return errors.New("medicine order not active")
	}

	data := &OrderCompletedData{
		OrderID:     a.id,
		CompletedAt: time.Now().UTC(),
	}

	event, err := NewEvent(a.id, EventOrderCompleted, data)
	if err != nil {
		return err
	}
	event.WithAuditInfo(a.patientID, "")

	a.apply(event)
	a.changes = append(a.changes, event)
	return nil
}

// Discontinue ends the order before its natural duration.
func (a *Aggregate) Discontinue(reason string) error {
	if a.status != StatusActive {
		return errors.New("medicine order not active")
	}

	data := &OrderDiscontinuedData{
		OrderID:        a.id,
		Reason:         reason,
		DiscontinuedAt: time.Now().UTC(),
	}

	event, err := NewEvent(a.id, EventOrderDiscontinued, data)
	if err != nil {
		return err
	}
	event.WithAuditInfo(a.patientID, "")

	a.apply(event)
	a.changes = append(a.changes, event)
	return nil
}

// apply applies an event to update state
func (a *Aggregate) apply(event *Event) {
	a.version++
	a.updatedAt = event.Timestamp

	switch event.EventType {
	case EventOrderCreated:
		a.applyCreated(event)
	case EventScheduleUpdated:
		a.applyScheduleUpdated(event)
	case EventAdherenceRecorded:
		a.applyAdherenceRecorded(event)
	case EventOrderCompleted:
		a.status = StatusCompleted
	case EventOrderDiscontinued:
		a.status = StatusDiscontinued
	}
}

func (a *Aggregate) applyCreated(event *Event) {
	var data OrderCreatedData
	if err := json.Unmarshal(event.EventData, &data); err != nil {
		return
	}
	a.status = StatusActive
	a.patientID = data.PatientID
	a.prescriberID = data.PrescriberID
	a.name = data.Name
	a.dosage = data.Dosage
	a.frequency = data.Frequency
	a.timing = data.Timing
	a.foodTiming = data.FoodTiming
	a.duration = data.Duration
	a.prescribedDate = data.PrescribedDate
}

func (a *Aggregate) applyScheduleUpdated(event *Event) {
	var data ScheduleUpdatedData
	if err := json.Unmarshal(event.EventData, &data); err != nil {
		return
	}
	if len(data.Timing) > 0 {
		a.timing = data.Timing
	}
	if data.Frequency != "" {
		a.frequency = data.Frequency
	}
	if data.Duration != nil {
		a.duration = *data.Duration
	}
	if data.Food != schedule.FoodNone {
		a.foodTiming = data.Food
	}
}

func (a *Aggregate) applyAdherenceRecorded(event *Event) {
	var data AdherenceRecordedData
	if err := json.Unmarshal(event.EventData, &data); err != nil {
		return
	}

	// A correction reuses the entry ID and replaces the prior record.
	for i := range a.adherence {
		if a.adherence[i].ID == data.EntryID {
			a.adherence[i] = schedule.AdherenceEntry{
				ID:        data.EntryID,
				Timestamp: data.Timestamp,
				Taken:     data.Taken,
				Notes:     data.Notes,
			}
			return
		}
	}

	a.adherence = append(a.adherence, schedule.AdherenceEntry{
		ID:        data.EntryID,
		Timestamp: data.Timestamp,
		Taken:     data.Taken,
		Notes:     data.Notes,
	})
}

// LoadFromHistory rebuilds state from events
func (a *Aggregate) LoadFromHistory(events []*Event) {
	for _, event := range events {
		a.apply(event)
	}
}
