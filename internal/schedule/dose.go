package schedule

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// GraceWindow is the interval around a dose's scheduled time during which it
// is considered actionable. A dose is "current" and "active" within it,
// "overdue" once it is further in the past, and "upcoming" when further in
// the future.
const GraceWindow = 30 * time.Minute

// RecordedIDPrefix marks dose IDs carried from a recorded adherence entry,
// so consumers can distinguish recorded doses from generated ones.
const RecordedIDPrefix = "adherence-"

// Dose is one scheduled occurrence of taking a medicine. The temporal flags
// are computed against the clock injected into Expand and are never stored.
type Dose struct {
	ID            string     `json:"id"`
	ScheduledTime time.Time  `json:"scheduled_time"`
	TimeLabel     string     `json:"time_label"`
	Taken         bool       `json:"taken"`
	TakenAt       *time.Time `json:"taken_at,omitempty"`
	Notes         string     `json:"notes,omitempty"`

	// Recorded is true when an adherence entry exists for this dose.
	// Recorded history is terminal: the dose keeps its log-derived state and
	// is never reclassified by the clock.
	Recorded bool `json:"recorded"`

	Overdue  bool `json:"is_overdue"`
	Current  bool `json:"is_current"`
	Upcoming bool `json:"is_upcoming"`
	Active   bool `json:"is_active"`
}

// MedicineSchedule is the engine's output: a chronological projection of one
// medicine's doses plus the aggregate adherence rate. It is recomputed on
// demand and never persisted.
type MedicineSchedule struct {
	MedicineID     string     `json:"medicine_id"`
	Name           string     `json:"name"`
	Dosage         string     `json:"dosage"`
	Frequency      string     `json:"frequency"`
	Duration       string     `json:"duration"`
	Timing         []string   `json:"timing"`
	FoodTiming     FoodTiming `json:"food_timing,omitempty"`
	PrescribedDate time.Time  `json:"prescribed_date"`
	TotalDoses     int        `json:"total_doses"`
	Doses          []Dose     `json:"doses"`
	AdherenceRate  int        `json:"adherence_rate"`
}

// Dose looks up a dose by ID.
func (s *MedicineSchedule) Dose(id string) (*Dose, bool) {
	for i := range s.Doses {
		if s.Doses[i].ID == id {
			return &s.Doses[i], true
		}
	}
	return nil, false
}

// doseID derives a stable identifier for a generated dose from the order and
// its scheduled time, so repeated expansions agree.
func doseID(orderID string, at time.Time) string {
	sum := sha256.Sum256([]byte(orderID + "|" + at.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(sum[:8])
}
