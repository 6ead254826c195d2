package schedule

import (
	"errors"
	"fmt"
	"time"
)

// ErrDoseNotFound indicates a recordAdherence target that does not exist in
// the schedule.
var ErrDoseNotFound = errors.New("dose not found in schedule")

// InvalidMedicineError indicates a medicine order missing required
// identifying fields. It aborts expansion for that single order only;
// batch callers surface it per item.
type InvalidMedicineError struct {
	Field  string
	Reason string
}

func (e *InvalidMedicineError) Error() string {
	return fmt.Sprintf("invalid medicine: %s %s", e.Field, e.Reason)
}

// NotActiveError indicates an adherence recording attempt outside the dose's
// active window.
type NotActiveError struct {
	DoseID        string
	ScheduledTime time.Time
	At            time.Time
}

func (e *NotActiveError) Error() string {
	return fmt.Sprintf("dose %s is not active: scheduled %s, attempted %s (window ±%s)",
		e.DoseID, e.ScheduledTime.Format(time.RFC3339), e.At.Format(time.RFC3339), GraceWindow)
}
