package schedule

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Engine expands medicine orders into dose schedules. Expansion is a pure
// function of its inputs plus the injected clock; the logger only carries
// warning-level diagnostics for soft fallbacks and its absence never changes
// the result.
type Engine struct {
	logger *zap.Logger
}

// NewEngine creates a schedule engine.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// Expand computes the full dose schedule for one medicine order as of now.
// It returns an InvalidMedicineError when the order lacks identifying
// fields; unparseable timing, frequency, or duration never fail, they
// degrade to the documented fallbacks.
func (e *Engine) Expand(order MedicineOrder, now time.Time) (*MedicineSchedule, error) {
	if order.Name == "" {
		return nil, &InvalidMedicineError{Field: "name", Reason: "is required"}
	}
	if order.Dosage == "" {
		return nil, &InvalidMedicineError{Field: "dosage", Reason: "is required"}
	}

	slots, diags := resolveSlots(order)
	startDay, days, perDay, durationLabel := e.resolveDays(order, now, &diags)

	for _, d := range diags {
		e.logger.Warn("schedule fallback applied",
			zap.String("medicine", order.Name),
			zap.String("diagnostic", d),
		)
	}

	// Tablet supply caps slots per day; extra tablets beyond the timing
	// slots only extend the day count, never add same-day doses.
	daySlots := slots
	if perDay > 0 && perDay < len(daySlots) {
		daySlots = daySlots[:perDay]
	}

	doses := make([]Dose, 0, days*len(daySlots))
	for i := 0; i < days; i++ {
		for _, s := range daySlots {
			at := time.Date(startDay.Year(), startDay.Month(), startDay.Day()+i,
				s.hour, s.minute, 0, 0, startDay.Location())
			doses = append(doses, Dose{
				ID:            doseID(order.ID, at),
				ScheduledTime: at,
				TimeLabel:     timeLabel(s, order.FoodTiming),
			})
		}
	}
	generated := len(doses)

	doses = e.mergeAdherence(order, doses)

	sort.Slice(doses, func(i, j int) bool {
		return doses[i].ScheduledTime.Before(doses[j].ScheduledTime)
	})

	for i := range doses {
		classify(&doses[i], now)
	}

	timing := make([]string, len(daySlots))
	for i, s := range daySlots {
		timing[i] = s.label
	}

	return &MedicineSchedule{
		MedicineID:     order.ID,
		Name:           order.Name,
		Dosage:         order.Dosage,
		Frequency:      order.Frequency,
		Duration:       durationLabel,
		Timing:         timing,
		FoodTiming:     order.FoodTiming,
		PrescribedDate: order.PrescribedDate,
		TotalDoses:     generated,
		Doses:          doses,
		AdherenceRate:  adherenceRate(doses, now),
	}, nil
}

// Result pairs one order's expansion outcome with its position, for batch
// callers that must keep going past per-item failures.
type Result struct {
	Index    int
	Schedule *MedicineSchedule
	Err      error
}

// ExpandAll expands every order in a patient's medicine list. A failure on
// one order never blocks the rest.
func (e *Engine) ExpandAll(orders []MedicineOrder, now time.Time) []Result {
	results := make([]Result, len(orders))
	for i, order := range orders {
		sched, err := e.Expand(order, now)
		results[i] = Result{Index: i, Schedule: sched, Err: err}
	}
	return results
}

// resolveDays determines the first scheduled day, the day count, and the
// per-day slot cap from the order's duration spec. Fails closed: a reversed
// date range is swapped, a degenerate tablet count falls back to one day.
func (e *Engine) resolveDays(order MedicineOrder, now time.Time, diags *[]string) (time.Time, int, int, string) {
	fallbackStart := order.PrescribedDate
	if fallbackStart.IsZero() {
		fallbackStart = now
	}

	switch spec := order.Duration.(type) {
	case DateRange:
		start, end := midnight(spec.Start), midnight(spec.End)
		if start.After(end) {
			*diags = append(*diags, "date range reversed, swapping endpoints")
			start, end = end, start
		}
		days := 0
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			days++
		}
		label := fmt.Sprintf("%s to %s", start.Format("2006-01-02"), end.Format("2006-01-02"))
		return start, days, 0, label

	case TabletCount:
		if spec.TotalTablets <= 0 || spec.TabletsPerDay <= 0 {
			*diags = append(*diags, fmt.Sprintf("unusable tablet count %d/%d, treating as single day",
				spec.TotalTablets, spec.TabletsPerDay))
			return midnight(fallbackStart), 1, 0, "1 day"
		}
		days := (spec.TotalTablets + spec.TabletsPerDay - 1) / spec.TabletsPerDay
		start := spec.Start
		if start.IsZero() {
			start = fallbackStart
		}
		label := fmt.Sprintf("%d days (%d tablets total)", days, spec.TotalTablets)
		return midnight(start), days, spec.TabletsPerDay, label

	default:
		return midnight(fallbackStart), 1, 0, "1 day"
	}
}

// mergeAdherence folds the recorded adherence log into the generated doses.
// Each entry claims the closest unclaimed dose within the grace window; an
// entry with no matching dose becomes a synthetic dose so history is never
// lost.
func (e *Engine) mergeAdherence(order MedicineOrder, doses []Dose) []Dose {
	claimed := make([]bool, len(doses))

	for _, entry := range order.Adherence {
		best := -1
		bestDiff := GraceWindow + 1
		for i := range doses {
			if claimed[i] {
				continue
			}
			diff := absDuration(doses[i].ScheduledTime.Sub(entry.Timestamp))
			if diff <= GraceWindow && diff < bestDiff {
				best, bestDiff = i, diff
			}
		}

		entryID := entry.ID
		if entryID == "" {
			entryID = doseID(order.ID, entry.Timestamp)
		}

		if best >= 0 {
			claimed[best] = true
			d := &doses[best]
			d.ID = RecordedIDPrefix + entryID
			d.Recorded = true
			d.Taken = entry.Taken
			d.Notes = entry.Notes
			if entry.Taken {
				at := entry.Timestamp
				d.TakenAt = &at
			}
			continue
		}

		// Off-schedule entry: materialize it rather than discard the record.
		synthetic := Dose{
			ID:            RecordedIDPrefix + entryID,
			ScheduledTime: entry.Timestamp,
			TimeLabel:     clockLabel(entry.Timestamp, order.FoodTiming),
			Recorded:      true,
			Taken:         entry.Taken,
			Notes:         entry.Notes,
		}
		if entry.Taken {
			at := entry.Timestamp
			synthetic.TakenAt = &at
		}
		doses = append(doses, synthetic)
	}
	return doses
}

// classify sets the temporal flags for a dose against now. Recorded history
// is terminal and keeps all flags cleared.
func classify(d *Dose, now time.Time) {
	if d.Recorded || d.Taken {
		return
	}
	past := now.Sub(d.ScheduledTime)
	switch {
	case past > GraceWindow:
		d.Overdue = true
	case absDuration(past) <= GraceWindow:
		d.Current = true
		d.Active = true
	default:
		d.Upcoming = true
	}
}

// adherenceRate computes round(100 * taken / eligible) where eligible counts
// doses already due. Upcoming doses never penalize the rate; an empty
// denominator yields 0, not NaN.
func adherenceRate(doses []Dose, now time.Time) int {
	var taken, eligible int
	for _, d := range doses {
		if d.ScheduledTime.After(now) {
			continue
		}
		eligible++
		if d.Taken {
			taken++
		}
	}
	if eligible == 0 {
		return 0
	}
	return int(math.Round(100 * float64(taken) / float64(eligible)))
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func clockLabel(t time.Time, food FoodTiming) string {
	s := slot{hour: t.Hour(), minute: t.Minute()}
	s.label = fmt.Sprintf("%02d:%02d", s.hour, s.minute)
	return timeLabel(s, food)
}
