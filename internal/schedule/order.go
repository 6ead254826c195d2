// Package schedule implements the dose schedule engine: it expands a medicine
// order into concrete dose occurrences, merges recorded adherence history, and
// classifies each dose against an injected clock.
package schedule

import "time"

// FoodTiming is the advisory food relation for a medicine. It is carried
// through to dose labels and never affects scheduling math.
type FoodTiming string

const (
	FoodBefore FoodTiming = "before"
	FoodAfter  FoodTiming = "after"
	FoodWith   FoodTiming = "with"
	FoodNone   FoodTiming = ""
)

// DurationSpec determines how many days a medicine's schedule spans.
// A nil DurationSpec means unspecified and falls back to a single day.
type DurationSpec interface {
	durationSpec()
}

// DateRange schedules doses on every day in [Start, End] inclusive.
type DateRange struct {
	Start time.Time
	End   time.Time
}

func (DateRange) durationSpec() {}

// TabletCount derives the day span from a tablet supply: the schedule runs
// ceil(TotalTablets/TabletsPerDay) days from Start (or the prescribed date
// when Start is zero), using at most TabletsPerDay timing slots per day.
type TabletCount struct {
	TotalTablets  int
	TabletsPerDay int
	Start         time.Time
}

func (TabletCount) durationSpec() {}

// AdherenceEntry is one recorded adherence fact supplied by the backing
// store. Entries are authoritative history: the engine merges them against
// generated doses and never regenerates or drops them.
type AdherenceEntry struct {
	ID        string
	Timestamp time.Time
	Taken     bool
	Notes     string
}

// MedicineOrder is the validated prescription input to the engine. Callers
// are responsible for parsing loose upstream payloads into this shape (see
// the intake package); the engine only applies the documented fallbacks.
type MedicineOrder struct {
	ID             string
	Name           string
	Dosage         string
	Frequency      string
	Timing         []string
	FoodTiming     FoodTiming
	Duration       DurationSpec
	PrescribedDate time.Time
	Adherence      []AdherenceEntry
}
