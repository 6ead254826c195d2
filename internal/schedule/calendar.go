package schedule

import "time"

// DayGroup is one local calendar day of a schedule.
type DayGroup struct {
	Date  time.Time `json:"date"`
	Doses []Dose    `json:"doses"`
}

// GroupByDay buckets a schedule's doses by local calendar day, preserving
// chronological order within and across days.
func GroupByDay(sched *MedicineSchedule) []DayGroup {
	var groups []DayGroup
	for _, d := range sched.Doses {
		day := midnight(d.ScheduledTime)
		if n := len(groups); n > 0 && groups[n-1].Date.Equal(day) {
			groups[n-1].Doses = append(groups[n-1].Doses, d)
			continue
		}
		groups = append(groups, DayGroup{Date: day, Doses: []Dose{d}})
	}
	return groups
}
