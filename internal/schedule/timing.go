package schedule

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// slot is a resolved time-of-day at which a dose is due.
type slot struct {
	hour   int
	minute int
	label  string
}

func (s slot) minutes() int { return s.hour*60 + s.minute }

// Named slot defaults. These mirror the fixed times the scheduling UI uses
// for its morning/afternoon/night buckets.
var namedSlots = map[string]slot{
	"morning":   {hour: 8, label: "Morning"},
	"noon":      {hour: 12, label: "Noon"},
	"afternoon": {hour: 14, label: "Afternoon"},
	"evening":   {hour: 20, label: "Evening"},
	"night":     {hour: 20, label: "Night"},
	"bedtime":   {hour: 22, label: "Bedtime"},
}

var clockPattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

var embeddedClockPattern = regexp.MustCompile(`(\d{1,2}):(\d{2})`)

// defaultSlot is the single-slot fallback when neither timing nor frequency
// yields anything usable.
var defaultSlot = slot{hour: 8, label: "08:00"}

// resolveSlots normalizes an order's timing entries to concrete slots,
// falling back to frequency keyword parsing and finally to the default slot.
// The returned slice is chronological, deduplicated, and never empty.
// The second return lists soft diagnostics for entries that could not be
// interpreted; they never abort resolution.
func resolveSlots(order MedicineOrder) ([]slot, []string) {
	var diags []string

	slots := parseTimingEntries(order.Timing, &diags)
	if len(slots) == 0 {
		slots = parseFrequency(order.Frequency, &diags)
	}
	if len(slots) == 0 {
		diags = append(diags, fmt.Sprintf("no usable timing or frequency for %q, using default slot", order.Name))
		slots = []slot{defaultSlot}
	}

	sort.Slice(slots, func(i, j int) bool { return slots[i].minutes() < slots[j].minutes() })

	// Dedupe identical times, keeping the first label.
	out := slots[:0]
	seen := make(map[int]bool, len(slots))
	for _, s := range slots {
		if seen[s.minutes()] {
			continue
		}
		seen[s.minutes()] = true
		out = append(out, s)
	}
	return out, diags
}

// parseTimingEntries interprets explicit timing entries: named time-of-day
// labels or literal HH:MM strings.
func parseTimingEntries(timing []string, diags *[]string) []slot {
	var slots []slot
	for _, entry := range timing {
		normalized := strings.ToLower(strings.TrimSpace(entry))
		if normalized == "" {
			continue
		}
		if named, ok := namedSlots[normalized]; ok {
			slots = append(slots, named)
			continue
		}
		if s, ok := parseClock(normalized); ok {
			slots = append(slots, s)
			continue
		}
		*diags = append(*diags, fmt.Sprintf("unrecognized timing entry %q", entry))
	}
	return slots
}

// parseFrequency derives slots from a free-text frequency descriptor.
// Keyword matching only; anything unrecognized yields no slots so the caller
// applies the default.
func parseFrequency(frequency string, diags *[]string) []slot {
	freq := strings.ToLower(strings.TrimSpace(frequency))
	if freq == "" {
		return nil
	}

	var slots []slot
	for name, s := range namedSlots {
		if strings.Contains(freq, name) {
			slots = append(slots, s)
		}
	}
	if len(slots) > 0 {
		return slots
	}

	for _, m := range embeddedClockPattern.FindAllString(freq, -1) {
		if s, ok := parseClock(m); ok {
			slots = append(slots, s)
		}
	}
	if len(slots) > 0 {
		return slots
	}

	switch {
	case strings.Contains(freq, "once"):
		return spacedSlots(1)
	case strings.Contains(freq, "twice"):
		return spacedSlots(2)
	case strings.Contains(freq, "thrice"), strings.Contains(freq, "three"):
		return spacedSlots(3)
	}

	if n := leadingInt(freq); n > 0 {
		return spacedSlots(n)
	}

	*diags = append(*diags, fmt.Sprintf("unparseable frequency %q", frequency))
	return nil
}

// spacedSlots distributes n slots evenly between 08:00 and 20:00.
func spacedSlots(n int) []slot {
	if n <= 1 {
		return []slot{defaultSlot}
	}
	const first, last = 8 * 60, 20 * 60
	step := (last - first) / (n - 1)
	slots := make([]slot, 0, n)
	for i := 0; i < n; i++ {
		m := first + i*step
		s := slot{hour: m / 60, minute: m % 60}
		s.label = fmt.Sprintf("%02d:%02d", s.hour, s.minute)
		slots = append(slots, s)
	}
	return slots
}

func parseClock(v string) (slot, bool) {
	m := clockPattern.FindStringSubmatch(v)
	if m == nil {
		return slot{}, false
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	if hour > 23 || minute > 59 {
		return slot{}, false
	}
	return slot{hour: hour, minute: minute, label: fmt.Sprintf("%02d:%02d", hour, minute)}, true
}

// leadingInt extracts the first integer in a string, 0 if none.
func leadingInt(v string) int {
	start := -1
	for i, r := range v {
		if r >= '0' && r <= '9' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			n, _ := strconv.Atoi(v[start:i])
			return n
		}
	}
	if start >= 0 {
		n, _ := strconv.Atoi(v[start:])
		return n
	}
	return 0
}

// timeLabel renders the display label for a slot, appending the food
// relation when present.
func timeLabel(s slot, food FoodTiming) string {
	if food == FoodNone {
		return s.label
	}
	return fmt.Sprintf("%s (%s food)", s.label, food)
}
