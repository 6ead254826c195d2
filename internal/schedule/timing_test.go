package schedule

import "testing"

func TestResolveSlots(t *testing.T) {
	tests := []struct {
		name      string
		timing    []string
		frequency string
		want      []string // expected labels in order
	}{
		{
			name:   "named slots sorted chronologically",
			timing: []string{"night", "morning"},
			want:   []string{"Morning", "Night"},
		},
		{
			name:   "literal clock times",
			timing: []string{"07:30", "19:00"},
			want:   []string{"07:30", "19:00"},
		},
		{
			name:   "mixed names and clock times deduped",
			timing: []string{"morning", "08:00", "night"},
			want:   []string{"Morning", "Night"},
		},
		{
			name:      "twice daily from frequency",
			frequency: "Twice daily",
			want:      []string{"08:00", "20:00"},
		},
		{
			name:      "thrice daily from frequency",
			frequency: "thrice daily after meals",
			want:      []string{"08:00", "14:00", "20:00"},
		},
		{
			name:      "bare count from frequency",
			frequency: "4 times a day",
			want:      []string{"08:00", "12:00", "16:00", "20:00"},
		},
		{
			name:      "named buckets in frequency text",
			frequency: "Morning and night",
			want:      []string{"Morning", "Night"},
		},
		{
			name:      "embedded clock times in frequency",
			frequency: "at 09:00 and 21:00",
			want:      []string{"09:00", "21:00"},
		},
		{
			name:      "unparseable falls back to default",
			frequency: "as needed",
			want:      []string{"08:00"},
		},
		{
			name: "nothing at all falls back to default",
			want: []string{"08:00"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slots, _ := resolveSlots(MedicineOrder{
				Name:      "test",
				Timing:    tt.timing,
				Frequency: tt.frequency,
			})
			if len(slots) != len(tt.want) {
				t.Fatalf("expected %d slots, got %d", len(tt.want), len(slots))
			}
			for i, s := range slots {
				if s.label != tt.want[i] {
					t.Errorf("slot %d: expected %q, got %q", i, tt.want[i], s.label)
				}
			}
		})
	}
}

func TestResolveSlotsDiagnostics(t *testing.T) {
	_, diags := resolveSlots(MedicineOrder{
		Name:   "test",
		Timing: []string{"whenever"},
	})
	if len(diags) == 0 {
		t.Error("unrecognized timing entry should produce a diagnostic")
	}
}

func TestTimeLabelFoodSuffix(t *testing.T) {
	s := slot{hour: 8, label: "Morning"}
	if got := timeLabel(s, FoodAfter); got != "Morning (after food)" {
		t.Errorf("unexpected label: %q", got)
	}
	if got := timeLabel(s, FoodNone); got != "Morning" {
		t.Errorf("unexpected label without food timing: %q", got)
	}
}

func TestParseClockRejectsInvalid(t *testing.T) {
	for _, v := range []string{"25:00", "12:61", "noonish", "8am"} {
		if _, ok := parseClock(v); ok {
			t.Errorf("%q should not parse as a clock time", v)
		}
	}
}
