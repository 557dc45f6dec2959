package models

import (
	"testing"
	"time"
)

func TestTimeOfDay_Reached(t *testing.T) {
	exit := TimeOfDay{Hour: 15, Minute: 15}
	day := time.Date(2025, 1, 27, 0, 0, 0, 0, IST)

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"one second early", day.Add(15*time.Hour + 14*time.Minute + 59*time.Second), false},
		{"exactly at cutoff", day.Add(15*time.Hour + 15*time.Minute), true},
		{"after cutoff", day.Add(15*time.Hour + 20*time.Minute), true},
		{"morning", day.Add(9 * time.Hour), false},
		// 09:45 UTC is 15:15 IST
		{"other zone", time.Date(2025, 1, 27, 9, 45, 0, 0, time.UTC), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exit.Reached(tt.at, IST); got != tt.want {
				t.Errorf("Reached(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestTimeOfDay_On(t *testing.T) {
	entry := TimeOfDay{Hour: 9, Minute: 25}
	// 22:00 UTC on the 26th is already the 27th in IST
	got := entry.On(time.Date(2025, 1, 26, 22, 0, 0, 0, time.UTC), IST)
	want := time.Date(2025, 1, 27, 9, 25, 0, 0, IST)
	if !got.Equal(want) {
		t.Errorf("On() = %v, want %v", got, want)
	}
	if entry.String() != "09:25" {
		t.Errorf("String() = %q", entry.String())
	}
}

func TestParseTimeOfDay(t *testing.T) {
	got, err := ParseTimeOfDay("09:25")
	if err != nil || got != (TimeOfDay{Hour: 9, Minute: 25}) {
		t.Errorf("ParseTimeOfDay(09:25) = %v, %v", got, err)
	}
	for _, bad := range []string{"", "9.25", "25:00", "09:61"} {
		if _, err := ParseTimeOfDay(bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}

	if !(TimeOfDay{9, 25}).Before(TimeOfDay{15, 15}) {
		t.Error("09:25 should be before 15:15")
	}
	if (TimeOfDay{15, 15}).Before(TimeOfDay{15, 15}) {
		t.Error("A time is not before itself")
	}
}
