package scheduling

import (
	"errors"
	"testing"
	"time"

	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
)

func madrid(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Madrid")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	return loc
}

func TestOverlaps(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2024, 6, 3, h, m, 0, 0, time.UTC) }
	tests := []struct {
		name string
		a, b [2]time.Time
		want bool
	}{
		{"partial overlap", [2]time.Time{at(10, 15), at(10, 45)}, [2]time.Time{at(10, 0), at(10, 30)}, true},
		{"contained", [2]time.Time{at(10, 5), at(10, 10)}, [2]time.Time{at(10, 0), at(10, 30)}, true},
		{"identical", [2]time.Time{at(10, 0), at(10, 30)}, [2]time.Time{at(10, 0), at(10, 30)}, true},
		{"adjacent after", [2]time.Time{at(10, 30), at(11, 0)}, [2]time.Time{at(10, 0), at(10, 30)}, false},
		{"adjacent before", [2]time.Time{at(9, 30), at(10, 0)}, [2]time.Time{at(10, 0), at(10, 30)}, false},
		{"disjoint", [2]time.Time{at(12, 0), at(13, 0)}, [2]time.Time{at(10, 0), at(10, 30)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Overlaps(tt.a[0], tt.a[1], tt.b[0], tt.b[1]); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestWindow_Resolve(t *testing.T) {
	loc := madrid(t)
	start, end, err := Window{Date: "2024-06-03", Start: "10:00", End: "10:30"}.Resolve(loc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC); !start.Equal(want) {
		t.Errorf("expected %s, got %s", want, start.UTC())
	}
	if end.Sub(start) != 30*time.Minute {
		t.Errorf("expected 30 minutes, got %s", end.Sub(start))
	}
}

func TestWindow_Resolve_Invalid(t *testing.T) {
	for _, w := range []Window{
		{Date: "03/06/2024", Start: "10:00", End: "10:30"},
		{Date: "2024-06-03", Start: "10am", End: "10:30"},
		{Date: "2024-06-03", Start: "10:30", End: "10:30"},
		{Date: "2024-06-03", Start: "11:00", End: "10:30"},
	} {
		if _, _, err := w.Resolve(time.UTC); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("%+v: expected validation error, got %v", w, err)
		}
	}
}

func TestRecurrence_Validate(t *testing.T) {
	bad := []Recurrence{
		{Type: "yearly", Interval: 1, EndDate: "2024-12-31"},
		{Type: RecurDaily, Interval: 0, EndDate: "2024-12-31"},
		{Type: RecurDaily, Interval: 1, EndDate: "soon"},
	}
	for _, r := range bad {
		if err := r.Validate(); err == nil {
			t.Errorf("%+v: expected validation error", r)
		}
	}
}

func TestRecurrence_Expand_KeepsWallClockAcrossDST(t *testing.T) {
	loc := madrid(t)
	start := time.Date(2024, 3, 30, 10, 0, 0, 0, loc)
	r := &Recurrence{Type: RecurDaily, Interval: 1, EndDate: "2024-04-01"}

	occ, err := r.Expand(start, start.Add(45*time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(occ) != 3 {
		t.Fatalf("expected 3 occurrences, got %d", len(occ))
	}
	for _, o := range occ {
		if h, m, _ := o.Start.Clock(); h != 10 || m != 0 {
			t.Errorf("expected 10:00 local, got %s", o.Start)
		}
		if o.End.Sub(o.Start) != 45*time.Minute {
			t.Errorf("expected 45 minute duration, got %s", o.End.Sub(o.Start))
		}
	}
	if occ[0].Start.UTC().Hour() == occ[2].Start.UTC().Hour() {
		t.Error("expected the UTC hour to shift across the DST change")
	}
}

func TestRecurrence_Expand_MonthlySkipsShortMonths(t *testing.T) {
	start := time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC)
	r := &Recurrence{Type: RecurMonthly, Interval: 1, EndDate: "2024-06-30"}

	occ, err := r.Expand(start, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var months []time.Month
	for _, o := range occ {
		months = append(months, o.Start.Month())
	}
	want := []time.Month{time.January, time.March, time.May}
	if len(months) != len(want) {
		t.Fatalf("expected %v, got %v", want, months)
	}
	for i := range want {
		if months[i] != want[i] {
			t.Errorf("expected %v, got %v", want, months)
		}
	}
}

func TestRecurrence_Expand_WeeklyInterval(t *testing.T) {
	start := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	r := &Recurrence{Type: RecurWeekly, Interval: 2, EndDate: "2024-07-01"}
	occ, err := r.Expand(start, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(occ) != 3 {
		t.Fatalf("expected 3 fortnightly occurrences (3, 17 Jun, 1 Jul), got %d", len(occ))
	}
	if occ[2].Start.Day() != 1 || occ[2].Start.Month() != time.July {
		t.Errorf("expected the last occurrence on 1 July, got %s", occ[2].Start)
	}
}

func TestRecurrence_Expand_FullYear(t *testing.T) {
	// 2024 is a leap year: 366 daily sessions fit exactly
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	r := &Recurrence{Type: RecurDaily, Interval: 1, EndDate: "2024-12-31"}
	occ, err := r.Expand(start, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(occ) != MaxOccurrences {
		t.Errorf("expected %d occurrences, got %d", MaxOccurrences, len(occ))
	}
}

func TestRecurrence_Expand_TooManyOccurrences(t *testing.T) {
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	for _, end := range []string{"2025-01-01", "2027-01-01"} {
		r := &Recurrence{Type: RecurDaily, Interval: 1, EndDate: end}
		occ, err := r.Expand(start, start.Add(time.Hour))
		var verr *apperr.ValidationError
		if !errors.As(err, &verr) || verr.Fields["recurrence"] == "" {
			t.Errorf("end %s: expected a recurrence validation error, got %v", end, err)
		}
		if occ != nil {
			t.Errorf("end %s: expected no occurrences, got %d", end, len(occ))
		}
	}
}

func TestRecurrence_Expand_EndBeforeStart(t *testing.T) {
	start := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	r := &Recurrence{Type: RecurDaily, Interval: 1, EndDate: "2024-06-01"}
	occ, err := r.Expand(start, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(occ) != 0 {
		t.Errorf("expected no occurrences, got %d", len(occ))
	}
}

func TestConflictError(t *testing.T) {
	err := &ConflictError{Starts: []time.Time{time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)}}
	if !errors.Is(err, ErrSlotTaken) || !errors.Is(err, apperr.ErrConflict) {
		t.Error("expected ConflictError to unwrap to a conflict")
	}
	if err.Error() != "time slot not available: 2024-06-03 10:00" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
