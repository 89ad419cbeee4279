package calendar_test

import (
	"errors"
	"testing"
	"time"

	"github.com/xraph/asyncexec/calendar"
)

var base = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"PT5M", base.Add(5 * time.Minute)},
		{"PT1H30M", base.Add(90 * time.Minute)},
		{"PT0.5S", base.Add(500 * time.Millisecond)},
		{"P1D", base.AddDate(0, 0, 1)},
		{"P1W", base.AddDate(0, 0, 7)},
		{"P1Y2M3DT4H", base.AddDate(1, 2, 3).Add(4 * time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := calendar.ParseDuration(tt.in)
			if err != nil {
				t.Fatalf("ParseDuration: %v", err)
			}
			if got := d.AddTo(base); !got.Equal(tt.want) {
				t.Errorf("AddTo = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseDuration_Invalid(t *testing.T) {
	for _, in := range []string{"", "P", "5M", "PT", "P1H", "PTM", "P1DT"} {
		if _, err := calendar.ParseDuration(in); !errors.Is(err, calendar.ErrInvalidExpression) {
			t.Errorf("ParseDuration(%q) err = %v, want ErrInvalidExpression", in, err)
		}
	}
}

func TestDuration_String(t *testing.T) {
	for _, in := range []string{"PT5M", "P1DT2H", "PT30S", "P1Y"} {
		d, err := calendar.ParseDuration(in)
		if err != nil {
			t.Fatalf("ParseDuration(%q): %v", in, err)
		}
		if got := d.String(); got != in {
			t.Errorf("String = %q, want %q", got, in)
		}
	}
}

func TestResolveDueDate(t *testing.T) {
	cal := calendar.New()
	tests := []struct {
		expr string
		want time.Time
	}{
		{"2026-03-01T10:00:00Z", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
		{"2026-03-01", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"PT10M", base.Add(10 * time.Minute)},
		{"R3/PT1H", base.Add(time.Hour)},
		{"R3/2026-02-01T00:00:00Z/PT1H", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
		{"cron:0 9 * * *", base.Add(9 * time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := cal.ResolveDueDate(tt.expr, base)
			if err != nil {
				t.Fatalf("ResolveDueDate: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestResolveDueDate_Invalid(t *testing.T) {
	cal := calendar.New()
	for _, expr := range []string{"", "tomorrow", "R3/", "Rx/PT1H", "cron:not a cron", "R2/2026-01-01T00:00:00Z"} {
		if _, err := cal.ResolveDueDate(expr, base); !errors.Is(err, calendar.ErrInvalidExpression) {
			t.Errorf("ResolveDueDate(%q) err = %v, want ErrInvalidExpression", expr, err)
		}
	}
}

func TestResolveTimer_Cycle(t *testing.T) {
	cal := calendar.New()
	timer, err := cal.ResolveTimer(calendar.TimerDefinition{
		Cycle:   "R3/2026-01-01T00:00:00Z/PT1H",
		EndDate: "2026-01-02T00:00:00Z",
	}, base)
	if err != nil {
		t.Fatalf("ResolveTimer: %v", err)
	}
	if !timer.DueDate.Equal(base) {
		t.Errorf("DueDate = %s, want %s", timer.DueDate, base)
	}
	if timer.MaxIterations != 3 {
		t.Errorf("MaxIterations = %d, want 3", timer.MaxIterations)
	}
	if timer.EndDate == nil || !timer.EndDate.Equal(base.Add(24*time.Hour)) {
		t.Errorf("EndDate = %v", timer.EndDate)
	}
	if timer.Repeat != "R3/2026-01-01T00:00:00Z/PT1H" {
		t.Errorf("Repeat = %q", timer.Repeat)
	}
}

func TestResolveTimer_EndBeforeDue(t *testing.T) {
	cal := calendar.New()
	_, err := cal.ResolveTimer(calendar.TimerDefinition{
		Date:    "2026-02-01T00:00:00Z",
		EndDate: "2026-01-15T00:00:00Z",
	}, base)
	if !errors.Is(err, calendar.ErrInvalidExpression) {
		t.Fatalf("err = %v, want ErrInvalidExpression", err)
	}
}

func TestResolveTimer_Empty(t *testing.T) {
	if _, err := calendar.New().ResolveTimer(calendar.TimerDefinition{}, base); err == nil {
		t.Fatal("expected error for empty definition")
	}
}

func TestResolveNextDueDate_IterationBound(t *testing.T) {
	cal := calendar.New()
	timer, err := cal.ResolveTimer(calendar.TimerDefinition{Cycle: "R3/2026-01-01T00:00:00Z/PT1H"}, base)
	if err != nil {
		t.Fatalf("ResolveTimer: %v", err)
	}

	due, repeat := timer.DueDate, timer.Repeat
	fires := 1
	for {
		next, nextRepeat, err := cal.ResolveNextDueDate(repeat, timer.MaxIterations, timer.EndDate, due)
		if errors.Is(err, calendar.ErrRejected) {
			break
		}
		if err != nil {
			t.Fatalf("ResolveNextDueDate: %v", err)
		}
		if want := due.Add(time.Hour); !next.Equal(want) {
			t.Fatalf("next = %s, want %s", next, want)
		}
		due, repeat = next, nextRepeat
		fires++
		if fires > 10 {
			t.Fatal("repeat chain never ended")
		}
	}
	if fires != 3 {
		t.Errorf("fires = %d, want 3", fires)
	}
	if repeat != "R1/2026-01-01T02:00:00Z/PT1H" {
		t.Errorf("last repeat = %q", repeat)
	}
}

func TestResolveNextDueDate_EndDate(t *testing.T) {
	cal := calendar.New()
	end := base.Add(90 * time.Minute)
	next, _, err := cal.ResolveNextDueDate("R/PT1H", 0, &end, base)
	if err != nil {
		t.Fatalf("first next: %v", err)
	}
	if _, _, err := cal.ResolveNextDueDate("R/PT1H", 0, &end, next); !errors.Is(err, calendar.ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
}

func TestResolveNextDueDate_Cron(t *testing.T) {
	cal := calendar.New()
	next, repeat, err := cal.ResolveNextDueDate("R2/cron:*/15 * * * *", 2, nil, base)
	if err != nil {
		t.Fatalf("ResolveNextDueDate: %v", err)
	}
	if !next.Equal(base.Add(15 * time.Minute)) {
		t.Errorf("next = %s", next)
	}
	if repeat != "R1/cron:*/15 * * * *" {
		t.Errorf("repeat = %q", repeat)
	}
	if _, _, err := cal.ResolveNextDueDate(repeat, 2, nil, next); !errors.Is(err, calendar.ErrRejected) {
		t.Errorf("err = %v, want ErrRejected", err)
	}
}

func TestValidateDueDate(t *testing.T) {
	cal := calendar.New()
	end := base.Add(time.Hour)
	tests := []struct {
		name   string
		repeat string
		max    int
		end    *time.Time
		due    time.Time
		want   bool
	}{
		{"no repeat no end", "", 0, nil, base, true},
		{"before end", "", 0, &end, base, true},
		{"after end", "", 0, &end, base.Add(2 * time.Hour), false},
		{"exhausted counter", "R0/PT1H", 0, nil, base, false},
		{"counter above max", "R5/PT1H", 3, nil, base, false},
		{"repeat end passed", "R/PT1H/2026-01-01T00:30:00Z", 0, nil, base.Add(time.Hour), false},
		{"malformed", "R/nonsense", 0, nil, base, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cal.ValidateDueDate(tt.repeat, tt.max, tt.end, tt.due); got != tt.want {
				t.Errorf("ValidateDueDate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExpand(t *testing.T) {
	vars := map[string]any{
		"wait": "PT5M",
		"end":  base,
	}
	lookup := func(name string) (any, bool) {
		v, ok := vars[name]
		return v, ok
	}

	got, err := calendar.Expand("R3/${wait}/${ end }", lookup)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if want := "R3/PT5M/2026-01-01T00:00:00Z"; got != want {
		t.Errorf("Expand = %q, want %q", got, want)
	}

	if _, err := calendar.Expand("${missing}", lookup); !errors.Is(err, calendar.ErrInvalidExpression) {
		t.Errorf("err = %v, want ErrInvalidExpression", err)
	}
}
