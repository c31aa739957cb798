package recurrence

import (
	"errors"
	"testing"
	"time"
)

// reference is a Wednesday.
var reference = time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)

func days(n int) time.Time { return reference.AddDate(0, 0, n) }

func mustCollect(t *testing.T, p Pattern, anchor, start, horizon time.Time) []time.Time {
	t.Helper()
	got, err := Occurrences(p, anchor, start, horizon)
	if err != nil {
		t.Fatalf("Occurrences(%v) error: %v", p, err)
	}
	return got
}

func TestEveryOtherDay(t *testing.T) {
	got := mustCollect(t, Pattern{Interval: 2}, reference, reference, days(14))
	if len(got) != 7 {
		t.Fatalf("got %d dates, want 7: %v", len(got), got)
	}
	for i := 1; i < len(got); i++ {
		if gap := got[i].Sub(got[i-1]); gap != 48*time.Hour {
			t.Errorf("gap between %v and %v = %v, want 48h", got[i-1], got[i], gap)
		}
	}
}

func TestWorkWeek(t *testing.T) {
	p := Pattern{Interval: 1, Weekdays: 0b0011111}
	if p.Weekdays != WorkWeek {
		t.Fatalf("0b0011111 should equal WorkWeek, got %v", p.Weekdays)
	}
	got := mustCollect(t, p, reference, reference, days(14))
	if len(got) != 10 {
		t.Fatalf("got %d dates, want 10: %v", len(got), got)
	}
	for _, d := range got {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			t.Errorf("%v falls on %v", d, wd)
		}
	}
}

func TestHorizonIsExclusive(t *testing.T) {
	got := mustCollect(t, Pattern{Interval: 7}, reference, reference, days(14))
	want := []time.Time{reference, days(7)}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("date[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestEndDateBoundsHorizon(t *testing.T) {
	end := days(3)
	got := mustCollect(t, Pattern{Interval: 1, EndDate: &end}, reference, reference, days(10))
	if len(got) != 3 {
		t.Errorf("got %d dates, want 3 (end date caps the horizon): %v", len(got), got)
	}
}

func TestBiweeklyMask(t *testing.T) {
	p := Pattern{Interval: 2, Weekdays: Monday | Thursday}
	got := mustCollect(t, p, reference, reference, time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC))
	want := []string{"2024-03-07", "2024-03-18", "2024-03-21", "2024-04-01"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i, w := range want {
		if s := got[i].Format(time.DateOnly); s != w {
			t.Errorf("date[%d] = %s, want %s", i, s, w)
		}
	}
}

func TestPhaseInvariance(t *testing.T) {
	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for offset := 0; offset < 10; offset++ {
		start := anchor.AddDate(0, 1, offset)
		for _, d := range mustCollect(t, Pattern{Interval: 3}, anchor, start, start.AddDate(0, 0, 30)) {
			if daysBetween(anchor, d)%3 != 0 {
				t.Errorf("start %v: %v is out of phase with anchor", start, d)
			}
			if d.Before(start) {
				t.Errorf("start %v: emitted earlier date %v", start, d)
			}
		}
	}

	anchorWeek := mondayOf(anchor)
	for offset := 0; offset < 21; offset++ {
		start := anchor.AddDate(0, 0, 30+offset)
		p := Pattern{Interval: 3, Weekdays: Tuesday | Saturday}
		for _, d := range mustCollect(t, p, anchor, start, start.AddDate(0, 0, 60)) {
			if weeks := daysBetween(anchorWeek, mondayOf(d)) / 7; weeks%3 != 0 {
				t.Errorf("start %v: %v lies in week %d, not a multiple of 3", start, d, weeks)
			}
		}
	}
}

func TestBoundedness(t *testing.T) {
	patterns := []Pattern{
		{Interval: 1},
		{Interval: 5},
		{Interval: 1, Weekdays: AllDays},
		{Interval: 4, Weekdays: Sunday},
		{Interval: 2, Weekdays: Monday | Wednesday | Friday},
	}
	for _, p := range patterns {
		start := days(3)
		horizon := days(45)
		prev := time.Time{}
		for _, d := range mustCollect(t, p, reference, start, horizon) {
			if d.Before(start) || !d.Before(horizon) {
				t.Errorf("%v: %v outside [%v, %v)", p, d, start, horizon)
			}
			if !prev.IsZero() && !d.After(prev) {
				t.Errorf("%v: %v not after %v", p, d, prev)
			}
			prev = d
		}
	}
}

func TestStartBeforeAnchor(t *testing.T) {
	got := mustCollect(t, Pattern{Interval: 1}, reference, days(-5), days(2))
	if len(got) != 2 || !got[0].Equal(reference) {
		t.Errorf("got %v, want the anchor and the day after", got)
	}
}

func TestIteratorIsOneShot(t *testing.T) {
	it, err := NewIterator(Pattern{Interval: 1}, reference, reference, days(1))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := it.Next(); !ok {
		t.Fatal("expected one date")
	}
	for i := 0; i < 3; i++ {
		if _, ok := it.Next(); ok {
			t.Error("exhausted iterator produced another date")
		}
	}
}

func TestNewIterator_Errors(t *testing.T) {
	tests := []struct {
		name    string
		p       Pattern
		horizon time.Time
		want    error
	}{
		{"zero interval", Pattern{Interval: 0}, days(7), ErrInvalidInterval},
		{"negative interval", Pattern{Interval: -2}, days(7), ErrInvalidInterval},
		{"bad mask", Pattern{Interval: 1, Weekdays: 0x80}, days(7), ErrInvalidWeekdayMask},
		{"missing horizon", Pattern{Interval: 1}, time.Time{}, ErrMissingHorizon},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewIterator(tt.p, reference, reference, tt.horizon); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestWeekdayMask(t *testing.T) {
	m := WeekdayMaskOf(time.Monday, time.Sunday)
	if m != Monday|Sunday {
		t.Errorf("WeekdayMaskOf = %#b", m)
	}
	if !m.Has(time.Sunday) || m.Has(time.Tuesday) {
		t.Errorf("Has mismatch for %v", m)
	}
	if s := m.String(); s != "Mon,Sun" {
		t.Errorf("String = %q", s)
	}
}
