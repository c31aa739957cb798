// Package recurrence expands a ride template's repeat rule into the concrete
// calendar dates on which ride instances are materialized.
//
// A Pattern is a rule, not a cursor. Iteration always needs an explicit
// horizon: materialization is bounded and extending it is an operation the
// caller invokes on purpose.
package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ─── Errors ─────────────────────────────────────────────────

var (
	ErrInvalidInterval    = errors.New("recurrence: interval must be >= 1")
	ErrInvalidWeekdayMask = errors.New("recurrence: weekday mask uses bits above Sunday")
	ErrMissingHorizon     = errors.New("recurrence: a generation horizon is required")
)

// ─── Weekday mask ───────────────────────────────────────────

// WeekdayMask selects days of the week, Monday = bit 0 … Sunday = bit 6.
// The zero mask means "no mask": the pattern steps in days.
type WeekdayMask uint8

const (
	Monday WeekdayMask = 1 << iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday

	WorkWeek = Monday | Tuesday | Wednesday | Thursday | Friday
	AllDays  = WorkWeek | Saturday | Sunday
)

var dayNames = [7]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// WeekdayMaskOf builds a mask from Go weekdays.
func WeekdayMaskOf(days ...time.Weekday) WeekdayMask {
	var m WeekdayMask
	for _, d := range days {
		m |= 1 << dayIndex(d)
	}
	return m
}

// Has reports whether d is selected.
func (m WeekdayMask) Has(d time.Weekday) bool {
	return m&(1<<dayIndex(d)) != 0
}

func (m WeekdayMask) String() string {
	if m == 0 {
		return "none"
	}
	var parts []string
	for i, name := range dayNames {
		if m&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, ",")
}

// dayIndex maps Go's Sunday-first weekday onto Monday = 0.
func dayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// ─── Pattern ────────────────────────────────────────────────

// Pattern is the repeat rule of a ride template. Without a weekday mask the
// unit is days; with one it is weeks, each active week emitting every
// selected day.
type Pattern struct {
	Interval int         `json:"interval"`
	Weekdays WeekdayMask `json:"weekdays,omitempty"`
	EndDate  *time.Time  `json:"end_date,omitempty"`
}

// Weekly reports whether the pattern steps in weeks.
func (p Pattern) Weekly() bool {
	return p.Weekdays != 0
}

// Validate rejects intervals below 1 and unknown weekday bits.
func (p Pattern) Validate() error {
	if p.Interval < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidInterval, p.Interval)
	}
	if p.Weekdays&^AllDays != 0 {
		return fmt.Errorf("%w: %#b", ErrInvalidWeekdayMask, p.Weekdays)
	}
	return nil
}

func (p Pattern) String() string {
	unit := "days"
	if p.Weekly() {
		unit = "weeks on " + p.Weekdays.String()
	}
	s := fmt.Sprintf("every %d %s", p.Interval, unit)
	if p.EndDate != nil {
		s += " until " + p.EndDate.Format(time.DateOnly)
	}
	return s
}

// ─── Iterator ───────────────────────────────────────────────

// Iterator is a one-shot cursor over the dates of a Pattern. Dates are
// strictly ascending, never earlier than the anchor or the start date, and
// always before the effective horizon (exclusive).
//
// All inputs are read as calendar dates in the anchor's location.
type Iterator struct {
	p       Pattern
	anchor  time.Time
	first   time.Time
	horizon time.Time

	next time.Time // day mode: next candidate
	week time.Time // week mode: Monday of the current active week
	day  int       // week mode: next weekday offset to inspect
	done bool
}

// NewIterator prepares an iterator anchored in phase at anchor. The phase is
// fixed by the anchor (usually the template's creation date) whatever the
// start date is.
func NewIterator(p Pattern, anchor, start, horizon time.Time) (*Iterator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if horizon.IsZero() {
		return nil, ErrMissingHorizon
	}

	loc := anchor.Location()
	a := dateOf(anchor, loc)
	first := dateOf(start, loc)
	if first.Before(a) {
		first = a
	}
	h := dateOf(horizon, loc)
	if p.EndDate != nil {
		if end := dateOf(*p.EndDate, loc); end.Before(h) {
			h = end
		}
	}

	it := &Iterator{p: p, anchor: a, first: first, horizon: h}
	if p.Weekly() {
		anchorWeek := mondayOf(a)
		elapsed := daysBetween(anchorWeek, mondayOf(first)) / 7
		it.week = anchorWeek.AddDate(0, 0, 7*p.Interval*ceilDiv(elapsed, p.Interval))
	} else {
		elapsed := daysBetween(a, first)
		it.next = a.AddDate(0, 0, p.Interval*ceilDiv(elapsed, p.Interval))
	}
	return it, nil
}

// Next returns the next date, or false once the sequence is exhausted.
func (it *Iterator) Next() (time.Time, bool) {
	if it.done {
		return time.Time{}, false
	}
	if it.p.Weekly() {
		return it.nextWeekly()
	}
	if !it.next.Before(it.horizon) {
		it.done = true
		return time.Time{}, false
	}
	d := it.next
	it.next = it.next.AddDate(0, 0, it.p.Interval)
	return d, true
}

func (it *Iterator) nextWeekly() (time.Time, bool) {
	for it.week.Before(it.horizon) {
		for it.day < 7 {
			offset := it.day
			it.day++
			if it.p.Weekdays&(1<<offset) == 0 {
				continue
			}
			d := it.week.AddDate(0, 0, offset)
			if d.Before(it.first) {
				continue
			}
			if !d.Before(it.horizon) {
				it.done = true
				return time.Time{}, false
			}
			return d, true
		}
		it.week = it.week.AddDate(0, 0, 7*it.p.Interval)
		it.day = 0
	}
	it.done = true
	return time.Time{}, false
}

// Collect drains the iterator.
func Collect(it *Iterator) []time.Time {
	var out []time.Time
	for d, ok := it.Next(); ok; d, ok = it.Next() {
		out = append(out, d)
	}
	return out
}

// Occurrences is NewIterator followed by Collect.
func Occurrences(p Pattern, anchor, start, horizon time.Time) ([]time.Time, error) {
	it, err := NewIterator(p, anchor, start, horizon)
	if err != nil {
		return nil, err
	}
	return Collect(it), nil
}

// ─── Date helpers ───────────────────────────────────────────

func dateOf(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func mondayOf(d time.Time) time.Time {
	return d.AddDate(0, 0, -dayIndex(d.Weekday()))
}

// daysBetween counts calendar days from a to b, independent of DST.
func daysBetween(a, b time.Time) int {
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

func ceilDiv(n, d int) int {
	return (n + d - 1) / d
}
