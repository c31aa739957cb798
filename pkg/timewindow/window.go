// Package timewindow provides closed time intervals and the overlap test
// used when matching passenger requests against ride schedules.
package timewindow

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvertedWindow is returned when a window ends before it starts.
var ErrInvertedWindow = errors.New("timewindow: end before start")

// Mode records how the caller intends a window comparison to be read.
type Mode int

const (
	// Strict compares the windows exactly as given.
	Strict Mode = iota
	// Lenient marks a comparison where the caller already widened one side
	// (see Window.Widen). The overlap test itself is identical.
	Lenient
)

func (m Mode) String() string {
	if m == Lenient {
		return "lenient"
	}
	return "strict"
}

// Window is the closed interval [Start, End].
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// New builds a window, rejecting end < start.
func New(start, end time.Time) (Window, error) {
	if end.Before(start) {
		return Window{}, fmt.Errorf("%w: %s > %s", ErrInvertedWindow,
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return Window{Start: start, End: end}, nil
}

// Widen returns w extended by slack on both sides. Negative slack is
// treated as zero.
func (w Window) Widen(slack time.Duration) Window {
	if slack <= 0 {
		return w
	}
	return Window{Start: w.Start.Add(-slack), End: w.End.Add(slack)}
}

// Contains reports whether t lies within the closed window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Duration is End - Start.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Overlaps reports whether the closed windows a and b intersect:
// a.Start <= b.End && b.Start <= a.End. Touching endpoints overlap.
//
// The mode does not change the test; lenient matching widens its window
// before calling so the slack stays an explicit caller decision.
func Overlaps(a, b Window, mode Mode) bool {
	return !a.Start.After(b.End) && !b.Start.After(a.End)
}
