package timewindow

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)

func at(min int) time.Time { return t0.Add(time.Duration(min) * time.Minute) }

func TestNew_RejectsInverted(t *testing.T) {
	if _, err := New(at(10), at(0)); !errors.Is(err, ErrInvertedWindow) {
		t.Errorf("New(inverted) err = %v, want ErrInvertedWindow", err)
	}
	if _, err := New(at(0), at(0)); err != nil {
		t.Errorf("New(instant) err = %v, want nil", err)
	}
}

func TestOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b Window
		want bool
	}{
		{"disjoint", Window{at(0), at(10)}, Window{at(20), at(30)}, false},
		{"touching", Window{at(0), at(10)}, Window{at(10), at(30)}, true},
		{"nested", Window{at(0), at(60)}, Window{at(20), at(30)}, true},
		{"partial", Window{at(0), at(25)}, Window{at(20), at(30)}, true},
		{"instant inside", Window{at(5), at(5)}, Window{at(0), at(10)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, mode := range []Mode{Strict, Lenient} {
				if got := Overlaps(tt.a, tt.b, mode); got != tt.want {
					t.Errorf("Overlaps(a, b, %s) = %v, want %v", mode, got, tt.want)
				}
				if got := Overlaps(tt.b, tt.a, mode); got != tt.want {
					t.Errorf("Overlaps(b, a, %s) = %v, want %v", mode, got, tt.want)
				}
			}
		})
	}
}

func TestWiden(t *testing.T) {
	w := Window{at(20), at(30)}
	ride := Window{at(0), at(10)}
	if Overlaps(ride, w, Strict) {
		t.Fatal("precondition: windows should be disjoint")
	}
	if !Overlaps(ride, w.Widen(10*time.Minute), Lenient) {
		t.Error("widened window should overlap")
	}
	if got := w.Widen(-time.Minute); got != w {
		t.Errorf("negative slack changed window: %+v", got)
	}
	if d := w.Widen(5 * time.Minute).Duration(); d != 20*time.Minute {
		t.Errorf("widened duration = %v, want 20m", d)
	}
}
