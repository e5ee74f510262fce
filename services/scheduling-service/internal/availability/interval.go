package availability

import (
	"slices"
	"time"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps treats intervals as half-open, so touching intervals do not overlap.
func (iv Interval) Overlaps(o Interval) bool {
	return iv.Start.Before(o.End) && o.Start.Before(iv.End)
}

// Merge returns the union of in as non-overlapping intervals sorted by start.
// Intervals that touch (next.Start == last.End) are joined. The input is not modified.
func Merge(in []Interval) []Interval {
	if len(in) == 0 {
		return nil
	}
	sorted := slices.Clone(in)
	slices.SortStableFunc(sorted, func(a, b Interval) int {
		return a.Start.Compare(b.Start)
	})

	out := []Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &out[len(out)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// Subtract removes every booking from base, applying them one after another to the
// fragments left by the previous step. Fragments are returned in start order.
func Subtract(base Interval, bookings []Interval) []Interval {
	fragments := []Interval{base}
	for _, b := range bookings {
		if !b.End.After(b.Start) {
			continue
		}
		next := fragments[:0:0]
		for _, f := range fragments {
			if !f.Overlaps(b) {
				next = append(next, f)
				continue
			}
			cutStart := maxTime(f.Start, b.Start)
			cutEnd := minTime(f.End, b.End)
			if f.Start.Before(cutStart) {
				next = append(next, Interval{Start: f.Start, End: cutStart})
			}
			if cutEnd.Before(f.End) {
				next = append(next, Interval{Start: cutEnd, End: f.End})
			}
		}
		fragments = next
		if len(fragments) == 0 {
			break
		}
	}
	return fragments
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
