package availability

import "time"

// civilDay is a calendar date held at UTC midnight, so AddDate never crosses a DST transition.
func civilDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// WallTime returns the instant in loc whose wall clock reads the date and clock of wall, taken
// in wall's own location. A wall clock skipped by a forward transition resolves to the first
// instant after the gap, so projected times never start earlier than requested.
func WallTime(wall time.Time, loc *time.Location) time.Time {
	y, m, d := wall.Date()
	hh, mm, ss := wall.Clock()
	t := time.Date(y, m, d, hh, mm, ss, wall.Nanosecond(), loc)
	want := time.Date(y, m, d, hh, mm, ss, 0, time.UTC).Unix()
	if wallSeconds(t) == want {
		return t
	}

	_, before := t.Add(-24 * time.Hour).Zone()
	_, after := t.Add(24 * time.Hour).Zone()
	lo, hi := want-int64(after), want-int64(before)
	if hi < lo {
		lo, hi = hi, lo
	}
	// wallSeconds is below want before the transition and above it after.
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		if wallSeconds(time.Unix(mid, 0).In(loc)) < want {
			lo = mid
		} else {
			hi = mid
		}
	}
	return time.Unix(hi, 0).In(loc)
}

// StartOfDay is the first instant of the calendar date y-m-d in loc.
func StartOfDay(y int, m time.Month, d int, loc *time.Location) time.Time {
	return WallTime(time.Date(y, m, d, 0, 0, 0, 0, time.UTC), loc)
}

func wallSeconds(t time.Time) int64 {
	_, off := t.Zone()
	return t.Unix() + int64(off)
}
