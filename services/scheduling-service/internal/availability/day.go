package availability

import (
	"fmt"
	"time"
)

const (
	DateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// RecurringWindow is a weekly open-hours window, in minutes from local midnight.
type RecurringWindow struct {
	ID          string  `json:"id"`
	Weekday     Weekday `json:"weekday"`
	StartMinute int     `json:"start_minute"`
	EndMinute   int     `json:"end_minute"`
	Active      bool    `json:"active"`
}

// ManualBlock is a stored slot. IsBooked blocks are bookings and are subtracted from availability.
type ManualBlock struct {
	ID       string    `json:"id"`
	StartAt  time.Time `json:"start_at"`
	EndAt    time.Time `json:"end_at"`
	IsBooked bool      `json:"is_booked"`
}

// AvailableBlock is a computed free fragment. It is never persisted.
type AvailableBlock struct {
	ID        string    `json:"id"`
	Date      string    `json:"date"`
	StartAt   time.Time `json:"start_at"`
	EndAt     time.Time `json:"end_at"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
}

// VirtualID identifies a computed block by its bounds.
func VirtualID(start, end time.Time) string {
	return fmt.Sprintf("virtual-%d-%d", start.Unix(), end.Unix())
}

// Day computes the free fragments for the calendar date of date (its year, month and day are
// used as-is). Blocks count toward the day their StartAt falls on in loc.
func Day(date time.Time, loc *time.Location, windows []RecurringWindow, blocks []ManualBlock) []AvailableBlock {
	key := date.Format(DateLayout)
	var onDay []ManualBlock
	for _, b := range blocks {
		if b.StartAt.In(loc).Format(DateLayout) == key {
			onDay = append(onDay, b)
		}
	}
	return assembleDay(date, loc, windows, onDay)
}

// Range runs Day for every date from start to end inclusive. An inverted range yields nothing.
func Range(start, end time.Time, loc *time.Location, windows []RecurringWindow, blocks []ManualBlock) []AvailableBlock {
	byDate := make(map[string][]ManualBlock)
	for _, b := range blocks {
		key := b.StartAt.In(loc).Format(DateLayout)
		byDate[key] = append(byDate[key], b)
	}

	var out []AvailableBlock
	last := civilDay(end, loc)
	for d := civilDay(start, loc); !d.After(last); d = d.AddDate(0, 0, 1) {
		out = append(out, assembleDay(d, loc, windows, byDate[d.Format(DateLayout)])...)
	}
	return out
}

func assembleDay(date time.Time, loc *time.Location, windows []RecurringWindow, blocks []ManualBlock) []AvailableBlock {
	y, m, d := date.Date()
	weekday := WeekdayOf(time.Date(y, m, d, 12, 0, 0, 0, time.UTC))

	var candidates, booked []Interval
	for _, w := range windows {
		if !w.Active || w.Weekday != weekday {
			continue
		}
		iv := Interval{
			Start: atMinute(y, m, d, w.StartMinute, loc),
			End:   atMinute(y, m, d, w.EndMinute, loc),
		}
		// A window lying entirely inside a skipped hour has no instants.
		if !iv.End.After(iv.Start) {
			continue
		}
		candidates = append(candidates, iv)
	}
	for _, b := range blocks {
		iv := Interval{Start: b.StartAt, End: b.EndAt}
		if b.IsBooked {
			booked = append(booked, iv)
		} else {
			candidates = append(candidates, iv)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	booked = Merge(booked)

	dateKey := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Format(DateLayout)
	var out []AvailableBlock
	for _, base := range Merge(candidates) {
		for _, f := range Subtract(base, booked) {
			out = append(out, AvailableBlock{
				ID:        VirtualID(f.Start, f.End),
				Date:      dateKey,
				StartAt:   f.Start,
				EndAt:     f.End,
				StartTime: f.Start.In(loc).Format(timeLayout),
				EndTime:   f.End.In(loc).Format(timeLayout),
			})
		}
	}
	return out
}

// atMinute projects minute minutes after midnight onto y-m-d in loc; 1440 is the next midnight.
// Minutes inside a spring-forward gap move to the end of the gap.
func atMinute(y int, m time.Month, d, minute int, loc *time.Location) time.Time {
	return WallTime(time.Date(y, m, d, 0, minute, 0, 0, time.UTC), loc)
}
