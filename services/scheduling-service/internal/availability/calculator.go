package availability

import (
	"context"
	"fmt"
	"time"
)

// Source supplies the stored inputs for one business.
type Source interface {
	RecurringWindows(ctx context.Context, businessID string) ([]RecurringWindow, error)
	// ManualBlocks returns blocks (booked or not) whose StartAt lies in [from, to).
	ManualBlocks(ctx context.Context, businessID string, from, to time.Time) ([]ManualBlock, error)
}

// Calculator reads a business's windows and blocks and computes its availability.
type Calculator struct {
	source Source
	loc    *time.Location
}

func NewCalculator(source Source, loc *time.Location) *Calculator {
	if loc == nil {
		loc = time.UTC
	}
	return &Calculator{source: source, loc: loc}
}

func (c *Calculator) Location() *time.Location {
	return c.loc
}

// Bounds returns the half-open instant range covering the calendar dates of start and end.
func (c *Calculator) Bounds(start, end time.Time) (time.Time, time.Time) {
	first, last := civilDay(start, c.loc), civilDay(end, c.loc).AddDate(0, 0, 1)
	return WallTime(first, c.loc), WallTime(last, c.loc)
}

// Snapshot is everything one availability query read and computed.
type Snapshot struct {
	Windows   []RecurringWindow
	Blocks    []ManualBlock
	Available []AvailableBlock
}

// Compute returns the free blocks for every date from start to end inclusive, ordered by
// date and then by start. Read failures abort the whole computation.
func (c *Calculator) Compute(ctx context.Context, businessID string, start, end time.Time) ([]AvailableBlock, error) {
	snap, err := c.Snapshot(ctx, businessID, start, end)
	return snap.Available, err
}

// Snapshot is Compute that also returns the stored inputs it read.
func (c *Calculator) Snapshot(ctx context.Context, businessID string, start, end time.Time) (Snapshot, error) {
	from, to := c.Bounds(start, end)
	if !to.After(from) {
		return Snapshot{}, nil
	}
	windows, err := c.source.RecurringWindows(ctx, businessID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load recurring windows: %w", err)
	}
	stored, err := c.source.ManualBlocks(ctx, businessID, from, to)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load manual blocks: %w", err)
	}
	return Snapshot{
		Windows:   windows,
		Blocks:    stored,
		Available: Range(start, end, c.loc, windows, stored),
	}, nil
}
