package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/apptdesk/libs/db"
	"github.com/md-rashed-zaman/apptdesk/services/scheduling-service/internal/availability"
)

// ManualBlocks returns blocks starting in [from, to), ordered by start.
func (r *Repository) ManualBlocks(ctx context.Context, businessID string, from, to time.Time) ([]availability.ManualBlock, error) {
	return listBlocks(ctx, r.db, businessID, from, to)
}

func listBlocks(ctx context.Context, q db.DBTX, businessID string, from, to time.Time) ([]availability.ManualBlock, error) {
	rows, err := q.Query(ctx, `
		SELECT id::text, start_at, end_at, is_booked
		FROM manual_blocks
		WHERE business_id = $1 AND start_at >= $2 AND start_at < $3
		ORDER BY start_at ASC
	`, businessID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query manual blocks: %w", err)
	}
	defer rows.Close()

	var out []availability.ManualBlock
	for rows.Next() {
		var b availability.ManualBlock
		if err := rows.Scan(&b.ID, &b.StartAt, &b.EndAt, &b.IsBooked); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Repository) GetBlock(ctx context.Context, businessID, id string) (availability.ManualBlock, error) {
	return getBlock(ctx, r.db, businessID, id, "")
}

// GetBlockForUpdate locks the row until tx ends.
func (r *Repository) GetBlockForUpdate(ctx context.Context, tx db.DBTX, businessID, id string) (availability.ManualBlock, error) {
	return getBlock(ctx, tx, businessID, id, "FOR UPDATE")
}

func getBlock(ctx context.Context, q db.DBTX, businessID, id, suffix string) (availability.ManualBlock, error) {
	var b availability.ManualBlock
	err := q.QueryRow(ctx, `
		SELECT id::text, start_at, end_at, is_booked
		FROM manual_blocks
		WHERE business_id = $1 AND id = $2
	`+suffix, businessID, id).Scan(&b.ID, &b.StartAt, &b.EndAt, &b.IsBooked)
	if err != nil {
		return availability.ManualBlock{}, notFound(err)
	}
	return b, nil
}

// CreateBlock stores a free block offered by an admin.
func (r *Repository) CreateBlock(ctx context.Context, businessID string, start, end time.Time) (availability.ManualBlock, error) {
	b := availability.ManualBlock{ID: uuid.NewString(), StartAt: start, EndAt: end}
	_, err := r.db.Exec(ctx, `
		INSERT INTO manual_blocks (id, business_id, start_at, end_at, is_booked)
		VALUES ($1, $2, $3, $4, false)
	`, b.ID, businessID, start, end)
	if err != nil {
		return availability.ManualBlock{}, fmt.Errorf("insert manual block: %w", err)
	}
	return b, nil
}

// InsertBooked stores a booking for a computed range.
func (r *Repository) InsertBooked(ctx context.Context, tx db.DBTX, businessID string, start, end time.Time, bookedBy string) (availability.ManualBlock, error) {
	b := availability.ManualBlock{ID: uuid.NewString(), StartAt: start, EndAt: end, IsBooked: true}
	_, err := tx.Exec(ctx, `
		INSERT INTO manual_blocks (id, business_id, start_at, end_at, is_booked, booked_by, booked_at)
		VALUES ($1, $2, $3, $4, true, $5, now())
	`, b.ID, businessID, start, end, bookedBy)
	if err != nil {
		if db.IsExclusionViolation(err) {
			return availability.ManualBlock{}, ErrSlotTaken
		}
		return availability.ManualBlock{}, fmt.Errorf("insert booking: %w", err)
	}
	return b, nil
}

// MarkBooked books a stored free block. It fails with ErrSlotTaken if the block is already booked.
func (r *Repository) MarkBooked(ctx context.Context, tx db.DBTX, businessID, id, bookedBy string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE manual_blocks
		SET is_booked = true, booked_by = $3, booked_at = now()
		WHERE business_id = $1 AND id = $2 AND is_booked = false
	`, businessID, id, bookedBy)
	if err != nil {
		if db.IsExclusionViolation(err) {
			return ErrSlotTaken
		}
		return fmt.Errorf("book manual block: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotTaken
	}
	return nil
}

// Release turns a booking back into a free block.
func (r *Repository) Release(ctx context.Context, tx db.DBTX, businessID, id string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE manual_blocks
		SET is_booked = false, booked_by = '', booked_at = NULL
		WHERE business_id = $1 AND id = $2 AND is_booked = true
	`, businessID, id)
	if err != nil {
		return fmt.Errorf("release booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotBooked
	}
	return nil
}

// OverlapsBooking reports whether [start, end) intersects a booking other than excludeID.
func (r *Repository) OverlapsBooking(ctx context.Context, tx db.DBTX, businessID string, start, end time.Time, excludeID string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM manual_blocks
			WHERE business_id = $1 AND is_booked = true
			  AND start_at < $3 AND end_at > $2
			  AND id::text <> $4
		)
	`, businessID, start, end, excludeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check booking overlap: %w", err)
	}
	return exists, nil
}

func (r *Repository) DeleteBlock(ctx context.Context, businessID, id string) error {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM manual_blocks
		WHERE business_id = $1 AND id = $2
	`, businessID, id)
	if err != nil {
		return fmt.Errorf("delete manual block: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TxSource reads availability inputs through tx, so they see the caller's locks.
func (r *Repository) TxSource(tx db.DBTX) availability.Source {
	return txSource{q: tx}
}

type txSource struct {
	q db.DBTX
}

func (s txSource) RecurringWindows(ctx context.Context, businessID string) ([]availability.RecurringWindow, error) {
	return listWindows(ctx, s.q, businessID)
}

func (s txSource) ManualBlocks(ctx context.Context, businessID string, from, to time.Time) ([]availability.ManualBlock, error) {
	return listBlocks(ctx, s.q, businessID, from, to)
}

var _ availability.Source = (*Repository)(nil)
