package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/apptdesk/libs/db"
	"github.com/md-rashed-zaman/apptdesk/services/scheduling-service/internal/availability"
)

// RecurringWindows returns every window of the business, active or not.
func (r *Repository) RecurringWindows(ctx context.Context, businessID string) ([]availability.RecurringWindow, error) {
	return listWindows(ctx, r.db, businessID)
}

func listWindows(ctx context.Context, q db.DBTX, businessID string) ([]availability.RecurringWindow, error) {
	rows, err := q.Query(ctx, `
		SELECT id::text, weekday, start_minute, end_minute, active
		FROM recurring_windows
		WHERE business_id = $1
		ORDER BY weekday ASC, start_minute ASC
	`, businessID)
	if err != nil {
		return nil, fmt.Errorf("query recurring windows: %w", err)
	}
	defer rows.Close()

	var out []availability.RecurringWindow
	for rows.Next() {
		var w availability.RecurringWindow
		var weekday int
		if err := rows.Scan(&w.ID, &weekday, &w.StartMinute, &w.EndMinute, &w.Active); err != nil {
			return nil, err
		}
		w.Weekday = availability.Weekday(weekday)
		out = append(out, w)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Repository) GetWindow(ctx context.Context, businessID, id string) (availability.RecurringWindow, error) {
	var w availability.RecurringWindow
	var weekday int
	err := r.db.QueryRow(ctx, `
		SELECT id::text, weekday, start_minute, end_minute, active
		FROM recurring_windows
		WHERE business_id = $1 AND id = $2
	`, businessID, id).Scan(&w.ID, &weekday, &w.StartMinute, &w.EndMinute, &w.Active)
	if err != nil {
		return availability.RecurringWindow{}, notFound(err)
	}
	w.Weekday = availability.Weekday(weekday)
	return w, nil
}

func (r *Repository) CreateWindow(ctx context.Context, businessID string, w availability.RecurringWindow) (availability.RecurringWindow, error) {
	w.ID = uuid.NewString()
	_, err := r.db.Exec(ctx, `
		INSERT INTO recurring_windows (id, business_id, weekday, start_minute, end_minute, active)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, w.ID, businessID, int(w.Weekday), w.StartMinute, w.EndMinute, w.Active)
	if err != nil {
		return availability.RecurringWindow{}, fmt.Errorf("insert recurring window: %w", err)
	}
	return w, nil
}

func (r *Repository) UpdateWindow(ctx context.Context, businessID string, w availability.RecurringWindow) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE recurring_windows
		SET weekday = $3, start_minute = $4, end_minute = $5, active = $6, updated_at = now()
		WHERE business_id = $1 AND id = $2
	`, businessID, w.ID, int(w.Weekday), w.StartMinute, w.EndMinute, w.Active)
	if err != nil {
		return fmt.Errorf("update recurring window: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) DeleteWindow(ctx context.Context, businessID, id string) error {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM recurring_windows
		WHERE business_id = $1 AND id = $2
	`, businessID, id)
	if err != nil {
		return fmt.Errorf("delete recurring window: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
