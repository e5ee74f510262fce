package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/apptdesk/services/scheduling-service/internal/availability"
)

const businessID = "2f1c3a4e-8d5b-4c1a-9a53-3e2f6b7c8d90"

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *Repository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewRepository(mock)
}

func TestRecurringWindows(t *testing.T) {
	mock, repo := newMock(t)
	mock.ExpectQuery("FROM recurring_windows").
		WithArgs(businessID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "weekday", "start_minute", "end_minute", "active"}).
			AddRow("w1", 0, 540, 720, true).
			AddRow("w2", 6, 600, 660, false))

	windows, err := repo.RecurringWindows(context.Background(), businessID)
	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.Equal(t, availability.Monday, windows[0].Weekday)
	assert.Equal(t, availability.Sunday, windows[1].Weekday)
	assert.False(t, windows[1].Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetWindowNotFound(t *testing.T) {
	mock, repo := newMock(t)
	mock.ExpectQuery("FROM recurring_windows").
		WithArgs(businessID, "missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetWindow(context.Background(), businessID, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWindow(t *testing.T) {
	mock, repo := newMock(t)
	mock.ExpectExec("INSERT INTO recurring_windows").
		WithArgs(pgxmock.AnyArg(), businessID, 2, 540, 1020, true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	w, err := repo.CreateWindow(context.Background(), businessID, availability.RecurringWindow{
		Weekday: availability.Wednesday, StartMinute: 540, EndMinute: 1020, Active: true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, w.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAndDeleteWindowMissing(t *testing.T) {
	mock, repo := newMock(t)
	mock.ExpectExec("UPDATE recurring_windows").
		WithArgs(businessID, "w1", 1, 0, 60, true).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec("DELETE FROM recurring_windows").
		WithArgs(businessID, "w1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := repo.UpdateWindow(context.Background(), businessID, availability.RecurringWindow{
		ID: "w1", Weekday: availability.Tuesday, StartMinute: 0, EndMinute: 60, Active: true,
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.DeleteWindow(context.Background(), businessID, "w1"), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManualBlocks(t *testing.T) {
	mock, repo := newMock(t)
	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	mock.ExpectQuery("FROM manual_blocks").
		WithArgs(businessID, from, to).
		WillReturnRows(pgxmock.NewRows([]string{"id", "start_at", "end_at", "is_booked"}).
			AddRow("b1", from.Add(9*time.Hour), from.Add(10*time.Hour), false).
			AddRow("b2", from.Add(11*time.Hour), from.Add(12*time.Hour), true))

	blocks, err := repo.ManualBlocks(context.Background(), businessID, from, to)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.True(t, blocks[1].IsBooked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManualBlocksQueryError(t *testing.T) {
	mock, repo := newMock(t)
	boom := errors.New("connection reset")
	mock.ExpectQuery("FROM manual_blocks").WillReturnError(boom)

	_, err := repo.ManualBlocks(context.Background(), businessID, time.Now(), time.Now())
	assert.ErrorIs(t, err, boom)
}

func TestMarkBooked(t *testing.T) {
	mock, repo := newMock(t)
	mock.ExpectExec("UPDATE manual_blocks").
		WithArgs(businessID, "b1", "user-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE manual_blocks").
		WithArgs(businessID, "b1", "user-2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec("UPDATE manual_blocks").
		WithArgs(businessID, "b2", "user-2").
		WillReturnError(&pgconn.PgError{Code: "23P01"})

	ctx := context.Background()
	assert.NoError(t, repo.MarkBooked(ctx, mock, businessID, "b1", "user-1"))
	assert.ErrorIs(t, repo.MarkBooked(ctx, mock, businessID, "b1", "user-2"), ErrSlotTaken)
	assert.ErrorIs(t, repo.MarkBooked(ctx, mock, businessID, "b2", "user-2"), ErrSlotTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseNotBooked(t *testing.T) {
	mock, repo := newMock(t)
	mock.ExpectExec("UPDATE manual_blocks").
		WithArgs(businessID, "b1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	assert.ErrorIs(t, repo.Release(context.Background(), mock, businessID, "b1"), ErrNotBooked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOverlapsBookingAndLock(t *testing.T) {
	mock, repo := newMock(t)
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs(businessID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(businessID, start, end, "").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ctx := context.Background()
	require.NoError(t, repo.LockBusiness(ctx, mock, businessID))
	overlaps, err := repo.OverlapsBooking(ctx, mock, businessID, start, end, "")
	require.NoError(t, err)
	assert.True(t, overlaps)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertBookedExclusionViolation(t *testing.T) {
	mock, repo := newMock(t)
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO manual_blocks").
		WithArgs(pgxmock.AnyArg(), businessID, start, start.Add(time.Hour), "user-1").
		WillReturnError(&pgconn.PgError{Code: "23P01"})

	_, err := repo.InsertBooked(context.Background(), mock, businessID, start, start.Add(time.Hour), "user-1")
	assert.ErrorIs(t, err, ErrSlotTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}
