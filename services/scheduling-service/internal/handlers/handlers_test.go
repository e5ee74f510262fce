package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/apptdesk/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/apptdesk/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/apptdesk/services/scheduling-service/internal/storage"
)

var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

const (
	bizID        = "5b8e2c1a-7d4f-4e6a-9c3b-1f2a3b4c5d6e"
	monWindowID  = "0d1c6a57-3f2e-4b8a-a1c9-7e6f5d4c3b2a"
	tueWindowID  = "1e2d7b68-4a3f-4c9b-b2da-8f7a6e5d4c3b"
	newWindowID  = "2f3e8c79-5b4a-4dac-83eb-9a8b7f6e5d4c"
	bookingID    = "3a4f9d8a-6c5b-4ebd-94fc-ab9c8a7f6e5d"
	freeTueID    = "4b5a0e9b-7d6c-4fce-a50d-bcad9b8a7f6e"
	coveredID    = "5c6b1fac-8e7d-4adf-b61e-cdbeac9b8a7f"
	newBlockID   = "6d7c20bd-9f8e-4be0-872f-decfbdac9b8a"
	unknownRowID = "7e8d31ce-a09f-4cf1-9830-efd0cebdac9b"
)

type memStore struct {
	windows []availability.RecurringWindow
	blocks  []availability.ManualBlock
	err     error
}

func (m *memStore) RecurringWindows(context.Context, string) ([]availability.RecurringWindow, error) {
	return m.windows, m.err
}

func (m *memStore) ManualBlocks(_ context.Context, _ string, from, to time.Time) ([]availability.ManualBlock, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []availability.ManualBlock
	for _, b := range m.blocks {
		if !b.StartAt.Before(from) && b.StartAt.Before(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memStore) GetWindow(_ context.Context, _, id string) (availability.RecurringWindow, error) {
	for _, w := range m.windows {
		if w.ID == id {
			return w, nil
		}
	}
	return availability.RecurringWindow{}, storage.ErrNotFound
}

func (m *memStore) CreateWindow(_ context.Context, _ string, w availability.RecurringWindow) (availability.RecurringWindow, error) {
	w.ID = newWindowID
	m.windows = append(m.windows, w)
	return w, nil
}

func (m *memStore) UpdateWindow(_ context.Context, _ string, w availability.RecurringWindow) error {
	for i := range m.windows {
		if m.windows[i].ID == w.ID {
			m.windows[i] = w
			return nil
		}
	}
	return storage.ErrNotFound
}

func (m *memStore) DeleteWindow(_ context.Context, _, id string) error {
	for i := range m.windows {
		if m.windows[i].ID == id {
			m.windows = append(m.windows[:i], m.windows[i+1:]...)
			return nil
		}
	}
	return storage.ErrNotFound
}

func (m *memStore) GetBlock(_ context.Context, _, id string) (availability.ManualBlock, error) {
	for _, b := range m.blocks {
		if b.ID == id {
			return b, nil
		}
	}
	return availability.ManualBlock{}, storage.ErrNotFound
}

func (m *memStore) CreateBlock(_ context.Context, _ string, start, end time.Time) (availability.ManualBlock, error) {
	b := availability.ManualBlock{ID: newBlockID, StartAt: start, EndAt: end}
	m.blocks = append(m.blocks, b)
	return b, nil
}

func (m *memStore) DeleteBlock(_ context.Context, _, id string) error {
	for i := range m.blocks {
		if m.blocks[i].ID == id {
			m.blocks = append(m.blocks[:i], m.blocks[i+1:]...)
			return nil
		}
	}
	return storage.ErrNotFound
}

type stubBooker struct {
	lastReq booking.Request
	err     error
}

func (b *stubBooker) Book(_ context.Context, req booking.Request) (booking.Result, error) {
	b.lastReq = req
	if b.err != nil {
		return booking.Result{}, b.err
	}
	return booking.Result{Booking: availability.ManualBlock{ID: "booked", StartAt: req.StartAt, EndAt: req.EndAt, IsBooked: true}, Virtual: true}, nil
}

func (b *stubBooker) Cancel(_ context.Context, _, id string) (availability.ManualBlock, error) {
	if b.err != nil {
		return availability.ManualBlock{}, b.err
	}
	return availability.ManualBlock{ID: id, StartAt: monday.Add(10 * time.Hour), EndAt: monday.Add(11 * time.Hour)}, nil
}

func at(day, hour, minute int) time.Time {
	return monday.AddDate(0, 0, day).Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func seededStore() *memStore {
	return &memStore{
		windows: []availability.RecurringWindow{
			{ID: monWindowID, Weekday: availability.Monday, StartMinute: 9 * 60, EndMinute: 12 * 60, Active: true},
			{ID: tueWindowID, Weekday: availability.Tuesday, StartMinute: 9 * 60, EndMinute: 10 * 60, Active: true},
		},
		blocks: []availability.ManualBlock{
			{ID: bookingID, StartAt: at(0, 10, 0), EndAt: at(0, 11, 0), IsBooked: true},
			{ID: freeTueID, StartAt: at(1, 14, 0), EndAt: at(1, 15, 0)},
			{ID: coveredID, StartAt: at(0, 10, 30), EndAt: at(0, 11, 30)},
		},
	}
}

func newTestHandler(store *memStore, booker *stubBooker, opts Options) (*Handler, *http.ServeMux) {
	h := New(store, booker, slog.New(slog.NewTextHandler(io.Discard, nil)), nil, opts)
	h.now = func() time.Time { return monday.Add(-time.Hour) }
	mux := http.NewServeMux()
	h.Register(mux)
	return h, mux
}

func do(mux *http.ServeMux, method, target string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, req)
	return rw
}

var admin = map[string]string{"X-Business-Id": bizID}

func TestAdminAvailability(t *testing.T) {
	_, mux := newTestHandler(seededStore(), &stubBooker{}, Options{})

	rw := do(mux, http.MethodGet, "/api/v1/admin/availability?start=2026-03-02&end=2026-03-03", nil, admin)
	require.Equal(t, http.StatusOK, rw.Code, rw.Body.String())

	var resp adminAvailabilityResponse
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &resp))
	assert.Len(t, resp.Rules, 2)

	type row struct {
		start   string
		virtual bool
		booked  bool
	}
	var got []row
	for _, s := range resp.Slots {
		got = append(got, row{s.StartAt.UTC().Format("01-02 15:04"), s.IsVirtual, s.IsBooked})
	}
	// Stored blocks come first on equal starts.
	assert.Equal(t, []row{
		{"03-02 09:00", true, false},
		{"03-02 10:00", false, true},
		{"03-02 10:30", false, false},
		{"03-02 11:00", true, false},
		{"03-03 09:00", true, false},
		{"03-03 14:00", false, false},
		{"03-03 14:00", true, false},
	}, got)
}

func TestAdminAvailabilityValidation(t *testing.T) {
	_, mux := newTestHandler(seededStore(), &stubBooker{}, Options{MaxRangeDays: 7})

	assert.Equal(t, http.StatusBadRequest, do(mux, http.MethodGet, "/api/v1/admin/availability?start=2026-03-02&end=2026-03-03", nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(mux, http.MethodGet, "/api/v1/admin/availability?end=2026-03-03", nil, admin).Code)
	assert.Equal(t, http.StatusBadRequest, do(mux, http.MethodGet, "/api/v1/admin/availability?start=yesterday&end=2026-03-03", nil, admin).Code)
	assert.Equal(t, http.StatusBadRequest, do(mux, http.MethodGet, "/api/v1/admin/availability?start=2026-03-01&end=2026-03-08", nil, admin).Code)
	assert.Equal(t, http.StatusOK, do(mux, http.MethodGet, "/api/v1/admin/availability?start=2026-03-02&end=2026-03-08", nil, admin).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(mux, http.MethodPost, "/api/v1/admin/availability", nil, admin).Code)
}

func TestAdminAvailabilityInvertedRange(t *testing.T) {
	_, mux := newTestHandler(seededStore(), &stubBooker{}, Options{})
	rw := do(mux, http.MethodGet, "/api/v1/admin/availability?start=2026-03-05T00:00:00Z&end=2026-03-02T00:00:00Z", nil, admin)
	require.Equal(t, http.StatusOK, rw.Code)

	var resp adminAvailabilityResponse
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &resp))
	assert.Len(t, resp.Rules, 2)
	assert.Empty(t, resp.Slots)
}

func TestAvailabilityDatastoreFailure(t *testing.T) {
	store := seededStore()
	store.err = errors.New("db down")
	_, mux := newTestHandler(store, &stubBooker{}, Options{})

	assert.Equal(t, http.StatusInternalServerError, do(mux, http.MethodGet, "/api/v1/admin/availability?start=2026-03-02&end=2026-03-02", nil, admin).Code)
	assert.Equal(t, http.StatusInternalServerError, do(mux, http.MethodGet, "/api/v1/public/slots?business_id="+bizID+"&start=2026-03-02&end=2026-03-02", nil, nil).Code)
}

func publicIDs(t *testing.T, rw *httptest.ResponseRecorder) []string {
	t.Helper()
	require.Equal(t, http.StatusOK, rw.Code, rw.Body.String())
	var resp publicSlotsResponse
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &resp))
	ids := []string{}
	for _, s := range resp.Slots {
		assert.False(t, s.IsBooked)
		ids = append(ids, s.ID)
	}
	return ids
}

func TestPublicSlotsFrozenDates(t *testing.T) {
	_, mux := newTestHandler(seededStore(), &stubBooker{}, Options{FrozenDates: true})
	ids := publicIDs(t, do(mux, http.MethodGet, "/api/v1/public/slots?business_id="+bizID+"&start=2026-03-02&end=2026-03-03", nil, nil))

	// Monday holds a booking, so only Tuesday's computed block and stored free block remain.
	assert.Equal(t, []string{availability.VirtualID(at(1, 9, 0), at(1, 10, 0)), freeTueID}, ids)
}

func TestPublicSlotsWithoutFreezing(t *testing.T) {
	_, mux := newTestHandler(seededStore(), &stubBooker{}, Options{})
	ids := publicIDs(t, do(mux, http.MethodGet, "/api/v1/public/slots?business_id="+bizID+"&start=2026-03-02&end=2026-03-03", nil, nil))

	assert.Equal(t, []string{
		availability.VirtualID(at(0, 9, 0), at(0, 10, 0)),
		availability.VirtualID(at(0, 11, 0), at(0, 12, 0)),
		availability.VirtualID(at(1, 9, 0), at(1, 10, 0)),
		freeTueID,
	}, ids)
}

func TestPublicSlotsHidePast(t *testing.T) {
	h, mux := newTestHandler(seededStore(), &stubBooker{}, Options{HidePast: true})
	h.now = func() time.Time { return at(1, 9, 30) }
	ids := publicIDs(t, do(mux, http.MethodGet, "/api/v1/public/slots?business_id="+bizID+"&start=2026-03-02&end=2026-03-03", nil, nil))

	assert.Equal(t, []string{availability.VirtualID(at(1, 9, 0), at(1, 10, 0)), freeTueID}, ids)
}

func TestPublicSlotsRequiresBusiness(t *testing.T) {
	_, mux := newTestHandler(seededStore(), &stubBooker{}, Options{})
	assert.Equal(t, http.StatusBadRequest, do(mux, http.MethodGet, "/api/v1/public/slots?start=2026-03-02&end=2026-03-03", nil, nil).Code)
}

func TestPublicBook(t *testing.T) {
	booker := &stubBooker{}
	_, mux := newTestHandler(seededStore(), booker, Options{})
	body := map[string]string{"business_id": bizID, "start_at": "2026-03-03T09:00:00Z", "end_at": "2026-03-03T10:00:00Z"}

	assert.Equal(t, http.StatusUnauthorized, do(mux, http.MethodPost, "/api/v1/public/book", body, nil).Code)

	rw := do(mux, http.MethodPost, "/api/v1/public/book", body, map[string]string{"X-User-Id": "user-1"})
	require.Equal(t, http.StatusCreated, rw.Code, rw.Body.String())
	assert.Equal(t, "user-1", booker.lastReq.BookedBy)
	assert.True(t, booker.lastReq.StartAt.Equal(at(1, 9, 0)))

	rw = do(mux, http.MethodPost, "/api/v1/public/book", map[string]string{"business_id": bizID, "slot_id": freeTueID}, map[string]string{"X-User-Id": "user-1"})
	require.Equal(t, http.StatusCreated, rw.Code)
	assert.Equal(t, freeTueID, booker.lastReq.SlotID)

	assert.Equal(t, http.StatusBadRequest, do(mux, http.MethodPost, "/api/v1/public/book", map[string]string{"business_id": bizID}, map[string]string{"X-User-Id": "u"}).Code)
}

func TestPublicBookErrorMapping(t *testing.T) {
	cases := map[error]int{
		storage.ErrSlotTaken:      http.StatusConflict,
		booking.ErrUnavailable:    http.StatusConflict,
		storage.ErrNotFound:       http.StatusNotFound,
		booking.ErrInPast:         http.StatusBadRequest,
		booking.ErrInvalidRequest: http.StatusBadRequest,
		errors.New("deadlock"):    http.StatusInternalServerError,
	}
	for err, code := range cases {
		_, mux := newTestHandler(seededStore(), &stubBooker{err: err}, Options{})
		rw := do(mux, http.MethodPost, "/api/v1/public/book", map[string]string{"business_id": bizID, "slot_id": unknownRowID}, map[string]string{"X-User-Id": "u"})
		assert.Equal(t, code, rw.Code, err.Error())
	}
}

func TestRulesCRUD(t *testing.T) {
	store := seededStore()
	_, mux := newTestHandler(store, &stubBooker{}, Options{})

	rw := do(mux, http.MethodPost, "/api/v1/admin/rules", map[string]any{"weekday": "fri", "start_time": "13:00", "end_time": "17:30"}, admin)
	require.Equal(t, http.StatusCreated, rw.Code, rw.Body.String())
	var created availability.RecurringWindow
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &created))
	assert.Equal(t, availability.Friday, created.Weekday)
	assert.Equal(t, 13*60, created.StartMinute)
	assert.Equal(t, 17*60+30, created.EndMinute)
	assert.True(t, created.Active)

	for _, bad := range []map[string]any{
		{"weekday": "xyz", "start_minute": 0, "end_minute": 60},
		{"start_minute": 0, "end_minute": 60},
		{"weekday": "mon", "start_minute": 600, "end_minute": 540},
		{"weekday": "mon", "start_minute": 0, "end_minute": 1441},
		{"weekday": "mon", "start_time": "9am", "end_time": "10:00"},
	} {
		assert.Equal(t, http.StatusBadRequest, do(mux, http.MethodPost, "/api/v1/admin/rules", bad, admin).Code, bad)
	}

	rw = do(mux, http.MethodPut, "/api/v1/admin/rules?id="+monWindowID, map[string]any{"weekday": "mon", "start_minute": 480, "end_minute": 720, "active": false}, admin)
	require.Equal(t, http.StatusOK, rw.Code, rw.Body.String())
	assert.False(t, store.windows[0].Active)
	assert.Equal(t, 480, store.windows[0].StartMinute)

	assert.Equal(t, http.StatusBadRequest, do(mux, http.MethodPut, "/api/v1/admin/rules", map[string]any{"weekday": "mon", "start_minute": 0, "end_minute": 60}, admin).Code)
	assert.Equal(t, http.StatusNotFound, do(mux, http.MethodPut, "/api/v1/admin/rules?id="+unknownRowID, map[string]any{"weekday": "mon", "start_minute": 0, "end_minute": 60}, admin).Code)

	assert.Equal(t, http.StatusOK, do(mux, http.MethodGet, "/api/v1/admin/rules?id="+tueWindowID, nil, admin).Code)
	assert.Equal(t, http.StatusNoContent, do(mux, http.MethodDelete, "/api/v1/admin/rules?id="+tueWindowID, nil, admin).Code)
	assert.Equal(t, http.StatusNotFound, do(mux, http.MethodDelete, "/api/v1/admin/rules?id="+tueWindowID, nil, admin).Code)

	rw = do(mux, http.MethodGet, "/api/v1/admin/rules", nil, admin)
	var rules []availability.RecurringWindow
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &rules))
	assert.Len(t, rules, 2)
}

func TestSlotsCRUD(t *testing.T) {
	store := seededStore()
	_, mux := newTestHandler(store, &stubBooker{}, Options{})

	rw := do(mux, http.MethodPost, "/api/v1/admin/slots", map[string]string{"start_at": "2026-03-04T15:00:00", "end_at": "2026-03-04T16:00:00"}, admin)
	require.Equal(t, http.StatusCreated, rw.Code, rw.Body.String())

	assert.Equal(t, http.StatusBadRequest, do(mux, http.MethodPost, "/api/v1/admin/slots", map[string]string{"start_at": "2026-03-04T16:00:00", "end_at": "2026-03-04T15:00:00"}, admin).Code)
	assert.Equal(t, http.StatusBadRequest, do(mux, http.MethodPost, "/api/v1/admin/slots", map[string]string{"start_at": "soon", "end_at": "2026-03-04T15:00:00"}, admin).Code)

	rw = do(mux, http.MethodGet, "/api/v1/admin/slots?start=2026-03-04&end=2026-03-04", nil, admin)
	require.Equal(t, http.StatusOK, rw.Code)
	var items []slotItem
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, newBlockID, items[0].ID)
	assert.Equal(t, "15:00", items[0].StartTime)

	assert.Equal(t, http.StatusNoContent, do(mux, http.MethodDelete, "/api/v1/admin/slots?id="+newBlockID, nil, admin).Code)
	assert.Equal(t, http.StatusNotFound, do(mux, http.MethodGet, "/api/v1/admin/slots?id="+newBlockID, nil, admin).Code)
}

func TestCancelSlot(t *testing.T) {
	_, mux := newTestHandler(seededStore(), &stubBooker{}, Options{})
	assert.Equal(t, http.StatusOK, do(mux, http.MethodPost, "/api/v1/admin/slots/cancel", map[string]string{"id": bookingID}, admin).Code)
	assert.Equal(t, http.StatusBadRequest, do(mux, http.MethodPost, "/api/v1/admin/slots/cancel", map[string]string{}, admin).Code)

	_, mux = newTestHandler(seededStore(), &stubBooker{err: storage.ErrNotBooked}, Options{})
	assert.Equal(t, http.StatusConflict, do(mux, http.MethodPost, "/api/v1/admin/slots/cancel", map[string]string{"id": freeTueID}, admin).Code)
}

func TestParseTime(t *testing.T) {
	loc := time.FixedZone("UTC+6", 6*3600)
	cases := map[string]time.Time{
		"2026-03-02T10:00:00Z":      time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		"2026-03-02T10:00:00+06:00": time.Date(2026, 3, 2, 4, 0, 0, 0, time.UTC),
		"2026-03-02T10:00:00":       time.Date(2026, 3, 2, 10, 0, 0, 0, loc),
		"2026-03-02T10:00":          time.Date(2026, 3, 2, 10, 0, 0, 0, loc),
		"2026-03-02":                time.Date(2026, 3, 2, 0, 0, 0, 0, loc),
	}
	for raw, want := range cases {
		got, err := parseTime(raw, loc)
		require.NoError(t, err, raw)
		assert.True(t, got.Equal(want), "%s: got %s", raw, got)
	}
	for _, bad := range []string{"", "02/03/2026", "2026-13-01"} {
		_, err := parseTime(bad, loc)
		assert.Error(t, err, bad)
	}
}

func TestMalformedIdentifiers(t *testing.T) {
	store := seededStore()
	// Any datastore read would surface as a 500.
	store.err = errors.New("uuid parse error from postgres")
	booker := &stubBooker{err: errors.New("booker must not be called")}
	_, mux := newTestHandler(store, booker, Options{})
	user := map[string]string{"X-User-Id": "user-1"}
	tenant := map[string]string{"X-Business-Id": "acme"}

	cases := []struct {
		name   string
		method string
		target string
		body   any
		header map[string]string
		want   int
	}{
		{"public slots tenant", http.MethodGet, "/api/v1/public/slots?business_id=acme&start=2026-03-02&end=2026-03-03", nil, nil, http.StatusBadRequest},
		{"book tenant", http.MethodPost, "/api/v1/public/book", map[string]string{"business_id": "acme", "slot_id": freeTueID}, user, http.StatusBadRequest},
		{"book empty tenant", http.MethodPost, "/api/v1/public/book", map[string]string{"slot_id": freeTueID}, user, http.StatusBadRequest},
		{"book slot id", http.MethodPost, "/api/v1/public/book", map[string]string{"business_id": bizID, "slot_id": "slot-7"}, user, http.StatusNotFound},
		{"admin availability tenant", http.MethodGet, "/api/v1/admin/availability?start=2026-03-02&end=2026-03-03", nil, tenant, http.StatusBadRequest},
		{"rules tenant", http.MethodGet, "/api/v1/admin/rules", nil, tenant, http.StatusBadRequest},
		{"slots tenant", http.MethodGet, "/api/v1/admin/slots?start=2026-03-02&end=2026-03-03", nil, tenant, http.StatusBadRequest},
		{"cancel tenant", http.MethodPost, "/api/v1/admin/slots/cancel", map[string]string{"id": bookingID}, tenant, http.StatusBadRequest},
		{"get rule", http.MethodGet, "/api/v1/admin/rules?id=mon", nil, admin, http.StatusNotFound},
		{"update rule", http.MethodPut, "/api/v1/admin/rules?id=mon", map[string]any{"weekday": "mon", "start_minute": 0, "end_minute": 60}, admin, http.StatusNotFound},
		{"delete rule", http.MethodDelete, "/api/v1/admin/rules?id=mon", nil, admin, http.StatusNotFound},
		{"get slot", http.MethodGet, "/api/v1/admin/slots?id=42", nil, admin, http.StatusNotFound},
		{"delete slot", http.MethodDelete, "/api/v1/admin/slots?id=42", nil, admin, http.StatusNotFound},
		{"cancel slot", http.MethodPost, "/api/v1/admin/slots/cancel", map[string]string{"id": "42"}, admin, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rw := do(mux, tc.method, tc.target, tc.body, tc.header)
			assert.Equal(t, tc.want, rw.Code, rw.Body.String())
		})
	}
}
