package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/apptdesk/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/apptdesk/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/apptdesk/services/scheduling-service/internal/metrics"
	"github.com/md-rashed-zaman/apptdesk/services/scheduling-service/internal/storage"
)

// Store is the storage surface used by the HTTP layer.
type Store interface {
	availability.Source
	GetWindow(ctx context.Context, businessID, id string) (availability.RecurringWindow, error)
	CreateWindow(ctx context.Context, businessID string, w availability.RecurringWindow) (availability.RecurringWindow, error)
	UpdateWindow(ctx context.Context, businessID string, w availability.RecurringWindow) error
	DeleteWindow(ctx context.Context, businessID, id string) error
	GetBlock(ctx context.Context, businessID, id string) (availability.ManualBlock, error)
	CreateBlock(ctx context.Context, businessID string, start, end time.Time) (availability.ManualBlock, error)
	DeleteBlock(ctx context.Context, businessID, id string) error
}

// Booker is satisfied by *booking.Service.
type Booker interface {
	Book(ctx context.Context, req booking.Request) (booking.Result, error)
	Cancel(ctx context.Context, businessID, id string) (availability.ManualBlock, error)
}

type Options struct {
	Location     *time.Location
	MaxRangeDays int
	// FrozenDates suppresses computed slots on dates that already hold a booking (public view only).
	FrozenDates bool
	HidePast    bool
}

type Handler struct {
	store   Store
	booker  Booker
	calc    *availability.Calculator
	logger  *slog.Logger
	metrics *metrics.SchedulingMetrics
	opts    Options
	now     func() time.Time
}

func New(store Store, booker Booker, logger *slog.Logger, m *metrics.SchedulingMetrics, opts Options) *Handler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.MaxRangeDays <= 0 {
		opts.MaxRangeDays = 93
	}
	return &Handler{
		store:   store,
		booker:  booker,
		calc:    availability.NewCalculator(store, opts.Location),
		logger:  logger,
		metrics: m,
		opts:    opts,
		now:     time.Now,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/admin/availability", h.AdminAvailability)
	mux.HandleFunc("/api/v1/admin/rules", h.Rules)
	mux.HandleFunc("/api/v1/admin/slots", h.Slots)
	mux.HandleFunc("/api/v1/admin/slots/cancel", h.CancelSlot)
	mux.HandleFunc("/api/v1/public/slots", h.PublicSlots)
	mux.HandleFunc("/api/v1/public/book", h.PublicBook)
}

func businessIDFromHeader(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Business-Id"))
}

// requireBusiness reads the tenant the gateway took from the caller's token.
func requireBusiness(w http.ResponseWriter, r *http.Request) (string, bool) {
	businessID := businessIDFromHeader(r)
	switch {
	case businessID == "":
		http.Error(w, "missing X-Business-Id", http.StatusBadRequest)
		return "", false
	case !isUUID(businessID):
		http.Error(w, "invalid X-Business-Id", http.StatusBadRequest)
		return "", false
	}
	return businessID, true
}

// isUUID accepts the canonical 36-character form only; row and tenant ids are uuid columns.
func isUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

func userIDFromHeader(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-Id"))
}

var boundLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	availability.DateLayout,
}

// parseTime accepts RFC 3339, or a local datetime/date interpreted in loc.
func parseTime(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("missing value")
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	for _, layout := range boundLayouts {
		if wall, err := time.Parse(layout, raw); err == nil {
			return availability.WallTime(wall, loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", raw)
}

// parseRange reads start and end query parameters. An end before start is allowed and
// produces an empty result downstream.
func (h *Handler) parseRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	start, err := parseTime(q.Get("start"), h.opts.Location)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start: %w", err)
	}
	end, err := parseTime(q.Get("end"), h.opts.Location)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end: %w", err)
	}
	from, to := h.calc.Bounds(start, end)
	if days := int(to.Sub(from).Hours()/24 + 0.5); days > h.opts.MaxRangeDays {
		return time.Time{}, time.Time{}, fmt.Errorf("range exceeds %d days", h.opts.MaxRangeDays)
	}
	return start, end, nil
}

// writeError maps domain errors onto status codes; anything unrecognised is logged as a 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	switch {
	case errors.Is(err, booking.ErrInvalidRequest), errors.Is(err, booking.ErrInPast):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, storage.ErrSlotTaken), errors.Is(err, booking.ErrUnavailable), errors.Is(err, storage.ErrNotBooked):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error(msg, "err", err, "path", r.URL.Path)
		http.Error(w, msg, http.StatusInternalServerError)
	}
}
