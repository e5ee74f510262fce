package booking

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptdesk/libs/db"
	otelx "github.com/md-rashed-zaman/apptdesk/libs/otel"
	"github.com/md-rashed-zaman/apptdesk/libs/outbox"
	"github.com/md-rashed-zaman/apptdesk/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/apptdesk/services/scheduling-service/internal/metrics"
	"github.com/md-rashed-zaman/apptdesk/services/scheduling-service/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	EventBookingCreated   = "scheduling.booking.created.v1"
	EventBookingCancelled = "scheduling.booking.cancelled.v1"

	aggregateType = "booking"
	virtualPrefix = "virtual-"
)

var (
	ErrInvalidRequest = errors.New("invalid booking request")
	ErrUnavailable    = errors.New("requested time is not available")
	ErrInPast         = errors.New("requested time is in the past")
)

// Store is the transactional slice of storage.Repository used for bookings.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	LockBusiness(ctx context.Context, tx db.DBTX, businessID string) error
	GetBlockForUpdate(ctx context.Context, tx db.DBTX, businessID, id string) (availability.ManualBlock, error)
	MarkBooked(ctx context.Context, tx db.DBTX, businessID, id, bookedBy string) error
	InsertBooked(ctx context.Context, tx db.DBTX, businessID string, start, end time.Time, bookedBy string) (availability.ManualBlock, error)
	Release(ctx context.Context, tx db.DBTX, businessID, id string) error
	OverlapsBooking(ctx context.Context, tx db.DBTX, businessID string, start, end time.Time, excludeID string) (bool, error)
	TxSource(tx db.DBTX) availability.Source
}

// EventWriter is satisfied by *outbox.Repository.
type EventWriter interface {
	Insert(ctx context.Context, tx db.DBTX, evt outbox.Event) error
}

// Request books either a stored free block (SlotID) or a computed range (StartAt/EndAt, or a
// virtual SlotID encoding them).
type Request struct {
	BusinessID string
	SlotID     string
	StartAt    time.Time
	EndAt      time.Time
	BookedBy   string
}

type Result struct {
	Booking availability.ManualBlock
	Virtual bool
}

type Event struct {
	BookingID  string    `json:"booking_id"`
	BusinessID string    `json:"business_id"`
	StartAt    time.Time `json:"start_at"`
	EndAt      time.Time `json:"end_at"`
	BookedBy   string    `json:"booked_by,omitempty"`
	Virtual    bool      `json:"virtual"`
}

type Service struct {
	store   Store
	events  EventWriter
	loc     *time.Location
	metrics *metrics.SchedulingMetrics
	now     func() time.Time
}

func NewService(store Store, events EventWriter, loc *time.Location, m *metrics.SchedulingMetrics) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{store: store, events: events, loc: loc, metrics: m, now: time.Now}
}

// Book reserves a slot. All checks and writes happen under the business advisory lock in one
// transaction together with the outbox event.
func (s *Service) Book(ctx context.Context, req Request) (Result, error) {
	req, stored, err := s.normalize(req)
	kind := "virtual"
	if stored {
		kind = "stored"
	}
	if err != nil {
		s.metrics.ObserveBooking(kind, "invalid")
		return Result{}, err
	}

	ctx, span := otelx.Tracer("scheduling/booking").Start(ctx, "booking.Book")
	defer span.End()
	span.SetAttributes(attribute.String("business_id", req.BusinessID), attribute.String("booking.kind", kind))

	res, err := s.book(ctx, req, stored)
	s.metrics.ObserveBooking(kind, outcome(err))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (s *Service) book(ctx context.Context, req Request, stored bool) (Result, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.store.LockBusiness(ctx, tx, req.BusinessID); err != nil {
		return Result{}, err
	}

	var res Result
	if stored {
		res, err = s.bookStored(ctx, tx, req)
	} else {
		res, err = s.bookVirtual(ctx, tx, req)
	}
	if err != nil {
		return Result{}, err
	}

	evt, err := outbox.NewEvent(aggregateType, res.Booking.ID, EventBookingCreated, Event{
		BookingID:  res.Booking.ID,
		BusinessID: req.BusinessID,
		StartAt:    res.Booking.StartAt,
		EndAt:      res.Booking.EndAt,
		BookedBy:   req.BookedBy,
		Virtual:    res.Virtual,
	})
	if err != nil {
		return Result{}, err
	}
	if err := s.events.Insert(ctx, tx, evt); err != nil {
		return Result{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, err
	}
	return res, nil
}

func (s *Service) bookStored(ctx context.Context, tx pgx.Tx, req Request) (Result, error) {
	block, err := s.store.GetBlockForUpdate(ctx, tx, req.BusinessID, req.SlotID)
	if err != nil {
		return Result{}, err
	}
	if block.IsBooked {
		return Result{}, storage.ErrSlotTaken
	}
	if block.StartAt.Before(s.now()) {
		return Result{}, ErrInPast
	}
	overlaps, err := s.store.OverlapsBooking(ctx, tx, req.BusinessID, block.StartAt, block.EndAt, block.ID)
	if err != nil {
		return Result{}, err
	}
	if overlaps {
		return Result{}, storage.ErrSlotTaken
	}
	if err := s.store.MarkBooked(ctx, tx, req.BusinessID, block.ID, req.BookedBy); err != nil {
		return Result{}, err
	}
	block.IsBooked = true
	return Result{Booking: block}, nil
}

// bookVirtual accepts the range only if it fits inside one block computed for its date.
func (s *Service) bookVirtual(ctx context.Context, tx pgx.Tx, req Request) (Result, error) {
	calc := availability.NewCalculator(s.store.TxSource(tx), s.loc)
	free, err := calc.Compute(ctx, req.BusinessID, req.StartAt, req.StartAt)
	if err != nil {
		return Result{}, err
	}
	fits := false
	for _, b := range free {
		if !req.StartAt.Before(b.StartAt) && !req.EndAt.After(b.EndAt) {
			fits = true
			break
		}
	}
	if !fits {
		return Result{}, ErrUnavailable
	}
	block, err := s.store.InsertBooked(ctx, tx, req.BusinessID, req.StartAt, req.EndAt, req.BookedBy)
	if err != nil {
		return Result{}, err
	}
	return Result{Booking: block, Virtual: true}, nil
}

// Cancel releases a booking so its time becomes free again.
func (s *Service) Cancel(ctx context.Context, businessID, id string) (availability.ManualBlock, error) {
	if strings.TrimSpace(businessID) == "" || strings.TrimSpace(id) == "" {
		return availability.ManualBlock{}, ErrInvalidRequest
	}
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return availability.ManualBlock{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.store.LockBusiness(ctx, tx, businessID); err != nil {
		return availability.ManualBlock{}, err
	}
	block, err := s.store.GetBlockForUpdate(ctx, tx, businessID, id)
	if err != nil {
		return availability.ManualBlock{}, err
	}
	if err := s.store.Release(ctx, tx, businessID, id); err != nil {
		return availability.ManualBlock{}, err
	}
	block.IsBooked = false

	evt, err := outbox.NewEvent(aggregateType, id, EventBookingCancelled, Event{
		BookingID:  id,
		BusinessID: businessID,
		StartAt:    block.StartAt,
		EndAt:      block.EndAt,
	})
	if err != nil {
		return availability.ManualBlock{}, err
	}
	if err := s.events.Insert(ctx, tx, evt); err != nil {
		return availability.ManualBlock{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return availability.ManualBlock{}, err
	}
	s.metrics.ObserveBooking("cancel", "cancelled")
	return block, nil
}

// normalize resolves virtual ids into a range and reports whether a stored block is targeted.
func (s *Service) normalize(req Request) (Request, bool, error) {
	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.SlotID = strings.TrimSpace(req.SlotID)
	if req.BusinessID == "" {
		return req, false, fmt.Errorf("%w: business_id is required", ErrInvalidRequest)
	}
	if req.SlotID != "" && !IsVirtualID(req.SlotID) {
		return req, true, nil
	}
	if req.SlotID != "" {
		start, end, err := ParseVirtualID(req.SlotID)
		if err != nil {
			return req, false, err
		}
		req.StartAt, req.EndAt = start, end
	}
	if req.StartAt.IsZero() || req.EndAt.IsZero() || !req.StartAt.Before(req.EndAt) {
		return req, false, fmt.Errorf("%w: start_at must be before end_at", ErrInvalidRequest)
	}
	if req.StartAt.Before(s.now()) {
		return req, false, ErrInPast
	}
	return req, false, nil
}

// IsVirtualID reports whether id names a computed block rather than a stored row.
func IsVirtualID(id string) bool {
	return strings.HasPrefix(id, virtualPrefix)
}

// ParseVirtualID reverses availability.VirtualID.
func ParseVirtualID(id string) (time.Time, time.Time, error) {
	parts := strings.Split(strings.TrimPrefix(id, virtualPrefix), "-")
	if !strings.HasPrefix(id, virtualPrefix) || len(parts) != 2 {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: malformed slot id", ErrInvalidRequest)
	}
	start, err1 := strconv.ParseInt(parts[0], 10, 64)
	end, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: malformed slot id", ErrInvalidRequest)
	}
	return time.Unix(start, 0).UTC(), time.Unix(end, 0).UTC(), nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, storage.ErrSlotTaken), errors.Is(err, ErrUnavailable):
		return "conflict"
	case errors.Is(err, storage.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInPast), errors.Is(err, ErrInvalidRequest):
		return "invalid"
	default:
		return "error"
	}
}
