package handlers

import (
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/apptdesk/libs/httpx"
	"github.com/md-rashed-zaman/apptdesk/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/apptdesk/services/scheduling-service/internal/booking"
)

type publicSlotsResponse struct {
	BusinessID string     `json:"business_id"`
	Slots      []slotItem `json:"slots"`
}

// PublicSlots lists bookable slots: stored free blocks plus computed blocks.
func (h *Handler) PublicSlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	businessID := strings.TrimSpace(r.URL.Query().Get("business_id"))
	if businessID == "" {
		http.Error(w, "business_id is required", http.StatusBadRequest)
		return
	}
	if !isUUID(businessID) {
		http.Error(w, "invalid business_id", http.StatusBadRequest)
		return
	}
	start, end, err := h.parseRange(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	snap, err := h.calc.Snapshot(r.Context(), businessID, start, end)
	if err != nil {
		h.writeError(w, r, err, "failed to compute availability")
		return
	}

	items := h.publicSlots(snap)
	h.metrics.ObserveAvailability("public", len(items))
	httpx.WriteJSON(w, http.StatusOK, publicSlotsResponse{BusinessID: businessID, Slots: items})
}

func (h *Handler) publicSlots(snap availability.Snapshot) []slotItem {
	now := h.now()
	var booked []availability.Interval
	frozen := map[string]bool{}
	for _, b := range snap.Blocks {
		if b.IsBooked {
			booked = append(booked, availability.Interval{Start: b.StartAt, End: b.EndAt})
			frozen[b.StartAt.In(h.opts.Location).Format(availability.DateLayout)] = true
		}
	}

	items := []slotItem{}
	stored := map[string]bool{}
	for _, b := range snap.Blocks {
		if b.IsBooked || (h.opts.HidePast && !b.EndAt.After(now)) {
			continue
		}
		if overlapsAny(availability.Interval{Start: b.StartAt, End: b.EndAt}, booked) {
			continue
		}
		items = append(items, h.storedItem(b))
		stored[availability.VirtualID(b.StartAt, b.EndAt)] = true
	}
	for _, b := range snap.Available {
		if h.opts.FrozenDates && frozen[b.Date] {
			continue
		}
		if h.opts.HidePast && !b.EndAt.After(now) {
			continue
		}
		if stored[b.ID] {
			continue
		}
		items = append(items, virtualItem(b))
	}
	sortSlots(items)
	return items
}

func overlapsAny(iv availability.Interval, others []availability.Interval) bool {
	for _, o := range others {
		if iv.Overlaps(o) {
			return true
		}
	}
	return false
}

type bookRequest struct {
	BusinessID string `json:"business_id"`
	SlotID     string `json:"slot_id"`
	StartAt    string `json:"start_at"`
	EndAt      string `json:"end_at"`
}

// PublicBook books a slot for the authenticated caller.
func (h *Handler) PublicBook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := userIDFromHeader(r)
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var body bookRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	body.BusinessID, body.SlotID = strings.TrimSpace(body.BusinessID), strings.TrimSpace(body.SlotID)
	if !isUUID(body.BusinessID) {
		http.Error(w, "invalid business_id", http.StatusBadRequest)
		return
	}
	if body.SlotID != "" && !booking.IsVirtualID(body.SlotID) && !isUUID(body.SlotID) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	req := booking.Request{BusinessID: body.BusinessID, SlotID: body.SlotID, BookedBy: userID}
	if body.SlotID == "" {
		start, err := parseTime(body.StartAt, h.opts.Location)
		if err != nil {
			http.Error(w, "slot_id or start_at/end_at required", http.StatusBadRequest)
			return
		}
		end, err := parseTime(body.EndAt, h.opts.Location)
		if err != nil {
			http.Error(w, "invalid end_at", http.StatusBadRequest)
			return
		}
		req.StartAt, req.EndAt = start, end
	}

	res, err := h.booker.Book(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err, "failed to book slot")
		return
	}
	h.logger.Info("slot booked", "business_id", req.BusinessID, "slot_id", res.Booking.ID, "virtual", res.Virtual)
	httpx.WriteJSON(w, http.StatusCreated, h.storedItem(res.Booking))
}
