package handlers

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptdesk/libs/httpx"
	"github.com/md-rashed-zaman/apptdesk/services/scheduling-service/internal/availability"
)

type slotItem struct {
	ID        string    `json:"id"`
	Date      string    `json:"date"`
	StartAt   time.Time `json:"start_at"`
	EndAt     time.Time `json:"end_at"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
	IsBooked  bool      `json:"is_booked"`
	IsVirtual bool      `json:"is_virtual"`
}

type adminAvailabilityResponse struct {
	Rules []availability.RecurringWindow `json:"rules"`
	Slots []slotItem                     `json:"slots"`
}

func (h *Handler) storedItem(b availability.ManualBlock) slotItem {
	start, end := b.StartAt.In(h.opts.Location), b.EndAt.In(h.opts.Location)
	return slotItem{
		ID:        b.ID,
		Date:      start.Format(availability.DateLayout),
		StartAt:   start,
		EndAt:     end,
		StartTime: start.Format("15:04"),
		EndTime:   end.Format("15:04"),
		IsBooked:  b.IsBooked,
	}
}

func virtualItem(b availability.AvailableBlock) slotItem {
	return slotItem{
		ID:        b.ID,
		Date:      b.Date,
		StartAt:   b.StartAt,
		EndAt:     b.EndAt,
		StartTime: b.StartTime,
		EndTime:   b.EndTime,
		IsVirtual: true,
	}
}

func sortSlots(items []slotItem) {
	slices.SortStableFunc(items, func(a, b slotItem) int {
		return a.StartAt.Compare(b.StartAt)
	})
}

// AdminAvailability returns the business's rules plus every stored block and computed free block.
func (h *Handler) AdminAvailability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	businessID, ok := requireBusiness(w, r)
	if !ok {
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
	rules := snap.Windows
	if from, to := h.calc.Bounds(start, end); !to.After(from) {
		// An inverted range skips reads but the dashboard still needs the rule list.
		rules, err = h.store.RecurringWindows(r.Context(), businessID)
		if err != nil {
			h.writeError(w, r, err, "failed to load rules")
			return
		}
	}

	items := make([]slotItem, 0, len(snap.Blocks)+len(snap.Available))
	for _, b := range snap.Blocks {
		items = append(items, h.storedItem(b))
	}
	for _, b := range snap.Available {
		items = append(items, virtualItem(b))
	}
	sortSlots(items)
	h.metrics.ObserveAvailability("admin", len(snap.Available))

	if rules == nil {
		rules = []availability.RecurringWindow{}
	}
	httpx.WriteJSON(w, http.StatusOK, adminAvailabilityResponse{Rules: rules, Slots: items})
}

type ruleRequest struct {
	ID          string                `json:"id"`
	Weekday     *availability.Weekday `json:"weekday"`
	StartMinute *int                  `json:"start_minute"`
	EndMinute   *int                  `json:"end_minute"`
	StartTime   string                `json:"start_time"`
	EndTime     string                `json:"end_time"`
	Active      *bool                 `json:"active"`
}

// window validates the request; start/end may be given as minutes or "HH:MM".
func (req ruleRequest) window() (availability.RecurringWindow, string) {
	if req.Weekday == nil || !req.Weekday.Valid() {
		return availability.RecurringWindow{}, "weekday is required (mon..sun)"
	}
	start, ok := minuteOf(req.StartMinute, req.StartTime)
	if !ok {
		return availability.RecurringWindow{}, "invalid start_minute/start_time"
	}
	end, ok := minuteOf(req.EndMinute, req.EndTime)
	if !ok {
		return availability.RecurringWindow{}, "invalid end_minute/end_time"
	}
	if start < 0 || end > 24*60 || start >= end {
		return availability.RecurringWindow{}, "start must be before end within one day"
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return availability.RecurringWindow{
		ID:          strings.TrimSpace(req.ID),
		Weekday:     *req.Weekday,
		StartMinute: start,
		EndMinute:   end,
		Active:      active,
	}, ""
}

func minuteOf(minutes *int, clock string) (int, bool) {
	if minutes != nil {
		return *minutes, true
	}
	clock = strings.TrimSpace(clock)
	if clock == "24:00" {
		return 24 * 60, true
	}
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

// Rules serves recurring window CRUD.
func (h *Handler) Rules(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	id := strings.TrimSpace(r.URL.Query().Get("id"))

	switch r.Method {
	case http.MethodGet:
		if id != "" {
			if !isUUID(id) {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			rule, err := h.store.GetWindow(ctx, businessID, id)
			if err != nil {
				h.writeError(w, r, err, "failed to load rule")
				return
			}
			httpx.WriteJSON(w, http.StatusOK, rule)
			return
		}
		rules, err := h.store.RecurringWindows(ctx, businessID)
		if err != nil {
			h.writeError(w, r, err, "failed to list rules")
			return
		}
		if rules == nil {
			rules = []availability.RecurringWindow{}
		}
		httpx.WriteJSON(w, http.StatusOK, rules)

	case http.MethodPost, http.MethodPut:
		var req ruleRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		if req.ID == "" {
			req.ID = id
		}
		rule, msg := req.window()
		if msg != "" {
			http.Error(w, msg, http.StatusBadRequest)
			return
		}
		if r.Method == http.MethodPost {
			created, err := h.store.CreateWindow(ctx, businessID, rule)
			if err != nil {
				h.writeError(w, r, err, "failed to create rule")
				return
			}
			httpx.WriteJSON(w, http.StatusCreated, created)
			return
		}
		if rule.ID == "" {
			http.Error(w, "id is required", http.StatusBadRequest)
			return
		}
		if !isUUID(rule.ID) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := h.store.UpdateWindow(ctx, businessID, rule); err != nil {
			h.writeError(w, r, err, "failed to update rule")
			return
		}
		httpx.WriteJSON(w, http.StatusOK, rule)

	case http.MethodDelete:
		if id == "" {
			http.Error(w, "id is required", http.StatusBadRequest)
			return
		}
		if !isUUID(id) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := h.store.DeleteWindow(ctx, businessID, id); err != nil {
			h.writeError(w, r, err, "failed to delete rule")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type slotRequest struct {
	StartAt string `json:"start_at"`
	EndAt   string `json:"end_at"`
}

// Slots serves manual block CRUD.
func (h *Handler) Slots(w http.ResponseWriter, r *http.Request) {
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		if id := strings.TrimSpace(r.URL.Query().Get("id")); id != "" {
			if !isUUID(id) {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			block, err := h.store.GetBlock(ctx, businessID, id)
			if err != nil {
				h.writeError(w, r, err, "failed to load slot")
				return
			}
			httpx.WriteJSON(w, http.StatusOK, h.storedItem(block))
			return
		}
		start, end, err := h.parseRange(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		items := []slotItem{}
		if from, to := h.calc.Bounds(start, end); to.After(from) {
			blocks, err := h.store.ManualBlocks(ctx, businessID, from, to)
			if err != nil {
				h.writeError(w, r, err, "failed to list slots")
				return
			}
			for _, b := range blocks {
				items = append(items, h.storedItem(b))
			}
		}
		httpx.WriteJSON(w, http.StatusOK, items)

	case http.MethodPost:
		var req slotRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		start, err := parseTime(req.StartAt, h.opts.Location)
		if err != nil {
			http.Error(w, "invalid start_at", http.StatusBadRequest)
			return
		}
		end, err := parseTime(req.EndAt, h.opts.Location)
		if err != nil {
			http.Error(w, "invalid end_at", http.StatusBadRequest)
			return
		}
		if !start.Before(end) {
			http.Error(w, "start_at must be before end_at", http.StatusBadRequest)
			return
		}
		block, err := h.store.CreateBlock(ctx, businessID, start, end)
		if err != nil {
			h.writeError(w, r, err, "failed to create slot")
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, h.storedItem(block))

	case http.MethodDelete:
		id := strings.TrimSpace(r.URL.Query().Get("id"))
		if id == "" {
			http.Error(w, "id is required", http.StatusBadRequest)
			return
		}
		if !isUUID(id) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := h.store.DeleteBlock(ctx, businessID, id); err != nil {
			h.writeError(w, r, err, "failed to delete slot")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type cancelRequest struct {
	ID string `json:"id"`
}

// CancelSlot releases a booking back to a free block.
func (h *Handler) CancelSlot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	businessID, ok := requireBusiness(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || strings.TrimSpace(req.ID) == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	id := strings.TrimSpace(req.ID)
	if !isUUID(id) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	block, err := h.booker.Cancel(r.Context(), businessID, id)
	if err != nil {
		h.writeError(w, r, err, "failed to cancel booking")
		return
	}
	h.logger.Info("booking cancelled", "business_id", businessID, "slot_id", block.ID)
	httpx.WriteJSON(w, http.StatusOK, h.storedItem(block))
}
