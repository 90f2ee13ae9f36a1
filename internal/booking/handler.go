package booking

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/studio-booking/internal/observability/metrics"
	"github.com/wolfman30/studio-booking/internal/reservations"
	"github.com/wolfman30/studio-booking/internal/scheduling"
	"github.com/wolfman30/studio-booking/pkg/logging"
)

// Handler exposes the booking service over HTTP.
type Handler struct {
	service  *Service
	gatherer prometheus.Gatherer
	logger   *logging.Logger
}

// NewHandler builds the HTTP handler. gatherer feeds the admin stats
// endpoint; nil means the default Prometheus registry.
func NewHandler(service *Service, gatherer prometheus.Gatherer, logger *logging.Logger) *Handler {
	if service == nil {
		panic("booking: service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, gatherer: gatherer, logger: logger}
}

// PublicRoutes mounts the client-facing endpoints.
func (h *Handler) PublicRoutes(r chi.Router) {
	r.Get("/availability", h.GetAvailability)
	r.Post("/bookings", h.CreateBooking)
}

// AdminRoutes mounts the studio admin endpoints.
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Get("/reservations", h.ListReservations)
	r.Post("/reservations/export", h.ExportReservations)
	r.Get("/reservations/{id}", h.GetReservation)
	r.Patch("/reservations/{id}", h.UpdateReservation)
	r.Get("/stats", h.GetStats)
}

type slotResponse struct {
	Start string `json:"start"`
	Time  string `json:"time"`
}

type availabilityResponse struct {
	Date     string         `json:"date"`
	Timezone string         `json:"timezone"`
	Slots    []slotResponse `json:"slots"`
}

// GetAvailability handles GET /api/availability?date=YYYY-MM-DD.
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	date, err := h.parseDate(r.URL.Query().Get("date"))
	if err != nil {
		h.writeError(w, scheduling.Invalid("date", "expected YYYY-MM-DD"))
		return
	}
	avail, err := h.service.Availability(r.Context(), date)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.availabilityResponse(avail))
}

func (h *Handler) availabilityResponse(avail *Availability) availabilityResponse {
	resp := availabilityResponse{
		Date:     avail.Date.Format(time.DateOnly),
		Timezone: h.service.settings.Location.String(),
		Slots:    make([]slotResponse, 0, len(avail.Slots)),
	}
	for _, slot := range avail.Slots {
		resp.Slots = append(resp.Slots, slotResponse{Start: slot.Start.Format(time.RFC3339), Time: slot.Label()})
	}
	return resp
}

// CreateBookingRequest is the booking form submission. The slot is given
// either as SlotStart (RFC 3339) or as SelectedDate plus SelectedTime in the
// studio timezone.
type CreateBookingRequest struct {
	ClientInfo
	ServiceName  string `json:"serviceName"`
	SlotStart    string `json:"slotStart,omitempty"`
	SelectedDate string `json:"selectedDate,omitempty"`
	SelectedTime string `json:"selectedTime,omitempty"`
}

func (req CreateBookingRequest) slot(loc *time.Location) (time.Time, error) {
	if s := strings.TrimSpace(req.SlotStart); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, scheduling.Invalid("slotStart", "expected RFC 3339 timestamp")
		}
		return t, nil
	}
	date, clock := strings.TrimSpace(req.SelectedDate), strings.TrimSpace(req.SelectedTime)
	if date == "" || clock == "" {
		return time.Time{}, scheduling.Invalid("slot", "is required")
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", date+" "+clock, loc)
	if err != nil {
		return time.Time{}, scheduling.Invalid("slot", "expected selectedDate YYYY-MM-DD and selectedTime HH:MM")
	}
	return t, nil
}

// CreateBooking handles POST /api/bookings.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, scheduling.Invalid("body", "invalid JSON"))
		return
	}
	slot, err := req.slot(h.service.settings.Location)
	if err != nil {
		h.writeError(w, err)
		return
	}
	res, err := h.service.CreateBooking(r.Context(), req.ClientInfo, req.ServiceName, slot)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.reservationResponse(res))
}

// ReservationResponse is the JSON shape of a reservation.
type ReservationResponse struct {
	ID                   string `json:"id"`
	ClientName           string `json:"clientName"`
	ClientPhone          string `json:"clientPhone"`
	ClientEmail          string `json:"clientEmail"`
	ServiceName          string `json:"serviceName"`
	ServiceStartDateTime string `json:"serviceStartDateTime"`
	ServiceEndDateTime   string `json:"serviceEndDateTime"`
	SelectedDate         string `json:"selectedDate"`
	SelectedTime         string `json:"selectedTime"`
	Status               string `json:"status"`
	AdminService         string `json:"adminService,omitempty"`
	AdminNotes           string `json:"adminNotes,omitempty"`
	CalendarEventID      string `json:"calendarEventId,omitempty"`
	CreatedAt            string `json:"createdAt"`
}

func (h *Handler) reservationResponse(r *reservations.Reservation) ReservationResponse {
	return toReservationResponse(r, h.service.settings.Location)
}

func toReservationResponse(r *reservations.Reservation, loc *time.Location) ReservationResponse {
	return ReservationResponse{
		ID:                   r.ID,
		ClientName:           r.ClientName,
		ClientPhone:          r.ClientPhone,
		ClientEmail:          r.ClientEmail,
		ServiceName:          r.ServiceName,
		ServiceStartDateTime: r.ServiceStart.In(loc).Format(time.RFC3339),
		ServiceEndDateTime:   r.ServiceEnd.In(loc).Format(time.RFC3339),
		SelectedDate:         r.SelectedDate(loc),
		SelectedTime:         r.SelectedTime(loc),
		Status:               string(r.Status),
		AdminService:         r.AdminService,
		AdminNotes:           r.AdminNotes,
		CalendarEventID:      r.CalendarEventID,
		CreatedAt:            r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// ListReservations handles GET /admin/reservations?from=&to=&status=.
func (h *Handler) ListReservations(w http.ResponseWriter, r *http.Request) {
	filter, err := h.parseFilter(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	list, err := h.service.ListReservations(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]ReservationResponse, 0, len(list))
	for _, res := range list {
		out = append(out, h.reservationResponse(res))
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservations": out})
}

func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.GetReservation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.reservationResponse(res))
}

// UpdateReservationRequest carries the fields an admin may edit. Date and
// time move the reservation together.
type UpdateReservationRequest struct {
	ClientPhone  *string `json:"clientPhone"`
	SelectedDate *string `json:"selectedDate"`
	SelectedTime *string `json:"selectedTime"`
	AdminService *string `json:"adminService"`
	AdminNotes   *string `json:"adminNotes"`
	Status       *string `json:"status"`
}

func (req UpdateReservationRequest) patch(current *reservations.Reservation, loc *time.Location) (reservations.Patch, error) {
	p := reservations.Patch{
		ClientPhone:  req.ClientPhone,
		AdminService: req.AdminService,
		AdminNotes:   req.AdminNotes,
	}
	if req.Status != nil {
		st := reservations.Status(strings.TrimSpace(*req.Status))
		p.Status = &st
	}
	if req.SelectedDate != nil || req.SelectedTime != nil {
		date, clock := current.SelectedDate(loc), current.SelectedTime(loc)
		if req.SelectedDate != nil {
			date = strings.TrimSpace(*req.SelectedDate)
		}
		if req.SelectedTime != nil {
			clock = strings.TrimSpace(*req.SelectedTime)
		}
		start, err := time.ParseInLocation("2006-01-02 15:04", date+" "+clock, loc)
		if err != nil {
			return p, scheduling.Invalid("selectedDate", "expected YYYY-MM-DD and HH:MM")
		}
		start = start.UTC()
		p.ServiceStart = &start
	}
	return p, nil
}

// UpdateReservation handles PATCH /admin/reservations/{id}.
func (h *Handler) UpdateReservation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req UpdateReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, scheduling.Invalid("body", "invalid JSON"))
		return
	}
	current, err := h.service.GetReservation(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	patch, err := req.patch(current, h.service.settings.Location)
	if err != nil {
		h.writeError(w, err)
		return
	}
	updated, err := h.service.UpdateReservation(r.Context(), id, patch)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.reservationResponse(updated))
}

// ExportReservations handles POST /admin/reservations/export.
func (h *Handler) ExportReservations(w http.ResponseWriter, r *http.Request) {
	filter, err := h.parseFilter(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	key, count, err := h.service.ExportReservations(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "count": count})
}

// GetStats handles GET /admin/stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	snap, err := metrics.TakeSnapshot(h.gatherer)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) parseDate(raw string) (time.Time, error) {
	return time.ParseInLocation(time.DateOnly, strings.TrimSpace(raw), h.service.settings.Location)
}

func (h *Handler) parseFilter(r *http.Request) (reservations.ListFilter, error) {
	var filter reservations.ListFilter
	q := r.URL.Query()
	if raw := q.Get("from"); raw != "" {
		from, err := h.parseDate(raw)
		if err != nil {
			return filter, scheduling.Invalid("from", "expected YYYY-MM-DD")
		}
		filter.From = from
	}
	if raw := q.Get("to"); raw != "" {
		to, err := h.parseDate(raw)
		if err != nil {
			return filter, scheduling.Invalid("to", "expected YYYY-MM-DD")
		}
		// inclusive end date
		filter.To = to.AddDate(0, 0, 1)
	}
	if raw := q.Get("status"); raw != "" {
		st := reservations.Status(raw)
		if !st.Valid() {
			return filter, scheduling.Invalid("status", "unknown status "+raw)
		}
		filter.Status = st
	}
	return filter, nil
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("booking request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) (int, string) {
	var (
		ve *scheduling.ValidationError
		ue *scheduling.UpstreamError
	)
	switch {
	case errors.Is(err, ErrSlotTaken), errors.Is(err, reservations.ErrConflict):
		return http.StatusConflict, "slot no longer available"
	case errors.Is(err, ErrTooManyBookings):
		return http.StatusTooManyRequests, err.Error()
	case errors.Is(err, reservations.ErrNotFound):
		return http.StatusNotFound, "reservation not found"
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Error()
	case scheduling.IsConfiguration(err):
		return http.StatusInternalServerError, "booking is misconfigured"
	case errors.As(err, &ue):
		return http.StatusBadGateway, "calendar temporarily unavailable"
	}
	return http.StatusInternalServerError, "internal error"
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
