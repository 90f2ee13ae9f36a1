package booking

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/wolfman30/studio-booking/internal/scheduling"
	"github.com/wolfman30/studio-booking/pkg/logging"
)

// Callable serves the booking operations as named functions speaking the
// callable-function wire format: requests wrap their payload in {"data": ...}
// and responses carry either {"result": ...} or {"error": {...}}.
type Callable struct {
	service *Service
	logger  *logging.Logger
}

func NewCallable(service *Service, logger *logging.Logger) *Callable {
	if service == nil {
		panic("booking: service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Callable{service: service, logger: logger}
}

type callableRequest struct {
	Data json.RawMessage `json:"data"`
}

type callableError struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type checkAvailabilityData struct {
	Date string `json:"date"`
}

type createBookingResult struct {
	Success     bool                `json:"success"`
	Reservation ReservationResponse `json:"reservation"`
	EventID     string              `json:"eventId,omitempty"`
}

// Invoke runs the function called name with the raw request body and returns
// the HTTP status and JSON response body.
func (c *Callable) Invoke(ctx context.Context, name string, body []byte) (int, []byte) {
	var req callableRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return c.fail(scheduling.Invalid("body", "invalid JSON"))
		}
	}

	switch name {
	case "checkAvailability":
		var data checkAvailabilityData
		if err := decodeData(req.Data, &data); err != nil {
			return c.fail(err)
		}
		date, err := time.ParseInLocation(time.DateOnly, data.Date, c.service.settings.Location)
		if err != nil {
			return c.fail(scheduling.Invalid("date", "expected YYYY-MM-DD"))
		}
		avail, err := c.service.Availability(ctx, date)
		if err != nil {
			return c.fail(err)
		}
		h := Handler{service: c.service}
		return c.ok(h.availabilityResponse(avail))

	case "createBooking":
		var data CreateBookingRequest
		if err := decodeData(req.Data, &data); err != nil {
			return c.fail(err)
		}
		slot, err := data.slot(c.service.settings.Location)
		if err != nil {
			return c.fail(err)
		}
		res, err := c.service.CreateBooking(ctx, data.ClientInfo, data.ServiceName, slot)
		if err != nil {
			return c.fail(err)
		}
		return c.ok(createBookingResult{
			Success:     true,
			Reservation: toReservationResponse(res, c.service.settings.Location),
			EventID:     res.CalendarEventID,
		})
	}
	return c.encode(http.StatusNotFound, map[string]callableError{"error": {Status: "NOT_FOUND", Message: "unknown function " + name}})
}

func decodeData(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return scheduling.Invalid("data", "is required")
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return scheduling.Invalid("data", "invalid payload")
	}
	return nil
}

func (c *Callable) ok(result any) (int, []byte) {
	return c.encode(http.StatusOK, map[string]any{"result": result})
}

func (c *Callable) fail(err error) (int, []byte) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		c.logger.Error("callable failed", "status", status, "error", err)
	}
	return c.encode(status, map[string]callableError{"error": {Status: callableStatus(status), Message: msg}})
}

func (c *Callable) encode(status int, payload any) (int, []byte) {
	out, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("failed to encode callable response", "error", err)
		return http.StatusInternalServerError, []byte(`{"error":{"status":"INTERNAL","message":"internal error"}}`)
	}
	return status, out
}

func callableStatus(httpStatus int) string {
	switch httpStatus {
	case http.StatusBadRequest:
		return "INVALID_ARGUMENT"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "ALREADY_EXISTS"
	case http.StatusTooManyRequests:
		return "RESOURCE_EXHAUSTED"
	case http.StatusBadGateway:
		return "UNAVAILABLE"
	}
	return "INTERNAL"
}
