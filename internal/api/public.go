package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"studiobook/internal/availability"
	"studiobook/internal/coordinator"
	"studiobook/internal/domain"
	"studiobook/internal/slots"
)

type availabilityResponse struct {
	Date  domain.Date                  `json:"date"`
	Mode  domain.DisplayMode           `json:"mode"`
	Slots []availability.AvailableSlot `json:"slots"`
}

type verifyRequest struct {
	Slots []slots.Slot `json:"slots"`
}

type bookingRequest struct {
	Date        domain.Date  `json:"date"`
	Slots       []slots.Slot `json:"slots"`
	CustomerRef string       `json:"customer_ref"`
	SessionType string       `json:"session_type,omitempty"`
	Details     string       `json:"details,omitempty"`
}

type calendarResponse struct {
	Year  int           `json:"year"`
	Month time.Month    `json:"month"`
	Dates []domain.Date `json:"available_dates"`
}

func pathDate(r *http.Request) (domain.Date, error) {
	return domain.ParseDate(mux.Vars(r)["date"])
}

func pathSlot(r *http.Request) (slots.Slot, error) {
	s, err := slots.Parse(mux.Vars(r)["slot"])
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return s, nil
}

func pathYearMonth(r *http.Request) (int, time.Month, error) {
	vars := mux.Vars(r)
	year, err := strconv.Atoi(vars["year"])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: invalid year", domain.ErrValidation)
	}
	month, err := strconv.Atoi(vars["month"])
	if err != nil || month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("%w: invalid month", domain.ErrValidation)
	}
	return year, time.Month(month), nil
}

// handleAvailability returns the bookable slots of a date.
// GET /api/v1/availability/{date}?mode=30min|1hour
func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	date, err := pathDate(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	var mode domain.DisplayMode
	if q := r.URL.Query().Get("mode"); q != "" {
		mode, err = domain.ParseDisplayMode(q)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
	} else {
		cfg, err := s.deps.Settings.DisplayConfig(r.Context())
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		mode = cfg.UserDisplayMode
	}

	items, err := s.deps.Resolver.AvailableSlots(r.Context(), date, mode)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, availabilityResponse{Date: date, Mode: mode, Slots: items})
}

// handleVerify re-checks a selection at 30-minute granularity.
// POST /api/v1/availability/{date}/verify
func (s *HTTPServer) handleVerify(w http.ResponseWriter, r *http.Request) {
	date, err := pathDate(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	var req verifyRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	v, err := s.deps.Resolver.VerifyRequestedSlotsAvailable(r.Context(), date, req.Slots)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// GET /api/v1/calendar/{year}/{month}
func (s *HTTPServer) handleCalendar(w http.ResponseWriter, r *http.Request) {
	year, month, err := pathYearMonth(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	dates, err := s.deps.Resolver.AvailableDatesInMonth(r.Context(), year, month)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if dates == nil {
		dates = []domain.Date{}
	}
	writeJSON(w, http.StatusOK, calendarResponse{Year: year, Month: month, Dates: dates})
}

// handleCreateBooking submits a selection made in the customer form.
// POST /api/v1/bookings
func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req bookingRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	cfg, err := s.deps.Settings.DisplayConfig(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	rec, err := s.deps.Coordinator.SubmitBooking(r.Context(), coordinator.Submission{
		Date:        req.Date,
		Slots:       req.Slots,
		CustomerRef: req.CustomerRef,
		SessionType: req.SessionType,
		Details:     req.Details,
	}, cfg)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// handleGetBooking returns a customer booking. Admin blocks are not visible here.
// GET /api/v1/bookings/{id}
func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := s.deps.Exceptions.Get(r.Context(), id)
	if err == nil && rec.Kind != domain.KindBooking {
		err = fmt.Errorf("api: booking %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// POST /api/v1/bookings/{id}/cancel
func (s *HTTPServer) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Coordinator.CancelBooking(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
