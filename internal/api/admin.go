package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"studiobook/internal/coordinator"
	"studiobook/internal/domain"
	"studiobook/internal/exceptions"
	"studiobook/internal/schedule"
	"studiobook/internal/slots"
)

type blockRequest struct {
	Reason string `json:"reason"`
}

type periodRequest struct {
	Start  domain.Date             `json:"start"`
	End    domain.Date             `json:"end"`
	Action coordinator.BatchAction `json:"action"`
}

type weeklyRequest struct {
	IsActive *bool        `json:"is_active"`
	Flags    *slots.Flags `json:"time_slots"`
}

// GET /api/v1/admin/days/{date}
func (s *HTTPServer) handleDayView(w http.ResponseWriter, r *http.Request) {
	date, err := pathDate(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	view, err := s.deps.Resolver.ClassifyDay(r.Context(), date)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// POST /api/v1/admin/days/{date}/slots/{slot}/toggle
func (s *HTTPServer) handleToggleSlot(w http.ResponseWriter, r *http.Request) {
	date, err := pathDate(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	slot, err := pathSlot(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	tr, err := s.deps.Coordinator.ToggleSlot(r.Context(), date, slot)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

// POST /api/v1/admin/days/{date}/slots/{slot}/deactivate
func (s *HTTPServer) handleDeactivateSlot(w http.ResponseWriter, r *http.Request) {
	date, err := pathDate(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	slot, err := pathSlot(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	tr, err := s.deps.Coordinator.DeactivateSlotPermanently(r.Context(), date, slot)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

// POST /api/v1/admin/days/{date}/block
func (s *HTTPServer) handleBlockDay(w http.ResponseWriter, r *http.Request) {
	date, err := pathDate(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	var req blockRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
	}
	rec, err := s.deps.Coordinator.BlockEntireDay(r.Context(), date, req.Reason)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DELETE /api/v1/admin/days/{date}/block
func (s *HTTPServer) handleUnblockDay(w http.ResponseWriter, r *http.Request) {
	date, err := pathDate(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	n, err := s.deps.Coordinator.UnblockEntireDay(r.Context(), date)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"cancelled": n})
}

// handlePeriod blocks or reopens a range of dates. A partial failure still answers 200;
// the body lists the failed dates.
// POST /api/v1/admin/periods
func (s *HTTPServer) handlePeriod(w http.ResponseWriter, r *http.Request) {
	var req periodRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	res, err := s.deps.Coordinator.TogglePeriodBatch(r.Context(), req.Start, req.End, req.Action)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /api/v1/admin/presets
func (s *HTTPServer) handlePreset(w http.ResponseWriter, r *http.Request) {
	var p schedule.Preset
	if err := decodeBody(r, &p); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	res, err := s.deps.Coordinator.ApplyWeeklyPreset(r.Context(), p)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /api/v1/admin/emergency-close
func (s *HTTPServer) handleEmergencyClose(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Coordinator.EmergencyCloseAll(r.Context()))
}

// GET /api/v1/admin/weekly
func (s *HTTPServer) handleListWeekly(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Schedule.List(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handlePutWeekly switches a weekday and, when time_slots is present, replaces its flags.
// PUT /api/v1/admin/weekly/{day}
func (s *HTTPServer) handlePutWeekly(w http.ResponseWriter, r *http.Request) {
	n, _ := strconv.Atoi(mux.Vars(r)["day"])
	day := time.Weekday(n)

	var req weeklyRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if req.IsActive == nil {
		s.writeDomainError(w, r, fmt.Errorf("%w: is_active is required", domain.ErrValidation))
		return
	}

	var err error
	if req.Flags != nil {
		err = s.deps.Coordinator.SetWeeklyEntry(r.Context(), day, *req.IsActive, *req.Flags)
	} else {
		err = s.deps.Coordinator.SetDayActive(r.Context(), day, *req.IsActive)
	}
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	entry, err := s.deps.Schedule.Get(r.Context(), day)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// GET /api/v1/admin/display-config
func (s *HTTPServer) handleGetDisplayConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.deps.Settings.DisplayConfig(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// PUT /api/v1/admin/display-config
func (s *HTTPServer) handlePutDisplayConfig(w http.ResponseWriter, r *http.Request) {
	var cfg domain.DisplayConfig
	if err := decodeBody(r, &cfg); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if err := s.deps.Settings.SetDisplayConfig(r.Context(), cfg); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// GET /api/v1/admin/stats/{year}/{month}
func (s *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	year, month, err := pathYearMonth(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	stats, err := s.deps.Resolver.MonthStats(r.Context(), year, month)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleReport streams the monthly spreadsheet.
// GET /api/v1/admin/reports/{year}/{month}
func (s *HTTPServer) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reports == nil {
		writeError(w, http.StatusNotFound, "reports are disabled")
		return
	}
	year, month, err := pathYearMonth(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := s.deps.Reports.Export(r.Context(), year, month, &buf); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="studio_%d_%02d.xlsx"`, year, int(month)))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// POST /api/v1/admin/bookings/{id}/confirm
func (s *HTTPServer) handleConfirmBooking(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Coordinator.ConfirmBooking(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleCancelException cancels a booking or a block.
// POST /api/v1/admin/exceptions/{id}/cancel
func (s *HTTPServer) handleCancelException(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Coordinator.CancelException(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DELETE /api/v1/admin/bookings/{id}
func (s *HTTPServer) handleDeleteBooking(w http.ResponseWriter, r *http.Request) {
	if _, err := s.deps.Coordinator.DeleteBooking(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListExceptions lists bookings and blocks in a date range.
// GET /api/v1/admin/exceptions?start=&end=&kind=&include_cancelled=
func (s *HTTPServer) handleListExceptions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := domain.ParseDate(q.Get("start"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	end := start
	if v := q.Get("end"); v != "" {
		if end, err = domain.ParseDate(v); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
	}
	f := exceptions.RangeFilter{Kind: domain.ExceptionKind(q.Get("kind"))}
	if v := q.Get("include_cancelled"); v != "" {
		if f.IncludeCancelled, err = strconv.ParseBool(v); err != nil {
			writeError(w, http.StatusBadRequest, "include_cancelled must be a boolean")
			return
		}
	}

	recs, err := s.deps.Exceptions.ListForRange(r.Context(), start, end, f)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}
