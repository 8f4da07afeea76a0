package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"studiobook/internal/availability"
	"studiobook/internal/coordinator"
	"studiobook/internal/domain"
)

const msgSlotGone = "slot no longer available, please re-select"

type errorResponse struct {
	Error       string                     `json:"error"`
	Detail      string                     `json:"detail,omitempty"`
	Unavailable []availability.Unavailable `json:"unavailable,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusOf maps the error taxonomy onto HTTP codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSlotConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *HTTPServer) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	resp := errorResponse{Error: http.StatusText(status), Detail: err.Error()}

	switch status {
	case http.StatusConflict:
		resp.Error = msgSlotGone
		var unavailable *coordinator.UnavailableError
		if errors.As(err, &unavailable) {
			resp.Unavailable = unavailable.Unavailable
		}
	case http.StatusServiceUnavailable:
		resp.Error = "storage temporarily unavailable, please retry"
		w.Header().Set("Retry-After", "1")
	case http.StatusInternalServerError:
		resp.Detail = ""
	}

	event := s.logger.Warn()
	if status >= http.StatusInternalServerError {
		event = s.logger.Error()
	}
	event.Err(err).Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	writeJSON(w, status, resp)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Join(domain.ErrValidation, errors.New("invalid JSON body: "+err.Error()))
	}
	return nil
}
