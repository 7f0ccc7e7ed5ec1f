package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-booking/internal/appointment"
)

var errorStatus = map[string]int{
	"validation_error":          http.StatusBadRequest,
	"doctor_not_found":          http.StatusNotFound,
	"appointment_not_found":     http.StatusNotFound,
	"availability_not_found":    http.StatusNotFound,
	"doctor_unavailable":        http.StatusUnprocessableEntity,
	"outside_hours":             http.StatusUnprocessableEntity,
	"hourly_capacity_reached":   http.StatusConflict,
	"slot_taken":                http.StatusConflict,
	"invalid_status_transition": http.StatusConflict,
	"availability_exists":       http.StatusConflict,
	"booking_in_progress":       http.StatusConflict,
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Success: false, Error: code, Message: message})
}

// writeServiceError reports domain errors with their own message. Anything
// else is logged and answered with a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, err error) {
	code := appointment.Code(err)
	if status, ok := errorStatus[code]; ok {
		writeError(w, status, code, err.Error())
		return
	}

	logger.Error().
		Err(err).
		Str("request_id", GetRequestID(r.Context())).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg("request failed")

	writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}
