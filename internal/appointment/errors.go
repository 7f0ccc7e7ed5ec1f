package appointment

import "errors"

var (
	ErrValidation        = errors.New("validation failed")
	ErrDoctorUnavailable = errors.New("doctor is not available on this date")
	ErrOutOfHours        = errors.New("requested time is outside the doctor's working hours")
	ErrCapacityExceeded  = errors.New("hourly appointment limit reached for this doctor")
	ErrSlotTaken         = errors.New("time slot is already booked")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrBookingBusy       = errors.New("slot is currently being booked, please retry")
)

// Code returns the machine-readable code for err. Errors outside the domain
// taxonomy report internal_error; a nil error reports ok.
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrDoctorNotFound):
		return "doctor_not_found"
	case errors.Is(err, ErrAppointmentNotFound):
		return "appointment_not_found"
	case errors.Is(err, ErrWindowNotFound):
		return "availability_not_found"
	case errors.Is(err, ErrDoctorUnavailable):
		return "doctor_unavailable"
	case errors.Is(err, ErrOutOfHours):
		return "outside_hours"
	case errors.Is(err, ErrCapacityExceeded):
		return "hourly_capacity_reached"
	case errors.Is(err, ErrSlotTaken):
		return "slot_taken"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_status_transition"
	case errors.Is(err, ErrWindowExists):
		return "availability_exists"
	case errors.Is(err, ErrBookingBusy):
		return "booking_in_progress"
	}
	return "internal_error"
}
