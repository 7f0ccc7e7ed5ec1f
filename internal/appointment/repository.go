package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDoctorNotFound      = errors.New("doctor not found or inactive")
	ErrWindowNotFound      = errors.New("availability window not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrWindowExists        = errors.New("availability already exists for this doctor on this date")
)

// BookingKey scopes the serialized section of a booking: one doctor, one
// date, one clock hour.
type BookingKey struct {
	DoctorID uuid.UUID
	Date     time.Time
	Hour     int
}

// BookingTx is the view of the store inside a booking transaction. Guard
// reads through it observe every write committed before the transaction
// acquired its key.
type BookingTx interface {
	SlotLedger
	InsertAppointment(ctx context.Context, a *Appointment) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)
}

// Repository contains all DB interactions needed by the service.
type Repository interface {
	SlotLedger

	// Doctor lookup
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)

	// Availability windows
	CreateWindow(ctx context.Context, w *Window) (*Window, error)
	GetWindowByID(ctx context.Context, id uuid.UUID) (*Window, error)
	GetWindow(ctx context.Context, doctorID uuid.UUID, date time.Time) (*Window, error)
	ListWindowsByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Window, error)
	UpdateWindow(ctx context.Context, w *Window) (*Window, error)
	DeleteWindow(ctx context.Context, id uuid.UUID) error

	// Slot queries
	ListActiveTimes(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]ClockTime, error)

	// Booking runs fn atomically with respect to every other booking on key.
	// If fn returns an error nothing it wrote is kept.
	InBookingTx(ctx context.Context, key BookingKey, fn func(tx BookingTx) error) error

	// Appointments
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)
	UpdateAppointmentDetails(ctx context.Context, id uuid.UUID, patch AppointmentPatch) (*Appointment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID) error
	ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, date *time.Time, status *AppointmentStatus) ([]Appointment, error)
	ListAppointments(ctx context.Context, filter ListFilter) ([]AppointmentDetail, int, error)

	// Housekeeping
	FindPendingBefore(ctx context.Context, date time.Time, at ClockTime) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
