package appointment

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "Pending"
	StatusAccepted  AppointmentStatus = "Accepted"
	StatusRejected  AppointmentStatus = "Rejected"
	StatusConfirmed AppointmentStatus = "Confirmed"
	StatusCancelled AppointmentStatus = "Cancelled"
)

// ActiveStatuses occupy a slot and count toward the hourly cap.
var ActiveStatuses = []AppointmentStatus{StatusPending, StatusAccepted, StatusConfirmed}

// IsActive reports whether s is in the active set.
func (s AppointmentStatus) IsActive() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusConfirmed:
		return true
	}
	return false
}

// Valid reports whether s is one of the five known statuses.
func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected, StatusConfirmed, StatusCancelled:
		return true
	}
	return false
}

type DoctorStatus string

const (
	DoctorActive   DoctorStatus = "Active"
	DoctorInactive DoctorStatus = "Inactive"
)

type Doctor struct {
	ID             uuid.UUID
	FullName       string
	Email          *string
	Specialization *string
	Status         DoctorStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Window is one doctor's availability on one calendar date.
type Window struct {
	ID         uuid.UUID
	DoctorID   uuid.UUID
	Date       time.Time
	StartTime  ClockTime
	EndTime    ClockTime
	BreakStart *ClockTime
	BreakEnd   *ClockTime
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// HasBreak reports whether both ends of the break are set.
func (w Window) HasBreak() bool {
	return w.BreakStart != nil && w.BreakEnd != nil
}

type Appointment struct {
	ID           uuid.UUID
	DoctorID     uuid.UUID
	Date         time.Time
	Time         ClockTime
	PatientName  string
	PatientEmail *string
	PatientPhone *string
	PatientAge   *int
	Reason       *string
	Status       AppointmentStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// AppointmentDetail is an appointment joined with the doctor it belongs to.
type AppointmentDetail struct {
	Appointment
	DoctorName           string
	DoctorSpecialization *string
}

// BookingRequest carries the raw booking fields as submitted by a patient.
type BookingRequest struct {
	DoctorID        string
	AppointmentDate string
	AppointmentTime string
	PatientName     string
	PatientEmail    *string
	PatientPhone    *string
	PatientAge      *int
	Reason          *string
}

// AppointmentPatch lists the appointment fields that may change after booking.
// Nil fields are left untouched.
type AppointmentPatch struct {
	PatientName  *string
	PatientEmail *string
	PatientPhone *string
	PatientAge   *int
	Reason       *string
}

func (p AppointmentPatch) empty() bool {
	return p.PatientName == nil && p.PatientEmail == nil && p.PatientPhone == nil &&
		p.PatientAge == nil && p.Reason == nil
}

// WindowInput creates an availability window.
type WindowInput struct {
	DoctorID   string
	Date       string
	StartTime  string
	EndTime    string
	BreakStart *string
	BreakEnd   *string
}

// WindowPatch changes the times of an existing window. ClearBreak removes
// the break entirely and wins over BreakStart/BreakEnd.
type WindowPatch struct {
	StartTime  *string
	EndTime    *string
	BreakStart *string
	BreakEnd   *string
	ClearBreak bool
}

// ListFilter narrows administrative appointment listings.
type ListFilter struct {
	DoctorID *uuid.UUID
	Date     *time.Time
	Status   *AppointmentStatus
	Limit    int
	Offset   int
}
