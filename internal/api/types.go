package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-booking/internal/appointment"
)

type CreateAppointmentRequest struct {
	DoctorID        string  `json:"doctor_id"`
	AppointmentDate string  `json:"appointment_date"`
	AppointmentTime string  `json:"appointment_time"`
	PatientName     string  `json:"patient_name"`
	PatientEmail    *string `json:"patient_email"`
	PatientPhone    *string `json:"patient_phone"`
	PatientAge      *int    `json:"patient_age"`
	Reason          *string `json:"reason"`
}

// UpdateAppointmentRequest carries the patchable appointment fields only.
type UpdateAppointmentRequest struct {
	PatientName  *string `json:"patient_name"`
	PatientEmail *string `json:"patient_email"`
	PatientPhone *string `json:"patient_phone"`
	PatientAge   *int    `json:"patient_age"`
	Reason       *string `json:"reason"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type CreateWindowRequest struct {
	DoctorID      string  `json:"doctor_id"`
	AvailableDate string  `json:"available_date"`
	StartTime     string  `json:"start_time"`
	EndTime       string  `json:"end_time"`
	BreakStart    *string `json:"break_start"`
	BreakEnd      *string `json:"break_end"`
}

type UpdateWindowRequest struct {
	StartTime  *string `json:"start_time"`
	EndTime    *string `json:"end_time"`
	BreakStart *string `json:"break_start"`
	BreakEnd   *string `json:"break_end"`
	ClearBreak bool    `json:"clear_break"`
}

type AppointmentResponse struct {
	ID                   uuid.UUID             `json:"id"`
	DoctorID             uuid.UUID             `json:"doctor_id"`
	DoctorName           string                `json:"doctor_name,omitempty"`
	DoctorSpecialization *string               `json:"doctor_specialization,omitempty"`
	AppointmentDate      string                `json:"appointment_date"`
	AppointmentTime      appointment.ClockTime `json:"appointment_time"`
	PatientName          string                `json:"patient_name"`
	PatientEmail         *string               `json:"patient_email,omitempty"`
	PatientPhone         *string               `json:"patient_phone,omitempty"`
	PatientAge           *int                  `json:"patient_age,omitempty"`
	Reason               *string               `json:"reason,omitempty"`
	Status               string                `json:"status"`
	CreatedAt            time.Time             `json:"created_at"`
	UpdatedAt            time.Time             `json:"updated_at"`
}

type WindowResponse struct {
	ID            uuid.UUID              `json:"id"`
	DoctorID      uuid.UUID              `json:"doctor_id"`
	AvailableDate string                 `json:"available_date"`
	StartTime     appointment.ClockTime  `json:"start_time"`
	EndTime       appointment.ClockTime  `json:"end_time"`
	BreakStart    *appointment.ClockTime `json:"break_start,omitempty"`
	BreakEnd      *appointment.ClockTime `json:"break_end,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

type SlotResponse struct {
	Time   string `json:"time"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type SlotCounts struct {
	Total       int `json:"total"`
	Available   int `json:"available"`
	Booked      int `json:"booked"`
	Break       int `json:"break"`
	Unavailable int `json:"unavailable"`
}

type HourSlotsResponse struct {
	Hour string `json:"hour"`
	SlotCounts
	Slots []SlotResponse `json:"slots"`
}

type SlotsResponse struct {
	DoctorID    uuid.UUID           `json:"doctor_id"`
	Date        string              `json:"date"`
	Window      WindowResponse      `json:"availability"`
	Summary     SlotCounts          `json:"summary"`
	Slots       []SlotResponse      `json:"slots"`
	SlotsByHour []HourSlotsResponse `json:"slots_by_hour"`
}

type SuccessResponse struct {
	Success    bool                    `json:"success"`
	Message    string                  `json:"message,omitempty"`
	Data       any                     `json:"data,omitempty"`
	Pagination *appointment.Pagination `json:"pagination,omitempty"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func toAppointmentResponse(a appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		DoctorID:        a.DoctorID,
		AppointmentDate: a.Date.Format(appointment.DateLayout),
		AppointmentTime: a.Time,
		PatientName:     a.PatientName,
		PatientEmail:    a.PatientEmail,
		PatientPhone:    a.PatientPhone,
		PatientAge:      a.PatientAge,
		Reason:          a.Reason,
		Status:          string(a.Status),
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

func toDetailResponse(d appointment.AppointmentDetail) AppointmentResponse {
	resp := toAppointmentResponse(d.Appointment)
	resp.DoctorName = d.DoctorName
	resp.DoctorSpecialization = d.DoctorSpecialization
	return resp
}

func toAppointmentResponses(items []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(items))
	for _, a := range items {
		out = append(out, toAppointmentResponse(a))
	}
	return out
}

func toWindowResponse(w appointment.Window) WindowResponse {
	return WindowResponse{
		ID:            w.ID,
		DoctorID:      w.DoctorID,
		AvailableDate: w.Date.Format(appointment.DateLayout),
		StartTime:     w.StartTime,
		EndTime:       w.EndTime,
		BreakStart:    w.BreakStart,
		BreakEnd:      w.BreakEnd,
		CreatedAt:     w.CreatedAt,
		UpdatedAt:     w.UpdatedAt,
	}
}

func toSlotResponses(slots []appointment.Slot) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, SlotResponse{Time: s.Time.Short(), Status: string(s.Status), Reason: s.Reason})
	}
	return out
}

func toSlotsResponse(day *appointment.DaySlots) SlotsResponse {
	resp := SlotsResponse{
		DoctorID: day.Window.DoctorID,
		Date:     day.Window.Date.Format(appointment.DateLayout),
		Window:   toWindowResponse(day.Window),
		Summary: SlotCounts{
			Total:       day.Summary.Total,
			Available:   day.Summary.Available,
			Booked:      day.Summary.Booked,
			Break:       day.Summary.Break,
			Unavailable: day.Summary.Unavailable,
		},
		Slots:       toSlotResponses(day.Slots),
		SlotsByHour: make([]HourSlotsResponse, 0, len(day.ByHour)),
	}

	for _, h := range day.ByHour {
		resp.SlotsByHour = append(resp.SlotsByHour, HourSlotsResponse{
			Hour: appointment.NewClockTime(h.Hour, 0, 0).Short(),
			SlotCounts: SlotCounts{
				Total:       h.Total,
				Available:   h.Available,
				Booked:      h.Booked,
				Break:       h.Break,
				Unavailable: h.Unavailable,
			},
			Slots: toSlotResponses(h.Slots),
		})
	}

	return resp
}
