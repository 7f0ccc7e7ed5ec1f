package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-booking/internal/appointment"
)

const maxBodyBytes = 1 << 20

type handlers struct {
	svc *appointment.Service
	log zerolog.Logger
}

// decodeJSON reads a single JSON object and rejects unknown fields so that
// non-patchable columns cannot be smuggled into an update.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

func (h *handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	appt, err := h.svc.Book(r.Context(), appointment.BookingRequest{
		DoctorID:        req.DoctorID,
		AppointmentDate: req.AppointmentDate,
		AppointmentTime: req.AppointmentTime,
		PatientName:     req.PatientName,
		PatientEmail:    req.PatientEmail,
		PatientPhone:    req.PatientPhone,
		PatientAge:      req.PatientAge,
		Reason:          req.Reason,
	})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, SuccessResponse{
		Success: true,
		Message: "Appointment booked successfully",
		Data:    toAppointmentResponse(*appt),
	})
}

func (h *handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	q := r.URL.Query()
	items, pagination, err := h.svc.ListAppointments(r.Context(), appointment.ListQuery{
		Page:     page,
		Limit:    limit,
		DoctorID: q.Get("doctor_id"),
		Date:     q.Get("date"),
		Status:   q.Get("status"),
	})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	data := make([]AppointmentResponse, 0, len(items))
	for _, d := range items {
		data = append(data, toDetailResponse(d))
	}

	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Data: data, Pagination: &pagination})
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	detail, err := h.svc.GetAppointment(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Data: toDetailResponse(*detail)})
}

func (h *handlers) updateAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req UpdateAppointmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	appt, err := h.svc.UpdateDetails(r.Context(), id, appointment.AppointmentPatch{
		PatientName:  req.PatientName,
		PatientEmail: req.PatientEmail,
		PatientPhone: req.PatientPhone,
		PatientAge:   req.PatientAge,
		Reason:       req.Reason,
	})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{
		Success: true,
		Message: "Appointment updated successfully",
		Data:    toAppointmentResponse(*appt),
	})
}

func (h *handlers) updateAppointmentStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	appt, err := h.svc.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{
		Success: true,
		Message: "Appointment status updated to " + string(appt.Status),
		Data:    toAppointmentResponse(*appt),
	})
}

func (h *handlers) deleteAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.svc.DeleteAppointment(r.Context(), id); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Appointment deleted successfully"})
}

func (h *handlers) listDoctorAppointments(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := pathUUID(w, r, "doctorID")
	if !ok {
		return
	}

	q := r.URL.Query()
	items, err := h.svc.ListByDoctor(r.Context(), doctorID, q.Get("date"), q.Get("status"))
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Data: toAppointmentResponses(items)})
}

func (h *handlers) availableSlots(w http.ResponseWriter, r *http.Request) {
	day, err := h.svc.AvailableSlots(r.Context(), chi.URLParam(r, "doctorID"), chi.URLParam(r, "date"))
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Data: toSlotsResponse(day)})
}

func (h *handlers) listWindows(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := pathUUID(w, r, "doctorID")
	if !ok {
		return
	}

	windows, err := h.svc.ListWindows(r.Context(), doctorID)
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	data := make([]WindowResponse, 0, len(windows))
	for _, win := range windows {
		data = append(data, toWindowResponse(win))
	}

	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Data: data})
}

func (h *handlers) getWindow(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := pathUUID(w, r, "doctorID")
	if !ok {
		return
	}

	win, err := h.svc.GetWindow(r.Context(), doctorID, chi.URLParam(r, "date"))
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Data: toWindowResponse(*win)})
}

func (h *handlers) createWindow(w http.ResponseWriter, r *http.Request) {
	var req CreateWindowRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	win, err := h.svc.CreateWindow(r.Context(), appointment.WindowInput{
		DoctorID:   req.DoctorID,
		Date:       req.AvailableDate,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		BreakStart: req.BreakStart,
		BreakEnd:   req.BreakEnd,
	})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, SuccessResponse{
		Success: true,
		Message: "Availability created successfully",
		Data:    toWindowResponse(*win),
	})
}

func (h *handlers) updateWindow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req UpdateWindowRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	win, err := h.svc.UpdateWindow(r.Context(), id, appointment.WindowPatch{
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		BreakStart: req.BreakStart,
		BreakEnd:   req.BreakEnd,
		ClearBreak: req.ClearBreak,
	})
	if err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{
		Success: true,
		Message: "Availability updated successfully",
		Data:    toWindowResponse(*win),
	})
}

func (h *handlers) deleteWindow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.svc.DeleteWindow(r.Context(), id); err != nil {
		writeServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Availability deleted successfully"})
}
