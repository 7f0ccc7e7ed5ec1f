package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointment-booking/internal/appointment"
	"github.com/hackgods/clinic-appointment-booking/internal/config"
	"github.com/hackgods/clinic-appointment-booking/internal/metrics"
	redisclient "github.com/hackgods/clinic-appointment-booking/internal/redis"
)

const testDate = "2025-03-14"

type testServer struct {
	handler http.Handler
	repo    *appointment.MemoryRepository
	doctor  appointment.Doctor
}

func newTestServer(t *testing.T, deps ...Dependency) *testServer {
	t.Helper()

	repo := appointment.NewMemoryRepository()
	m := metrics.New()
	svc := appointment.NewService(repo, redisclient.NopLocker{}, config.Defaults(), zerolog.Nop(), m)

	ts := &testServer{
		handler: NewRouter(RouterConfig{
			Service:      svc,
			Metrics:      m,
			Logger:       zerolog.Nop(),
			Dependencies: deps,
			Env:          "test",
			Version:      "dev",
		}),
		repo:   repo,
		doctor: repo.AddDoctor(appointment.Doctor{FullName: "Dr. " + gofakeit.LastName()}),
	}

	rec := ts.do(t, http.MethodPost, "/availability", map[string]any{
		"doctor_id":      ts.doctor.ID.String(),
		"available_date": testDate,
		"start_time":     "09:00",
		"end_time":       "17:00",
		"break_start":    "12:00",
		"break_end":      "13:00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) book(t *testing.T, at string) *httptest.ResponseRecorder {
	t.Helper()
	return ts.do(t, http.MethodPost, "/appointments", map[string]any{
		"doctor_id":        ts.doctor.ID.String(),
		"appointment_date": testDate,
		"appointment_time": at,
		"patient_name":     gofakeit.Name(),
		"patient_email":    gofakeit.Email(),
	})
}

type envelope struct {
	Success    bool                    `json:"success"`
	Message    string                  `json:"message"`
	Error      string                  `json:"error"`
	Data       json.RawMessage         `json:"data"`
	Pagination *appointment.Pagination `json:"pagination"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func bookedID(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var appt AppointmentResponse
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &appt))
	return appt.ID.String()
}

func TestCreateAppointment(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.book(t, "09:30")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	env := decode(t, rec)
	assert.True(t, env.Success)
	assert.NotEmpty(t, env.Message)

	var appt AppointmentResponse
	require.NoError(t, json.Unmarshal(env.Data, &appt))
	assert.Equal(t, "Pending", appt.Status)
	assert.Equal(t, testDate, appt.AppointmentDate)
	assert.Equal(t, "09:30:00", appt.AppointmentTime.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCreateAppointmentErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	for _, at := range []string{"09:00", "09:15", "09:30", "09:45"} {
		bookedID(t, ts.book(t, at))
	}

	cases := []struct {
		name   string
		body   map[string]any
		status int
		code   string
	}{
		{"missing fields", map[string]any{"patient_name": "x"}, http.StatusBadRequest, "validation_error"},
		{"unknown doctor", map[string]any{"doctor_id": "6f1c2a9e-54b1-4c1e-9f0a-1d2e3f4a5b6c", "appointment_date": testDate, "appointment_time": "10:00", "patient_name": "x"}, http.StatusNotFound, "doctor_not_found"},
		{"no window", map[string]any{"doctor_id": ts.doctor.ID.String(), "appointment_date": "2025-03-15", "appointment_time": "10:00", "patient_name": "x"}, http.StatusUnprocessableEntity, "doctor_unavailable"},
		{"in break", map[string]any{"doctor_id": ts.doctor.ID.String(), "appointment_date": testDate, "appointment_time": "12:30", "patient_name": "x"}, http.StatusUnprocessableEntity, "outside_hours"},
		{"hour full", map[string]any{"doctor_id": ts.doctor.ID.String(), "appointment_date": testDate, "appointment_time": "09:50", "patient_name": "x"}, http.StatusConflict, "hourly_capacity_reached"},
		{"unknown field", map[string]any{"doctor_id": ts.doctor.ID.String(), "status": "Confirmed"}, http.StatusBadRequest, "validation_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/appointments", tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())

			env := decode(t, rec)
			assert.False(t, env.Success)
			assert.Equal(t, tc.code, env.Error)
			assert.NotEmpty(t, env.Message)
		})
	}
}

func TestCreateAppointmentSlotTaken(t *testing.T) {
	ts := newTestServer(t)

	bookedID(t, ts.book(t, "10:00"))

	rec := ts.book(t, "10:00")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_taken", decode(t, rec).Error)
}

func TestStatusUpdateFlow(t *testing.T) {
	ts := newTestServer(t)
	id := bookedID(t, ts.book(t, "11:00"))

	rec := ts.do(t, http.MethodPut, "/appointments/"+id+"/status", map[string]string{"status": "Confirmed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPut, "/appointments/"+id+"/status", map[string]string{"status": "Pending"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status_transition", decode(t, rec).Error)

	rec = ts.do(t, http.MethodPut, "/appointments/"+id+"/status", map[string]string{"status": "Done"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPut, "/appointments/6f1c2a9e-54b1-4c1e-9f0a-1d2e3f4a5b6c/status", map[string]string{"status": "Cancelled"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "appointment_not_found", decode(t, rec).Error)

	rec = ts.do(t, http.MethodPut, "/appointments/not-a-uuid/status", map[string]string{"status": "Cancelled"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPatchDeleteAppointment(t *testing.T) {
	ts := newTestServer(t)
	id := bookedID(t, ts.book(t, "13:15"))

	rec := ts.do(t, http.MethodGet, "/appointments/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail AppointmentResponse
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &detail))
	assert.Equal(t, ts.doctor.FullName, detail.DoctorName)

	rec = ts.do(t, http.MethodPatch, "/appointments/"+id, map[string]any{"reason": "follow-up", "patient_age": 37})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var patched AppointmentResponse
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &patched))
	assert.Equal(t, "follow-up", *patched.Reason)
	assert.Equal(t, 37, *patched.PatientAge)

	rec = ts.do(t, http.MethodPatch, "/appointments/"+id, map[string]any{"appointment_time": "14:00"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/appointments/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/appointments/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAppointmentsPagination(t *testing.T) {
	ts := newTestServer(t)
	for _, at := range []string{"09:00", "09:15", "10:00", "10:15", "11:00"} {
		bookedID(t, ts.book(t, at))
	}

	rec := ts.do(t, http.MethodGet, "/appointments?page=2&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	env := decode(t, rec)
	require.NotNil(t, env.Pagination)
	assert.Equal(t, appointment.Pagination{Page: 2, Limit: 2, Total: 5, Pages: 3}, *env.Pagination)

	var items []AppointmentResponse
	require.NoError(t, json.Unmarshal(env.Data, &items))
	assert.Len(t, items, 2)

	rec = ts.do(t, http.MethodGet, "/appointments?page=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/doctors/"+ts.doctor.ID.String()+"/appointments?status=Pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &items))
	assert.Len(t, items, 5)
}

func TestSlotsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	bookedID(t, ts.book(t, "09:00"))

	rec := ts.do(t, http.MethodGet, "/doctors/"+ts.doctor.ID.String()+"/slots/"+testDate, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var slots SlotsResponse
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &slots))

	assert.Equal(t, 32, slots.Summary.Total)
	assert.Equal(t, 1, slots.Summary.Booked)
	assert.Equal(t, 4, slots.Summary.Break)
	require.NotEmpty(t, slots.Slots)
	assert.Equal(t, SlotResponse{Time: "09:00", Status: "booked", Reason: "Already booked"}, slots.Slots[0])
	require.Len(t, slots.SlotsByHour, 8)
	assert.Equal(t, "09:00", slots.SlotsByHour[0].Hour)
	assert.Equal(t, 3, slots.SlotsByHour[0].Available)

	rec = ts.do(t, http.MethodGet, "/doctors/"+ts.doctor.ID.String()+"/slots/2025-03-20", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAvailabilityEndpoints(t *testing.T) {
	ts := newTestServer(t)
	base := "/doctors/" + ts.doctor.ID.String() + "/availability"

	rec := ts.do(t, http.MethodPost, "/availability", map[string]any{
		"doctor_id":      ts.doctor.ID.String(),
		"available_date": testDate,
		"start_time":     "10:00",
		"end_time":       "11:00",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "availability_exists", decode(t, rec).Error)

	rec = ts.do(t, http.MethodGet, base+"/"+testDate, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var win WindowResponse
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &win))
	assert.Equal(t, "09:00:00", win.StartTime.String())
	require.NotNil(t, win.BreakStart)

	rec = ts.do(t, http.MethodPatch, "/availability/"+win.ID.String(), map[string]any{"end_time": "18:00", "clear_break": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var patched WindowResponse
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &patched))
	assert.Equal(t, "18:00:00", patched.EndTime.String())
	assert.Nil(t, patched.BreakStart)

	rec = ts.do(t, http.MethodPatch, "/availability/"+win.ID.String(), map[string]any{"start_time": "19:00"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var windows []WindowResponse
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &windows))
	assert.Len(t, windows, 1)

	rec = ts.do(t, http.MethodDelete, "/availability/"+win.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, base+"/"+testDate, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "availability_not_found", decode(t, rec).Error)
}

func TestHealthEndpoints(t *testing.T) {
	ok := Dependency{Name: "postgres", Critical: true, Ping: func(context.Context) error { return nil }}
	down := Dependency{Name: "redis", Ping: func(context.Context) error { return errors.New("refused") }}
	ts := newTestServer(t, ok, down)

	rec := ts.do(t, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var ready ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.Equal(t, "degraded", ready.Status)
	assert.Equal(t, "down", ready.Dependencies["redis"])

	critical := Dependency{Name: "postgres", Critical: true, Ping: func(context.Context) error { return errors.New("refused") }}
	ts = newTestServer(t, critical)
	rec = ts.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	bookedID(t, ts.book(t, "09:00"))

	rec := ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `clinic_bookings_total{outcome="booked"} 1`)
}

func TestInternalErrorsAreGeneric(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)

	writeServiceError(rec, req, zerolog.Nop(), errors.New("pq: connection refused to 10.0.0.5"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")
	assert.Contains(t, rec.Body.String(), "internal_error")
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(zerolog.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
