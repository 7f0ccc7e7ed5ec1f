package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveBooking(t *testing.T) {
	m := New()

	m.ObserveBooking("booked", 10*time.Millisecond)
	m.ObserveBooking("booked", 20*time.Millisecond)
	m.ObserveBooking("slot_taken", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.bookingsTotal.WithLabelValues("booked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bookingsTotal.WithLabelValues("slot_taken")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.bookingDuration))
}

func TestObserveStatusChangeAndLapsed(t *testing.T) {
	m := New()

	m.ObserveStatusChange("Pending", "Cancelled")
	m.ObserveLapsed(3)
	m.ObserveLapsed(0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.statusChangesTotal.WithLabelValues("Pending", "Cancelled")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.lapsedTotal))
}

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	m := New()

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/appointments/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/appointments/"+id, nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/appointments/{id}", "404")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveBooking("booked", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "clinic_bookings_total"))
}
