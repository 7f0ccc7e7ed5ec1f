package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-booking/internal/appointment"
	"github.com/hackgods/clinic-appointment-booking/internal/metrics"
)

type RouterConfig struct {
	Service      *appointment.Service
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger
	Dependencies []Dependency
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoveryMiddleware(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	// Health endpoints
	health := NewHealthHandler(cfg.Dependencies, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	h := &handlers{svc: cfg.Service, log: cfg.Logger}

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", h.createAppointment)
		r.Get("/", h.listAppointments)
		r.Get("/{id}", h.getAppointment)
		r.Patch("/{id}", h.updateAppointment)
		r.Delete("/{id}", h.deleteAppointment)
		r.Put("/{id}/status", h.updateAppointmentStatus)
	})

	r.Route("/doctors/{doctorID}", func(r chi.Router) {
		r.Get("/appointments", h.listDoctorAppointments)
		r.Get("/slots/{date}", h.availableSlots)
		r.Get("/availability", h.listWindows)
		r.Get("/availability/{date}", h.getWindow)
	})

	r.Route("/availability", func(r chi.Router) {
		r.Post("/", h.createWindow)
		r.Patch("/{id}", h.updateWindow)
		r.Delete("/{id}", h.deleteWindow)
	})

	return r
}
