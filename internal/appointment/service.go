package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-booking/internal/config"
	redisclient "github.com/hackgods/clinic-appointment-booking/internal/redis"
)

const (
	EventAppointmentBooked        = "APPOINTMENT_BOOKED"
	EventAppointmentStatusChanged = "APPOINTMENT_STATUS_CHANGED"
	EventAppointmentUpdated       = "APPOINTMENT_UPDATED"
	EventAppointmentDeleted       = "APPOINTMENT_DELETED"
	EventAppointmentLapsed        = "APPOINTMENT_LAPSED"
)

const (
	maxNameLength  = 255
	maxPhoneLength = 32
	maxAge         = 150

	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// Observer receives booking outcomes. *metrics.Metrics satisfies it.
type Observer interface {
	ObserveBooking(outcome string, elapsed time.Duration)
	ObserveStatusChange(from, to string)
	ObserveLapsed(n int)
}

type nopObserver struct{}

func (nopObserver) ObserveBooking(string, time.Duration) {}
func (nopObserver) ObserveStatusChange(string, string)   {}
func (nopObserver) ObserveLapsed(int)                    {}

type Service struct {
	repo        Repository
	locker      redisclient.Locker
	cfg         config.Config
	log         zerolog.Logger
	obs         Observer
	capacity    CapacityGuard
	conflicts   ConflictChecker
	transitions StatusMachine
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, logger zerolog.Logger, obs Observer) *Service {
	if obs == nil {
		obs = nopObserver{}
	}
	if cfg.HourlyCap <= 0 {
		cfg.HourlyCap = DefaultHourlyCap
	}
	if cfg.SlotGranularity <= 0 {
		cfg.SlotGranularity = DefaultGranularity
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	return &Service{
		repo:        repo,
		locker:      locker,
		cfg:         cfg,
		log:         logger.With().Str("component", "appointment").Logger(),
		obs:         obs,
		capacity:    CapacityGuard{Cap: cfg.HourlyCap},
		transitions: StatusMachine{Strict: cfg.StrictStatusTransitions},
	}
}

// Book runs the booking chain and records a Pending appointment. Each
// failed stage returns its own error before anything is written.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	start := time.Now()
	appt, err := s.book(ctx, req)

	outcome := Code(err)
	if err == nil {
		outcome = "booked"
	}
	s.obs.ObserveBooking(outcome, time.Since(start))

	return appt, err
}

func (s *Service) book(ctx context.Context, req BookingRequest) (*Appointment, error) {
	candidate, err := parseBookingRequest(req)
	if err != nil {
		return nil, err
	}

	if _, err := s.activeDoctor(ctx, candidate.DoctorID); err != nil {
		return nil, err
	}

	window, err := s.repo.GetWindow(ctx, candidate.DoctorID, candidate.Date)
	if err != nil {
		if errors.Is(err, ErrWindowNotFound) {
			return nil, fmt.Errorf("%w: no availability on %s", ErrDoctorUnavailable, candidate.Date.Format(DateLayout))
		}
		return nil, fmt.Errorf("load availability window: %w", err)
	}

	if err := s.checkHours(window, candidate.Time); err != nil {
		return nil, err
	}

	// Cheap pre-check against committed state; the locked re-check decides.
	if err := s.checkSlot(ctx, s.repo, candidate.DoctorID, candidate.Date, candidate.Time); err != nil {
		return nil, err
	}

	key := BookingKey{DoctorID: candidate.DoctorID, Date: candidate.Date, Hour: candidate.Time.Hour()}

	var created *Appointment
	err = s.withBookingLock(ctx, key, func(lockCtx context.Context) error {
		return s.repo.InBookingTx(lockCtx, key, func(tx BookingTx) error {
			if err := s.checkSlot(lockCtx, tx, candidate.DoctorID, candidate.Date, candidate.Time); err != nil {
				return err
			}

			appt, err := tx.InsertAppointment(lockCtx, candidate)
			if err != nil {
				if errors.Is(err, ErrSlotTaken) {
					return err
				}
				return fmt.Errorf("insert appointment: %w", err)
			}
			created = appt
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", created.ID.String()).
		Str("doctor_id", created.DoctorID.String()).
		Str("date", created.Date.Format(DateLayout)).
		Str("time", created.Time.String()).
		Msg("appointment booked")

	s.logEvent(ctx, created.ID, EventAppointmentBooked, map[string]any{
		"doctor_id":        created.DoctorID.String(),
		"appointment_date": created.Date.Format(DateLayout),
		"appointment_time": created.Time.String(),
	})

	return created, nil
}

func parseBookingRequest(req BookingRequest) (*Appointment, error) {
	var missing []string
	if strings.TrimSpace(req.DoctorID) == "" {
		missing = append(missing, "doctor_id")
	}
	if strings.TrimSpace(req.AppointmentDate) == "" {
		missing = append(missing, "appointment_date")
	}
	if strings.TrimSpace(req.AppointmentTime) == "" {
		missing = append(missing, "appointment_time")
	}
	if strings.TrimSpace(req.PatientName) == "" {
		missing = append(missing, "patient_name")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required fields: %s", ErrValidation, strings.Join(missing, ", "))
	}

	doctorID, err := uuid.Parse(strings.TrimSpace(req.DoctorID))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid doctor_id", ErrValidation)
	}
	date, err := ParseDate(req.AppointmentDate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	at, err := ParseClockTime(req.AppointmentTime)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	patch := AppointmentPatch{
		PatientName:  &req.PatientName,
		PatientEmail: req.PatientEmail,
		PatientPhone: req.PatientPhone,
		PatientAge:   req.PatientAge,
		Reason:       req.Reason,
	}
	if err := normalizePatch(&patch); err != nil {
		return nil, err
	}

	return &Appointment{
		DoctorID:     doctorID,
		Date:         date,
		Time:         at,
		PatientName:  *patch.PatientName,
		PatientEmail: patch.PatientEmail,
		PatientPhone: patch.PatientPhone,
		PatientAge:   patch.PatientAge,
		Reason:       patch.Reason,
		Status:       StatusPending,
	}, nil
}

// normalizePatch trims the patient fields, drops blank optional ones and
// validates what is left.
func normalizePatch(p *AppointmentPatch) error {
	if p.PatientName != nil {
		name := strings.TrimSpace(*p.PatientName)
		if name == "" {
			return fmt.Errorf("%w: patient_name must not be empty", ErrValidation)
		}
		if len(name) > maxNameLength {
			return fmt.Errorf("%w: patient_name is too long", ErrValidation)
		}
		p.PatientName = &name
	}

	p.PatientEmail = trimOptional(p.PatientEmail)
	if p.PatientEmail != nil {
		addr, err := mail.ParseAddress(*p.PatientEmail)
		if err != nil || addr.Address != *p.PatientEmail {
			return fmt.Errorf("%w: invalid patient_email", ErrValidation)
		}
	}

	p.PatientPhone = trimOptional(p.PatientPhone)
	if p.PatientPhone != nil && len(*p.PatientPhone) > maxPhoneLength {
		return fmt.Errorf("%w: patient_phone is too long", ErrValidation)
	}

	if p.PatientAge != nil && (*p.PatientAge < 0 || *p.PatientAge > maxAge) {
		return fmt.Errorf("%w: patient_age must be between 0 and %d", ErrValidation, maxAge)
	}

	p.Reason = trimOptional(p.Reason)
	return nil
}

func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func (s *Service) activeDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	doc, err := s.repo.GetDoctorByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if doc.Status != DoctorActive {
		return nil, fmt.Errorf("%w: doctor %s is %s", ErrDoctorNotFound, id, doc.Status)
	}
	return doc, nil
}

func (s *Service) checkHours(w *Window, t ClockTime) error {
	if !w.Covers(t) {
		return fmt.Errorf("%w: working hours are %s-%s", ErrOutOfHours, w.StartTime.Short(), w.EndTime.Short())
	}
	if w.InBreak(t) {
		return fmt.Errorf("%w: %s falls in the break %s-%s", ErrOutOfHours, t.Short(), w.BreakStart.Short(), w.BreakEnd.Short())
	}
	if s.cfg.StrictSlotGrid && !w.OnGrid(t, s.cfg.SlotGranularity) {
		return fmt.Errorf("%w: %s is not a bookable slot start", ErrOutOfHours, t.Short())
	}
	return nil
}

// checkSlot runs the capacity guard then the conflict check.
func (s *Service) checkSlot(ctx context.Context, ledger SlotLedger, doctorID uuid.UUID, date time.Time, t ClockTime) error {
	count, full, err := s.capacity.Check(ctx, ledger, doctorID, date, t)
	if err != nil {
		return fmt.Errorf("check hourly capacity: %w", err)
	}
	if full {
		return fmt.Errorf("%w: %d of %d appointments already booked in the %02d:00 hour",
			ErrCapacityExceeded, count, s.capacity.Cap, t.Hour())
	}

	taken, err := s.conflicts.Taken(ctx, ledger, doctorID, date, t)
	if err != nil {
		return fmt.Errorf("check slot conflict: %w", err)
	}
	if taken {
		return fmt.Errorf("%w: %s at %s", ErrSlotTaken, date.Format(DateLayout), t.Short())
	}
	return nil
}

func (s *Service) withBookingLock(ctx context.Context, key BookingKey, fn func(ctx context.Context) error) error {
	lockKey := redisclient.BookingLockKey(key.DoctorID, key.Date, key.Hour)
	err := s.locker.WithLock(ctx, lockKey, fn)
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		s.log.Warn().Str("lock", lockKey).Msg("booking lock busy")
		return ErrBookingBusy
	case errors.Is(err, redisclient.ErrLockUnavailable):
		// fn never ran. The advisory lock in InBookingTx still serializes the commit.
		s.log.Warn().Err(err).Str("lock", lockKey).Msg("booking lock store unavailable, relying on database lock")
		return fn(ctx)
	}
	return err
}

// AvailableSlots annotates every candidate slot of the doctor's window on
// date. All active appointments of the day are read in one query.
func (s *Service) AvailableSlots(ctx context.Context, doctorID, date string) (*DaySlots, error) {
	id, err := parseID(doctorID, "doctor_id")
	if err != nil {
		return nil, err
	}
	day, err := ParseDate(date)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if _, err := s.activeDoctor(ctx, id); err != nil {
		return nil, err
	}

	window, err := s.repo.GetWindow(ctx, id, day)
	if err != nil {
		if errors.Is(err, ErrWindowNotFound) {
			return nil, fmt.Errorf("%w: no availability on %s", ErrDoctorUnavailable, day.Format(DateLayout))
		}
		return nil, fmt.Errorf("load availability window: %w", err)
	}

	times, err := s.repo.ListActiveTimes(ctx, id, day)
	if err != nil {
		return nil, fmt.Errorf("list active appointments: %w", err)
	}
	snapshot := newDaySnapshot(id, day, times)

	var slots []Slot
	for _, t := range window.Candidates(s.cfg.SlotGranularity) {
		slot := Slot{Time: t, Status: SlotAvailable}

		switch {
		case window.InBreak(t):
			slot.Status, slot.Reason = SlotBreak, "Break time"
		default:
			taken, err := s.conflicts.Taken(ctx, snapshot, id, day, t)
			if err != nil {
				return nil, err
			}
			if taken {
				slot.Status, slot.Reason = SlotBooked, "Already booked"
				break
			}
			_, full, err := s.capacity.Check(ctx, snapshot, id, day, t)
			if err != nil {
				return nil, err
			}
			if full {
				slot.Status, slot.Reason = SlotUnavailable, "Hour limit reached"
			}
		}

		slots = append(slots, slot)
	}

	summary, byHour := summarize(slots)
	return &DaySlots{Window: *window, Slots: slots, Summary: summary, ByHour: byHour}, nil
}

// UpdateStatus moves an appointment to status. Moves back into the active
// set go through the booking lock and re-run the slot checks.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status string) (*Appointment, error) {
	to := AppointmentStatus(strings.TrimSpace(status))
	if !to.Valid() {
		return nil, fmt.Errorf("%w: status must be one of Pending, Accepted, Rejected, Confirmed, Cancelled", ErrValidation)
	}

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	from := appt.Status
	if from == to {
		return appt, nil
	}
	if !s.transitions.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
	}

	var updated *Appointment
	if reactivates(from, to) {
		key := BookingKey{DoctorID: appt.DoctorID, Date: appt.Date, Hour: appt.Time.Hour()}
		err = s.withBookingLock(ctx, key, func(lockCtx context.Context) error {
			return s.repo.InBookingTx(lockCtx, key, func(tx BookingTx) error {
				if err := s.checkSlot(lockCtx, tx, appt.DoctorID, appt.Date, appt.Time); err != nil {
					return err
				}
				var txErr error
				updated, txErr = tx.UpdateAppointmentStatus(lockCtx, id, from, to)
				return txErr
			})
		})
	} else {
		updated, err = s.repo.UpdateAppointmentStatus(ctx, id, from, to)
	}
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, fmt.Errorf("%w: status changed concurrently", ErrInvalidTransition)
		}
		if errors.Is(err, ErrCapacityExceeded) || errors.Is(err, ErrSlotTaken) || errors.Is(err, ErrBookingBusy) {
			return nil, err
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	s.obs.ObserveStatusChange(string(from), string(to))
	s.logEvent(ctx, id, EventAppointmentStatusChanged, map[string]any{
		"from": from,
		"to":   to,
	})

	return updated, nil
}

// UpdateDetails changes patient fields and the reason. Date, time and status
// are not patchable here.
func (s *Service) UpdateDetails(ctx context.Context, id uuid.UUID, patch AppointmentPatch) (*Appointment, error) {
	if err := normalizePatch(&patch); err != nil {
		return nil, err
	}
	if patch.empty() {
		return nil, fmt.Errorf("%w: no fields to update", ErrValidation)
	}

	updated, err := s.repo.UpdateAppointmentDetails(ctx, id, patch)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update appointment: %w", err)
	}

	s.logEvent(ctx, id, EventAppointmentUpdated, map[string]any{})
	return updated, nil
}

func (s *Service) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.DeleteAppointment(ctx, id); err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return err
		}
		return fmt.Errorf("delete appointment: %w", err)
	}

	s.logEvent(ctx, id, EventAppointmentDeleted, map[string]any{})
	return nil
}

// GetAppointment retrieves an appointment joined with its doctor.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	detail, err := s.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return detail, nil
}

// ListByDoctor lists a doctor's appointments, optionally for one date
// and/or one status. Empty filters are ignored.
func (s *Service) ListByDoctor(ctx context.Context, doctorID uuid.UUID, date, status string) ([]Appointment, error) {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	day, st, err := parseFilters(date, status)
	if err != nil {
		return nil, err
	}

	appts, err := s.repo.ListAppointmentsByDoctor(ctx, doctorID, day, st)
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return appts, nil
}

// ListQuery is the raw administrative listing request.
type ListQuery struct {
	Page     int
	Limit    int
	DoctorID string
	Date     string
	Status   string
}

type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// ListAppointments is the administrative listing with doctor details.
func (s *Service) ListAppointments(ctx context.Context, q ListQuery) ([]AppointmentDetail, Pagination, error) {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = DefaultPageLimit
	}
	if q.Limit > MaxPageLimit {
		q.Limit = MaxPageLimit
	}

	if q.Page-1 > math.MaxInt32/q.Limit {
		return nil, Pagination{}, fmt.Errorf("%w: page %d is out of range", ErrValidation, q.Page)
	}

	filter := ListFilter{Limit: q.Limit, Offset: (q.Page - 1) * q.Limit}

	if strings.TrimSpace(q.DoctorID) != "" {
		id, err := parseID(q.DoctorID, "doctor_id")
		if err != nil {
			return nil, Pagination{}, err
		}
		filter.DoctorID = &id
	}

	day, st, err := parseFilters(q.Date, q.Status)
	if err != nil {
		return nil, Pagination{}, err
	}
	filter.Date, filter.Status = day, st

	items, total, err := s.repo.ListAppointments(ctx, filter)
	if err != nil {
		return nil, Pagination{}, fmt.Errorf("list appointments: %w", err)
	}

	page := Pagination{
		Page:  q.Page,
		Limit: q.Limit,
		Total: total,
		Pages: int(math.Ceil(float64(total) / float64(q.Limit))),
	}
	return items, page, nil
}

func parseFilters(date, status string) (*time.Time, *AppointmentStatus, error) {
	var day *time.Time
	if strings.TrimSpace(date) != "" {
		d, err := ParseDate(date)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		day = &d
	}

	var st *AppointmentStatus
	if strings.TrimSpace(status) != "" {
		v := AppointmentStatus(strings.TrimSpace(status))
		if !v.Valid() {
			return nil, nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
		}
		st = &v
	}

	return day, st, nil
}

func parseID(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s", ErrValidation, field)
	}
	return id, nil
}

// LapseStalePending cancels Pending appointments whose start time lies more
// than PendingGrace before now, in clinic-local time. It returns how many
// appointments it moved.
func (s *Service) LapseStalePending(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.In(s.cfg.Location).Add(-s.cfg.PendingGrace)

	stale, err := s.repo.FindPendingBefore(ctx, DateOf(cutoff), ClockOf(cutoff))
	if err != nil {
		return 0, fmt.Errorf("find stale pending appointments: %w", err)
	}

	lapsed := 0
	for _, appt := range stale {
		_, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusPending, StatusCancelled)
		if err != nil {
			if !errors.Is(err, ErrAppointmentNotFound) {
				s.log.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to lapse appointment")
			}
			continue
		}
		lapsed++
		s.logEvent(ctx, appt.ID, EventAppointmentLapsed, map[string]any{
			"appointment_date": appt.Date.Format(DateLayout),
			"appointment_time": appt.Time.String(),
		})
	}

	s.obs.ObserveLapsed(lapsed)
	return lapsed, nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).
			Str("event", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to insert event log")
	}
}
