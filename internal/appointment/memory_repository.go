package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository. Booking transactions are
// serialized and the active-slot uniqueness rule is enforced on commit the
// way the partial unique index does it in Postgres.
type MemoryRepository struct {
	txMu sync.Mutex // one booking transaction at a time

	mu           sync.RWMutex
	doctors      map[uuid.UUID]Doctor
	windows      map[uuid.UUID]Window
	appointments map[uuid.UUID]Appointment
	events       []EventLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		doctors:      make(map[uuid.UUID]Doctor),
		windows:      make(map[uuid.UUID]Window),
		appointments: make(map[uuid.UUID]Appointment),
	}
}

// AddDoctor stores d, assigning an ID when it has none.
func (r *MemoryRepository) AddDoctor(d Doctor) Doctor {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Status == "" {
		d.Status = DoctorActive
	}
	now := time.Now()
	d.CreatedAt, d.UpdatedAt = now, now
	r.doctors[d.ID] = d
	return d
}

// Events returns a copy of the event log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]EventLog(nil), r.events...)
}

func sameDate(a, b time.Time) bool {
	return a.Equal(b)
}

func (r *MemoryRepository) countActiveLocked(doctorID uuid.UUID, date time.Time, from, to ClockTime, staged []Appointment) int {
	n := 0
	for _, a := range r.mergedLocked(staged) {
		if a.DoctorID == doctorID && sameDate(a.Date, date) && a.Status.IsActive() && a.Time >= from && a.Time <= to {
			n++
		}
	}
	return n
}

func (r *MemoryRepository) occupiedLocked(doctorID uuid.UUID, date time.Time, at ClockTime, staged []Appointment) bool {
	for _, a := range r.mergedLocked(staged) {
		if a.DoctorID == doctorID && sameDate(a.Date, date) && a.Status.IsActive() && a.Time == at {
			return true
		}
	}
	return false
}

// mergedLocked overlays staged rows on the committed ones.
func (r *MemoryRepository) mergedLocked(staged []Appointment) map[uuid.UUID]Appointment {
	if len(staged) == 0 {
		return r.appointments
	}
	out := make(map[uuid.UUID]Appointment, len(r.appointments)+len(staged))
	for id, a := range r.appointments {
		out[id] = a
	}
	for _, a := range staged {
		out[a.ID] = a
	}
	return out
}

func (r *MemoryRepository) CountActive(_ context.Context, doctorID uuid.UUID, date time.Time, from, to ClockTime) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.countActiveLocked(doctorID, date, from, to, nil), nil
}

func (r *MemoryRepository) SlotOccupied(_ context.Context, doctorID uuid.UUID, date time.Time, at ClockTime) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.occupiedLocked(doctorID, date, at, nil), nil
}

func (r *MemoryRepository) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (r *MemoryRepository) CreateWindow(_ context.Context, w *Window) (*Window, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.windows {
		if existing.DoctorID == w.DoctorID && sameDate(existing.Date, w.Date) {
			return nil, ErrWindowExists
		}
	}

	created := *w
	created.ID = uuid.New()
	now := time.Now()
	created.CreatedAt, created.UpdatedAt = now, now
	r.windows[created.ID] = created
	return &created, nil
}

func (r *MemoryRepository) GetWindowByID(_ context.Context, id uuid.UUID) (*Window, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.windows[id]
	if !ok {
		return nil, ErrWindowNotFound
	}
	return &w, nil
}

func (r *MemoryRepository) GetWindow(_ context.Context, doctorID uuid.UUID, date time.Time) (*Window, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, w := range r.windows {
		if w.DoctorID == doctorID && sameDate(w.Date, date) {
			return &w, nil
		}
	}
	return nil, ErrWindowNotFound
}

func (r *MemoryRepository) ListWindowsByDoctor(_ context.Context, doctorID uuid.UUID) ([]Window, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Window
	for _, w := range r.windows {
		if w.DoctorID == doctorID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (r *MemoryRepository) UpdateWindow(_ context.Context, w *Window) (*Window, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.windows[w.ID]
	if !ok {
		return nil, ErrWindowNotFound
	}
	existing.StartTime, existing.EndTime = w.StartTime, w.EndTime
	existing.BreakStart, existing.BreakEnd = w.BreakStart, w.BreakEnd
	existing.UpdatedAt = time.Now()
	r.windows[w.ID] = existing
	return &existing, nil
}

func (r *MemoryRepository) DeleteWindow(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.windows[id]; !ok {
		return ErrWindowNotFound
	}
	delete(r.windows, id)
	return nil
}

func (r *MemoryRepository) ListActiveTimes(_ context.Context, doctorID uuid.UUID, date time.Time) ([]ClockTime, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []ClockTime
	for _, a := range r.appointments {
		if a.DoctorID == doctorID && sameDate(a.Date, date) && a.Status.IsActive() {
			out = append(out, a.Time)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (r *MemoryRepository) InBookingTx(ctx context.Context, _ BookingKey, fn func(tx BookingTx) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memBookingTx{repo: r}
	if err := fn(tx); err != nil {
		return err
	}
	return r.commit(tx.staged)
}

// commit applies staged rows, rejecting a second active row on one slot.
func (r *MemoryRepository) commit(staged []Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	merged := r.mergedLocked(staged)
	type slotKey struct {
		doctor uuid.UUID
		date   time.Time
		at     ClockTime
	}
	seen := make(map[slotKey]bool)
	for _, a := range merged {
		if !a.Status.IsActive() {
			continue
		}
		k := slotKey{a.DoctorID, a.Date, a.Time}
		if seen[k] {
			return ErrSlotTaken
		}
		seen[k] = true
	}

	for _, a := range staged {
		r.appointments[a.ID] = a
	}
	return nil
}

func (r *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) detailLocked(a Appointment) AppointmentDetail {
	d := r.doctors[a.DoctorID]
	return AppointmentDetail{Appointment: a, DoctorName: d.FullName, DoctorSpecialization: d.Specialization}
}

func (r *MemoryRepository) GetAppointmentDetail(_ context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	detail := r.detailLocked(a)
	return &detail, nil
}

func (r *MemoryRepository) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	r.appointments[id] = a
	return &a, nil
}

func (r *MemoryRepository) UpdateAppointmentDetails(_ context.Context, id uuid.UUID, patch AppointmentPatch) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if patch.PatientName != nil {
		a.PatientName = *patch.PatientName
	}
	if patch.PatientEmail != nil {
		a.PatientEmail = patch.PatientEmail
	}
	if patch.PatientPhone != nil {
		a.PatientPhone = patch.PatientPhone
	}
	if patch.PatientAge != nil {
		a.PatientAge = patch.PatientAge
	}
	if patch.Reason != nil {
		a.Reason = patch.Reason
	}
	a.UpdatedAt = time.Now()
	r.appointments[id] = a
	return &a, nil
}

func (r *MemoryRepository) DeleteAppointment(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.appointments[id]; !ok {
		return ErrAppointmentNotFound
	}
	delete(r.appointments, id)
	return nil
}

func sortNewestFirst(items []Appointment) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].Date.Equal(items[j].Date) {
			return items[i].Date.After(items[j].Date)
		}
		return items[i].Time > items[j].Time
	})
}

func (r *MemoryRepository) ListAppointmentsByDoctor(_ context.Context, doctorID uuid.UUID, date *time.Time, status *AppointmentStatus) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Appointment
	for _, a := range r.appointments {
		if a.DoctorID != doctorID {
			continue
		}
		if date != nil && !sameDate(a.Date, *date) {
			continue
		}
		if status != nil && a.Status != *status {
			continue
		}
		out = append(out, a)
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *MemoryRepository) ListAppointments(_ context.Context, filter ListFilter) ([]AppointmentDetail, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []Appointment
	for _, a := range r.appointments {
		if filter.DoctorID != nil && a.DoctorID != *filter.DoctorID {
			continue
		}
		if filter.Date != nil && !sameDate(a.Date, *filter.Date) {
			continue
		}
		if filter.Status != nil && a.Status != *filter.Status {
			continue
		}
		matched = append(matched, a)
	}
	sortNewestFirst(matched)

	total := len(matched)
	start := min(max(filter.Offset, 0), total)
	end := total
	if filter.Limit > 0 {
		end = min(start+filter.Limit, total)
	}

	out := make([]AppointmentDetail, 0, end-start)
	for _, a := range matched[start:end] {
		out = append(out, r.detailLocked(a))
	}
	return out, total, nil
}

func (r *MemoryRepository) FindPendingBefore(_ context.Context, date time.Time, at ClockTime) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Appointment
	for _, a := range r.appointments {
		if a.Status != StatusPending {
			continue
		}
		if a.Date.Before(date) || (sameDate(a.Date, date) && a.Time < at) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev.ID = int64(len(r.events) + 1)
	r.events = append(r.events, ev)
	return nil
}

// memBookingTx reads committed rows plus its own staged writes.
type memBookingTx struct {
	repo   *MemoryRepository
	staged []Appointment
}

func (t *memBookingTx) CountActive(_ context.Context, doctorID uuid.UUID, date time.Time, from, to ClockTime) (int, error) {
	t.repo.mu.RLock()
	defer t.repo.mu.RUnlock()
	return t.repo.countActiveLocked(doctorID, date, from, to, t.staged), nil
}

func (t *memBookingTx) SlotOccupied(_ context.Context, doctorID uuid.UUID, date time.Time, at ClockTime) (bool, error) {
	t.repo.mu.RLock()
	defer t.repo.mu.RUnlock()
	return t.repo.occupiedLocked(doctorID, date, at, t.staged), nil
}

func (t *memBookingTx) InsertAppointment(_ context.Context, a *Appointment) (*Appointment, error) {
	created := *a
	created.ID = uuid.New()
	now := time.Now()
	created.CreatedAt, created.UpdatedAt = now, now
	t.staged = append(t.staged, created)
	return &created, nil
}

func (t *memBookingTx) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	t.repo.mu.RLock()
	a, ok := t.repo.mergedLocked(t.staged)[id]
	t.repo.mu.RUnlock()

	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	t.staged = append(t.staged, a)
	return &a, nil
}
