package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"

	activeSlotIndex    = "appointments_active_slot_uq"
	windowKeyIndex     = "availability_windows_doctor_date_key"
	windowColumns      = `id, doctor_id, available_date, start_time, end_time, break_start, break_end, created_at, updated_at`
	appointmentColumns = `id, doctor_id, appointment_date, appointment_time, patient_name, patient_email,
		patient_phone, patient_age, reason, status, created_at, updated_at`
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func pgClock(c ClockTime) pgtype.Time {
	return pgtype.Time{Microseconds: int64(c) * 1_000_000, Valid: true}
}

func pgClockPtr(c *ClockTime) pgtype.Time {
	if c == nil {
		return pgtype.Time{}
	}
	return pgClock(*c)
}

func fromPgClock(t pgtype.Time) ClockTime {
	return ClockTime(t.Microseconds / 1_000_000)
}

func fromPgClockPtr(t pgtype.Time) *ClockTime {
	if !t.Valid {
		return nil
	}
	c := fromPgClock(t)
	return &c
}

// advisoryKey folds a booking key into the bigint space of pg_advisory_xact_lock.
func advisoryKey(key BookingKey) int64 {
	s := fmt.Sprintf("%s|%s|%02d", key.DoctorID, key.Date.Format(DateLayout), key.Hour)
	return int64(xxhash.Sum64String(s))
}

// classifyWriteErr maps constraint violations onto domain errors.
func classifyWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == activeSlotIndex:
		return ErrSlotTaken
	case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == windowKeyIndex:
		return ErrWindowExists
	case pgErr.Code == pgCheckViolation:
		return fmt.Errorf("%w: %s", ErrValidation, pgErr.Message)
	}
	return err
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor

	err := row.Scan(
		&d.ID,
		&d.FullName,
		&d.Email,
		&d.Specialization,
		&d.Status,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	return &d, nil
}

func scanWindow(row pgx.Row) (*Window, error) {
	var w Window
	var start, end, breakStart, breakEnd pgtype.Time

	err := row.Scan(
		&w.ID,
		&w.DoctorID,
		&w.Date,
		&start,
		&end,
		&breakStart,
		&breakEnd,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWindowNotFound
		}
		return nil, err
	}

	w.StartTime = fromPgClock(start)
	w.EndTime = fromPgClock(end)
	w.BreakStart = fromPgClockPtr(breakStart)
	w.BreakEnd = fromPgClockPtr(breakEnd)
	return &w, nil
}

func scanAppointment(row pgx.Row, extra ...any) (*Appointment, error) {
	var a Appointment
	var at pgtype.Time

	dest := []any{
		&a.ID,
		&a.DoctorID,
		&a.Date,
		&at,
		&a.PatientName,
		&a.PatientEmail,
		&a.PatientPhone,
		&a.PatientAge,
		&a.Reason,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	}

	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Time = fromPgClock(at)
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Shared ledger queries, run against the pool or a transaction.

func countActive(ctx context.Context, q querier, doctorID uuid.UUID, date time.Time, from, to ClockTime) (int, error) {
	var n int
	err := q.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date = $2
		  AND appointment_time >= $3
		  AND appointment_time <= $4
		  AND status IN ('Pending', 'Accepted', 'Confirmed')
	`, doctorID, date, pgClock(from), pgClock(to)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active appointments: %w", err)
	}
	return n, nil
}

func slotOccupied(ctx context.Context, q querier, doctorID uuid.UUID, date time.Time, at ClockTime) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM appointments
			WHERE doctor_id = $1
			  AND appointment_date = $2
			  AND appointment_time = $3
			  AND status IN ('Pending', 'Accepted', 'Confirmed')
		)
	`, doctorID, date, pgClock(at)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check slot occupancy: %w", err)
	}
	return exists, nil
}

func updateStatus(ctx context.Context, q querier, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := q.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns, id, to, from)

	a, err := scanAppointment(row)
	if err != nil {
		return nil, classifyWriteErr(err)
	}
	return a, nil
}

// Interface methods

func (r *PgRepository) CountActive(ctx context.Context, doctorID uuid.UUID, date time.Time, from, to ClockTime) (int, error) {
	return countActive(ctx, r.pool, doctorID, date, from, to)
}

func (r *PgRepository) SlotOccupied(ctx context.Context, doctorID uuid.UUID, date time.Time, at ClockTime) (bool, error) {
	return slotOccupied(ctx, r.pool, doctorID, date, at)
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, full_name, email, specialization, status, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) CreateWindow(ctx context.Context, w *Window) (*Window, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO availability_windows (id, doctor_id, available_date, start_time, end_time, break_start, break_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING `+windowColumns,
		uuid.New(), w.DoctorID, w.Date, pgClock(w.StartTime), pgClock(w.EndTime),
		pgClockPtr(w.BreakStart), pgClockPtr(w.BreakEnd))

	created, err := scanWindow(row)
	if err != nil {
		return nil, classifyWriteErr(err)
	}
	return created, nil
}

func (r *PgRepository) GetWindowByID(ctx context.Context, id uuid.UUID) (*Window, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+windowColumns+` FROM availability_windows WHERE id = $1`, id)
	return scanWindow(row)
}

func (r *PgRepository) GetWindow(ctx context.Context, doctorID uuid.UUID, date time.Time) (*Window, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+windowColumns+`
		FROM availability_windows
		WHERE doctor_id = $1 AND available_date = $2
	`, doctorID, date)
	return scanWindow(row)
}

func (r *PgRepository) ListWindowsByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Window, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+windowColumns+`
		FROM availability_windows
		WHERE doctor_id = $1
		ORDER BY available_date
	`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Window
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *w)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) UpdateWindow(ctx context.Context, w *Window) (*Window, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE availability_windows
		SET start_time = $2,
		    end_time = $3,
		    break_start = $4,
		    break_end = $5,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+windowColumns,
		w.ID, pgClock(w.StartTime), pgClock(w.EndTime), pgClockPtr(w.BreakStart), pgClockPtr(w.BreakEnd))

	updated, err := scanWindow(row)
	if err != nil {
		return nil, classifyWriteErr(err)
	}
	return updated, nil
}

func (r *PgRepository) DeleteWindow(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM availability_windows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete availability window: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWindowNotFound
	}
	return nil
}

func (r *PgRepository) ListActiveTimes(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]ClockTime, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT appointment_time
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date = $2
		  AND status IN ('Pending', 'Accepted', 'Confirmed')
		ORDER BY appointment_time
	`, doctorID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ClockTime
	for rows.Next() {
		var t pgtype.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		result = append(result, fromPgClock(t))
	}

	return result, rows.Err()
}

func (r *PgRepository) InBookingTx(ctx context.Context, key BookingKey, fn func(tx BookingTx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin booking tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// Held until commit or rollback. Under read committed every statement
	// after this one sees the rows committed by the previous holder.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryKey(key)); err != nil {
		return fmt.Errorf("acquire booking advisory lock: %w", err)
	}

	if err := fn(&pgBookingTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit booking tx: %w", classifyWriteErr(err))
	}
	return nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT a.id, a.doctor_id, a.appointment_date, a.appointment_time, a.patient_name, a.patient_email,
		       a.patient_phone, a.patient_age, a.reason, a.status, a.created_at, a.updated_at,
		       d.full_name, d.specialization
		FROM appointments a
		JOIN doctors d ON d.id = a.doctor_id
		WHERE a.id = $1
	`, id)

	var detail AppointmentDetail
	a, err := scanAppointment(row, &detail.DoctorName, &detail.DoctorSpecialization)
	if err != nil {
		return nil, err
	}
	detail.Appointment = *a
	return &detail, nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	return updateStatus(ctx, r.pool, id, from, to)
}

func (r *PgRepository) UpdateAppointmentDetails(ctx context.Context, id uuid.UUID, patch AppointmentPatch) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET patient_name = COALESCE($2, patient_name),
		    patient_email = COALESCE($3, patient_email),
		    patient_phone = COALESCE($4, patient_phone),
		    patient_age = COALESCE($5, patient_age),
		    reason = COALESCE($6, reason),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns,
		id, patch.PatientName, patch.PatientEmail, patch.PatientPhone, patch.PatientAge, patch.Reason)

	return scanAppointment(row)
}

func (r *PgRepository) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, date *time.Time, status *AppointmentStatus) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND ($2::date IS NULL OR appointment_date = $2)
		  AND ($3::text IS NULL OR status = $3)
		ORDER BY appointment_date DESC, appointment_time DESC
	`, doctorID, date, status)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListAppointments(ctx context.Context, filter ListFilter) ([]AppointmentDetail, int, error) {
	const where = `
		WHERE ($1::uuid IS NULL OR a.doctor_id = $1)
		  AND ($2::date IS NULL OR a.appointment_date = $2)
		  AND ($3::text IS NULL OR a.status = $3)`

	var total int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM appointments a`+where,
		filter.DoctorID, filter.Date, filter.Status).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT a.id, a.doctor_id, a.appointment_date, a.appointment_time, a.patient_name, a.patient_email,
		       a.patient_phone, a.patient_age, a.reason, a.status, a.created_at, a.updated_at,
		       d.full_name, d.specialization
		FROM appointments a
		JOIN doctors d ON d.id = a.doctor_id`+where+`
		ORDER BY a.appointment_date DESC, a.appointment_time DESC
		LIMIT $4 OFFSET $5
	`, filter.DoctorID, filter.Date, filter.Status, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []AppointmentDetail
	for rows.Next() {
		var detail AppointmentDetail
		a, err := scanAppointment(rows, &detail.DoctorName, &detail.DoctorSpecialization)
		if err != nil {
			return nil, 0, err
		}
		detail.Appointment = *a
		result = append(result, detail)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return result, total, nil
}

func (r *PgRepository) FindPendingBefore(ctx context.Context, date time.Time, at ClockTime) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'Pending'
		  AND (appointment_date < $1 OR (appointment_date = $1 AND appointment_time < $2))
	`, date, pgClock(at))
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// pgBookingTx is the transaction-scoped side of InBookingTx.
type pgBookingTx struct {
	tx pgx.Tx
}

func (t *pgBookingTx) CountActive(ctx context.Context, doctorID uuid.UUID, date time.Time, from, to ClockTime) (int, error) {
	return countActive(ctx, t.tx, doctorID, date, from, to)
}

func (t *pgBookingTx) SlotOccupied(ctx context.Context, doctorID uuid.UUID, date time.Time, at ClockTime) (bool, error) {
	return slotOccupied(ctx, t.tx, doctorID, date, at)
}

func (t *pgBookingTx) InsertAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, appointment_date, appointment_time, patient_name, patient_email,
		                          patient_phone, patient_age, reason, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING `+appointmentColumns,
		uuid.New(), a.DoctorID, a.Date, pgClock(a.Time), a.PatientName, a.PatientEmail,
		a.PatientPhone, a.PatientAge, a.Reason, a.Status)

	created, err := scanAppointment(row)
	if err != nil {
		return nil, classifyWriteErr(err)
	}
	return created, nil
}

func (t *pgBookingTx) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	return updateStatus(ctx, t.tx, id, from, to)
}
