package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedAppointment(t *testing.T, repo *MemoryRepository, doctor Doctor, date time.Time, at string) *Appointment {
	t.Helper()

	var created *Appointment
	err := repo.InBookingTx(context.Background(), BookingKey{DoctorID: doctor.ID, Date: date, Hour: clock(at).Hour()}, func(tx BookingTx) error {
		var err error
		created, err = tx.InsertAppointment(context.Background(), &Appointment{
			DoctorID:    doctor.ID,
			Date:        date,
			Time:        clock(at),
			PatientName: "Ada Lovelace",
			Status:      StatusPending,
		})
		return err
	})
	require.NoError(t, err)
	return created
}

func TestMemoryBookingTxRejectsSecondActiveRowOnSlot(t *testing.T) {
	repo := NewMemoryRepository()
	doctor := repo.AddDoctor(Doctor{FullName: "Dr. Hopper"})
	date := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	seedAppointment(t, repo, doctor, date, "09:00")

	// Insert straight onto the occupied slot, skipping the guard reads.
	err := repo.InBookingTx(ctx, BookingKey{DoctorID: doctor.ID, Date: date, Hour: 9}, func(tx BookingTx) error {
		_, err := tx.InsertAppointment(ctx, &Appointment{
			DoctorID:    doctor.ID,
			Date:        date,
			Time:        clock("09:00"),
			PatientName: "Grace Hopper",
			Status:      StatusPending,
		})
		return err
	})
	assert.ErrorIs(t, err, ErrSlotTaken)

	times, err := repo.ListActiveTimes(ctx, doctor.ID, date)
	require.NoError(t, err)
	assert.Equal(t, []ClockTime{clock("09:00")}, times)
}

func TestMemoryBookingTxRejectsTwoStagedRowsOnSlot(t *testing.T) {
	repo := NewMemoryRepository()
	doctor := repo.AddDoctor(Doctor{FullName: "Dr. Hopper"})
	date := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	err := repo.InBookingTx(ctx, BookingKey{DoctorID: doctor.ID, Date: date, Hour: 10}, func(tx BookingTx) error {
		for i := 0; i < 2; i++ {
			if _, err := tx.InsertAppointment(ctx, &Appointment{
				DoctorID: doctor.ID, Date: date, Time: clock("10:15"), PatientName: "Twin", Status: StatusPending,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	assert.ErrorIs(t, err, ErrSlotTaken)

	times, err := repo.ListActiveTimes(ctx, doctor.ID, date)
	require.NoError(t, err)
	assert.Empty(t, times)
}

func TestMemoryStatusUpdateOutsideTxMatchesPostgres(t *testing.T) {
	repo := NewMemoryRepository()
	doctor := repo.AddDoctor(Doctor{FullName: "Dr. Hopper"})
	date := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	appt := seedAppointment(t, repo, doctor, date, "11:00")

	_, err := repo.UpdateAppointmentStatus(ctx, appt.ID, StatusAccepted, StatusConfirmed)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	updated, err := repo.UpdateAppointmentStatus(ctx, appt.ID, StatusPending, StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, updated.Status)
}

func TestMemoryListAppointmentsClampsOffset(t *testing.T) {
	repo := NewMemoryRepository()
	doctor := repo.AddDoctor(Doctor{FullName: "Dr. Hopper"})
	date := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	seedAppointment(t, repo, doctor, date, "09:00")
	seedAppointment(t, repo, doctor, date, "09:15")

	items, total, err := repo.ListAppointments(context.Background(), ListFilter{Limit: 10, Offset: -60})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, items, 2)

	items, _, err = repo.ListAppointments(context.Background(), ListFilter{Limit: 10, Offset: 50})
	require.NoError(t, err)
	assert.Empty(t, items)
}
