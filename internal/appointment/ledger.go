package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const DefaultHourlyCap = 4

// SlotLedger answers occupancy questions about active appointments. The
// pool, a booking transaction and a day snapshot all implement it so the
// guards below evaluate identically in each.
type SlotLedger interface {
	CountActive(ctx context.Context, doctorID uuid.UUID, date time.Time, from, to ClockTime) (int, error)
	SlotOccupied(ctx context.Context, doctorID uuid.UUID, date time.Time, at ClockTime) (bool, error)
}

// CapacityGuard enforces the per-doctor hourly cap.
type CapacityGuard struct {
	Cap int
}

// Check returns how many active appointments share t's clock hour and
// whether that count has reached the cap.
func (g CapacityGuard) Check(ctx context.Context, ledger SlotLedger, doctorID uuid.UUID, date time.Time, t ClockTime) (int, bool, error) {
	from, to := t.HourBounds()
	count, err := ledger.CountActive(ctx, doctorID, date, from, to)
	if err != nil {
		return 0, false, err
	}
	return count, count >= g.Cap, nil
}

// ConflictChecker looks for an active appointment at an exact slot.
type ConflictChecker struct{}

func (ConflictChecker) Taken(ctx context.Context, ledger SlotLedger, doctorID uuid.UUID, date time.Time, t ClockTime) (bool, error) {
	return ledger.SlotOccupied(ctx, doctorID, date, t)
}

// daySnapshot is a ledger over the active times of one doctor/date loaded
// in a single query.
type daySnapshot struct {
	doctorID uuid.UUID
	date     time.Time
	times    []ClockTime
}

func newDaySnapshot(doctorID uuid.UUID, date time.Time, times []ClockTime) *daySnapshot {
	return &daySnapshot{doctorID: doctorID, date: date, times: times}
}

func (s *daySnapshot) matches(doctorID uuid.UUID, date time.Time) bool {
	return s.doctorID == doctorID && s.date.Equal(date)
}

func (s *daySnapshot) CountActive(_ context.Context, doctorID uuid.UUID, date time.Time, from, to ClockTime) (int, error) {
	if !s.matches(doctorID, date) {
		return 0, nil
	}
	n := 0
	for _, t := range s.times {
		if t >= from && t <= to {
			n++
		}
	}
	return n, nil
}

func (s *daySnapshot) SlotOccupied(_ context.Context, doctorID uuid.UUID, date time.Time, at ClockTime) (bool, error) {
	if !s.matches(doctorID, date) {
		return false, nil
	}
	for _, t := range s.times {
		if t == at {
			return true, nil
		}
	}
	return false, nil
}
