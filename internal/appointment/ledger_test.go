package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapacityGuardOnSnapshot(t *testing.T) {
	ctx := context.Background()
	doctor := uuid.New()
	date := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	snap := newDaySnapshot(doctor, date, []ClockTime{clock("09:00"), clock("09:15"), clock("09:30"), clock("10:00")})

	guard := CapacityGuard{Cap: 4}

	count, full, err := guard.Check(ctx, snap, doctor, date, clock("09:50"))
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.False(t, full)

	snap.times = append(snap.times, clock("09:59:59"))
	count, full, err = guard.Check(ctx, snap, doctor, date, clock("09:05"))
	require.NoError(t, err)
	assert.Equal(t, 4, count)
	assert.True(t, full)

	_, full, err = guard.Check(ctx, snap, doctor, date, clock("10:30"))
	require.NoError(t, err)
	assert.False(t, full)
}

func TestSnapshotIgnoresOtherDoctorsAndDates(t *testing.T) {
	ctx := context.Background()
	doctor := uuid.New()
	date := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	snap := newDaySnapshot(doctor, date, []ClockTime{clock("09:00")})

	taken, err := ConflictChecker{}.Taken(ctx, snap, doctor, date, clock("09:00"))
	require.NoError(t, err)
	assert.True(t, taken)

	taken, err = ConflictChecker{}.Taken(ctx, snap, uuid.New(), date, clock("09:00"))
	require.NoError(t, err)
	assert.False(t, taken)

	n, err := snap.CountActive(ctx, doctor, date.AddDate(0, 0, 1), 0, secondsPerDay-1)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConflictCheckerIsExactMatch(t *testing.T) {
	ctx := context.Background()
	doctor := uuid.New()
	date := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	snap := newDaySnapshot(doctor, date, []ClockTime{clock("09:00")})

	taken, err := ConflictChecker{}.Taken(ctx, snap, doctor, date, clock("09:00:01"))
	require.NoError(t, err)
	assert.False(t, taken)
}
