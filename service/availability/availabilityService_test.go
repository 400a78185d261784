package availability_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MiladFarazian/park-and-sync-sub004/model"
	"github.com/MiladFarazian/park-and-sync-sub004/service/availability"
)

type spotMock struct {
	windowsFn func(ctx context.Context, spotID int64) ([]model.AvailabilityWindow, error)
}

func (m *spotMock) Windows(ctx context.Context, spotID int64) ([]model.AvailabilityWindow, error) {
	return m.windowsFn(ctx, spotID)
}

type rsvMock struct {
	listFn func(ctx context.Context, spotID, excludeRenter int64) ([]model.Reservation, error)
}

func (m *rsvMock) ListLive(ctx context.Context, spotID, excludeRenter int64) ([]model.Reservation, error) {
	return m.listFn(ctx, spotID, excludeRenter)
}

type holdMock struct {
	liveFn func(ctx context.Context, spotID int64, now time.Time) ([]model.Hold, error)
}

func (m *holdMock) Live(ctx context.Context, spotID int64, now time.Time) ([]model.Hold, error) {
	return m.liveFn(ctx, spotID, now)
}

func at(h, m int) time.Time {
	// 2026-03-02 is a Monday
	return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC)
}

func allDay() []model.AvailabilityWindow {
	var out []model.AvailabilityWindow
	for d := time.Sunday; d <= time.Saturday; d++ {
		out = append(out, model.AvailabilityWindow{Weekday: d, OpenMinute: 0, CloseMinute: 1440})
	}
	return out
}

func TestOverlaps(t *testing.T) {
	cases := []struct {
		name                           string
		aStart, aEnd, bStart, bEnd     time.Time
		want                           bool
	}{
		{"identical", at(10, 0), at(11, 0), at(10, 0), at(11, 0), true},
		{"contained", at(10, 0), at(12, 0), at(10, 30), at(11, 0), true},
		{"partial front", at(10, 0), at(11, 0), at(10, 30), at(12, 0), true},
		{"adjacent after", at(10, 0), at(11, 0), at(11, 0), at(12, 0), false},
		{"adjacent before", at(10, 0), at(11, 0), at(9, 0), at(10, 0), false},
		{"disjoint", at(10, 0), at(11, 0), at(14, 0), at(15, 0), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, availability.Overlaps(tc.aStart, tc.aEnd, tc.bStart, tc.bEnd))
		})
	}
}

func TestWithinSchedule(t *testing.T) {
	monday := []model.AvailabilityWindow{
		{Weekday: time.Monday, OpenMinute: 8 * 60, CloseMinute: 18 * 60},
	}
	require.True(t, availability.WithinSchedule(at(9, 0), at(17, 0), monday))
	require.False(t, availability.WithinSchedule(at(7, 0), at(9, 0), monday), "starts before opening")
	require.False(t, availability.WithinSchedule(at(17, 0), at(19, 0), monday), "runs past closing")
	require.False(t, availability.WithinSchedule(at(9, 0), at(10, 0), nil), "no schedule at all")

	// adjacent windows chain across the boundary
	split := []model.AvailabilityWindow{
		{Weekday: time.Monday, OpenMinute: 8 * 60, CloseMinute: 12 * 60},
		{Weekday: time.Monday, OpenMinute: 12 * 60, CloseMinute: 18 * 60},
	}
	require.True(t, availability.WithinSchedule(at(10, 0), at(14, 0), split))

	// a gap in the middle breaks coverage
	gap := []model.AvailabilityWindow{
		{Weekday: time.Monday, OpenMinute: 8 * 60, CloseMinute: 12 * 60},
		{Weekday: time.Monday, OpenMinute: 13 * 60, CloseMinute: 18 * 60},
	}
	require.False(t, availability.WithinSchedule(at(10, 0), at(14, 0), gap))
}

func TestCheck_ReservationConflict(t *testing.T) {
	svc := availability.New(
		&spotMock{windowsFn: func(context.Context, int64) ([]model.AvailabilityWindow, error) { return allDay(), nil }},
		&rsvMock{listFn: func(context.Context, int64, int64) ([]model.Reservation, error) {
			return []model.Reservation{{StartAt: at(10, 0), EndAt: at(11, 0), Status: model.ReservationPaid}}, nil
		}},
		&holdMock{liveFn: func(context.Context, int64, time.Time) ([]model.Hold, error) { return nil, nil }},
	)

	res, err := svc.Check(context.Background(), 1, at(10, 30), at(11, 30), 0, at(9, 0))
	require.NoError(t, err)
	require.False(t, res.Available)
	require.Equal(t, availability.CauseReservationOverlap, res.Cause)
	require.NotEmpty(t, res.Reason)

	res, err = svc.Check(context.Background(), 1, at(11, 0), at(12, 0), 0, at(9, 0))
	require.NoError(t, err)
	require.True(t, res.Available, "back-to-back slots do not conflict")
}

func TestCheck_HoldConflictSkipsOwnHolds(t *testing.T) {
	holds := []model.Hold{{ID: "h1", RequesterID: 7, StartAt: at(10, 0), EndAt: at(11, 0)}}
	svc := availability.New(
		&spotMock{windowsFn: func(context.Context, int64) ([]model.AvailabilityWindow, error) { return allDay(), nil }},
		&rsvMock{listFn: func(context.Context, int64, int64) ([]model.Reservation, error) { return nil, nil }},
		&holdMock{liveFn: func(context.Context, int64, time.Time) ([]model.Hold, error) { return holds, nil }},
	)

	res, err := svc.Check(context.Background(), 1, at(10, 0), at(11, 0), 9, at(9, 0))
	require.NoError(t, err)
	require.False(t, res.Available, "someone else's hold blocks")
	require.Equal(t, availability.CauseHoldOverlap, res.Cause)

	res, err = svc.Check(context.Background(), 1, at(10, 0), at(11, 0), 7, at(9, 0))
	require.NoError(t, err)
	require.True(t, res.Available, "own hold does not block")
}

func TestCheck_InvalidRange(t *testing.T) {
	svc := availability.New(&spotMock{}, &rsvMock{}, &holdMock{})
	_, err := svc.Check(context.Background(), 1, at(11, 0), at(11, 0), 0, at(9, 0))
	require.ErrorIs(t, err, availability.ErrInvalidRange)
	_, err = svc.Check(context.Background(), 1, at(12, 0), at(11, 0), 0, at(9, 0))
	require.ErrorIs(t, err, availability.ErrInvalidRange)
}

func TestCheck_OutsideSchedule(t *testing.T) {
	monday := []model.AvailabilityWindow{{Weekday: time.Monday, OpenMinute: 8 * 60, CloseMinute: 18 * 60}}
	svc := availability.New(
		&spotMock{windowsFn: func(context.Context, int64) ([]model.AvailabilityWindow, error) { return monday, nil }},
		&rsvMock{listFn: func(context.Context, int64, int64) ([]model.Reservation, error) { return nil, nil }},
		&holdMock{liveFn: func(context.Context, int64, time.Time) ([]model.Hold, error) { return nil, nil }},
	)

	res, err := svc.Check(context.Background(), 1, at(19, 0), at(20, 0), 0, at(9, 0))
	require.NoError(t, err)
	require.False(t, res.Available)
	require.Equal(t, availability.CauseOutsideSchedule, res.Cause)
	require.Equal(t, "outside the spot's posted hours", res.Reason)
}
