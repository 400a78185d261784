package overstay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const rate = 2500 // $25/hr overtime

func clock(h, m int) time.Time {
	return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC)
}

func TestOvertimeCharge_ZeroThroughGrace(t *testing.T) {
	grace := clock(11, 15)
	require.Zero(t, OvertimeCharge(grace, clock(11, 0), rate))
	require.Zero(t, OvertimeCharge(grace, grace, rate), "charge starts strictly after grace end")
}

func TestOvertimeCharge_CeilsStartedHours(t *testing.T) {
	grace := clock(11, 15)
	require.Equal(t, int64(rate), OvertimeCharge(grace, clock(11, 16), rate), "first minute starts the first hour")
	require.Equal(t, int64(rate), OvertimeCharge(grace, clock(11, 46), rate), "31 minutes is still the first hour")
	require.Equal(t, int64(rate), OvertimeCharge(grace, clock(12, 15), rate), "exactly one hour")
	require.Equal(t, int64(2*rate), OvertimeCharge(grace, clock(12, 16), rate), "one minute into the second hour")
}

func TestOvertimeCharge_Monotonic(t *testing.T) {
	grace := clock(11, 15)
	var prev int64
	for now := clock(11, 0); now.Before(clock(16, 0)); now = now.Add(7 * time.Minute) {
		got := OvertimeCharge(grace, now, rate)
		require.GreaterOrEqual(t, got, prev, "charge regressed at %v", now)
		prev = got
	}
}

func TestChargedHours(t *testing.T) {
	require.Equal(t, int64(0), chargedHours(0, rate))
	require.Equal(t, int64(1), chargedHours(rate, rate))
	require.Equal(t, int64(2), chargedHours(2*rate, rate))
	require.Equal(t, int64(0), chargedHours(100, 0), "zero rate never notifies")
}
