package availability

import (
	"context"
	"errors"
	"time"

	"github.com/MiladFarazian/park-and-sync-sub004/model"
)

// Cause classifies why a window is unavailable. A schedule miss is a
// caller input error, not a booking conflict, and callers map the two
// to different error codes.
type Cause string

const (
	CauseOutsideSchedule    Cause = "outside_schedule"
	CauseReservationOverlap Cause = "reservation_overlap"
	CauseHoldOverlap        Cause = "hold_overlap"
)

// Result is the oracle's answer. Cause and Reason are set only when
// unavailable.
type Result struct {
	Available bool
	Cause     Cause
	Reason    string
}

var ErrInvalidRange = errors.New("invalid time range")

type SpotRepo interface {
	Windows(ctx context.Context, spotID int64) ([]model.AvailabilityWindow, error)
}

type ReservationRepo interface {
	ListLive(ctx context.Context, spotID, excludeRenter int64) ([]model.Reservation, error)
}

type HoldRepo interface {
	Live(ctx context.Context, spotID int64, now time.Time) ([]model.Hold, error)
}

type Service interface {
	// Check answers whether [start, end) is free on the spot. It reads
	// committed reservations and live holds; excludeRequester skips that
	// requester's own holds and reservations so a renter can re-check a
	// window they already claim. Read-only, safe under any concurrency.
	Check(ctx context.Context, spotID int64, start, end time.Time, excludeRequester int64, now time.Time) (Result, error)
}

type service struct {
	spots SpotRepo
	rsv   ReservationRepo
	holds HoldRepo
}

func New(spots SpotRepo, rsv ReservationRepo, holds HoldRepo) Service {
	return &service{spots: spots, rsv: rsv, holds: holds}
}

func (s *service) Check(ctx context.Context, spotID int64, start, end time.Time, excludeRequester int64, now time.Time) (Result, error) {
	if !end.After(start) {
		return Result{}, ErrInvalidRange
	}

	windows, err := s.spots.Windows(ctx, spotID)
	if err != nil {
		return Result{}, err
	}
	if !WithinSchedule(start, end, windows) {
		return Result{Available: false, Cause: CauseOutsideSchedule, Reason: "outside the spot's posted hours"}, nil
	}

	live, err := s.rsv.ListLive(ctx, spotID, excludeRequester)
	if err != nil {
		return Result{}, err
	}
	for _, r := range live {
		if Overlaps(start, end, r.StartAt, r.EndAt) {
			return Result{Available: false, Cause: CauseReservationOverlap, Reason: "another reservation overlaps this time"}, nil
		}
	}

	holds, err := s.holds.Live(ctx, spotID, now)
	if err != nil {
		return Result{}, err
	}
	for _, h := range holds {
		if h.RequesterID == excludeRequester {
			continue
		}
		if Overlaps(start, end, h.StartAt, h.EndAt) {
			return Result{Available: false, Cause: CauseHoldOverlap, Reason: "another driver is checking out this time"}, nil
		}
	}

	return Result{Available: true}, nil
}

// Overlaps reports whether the half-open intervals [aStart, aEnd) and
// [bStart, bEnd) intersect.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return bStart.Before(aEnd) && bEnd.After(aStart)
}

// WithinSchedule reports whether every instant of [start, end) falls
// inside some declared weekly window. The candidate is walked one
// calendar day at a time; windows never span midnight.
func WithinSchedule(start, end time.Time, windows []model.AvailabilityWindow) bool {
	if len(windows) == 0 {
		return false
	}

	byDay := map[time.Weekday][]model.AvailabilityWindow{}
	for _, w := range windows {
		byDay[w.Weekday] = append(byDay[w.Weekday], w)
	}

	for cur := start; cur.Before(end); {
		midnight := time.Date(cur.Year(), cur.Month(), cur.Day(), 0, 0, 0, 0, cur.Location())
		nextMidnight := midnight.AddDate(0, 0, 1)
		segEnd := end
		if nextMidnight.Before(end) {
			segEnd = nextMidnight
		}

		fromMin := int(cur.Sub(midnight).Minutes())
		toMin := int(segEnd.Sub(midnight).Minutes())
		if segEnd.Equal(nextMidnight) {
			toMin = 24 * 60
		}
		if !segmentCovered(fromMin, toMin, byDay[cur.Weekday()]) {
			return false
		}
		cur = nextMidnight
	}
	return true
}

// segmentCovered checks that [from, to) minutes of one day are covered
// by the day's windows, allowing adjacent windows to chain.
func segmentCovered(from, to int, windows []model.AvailabilityWindow) bool {
	for from < to {
		advanced := false
		for _, w := range windows {
			if w.OpenMinute <= from && from < w.CloseMinute {
				from = w.CloseMinute
				advanced = true
			}
		}
		if !advanced {
			return false
		}
	}
	return true
}
