package booking

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/MiladFarazian/park-and-sync-sub004/model"
	"github.com/MiladFarazian/park-and-sync-sub004/repository/payment"
	"github.com/MiladFarazian/park-and-sync-sub004/repository/reservation"
	"github.com/MiladFarazian/park-and-sync-sub004/service/availability"
)

// Monday
func at(h, m int) time.Time { return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC) }

func weekAllDay() []model.AvailabilityWindow {
	var out []model.AvailabilityWindow
	for d := time.Sunday; d <= time.Saturday; d++ {
		out = append(out, model.AvailabilityWindow{SpotID: 1, Weekday: d, OpenMinute: 0, CloseMinute: 24 * 60})
	}
	return out
}

type spotsMock struct {
	getFn     func(ctx context.Context, id int64) (*model.Spot, error)
	windowsFn func(ctx context.Context, id int64) ([]model.AvailabilityWindow, error)
}

func (m *spotsMock) Get(ctx context.Context, id int64) (*model.Spot, error) { return m.getFn(ctx, id) }
func (m *spotsMock) Windows(ctx context.Context, id int64) ([]model.AvailabilityWindow, error) {
	return m.windowsFn(ctx, id)
}

type rsvMock struct {
	getFn              func(ctx context.Context, id int64) (*model.Reservation, error)
	getForUpdateFn     func(ctx context.Context, tx *sql.Tx, id int64) (*model.Reservation, error)
	listLiveFn         func(ctx context.Context, spotID, excludeRenter int64) ([]model.Reservation, error)
	countOverlappingFn func(ctx context.Context, tx *sql.Tx, spotID int64, start, end time.Time, excludeID int64) (int, error)
	insertFn           func(ctx context.Context, tx *sql.Tx, rsv *model.Reservation) (int64, error)
	confirmDepartureFn func(ctx context.Context, id, renterID int64, now time.Time) (int64, error)
	extendWindowFn     func(ctx context.Context, tx *sql.Tx, id int64, newEnd time.Time, addCents int64) error
	cancelFn           func(ctx context.Context, id, renterID int64, now time.Time) (*model.Reservation, error)

	lockedSpots []int64
}

var _ reservation.Repo = (*rsvMock)(nil)

func (m *rsvMock) Get(ctx context.Context, id int64) (*model.Reservation, error) {
	return m.getFn(ctx, id)
}
func (m *rsvMock) GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*model.Reservation, error) {
	return m.getForUpdateFn(ctx, tx, id)
}
func (m *rsvMock) ListLive(ctx context.Context, spotID, excludeRenter int64) ([]model.Reservation, error) {
	if m.listLiveFn == nil {
		return nil, nil
	}
	return m.listLiveFn(ctx, spotID, excludeRenter)
}
func (m *rsvMock) LockSpot(ctx context.Context, tx *sql.Tx, spotID int64) error {
	m.lockedSpots = append(m.lockedSpots, spotID)
	return nil
}
func (m *rsvMock) CountOverlapping(ctx context.Context, tx *sql.Tx, spotID int64, start, end time.Time, excludeID int64) (int, error) {
	return m.countOverlappingFn(ctx, tx, spotID, start, end, excludeID)
}
func (m *rsvMock) Insert(ctx context.Context, tx *sql.Tx, rsv *model.Reservation) (int64, error) {
	return m.insertFn(ctx, tx, rsv)
}
func (m *rsvMock) ConfirmDeparture(ctx context.Context, id, renterID int64, now time.Time) (int64, error) {
	return m.confirmDepartureFn(ctx, id, renterID, now)
}
func (m *rsvMock) SetAction(ctx context.Context, tx *sql.Tx, id int64, action model.OverstayAction) error {
	return nil
}
func (m *rsvMock) ExtendWindow(ctx context.Context, tx *sql.Tx, id int64, newEnd time.Time, addCents int64) error {
	return m.extendWindowFn(ctx, tx, id, newEnd, addCents)
}
func (m *rsvMock) Cancel(ctx context.Context, id, renterID int64, now time.Time) (*model.Reservation, error) {
	return m.cancelFn(ctx, id, renterID, now)
}

// sweep methods, not exercised by the booking paths
func (m *rsvMock) MarkEndingNoticeSent(context.Context, time.Time, time.Time) ([]reservation.SweepItem, error) {
	return nil, nil
}
func (m *rsvMock) DetectOverstays(context.Context, time.Time, time.Time, time.Duration) ([]reservation.SweepItem, error) {
	return nil, nil
}
func (m *rsvMock) PromotePendingAction(context.Context, time.Time, time.Time) ([]reservation.SweepItem, error) {
	return nil, nil
}
func (m *rsvMock) ListCharging(context.Context, time.Time, time.Time) ([]reservation.ChargingRow, error) {
	return nil, nil
}
func (m *rsvMock) BumpCharge(context.Context, int64, int64) (int64, bool, error) {
	return 0, false, nil
}
func (m *rsvMock) CompleteClean(context.Context, time.Time, time.Time, time.Time) ([]reservation.SweepItem, error) {
	return nil, nil
}
func (m *rsvMock) ListOverstayCompletable(context.Context, time.Time, time.Time) ([]reservation.ChargingRow, error) {
	return nil, nil
}
func (m *rsvMock) CompleteOverstay(context.Context, int64, time.Time, string) (*reservation.SweepItem, bool, error) {
	return nil, false, nil
}

type holdsMock struct {
	liveFn   func(ctx context.Context, spotID int64, now time.Time) ([]model.Hold, error)
	claimed  []model.Hold
	released []string
}

func (m *holdsMock) Claim(ctx context.Context, spotID, requesterID int64, start, end time.Time, ttl time.Duration) (*model.Hold, error) {
	h := model.Hold{
		ID: "hold-1", SpotID: spotID, RequesterID: requesterID,
		StartAt: start, EndAt: end, ExpiresAt: start.Add(ttl),
	}
	m.claimed = append(m.claimed, h)
	return &h, nil
}
func (m *holdsMock) Live(ctx context.Context, spotID int64, now time.Time) ([]model.Hold, error) {
	if m.liveFn == nil {
		return nil, nil
	}
	return m.liveFn(ctx, spotID, now)
}
func (m *holdsMock) Release(ctx context.Context, spotID int64, holdID string) error {
	m.released = append(m.released, holdID)
	return nil
}

type payMock struct {
	chargeErr error
	charges   []payment.ChargeReq
	refunds   []int64
}

func (m *payMock) Charge(req payment.ChargeReq) (*payment.ChargeResp, error) {
	if m.chargeErr != nil {
		return nil, m.chargeErr
	}
	m.charges = append(m.charges, req)
	return &payment.ChargeResp{Ref: "pi_test"}, nil
}
func (m *payMock) Refund(ref string, cents int64) error {
	m.refunds = append(m.refunds, cents)
	return nil
}

type rtMock struct{ events []model.SpotEvent }

func (m *rtMock) Publish(ctx context.Context, ev model.SpotEvent) error {
	m.events = append(m.events, ev)
	return nil
}

func (m *rtMock) kinds() []string {
	var out []string
	for _, ev := range m.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	mock  sqlmock.Sqlmock
	spots *spotsMock
	rsv   *rsvMock
	holds *holdsMock
	pay   *payMock
	rt    *rtMock
	svc   *service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		mock:  mock,
		spots: &spotsMock{},
		rsv:   &rsvMock{},
		holds: &holdsMock{},
		pay:   &payMock{},
		rt:    &rtMock{},
	}
	f.spots.getFn = func(ctx context.Context, id int64) (*model.Spot, error) {
		if id != 1 {
			return nil, sql.ErrNoRows
		}
		return &model.Spot{ID: 1, OwnerID: 100, HourlyRateCents: 1000, OvertimeRateCents: 2500}, nil
	}
	f.spots.windowsFn = func(ctx context.Context, id int64) ([]model.AvailabilityWindow, error) {
		return weekAllDay(), nil
	}

	avail := availability.New(f.spots, f.rsv, f.holds)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = New(db, f.spots, f.rsv, f.holds, f.pay, f.rt, avail, log, 5*time.Minute).(*service)
	f.svc.now = func() time.Time { return at(9, 0) }
	return f
}

func TestCreateHold(t *testing.T) {
	t.Run("success publishes an event", func(t *testing.T) {
		f := newFixture(t)
		h, err := f.svc.CreateHold(context.Background(), 1, 7, at(10, 0), at(12, 0))
		require.NoError(t, err)
		require.Equal(t, "hold-1", h.ID)
		require.Equal(t, []string{model.EventHoldCreated}, f.rt.kinds())
	})

	t.Run("conflict claims nothing", func(t *testing.T) {
		f := newFixture(t)
		f.rsv.listLiveFn = func(ctx context.Context, spotID, exclude int64) ([]model.Reservation, error) {
			return []model.Reservation{{
				SpotID: 1, RenterID: 8, StartAt: at(11, 0), EndAt: at(13, 0),
				Status: model.ReservationPaid,
			}}, nil
		}
		_, err := f.svc.CreateHold(context.Background(), 1, 7, at(10, 0), at(12, 0))
		require.Equal(t, ErrConflict, Code(err))
		require.Empty(t, f.holds.claimed)
		require.Empty(t, f.rt.events)
	})

	t.Run("own live hold is not a conflict", func(t *testing.T) {
		f := newFixture(t)
		f.holds.liveFn = func(ctx context.Context, spotID int64, now time.Time) ([]model.Hold, error) {
			return []model.Hold{{ID: "mine", SpotID: 1, RequesterID: 7, StartAt: at(10, 0), EndAt: at(12, 0)}}, nil
		}
		_, err := f.svc.CreateHold(context.Background(), 1, 7, at(10, 0), at(12, 0))
		require.NoError(t, err)
	})

	t.Run("unknown spot", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CreateHold(context.Background(), 42, 7, at(10, 0), at(12, 0))
		require.Equal(t, ErrNotFound, Code(err))
	})

	t.Run("outside posted hours is an input error", func(t *testing.T) {
		f := newFixture(t)
		f.spots.windowsFn = func(ctx context.Context, id int64) ([]model.AvailabilityWindow, error) {
			return []model.AvailabilityWindow{
				{SpotID: 1, Weekday: time.Monday, OpenMinute: 8 * 60, CloseMinute: 18 * 60},
			}, nil
		}
		_, err := f.svc.CreateHold(context.Background(), 1, 7, at(17, 0), at(20, 0))
		require.Equal(t, ErrInvalidRange, Code(err))
		require.Empty(t, f.holds.claimed)
	})

	t.Run("inverted range", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CreateHold(context.Background(), 1, 7, at(12, 0), at(10, 0))
		require.Equal(t, ErrInvalidRange, Code(err))
	})
}

func createIn() CreateIn {
	return CreateIn{
		SpotID: 1, RenterID: 7,
		StartAt: at(10, 0), EndAt: at(12, 0),
		HoldID: "hold-1", VehicleRef: "7ABC123", PaymentMethodRef: "pm_card",
	}
}

func TestCreate(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		f := newFixture(t)
		f.rsv.countOverlappingFn = func(ctx context.Context, tx *sql.Tx, spotID int64, start, end time.Time, excludeID int64) (int, error) {
			return 0, nil
		}
		var inserted *model.Reservation
		f.rsv.insertFn = func(ctx context.Context, tx *sql.Tx, rsv *model.Reservation) (int64, error) {
			inserted = rsv
			return 42, nil
		}
		f.mock.ExpectBegin()
		f.mock.ExpectCommit()

		out, err := f.svc.Create(context.Background(), createIn())
		require.NoError(t, err)
		require.Equal(t, int64(42), out.ReservationID)
		require.Equal(t, "pi_test", out.PaymentRef)
		require.Equal(t, int64(2000), out.AmountCents, "two hours at $10/hr")

		require.Equal(t, model.ReservationPaid, inserted.Status)
		require.Equal(t, "pm_card", *inserted.PaymentMethodRef)
		require.Equal(t, []int64{1}, f.rsv.lockedSpots, "spot lock taken before the overlap check")
		require.Equal(t, []string{"hold-1"}, f.holds.released)
		require.Equal(t, []string{model.EventReservationCreated}, f.rt.kinds())
		require.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("partial hour rounds up", func(t *testing.T) {
		f := newFixture(t)
		f.rsv.countOverlappingFn = func(ctx context.Context, tx *sql.Tx, spotID int64, start, end time.Time, excludeID int64) (int, error) {
			return 0, nil
		}
		f.rsv.insertFn = func(ctx context.Context, tx *sql.Tx, rsv *model.Reservation) (int64, error) {
			return 43, nil
		}
		f.mock.ExpectBegin()
		f.mock.ExpectCommit()

		in := createIn()
		in.EndAt = at(11, 30)
		out, err := f.svc.Create(context.Background(), in)
		require.NoError(t, err)
		require.Equal(t, int64(2000), out.AmountCents, "90 minutes bills as two started hours")
	})

	t.Run("oracle conflict charges nothing", func(t *testing.T) {
		f := newFixture(t)
		f.rsv.listLiveFn = func(ctx context.Context, spotID, exclude int64) ([]model.Reservation, error) {
			return []model.Reservation{{
				SpotID: 1, RenterID: 8, StartAt: at(11, 0), EndAt: at(13, 0),
				Status: model.ReservationActive,
			}}, nil
		}
		_, err := f.svc.Create(context.Background(), createIn())
		require.Equal(t, ErrConflict, Code(err))
		require.Empty(t, f.pay.charges)
		require.NoError(t, f.mock.ExpectationsWereMet(), "no transaction was opened")
	})

	t.Run("outside posted hours is an input error, not a conflict", func(t *testing.T) {
		f := newFixture(t)
		f.spots.windowsFn = func(ctx context.Context, id int64) ([]model.AvailabilityWindow, error) {
			return []model.AvailabilityWindow{
				{SpotID: 1, Weekday: time.Monday, OpenMinute: 8 * 60, CloseMinute: 18 * 60},
			}, nil
		}
		in := createIn()
		in.StartAt, in.EndAt = at(17, 0), at(20, 0)
		_, err := f.svc.Create(context.Background(), in)
		require.Equal(t, ErrInvalidRange, Code(err))
		require.Empty(t, f.pay.charges)
	})

	t.Run("no stored payment method", func(t *testing.T) {
		f := newFixture(t)
		f.pay.chargeErr = payment.ErrNoPaymentMethod
		_, err := f.svc.Create(context.Background(), createIn())
		require.Equal(t, ErrPaymentRequired, Code(err))
	})

	t.Run("processor decline", func(t *testing.T) {
		f := newFixture(t)
		f.pay.chargeErr = sql.ErrConnDone
		_, err := f.svc.Create(context.Background(), createIn())
		require.Equal(t, ErrPaymentFailure, Code(err))
	})

	t.Run("commit race loser is refunded", func(t *testing.T) {
		// The oracle said yes, but by the time the spot lock is held a
		// competing reservation has landed.
		f := newFixture(t)
		f.rsv.countOverlappingFn = func(ctx context.Context, tx *sql.Tx, spotID int64, start, end time.Time, excludeID int64) (int, error) {
			return 1, nil
		}
		f.mock.ExpectBegin()
		f.mock.ExpectRollback()

		_, err := f.svc.Create(context.Background(), createIn())
		require.Equal(t, ErrConflict, Code(err))
		require.Equal(t, []int64{2000}, f.pay.refunds)
		require.Empty(t, f.rt.events)
		require.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("exclusion constraint backstop", func(t *testing.T) {
		f := newFixture(t)
		f.rsv.countOverlappingFn = func(ctx context.Context, tx *sql.Tx, spotID int64, start, end time.Time, excludeID int64) (int, error) {
			return 0, nil
		}
		f.rsv.insertFn = func(ctx context.Context, tx *sql.Tx, rsv *model.Reservation) (int64, error) {
			return 0, &pgconn.PgError{Code: pgerrcode.ExclusionViolation}
		}
		f.mock.ExpectBegin()
		f.mock.ExpectRollback()

		_, err := f.svc.Create(context.Background(), createIn())
		require.Equal(t, ErrConflict, Code(err))
		require.Equal(t, []int64{2000}, f.pay.refunds)
	})
}

func paidReservation() *model.Reservation {
	method := "pm_card"
	return &model.Reservation{
		ID: 42, SpotID: 1, RenterID: 7,
		StartAt: at(10, 0), EndAt: at(12, 0),
		Status: model.ReservationPaid, AmountCents: 2000, PaymentMethodRef: &method,
	}
}

func TestExtend(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		f := newFixture(t)
		f.rsv.getFn = func(ctx context.Context, id int64) (*model.Reservation, error) {
			return paidReservation(), nil
		}
		f.rsv.getForUpdateFn = func(ctx context.Context, tx *sql.Tx, id int64) (*model.Reservation, error) {
			return paidReservation(), nil
		}
		f.rsv.countOverlappingFn = func(ctx context.Context, tx *sql.Tx, spotID int64, start, end time.Time, excludeID int64) (int, error) {
			require.Equal(t, at(12, 0), start, "only the added window is re-checked")
			require.Equal(t, at(14, 0), end)
			require.Equal(t, int64(42), excludeID)
			return 0, nil
		}
		var gotEnd time.Time
		var gotCents int64
		f.rsv.extendWindowFn = func(ctx context.Context, tx *sql.Tx, id int64, newEnd time.Time, addCents int64) error {
			gotEnd, gotCents = newEnd, addCents
			return nil
		}
		f.mock.ExpectBegin()
		f.mock.ExpectCommit()

		out, err := f.svc.Extend(context.Background(), 42, 7, 2, "")
		require.NoError(t, err)
		require.Equal(t, at(14, 0), out.NewEndAt)
		require.Equal(t, int64(2000), out.ChargedCents)
		require.Equal(t, at(14, 0), gotEnd)
		require.Equal(t, int64(2000), gotCents)
		require.Equal(t, "pm_card", f.pay.charges[0].MethodRef, "falls back to the stored method")
		require.Equal(t, []string{model.EventReservationExtended}, f.rt.kinds())
	})

	t.Run("non-positive hours", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Extend(context.Background(), 42, 7, 0, "")
		require.Equal(t, ErrInvalidRange, Code(err))
	})

	t.Run("someone else's reservation looks like not found", func(t *testing.T) {
		f := newFixture(t)
		f.rsv.getFn = func(ctx context.Context, id int64) (*model.Reservation, error) {
			return paidReservation(), nil
		}
		_, err := f.svc.Extend(context.Background(), 42, 99, 2, "")
		require.Equal(t, ErrNotFound, Code(err))
	})

	t.Run("outside posted hours is an input error and charges nothing", func(t *testing.T) {
		f := newFixture(t)
		f.rsv.getFn = func(ctx context.Context, id int64) (*model.Reservation, error) {
			return paidReservation(), nil
		}
		f.spots.windowsFn = func(ctx context.Context, id int64) ([]model.AvailabilityWindow, error) {
			return []model.AvailabilityWindow{
				{SpotID: 1, Weekday: time.Monday, OpenMinute: 8 * 60, CloseMinute: 13 * 60},
			}, nil
		}
		_, err := f.svc.Extend(context.Background(), 42, 7, 2, "")
		require.Equal(t, ErrInvalidRange, Code(err))
		require.Empty(t, f.pay.charges)
	})

	t.Run("back-to-back conflict is refunded", func(t *testing.T) {
		f := newFixture(t)
		f.rsv.getFn = func(ctx context.Context, id int64) (*model.Reservation, error) {
			return paidReservation(), nil
		}
		f.rsv.getForUpdateFn = func(ctx context.Context, tx *sql.Tx, id int64) (*model.Reservation, error) {
			return paidReservation(), nil
		}
		f.rsv.countOverlappingFn = func(ctx context.Context, tx *sql.Tx, spotID int64, start, end time.Time, excludeID int64) (int, error) {
			return 1, nil
		}
		f.mock.ExpectBegin()
		f.mock.ExpectRollback()

		_, err := f.svc.Extend(context.Background(), 42, 7, 2, "")
		require.Equal(t, ErrConflict, Code(err))
		require.Equal(t, []int64{2000}, f.pay.refunds)
		require.NoError(t, f.mock.ExpectationsWereMet())
	})
}

func TestConfirmDeparture(t *testing.T) {
	t.Run("records the timestamp", func(t *testing.T) {
		f := newFixture(t)
		f.rsv.confirmDepartureFn = func(ctx context.Context, id, renterID int64, now time.Time) (int64, error) {
			require.Equal(t, at(9, 0), now)
			return 1, nil
		}
		require.NoError(t, f.svc.ConfirmDeparture(context.Background(), 42, 7))
	})

	t.Run("repeat confirmation is acknowledged", func(t *testing.T) {
		f := newFixture(t)
		f.rsv.confirmDepartureFn = func(ctx context.Context, id, renterID int64, now time.Time) (int64, error) {
			return 0, nil
		}
		f.rsv.getFn = func(ctx context.Context, id int64) (*model.Reservation, error) {
			r := paidReservation()
			dep := at(8, 30)
			r.DepartedAt = &dep
			return r, nil
		}
		require.NoError(t, f.svc.ConfirmDeparture(context.Background(), 42, 7))
	})

	t.Run("unknown reservation", func(t *testing.T) {
		f := newFixture(t)
		f.rsv.confirmDepartureFn = func(ctx context.Context, id, renterID int64, now time.Time) (int64, error) {
			return 0, nil
		}
		f.rsv.getFn = func(ctx context.Context, id int64) (*model.Reservation, error) {
			return nil, sql.ErrNoRows
		}
		err := f.svc.ConfirmDeparture(context.Background(), 42, 7)
		require.Equal(t, ErrNotFound, Code(err))
	})
}

func TestCancel(t *testing.T) {
	t.Run("refunds and broadcasts", func(t *testing.T) {
		f := newFixture(t)
		f.rsv.cancelFn = func(ctx context.Context, id, renterID int64, now time.Time) (*model.Reservation, error) {
			r := paidReservation()
			ref := "pi_test"
			r.Status, r.PaymentRef = model.ReservationCanceled, &ref
			return r, nil
		}
		require.NoError(t, f.svc.Cancel(context.Background(), 42, 7))
		require.Equal(t, []int64{2000}, f.pay.refunds)
		require.Equal(t, []string{model.EventReservationCanceled}, f.rt.kinds())
	})

	t.Run("already started", func(t *testing.T) {
		f := newFixture(t)
		f.rsv.cancelFn = func(ctx context.Context, id, renterID int64, now time.Time) (*model.Reservation, error) {
			return nil, sql.ErrNoRows
		}
		f.rsv.getFn = func(ctx context.Context, id int64) (*model.Reservation, error) {
			r := paidReservation()
			r.Status = model.ReservationActive
			return r, nil
		}
		err := f.svc.Cancel(context.Background(), 42, 7)
		require.Equal(t, ErrPrecondition, Code(err))
		require.Empty(t, f.pay.refunds)
	})

	t.Run("unknown reservation", func(t *testing.T) {
		f := newFixture(t)
		f.rsv.cancelFn = func(ctx context.Context, id, renterID int64, now time.Time) (*model.Reservation, error) {
			return nil, sql.ErrNoRows
		}
		f.rsv.getFn = func(ctx context.Context, id int64) (*model.Reservation, error) {
			return nil, sql.ErrNoRows
		}
		err := f.svc.Cancel(context.Background(), 42, 7)
		require.Equal(t, ErrNotFound, Code(err))
	})
}
