package overstay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MiladFarazian/park-and-sync-sub004/model"
	"github.com/MiladFarazian/park-and-sync-sub004/repository/payment"
	"github.com/MiladFarazian/park-and-sync-sub004/repository/reservation"
	"github.com/MiladFarazian/park-and-sync-sub004/repository/spot"
)

const (
	// GracePeriod is the free window after a detected overstay.
	GracePeriod = 10 * time.Minute
	// EndingSoonHorizon is how far ahead the reminder notice looks.
	EndingSoonHorizon = 15 * time.Minute
	// CleanCompleteAfter is how long past end_at a reservation with no
	// overstay is finalized.
	CleanCompleteAfter = 15 * time.Minute
	// OverstayCompleteAfter is how long past end_at a charging overstay
	// is forced closed.
	OverstayCompleteAfter = 30 * time.Minute
	// Lookback bounds every sweep query so stale rows are never resurrected.
	Lookback = 24 * time.Hour
)

// errors used by controllers

type ErrCode string

const (
	ErrNotFound     ErrCode = "NOT_FOUND"
	ErrNotOwner     ErrCode = "NOT_OWNER"
	ErrPrecondition ErrCode = "PRECONDITION_FAILED"
)

type codedError struct{ code ErrCode }

func (e codedError) Error() string { return string(e.code) }
func (e codedError) Code() ErrCode { return e.code }
func makeErr(c ErrCode) error      { return codedError{code: c} }

func Code(err error) ErrCode {
	var ce interface{ Code() ErrCode }
	if errors.As(err, &ce) {
		return ce.Code()
	}
	return ""
}

// Notifier is the fire-and-forget delivery queue; failures are logged
// and never abort a sweep stage.
type Notifier interface {
	Send(ctx context.Context, userID int64, kind, title, body string) error
}

// Report counts the items each sweep stage touched.
type Report struct {
	EndingSoon        int `json:"ending_soon"`
	Detected          int `json:"detected"`
	ActionPending     int `json:"action_pending"`
	Charged           int `json:"charged"`
	CompletedClean    int `json:"completed_clean"`
	CompletedOverstay int `json:"completed_overstay"`
}

type Service interface {
	// RunSweep advances every reservation whose temporal state warrants
	// inspection. Each stage is guarded by a conditional update, so
	// overlapping runs converge on the same end state.
	RunSweep(ctx context.Context, now time.Time) (Report, error)

	// SetAction records the owner's chosen response once grace has ended.
	SetAction(ctx context.Context, reservationID, ownerID int64, action model.OverstayAction, now time.Time) error
}

type service struct {
	db    *sql.DB
	rsv   reservation.Repo
	spots spot.Repo
	pay   payment.Repo
	nf    Notifier
	log   *slog.Logger
}

func New(db *sql.DB, rsv reservation.Repo, spots spot.Repo, pay payment.Repo, nf Notifier, log *slog.Logger) Service {
	return &service{db: db, rsv: rsv, spots: spots, pay: pay, nf: nf, log: log}
}

func (s *service) RunSweep(ctx context.Context, now time.Time) (Report, error) {
	var rep Report
	oldest := now.Add(-Lookback)

	var firstErr error
	keep := func(stage string, err error) {
		s.log.Error("sweep stage failed", "stage", stage, "err", err)
		if firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", stage, err)
		}
	}

	if n, err := s.stageEndingSoon(ctx, now); err != nil {
		keep("ending_soon", err)
	} else {
		rep.EndingSoon = n
	}
	if n, err := s.stageDetect(ctx, now); err != nil {
		keep("detect", err)
	} else {
		rep.Detected = n
	}
	if n, err := s.stagePendingAction(ctx, now, oldest); err != nil {
		keep("pending_action", err)
	} else {
		rep.ActionPending = n
	}
	if n, err := s.stageCharge(ctx, now, oldest); err != nil {
		keep("charge", err)
	} else {
		rep.Charged = n
	}
	if n, err := s.stageCompleteClean(ctx, now, oldest); err != nil {
		keep("complete_clean", err)
	} else {
		rep.CompletedClean = n
	}
	if n, err := s.stageCompleteOverstay(ctx, now, oldest); err != nil {
		keep("complete_overstay", err)
	} else {
		rep.CompletedOverstay = n
	}

	return rep, firstErr
}

func (s *service) stageEndingSoon(ctx context.Context, now time.Time) (int, error) {
	items, err := s.rsv.MarkEndingNoticeSent(ctx, now, now.Add(EndingSoonHorizon))
	if err != nil {
		return 0, err
	}
	for _, it := range items {
		s.notify(ctx, it.RenterID, model.NotifyEndingSoon,
			"Your parking ends soon",
			fmt.Sprintf("Your reservation ends at %s. Extend it or move your car.", it.EndAt.Format(time.Kitchen)))
	}
	return len(items), nil
}

func (s *service) stageDetect(ctx context.Context, now time.Time) (int, error) {
	// Detection only applies while the end is fresher than the clean
	// completion buffer; anything older with no overstay on record is the
	// completion stage's business, not a new overstay.
	items, err := s.rsv.DetectOverstays(ctx, now, now.Add(-CleanCompleteAfter), GracePeriod)
	if err != nil {
		return 0, err
	}
	for _, it := range items {
		grace := "a few minutes"
		if it.GraceEnd != nil {
			grace = it.GraceEnd.Format(time.Kitchen)
		}
		s.notify(ctx, it.RenterID, model.NotifyOverstayRenter,
			"Your parking time is up",
			fmt.Sprintf("Move your car by %s to avoid overtime charges.", grace))
		s.notify(ctx, it.OwnerID, model.NotifyOverstayOwner,
			"A car is still in your spot",
			"The reservation has ended but the car has not left yet.")
	}
	return len(items), nil
}

func (s *service) stagePendingAction(ctx context.Context, now, oldest time.Time) (int, error) {
	items, err := s.rsv.PromotePendingAction(ctx, now, oldest)
	if err != nil {
		return 0, err
	}
	for _, it := range items {
		s.notify(ctx, it.OwnerID, model.NotifyActionNeeded,
			"Choose what to do about the overstay",
			"The grace period ended. You can start overtime charges or request a tow.")
		s.notify(ctx, it.RenterID, model.NotifyActionNeeded,
			"Grace period over",
			"The spot owner can now charge overtime or request a tow.")
	}
	return len(items), nil
}

func (s *service) stageCharge(ctx context.Context, now, oldest time.Time) (int, error) {
	rows, err := s.rsv.ListCharging(ctx, now, oldest)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, row := range rows {
		asOf := billableUntil(now, row.DepartedAt)
		next := OvertimeCharge(row.GraceEnd, asOf, row.OvertimeRateCents)
		if next <= row.ChargeCents {
			continue
		}
		prev, ok, err := s.rsv.BumpCharge(ctx, row.ID, next)
		if err != nil {
			s.log.Error("charge update failed", "reservation_id", row.ID, "err", err)
			continue
		}
		if !ok {
			continue // a concurrent sweep got there first
		}
		updated++
		if chargedHours(next, row.OvertimeRateCents) > chargedHours(prev, row.OvertimeRateCents) {
			s.notify(ctx, row.RenterID, model.NotifyChargeUpdated,
				"Overtime charge increased",
				fmt.Sprintf("Your overtime charge is now $%.2f.", float64(next)/100))
		}
	}
	return updated, nil
}

func (s *service) stageCompleteClean(ctx context.Context, now, oldest time.Time) (int, error) {
	items, err := s.rsv.CompleteClean(ctx, now.Add(-CleanCompleteAfter), oldest, now)
	if err != nil {
		return 0, err
	}
	for _, it := range items {
		s.notify(ctx, it.RenterID, model.NotifyCompleted,
			"Reservation complete", "Thanks for parking with us.")
		s.notify(ctx, it.OwnerID, model.NotifyCompleted,
			"Reservation complete", "Your spot is free again.")
	}
	return len(items), nil
}

func (s *service) stageCompleteOverstay(ctx context.Context, now, oldest time.Time) (int, error) {
	rows, err := s.rsv.ListOverstayCompletable(ctx, now.Add(-OverstayCompleteAfter), oldest)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, row := range rows {
		// A towed reservation closes without an overtime bill; only the
		// charging escalation accrues and captures.
		final := row.ChargeCents
		if row.Action == model.OverstayCharging {
			asOf := billableUntil(now, row.DepartedAt)
			if computed := OvertimeCharge(row.GraceEnd, asOf, row.OvertimeRateCents); computed > final {
				final = computed
			}
			if _, _, err := s.rsv.BumpCharge(ctx, row.ID, final); err != nil {
				s.log.Error("final charge update failed", "reservation_id", row.ID, "err", err)
				continue
			}
		}

		ref := ""
		if final > 0 {
			method := ""
			if row.PaymentMethodRef != nil {
				method = *row.PaymentMethodRef
			}
			// Deterministic idempotency key: racing sweeps that both reach
			// the processor still produce a single capture.
			charge, err := s.pay.Charge(payment.ChargeReq{
				AmountCents:    final,
				MethodRef:      method,
				Description:    fmt.Sprintf("overtime for reservation %d", row.ID),
				IdempotencyKey: fmt.Sprintf("overstay-final-%d", row.ID),
			})
			if err != nil {
				// Guard still matches next run; retry there.
				s.log.Error("overtime capture failed", "reservation_id", row.ID, "amount_cents", final, "err", err)
				continue
			}
			ref = charge.Ref
		}

		it, won, err := s.rsv.CompleteOverstay(ctx, row.ID, now, ref)
		if err != nil {
			s.log.Error("overstay completion failed", "reservation_id", row.ID, "err", err)
			continue
		}
		if !won {
			continue
		}
		done++
		if row.Action == model.OverstayTowing {
			s.notify(ctx, it.RenterID, model.NotifyOverstayClosed,
				"Reservation closed",
				"The reservation was closed after a tow was requested.")
			s.notify(ctx, it.OwnerID, model.NotifyOverstayClosed,
				"Overstay resolved",
				"The towed reservation is closed and your spot is free again.")
			continue
		}
		s.notify(ctx, it.RenterID, model.NotifyOverstayClosed,
			"Reservation closed",
			fmt.Sprintf("Final overtime charge: $%.2f.", float64(final)/100))
		s.notify(ctx, it.OwnerID, model.NotifyOverstayClosed,
			"Overstay resolved",
			fmt.Sprintf("The reservation was closed with $%.2f in overtime charges.", float64(final)/100))
	}
	return done, nil
}

func (s *service) SetAction(ctx context.Context, reservationID, ownerID int64, action model.OverstayAction, now time.Time) (err error) {
	if action != model.OverstayCharging && action != model.OverstayTowing {
		return makeErr(ErrPrecondition)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rsv, err := s.rsv.GetForUpdate(ctx, tx, reservationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return makeErr(ErrNotFound)
		}
		return err
	}
	sp, err := s.spots.Get(ctx, rsv.SpotID)
	if err != nil {
		return err
	}
	if sp.OwnerID != ownerID {
		return makeErr(ErrNotOwner)
	}
	if !rsv.Status.Live() {
		return makeErr(ErrPrecondition)
	}
	if rsv.OverstayDetectedAt == nil || rsv.OverstayGraceEnd == nil || rsv.OverstayGraceEnd.After(now) {
		return makeErr(ErrPrecondition)
	}
	if rsv.OverstayAction != nil && *rsv.OverstayAction == action {
		return tx.Commit() // idempotent repeat
	}
	if rsv.OverstayAction != nil && *rsv.OverstayAction != model.OverstayPendingAction {
		return makeErr(ErrPrecondition)
	}

	if err = s.rsv.SetAction(ctx, tx, reservationID, action); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return err
	}

	switch action {
	case model.OverstayCharging:
		s.notify(ctx, rsv.RenterID, model.NotifyChargeUpdated,
			"Overtime billing started",
			"The spot owner started overtime charges. Move your car to stop them.")
	case model.OverstayTowing:
		s.notify(ctx, rsv.RenterID, model.NotifyTowingRequested,
			"Tow requested",
			"The spot owner requested a tow. Move your car immediately.")
		s.notify(ctx, sp.OwnerID, model.NotifyTowingRequested,
			"Tow requested", "A tow has been dispatched for the overstaying vehicle.")
	}
	return nil
}

func (s *service) notify(ctx context.Context, userID int64, kind, title, body string) {
	if err := s.nf.Send(ctx, userID, kind, title, body); err != nil {
		s.log.Warn("notification publish failed", "user_id", userID, "kind", kind, "err", err)
	}
}

// billableUntil caps overtime accrual at the confirmed departure time.
func billableUntil(now time.Time, departed *time.Time) time.Time {
	if departed != nil && departed.Before(now) {
		return *departed
	}
	return now
}
