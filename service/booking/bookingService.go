package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MiladFarazian/park-and-sync-sub004/model"
	"github.com/MiladFarazian/park-and-sync-sub004/repository/hold"
	"github.com/MiladFarazian/park-and-sync-sub004/repository/payment"
	"github.com/MiladFarazian/park-and-sync-sub004/repository/realtime"
	"github.com/MiladFarazian/park-and-sync-sub004/repository/reservation"
	"github.com/MiladFarazian/park-and-sync-sub004/repository/spot"
	"github.com/MiladFarazian/park-and-sync-sub004/service/availability"
)

// errors used by controllers

type ErrCode string

const (
	ErrConflict        ErrCode = "AVAILABILITY_CONFLICT"
	ErrInvalidRange    ErrCode = "INVALID_TIME_RANGE"
	ErrNotFound        ErrCode = "NOT_FOUND"
	ErrNotOwner        ErrCode = "NOT_OWNER"
	ErrPaymentRequired ErrCode = "PAYMENT_REQUIRED"
	ErrPaymentFailure  ErrCode = "PAYMENT_FAILURE"
	ErrPrecondition    ErrCode = "PRECONDITION_FAILED"
)

type codedError struct {
	code   ErrCode
	reason string
}

func (e codedError) Error() string {
	if e.reason != "" {
		return string(e.code) + ": " + e.reason
	}
	return string(e.code)
}
func (e codedError) Code() ErrCode           { return e.code }
func makeErr(c ErrCode, reason string) error { return codedError{code: c, reason: reason} }

// Code extracts an error code, or "" for infrastructure errors.
func Code(err error) ErrCode {
	var ce interface{ Code() ErrCode }
	if errors.As(err, &ce) {
		return ce.Code()
	}
	return ""
}

// Reason returns the human-readable part of a coded error.
func Reason(err error) string {
	var ce codedError
	if errors.As(err, &ce) {
		return ce.reason
	}
	return ""
}

// dto

type CreateIn struct {
	SpotID           int64
	RenterID         int64
	StartAt          time.Time
	EndAt            time.Time
	HoldID           string
	VehicleRef       string
	PaymentMethodRef string
}

type Created struct {
	ReservationID int64
	PaymentRef    string
	AmountCents   int64
}

type Extended struct {
	NewEndAt     time.Time
	ChargedCents int64
}

type Service interface {
	// CreateHold places an advisory claim on the window. No storage write
	// happens on conflict.
	CreateHold(ctx context.Context, spotID, requesterID int64, start, end time.Time) (*model.Hold, error)

	// Create is the authoritative commit: availability is re-derived from
	// reservation rows inside the transaction, never from the hold.
	Create(ctx context.Context, in CreateIn) (*Created, error)

	Extend(ctx context.Context, reservationID, renterID int64, additionalHours int, methodRef string) (*Extended, error)
	ConfirmDeparture(ctx context.Context, reservationID, renterID int64) error
	Cancel(ctx context.Context, reservationID, renterID int64) error
}

type service struct {
	db      *sql.DB
	spots   spot.Repo
	rsv     reservation.Repo
	holds   hold.Repo
	pay     payment.Repo
	rt      realtime.Publisher
	avail   availability.Service
	log     *slog.Logger
	holdTTL time.Duration
	now     func() time.Time
}

func New(db *sql.DB, spots spot.Repo, rsv reservation.Repo, holds hold.Repo,
	pay payment.Repo, rt realtime.Publisher, avail availability.Service,
	log *slog.Logger, holdTTL time.Duration) Service {
	return &service{
		db: db, spots: spots, rsv: rsv, holds: holds,
		pay: pay, rt: rt, avail: avail, log: log,
		holdTTL: holdTTL,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *service) CreateHold(ctx context.Context, spotID, requesterID int64, start, end time.Time) (*model.Hold, error) {
	now := s.now()
	if _, err := s.spots.Get(ctx, spotID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, makeErr(ErrNotFound, "spot not found")
		}
		return nil, err
	}

	res, err := s.avail.Check(ctx, spotID, start, end, requesterID, now)
	if err != nil {
		if errors.Is(err, availability.ErrInvalidRange) {
			return nil, makeErr(ErrInvalidRange, "end must be after start")
		}
		return nil, err
	}
	if !res.Available {
		return nil, unavailableErr(res)
	}

	h, err := s.holds.Claim(ctx, spotID, requesterID, start, end, s.holdTTL)
	if err != nil {
		return nil, fmt.Errorf("claim hold: %w", err)
	}

	s.broadcast(ctx, model.SpotEvent{
		Type: model.EventHoldCreated, SpotID: spotID, RequesterID: requesterID,
		StartAt: start, EndAt: end, At: now,
	})
	return h, nil
}

func (s *service) Create(ctx context.Context, in CreateIn) (*Created, error) {
	now := s.now()

	sp, err := s.spots.Get(ctx, in.SpotID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, makeErr(ErrNotFound, "spot not found")
		}
		return nil, err
	}

	// Fail fast before touching the processor; the transactional re-check
	// below remains the only authoritative gate.
	res, err := s.avail.Check(ctx, in.SpotID, in.StartAt, in.EndAt, in.RenterID, now)
	if err != nil {
		if errors.Is(err, availability.ErrInvalidRange) {
			return nil, makeErr(ErrInvalidRange, "end must be after start")
		}
		return nil, err
	}
	if !res.Available {
		return nil, unavailableErr(res)
	}

	amount := hoursCents(in.StartAt, in.EndAt, sp.HourlyRateCents)
	charge, err := s.pay.Charge(payment.ChargeReq{
		AmountCents:    amount,
		MethodRef:      in.PaymentMethodRef,
		Description:    fmt.Sprintf("parking spot %d", in.SpotID),
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		if errors.Is(err, payment.ErrNoPaymentMethod) {
			return nil, makeErr(ErrPaymentRequired, "a stored payment method is required")
		}
		return nil, makeErr(ErrPaymentFailure, "payment was not accepted, try another method")
	}

	id, err := s.commit(ctx, in, charge.Ref, amount)
	if err != nil {
		if refundErr := s.pay.Refund(charge.Ref, amount); refundErr != nil {
			s.log.Error("refund after aborted commit failed", "payment_ref", charge.Ref, "err", refundErr)
		}
		return nil, err
	}

	if in.HoldID != "" {
		if err := s.holds.Release(ctx, in.SpotID, in.HoldID); err != nil {
			s.log.Warn("hold release failed", "hold_id", in.HoldID, "err", err)
		}
	}
	s.broadcast(ctx, model.SpotEvent{
		Type: model.EventReservationCreated, SpotID: in.SpotID, RequesterID: in.RenterID,
		StartAt: in.StartAt, EndAt: in.EndAt, At: now,
	})

	return &Created{ReservationID: id, PaymentRef: charge.Ref, AmountCents: amount}, nil
}

// commit holds the spot row lock while it re-checks overlap against
// committed reservations and inserts. Two concurrent commits for the
// same spot serialize here; the loser sees the winner's row.
func (s *service) commit(ctx context.Context, in CreateIn, paymentRef string, amount int64) (_ int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.rsv.LockSpot(ctx, tx, in.SpotID); err != nil {
		return 0, err
	}
	n, err := s.rsv.CountOverlapping(ctx, tx, in.SpotID, in.StartAt, in.EndAt, 0)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, makeErr(ErrConflict, "the slot was booked while you were checking out")
	}

	id, err := s.rsv.Insert(ctx, tx, &model.Reservation{
		SpotID:           in.SpotID,
		RenterID:         in.RenterID,
		VehicleRef:       in.VehicleRef,
		StartAt:          in.StartAt,
		EndAt:            in.EndAt,
		Status:           model.ReservationPaid,
		AmountCents:      amount,
		PaymentRef:       &paymentRef,
		PaymentMethodRef: &in.PaymentMethodRef,
	})
	if err != nil {
		if isOverlapViolation(err) {
			return 0, makeErr(ErrConflict, "the slot was booked while you were checking out")
		}
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *service) Extend(ctx context.Context, reservationID, renterID int64, additionalHours int, methodRef string) (*Extended, error) {
	if additionalHours <= 0 {
		return nil, makeErr(ErrInvalidRange, "additional hours must be positive")
	}
	now := s.now()

	rsv, err := s.rsv.Get(ctx, reservationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, makeErr(ErrNotFound, "reservation not found")
		}
		return nil, err
	}
	if rsv.RenterID != renterID {
		return nil, makeErr(ErrNotFound, "reservation not found")
	}
	if !rsv.Status.Live() {
		return nil, makeErr(ErrPrecondition, "reservation is no longer active")
	}

	sp, err := s.spots.Get(ctx, rsv.SpotID)
	if err != nil {
		return nil, err
	}
	newEnd := rsv.EndAt.Add(time.Duration(additionalHours) * time.Hour)

	windows, err := s.spots.Windows(ctx, rsv.SpotID)
	if err != nil {
		return nil, err
	}
	if !availability.WithinSchedule(rsv.EndAt, newEnd, windows) {
		return nil, makeErr(ErrInvalidRange, "the extension runs outside the spot's posted hours")
	}

	if methodRef == "" && rsv.PaymentMethodRef != nil {
		methodRef = *rsv.PaymentMethodRef
	}
	cost := int64(additionalHours) * sp.HourlyRateCents
	charge, err := s.pay.Charge(payment.ChargeReq{
		AmountCents:    cost,
		MethodRef:      methodRef,
		Description:    fmt.Sprintf("extension of reservation %d", reservationID),
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		if errors.Is(err, payment.ErrNoPaymentMethod) {
			return nil, makeErr(ErrPaymentRequired, "a stored payment method is required")
		}
		return nil, makeErr(ErrPaymentFailure, "payment was not accepted, try another method")
	}

	if err := s.commitExtend(ctx, rsv, newEnd, cost); err != nil {
		if refundErr := s.pay.Refund(charge.Ref, cost); refundErr != nil {
			s.log.Error("refund after aborted extension failed", "payment_ref", charge.Ref, "err", refundErr)
		}
		return nil, err
	}

	s.broadcast(ctx, model.SpotEvent{
		Type: model.EventReservationExtended, SpotID: rsv.SpotID, RequesterID: renterID,
		StartAt: rsv.EndAt, EndAt: newEnd, At: now,
	})
	return &Extended{NewEndAt: newEnd, ChargedCents: cost}, nil
}

func (s *service) commitExtend(ctx context.Context, rsv *model.Reservation, newEnd time.Time, cost int64) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// Same lock order as Create: spot row first, then the reservation.
	if err = s.rsv.LockSpot(ctx, tx, rsv.SpotID); err != nil {
		return err
	}
	cur, err := s.rsv.GetForUpdate(ctx, tx, rsv.ID)
	if err != nil {
		return err
	}
	if !cur.Status.Live() {
		return makeErr(ErrPrecondition, "reservation is no longer active")
	}
	n, err := s.rsv.CountOverlapping(ctx, tx, rsv.SpotID, cur.EndAt, newEnd, rsv.ID)
	if err != nil {
		return err
	}
	if n > 0 {
		return makeErr(ErrConflict, "the next slot is already reserved")
	}
	if err = s.rsv.ExtendWindow(ctx, tx, rsv.ID, newEnd, cost); err != nil {
		if isOverlapViolation(err) {
			return makeErr(ErrConflict, "the next slot is already reserved")
		}
		return err
	}
	return tx.Commit()
}

func (s *service) ConfirmDeparture(ctx context.Context, reservationID, renterID int64) error {
	now := s.now()
	n, err := s.rsv.ConfirmDeparture(ctx, reservationID, renterID, now)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	rsv, err := s.rsv.Get(ctx, reservationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return makeErr(ErrNotFound, "reservation not found")
		}
		return err
	}
	if rsv.RenterID != renterID {
		return makeErr(ErrNotFound, "reservation not found")
	}
	if rsv.DepartedAt != nil {
		return nil // already confirmed, acknowledge again
	}
	return makeErr(ErrNotFound, "reservation not found")
}

func (s *service) Cancel(ctx context.Context, reservationID, renterID int64) error {
	now := s.now()
	rsv, err := s.rsv.Cancel(ctx, reservationID, renterID, now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s.explainCancelFailure(ctx, reservationID, renterID)
		}
		return err
	}

	if rsv.PaymentRef != nil {
		if err := s.pay.Refund(*rsv.PaymentRef, rsv.AmountCents); err != nil {
			s.log.Error("cancellation refund failed", "reservation_id", reservationID, "err", err)
			return makeErr(ErrPaymentFailure, "cancellation recorded, refund pending")
		}
	}
	s.broadcast(ctx, model.SpotEvent{
		Type: model.EventReservationCanceled, SpotID: rsv.SpotID, RequesterID: renterID,
		StartAt: rsv.StartAt, EndAt: rsv.EndAt, At: now,
	})
	return nil
}

func (s *service) explainCancelFailure(ctx context.Context, reservationID, renterID int64) error {
	rsv, err := s.rsv.Get(ctx, reservationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return makeErr(ErrNotFound, "reservation not found")
		}
		return err
	}
	if rsv.RenterID != renterID {
		return makeErr(ErrNotFound, "reservation not found")
	}
	return makeErr(ErrPrecondition, "reservation can no longer be canceled")
}

// unavailableErr turns an oracle verdict into a coded error. A window
// outside the posted schedule is bad caller input; everything else is a
// genuine booking conflict.
func unavailableErr(res availability.Result) error {
	if res.Cause == availability.CauseOutsideSchedule {
		return makeErr(ErrInvalidRange, res.Reason)
	}
	return makeErr(ErrConflict, res.Reason)
}

func (s *service) broadcast(ctx context.Context, ev model.SpotEvent) {
	if err := s.rt.Publish(ctx, ev); err != nil {
		s.log.Warn("realtime publish failed", "spot_id", ev.SpotID, "type", ev.Type, "err", err)
	}
}

// hoursCents prices a window at whole hours started.
func hoursCents(start, end time.Time, rateCents int64) int64 {
	d := end.Sub(start)
	hours := int64((d + time.Hour - 1) / time.Hour)
	return hours * rateCents
}

func isOverlapViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.ExclusionViolation || pgErr.Code == pgerrcode.UniqueViolation
	}
	return false
}
