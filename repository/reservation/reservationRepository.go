// repository/reservation/repo.go
package reservation

import (
	"context"
	"database/sql"
	"time"

	"github.com/MiladFarazian/park-and-sync-sub004/model"
)

// SweepItem is one reservation touched by a sweep stage, with the ids
// needed to notify both parties.
type SweepItem struct {
	ID       int64
	SpotID   int64
	RenterID int64
	OwnerID  int64
	EndAt    time.Time
	GraceEnd *time.Time
}

// ChargingRow is a reservation in a post-grace escalation (charging or
// towing) with everything billing and completion need.
type ChargingRow struct {
	ID                int64
	SpotID            int64
	RenterID          int64
	OwnerID           int64
	EndAt             time.Time
	GraceEnd          time.Time
	DepartedAt        *time.Time
	Action            model.OverstayAction
	ChargeCents       int64
	OvertimeRateCents int64
	PaymentMethodRef  *string
}

type Repo interface {
	Get(ctx context.Context, id int64) (*model.Reservation, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*model.Reservation, error)

	// Booking path. LockSpot is the per-spot commit mutex; CountOverlapping
	// and Insert must run under it, in the same transaction.
	ListLive(ctx context.Context, spotID, excludeRenter int64) ([]model.Reservation, error)
	LockSpot(ctx context.Context, tx *sql.Tx, spotID int64) error
	CountOverlapping(ctx context.Context, tx *sql.Tx, spotID int64, start, end time.Time, excludeID int64) (int, error)
	Insert(ctx context.Context, tx *sql.Tx, rsv *model.Reservation) (int64, error)

	// Renter/owner actions.
	ConfirmDeparture(ctx context.Context, id, renterID int64, now time.Time) (int64, error)
	SetAction(ctx context.Context, tx *sql.Tx, id int64, action model.OverstayAction) error
	ExtendWindow(ctx context.Context, tx *sql.Tx, id int64, newEnd time.Time, addCents int64) error
	Cancel(ctx context.Context, id, renterID int64, now time.Time) (*model.Reservation, error)

	// Sweep stages. Every mutation is a conditional update whose WHERE
	// clause is the idempotency guard, so overlapping sweep runs converge.
	MarkEndingNoticeSent(ctx context.Context, now, horizon time.Time) ([]SweepItem, error)
	DetectOverstays(ctx context.Context, now, oldest time.Time, grace time.Duration) ([]SweepItem, error)
	PromotePendingAction(ctx context.Context, now, oldest time.Time) ([]SweepItem, error)
	ListCharging(ctx context.Context, now, oldest time.Time) ([]ChargingRow, error)
	BumpCharge(ctx context.Context, id, newCents int64) (prevCents int64, updated bool, err error)
	CompleteClean(ctx context.Context, cutoff, oldest, now time.Time) ([]SweepItem, error)
	ListOverstayCompletable(ctx context.Context, cutoff, oldest time.Time) ([]ChargingRow, error)
	CompleteOverstay(ctx context.Context, id int64, now time.Time, chargeRef string) (*SweepItem, bool, error)
}

type repo struct {
	db *sql.DB
}

func New(db *sql.DB) Repo { return &repo{db: db} }

const reservationCols = `
	id, spot_id, renter_id, vehicle_ref, start_at, end_at, status,
	amount_cents, payment_ref, payment_method_ref,
	overstay_detected_at, overstay_grace_end, overstay_action,
	overstay_charge_cents, overstay_charge_ref,
	departed_at, ending_notice_sent_at, completed_at, canceled_at, created_at`

func scanReservation(row interface{ Scan(...any) error }) (*model.Reservation, error) {
	var rsv model.Reservation
	var action sql.NullString
	err := row.Scan(
		&rsv.ID, &rsv.SpotID, &rsv.RenterID, &rsv.VehicleRef, &rsv.StartAt, &rsv.EndAt, &rsv.Status,
		&rsv.AmountCents, &rsv.PaymentRef, &rsv.PaymentMethodRef,
		&rsv.OverstayDetectedAt, &rsv.OverstayGraceEnd, &action,
		&rsv.OverstayChargeCents, &rsv.OverstayChargeRef,
		&rsv.DepartedAt, &rsv.EndingNoticeSentAt, &rsv.CompletedAt, &rsv.CanceledAt, &rsv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if action.Valid {
		a := model.OverstayAction(action.String)
		rsv.OverstayAction = &a
	}
	return &rsv, nil
}

func (r *repo) Get(ctx context.Context, id int64) (*model.Reservation, error) {
	const q = `SELECT ` + reservationCols + ` FROM reservations WHERE id = $1`
	return scanReservation(r.db.QueryRowContext(ctx, q, id))
}

func (r *repo) GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*model.Reservation, error) {
	const q = `SELECT ` + reservationCols + ` FROM reservations WHERE id = $1 FOR UPDATE`
	return scanReservation(tx.QueryRowContext(ctx, q, id))
}

func (r *repo) ListLive(ctx context.Context, spotID, excludeRenter int64) ([]model.Reservation, error) {
	const q = `
		SELECT ` + reservationCols + `
		FROM reservations
		WHERE spot_id = $1
		  AND status IN ('held','paid','active')
		  AND ($2 = 0 OR renter_id <> $2)
		ORDER BY start_at`
	rows, err := r.db.QueryContext(ctx, q, spotID, excludeRenter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Reservation
	for rows.Next() {
		rsv, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rsv)
	}
	return out, rows.Err()
}

// LockSpot takes the spot row lock that serializes concurrent commits
// for the same spot.
func (r *repo) LockSpot(ctx context.Context, tx *sql.Tx, spotID int64) error {
	const q = `SELECT id FROM spots WHERE id = $1 FOR UPDATE`
	var id int64
	return tx.QueryRowContext(ctx, q, spotID).Scan(&id)
}

func (r *repo) CountOverlapping(ctx context.Context, tx *sql.Tx, spotID int64, start, end time.Time, excludeID int64) (int, error) {
	const q = `
		SELECT COUNT(*)
		FROM reservations
		WHERE spot_id = $1
		  AND status IN ('held','paid','active')
		  AND start_at < $3
		  AND end_at > $2
		  AND ($4 = 0 OR id <> $4)`
	var n int
	err := tx.QueryRowContext(ctx, q, spotID, start, end, excludeID).Scan(&n)
	return n, err
}

func (r *repo) Insert(ctx context.Context, tx *sql.Tx, rsv *model.Reservation) (int64, error) {
	const q = `
		INSERT INTO reservations
			(spot_id, renter_id, vehicle_ref, start_at, end_at, status, amount_cents, payment_ref, payment_method_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	var id int64
	err := tx.QueryRowContext(ctx, q,
		rsv.SpotID, rsv.RenterID, rsv.VehicleRef, rsv.StartAt, rsv.EndAt,
		rsv.Status, rsv.AmountCents, rsv.PaymentRef, rsv.PaymentMethodRef,
	).Scan(&id)
	return id, err
}

func (r *repo) ConfirmDeparture(ctx context.Context, id, renterID int64, now time.Time) (int64, error) {
	const q = `
		UPDATE reservations
		SET departed_at = $3
		WHERE id = $1
		  AND renter_id = $2
		  AND departed_at IS NULL
		  AND status IN ('paid','active')`
	res, err := r.db.ExecContext(ctx, q, id, renterID, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *repo) SetAction(ctx context.Context, tx *sql.Tx, id int64, action model.OverstayAction) error {
	const q = `UPDATE reservations SET overstay_action = $2 WHERE id = $1`
	_, err := tx.ExecContext(ctx, q, id, string(action))
	return err
}

// ExtendWindow moves the end time and wipes the overstay sub-state: a
// paid extension means the renter is no longer overstaying.
func (r *repo) ExtendWindow(ctx context.Context, tx *sql.Tx, id int64, newEnd time.Time, addCents int64) error {
	const q = `
		UPDATE reservations
		SET end_at = $2,
			amount_cents = amount_cents + $3,
			overstay_detected_at = NULL,
			overstay_grace_end = NULL,
			overstay_action = NULL,
			overstay_charge_cents = 0,
			ending_notice_sent_at = NULL
		WHERE id = $1`
	_, err := tx.ExecContext(ctx, q, id, newEnd, addCents)
	return err
}

func (r *repo) Cancel(ctx context.Context, id, renterID int64, now time.Time) (*model.Reservation, error) {
	const q = `
		UPDATE reservations
		SET status = 'canceled', canceled_at = $3
		WHERE id = $1
		  AND renter_id = $2
		  AND status IN ('held','paid')
		  AND start_at > $3
		RETURNING ` + reservationCols
	rsv, err := scanReservation(r.db.QueryRowContext(ctx, q, id, renterID, now))
	if err != nil {
		return nil, err
	}
	return rsv, nil
}

// --- sweep stages ---

func (r *repo) MarkEndingNoticeSent(ctx context.Context, now, horizon time.Time) ([]SweepItem, error) {
	const q = `
		UPDATE reservations r
		SET ending_notice_sent_at = $1
		FROM spots s
		WHERE s.id = r.spot_id
		  AND r.status IN ('paid','active')
		  AND r.ending_notice_sent_at IS NULL
		  AND r.departed_at IS NULL
		  AND r.end_at > $1
		  AND r.end_at <= $2
		RETURNING r.id, r.spot_id, r.renter_id, s.owner_id, r.end_at`
	return r.sweepItems(ctx, q, now, horizon)
}

// DetectOverstays stamps detection and grace end in one statement so the
// two fields can never disagree.
func (r *repo) DetectOverstays(ctx context.Context, now, oldest time.Time, grace time.Duration) ([]SweepItem, error) {
	const q = `
		UPDATE reservations r
		SET overstay_detected_at = $1,
			overstay_grace_end = $1 + make_interval(secs => $3)
		FROM spots s
		WHERE s.id = r.spot_id
		  AND r.status IN ('paid','active')
		  AND r.overstay_detected_at IS NULL
		  AND r.departed_at IS NULL
		  AND r.end_at < $1
		  AND r.end_at > $2
		RETURNING r.id, r.spot_id, r.renter_id, s.owner_id, r.end_at, r.overstay_grace_end`
	rows, err := r.db.QueryContext(ctx, q, now, oldest, grace.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SweepItem
	for rows.Next() {
		var it SweepItem
		if err := rows.Scan(&it.ID, &it.SpotID, &it.RenterID, &it.OwnerID, &it.EndAt, &it.GraceEnd); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *repo) PromotePendingAction(ctx context.Context, now, oldest time.Time) ([]SweepItem, error) {
	const q = `
		UPDATE reservations r
		SET overstay_action = 'pending_action'
		FROM spots s
		WHERE s.id = r.spot_id
		  AND r.status IN ('paid','active')
		  AND r.overstay_action IS NULL
		  AND r.overstay_grace_end < $1
		  AND r.departed_at IS NULL
		  AND r.end_at > $2
		RETURNING r.id, r.spot_id, r.renter_id, s.owner_id, r.end_at`
	return r.sweepItems(ctx, q, now, oldest)
}

func (r *repo) ListCharging(ctx context.Context, now, oldest time.Time) ([]ChargingRow, error) {
	const q = `
		SELECT r.id, r.spot_id, r.renter_id, s.owner_id, r.end_at, r.overstay_grace_end,
		       r.departed_at, r.overstay_action, r.overstay_charge_cents, s.overtime_rate_cents,
		       r.payment_method_ref
		FROM reservations r
		JOIN spots s ON s.id = r.spot_id
		WHERE r.status IN ('paid','active')
		  AND r.overstay_action = 'charging'
		  AND r.overstay_grace_end < $1
		  AND r.end_at > $2`
	return r.chargingRows(ctx, q, now, oldest)
}

// BumpCharge raises the stored charge and reports the value it replaced.
// The strict `<` guard makes the charge monotone and means exactly one of
// two racing sweeps observes any given increment.
func (r *repo) BumpCharge(ctx context.Context, id, newCents int64) (int64, bool, error) {
	const q = `
		UPDATE reservations r
		SET overstay_charge_cents = $2
		FROM (
			SELECT id, overstay_charge_cents AS prev_cents
			FROM reservations
			WHERE id = $1
			FOR UPDATE
		) prev
		WHERE r.id = prev.id
		  AND r.status IN ('paid','active')
		  AND r.overstay_action = 'charging'
		  AND r.overstay_charge_cents < $2
		RETURNING prev.prev_cents`
	var prev int64
	err := r.db.QueryRowContext(ctx, q, id, newCents).Scan(&prev)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return prev, true, nil
}

func (r *repo) CompleteClean(ctx context.Context, cutoff, oldest, now time.Time) ([]SweepItem, error) {
	const q = `
		UPDATE reservations r
		SET status = 'completed', completed_at = $3
		FROM spots s
		WHERE s.id = r.spot_id
		  AND r.status IN ('paid','active')
		  AND r.overstay_detected_at IS NULL
		  AND r.end_at < $1
		  AND r.end_at > $2
		RETURNING r.id, r.spot_id, r.renter_id, s.owner_id, r.end_at`
	rows, err := r.db.QueryContext(ctx, q, cutoff, oldest, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSweepItems(rows)
}

// ListOverstayCompletable covers both escalations: a towed reservation
// closes here too, it just carries no overtime bill.
func (r *repo) ListOverstayCompletable(ctx context.Context, cutoff, oldest time.Time) ([]ChargingRow, error) {
	const q = `
		SELECT r.id, r.spot_id, r.renter_id, s.owner_id, r.end_at, r.overstay_grace_end,
		       r.departed_at, r.overstay_action, r.overstay_charge_cents, s.overtime_rate_cents,
		       r.payment_method_ref
		FROM reservations r
		JOIN spots s ON s.id = r.spot_id
		WHERE r.status IN ('paid','active')
		  AND r.overstay_action IN ('charging','towing')
		  AND r.end_at < $1
		  AND r.end_at > $2`
	return r.chargingRows(ctx, q, cutoff, oldest)
}

// CompleteOverstay is the terminal compare-and-set for an overstayed
// reservation; it reports false when a concurrent sweep already won.
func (r *repo) CompleteOverstay(ctx context.Context, id int64, now time.Time, chargeRef string) (*SweepItem, bool, error) {
	const q = `
		UPDATE reservations r
		SET status = 'completed', completed_at = $2, overstay_charge_ref = $3
		FROM spots s
		WHERE s.id = r.spot_id
		  AND r.id = $1
		  AND r.status IN ('paid','active')
		  AND r.overstay_action IN ('charging','towing')
		RETURNING r.id, r.spot_id, r.renter_id, s.owner_id, r.end_at`
	var it SweepItem
	err := r.db.QueryRowContext(ctx, q, id, now, chargeRef).Scan(
		&it.ID, &it.SpotID, &it.RenterID, &it.OwnerID, &it.EndAt,
	)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &it, true, nil
}

// --- helpers ---

func (r *repo) sweepItems(ctx context.Context, q string, args ...any) ([]SweepItem, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSweepItems(rows)
}

func collectSweepItems(rows *sql.Rows) ([]SweepItem, error) {
	var out []SweepItem
	for rows.Next() {
		var it SweepItem
		if err := rows.Scan(&it.ID, &it.SpotID, &it.RenterID, &it.OwnerID, &it.EndAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *repo) chargingRows(ctx context.Context, q string, args ...any) ([]ChargingRow, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChargingRow
	for rows.Next() {
		var c ChargingRow
		if err := rows.Scan(&c.ID, &c.SpotID, &c.RenterID, &c.OwnerID, &c.EndAt, &c.GraceEnd,
			&c.DepartedAt, &c.Action, &c.ChargeCents, &c.OvertimeRateCents, &c.PaymentMethodRef); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
