// model/reservation.go
package model

import "time"

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationHeld      ReservationStatus = "held"
	ReservationPaid      ReservationStatus = "paid"
	ReservationActive    ReservationStatus = "active"
	ReservationCompleted ReservationStatus = "completed"
	ReservationCanceled  ReservationStatus = "canceled"
	ReservationRefunded  ReservationStatus = "refunded"
)

type OverstayAction string

const (
	OverstayPendingAction OverstayAction = "pending_action"
	OverstayCharging      OverstayAction = "charging"
	OverstayTowing        OverstayAction = "towing"
)

type Reservation struct {
	ID          int64             `json:"id"`
	SpotID      int64             `json:"spot_id"`
	RenterID    int64             `json:"renter_id"`
	VehicleRef  string            `json:"vehicle_ref"`
	StartAt     time.Time         `json:"start_at"`
	EndAt       time.Time         `json:"end_at"`
	Status      ReservationStatus `json:"status"`
	AmountCents int64             `json:"amount_cents"`
	PaymentRef  *string           `json:"payment_ref,omitempty"`

	// Stored payment method used for the booking charge and any later
	// extension or overtime capture.
	PaymentMethodRef *string `json:"-"`

	// Overstay sub-state, advanced only by the sweep and explicit owner action.
	OverstayDetectedAt  *time.Time      `json:"overstay_detected_at,omitempty"`
	OverstayGraceEnd    *time.Time      `json:"overstay_grace_end,omitempty"`
	OverstayAction      *OverstayAction `json:"overstay_action,omitempty"`
	OverstayChargeCents int64           `json:"overstay_charge_cents"`
	OverstayChargeRef   *string         `json:"overstay_charge_ref,omitempty"`

	DepartedAt         *time.Time `json:"departed_at,omitempty"`
	EndingNoticeSentAt *time.Time `json:"-"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	CanceledAt         *time.Time `json:"canceled_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Live reports whether the reservation still occupies its window for
// conflict purposes.
func (r ReservationStatus) Live() bool {
	return r == ReservationHeld || r == ReservationPaid || r == ReservationActive
}

// Terminal reports whether no further state change is permitted.
func (r ReservationStatus) Terminal() bool {
	return r == ReservationCompleted || r == ReservationCanceled || r == ReservationRefunded
}
