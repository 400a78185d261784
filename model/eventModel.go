// model/event.go
package model

import "time"

// SpotEvent is broadcast to clients watching a spot. Best-effort only;
// a client that misses one is still rejected at commit time.
type SpotEvent struct {
	Type        string    `json:"type"`
	SpotID      int64     `json:"spot_id"`
	RequesterID int64     `json:"requester_id"`
	StartAt     time.Time `json:"start_at"`
	EndAt       time.Time `json:"end_at"`
	At          time.Time `json:"at"`
}

const (
	EventHoldCreated         = "hold_created"
	EventReservationCreated  = "reservation_created"
	EventReservationExtended = "reservation_extended"
	EventReservationCanceled = "reservation_canceled"
)

// Notification kinds pushed to the delivery queue.
const (
	NotifyEndingSoon      = "reservation_ending_soon"
	NotifyOverstayRenter  = "overstay_detected_renter"
	NotifyOverstayOwner   = "overstay_detected_owner"
	NotifyActionNeeded    = "overstay_action_needed"
	NotifyChargeUpdated   = "overstay_charge_updated"
	NotifyTowingRequested = "overstay_towing_requested"
	NotifyCompleted       = "reservation_completed"
	NotifyOverstayClosed  = "overstay_completed"
)
