// model/hold.go
package model

import "time"

// Hold is a short-lived advisory claim on a window while the renter is
// in checkout. It narrows the booking race, it does not close it: commit
// always re-checks committed reservation rows and never trusts a hold.
type Hold struct {
	ID          string    `json:"id"`
	SpotID      int64     `json:"spot_id"`
	RequesterID int64     `json:"requester_id"`
	StartAt     time.Time `json:"start_at"`
	EndAt       time.Time `json:"end_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}
