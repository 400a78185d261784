// model/spot.go
package model

import "time"

type Spot struct {
	ID                int64     `json:"id"`
	OwnerID           int64     `json:"owner_id"`
	HourlyRateCents   int64     `json:"hourly_rate_cents"`
	OvertimeRateCents int64     `json:"overtime_rate_cents"`
	Address           string    `json:"address"`
	CreatedAt         time.Time `json:"created_at"`
}

// AvailabilityWindow is one recurring slice of a spot's weekly schedule.
// Minutes are counted from local midnight; a window never crosses midnight.
type AvailabilityWindow struct {
	SpotID      int64        `json:"spot_id"`
	Weekday     time.Weekday `json:"weekday"`
	OpenMinute  int          `json:"open_minute"`
	CloseMinute int          `json:"close_minute"`
}
