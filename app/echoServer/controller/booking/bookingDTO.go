package booking

import "time"

type CreateHoldReq struct {
	StartAt time.Time `json:"start_at" validate:"required"`
	EndAt   time.Time `json:"end_at" validate:"required"`
}

type CreateReservationReq struct {
	SpotID        int64     `json:"spot_id" validate:"required,gt=0"`
	StartAt       time.Time `json:"start_at" validate:"required"`
	EndAt         time.Time `json:"end_at" validate:"required"`
	HoldID        string    `json:"hold_id"`
	VehicleRef    string    `json:"vehicle_ref" validate:"required"`
	PaymentMethod string    `json:"payment_method"`
}

type ExtendReq struct {
	AdditionalHours int    `json:"additional_hours" validate:"required,gt=0"`
	PaymentMethod   string `json:"payment_method"`
}
