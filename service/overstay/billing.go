package overstay

import "time"

// OvertimeCharge derives the charge owed at `now` for an overstay whose
// grace period ended at graceEnd: every started hour past grace bills one
// full hour at the overtime rate. Monotone in now for a fixed graceEnd,
// so re-running a sweep can only raise the figure.
func OvertimeCharge(graceEnd, now time.Time, hourlyRateCents int64) int64 {
	if !now.After(graceEnd) {
		return 0
	}
	elapsed := now.Sub(graceEnd)
	hours := int64((elapsed + time.Hour - 1) / time.Hour)
	return hours * hourlyRateCents
}

// chargedHours maps a stored charge back to whole hours, for deciding
// whether an increment crossed a new hour boundary worth notifying.
func chargedHours(chargeCents, hourlyRateCents int64) int64 {
	if hourlyRateCents <= 0 {
		return 0
	}
	return chargeCents / hourlyRateCents
}
