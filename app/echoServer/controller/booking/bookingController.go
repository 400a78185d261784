package booking

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/MiladFarazian/park-and-sync-sub004/app/echoServer/jwtx"
	bs "github.com/MiladFarazian/park-and-sync-sub004/service/booking"
)

type Controller struct {
	Svc bs.Service
	V   *validator.Validate
	Log *slog.Logger
}

// POST /v1/spots/:id/holds
func (h *Controller) CreateHold(c echo.Context) error {
	spotID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || spotID <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid spot id"})
	}
	var req CreateHoldReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid JSON"})
	}
	if err := h.V.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "validation error", "errors": err.Error()})
	}
	uid, err := jwtx.UserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "unauthorized"})
	}

	hold, err := h.Svc.CreateHold(c.Request().Context(), spotID, uid, req.StartAt.UTC(), req.EndAt.UTC())
	if err != nil {
		return h.mapError(c, "create hold", err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"hold_id":    hold.ID,
		"expires_at": hold.ExpiresAt.Format(time.RFC3339),
	})
}

// POST /v1/reservations
func (h *Controller) Create(c echo.Context) error {
	var req CreateReservationReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid JSON"})
	}
	if err := h.V.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "validation error", "errors": err.Error()})
	}
	uid, err := jwtx.UserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "unauthorized"})
	}

	out, err := h.Svc.Create(c.Request().Context(), bs.CreateIn{
		SpotID:           req.SpotID,
		RenterID:         uid,
		StartAt:          req.StartAt.UTC(),
		EndAt:            req.EndAt.UTC(),
		HoldID:           req.HoldID,
		VehicleRef:       req.VehicleRef,
		PaymentMethodRef: req.PaymentMethod,
	})
	if err != nil {
		return h.mapError(c, "create reservation", err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"reservation_id": out.ReservationID,
		"payment_ref":    out.PaymentRef,
		"amount_cents":   out.AmountCents,
	})
}

// POST /v1/reservations/:id/extend
func (h *Controller) Extend(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid id"})
	}
	var req ExtendReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid JSON"})
	}
	if err := h.V.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "validation error", "errors": err.Error()})
	}
	uid, err := jwtx.UserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "unauthorized"})
	}

	out, err := h.Svc.Extend(c.Request().Context(), id, uid, req.AdditionalHours, req.PaymentMethod)
	if err != nil {
		return h.mapError(c, "extend reservation", err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"new_end_at":    out.NewEndAt.Format(time.RFC3339),
		"charged_cents": out.ChargedCents,
	})
}

// POST /v1/reservations/:id/departure
func (h *Controller) ConfirmDeparture(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid id"})
	}
	uid, err := jwtx.UserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "unauthorized"})
	}

	if err := h.Svc.ConfirmDeparture(c.Request().Context(), id, uid); err != nil {
		return h.mapError(c, "confirm departure", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "departure recorded"})
}

// POST /v1/reservations/:id/cancel
func (h *Controller) Cancel(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid id"})
	}
	uid, err := jwtx.UserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "unauthorized"})
	}

	if err := h.Svc.Cancel(c.Request().Context(), id, uid); err != nil {
		return h.mapError(c, "cancel reservation", err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "canceled"})
}

func (h *Controller) mapError(c echo.Context, op string, err error) error {
	h.Log.Error(op, "err", err)
	msg := bs.Reason(err)
	switch bs.Code(err) {
	case bs.ErrConflict:
		return c.JSON(http.StatusConflict, echo.Map{"message": msg})
	case bs.ErrInvalidRange:
		return c.JSON(http.StatusBadRequest, echo.Map{"message": msg})
	case bs.ErrNotFound:
		return c.JSON(http.StatusNotFound, echo.Map{"message": msg})
	case bs.ErrPrecondition:
		return c.JSON(http.StatusConflict, echo.Map{"message": msg})
	case bs.ErrPaymentRequired:
		return c.JSON(http.StatusPaymentRequired, echo.Map{"message": msg})
	case bs.ErrPaymentFailure:
		return c.JSON(http.StatusBadGateway, echo.Map{"message": msg})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
	}
}
