package overstay

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/MiladFarazian/park-and-sync-sub004/app/echoServer/jwtx"
	"github.com/MiladFarazian/park-and-sync-sub004/model"
	osvc "github.com/MiladFarazian/park-and-sync-sub004/service/overstay"
)

type Controller struct {
	Svc osvc.Service
	V   *validator.Validate
	Log *slog.Logger
}

type SetActionReq struct {
	Action string `json:"action" validate:"required,oneof=charging towing"`
}

// POST /v1/reservations/:id/overstay-action
func (h *Controller) SetAction(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid id"})
	}
	var req SetActionReq
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

	err = h.Svc.SetAction(c.Request().Context(), id, uid, model.OverstayAction(req.Action), time.Now().UTC())
	if err != nil {
		h.Log.Error("set overstay action", "err", err)
		switch osvc.Code(err) {
		case osvc.ErrNotFound:
			return c.JSON(http.StatusNotFound, echo.Map{"message": "reservation not found"})
		case osvc.ErrNotOwner:
			return c.JSON(http.StatusForbidden, echo.Map{"message": "forbidden"})
		case osvc.ErrPrecondition:
			return c.JSON(http.StatusConflict, echo.Map{"message": "the grace period has not ended yet"})
		default:
			return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "action recorded"})
}

// POST /internal/overstay/sweep
func (h *Controller) RunSweep(c echo.Context) error {
	rep, err := h.Svc.RunSweep(c.Request().Context(), time.Now().UTC())
	if err != nil {
		// Per-item failures were already logged and skipped; an error here
		// means a stage query itself failed.
		h.Log.Error("sweep", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "sweep failed", "report": rep})
	}
	return c.JSON(http.StatusOK, rep)
}
