package spot

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/MiladFarazian/park-and-sync-sub004/app/echoServer/jwtx"
	"github.com/MiladFarazian/park-and-sync-sub004/service/availability"
)

type Controller struct {
	Avail availability.Service
	Log   *slog.Logger
}

// GET /v1/spots/:id/availability?start=...&end=...
func (h *Controller) Availability(c echo.Context) error {
	spotID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || spotID <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "invalid spot id"})
	}
	start, err := time.Parse(time.RFC3339, c.QueryParam("start"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "start must be RFC3339"})
	}
	end, err := time.Parse(time.RFC3339, c.QueryParam("end"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"message": "end must be RFC3339"})
	}
	uid, err := jwtx.UserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "unauthorized"})
	}

	res, err := h.Avail.Check(c.Request().Context(), spotID, start.UTC(), end.UTC(), uid, time.Now().UTC())
	if err != nil {
		if err == availability.ErrInvalidRange {
			return c.JSON(http.StatusBadRequest, echo.Map{"message": "end must be after start"})
		}
		h.Log.Error("availability check", "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"message": "internal error"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"available": res.Available,
		"reason":    res.Reason,
	})
}
