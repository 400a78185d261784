package echoServer

import (
	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"

	bookingctrl "github.com/MiladFarazian/park-and-sync-sub004/app/echoServer/controller/booking"
	overstayctrl "github.com/MiladFarazian/park-and-sync-sub004/app/echoServer/controller/overstay"
	spotctrl "github.com/MiladFarazian/park-and-sync-sub004/app/echoServer/controller/spot"
)

type C struct {
	Booking  *bookingctrl.Controller
	Overstay *overstayctrl.Controller
	Spot     *spotctrl.Controller

	JWTSecret  string
	SweepToken string
}

func Register(e *echo.Echo, c C) {
	// Authenticated API. Tokens are issued by the external identity
	// service; only the sub claim is consumed here.
	api := e.Group("/v1")
	api.Use(echojwt.WithConfig(echojwt.Config{
		SigningKey:    []byte(c.JWTSecret),
		NewClaimsFunc: func(c echo.Context) jwt.Claims { return jwt.MapClaims{} },
	}))

	api.GET("/spots/:id/availability", c.Spot.Availability)
	api.POST("/spots/:id/holds", c.Booking.CreateHold)

	api.POST("/reservations", c.Booking.Create)
	api.POST("/reservations/:id/extend", c.Booking.Extend)
	api.POST("/reservations/:id/departure", c.Booking.ConfirmDeparture)
	api.POST("/reservations/:id/cancel", c.Booking.Cancel)
	api.POST("/reservations/:id/overstay-action", c.Overstay.SetAction)

	// Scheduler-only surface.
	internal := e.Group("/internal", InternalToken(c.SweepToken))
	internal.POST("/overstay/sweep", c.Overstay.RunSweep)
}
