// Package main parking spot sharing API.
//
// @title           ParkAndSync Core API
// @version         1.0
// @description     Reservation conflict resolution and overstay escalation.
// @BasePath        /
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description  Use:  Bearer <JWT>
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	echoSwagger "github.com/swaggo/echo-swagger"

	"github.com/MiladFarazian/park-and-sync-sub004/app/echoServer"
	bookingctrl "github.com/MiladFarazian/park-and-sync-sub004/app/echoServer/controller/booking"
	overstayctrl "github.com/MiladFarazian/park-and-sync-sub004/app/echoServer/controller/overstay"
	spotctrl "github.com/MiladFarazian/park-and-sync-sub004/app/echoServer/controller/spot"
	"github.com/MiladFarazian/park-and-sync-sub004/app/echoServer/validation"
	"github.com/MiladFarazian/park-and-sync-sub004/config"
	holdrepo "github.com/MiladFarazian/park-and-sync-sub004/repository/hold"
	notifyrepo "github.com/MiladFarazian/park-and-sync-sub004/repository/notify"
	paymentrepo "github.com/MiladFarazian/park-and-sync-sub004/repository/payment"
	realtimerepo "github.com/MiladFarazian/park-and-sync-sub004/repository/realtime"
	rsvrepo "github.com/MiladFarazian/park-and-sync-sub004/repository/reservation"
	spotrepo "github.com/MiladFarazian/park-and-sync-sub004/repository/spot"
	availsvc "github.com/MiladFarazian/park-and-sync-sub004/service/availability"
	bookingsvc "github.com/MiladFarazian/park-and-sync-sub004/service/booking"
	overstaysvc "github.com/MiladFarazian/park-and-sync-sub004/service/overstay"
	"github.com/MiladFarazian/park-and-sync-sub004/util/database"
)

func main() {

	cfg := config.Load()
	ctx := context.Background()

	// logger
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	// DB
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	// redis: holds + realtime fan-out
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	// notification queue
	nf, err := notifyrepo.New(cfg.AMQPURL, "notifications")
	if err != nil {
		log.Error("amqp connect failed", "err", err)
		os.Exit(1)
	}
	defer nf.Close()

	// repos
	sr := spotrepo.New(db)
	rr := rsvrepo.New(db)
	hr := holdrepo.New(rdb)
	rt := realtimerepo.New(rdb)
	pr := paymentrepo.NewStripe(cfg.StripeKey)

	// services
	avs := availsvc.New(sr, rr, hr)
	bks := bookingsvc.New(db, sr, rr, hr, pr, rt, avs, log, cfg.HoldTTL)
	ovs := overstaysvc.New(db, rr, sr, pr, nf, log)

	// controllers
	v := validator.New()
	bookingC := &bookingctrl.Controller{Svc: bks, V: v, Log: log}
	overstayC := &overstayctrl.Controller{Svc: ovs, V: v, Log: log}
	spotC := &spotctrl.Controller{Avail: avs, Log: log}

	// echo
	e := echo.New()
	echoServer.RegisterMiddlewares(e)
	e.Validator = validation.New()

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]any{
			"status":  "ok",
			"message": "Service is healthy and connected",
		})
	})

	e.GET("/swagger/*", echoSwagger.WrapHandler)

	echoServer.Register(e, echoServer.C{
		Booking:    bookingC,
		Overstay:   overstayC,
		Spot:       spotC,
		JWTSecret:  cfg.JWTSecret,
		SweepToken: cfg.SweepToken,
	})

	// The sweep also runs in-process; overlapping executions converge
	// because every mutation is a conditional update.
	go func() {
		t := time.NewTicker(cfg.SweepInterval)
		defer t.Stop()
		for range t.C {
			rep, err := ovs.RunSweep(ctx, time.Now().UTC())
			if err != nil {
				log.Error("scheduled sweep", "err", err)
			}
			log.Info("sweep",
				"ending_soon", rep.EndingSoon,
				"detected", rep.Detected,
				"action_pending", rep.ActionPending,
				"charged", rep.Charged,
				"completed_clean", rep.CompletedClean,
				"completed_overstay", rep.CompletedOverstay,
			)
		}
	}()

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.Port
	}

	slog.Info("starting server", "port", port, "env", cfg.Env)

	e.Logger.Fatal(e.Start(":" + port))
}
