package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/iliyamo/parking-reservation/internal/config"
	"github.com/iliyamo/parking-reservation/internal/database"
	"github.com/iliyamo/parking-reservation/internal/handler"
	"github.com/iliyamo/parking-reservation/internal/identity"
	"github.com/iliyamo/parking-reservation/internal/ledger"
	"github.com/iliyamo/parking-reservation/internal/middleware"
	"github.com/iliyamo/parking-reservation/internal/queue"
	"github.com/iliyamo/parking-reservation/internal/realtime"
	"github.com/iliyamo/parking-reservation/internal/repository"
	"github.com/iliyamo/parking-reservation/internal/router"
	"github.com/iliyamo/parking-reservation/internal/service"
)

func main() {
	config.LoadDotEnv()
	cfg := config.Load()
	log.SetLevel(cfg.LogLvl())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := database.OpenStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer closeStore()

	users := repository.NewUserRepo(store)
	tokens := repository.NewTokenRepo(store)
	lots := repository.NewLotRepo(store)
	vehicles := repository.NewVehicleRepo(store)
	bookings := repository.NewBookingRepo(store)
	payments := repository.NewPaymentRepo(store)

	hub := realtime.NewHub()
	defer hub.Close()
	sinks := []queue.Sink{hub}
	if cfg.EventsEnabled {
		sinks = append(sinks, service.NewQueuePublisher(cfg.RabbitURL, cfg.EventsQueue))
		go func() {
			if err := queue.StartBookingConsumer(ctx, cfg.RabbitURL, cfg.EventsQueue, cfg.BookingLogPath); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorf("booking-consumer: %v", err)
			}
		}()
	}

	l := ledger.New(store, ledger.Config{
		Timeout:         cfg.LedgerTimeout,
		AmountPolicy:    ledger.AmountPolicy(cfg.AmountPolicy),
		AmountTolerance: cfg.AmountTolerance,
	}, sinks...)
	log.Infof("ledger: transactional=%t policy=%s", l.Transactional(), cfg.AmountPolicy)

	idp := identity.NewProvider(users, tokens, identity.Config{
		JWTSecret:      cfg.JWTSecret,
		AccessTTLMin:   cfg.AccessTTLMin,
		RefreshTTLDays: cfg.RefreshTTLDays,
		BcryptCost:     cfg.BcryptCost,
	})

	rdb := config.NewRedisClient()
	if rdb != nil {
		defer rdb.Close()
	}

	e := echo.New()
	e.HideBanner = true
	e.Logger.SetLevel(cfg.LogLvl())
	e.Use(echomw.RequestID(), echomw.Logger(), echomw.Recover())

	router.Register(e, router.Deps{
		Auth:          handler.NewAuthHandler(idp),
		Lots:          handler.NewLotHandler(lots, bookings, l),
		Vehicles:      handler.NewVehicleHandler(vehicles),
		Bookings:      handler.NewBookingHandler(l, bookings, payments, lots, vehicles),
		Payments:      handler.NewPaymentHandler(payments),
		Authenticator: idp,
		Live:          hub,
		RateLimit:     middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb),
		Cache:         middleware.NewRedisCache(config.LoadCacheConfig(), rdb),
	})

	addr := ":" + cfg.Port
	go func() {
		log.Infof("listening on %s (env=%s, store=%s)", addr, cfg.Env, cfg.StoreDriver)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
	l.Stop()
}
