package main // Entry point package

import (
	"context"
	"log"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/ekirmen/zeatingmaps-sub014/internal/cart"
	"github.com/ekirmen/zeatingmaps-sub014/internal/config"
	"github.com/ekirmen/zeatingmaps-sub014/internal/database"
	"github.com/ekirmen/zeatingmaps-sub014/internal/handler"
	"github.com/ekirmen/zeatingmaps-sub014/internal/lock"
	"github.com/ekirmen/zeatingmaps-sub014/internal/middleware"
	"github.com/ekirmen/zeatingmaps-sub014/internal/propagate"
	"github.com/ekirmen/zeatingmaps-sub014/internal/queue"
	"github.com/ekirmen/zeatingmaps-sub014/internal/repository"
	"github.com/ekirmen/zeatingmaps-sub014/internal/router"
)

func main() {
	_ = godotenv.Load() // .env is optional; real environments set vars directly
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage.  MySQL is the source of truth for locks and settled
	// sales; without it the engine runs single-instance on the
	// in-memory store.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Printf("redis unavailable, settlement cache and rate limiting disabled")
	}

	var store repository.LockStore
	var settlements repository.SettlementOracle
	if cfg.UseDatabase() {
		db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			log.Fatalf("database: %v", err)
		}
		defer db.Close()
		store = repository.NewSeatLockRepo(db)
		settlements = repository.NewSettlementRepo(db, rdb, 0)
	} else {
		log.Printf("DB_HOST not set, using in-memory lock store (single instance)")
		store = repository.NewMemoryLockStore()
		settlements = repository.NewMemorySettlements()
	}

	// Propagation.  The hub fans events out to local subscribers; the
	// broker carries them between instances.  Origin stamping keeps an
	// instance from re-applying its own events.
	instanceID := uuid.NewString()
	hub := propagate.NewHub(cfg.ChangeLogCapacity)
	broker := queue.NewBroker(queue.BrokerURL(), instanceID)
	defer broker.Close()
	hub.SetForward(func(ev queue.SeatEvent) {
		if err := broker.Publish(ctx, ev); err != nil {
			log.Printf("broker: publish failed: %v", err)
		}
	})
	go queue.StartSeatEventConsumer(ctx, queue.BrokerURL(), instanceID, hub.PublishRemote)

	coord := lock.NewCoordinator(store, settlements, hub, cfg.HoldDuration)
	sweeper := lock.NewSweeper(store, hub, cfg.SweepInterval)
	go sweeper.Run(ctx)
	carts := cart.NewRegistry(ctx, coord, hub,
		propagate.WithPollInterval(cfg.PollInterval),
		propagate.WithRetryInterval(cfg.PushRetryInterval))

	e := echo.New()
	e.Use(middleware.Session())

	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)

	router.RegisterRoutes(e)
	router.RegisterLocks(e, handler.NewLockHandler(coord), limiter)
	router.RegisterEvents(e, handler.NewEventHandler(hub))
	router.RegisterCart(e, handler.NewCartHandler(carts), limiter)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s instance=%s)", addr, cfg.Env, instanceID)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
