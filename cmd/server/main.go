package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/admosplace/food_ordering/internal/cart"
	"github.com/admosplace/food_ordering/internal/config"
	"github.com/admosplace/food_ordering/internal/dashboard"
	"github.com/admosplace/food_ordering/internal/es"
	"github.com/admosplace/food_ordering/internal/handlers"
	"github.com/admosplace/food_ordering/internal/inventory"
	"github.com/admosplace/food_ordering/internal/logging"
	"github.com/admosplace/food_ordering/internal/mykafka"
	"github.com/admosplace/food_ordering/internal/orders"
	"github.com/admosplace/food_ordering/internal/payment"
	"github.com/admosplace/food_ordering/internal/paystack"
	"github.com/admosplace/food_ordering/internal/service/search"
	"github.com/admosplace/food_ordering/internal/settings"
	httpserver "github.com/admosplace/food_ordering/internal/transport/http"
	"github.com/admosplace/food_ordering/pkg/db"
)

// pendingSweepEvery is how often stale pending payments get re-verified with
// the gateway in the background.
const pendingSweepEvery = 15 * time.Minute

func main() {
	configuration, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := logging.New(configuration.LOG_LEVEL)
	ctx := logging.IntoContext(context.Background(), logger)

	database, err := db.Open(ctx, configuration.DatabaseDSN())
	if err != nil {
		log.Fatalf("database init: %v", err)
	}
	if err := db.Migrate(database); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     configuration.REDIS_ADDR,
		Password: configuration.REDIS_PASSWORD,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis init: %v", err)
	}

	prod, err := mykafka.NewProducer([]string{configuration.KAFKA_ADDRESS})
	if err != nil {
		log.Fatal(err)
	}

	esClient, err := es.NewClient(configuration)
	if err != nil {
		log.Fatal(err)
	}

	jwtSecret := []byte(configuration.JWT_SECRET)
	store := cart.NewStore(rdb)
	settingsService := &settings.Service{DB: database}
	gateway := paystack.NewClient(configuration.PAYSTACK_BASE_URL, configuration.PAYSTACK_SECRET_KEY)

	payments := &payment.Service{
		DB:          database,
		Gateway:     gateway,
		Snapshots:   store,
		Carts:       store,
		Ledger:      inventory.Ledger{},
		Producer:    prod,
		CallbackURL: configuration.PAYMENT_CALLBACK_URL,
	}
	orderService := &orders.Service{DB: database}

	e := echo.New()
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover(), middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			c.SetRequest(req.WithContext(logging.IntoContext(req.Context(), logger)))
			return next(c)
		}
	})

	deps := httpserver.Deps{
		MenuHandler: &handlers.MenuHandler{
			DB: database, ES: esClient, Index: search.Index,
			Producer: prod, Settings: settingsService, JWTSecret: jwtSecret,
		},
		CartHandler: &handlers.CartHandler{
			DB: database, Store: store, Settings: settingsService,
			Producer: prod, JWTSecret: jwtSecret,
		},
		CheckoutHandler: &handlers.CheckoutHandler{
			Store: store, Settings: settingsService, Payments: payments,
			Restaurant:     configuration.RESTAURANT_ADDRESS,
			PaystackSecret: configuration.PAYSTACK_SECRET_KEY,
			JWTSecret:      jwtSecret,
		},
		OrderHandler: &handlers.OrderHandler{Orders: orderService, JWTSecret: jwtSecret},
		AdminHandler: &handlers.AdminHandler{
			Dashboard: &dashboard.Service{DB: database},
			Orders:    orderService,
			Payments:  payments,
			JWTSecret: jwtSecret,
		},
		SearchHandler: handlers.NewSearchHandler(esClient, search.Index),
		JWTSecret:     jwtSecret,
	}
	httpserver.Register(e, &deps)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(pendingSweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if n, err := payments.SweepPending(sweepCtx, 30*time.Minute); err != nil {
					logger.Error("pending payment sweep", "error", err)
				} else if n > 0 {
					logger.Info("pending payment sweep", "confirmed", n)
				}
			}
		}
	}()

	srv := &http.Server{
		Addr:         configuration.LISTEN_ADDR,
		Handler:      e,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}

	if sqlDB, err := database.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Printf("db close error: %v", err)
		}
	} else {
		log.Printf("db() error: %v", err)
	}

	if err := rdb.Close(); err != nil {
		log.Printf("redis close error: %v", err)
	}
	if err := prod.Close(); err != nil {
		log.Printf("kafka close error: %v", err)
	}

	log.Println("shutdown complete")
}
