package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dcarapic/hotmeals-sub000/internal/client"
	"github.com/dcarapic/hotmeals-sub000/internal/config"
	"github.com/dcarapic/hotmeals-sub000/internal/events"
	"github.com/dcarapic/hotmeals-sub000/internal/handlers"
	"github.com/dcarapic/hotmeals-sub000/internal/metrics"
	"github.com/dcarapic/hotmeals-sub000/internal/models"
	"github.com/dcarapic/hotmeals-sub000/internal/order"
	"github.com/dcarapic/hotmeals-sub000/internal/stubserver"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const serviceName = "ordering-client"

// sessionLogger reports rejected credentials; the UI asks the customer to sign in again
type sessionLogger struct{}

func (sessionLogger) OnUnauthorized(err error) {
	log.Warn("Platform API rejected the session: ", err)
}

func init() {
	// Initialize logger
	log.SetFormatter(&log.JSONFormatter{})
	log.SetLevel(log.InfoLevel)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration: ", err)
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal("Invalid log level: ", err)
	}
	log.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.StubBackendAddr != "" {
		cfg.APIBaseURL = "http://" + cfg.StubBackendAddr
		startStubBackend(cfg.StubBackendAddr, cfg.APIToken)
	}

	api := client.New(client.Config{
		BaseURL:      cfg.APIBaseURL,
		Token:        cfg.APIToken,
		Timeout:      cfg.RequestTimeout,
		PlaceTimeout: cfg.PlaceTimeout,
		BulkheadSize: cfg.BulkheadSize,
	})

	registry := order.NewRegistry()
	registry.Subscribe(func(current *models.InProgressOrder) {
		if current == nil {
			log.Debug("Current order cleared")
			return
		}
		log.WithFields(log.Fields{
			"restaurant_id": current.RestaurantID,
			"items":         len(current.Items),
			"total":         current.Total.StringFixed(2),
		}).Debug("Current order changed")
	})

	coordinator := order.NewCoordinator(api, registry,
		order.WithSessionHandler(sessionLogger{}),
		order.WithTransitionHook(func(from, to order.State) {
			switch s := to.(type) {
			case order.Confirmed:
				log.WithField("order_id", s.Order.OrderID).Info("Restaurant confirmed the order")
			case order.Canceled:
				log.WithField("order_id", s.Order.OrderID).Info("Order was canceled")
			}
		}),
	)

	if cfg.AMQPURL != "" {
		listener := events.NewListener(cfg.AMQPURL, cfg.OrderUpdatesQueue, serviceName, coordinator.HandleOrderUpdated)
		go func() {
			if err := listener.Run(ctx); err != nil {
				log.Error("Order update listener stopped: ", err)
			}
		}()
	}

	router := gin.Default()

	// Add Prometheus middleware
	router.Use(metrics.PrometheusMiddleware(serviceName))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":          "healthy",
			"circuit_breaker": api.CircuitState(),
			"placement_phase": coordinator.State().Phase(),
		})
	})

	handlers.NewOrderHandler(registry, coordinator, api).RegisterRoutes(router)

	// Metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: router}
	go func() {
		<-ctx.Done()
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Failed to shut down: ", err)
		}
	}()

	log.WithFields(log.Fields{
		"listen_addr":  cfg.ListenAddr,
		"api_base_url": cfg.APIBaseURL,
		"order_events": cfg.AMQPURL != "",
	}).Info("Ordering client starting")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("Failed to start server: ", err)
	}
}

// startStubBackend serves an in-memory platform API with a sample restaurant
func startStubBackend(addr, token string) {
	stub := stubserver.New(token)
	stub.AddRestaurant("restaurant-1", "Sample Pizzeria", stubserver.SampleMenu()...)

	go func() {
		if err := stub.Router().Run(addr); err != nil {
			log.Fatal("Stub backend failed: ", err)
		}
	}()

	log.WithField("addr", addr).Info("Stub backend started")
}
