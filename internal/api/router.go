package api

import (
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	echoSwagger "github.com/swaggo/echo-swagger"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/wear60/tracking-service/internal/api/handler"
	"github.com/wear60/tracking-service/internal/api/middleware"
	"github.com/wear60/tracking-service/internal/core/domain"
	"github.com/wear60/tracking-service/internal/core/ports"

	_ "github.com/wear60/tracking-service/docs"
)

// Deps carries everything the HTTP layer needs. Mongo and Redis are only
// used by the readiness probe and may be nil.
type Deps struct {
	Log       zerolog.Logger
	JWTSecret string

	Orders     ports.OrderService
	Dispatcher handler.PingDispatcher
	Tracker    handler.Observer

	Retry     handler.RetryPolicy
	Heartbeat time.Duration

	Mongo *mongo.Database
	Redis *redis.Client
}

// NewRouter builds and returns the Echo instance with all routes registered.
func NewRouter(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(d.Log)

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(requestLogger(d.Log))
	e.Use(echoprometheus.NewMiddleware("tracking"))

	// --- Dependencies ---
	orderHandler := handler.NewOrderHandler(d.Orders)
	locationHandler := handler.NewLocationHandler(d.Dispatcher)
	trackingHandler := handler.NewTrackingHandler(d.Orders, d.Tracker, d.Retry, d.Heartbeat, d.Log)
	authMiddleware := middleware.Auth(d.JWTSecret)

	// --- Delivery partner routes ---
	v1 := e.Group("/v1", authMiddleware)
	partner := v1.Group("", middleware.RBAC(domain.RoleDeliveryPartner))
	partner.GET("/orders/pending", orderHandler.ListPending)
	partner.POST("/orders/:id/accept", orderHandler.Accept)
	partner.PATCH("/orders/:id/status", orderHandler.UpdateStatus)
	partner.POST("/orders/:id/location", locationHandler.Receive)
	partner.POST("/orders/:id/location/batch", locationHandler.ReceiveBatch)

	// --- Customer routes ---
	customer := v1.Group("", middleware.RBAC(domain.RoleCustomer))
	customer.GET("/orders", orderHandler.ListMine)

	// --- Tracking routes (ownership checked per order) ---
	viewer := v1.Group("", middleware.RBAC(domain.RoleCustomer, domain.RoleDeliveryPartner))
	viewer.GET("/orders/:id/tracking", trackingHandler.Snapshot)
	viewer.GET("/orders/:id/tracking/stream", trackingHandler.Stream)

	// --- Health probes (no auth required) ---
	healthHandler := handler.NewHealthHandler()
	healthDepsHandler := handler.NewHealthDependenciesHandler(d.Mongo, d.Redis)

	e.GET("/health", healthHandler.Liveness)            // liveness  – is the process alive?
	e.GET("/health/ready", healthDepsHandler.Readiness) // readiness – are dependencies up?

	// --- Operations ---
	e.GET("/metrics", echoprometheus.NewHandler())
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	return e
}

// requestLogger logs one zerolog line per request.
func requestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	return echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			ev := log.Info()
			if v.Error != nil {
				ev = log.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	})
}
