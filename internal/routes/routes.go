package routes

import (
	"context"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/sirupsen/logrus"

	"github.com/thiran-symposium/gateway-api/internal/catalog"
	"github.com/thiran-symposium/gateway-api/internal/clients"
	"github.com/thiran-symposium/gateway-api/internal/config"
	"github.com/thiran-symposium/gateway-api/internal/contact"
	"github.com/thiran-symposium/gateway-api/internal/countdown"
	"github.com/thiran-symposium/gateway-api/internal/logging"
	"github.com/thiran-symposium/gateway-api/internal/metrics"
	"github.com/thiran-symposium/gateway-api/internal/middleware"
	"github.com/thiran-symposium/gateway-api/internal/sessions"
)

const serviceName = "gateway-api"

// Dependencies are the long-lived components the handlers serve.
type Dependencies struct {
	Config     *config.Config
	Logger     logrus.FieldLogger
	Middleware *middleware.Manager
	Countdown  *countdown.Engine
	Sessions   *sessions.Manager
	Catalog    *catalog.Catalog
	Contact    *contact.Service

	// Breaker guards the registration backend; its state is reported by /readyz.
	Breaker *clients.CircuitBreaker

	// StreamContext ends every open countdown stream when cancelled.
	StreamContext context.Context
}

// NewApp builds the fiber app with global middleware and every route.
func NewApp(deps Dependencies) *fiber.App {
	cfg := deps.Config

	app := fiber.New(fiber.Config{
		AppName:      "Thiran Gateway API",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorHandler: middleware.ErrorHandler(deps.Logger),
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(helmet.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORS.AllowOrigins,
		AllowMethods: "GET,POST,HEAD,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,X-Requested-With,X-Request-ID",
		MaxAge:       86400,
	}))
	app.Use(otelfiber.Middleware())
	app.Use(accessLog(deps.Logger))

	Setup(app, deps)
	return app
}

// Setup configures all API routes
func Setup(app *fiber.App, deps Dependencies) {
	cfg := deps.Config
	mw := deps.Middleware

	streamCtx := deps.StreamContext
	if streamCtx == nil {
		streamCtx = context.Background()
	}

	countdownHandler := NewCountdownHandler(deps.Countdown, streamCtx, deps.Logger)
	eventsHandler := NewEventsHandler(deps.Catalog)
	contactHandler := NewContactHandler(deps.Contact, deps.Logger)
	registrationHandler := NewRegistrationHandler(deps.Sessions, deps.Logger)

	// Health check endpoints
	app.Get("/healthz", healthCheck)
	app.Get("/readyz", readinessCheck(mw, deps.Breaker))
	app.Get("/version", versionHandler)

	app.Get(cfg.Observability.MetricsPath, metrics.PrometheusHandler())

	api := app.Group("/api/v1")
	api.Use(metrics.HTTPMetricsMiddleware())
	api.Use(mw.ErrorLogger.Handle())

	api.Get("/countdown", countdownHandler.Get)
	api.Get("/countdown/stream", countdownHandler.Stream)

	api.Get("/events", eventsHandler.List)
	api.Get("/events/:id", eventsHandler.Get)

	api.Post("/contact", mw.RateLimit.Handle(), contactHandler.Submit)

	registrations := api.Group("/registrations")
	registrations.Post("/", mw.RateLimit.Handle(), registrationHandler.Create)
	registrations.Get("/:id", registrationHandler.Get)
	registrations.Patch("/:id", registrationHandler.Update)
	registrations.Delete("/:id", registrationHandler.Delete)
	registrations.Post("/:id/profile", mw.RateLimit.Handle(), mw.SubmissionLock.Handle(), registrationHandler.SubmitProfile)
	registrations.Post("/:id/otp", mw.RateLimit.Handle(), mw.SubmissionLock.Handle(), registrationHandler.SubmitOTP)

	app.Use(notFoundHandler)
}

func healthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   serviceName,
	})
}

// readinessCheck reports not ready while redis is configured but unreachable.
// An open backend breaker is reported without failing readiness.
func readinessCheck(mw *middleware.Manager, breaker *clients.CircuitBreaker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if mw.RedisClient != nil {
			check := middleware.RedisHealthCheck(mw.RedisClient, mw.Logger)
			if err := check(c.UserContext()); err != nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"status":    "not ready",
					"reason":    "redis unavailable",
					"error":     err.Error(),
					"timestamp": time.Now().UTC(),
				})
			}
		}

		resp := fiber.Map{
			"status":    "ready",
			"timestamp": time.Now().UTC(),
			"service":   serviceName,
		}
		if breaker != nil {
			resp["registration_backend"] = breaker.Stats()
		}
		return c.JSON(resp)
	}
}

func versionHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": serviceName,
		"version": logging.Version(),
	})
}

func notFoundHandler(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": fiber.Map{
			"code":     "NOT_FOUND",
			"message":  "The requested resource was not found",
			"path":     c.Path(),
			"trace_id": middleware.RequestID(c),
		},
	})
}

func accessLog(logger logrus.FieldLogger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		latency := float64(time.Since(start).Microseconds()) / 1000
		logging.WithRequest(logger, c.Method(), c.Path(), c.Response().StatusCode(), latency).
			WithField("request_id", middleware.RequestID(c)).
			Debug("Request handled")
		return err
	}
}
