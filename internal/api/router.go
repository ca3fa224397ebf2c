package api

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	swagger "github.com/go-swagno/swagno-fiber/swagger"
	"github.com/saturnino-fabrica-de-software/presenca/internal/api/docs"
	"github.com/saturnino-fabrica-de-software/presenca/internal/api/handler"
	"github.com/saturnino-fabrica-de-software/presenca/internal/api/middleware"
	"github.com/saturnino-fabrica-de-software/presenca/internal/database"
	"github.com/saturnino-fabrica-de-software/presenca/internal/metrics"
	"github.com/saturnino-fabrica-de-software/presenca/internal/ratelimit"
	"github.com/saturnino-fabrica-de-software/presenca/internal/service"
	"github.com/saturnino-fabrica-de-software/presenca/internal/ws"
)

// maxBodySize fits MAX_ENROLLMENT_FRAMES base64 frames
const maxBodySize = 64 * 1024 * 1024

type Dependencies struct {
	Service *service.AttendanceService
	Hub     *ws.Hub
	// DB backs the readiness probe. Nil skips the database check.
	DB database.Pinger

	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	RateLimitMax     int
	RateLimitWindow  time.Duration
	// RateLimitCounter shares limits between replicas. Nil counts in process.
	RateLimitCounter ratelimit.Counter
}

type Router struct {
	app         *fiber.App
	logger      *slog.Logger
	deps        *Dependencies
	rateLimiter *middleware.RateLimiter
}

func NewRouter(logger *slog.Logger, deps *Dependencies) *Router {
	app := fiber.New(fiber.Config{
		ErrorHandler: middleware.ErrorHandler(logger),
		AppName:      "Presenca API",
		BodyLimit:    maxBodySize,
	})

	return &Router{
		app:    app,
		logger: logger,
		deps:   deps,
	}
}

func (r *Router) Setup() {
	r.app.Use(requestid.New())
	r.app.Use(middleware.Logger(r.logger, r.deps.Metrics))
	r.app.Use(middleware.Recover(r.logger))
	r.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	sw := docs.NewSwagger()
	swagger.SwaggerHandler(r.app, sw.MustToJson())

	healthHandler := handler.NewHealthHandler(r.deps.DB, r.deps.Service.CatalogSize, r.logger)
	if r.deps.Hub != nil {
		healthHandler.WithFeedClients(r.deps.Hub.ConnectedClients)
	}
	r.app.Get("/health", healthHandler.Health)
	r.app.Get("/ready", healthHandler.Ready)

	if r.deps.Gatherer != nil {
		r.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(r.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.app.Group("/v1")

	// the live feed is long-lived and stays outside the rate limit
	if r.deps.Hub != nil {
		v1.Get("/attendance/stream", ws.UpgradeMiddleware(), ws.Handler(r.deps.Hub))
	}

	r.rateLimiter = middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Max:     r.deps.RateLimitMax,
		Window:  r.deps.RateLimitWindow,
		Counter: r.deps.RateLimitCounter,
		Logger:  r.logger,
	})
	v1.Use(r.rateLimiter.Handler())

	identityHandler := handler.NewIdentityHandler(r.deps.Service, r.logger)
	v1.Post("/identities", identityHandler.Register)
	v1.Get("/identities", identityHandler.List)

	attendanceHandler := handler.NewAttendanceHandler(r.deps.Service, r.logger)
	v1.Post("/attendance/check", attendanceHandler.Check)
	v1.Get("/attendance", attendanceHandler.List)
}

func (r *Router) App() *fiber.App {
	return r.app
}

func (r *Router) Listen(addr string) error {
	return r.app.Listen(addr)
}

// Shutdown stops accepting requests and waits for in-flight ones up to
// timeout
func (r *Router) Shutdown(timeout time.Duration) error {
	if r.rateLimiter != nil {
		r.rateLimiter.Stop()
	}
	return r.app.ShutdownWithTimeout(timeout)
}
