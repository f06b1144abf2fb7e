// Package router provides HTTP routing, middleware configuration, and server setup for the web application
package router

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"time"

	"github.com/coldflowhq/coldflow/app/dto"
	"github.com/coldflowhq/coldflow/app/handlers"
	"github.com/coldflowhq/coldflow/app/middleware"
	"github.com/coldflowhq/coldflow/config"
	"github.com/coldflowhq/coldflow/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/compress"
	"github.com/gofiber/fiber/v3/middleware/helmet"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router interface for HTTP routing
type Router interface {
	SetupRoutes()
	Start(address string) error
	GetApp() *fiber.App
}

// FiberRouter implements Router using Fiber v3
type FiberRouter struct {
	app         *fiber.App
	sendHandler handlers.SendHandlerInterface
	authMw      *middleware.AuthMiddleware
	cfg         *config.ProductionConfig
}

// NewFiberRouter creates a new Fiber router
func NewFiberRouter(sendHandler handlers.SendHandlerInterface, authMw *middleware.AuthMiddleware, cfg *config.ProductionConfig) Router {
	app := fiber.New(fiber.Config{
		AppName:      "Coldflow API",
		ServerHeader: "Coldflow",
		ErrorHandler: errorHandler,
		BodyLimit:    cfg.Server.BodyLimit,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})

	return &FiberRouter{
		app:         app,
		sendHandler: sendHandler,
		authMw:      authMw,
		cfg:         cfg,
	}
}

// SetupRoutes configures all application routes
func (r *FiberRouter) SetupRoutes() {
	log.Println("Setting up routes...")

	r.setupMiddleware()

	// Health check and metrics live outside the authenticated group
	r.app.Get("/health", r.healthCheck)
	if r.cfg.Metrics.EnablePrometheus {
		r.app.Get(r.cfg.Metrics.PrometheusPath, adaptor.HTTPHandler(promhttp.Handler()))
	}

	api := r.app.Group("/api/v1")

	api.Use(limiter.New(limiter.Config{
		Max:        2000,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(dto.APIResponse{
				Success: false,
				Message: "Too many requests. Please try again later.",
				Error: dto.ErrorDetail{
					Code: "RATE_LIMIT_EXCEEDED",
				},
			})
		},
	}))

	api.Use(r.authMw.Authenticate())

	// Send pipeline
	api.Post("/sends", r.sendHandler.SendNow)
	api.Post("/sends/schedule", r.sendHandler.ScheduleSend)

	// Campaigns
	api.Get("/campaigns/:uuid", r.sendHandler.GetCampaign)
	api.Get("/campaigns/:uuid/report.xlsx", r.sendHandler.CampaignReport)
	api.Post("/campaigns/:uuid/follow-up", r.sendHandler.ScheduleFollowUp)

	// Identities
	api.Get("/identities/:id/qualification", r.sendHandler.GetQualification)
	api.Get("/identities/:id/reputation", r.sendHandler.GetReputation)
	api.Post("/reputation/events", r.sendHandler.RecordReputationEvent)

	log.Println("Routes configured successfully")
}

func (r *FiberRouter) setupMiddleware() {
	// Request ID middleware - must be first
	r.app.Use(requestid.New(requestid.Config{
		Header: "X-Request-ID",
		Generator: func() string {
			return generateRequestID()
		},
	}))

	// Security headers middleware
	r.app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}))

	// Compression middleware for performance
	r.app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	// Structured request logging
	r.app.Use(logger.New(logger.Config{
		Format:     `{"time":"${time}","request_id":"${locals:requestid}","method":"${method}","path":"${path}","ip":"${ip}","status":${status},"latency":"${latency}"}` + "\n",
		TimeFormat: time.RFC3339,
		TimeZone:   "UTC",
		Next: func(c fiber.Ctx) bool {
			return c.Path() == "/health"
		},
	}))

	// Prometheus request metrics
	if r.cfg.Server.EnableMetrics {
		r.app.Use(middleware.Metrics())
	}

	// Recovery middleware
	r.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
}

func (r *FiberRouter) healthCheck(c fiber.Ctx) error {
	return c.JSON(dto.APIResponse{
		Success: true,
		Message: "Service is healthy",
		Data: fiber.Map{
			"status":    "ok",
			"timestamp": utils.UTCNow().Unix(),
		},
	})
}

// Start begins listening for HTTP requests
func (r *FiberRouter) Start(address string) error {
	log.Printf("Starting server on %s", address)
	return r.app.Listen(address)
}

// GetApp returns the underlying Fiber application
func (r *FiberRouter) GetApp() *fiber.App {
	return r.app
}

func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	return c.Status(code).JSON(dto.APIResponse{
		Success: false,
		Message: "Request failed",
		Error: dto.ErrorDetail{
			Code:    "INTERNAL_ERROR",
			Details: err.Error(),
		},
	})
}

func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(bytes)
}
