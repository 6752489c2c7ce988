// Package http is the REST surface of the console.
package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/melih/lighthouse-console/internal/telemetry"
)

type Handlers struct {
	Containers *ContainerHandler
	Terminal   *TerminalHandler
	System     *SystemHandler
}

// NewApp builds the Fiber application with every REST route registered.
func NewApp(h Handlers, metrics *telemetry.Metrics, logger *zap.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "lighthouse-console",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(requestMetrics(metrics, logger.Named("http")))

	app.Get("/health", h.System.Health)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	api := app.Group("/api")
	v1 := api.Group("/v1")

	containers := v1.Group("/containers")
	containers.Get("/", h.Containers.ListContainers)
	containers.Post("/batch", h.Containers.BatchActions)
	containers.Get("/:id", h.Containers.GetContainer)
	containers.Delete("/:id", h.Containers.RemoveContainer)
	containers.Get("/:id/stats", h.Containers.GetStats)
	containers.Get("/:id/stats/cached", h.Containers.GetCachedStats)
	containers.Get("/:id/stats/history", h.Containers.GetStatsHistory)
	containers.Get("/:id/logs", h.Containers.GetLogs)
	containers.Get("/:id/processes", h.Containers.GetProcesses)
	containers.Post("/:id/:action", h.Containers.PerformAction)

	terminal := v1.Group("/terminal")
	terminal.Post("/:containerId/session", h.Terminal.CreateSession)
	terminal.Get("/sessions", h.Terminal.ListSessions)
	terminal.Delete("/sessions/:id", h.Terminal.CloseSession)

	system := v1.Group("/system")
	system.Get("/metrics", h.System.GetMetrics)
	system.Get("/metrics/history", h.System.GetHistory)
	system.Get("/alerts", h.System.GetAlerts)
	system.Get("/baseline", h.System.GetBaseline)

	return app
}

// requestMetrics records count and latency per matched route.
func requestMetrics(metrics *telemetry.Metrics, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		elapsed := time.Since(start)

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		path := c.Route().Path
		metrics.ObserveRequest(c.Method(), path, status, elapsed.Seconds())
		logger.Debug("request",
			zap.String("method", c.Method()),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed))
		return err
	}
}
