package api

import (
	"errors"
	"strconv"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/open-teleop/console/domain/teleop"
	customlog "github.com/open-teleop/console/pkg/log"
	"github.com/open-teleop/console/pkg/metrics"
	"github.com/open-teleop/console/pkg/render"
	"github.com/open-teleop/console/services"
)

// Deps are the components the operator API serves. Raster, Frames and
// Metrics are optional.
type Deps struct {
	Console *services.Console
	Raster  *render.RasterSurface
	Frames  *render.FrameHub
	Metrics *metrics.Collector
	Logger  customlog.Logger
	// AccessLog enables fiber's request logger.
	AccessLog bool
}

// NewApp builds the operator fiber app with every route registered.
func NewApp(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "Open-Teleop Console",
		ErrorHandler:          customErrorHandler,
		DisableStartupMessage: true,
	})

	if d.AccessLog {
		app.Use(logger.New())
	}
	app.Use(recover.New())

	RegisterRoutes(app, d)
	return app
}

// RegisterRoutes mounts the operator endpoints on app.
func RegisterRoutes(app *fiber.App, d Deps) {
	log := customlog.Component(d.Logger, "api")
	console := d.Console

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "online",
			"service": "open-teleop console",
		})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	diagnosticRoutes := app.Group("/api/diagnostics")
	diagnosticRoutes.Get("/", console.Diagnostics().GetMetricsHandler)

	v1 := app.Group("/api/v1")
	v1.Get("/state", func(c *fiber.Ctx) error {
		return c.JSON(console.State())
	})
	teleop.NewTeleopService(console, d.Logger).RegisterRoutes(v1)

	v1.Get("/radar", func(c *fiber.Ctx) error {
		buf := console.Radar()
		admitted, rejected := buf.Counts()
		return c.JSON(fiber.Map{
			"points":   buf.Snapshot(),
			"readout":  buf.Readout(),
			"heading":  console.Motion().Heading(),
			"capacity": buf.Cap(),
			"admitted": admitted,
			"rejected": rejected,
		})
	})
	v1.Get("/radar.png", func(c *fiber.Ctx) error {
		if d.Raster == nil {
			return fiber.NewError(fiber.StatusNotFound, "raster rendering disabled")
		}
		data, seq, err := d.Raster.PNG()
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		if data == nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "no frame rendered yet")
		}
		c.Set("X-Frame-Seq", strconv.FormatUint(seq, 10))
		c.Set(fiber.HeaderCacheControl, "no-store")
		c.Type("png")
		return c.Send(data)
	})
	v1.Get("/telemetry/encoders", func(c *fiber.Ctx) error {
		reading, ok := console.Encoders().Latest()
		if !ok {
			return fiber.NewError(fiber.StatusServiceUnavailable, "no encoder reading yet")
		}
		return c.JSON(reading)
	})
	v1.Get("/video", console.Session().StreamHandler)

	RegisterConfigRoutes(app, console.AIConfig(), log)

	if d.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(d.Metrics.Handler()))
	}

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/intent", websocket.New(func(conn *websocket.Conn) {
		IntentWebSocketHandler(conn, log, console)
	}))
	if d.Frames != nil {
		app.Get("/ws/frames", websocket.New(func(conn *websocket.Conn) {
			FramesWebSocketHandler(conn, log, d.Frames)
		}))
	}

	log.Debugf("Registered operator API routes")
}

// Custom error handler
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}

	return c.Status(code).JSON(ErrorResponse{Error: err.Error()})
}
