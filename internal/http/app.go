package http

import (
	"github.com/goccy/go-json"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sentinel-nexus/sentinel/internal/auth"
	"github.com/sentinel-nexus/sentinel/internal/broadcast"
	"github.com/sentinel-nexus/sentinel/internal/service"
)

// Deps is what the HTTP layer needs from the rest of the process.
type Deps struct {
	Services *service.Services
	Hub      *broadcast.Hub
	// Verifier checks session tokens. Nil disables verification and every
	// caller is auth.Anonymous.
	Verifier    *auth.Verifier
	Cookie      string
	CORSOrigins string
	Logger      zerolog.Logger
}

// NewApp builds the fiber app with middleware and every route registered.
func NewApp(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "Sentinel Nexus",
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ErrorHandler:          errorHandler(d.Logger),
		DisableStartupMessage: true,
	})

	origins := d.CORSOrigins
	if origins == "" {
		origins = "*"
	}
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{AllowOrigins: origins}))
	app.Use(accessLog(d.Logger))

	Register(app, d)
	return app
}

// Register mounts the API, page, live and ops routes on app.
func Register(app *fiber.App, d Deps) {
	h := &Handler{
		svcs: d.Services,
		hub:  d.Hub,
		log:  d.Logger,
	}
	pages := requirePrincipal(d.Verifier, d.Cookie, pageMode)
	api := requirePrincipal(d.Verifier, d.Cookie, apiMode)

	app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	g := app.Group("/api")
	g.Post("/readings", h.createReading)
	g.Get("/readings", h.listReadings)
	g.Post("/readings/export", h.exportReadings)
	g.Post("/sample/generate", h.generateSample)
	g.Get("/devices", h.listDevices)
	g.Post("/devices", api, h.registerDevice)

	app.Get("/dashboard", pages, h.dashboard)
	app.Get("/ai/insights", pages, h.insights)

	app.Use("/ws", h.upgrade)
	app.Get("/ws", websocket.New(h.live))

	app.All("*", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"message": "Route '" + c.OriginalURL() + "' does not exist",
		})
	})
}
