package routes

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/filehub/filehub/internal/cache"
	"github.com/filehub/filehub/internal/server"
	"github.com/filehub/filehub/internal/version"
)

// RegisterDiagnosticsRoutes exposes health, cache, metrics and version
// endpoints for srv.
func RegisterDiagnosticsRoutes(app *fiber.App, srv *server.Server) {
	if app == nil || srv == nil {
		return
	}

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"mode":   string(srv.Mode()),
		})
	})

	app.Get("/-/cache", func(c fiber.Ctx) error {
		return c.JSON(encodeCache(srv.Cache()))
	})

	app.Get("/-/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/-/version", func(c fiber.Ctx) error {
		return c.JSON(version.Get())
	})
}

type cachePayload struct {
	Capacity int              `json:"capacity"`
	Enabled  bool             `json:"enabled"`
	NextSlot int              `json:"next_slot"`
	Entries  []cache.SlotInfo `json:"entries"`
	Stats    cache.Stats      `json:"stats"`
}

func encodeCache(c *cache.Cache) cachePayload {
	next, slots := c.Snapshot()
	if slots == nil {
		slots = []cache.SlotInfo{}
	}
	return cachePayload{
		Capacity: c.Capacity(),
		Enabled:  c.Enabled(),
		NextSlot: next,
		Entries:  slots,
		Stats:    c.Stats(),
	}
}
