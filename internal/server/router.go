package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DiagnosticsOptions controls the diagnostics HTTP app.
type DiagnosticsOptions struct {
	Logger     *logrus.Logger
	ListenPort int
}

const contextKeyRequestID = "_filehub_request_id"

// NewDiagnosticsApp builds the Fiber app that serves /-/ diagnostics paths.
// Routes are registered by the routes package; every other path is a 404.
func NewDiagnosticsApp(opts DiagnosticsOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts))

	return app, nil
}

// requestContextMiddleware assigns a request ID and rejects non-diagnostics
// paths.
func requestContextMiddleware(opts DiagnosticsOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		path := string(c.Request().URI().Path())
		if !isDiagnosticsPath(path) {
			return renderNotFound(c, opts.Logger, path, opts.ListenPort)
		}
		return c.Next()
	}
}

func renderNotFound(c fiber.Ctx, logger *logrus.Logger, path string, port int) error {
	logger.WithFields(logrus.Fields{
		"action": "diagnostics_lookup",
		"path":   path,
		"port":   port,
	}).Debug("unknown diagnostics path")

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "not_found",
	})
}

// RequestID returns the request identifier stored by the middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
