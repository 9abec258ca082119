package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate checks semantic constraints that decoding cannot express.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	g := c.Global
	if err := validatePort("Global.ListenPort", g.ListenPort); err != nil {
		return err
	}
	if g.CacheEntries < 0 {
		return fieldError("Global.CacheEntries", g.CacheEntries, "must not be negative")
	}
	switch strings.ToLower(strings.TrimSpace(g.ConcurrencyMode)) {
	case ModeSequential, ModeGoroutine:
	case "process", "fork":
		return fieldError("Global.ConcurrencyMode", g.ConcurrencyMode, "process-per-connection is not supported, the shared cache requires goroutine or sequential")
	default:
		return fieldError("Global.ConcurrencyMode", g.ConcurrencyMode, fmt.Sprintf("must be %s or %s", ModeSequential, ModeGoroutine))
	}
	if g.MaxConnections < 0 {
		return fieldError("Global.MaxConnections", g.MaxConnections, "must not be negative")
	}
	if strings.TrimSpace(g.StoragePath) == "" {
		return fieldError("Global.StoragePath", nil, "must not be empty")
	}
	if g.MaxPayloadSize <= 0 {
		return fieldError("Global.MaxPayloadSize", int64(g.MaxPayloadSize), "must be greater than 0")
	}
	if g.ReadTimeout.DurationValue() < 0 {
		return fieldError("Global.ReadTimeout", g.ReadTimeout.DurationValue(), "must not be negative")
	}
	if g.WriteTimeout.DurationValue() < 0 {
		return fieldError("Global.WriteTimeout", g.WriteTimeout.DurationValue(), "must not be negative")
	}
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return fieldError("Global.LogLevel", g.LogLevel, "unknown log level")
	}

	if c.Diagnostics.Enabled {
		if err := validatePort("Diagnostics.ListenPort", c.Diagnostics.ListenPort); err != nil {
			return err
		}
		if c.Diagnostics.ListenPort == g.ListenPort {
			return fieldError("Diagnostics.ListenPort", c.Diagnostics.ListenPort, "must differ from Global.ListenPort")
		}
	}

	return nil
}

func validatePort(field string, port int) error {
	if port <= 0 || port > 65535 {
		return fieldError(field, port, "must be within 1-65535")
	}
	return nil
}
