package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Duration accepts Go duration strings ("30s", "5m") as well as plain
// integer seconds.
type Duration time.Duration

// UnmarshalText lets Viper decode "30s", "5m" or "30".
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue returns the underlying time.Duration.
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// ByteSize accepts human readable sizes such as "256MiB", "10 MB" or plain
// byte counts.
type ByteSize int64

// UnmarshalText parses sizes with go-humanize.
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := parseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Int64 returns the size in bytes.
func (b ByteSize) Int64() int64 {
	return int64(b)
}

func (b ByteSize) String() string {
	if b < 0 {
		return strconv.FormatInt(int64(b), 10)
	}
	return humanize.IBytes(uint64(b))
}

func parseByteSize(raw string) (ByteSize, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size value: %s", raw)
	}
	if n > uint64(1<<63-1) {
		return 0, fmt.Errorf("byte size out of range: %s", raw)
	}
	return ByteSize(n), nil
}

// parseInt accepts decimal or 0x-prefixed hexadecimal strings.
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// Concurrency modes accepted by ConcurrencyMode.
const (
	ModeSequential = "sequential"
	ModeGoroutine  = "goroutine"
)

// GlobalConfig holds the file server settings.
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	CacheEntries    int      `mapstructure:"CacheEntries"`
	ConcurrencyMode string   `mapstructure:"ConcurrencyMode"`
	MaxConnections  int64    `mapstructure:"MaxConnections"`
	StoragePath     string   `mapstructure:"StoragePath"`
	MaxPayloadSize  ByteSize `mapstructure:"MaxPayloadSize"`
	ReadTimeout     Duration `mapstructure:"ReadTimeout"`
	WriteTimeout    Duration `mapstructure:"WriteTimeout"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
}

// DiagnosticsConfig controls the optional HTTP diagnostics app.
type DiagnosticsConfig struct {
	Enabled    bool `mapstructure:"Enabled"`
	ListenPort int  `mapstructure:"ListenPort"`
}

// Config is the TOML file layout: global keys at the top level plus a
// [Diagnostics] table.
type Config struct {
	Global      GlobalConfig      `mapstructure:",squash"`
	Diagnostics DiagnosticsConfig `mapstructure:"Diagnostics"`
}

// CacheMode returns "disabled" or "round-robin:<n>", for log fields.
func (g GlobalConfig) CacheMode() string {
	if g.CacheEntries <= 0 {
		return "disabled"
	}
	return fmt.Sprintf("round-robin:%d", g.CacheEntries)
}
