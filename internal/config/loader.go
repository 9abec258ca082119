package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads the TOML file at path, applies defaults and validates the
// result. An empty path yields the defaults alone.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	hooks := mapstructure.ComposeDecodeHookFunc(durationDecodeHook(), byteSizeDecodeHook())
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hooks)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyDiagnosticsDefaults(&cfg.Diagnostics)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 9000)
	v.SetDefault("CacheEntries", 10)
	v.SetDefault("ConcurrencyMode", ModeGoroutine)
	v.SetDefault("MaxConnections", 0)
	v.SetDefault("StoragePath", "./files")
	v.SetDefault("MaxPayloadSize", "256MiB")
	v.SetDefault("ReadTimeout", "60s")
	v.SetDefault("WriteTimeout", "60s")
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("Diagnostics.Enabled", false)
	v.SetDefault("Diagnostics.ListenPort", 9080)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 9000
	}
	g.ConcurrencyMode = strings.ToLower(strings.TrimSpace(g.ConcurrencyMode))
	if g.ConcurrencyMode == "" {
		g.ConcurrencyMode = ModeGoroutine
	}
	if g.LogLevel == "" {
		g.LogLevel = "info"
	}
}

func applyDiagnosticsDefaults(d *DiagnosticsConfig) {
	if d.ListenPort == 0 {
		d.ListenPort = 9080
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("invalid duration: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("unsupported duration type: %T", v)
		}
	}
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(ByteSize(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return parseByteSize(v)
		case int:
			return ByteSize(v), nil
		case int64:
			return ByteSize(v), nil
		case float64:
			return ByteSize(int64(v)), nil
		case ByteSize:
			return v, nil
		default:
			return nil, fmt.Errorf("unsupported byte size type: %T", v)
		}
	}
}
