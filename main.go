package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/filehub/filehub/internal/cache"
	"github.com/filehub/filehub/internal/config"
	"github.com/filehub/filehub/internal/logging"
	"github.com/filehub/filehub/internal/metrics"
	"github.com/filehub/filehub/internal/server"
	"github.com/filehub/filehub/internal/server/routes"
	"github.com/filehub/filehub/internal/storage"
	"github.com/filehub/filehub/internal/version"
)

const (
	defaultConfigFile = "filehub.toml"
	shutdownTimeout   = 10 * time.Second
)

// cliOptions holds the parsed CLI flags so tests can inject them.
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool

	// Overrides; zero values keep the configured setting.
	port         int
	cacheEntries int
	cacheSet     bool
	mode         string
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run executes the CLI and returns the process exit code.
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stdErr, "load config: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "init logger: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["cache"] = cfg.Global.CacheMode()
		fields["mode"] = cfg.Global.ConcurrencyMode
		fields["result"] = "ok"
		logger.WithFields(fields).Info("configuration is valid")
		return 0
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Global.ListenPort))
	if err != nil {
		fmt.Fprintf(stdErr, "listen on port %d: %v\n", cfg.Global.ListenPort, err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, opts.configPath, logger, ln)
}

// serve runs the file server on ln, and the diagnostics app when enabled,
// until ctx is cancelled or the listener fails.
func serve(ctx context.Context, cfg *config.Config, configPath string, logger *logrus.Logger, ln net.Listener) int {
	store, err := storage.NewStore(cfg.Global.StoragePath)
	if err != nil {
		ln.Close()
		fmt.Fprintf(stdErr, "init storage directory: %v\n", err)
		return 1
	}
	mode, err := server.ParseMode(cfg.Global.ConcurrencyMode)
	if err != nil {
		ln.Close()
		fmt.Fprintln(stdErr, err.Error())
		return 1
	}

	metrics.Register()

	srv, err := server.New(server.Options{
		Logger:         logger,
		Cache:          cache.New(cfg.Global.CacheEntries),
		Store:          store,
		Mode:           mode,
		ReadTimeout:    cfg.Global.ReadTimeout.DurationValue(),
		WriteTimeout:   cfg.Global.WriteTimeout.DurationValue(),
		MaxPayload:     cfg.Global.MaxPayloadSize.Int64(),
		MaxConnections: cfg.Global.MaxConnections,
	})
	if err != nil {
		ln.Close()
		fmt.Fprintf(stdErr, "build server: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["cache"] = cfg.Global.CacheMode()
	fields["mode"] = string(mode)
	fields["storage_path"] = cfg.Global.StoragePath
	fields["max_payload"] = cfg.Global.MaxPayloadSize.String()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("configuration loaded")

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	var diag *fiber.App
	if cfg.Diagnostics.Enabled {
		diag, err = startDiagnostics(cfg, srv, logger)
		if err != nil {
			fmt.Fprintf(stdErr, "start diagnostics: %v\n", err)
			shutdown(srv, nil, logger)
			return 1
		}
	}

	select {
	case err := <-serveErr:
		logger.WithFields(logrus.Fields{"action": "listen"}).WithError(err).Error("file server stopped")
		shutdown(srv, diag, logger)
		fmt.Fprintf(stdErr, "file server failed: %v\n", err)
		return 1
	case <-ctx.Done():
		logger.WithFields(logrus.Fields{"action": "shutdown"}).Info("shutdown requested")
		if err := shutdown(srv, diag, logger); err != nil {
			return 1
		}
		return 0
	}
}

func startDiagnostics(cfg *config.Config, srv *server.Server, logger *logrus.Logger) (*fiber.App, error) {
	port := cfg.Diagnostics.ListenPort
	app, err := server.NewDiagnosticsApp(server.DiagnosticsOptions{
		Logger:     logger,
		ListenPort: port,
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterDiagnosticsRoutes(app, srv)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("diagnostics app started")

	go func() {
		if err := app.Listener(ln, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
			logger.WithFields(logrus.Fields{"action": "diagnostics"}).WithError(err).Warn("diagnostics app stopped")
		}
	}()
	return app, nil
}

func shutdown(srv *server.Server, diag *fiber.App, logger *logrus.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("file server: %w", err))
	}
	if diag != nil {
		if err := diag.ShutdownWithContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("diagnostics: %w", err))
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		logger.WithFields(logrus.Fields{"action": "shutdown"}).WithError(err).Warn("shutdown incomplete")
		return err
	}
	logger.WithFields(logrus.Fields{"action": "shutdown"}).Info("server stopped")
	return nil
}

// loadConfig reads the config file and applies CLI overrides.
func loadConfig(opts cliOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.port != 0 {
		cfg.Global.ListenPort = opts.port
	}
	if opts.cacheSet {
		cfg.Global.CacheEntries = opts.cacheEntries
	}
	if opts.mode != "" {
		cfg.Global.ConcurrencyMode = opts.mode
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseCLIFlags parses the CLI arguments and resolves the config path from
// the flag, FILEHUB_CONFIG, or ./filehub.toml when it exists.
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("filehub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag   string
		checkOnly    bool
		showVer      bool
		port         int
		cacheEntries int
		goroutines   bool
		mode         string
	)

	fs.StringVar(&configFlag, "config", "", "config file path (default ./filehub.toml, overridden by FILEHUB_CONFIG)")
	fs.BoolVar(&checkOnly, "check-config", false, "validate the configuration and exit")
	fs.BoolVar(&showVer, "version", false, "print version information")
	fs.IntVar(&port, "p", 0, "listen port")
	fs.IntVar(&cacheEntries, "l", -1, "number of cache entries, 0 disables the cache")
	fs.BoolVar(&goroutines, "m", false, "handle connections concurrently, overriding a config that selects sequential (goroutine is already the default)")
	fs.StringVar(&mode, "mode", "", "concurrency mode: sequential or goroutine")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("parse flags: %w", err)
	}

	cacheSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "l" {
			cacheSet = true
		}
	})
	if goroutines && mode == "" {
		mode = config.ModeGoroutine
	}

	path := os.Getenv("FILEHUB_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}

	return cliOptions{
		configPath:   path,
		checkOnly:    checkOnly,
		showVersion:  showVer,
		port:         port,
		cacheEntries: cacheEntries,
		cacheSet:     cacheSet,
		mode:         mode,
	}, nil
}
