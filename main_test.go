package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/filehub/filehub/internal/client"
	"github.com/filehub/filehub/internal/config"
	"github.com/filehub/filehub/internal/logging"
)

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv("FILEHUB_CONFIG", "/tmp/env.toml")

	opts, err := parseCLIFlags([]string{})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if opts.configPath != "/tmp/env.toml" {
		t.Fatalf("env var should be used, got %s", opts.configPath)
	}

	opts, err = parseCLIFlags([]string{"--config", "/tmp/flag.toml"})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if opts.configPath != "/tmp/flag.toml" {
		t.Fatalf("flag should win over env var, got %s", opts.configPath)
	}
}

func TestParseCLIFlagsWithoutConfigUsesDefaults(t *testing.T) {
	t.Setenv("FILEHUB_CONFIG", "")
	t.Chdir(t.TempDir())

	opts, err := parseCLIFlags(nil)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if opts.configPath != "" {
		t.Fatalf("expected empty config path, got %s", opts.configPath)
	}
	if opts.cacheSet || opts.port != 0 || opts.mode != "" {
		t.Fatalf("no overrides expected: %+v", opts)
	}
}

func TestParseCLIFlagsOverrides(t *testing.T) {
	opts, err := parseCLIFlags([]string{"-p", "9200", "-l", "0", "-m"})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if opts.port != 9200 || !opts.cacheSet || opts.cacheEntries != 0 || opts.mode != config.ModeGoroutine {
		t.Fatalf("unexpected overrides: %+v", opts)
	}

	opts, err = parseCLIFlags([]string{"-m", "-mode", "sequential"})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if opts.mode != config.ModeSequential {
		t.Fatalf("-mode should win over -m, got %s", opts.mode)
	}

	if _, err := parseCLIFlags([]string{"-p", "not-a-port"}); err == nil {
		t.Fatalf("invalid flag value should fail")
	}
}

func TestConcurrencyFlagOverridesSequentialConfig(t *testing.T) {
	configPath := writeConfigFile(t, fmt.Sprintf(`
ConcurrencyMode = "sequential"
StoragePath = "%s"
`, filepath.Join(t.TempDir(), "files")))

	cfg, err := loadConfig(cliOptions{configPath: configPath})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Global.ConcurrencyMode != config.ModeSequential {
		t.Fatalf("config should select sequential, got %s", cfg.Global.ConcurrencyMode)
	}

	opts, err := parseCLIFlags([]string{"-config", configPath, "-m"})
	if err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, err = loadConfig(opts)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Global.ConcurrencyMode != config.ModeGoroutine {
		t.Fatalf("-m should switch to goroutine, got %s", cfg.Global.ConcurrencyMode)
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "valid.toml"), checkOnly: true})
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d (stderr=%s)", code, stdErrBuffer().String())
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	for _, name := range []string{"invalid.toml", "process.toml", "missing.toml"} {
		t.Run(name, func(t *testing.T) {
			useBufferWriters(t)
			code := run(cliOptions{configPath: configFixture(t, name), checkOnly: true})
			if code == 0 {
				t.Fatalf("invalid config should exit non-zero")
			}
			if !strings.Contains(stdErrBuffer().String(), "load config") {
				t.Fatalf("expected load config error, got %q", stdErrBuffer().String())
			}
		})
	}
}

func TestRunCheckConfigRejectsInvalidOverride(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{
		configPath:   configFixture(t, "valid.toml"),
		checkOnly:    true,
		cacheEntries: -3,
		cacheSet:     true,
	})
	if code == 0 {
		t.Fatalf("negative cache size override should fail")
	}
}

func TestRunVersionOutput(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{showVersion: true})
	if code != 0 {
		t.Fatalf("version mode should succeed, got %d", code)
	}
	if !strings.Contains(stdOut.(*bytes.Buffer).String(), "filehub") {
		t.Fatalf("version output should contain filehub")
	}
}

func TestServeHandlesRequestsUntilCancelled(t *testing.T) {
	useBufferWriters(t)

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	cfg.Global.StoragePath = t.TempDir()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() { done <- serve(ctx, cfg, "", logging.Discard(), ln) }()

	c := &client.Client{Addr: ln.Addr().String(), DialTimeout: time.Second, Timeout: 5 * time.Second}
	if err := c.Put(context.Background(), "report.txt", []byte("hi\n"), true); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	resp, err := c.Get(context.Background(), "report.txt", true)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(resp.Payload) != "hi\n" {
		t.Fatalf("unexpected payload %q", resp.Payload)
	}

	cancel()
	select {
	case code := <-done:
		if code != 0 {
			t.Fatalf("expected clean shutdown, got %d (stderr=%s)", code, stdErrBuffer().String())
		}
	case <-time.After(15 * time.Second):
		t.Fatalf("serve did not return after cancellation")
	}
}
