// Command filehub-client stores or fetches one file on a filehub server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/filehub/filehub/internal/client"
	"github.com/filehub/filehub/internal/version"
)

// cliOptions holds the parsed CLI flags so tests can inject them.
type cliOptions struct {
	host        string
	port        int
	putPath     string
	getName     string
	saveName    string
	checksum    bool
	timeout     time.Duration
	showVersion bool
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
	os.Exit(run(context.Background(), opts))
}

// run performs the requested transfer and returns the process exit code.
func run(ctx context.Context, opts cliOptions) int {
	if opts.showVersion {
		fmt.Fprintln(stdOut, version.Full())
		return 0
	}

	logger := newLogger()
	c := client.New(opts.host, opts.port)
	if opts.timeout > 0 {
		c.Timeout = opts.timeout
	}

	var err error
	if opts.putPath != "" {
		err = putFile(ctx, c, opts, logger)
	} else {
		err = getFile(ctx, c, opts, logger)
	}
	if err != nil {
		fmt.Fprintf(stdErr, "%v\n", err)
		return 1
	}
	return 0
}

func putFile(ctx context.Context, c *client.Client, opts cliOptions, logger *logrus.Logger) error {
	data, err := os.ReadFile(opts.putPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", opts.putPath, err)
	}
	name := opts.saveName
	if name == "" {
		name = filepath.Base(opts.putPath)
	}

	fields := logrus.Fields{
		"action":   "put",
		"server":   c.Addr,
		"file":     name,
		"checksum": opts.checksum,
		"size":     len(data),
	}
	if err := c.Put(ctx, name, data, opts.checksum); err != nil {
		logger.WithFields(fields).WithError(err).Error("upload failed")
		return fmt.Errorf("put %s: %w", name, err)
	}
	logger.WithFields(fields).Debug("upload delivered")
	fmt.Fprintf(stdOut, "sent %s (%s)\n", name, humanize.IBytes(uint64(len(data))))
	return nil
}

func getFile(ctx context.Context, c *client.Client, opts cliOptions, logger *logrus.Logger) error {
	target := opts.saveName
	if target == "" {
		target = filepath.Base(opts.getName)
	}

	fields := logrus.Fields{
		"action":   "get",
		"server":   c.Addr,
		"file":     opts.getName,
		"checksum": opts.checksum,
		"target":   target,
	}
	resp, err := c.Get(ctx, opts.getName, opts.checksum)
	if err != nil {
		if errors.Is(err, client.ErrDigestMismatch) {
			fields["action"] = "digest_mismatch"
		}
		logger.WithFields(fields).WithError(err).Error("download failed")
		return fmt.Errorf("get %s: %w", opts.getName, err)
	}

	if err := writeFileAtomic(target, resp.Payload); err != nil {
		return fmt.Errorf("save %s: %w", target, err)
	}
	fields["size"] = resp.Size
	logger.WithFields(fields).Debug("download saved")
	fmt.Fprintf(stdOut, "saved %s (%s)\n", target, humanize.IBytes(uint64(resp.Size)))
	return nil
}

// writeFileAtomic replaces path with data through a temp file in the same
// directory.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(stdErr)
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	return logger
}

// parseCLIFlags parses the CLI arguments. Exactly one of -P and -G is
// required.
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("filehub-client", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var opts cliOptions
	fs.StringVar(&opts.host, "s", "127.0.0.1", "server host")
	fs.IntVar(&opts.port, "p", 9000, "server port")
	fs.StringVar(&opts.putPath, "P", "", "local file to upload")
	fs.StringVar(&opts.getName, "G", "", "file to download")
	fs.StringVar(&opts.saveName, "S", "", "name to store the upload under, or local path for the download")
	fs.BoolVar(&opts.checksum, "c", false, "send and verify an MD5 checksum (PUTC/GETC)")
	fs.DurationVar(&opts.timeout, "timeout", 60*time.Second, "timeout for one transfer")
	fs.BoolVar(&opts.showVersion, "version", false, "print version information")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("parse flags: %w", err)
	}
	if opts.showVersion {
		return opts, nil
	}
	if (opts.putPath == "") == (opts.getName == "") {
		return cliOptions{}, errors.New("exactly one of -P <file> or -G <file> is required")
	}
	if opts.port <= 0 || opts.port > 65535 {
		return cliOptions{}, fmt.Errorf("invalid port %d", opts.port)
	}
	return opts, nil
}
