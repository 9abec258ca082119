package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/filehub/filehub/internal/cache"
	"github.com/filehub/filehub/internal/storage"
)

// Mode selects how accepted connections are scheduled.
type Mode string

const (
	// ModeSequential handles one connection at a time on the accept loop.
	ModeSequential Mode = "sequential"
	// ModeGoroutine handles every connection on its own goroutine.
	ModeGoroutine Mode = "goroutine"
)

// ParseMode maps a configured mode name to a Mode.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeSequential:
		return ModeSequential, nil
	case ModeGoroutine, "":
		return ModeGoroutine, nil
	default:
		return "", fmt.Errorf("unsupported concurrency mode %q", raw)
	}
}

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("server closed")

// Options wires a Server to its collaborators.
type Options struct {
	Logger *logrus.Logger
	// Cache may be nil or have zero capacity, which disables caching.
	Cache *cache.Cache
	Store storage.Store
	Mode  Mode

	// Zero timeouts disable the corresponding deadline.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// MaxPayload bounds PUT/PUTC payloads; <= 0 means unlimited.
	MaxPayload int64
	// MaxConnections bounds concurrent handlers in goroutine mode; 0 means
	// unbounded.
	MaxConnections int64
}

// Server serves the file protocol on one listener.
type Server struct {
	logger       *logrus.Logger
	cache        *cache.Cache
	store        storage.Store
	mode         Mode
	readTimeout  time.Duration
	writeTimeout time.Duration
	maxPayload   int64

	slots *semaphore.Weighted
	loads singleflight.Group

	mu       sync.Mutex
	listener net.Listener
	stopCh   chan struct{}
	stopOnce sync.Once
	// acquireCtx is cancelled by Shutdown to release an accept loop blocked
	// on a full connection semaphore.
	acquireCtx    context.Context
	cancelAcquire context.CancelFunc
	inflight      sync.WaitGroup
}

// New validates opts and builds a Server.
func New(opts Options) (*Server, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Store == nil {
		return nil, errors.New("file store is required")
	}
	if opts.MaxConnections < 0 {
		return nil, fmt.Errorf("invalid max connections: %d", opts.MaxConnections)
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeGoroutine
	}
	if mode != ModeSequential && mode != ModeGoroutine {
		return nil, fmt.Errorf("unsupported concurrency mode %q", mode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		logger:        opts.Logger,
		cache:         opts.Cache,
		store:         opts.Store,
		mode:          mode,
		readTimeout:   opts.ReadTimeout,
		writeTimeout:  opts.WriteTimeout,
		maxPayload:    opts.MaxPayload,
		stopCh:        make(chan struct{}),
		acquireCtx:    ctx,
		cancelAcquire: cancel,
	}
	if opts.MaxConnections > 0 {
		s.slots = semaphore.NewWeighted(opts.MaxConnections)
	}
	return s, nil
}

// Cache returns the shared cache, possibly nil.
func (s *Server) Cache() *cache.Cache {
	return s.cache
}

// Mode reports the scheduling mode.
func (s *Server) Mode() Mode {
	return s.mode
}

// Addr returns the listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown is called, in which case it
// returns nil. Any other return is a listener failure.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	select {
	case <-s.stopCh:
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	default:
	}
	s.listener = ln
	// Serve counts as in flight so Shutdown also waits for the accept loop.
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	s.logger.WithFields(logrus.Fields{
		"action":      "listen",
		"addr":        ln.Addr().String(),
		"mode":        string(s.mode),
		"cache_slots": s.cache.Capacity(),
	}).Info("file server listening")

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("accept: %w", err)
			}
			backoff = nextBackoff(backoff)
			s.logger.WithFields(logrus.Fields{
				"action":  "accept",
				"backoff": backoff.String(),
			}).WithError(err).Warn("accept failed, retrying")
			time.Sleep(backoff)
			continue
		}
		backoff = 0
		s.dispatch(conn)
	}
}

// dispatch hands conn to a handler according to the server mode.
func (s *Server) dispatch(conn net.Conn) {
	if s.mode == ModeSequential {
		s.handleConnection(conn)
		return
	}

	if s.slots != nil {
		if err := s.slots.Acquire(s.acquireCtx, 1); err != nil {
			conn.Close()
			return
		}
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if s.slots != nil {
			defer s.slots.Release(1)
		}
		s.handleConnection(conn)
	}()
}

// Shutdown stops accepting connections and waits for in-flight handlers
// until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		close(s.stopCh)
		ln := s.listener
		s.mu.Unlock()

		s.cancelAcquire()
		if ln != nil {
			ln.Close()
		}
	})

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func nextBackoff(prev time.Duration) time.Duration {
	const (
		first = 5 * time.Millisecond
		limit = time.Second
	)
	if prev == 0 {
		return first
	}
	if next := prev * 2; next < limit {
		return next
	}
	return limit
}
