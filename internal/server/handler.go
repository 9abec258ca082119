package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/filehub/filehub/internal/cache"
	"github.com/filehub/filehub/internal/integrity"
	"github.com/filehub/filehub/internal/logging"
	"github.com/filehub/filehub/internal/metrics"
	"github.com/filehub/filehub/internal/protocol"
	"github.com/filehub/filehub/internal/storage"
)

const writeBufferSize = 64 * 1024

// result is what one request produced, for logging and metrics.
type result struct {
	outcome  string
	cacheHit bool
	size     int64
	err      error
}

// handleConnection serves exactly one request on conn and closes it.
func (s *Server) handleConnection(conn net.Conn) {
	connID := uuid.NewString()
	remote := conn.RemoteAddr().String()
	start := time.Now()
	command := ""

	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logging.ConnFields(connID, remote)).WithFields(logrus.Fields{
				"action":  metrics.OutcomePanic,
				"command": command,
				"panic":   fmt.Sprint(r),
				"stack":   string(debug.Stack()),
			}).Error("request handler panicked")
			metrics.RecordRequest(command, metrics.OutcomePanic, time.Since(start).Seconds())
		}
	}()

	if s.readTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	}
	reader := bufio.NewReaderSize(conn, protocol.MaxLineLength)
	req, err := protocol.ReadRequest(reader, s.maxPayload)
	if err != nil {
		s.logReadFailure(connID, remote, err)
		metrics.RecordRequest("", classifyReadError(err), time.Since(start).Seconds())
		return
	}
	command = string(req.Command)

	ctx := context.Background()
	var res result
	switch req.Command {
	case protocol.CommandGet, protocol.CommandGetC:
		res = s.serveFile(ctx, conn, req)
	case protocol.CommandPut, protocol.CommandPutC:
		res = s.storeFile(ctx, req)
	}

	elapsed := time.Since(start)
	metrics.RecordRequest(command, res.outcome, elapsed.Seconds())
	s.logResult(connID, remote, req, res, elapsed)
}

// serveFile answers GET and GETC. A cache miss reads the file from the
// store, sends it and then caches it, whether or not the send succeeded.
func (s *Server) serveFile(ctx context.Context, conn net.Conn, req *protocol.Request) result {
	entry, hit := s.cache.Lookup(req.FileName)
	if s.cache.Enabled() {
		metrics.RecordCacheLookup(hit)
	}
	res := result{cacheHit: hit}

	if !hit {
		loaded, err := s.load(ctx, req.FileName)
		if err != nil {
			res.err = err
			res.outcome = classifyStorageError(err)
			return res
		}
		entry = loaded
		defer s.remember(entry)
	}
	res.size = entry.Size

	if s.writeTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	w := bufio.NewWriterSize(conn, writeBufferSize)
	resp := &protocol.Response{
		FileName: req.FileName,
		Size:     entry.Size,
		Digest:   entry.Digest,
		Payload:  entry.Content,
	}
	err := protocol.WriteResponse(w, resp, req.ChecksumRequested)
	if err == nil {
		err = w.Flush()
	}
	if err != nil {
		res.err = err
		res.outcome = metrics.OutcomeTransportError
		return res
	}

	metrics.RecordBytes("out", len(entry.Content))
	res.outcome = metrics.OutcomeOK
	return res
}

// storeFile answers PUT and PUTC. A PUTC payload that does not match its
// digest touches neither the store nor the cache.
func (s *Server) storeFile(ctx context.Context, req *protocol.Request) result {
	res := result{size: int64(len(req.Payload))}
	metrics.RecordBytes("in", len(req.Payload))

	digest := req.PayloadDigest
	if req.Command == protocol.CommandPutC {
		if !integrity.Verify(req.PayloadDigest, req.Payload) {
			res.outcome = metrics.OutcomeDigestMismatch
			res.err = fmt.Errorf("digest mismatch: received %s, computed %s", req.PayloadDigest, integrity.Digest(req.Payload))
			return res
		}
	} else {
		digest = integrity.Digest(req.Payload)
	}

	if _, err := storage.WriteFile(ctx, s.store, req.FileName, req.Payload); err != nil {
		res.outcome = classifyStorageError(err)
		res.err = err
		return res
	}

	s.remember(cache.Entry{
		Name:    req.FileName,
		Content: req.Payload,
		Size:    int64(len(req.Payload)),
		Digest:  digest,
	})
	res.outcome = metrics.OutcomeOK
	return res
}

// load reads name from the store. With the cache enabled, concurrent misses
// for the same name share one read and digest computation; with it disabled
// every request reads storage itself.
func (s *Server) load(ctx context.Context, name string) (cache.Entry, error) {
	if !s.cache.Enabled() {
		return readEntry(ctx, s.store, name)
	}
	v, err, _ := s.loads.Do(name, func() (any, error) {
		return readEntry(ctx, s.store, name)
	})
	if err != nil {
		return cache.Entry{}, err
	}
	return v.(cache.Entry), nil
}

func readEntry(ctx context.Context, store storage.Store, name string) (cache.Entry, error) {
	content, err := storage.ReadFile(ctx, store, name)
	if err != nil {
		return cache.Entry{}, err
	}
	return cache.Entry{
		Name:    name,
		Content: content,
		Size:    int64(len(content)),
		Digest:  integrity.Digest(content),
	}, nil
}

func (s *Server) remember(entry cache.Entry) {
	if !s.cache.Enabled() {
		return
	}
	placed := s.cache.Put(entry)
	metrics.RecordEviction(placed.Evicted)
	if placed.Evicted != "" {
		s.logger.WithFields(logrus.Fields{
			"action":  "cache_evict",
			"slot":    placed.Slot,
			"evicted": placed.Evicted,
			"file":    entry.Name,
		}).Debug("cache slot replaced")
	}
}

func classifyStorageError(err error) string {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, storage.ErrInvalidName):
		return metrics.OutcomeInvalidName
	default:
		return metrics.OutcomeStorageError
	}
}

// classifyReadError maps a request read failure to an outcome. A peer that
// closes before sending a byte is not a transport failure.
func classifyReadError(err error) string {
	switch {
	case errors.Is(err, io.EOF):
		return metrics.OutcomeNoRequest
	case errors.Is(err, protocol.ErrUnknownCommand),
		errors.Is(err, protocol.ErrMalformedRequest),
		errors.Is(err, protocol.ErrLineTooLong),
		errors.Is(err, protocol.ErrPayloadTooLarge):
		return metrics.OutcomeProtocolError
	default:
		return metrics.OutcomeTransportError
	}
}

func (s *Server) logReadFailure(connID, remote string, err error) {
	outcome := classifyReadError(err)
	entry := s.logger.WithFields(logging.ConnFields(connID, remote)).
		WithField("action", outcome).
		WithError(err)
	if errors.Is(err, io.EOF) {
		entry.Debug("connection closed before a request was sent")
		return
	}
	entry.Warn("request rejected")
}

func (s *Server) logResult(connID, remote string, req *protocol.Request, res result, elapsed time.Duration) {
	action := res.outcome
	if action == metrics.OutcomeOK {
		action = "serve"
		if req.Command.IsWrite() {
			action = "store"
		}
	}
	entry := s.logger.WithFields(logging.RequestFields(connID, remote, string(req.Command), req.FileName, res.cacheHit)).
		WithFields(logging.SizeFields(res.size)).
		WithFields(logrus.Fields{
			"action":     action,
			"elapsed_ms": elapsed.Milliseconds(),
		})

	switch res.outcome {
	case metrics.OutcomeOK:
		entry.Info("request completed")
	case metrics.OutcomeNotFound:
		entry.WithError(res.err).Warn("file not found")
	case metrics.OutcomeInvalidName:
		entry.WithError(res.err).Warn("file name rejected")
	default:
		entry.WithError(res.err).Warn("request failed")
	}
}
