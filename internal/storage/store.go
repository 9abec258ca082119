package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"
)

// Store reads and writes whole files by name.
type Store interface {
	// Get returns a streaming reader over the named file, or ErrNotFound.
	Get(ctx context.Context, name string) (*ReadResult, error)

	// Put replaces the named file with the content of body. The previous
	// content survives any failure.
	Put(ctx context.Context, name string, body io.Reader) (*Entry, error)

	// Remove deletes the named file. Removing a missing file is not an error.
	Remove(ctx context.Context, name string) error
}

// Entry describes a stored file.
type Entry struct {
	Name      string    `json:"name"`
	FilePath  string    `json:"file_path"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
}

// ReadResult pairs an Entry with a reader positioned at the start of the file.
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

var (
	// ErrNotFound reports a name with no regular file behind it.
	ErrNotFound = errors.New("file not found")
	// ErrInvalidName reports a name that does not resolve to a file under the root.
	ErrInvalidName = errors.New("invalid file name")
)

// ReadFile returns the whole content of the named file.
func ReadFile(ctx context.Context, s Store, name string) ([]byte, error) {
	result, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	defer result.Reader.Close()

	buf := bytes.NewBuffer(make([]byte, 0, result.Entry.SizeBytes))
	if _, err := buf.ReadFrom(contextReader{ctx: ctx, r: result.Reader}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile replaces the named file with data.
func WriteFile(ctx context.Context, s Store, name string, data []byte) (*Entry, error) {
	return s.Put(ctx, name, bytes.NewReader(data))
}
