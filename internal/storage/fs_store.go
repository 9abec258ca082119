package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// lockStripes bounds the number of writer mutexes regardless of how many
// names are stored.
const lockStripes = 64

// NewStore returns a Store rooted at root, creating the directory if needed.
func NewStore(root string) (Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("storage path required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}
	return &fileStore{root: abs}, nil
}

// fileStore keeps one file per name under root. Writers of the same path are
// serialized through a striped mutex; readers take no lock, so a Get racing a
// Put observes either the old or the new file, never a partial one.
type fileStore struct {
	root    string
	writers [lockStripes]sync.Mutex
}

func (s *fileStore) Get(ctx context.Context, name string) (*ReadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filePath, err := s.entryPath(name)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, ErrNotFound
	}

	return &ReadResult{
		Entry:  entryFor(name, filePath, info),
		Reader: f,
	}, nil
}

func (s *fileStore) Put(ctx context.Context, name string, body io.Reader) (*Entry, error) {
	filePath, err := s.entryPath(name)
	if err != nil {
		return nil, err
	}

	mu := s.writerLock(filePath)
	mu.Lock()
	defer mu.Unlock()

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory for %s: %w", name, err)
	}
	tempName, err := writeTemp(ctx, dir, body)
	if err != nil {
		return nil, fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return nil, fmt.Errorf("replace %s: %w", name, err)
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}
	entry := entryFor(name, filePath, info)
	return &entry, nil
}

func (s *fileStore) Remove(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	filePath, err := s.entryPath(name)
	if err != nil {
		return err
	}

	mu := s.writerLock(filePath)
	mu.Lock()
	defer mu.Unlock()

	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}

func (s *fileStore) writerLock(filePath string) *sync.Mutex {
	return &s.writers[xxhash.Sum64String(filePath)%lockStripes]
}

// entryPath maps a protocol file name to a path under root. Only canonical
// relative names are accepted, so every stored file has exactly one name:
// "./x", "/x", "a/../x" and "x/" are rejected rather than aliased to "x".
func (s *fileStore) entryPath(name string) (string, error) {
	if name == "" || strings.ContainsRune(name, 0) {
		return "", ErrInvalidName
	}
	slashed := filepath.ToSlash(name)
	if path.IsAbs(slashed) || path.Clean(slashed) != slashed || slashed == "." || slashed == ".." || strings.HasPrefix(slashed, "../") {
		return "", ErrInvalidName
	}

	filePath := filepath.Join(s.root, filepath.FromSlash(slashed))
	rel, err := filepath.Rel(s.root, filePath)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrInvalidName
	}
	return filePath, nil
}

// writeTemp copies body into a synced temp file in dir and returns its name.
// The temp file is removed on any failure.
func writeTemp(ctx context.Context, dir string, body io.Reader) (name string, err error) {
	f, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	if _, err = io.Copy(f, contextReader{ctx: ctx, r: body}); err != nil {
		return "", err
	}
	if err = f.Chmod(0o644); err != nil {
		return "", err
	}
	if err = f.Sync(); err != nil {
		return "", err
	}
	if err = f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func entryFor(name, filePath string, info fs.FileInfo) Entry {
	return Entry{
		Name:      name,
		FilePath:  filePath,
		SizeBytes: info.Size(),
		ModTime:   info.ModTime(),
	}
}

// contextReader fails the next Read once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
