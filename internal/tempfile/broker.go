// Package tempfile hands out request-scoped temporary files and guarantees
// their removal.
//
// Every Resource is created under a collision-free name and must be released
// exactly once its last reader or writer is done. Release is idempotent, so
// it can be attached to several exit paths without coordination.
package tempfile

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/book-expert/voice-service/internal/fsutil"
)

const filePermissions = 0o600

const (
	errFmtCreateTemp    = "failed to create temp file %s: %w"
	errFmtOpenTemp      = "failed to open temp file %s: %w"
	errFmtWriteTemp     = "failed to write temp file %s: %w"
	errFmtStatTemp      = "failed to stat temp file %s: %w"
	logFmtReleaseFailed = "Failed to remove temp file '%s': %v"
)

// Broker allocates temporary files inside a single directory.
type Broker struct {
	dir string
	log *logger.Logger
}

// New creates a Broker rooted at dir. An empty dir selects os.TempDir().
func New(dir string, log *logger.Logger) (*Broker, error) {
	if dir == "" {
		dir = os.TempDir()
	}

	err := fsutil.EnsureDir(dir)
	if err != nil {
		return nil, err
	}

	return &Broker{dir: dir, log: log}, nil
}

// Dir returns the directory the broker allocates into.
func (b *Broker) Dir() string {
	return b.dir
}

// Acquire creates an empty file named <prefix><uuid><suffix>. Prefix and
// suffix are sanitized so they cannot leave the broker's directory.
func (b *Broker) Acquire(prefix, suffix string) (*Resource, error) {
	name := fsutil.SanitizeFilename(prefix) + uuid.NewString() + fsutil.SanitizeFilename(suffix)
	path := filepath.Join(b.dir, name)

	// O_EXCL turns an impossible name clash into an error instead of sharing a file.
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, filePermissions)
	if err != nil {
		return nil, fmt.Errorf(errFmtCreateTemp, path, err)
	}

	closeErr := file.Close()
	if closeErr != nil {
		res := &Resource{path: path, log: b.log}
		res.Release()

		return nil, fmt.Errorf(errFmtCreateTemp, path, closeErr)
	}

	return &Resource{path: path, log: b.log}, nil
}

// Resource is a single temporary file owned by one request.
type Resource struct {
	path string
	log  *logger.Logger
}

// Path returns the file's location.
func (r *Resource) Path() string {
	return r.path
}

// Exists reports whether the file is still present.
func (r *Resource) Exists() bool {
	_, err := os.Stat(r.path)

	return err == nil
}

// Write replaces the file's content with everything read from src.
func (r *Resource) Write(src io.Reader) (int64, error) {
	file, err := os.OpenFile(r.path, os.O_WRONLY|os.O_TRUNC, filePermissions)
	if err != nil {
		return 0, fmt.Errorf(errFmtOpenTemp, r.path, err)
	}

	written, copyErr := io.Copy(file, src)
	closeErr := file.Close()

	if copyErr != nil {
		return written, fmt.Errorf(errFmtWriteTemp, r.path, copyErr)
	}

	if closeErr != nil {
		return written, fmt.Errorf(errFmtWriteTemp, r.path, closeErr)
	}

	return written, nil
}

// Release deletes the file if it still exists. A missing file is not an
// error; any other failure is logged and swallowed.
func (r *Resource) Release() {
	err := os.Remove(r.path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return
	}

	if r.log != nil {
		r.log.Warn(logFmtReleaseFailed, r.path, err)
	}
}

// Open returns a stream over the file's content that releases the file once
// it is read to the end or closed, whichever happens first.
func (r *Resource) Open() (*Stream, error) {
	file, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf(errFmtOpenTemp, r.path, err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()

		return nil, fmt.Errorf(errFmtStatTemp, r.path, err)
	}

	return &Stream{
		file:    file,
		res:     r,
		size:    info.Size(),
		modTime: info.ModTime(),
	}, nil
}

// Stream reads a Resource and deletes it when done. It implements
// io.ReadSeekCloser so it can back http.ServeContent.
type Stream struct {
	file    *os.File
	res     *Resource
	size    int64
	modTime time.Time
	once    sync.Once
	err     error
}

// Read reads from the underlying file. Reaching EOF releases the file;
// the open handle keeps the already-read data reachable until Close.
func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.file.Read(p)
	if errors.Is(err, io.EOF) {
		s.res.Release()
	}

	return n, err
}

// Seek implements io.Seeker.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	return s.file.Seek(offset, whence)
}

// Close closes the file and releases it. It is safe to call more than once.
func (s *Stream) Close() error {
	s.once.Do(func() {
		s.err = s.file.Close()
		s.res.Release()
	})

	return s.err
}

// Size returns the file size at the time the stream was opened.
func (s *Stream) Size() int64 {
	return s.size
}

// ModTime returns the file's modification time at open.
func (s *Stream) ModTime() time.Time {
	return s.modTime
}

// Path returns the path of the streamed file.
func (s *Stream) Path() string {
	return s.res.Path()
}
