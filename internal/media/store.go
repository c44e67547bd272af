// Package media stores uploaded audio files on local disk for the lifetime
// of a karaoke session.
//
// A [Store] owns a directory; every [File] in it is an acquired resource
// that is removed from disk when released. Files carry the SHA-256 digest of
// their content, which keys the analysis cache.
package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/MrWong99/sinfonia/internal/observe"
)

// DefaultMaxBytes is the default upload size limit (20 MiB).
const DefaultMaxBytes = 20 << 20

var (
	// ErrTooLarge is returned by [Store.Put] when the content exceeds the
	// store's size limit.
	ErrTooLarge = errors.New("media: file exceeds size limit")

	// ErrUnsupportedType is returned for content that is not audio.
	ErrUnsupportedType = errors.New("media: unsupported audio type")

	// ErrStoreClosed is returned by [Store.Put] after [Store.Close].
	ErrStoreClosed = errors.New("media: store closed")
)

// audioExtensions lists the accepted file extensions, mapped to the content
// type served back to clients.
var audioExtensions = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/opus",
	".flac": "audio/flac",
	".webm": "audio/webm",
}

// CheckAudio reports whether an upload named filename with the declared
// contentType looks like audio. Either an audio/* content type or a known
// audio extension is accepted.
func CheckAudio(filename, contentType string) error {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil && strings.HasPrefix(mt, "audio/") {
		return nil
	}
	if _, ok := audioExtensions[strings.ToLower(filepath.Ext(filename))]; ok {
		return nil
	}
	return fmt.Errorf("%w: %q (%s)", ErrUnsupportedType, filename, contentType)
}

// Option configures a [Store].
type Option func(*Store)

// WithDir stores files in dir instead of a fresh temporary directory. The
// directory is created if needed and is not removed by [Store.Close].
func WithDir(dir string) Option {
	return func(s *Store) { s.dir = dir }
}

// WithMaxBytes sets the size limit. Non-positive values keep the default.
func WithMaxBytes(n int64) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// Store is a directory of session audio files. It is safe for concurrent use.
type Store struct {
	dir      string
	ownsDir  bool
	maxBytes int64
	log      *slog.Logger
	metrics  *observe.Metrics

	mu     sync.Mutex
	files  map[string]*File
	closed bool
}

// NewStore creates a Store.
func NewStore(opts ...Option) (*Store, error) {
	s := &Store{
		maxBytes: DefaultMaxBytes,
		files:    make(map[string]*File),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	if s.dir == "" {
		dir, err := os.MkdirTemp("", "sinfonia-media-*")
		if err != nil {
			return nil, fmt.Errorf("media: create temp dir: %w", err)
		}
		s.dir = dir
		s.ownsDir = true
	} else if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return nil, fmt.Errorf("media: create dir %s: %w", s.dir, err)
	}
	return s, nil
}

// Dir returns the directory holding the files.
func (s *Store) Dir() string { return s.dir }

// MaxBytes returns the size limit.
func (s *Store) MaxBytes() int64 { return s.maxBytes }

// Put copies r into a new file. filename is the client-supplied name, kept
// for its extension and for display; the stored name is a fresh UUID.
func (s *Store) Put(ctx context.Context, r io.Reader, filename, contentType string) (*File, error) {
	if err := CheckAudio(filename, contentType); err != nil {
		return nil, err
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrStoreClosed
	}

	id := uuid.NewString()
	ext := strings.ToLower(filepath.Ext(filename))
	path := filepath.Join(s.dir, id+ext)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("media: create %s: %w", path, err)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), io.LimitReader(r, s.maxBytes+1))
	closeErr := f.Close()
	switch {
	case err != nil:
		_ = os.Remove(path)
		return nil, fmt.Errorf("media: write %s: %w", filename, err)
	case closeErr != nil:
		_ = os.Remove(path)
		return nil, fmt.Errorf("media: close %s: %w", filename, closeErr)
	case n > s.maxBytes:
		_ = os.Remove(path)
		return nil, fmt.Errorf("%w: %s is larger than %d bytes", ErrTooLarge, filename, s.maxBytes)
	}

	file := &File{
		id:          id,
		path:        path,
		filename:    filepath.Base(filename),
		contentType: resolveContentType(ext, contentType),
		size:        n,
		digest:      hex.EncodeToString(h.Sum(nil)),
		store:       s,
	}

	s.mu.Lock()
	s.files[id] = file
	s.mu.Unlock()

	s.metrics.UploadBytes.Record(ctx, n)
	s.log.Debug("media: stored upload", "id", id, "filename", file.filename, "bytes", n)
	return file, nil
}

// Get returns the live file with the given ID.
func (s *Store) Get(id string) (*File, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	return f, ok
}

// Len returns the number of live files.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

// Close releases every live file and, if the store created its directory,
// removes it. Further calls to Put fail.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	files := make([]*File, 0, len(s.files))
	for _, f := range s.files {
		files = append(files, f)
	}
	s.mu.Unlock()

	var errs []error
	for _, f := range files {
		if err := f.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.ownsDir {
		if err := os.RemoveAll(s.dir); err != nil {
			errs = append(errs, fmt.Errorf("media: remove %s: %w", s.dir, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Store) forget(id string) {
	s.mu.Lock()
	delete(s.files, id)
	s.mu.Unlock()
}

func resolveContentType(ext, declared string) string {
	if mt, _, err := mime.ParseMediaType(declared); err == nil && strings.HasPrefix(mt, "audio/") {
		return mt
	}
	if ct, ok := audioExtensions[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}
