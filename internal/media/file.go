package media

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
)

// File is a stored audio file. Release removes it from disk; it is safe to
// call more than once and from several goroutines.
type File struct {
	id          string
	path        string
	filename    string
	contentType string
	size        int64
	digest      string
	store       *Store

	once       sync.Once
	releaseErr error
}

// ID returns the file's unique ID.
func (f *File) ID() string { return f.id }

// Path returns the local path of the file.
func (f *File) Path() string { return f.path }

// Filename returns the client-supplied base name.
func (f *File) Filename() string { return f.filename }

// ContentType returns the audio MIME type.
func (f *File) ContentType() string { return f.contentType }

// Size returns the size in bytes.
func (f *File) Size() int64 { return f.size }

// Digest returns the hex SHA-256 of the content.
func (f *File) Digest() string { return f.digest }

// Release deletes the file. Only the first call does any work; later calls
// return the first call's result.
func (f *File) Release() error {
	f.once.Do(func() {
		if f.store != nil {
			f.store.forget(f.id)
		}
		if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			f.releaseErr = fmt.Errorf("media: remove %s: %w", f.path, err)
			return
		}
		if f.store != nil {
			f.store.log.Debug("media: released", "id", f.id)
		}
	})
	return f.releaseErr
}
