// Package store caches finished analyses so that re-uploading the same
// audio for the same target language skips transcription and the LLM calls.
//
// Two implementations exist: [Memory] for single-process deployments and
// tests, and postgres.Store for a shared cache backed by PostgreSQL.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/MrWong99/sinfonia/pkg/lyrics"
)

// ErrNotFound is returned by [Store.Get] when no analysis is cached under
// the key.
var ErrNotFound = errors.New("store: not found")

// Key identifies a cached analysis: the SHA-256 of the audio content and the
// target language.
type Key struct {
	Digest   string
	Language string
}

// NewKey returns a normalised key. Language is compared case-insensitively.
func NewKey(digest, language string) Key {
	return Key{
		Digest:   strings.ToLower(strings.TrimSpace(digest)),
		Language: strings.ToLower(strings.TrimSpace(language)),
	}
}

// String returns "digest:language".
func (k Key) String() string {
	return k.Digest + ":" + k.Language
}

// Store is an analysis cache. Implementations must be safe for concurrent
// use. Stored analyses are treated as immutable by every caller.
type Store interface {
	// Get returns the analysis cached under key, or [ErrNotFound].
	Get(ctx context.Context, key Key) (*lyrics.Analysis, error)

	// Put stores a under key, replacing any previous entry.
	Put(ctx context.Context, key Key, a *lyrics.Analysis) error

	// Delete removes the entry under key. Deleting a missing key is not an
	// error.
	Delete(ctx context.Context, key Key) error

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}
