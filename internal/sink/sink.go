// Package sink persists the final document of each processed request.
//
// Two backends exist: a directory of JSON files (one file per request,
// written to a temp file and renamed into place) and a SQLite table
// request_logs. Documents are append-only; writing an existing key fails.
package sink

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/fyrsmithlabs/ultrathink/internal/config"
)

// Kinds accepted by New.
const (
	KindNone   = "none"
	KindFile   = "file"
	KindSQLite = "sqlite"
)

var (
	// ErrExists is returned when a key has already been written.
	ErrExists = errors.New("sink: document already exists")
	// ErrNotFound is returned by Read for an unknown key.
	ErrNotFound = errors.New("sink: document not found")
	// ErrInvalidKey is returned for keys that are not safe file names.
	ErrInvalidKey = errors.New("sink: invalid key")
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Store writes and reads request documents.
type Store interface {
	Write(ctx context.Context, key string, doc map[string]any) error
	Read(ctx context.Context, key string) (map[string]any, error)
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// New opens the store selected by cfg. KindNone (or an empty kind)
// returns nil, nil.
func New(cfg config.SinkConfig) (Store, error) {
	switch cfg.Kind {
	case "", KindNone:
		return nil, nil
	case KindFile:
		s, err := NewFileStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case KindSQLite:
		s, err := NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("sink: unknown kind %q", cfg.Kind)
	}
}

func validateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
