// Package kv is the key-value contract every domain store is built on:
// get, set and a version-checked conditional set.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the key is absent. It is never used for infrastructure failures.
	ErrNotFound = errors.New("kv: key not found")
	// ErrConflict means the stored version differs from the expected one.
	ErrConflict = errors.New("kv: version conflict")
	// ErrUnavailable wraps every failure to reach the store.
	ErrUnavailable = errors.New("kv: store unavailable")
	// ErrCorrupt means a stored entry exists but cannot be read back: a bad
	// version field or a value that does not decode. Retrying does not help.
	ErrCorrupt = errors.New("kv: corrupt entry")
)

// Entry is a stored value and its version. Versions start at 1 and grow by one
// on every write.
type Entry struct {
	Value   []byte
	Version int64
}

//go:generate go run github.com/vektra/mockery/v2 --name=Store --dir=. --output=./mocks --outpkg=mocks

// Store is implemented by memory, redis, postgres and mongo backends.
type Store interface {
	// Get returns ErrNotFound for an absent key.
	Get(ctx context.Context, key string) (Entry, error)
	// Set writes unconditionally and returns the new version.
	Set(ctx context.Context, key string, value []byte) (int64, error)
	// CompareAndSet writes only if the current version equals expected
	// (0 = key must be absent) and returns the new version, or ErrConflict.
	CompareAndSet(ctx context.Context, key string, expected int64, value []byte) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// Unavailable wraps err as ErrUnavailable unless it is a context error.
func Unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("kv %s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

// GetJSON loads key into a T.
func GetJSON[T any](ctx context.Context, s Store, key string) (T, int64, error) {
	var v T
	e, err := s.Get(ctx, key)
	if err != nil {
		return v, 0, err
	}
	if err := json.Unmarshal(e.Value, &v); err != nil {
		return v, 0, fmt.Errorf("%w: decode %s: %v", ErrCorrupt, key, err)
	}
	return v, e.Version, nil
}

// CompareAndSetJSON encodes v and writes it if key is still at expected.
func CompareAndSetJSON(ctx context.Context, s Store, key string, expected int64, v any) (int64, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("kv: encode %s: %w", key, err)
	}
	return s.CompareAndSet(ctx, key, expected, b)
}

// SetJSON encodes v and writes it unconditionally.
func SetJSON(ctx context.Context, s Store, key string, v any) (int64, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("kv: encode %s: %w", key, err)
	}
	return s.Set(ctx, key, b)
}
