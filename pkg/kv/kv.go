// Package kv is a small key-value store with hierarchical keys, used to keep
// session state such as resumption handles across restarts.
//
// Keys are string paths joined with ':' for storage, so Key{"session",
// "default", "handle"} is stored as "session:default:handle". Segments must
// not contain ':'.
package kv

import (
	"context"
	"errors"
	"iter"
	"strings"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("kv: not found")

// Separator joins key segments in storage.
const Separator = ":"

// Key is a hierarchical path.
type Key []string

// String returns the storage form of the key.
func (k Key) String() string {
	return strings.Join(k, Separator)
}

// ParseKey splits a storage key back into its segments.
func ParseKey(s string) Key {
	if s == "" {
		return nil
	}
	return Key(strings.Split(s, Separator))
}

// prefix returns the byte prefix matching all keys below k. An empty key
// matches everything.
func (k Key) prefix() string {
	if len(k) == 0 {
		return ""
	}
	return k.String() + Separator
}

// Entry is a key-value pair yielded by List.
type Entry struct {
	Key   Key
	Value []byte
}

// Store is a key-value store with path keys.
type Store interface {
	// Get returns the value of key or ErrNotFound.
	Get(ctx context.Context, key Key) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key Key, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key Key) error

	// List yields every entry strictly below prefix in key order.
	List(ctx context.Context, prefix Key) iter.Seq2[Entry, error]

	// Close releases the store.
	Close() error
}
