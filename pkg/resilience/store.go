package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/haivivi/autodj/pkg/kv"
)

// HandleStore persists the latest resumption handle across process restarts.
type HandleStore interface {
	// Load returns the stored handle, or a zero Handle if none was saved.
	Load(ctx context.Context) (Handle, error)
	// Save replaces the stored handle.
	Save(ctx context.Context, h Handle) error
}

// MemoryHandleStore keeps the handle in memory.
type MemoryHandleStore struct {
	mu sync.Mutex
	h  Handle
}

// Load implements HandleStore.
func (s *MemoryHandleStore) Load(context.Context) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h, nil
}

// Save implements HandleStore.
func (s *MemoryHandleStore) Save(_ context.Context, h Handle) error {
	s.mu.Lock()
	s.h = h
	s.mu.Unlock()
	return nil
}

// DefaultHandleKey is where KVHandleStore keeps the handle of the default
// profile.
var DefaultHandleKey = kv.Key{"session", "default", "handle"}

// KVHandleStore stores the handle as a msgpack record in a kv.Store.
type KVHandleStore struct {
	Store kv.Store
	Key   kv.Key
	// Now stamps saved records. Defaults to time.Now.
	Now func() time.Time
}

type handleRecord struct {
	Handle  Handle    `msgpack:"handle"`
	SavedAt time.Time `msgpack:"saved_at"`
}

func (s *KVHandleStore) key() kv.Key {
	if len(s.Key) == 0 {
		return DefaultHandleKey
	}
	return s.Key
}

// Load implements HandleStore.
func (s *KVHandleStore) Load(ctx context.Context) (Handle, error) {
	b, err := s.Store.Get(ctx, s.key())
	if errors.Is(err, kv.ErrNotFound) {
		return Handle{}, nil
	}
	if err != nil {
		return Handle{}, fmt.Errorf("resilience: load handle: %w", err)
	}
	var rec handleRecord
	if err := msgpack.Unmarshal(b, &rec); err != nil {
		return Handle{}, fmt.Errorf("resilience: decode handle: %w", err)
	}
	return rec.Handle, nil
}

// Save implements HandleStore.
func (s *KVHandleStore) Save(ctx context.Context, h Handle) error {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	b, err := msgpack.Marshal(handleRecord{Handle: h, SavedAt: now().UTC()})
	if err != nil {
		return fmt.Errorf("resilience: encode handle: %w", err)
	}
	if err := s.Store.Set(ctx, s.key(), b); err != nil {
		return fmt.Errorf("resilience: save handle: %w", err)
	}
	return nil
}
