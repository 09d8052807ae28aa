package buffer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrDone is returned by Next once the write side is closed and the queue is
// drained.
var ErrDone = errors.New("buffer: done")

// Ring is a fixed-size queue that overwrites the oldest item when full.
// Add never blocks; Next blocks until an item is available.
type Ring[T any] struct {
	notify chan struct{}

	mu         sync.Mutex
	buf        []T
	head, tail int64
	dropped    int64
	closeWrite bool
	closeErr   error
}

// RingN creates a Ring holding at most size items. size < 1 is treated as 1.
func RingN[T any](size int) *Ring[T] {
	return &Ring[T]{
		notify: make(chan struct{}, 1),
		buf:    make([]T, max(size, 1)),
	}
}

// Add appends t, dropping the oldest item when the ring is full.
func (r *Ring[T]) Add(t T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closeErr != nil {
		return fmt.Errorf("buffer: write to closed ring: %w", r.closeErr)
	}
	if r.closeWrite {
		return fmt.Errorf("buffer: write to closed ring: %w", io.ErrClosedPipe)
	}
	size := int64(len(r.buf))
	r.buf[r.tail%size] = t
	r.tail++
	if r.tail-r.head > size {
		var zero T
		r.buf[r.head%size] = zero
		r.head++
		r.dropped++
	}
	r.wakeLocked()
	return nil
}

func (r *Ring[T]) wakeLocked() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Next removes and returns the oldest item, waiting until one is available,
// ctx is done or the ring is closed. The wake signal is passed on whenever
// the ring is left non-empty or closed, so several readers may wait at once.
func (r *Ring[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		r.mu.Lock()
		if r.closeErr != nil {
			err := r.closeErr
			r.wakeLocked()
			r.mu.Unlock()
			return zero, fmt.Errorf("buffer: read from closed ring: %w", err)
		}
		if r.head != r.tail {
			size := int64(len(r.buf))
			t := r.buf[r.head%size]
			r.buf[r.head%size] = zero
			r.head++
			if r.head != r.tail {
				r.wakeLocked()
			}
			r.mu.Unlock()
			return t, nil
		}
		if r.closeWrite {
			r.wakeLocked()
			r.mu.Unlock()
			return zero, ErrDone
		}
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-r.notify:
		}
	}
}

// Len returns the number of queued items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.tail - r.head)
}

// Dropped returns how many items were overwritten before being read.
func (r *Ring[T]) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Reset discards every queued item.
func (r *Ring[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.buf)
	r.head, r.tail = 0, 0
}

// CloseWrite rejects further writes. Queued items can still be read.
func (r *Ring[T]) CloseWrite() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeWrite = true
	r.wakeLocked()
	return nil
}

// CloseWithError closes both sides. Pending and later calls fail with err.
func (r *Ring[T]) CloseWithError(err error) error {
	if err == nil {
		err = io.ErrClosedPipe
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closeErr != nil {
		return nil
	}
	r.closeErr = err
	r.closeWrite = true
	r.wakeLocked()
	return nil
}

// Close is CloseWithError(io.ErrClosedPipe).
func (r *Ring[T]) Close() error {
	return r.CloseWithError(io.ErrClosedPipe)
}
