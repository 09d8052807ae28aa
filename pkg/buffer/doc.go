// Package buffer provides a bounded, thread-safe queue that keeps the most
// recent items.
//
// Ring is used where a slow consumer must never stall the producer, for
// example live audio chunks waiting to be sent to a remote session: when the
// queue is full the oldest chunk is dropped.
//
//	q := buffer.RingN[[]byte](32)
//	q.Add(chunk)
//	next, err := q.Next(ctx)
//
// CloseWrite lets the consumer drain what is left and then returns
// ErrDone; Close drops everything and unblocks the consumer immediately.
package buffer
