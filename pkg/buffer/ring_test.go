package buffer

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func drain(t *testing.T, r *Ring[int]) []int {
	t.Helper()
	var got []int
	for {
		v, err := r.Next(context.Background())
		if errors.Is(err, ErrDone) {
			return got
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, v)
	}
}

func TestRingKeepsLatest(t *testing.T) {
	tests := []struct {
		size        int
		add         []int
		want        []int
		wantDropped int64
	}{
		{size: 1, add: []int{1, 2, 3}, want: []int{3}, wantDropped: 2},
		{size: 2, add: []int{1, 2, 3}, want: []int{2, 3}, wantDropped: 1},
		{size: 3, add: []int{1, 2, 3}, want: []int{1, 2, 3}},
		{size: 4, add: []int{1, 2, 3}, want: []int{1, 2, 3}},
		{size: 0, add: []int{1, 2}, want: []int{2}, wantDropped: 1},
	}
	for _, tt := range tests {
		r := RingN[int](tt.size)
		for _, v := range tt.add {
			if err := r.Add(v); err != nil {
				t.Fatalf("Add: %v", err)
			}
		}
		if r.Len() != len(tt.want) {
			t.Errorf("size=%d: Len = %d, want %d", tt.size, r.Len(), len(tt.want))
		}
		r.CloseWrite()
		if diff := cmp.Diff(tt.want, drain(t, r)); diff != "" {
			t.Errorf("size=%d: items mismatch (-want +got):\n%s", tt.size, diff)
		}
		if r.Dropped() != tt.wantDropped {
			t.Errorf("size=%d: Dropped = %d, want %d", tt.size, r.Dropped(), tt.wantDropped)
		}
	}
}

func TestRingWrapAround(t *testing.T) {
	r := RingN[int](3)
	var got []int
	for i := range 10 {
		r.Add(i)
		if i%2 == 1 {
			v, err := r.Next(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			got = append(got, v)
		}
	}
	r.CloseWrite()
	got = append(got, drain(t, r)...)
	want := []int{0, 1, 3, 5, 7, 8, 9}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
}

func TestRingNextBlocks(t *testing.T) {
	r := RingN[int](2)
	go func() {
		time.Sleep(10 * time.Millisecond)
		r.Add(42)
	}()
	v, err := r.Next(context.Background())
	if err != nil || v != 42 {
		t.Fatalf("Next = %d, %v", v, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := r.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Next = %v, want deadline exceeded", err)
	}
}

func TestRingCloseUnblocksReaders(t *testing.T) {
	r := RingN[int](2)
	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Next(context.Background())
			errs <- err
		}()
	}
	time.Sleep(10 * time.Millisecond)
	r.Close()
	wg.Wait()
	close(errs)
	for err := range errs {
		if !errors.Is(err, io.ErrClosedPipe) {
			t.Errorf("Next = %v, want ErrClosedPipe", err)
		}
	}
	if err := r.Add(1); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("Add after Close = %v", err)
	}
}

func TestRingCloseWrite(t *testing.T) {
	r := RingN[int](2)
	r.Add(1)
	r.CloseWrite()
	if err := r.Add(2); err == nil {
		t.Error("Add after CloseWrite succeeded")
	}
	if diff := cmp.Diff([]int{1}, drain(t, r)); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
}

func TestRingReset(t *testing.T) {
	r := RingN[int](4)
	r.Add(1)
	r.Add(2)
	r.Reset()
	if r.Len() != 0 {
		t.Errorf("Len after Reset = %d", r.Len())
	}
}
