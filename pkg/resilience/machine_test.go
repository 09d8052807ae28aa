package resilience

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/haivivi/autodj/pkg/kv"
)

type recorder struct {
	cmds []Command
}

func (r *recorder) Send(c Command) { r.cmds = append(r.cmds, c) }

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestMachineLifecycle(t *testing.T) {
	rec := &recorder{}
	m := NewMachine(DefaultConfig(), rec)
	if m.Phase() != Idle {
		t.Fatalf("initial phase = %v", m.Phase())
	}

	if !m.Connected(t0) {
		t.Fatal("Connected from idle reported no change")
	}
	if m.Phase() != Connected {
		t.Fatalf("phase = %v, want connected", m.Phase())
	}
	if len(rec.cmds) != 0 {
		t.Fatalf("initial connect emitted %v", rec.cmds)
	}

	delay := m.Fail(t0, errors.New("stream reset"), false)
	if m.Phase() != DegradedHolding {
		t.Fatalf("phase = %v, want degraded_holding", m.Phase())
	}
	if delay != 500*time.Millisecond {
		t.Errorf("first delay = %v, want 500ms", delay)
	}

	if m.Tick(t0.Add(1999 * time.Millisecond)) {
		t.Error("Tick before hold elapsed changed phase")
	}
	if !m.Tick(t0.Add(2 * time.Second)) {
		t.Error("Tick at hold did not change phase")
	}
	if m.Phase() != DegradedRamping {
		t.Fatalf("phase = %v, want degraded_ramping", m.Phase())
	}

	if _, attempt, ok := m.BeginReconnect(t0.Add(2100 * time.Millisecond)); !ok || attempt != 1 {
		t.Fatalf("BeginReconnect = %d, %v", attempt, ok)
	}
	if m.Phase() != Reconnecting {
		t.Fatalf("phase = %v, want reconnecting", m.Phase())
	}
	if got := m.Snapshot().Fallback; got != DegradedRamping {
		t.Errorf("fallback = %v, want degraded_ramping", got)
	}

	if !m.Connected(t0.Add(2500 * time.Millisecond)) {
		t.Fatal("Connected from reconnecting reported no change")
	}
	snap := m.Snapshot()
	if snap.Phase != Connected || snap.Attempt != 0 || snap.Fallback != Idle || snap.Reconnects != 1 {
		t.Errorf("after reconnect: %+v", snap)
	}
	if snap.LastError != "stream reset" {
		t.Errorf("LastError = %q", snap.LastError)
	}

	want := []Command{BeginFallback, ResumeNormal}
	if diff := cmp.Diff(want, rec.cmds); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}

	m.Close()
	if m.Phase() != Closed {
		t.Fatalf("phase = %v, want closed", m.Phase())
	}
	m.Connected(t0.Add(3 * time.Second))
	m.Fail(t0.Add(3*time.Second), errors.New("late"), false)
	if m.Phase() != Closed {
		t.Errorf("closed machine moved to %v", m.Phase())
	}
	if len(rec.cmds) != 2 {
		t.Errorf("closed machine emitted %v", rec.cmds[2:])
	}
}

func TestMachineHoldTrackedWhileReconnecting(t *testing.T) {
	m := NewMachine(DefaultConfig(), nil)
	m.Connected(t0)
	m.Fail(t0, errors.New("eof"), false)
	m.BeginReconnect(t0.Add(100 * time.Millisecond))

	if got := m.Snapshot().Fallback; got != DegradedHolding {
		t.Fatalf("fallback = %v, want degraded_holding", got)
	}
	m.Tick(t0.Add(2 * time.Second))
	snap := m.Snapshot()
	if snap.Phase != Reconnecting || snap.Fallback != DegradedRamping {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestMachineBackoff(t *testing.T) {
	m := NewMachine(DefaultConfig(), nil)
	m.Connected(t0)
	if d := m.Fail(t0, errors.New("eof"), false); d != 500*time.Millisecond {
		t.Errorf("delay after failure = %v, want 500ms", d)
	}

	// 0.5s, 1s, 2s, ... with no repeated first step.
	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		5 * time.Second,
		5 * time.Second,
	}
	now := t0
	for i, w := range want {
		_, attempt, ok := m.BeginReconnect(now)
		if !ok || attempt != i+1 {
			t.Fatalf("BeginReconnect #%d = %d, %v", i+1, attempt, ok)
		}
		got := m.ReconnectFailed(now, errors.New("dial refused"))
		if got != w {
			t.Errorf("attempt %d delay = %v, want %v", attempt, got, w)
		}
		now = now.Add(got)
	}
	if m.Snapshot().LastError != "dial refused" {
		t.Errorf("LastError = %q", m.Snapshot().LastError)
	}
}

func TestMachineGoAwayQuickReconnect(t *testing.T) {
	rec := &recorder{}
	m := NewMachine(DefaultConfig(), rec)
	m.Connected(t0)
	if d := m.Fail(t0, nil, true); d != DefaultGoAwayDelay {
		t.Errorf("go away delay = %v, want %v", d, DefaultGoAwayDelay)
	}
	if m.Phase() != DegradedHolding {
		t.Errorf("phase = %v", m.Phase())
	}
	if diff := cmp.Diff([]Command{BeginFallback}, rec.cmds); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestMachineBeginReconnectRequiresDegraded(t *testing.T) {
	m := NewMachine(DefaultConfig(), nil)
	if _, _, ok := m.BeginReconnect(t0); ok {
		t.Error("BeginReconnect from idle succeeded")
	}
	m.Connected(t0)
	if _, _, ok := m.BeginReconnect(t0); ok {
		t.Error("BeginReconnect from connected succeeded")
	}
}

func TestMachineInitialDialFailure(t *testing.T) {
	rec := &recorder{}
	m := NewMachine(DefaultConfig(), rec)
	m.Fail(t0, errors.New("no route"), false)
	if m.Phase() != DegradedHolding {
		t.Fatalf("phase = %v", m.Phase())
	}
	m.BeginReconnect(t0.Add(time.Second))
	m.Connected(t0.Add(1100 * time.Millisecond))
	if diff := cmp.Diff([]Command{BeginFallback, ResumeNormal}, rec.cmds); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleUpdates(t *testing.T) {
	m := NewMachine(DefaultConfig(), nil)

	tests := []struct {
		name string
		h    Handle
		want bool
		keep Handle
	}{
		{"first", Handle{Token: "a", Seq: 1}, true, Handle{Token: "a", Seq: 1}},
		{"repeat", Handle{Token: "a", Seq: 1}, false, Handle{Token: "a", Seq: 1}},
		{"same token later", Handle{Token: "a", Seq: 2}, false, Handle{Token: "a", Seq: 1}},
		{"empty token", Handle{Token: "", Seq: 5}, false, Handle{Token: "a", Seq: 1}},
		{"newer", Handle{Token: "b", Seq: 3}, true, Handle{Token: "b", Seq: 3}},
		{"stale", Handle{Token: "c", Seq: 2}, false, Handle{Token: "b", Seq: 3}},
		{"equal seq", Handle{Token: "d", Seq: 3}, false, Handle{Token: "b", Seq: 3}},
		{"back to old token", Handle{Token: "a", Seq: 4}, true, Handle{Token: "a", Seq: 4}},
	}
	for _, tt := range tests {
		if got := m.UpdateHandle(tt.h); got != tt.want {
			t.Errorf("%s: UpdateHandle(%+v) = %v, want %v", tt.name, tt.h, got, tt.want)
		}
		if got := m.Handle(); got != tt.keep {
			t.Errorf("%s: Handle() = %+v, want %+v", tt.name, got, tt.keep)
		}
	}
}

func TestRestoreHandle(t *testing.T) {
	m := NewMachine(DefaultConfig(), nil)
	m.RestoreHandle(Handle{Token: "persisted", Seq: 9})
	m.RestoreHandle(Handle{Token: "other", Seq: 1})
	if got := m.Handle(); got.Token != "persisted" {
		t.Errorf("Handle() = %+v", got)
	}
	m.Connected(t0)
	m.Fail(t0, errors.New("eof"), false)
	h, _, _ := m.BeginReconnect(t0)
	if h.Token != "persisted" {
		t.Errorf("reconnect handle = %+v", h)
	}
}

func TestNextBackoff(t *testing.T) {
	cfg := BackoffConfig{Initial: 100 * time.Millisecond, Multiplier: 3, Max: time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 300 * time.Millisecond},
		{3, 900 * time.Millisecond},
		{4, time.Second},
		{40, time.Second},
	}
	for _, tt := range tests {
		if got := NextBackoff(cfg, tt.attempt, nil); got != tt.want {
			t.Errorf("NextBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
	if got := NextBackoff(BackoffConfig{}, 3, nil); got != 0 {
		t.Errorf("zero config = %v", got)
	}
}

func TestNextBackoffJitterBounds(t *testing.T) {
	cfg := BackoffConfig{Initial: time.Second, Multiplier: 2, Max: 4 * time.Second, Jitter: 0.5}
	rng := rand.New(rand.NewPCG(3, 4))
	for attempt := 1; attempt < 10; attempt++ {
		for i := 0; i < 100; i++ {
			got := NextBackoff(cfg, attempt, rng)
			if got > cfg.Max || got <= 0 {
				t.Fatalf("attempt %d: %v out of bounds", attempt, got)
			}
		}
	}
}

func TestKVHandleStore(t *testing.T) {
	ctx := context.Background()
	b, err := kv.NewBadger(kv.BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	defer b.Close()

	s := &KVHandleStore{Store: b}
	h, err := s.Load(ctx)
	if err != nil || !h.IsZero() {
		t.Fatalf("Load empty = %+v, %v", h, err)
	}
	want := Handle{Token: "tok-1", Seq: 42}
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != want {
		t.Errorf("Load = %+v, want %+v", got, want)
	}

	if err := b.Set(ctx, DefaultHandleKey, []byte{0xc1}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load(ctx); err == nil {
		t.Error("Load of corrupt record succeeded")
	}
}

func TestMemoryHandleStore(t *testing.T) {
	ctx := context.Background()
	var s MemoryHandleStore
	s.Save(ctx, Handle{Token: "x", Seq: 1})
	got, _ := s.Load(ctx)
	if got.Token != "x" {
		t.Errorf("Load = %+v", got)
	}
}
