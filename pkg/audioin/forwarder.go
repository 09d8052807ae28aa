// Package audioin streams live PCM from a capture source to the inference
// session.
//
// The reader side never waits for the network: converted chunks go through a
// small latest-wins queue, so when the session is slow or reconnecting old
// audio is dropped instead of delaying new audio.
package audioin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haivivi/autodj/pkg/audio/resampler"
	"github.com/haivivi/autodj/pkg/buffer"
)

// Sender receives converted audio. The coordinator implements it by
// forwarding to whichever session is currently connected.
type Sender interface {
	SendAudio(ctx context.Context, pcm []byte) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, pcm []byte) error

// SendAudio calls f.
func (f SenderFunc) SendAudio(ctx context.Context, pcm []byte) error { return f(ctx, pcm) }

// Config configures a Forwarder.
type Config struct {
	// Source is the format of the reader. Defaults to resampler.Mono16k.
	Source resampler.Format
	// Chunk is the duration of audio read at once. Defaults to 100ms.
	Chunk time.Duration
	// Queue is the number of chunks kept while the sender is busy.
	// Defaults to 10.
	Queue int
	// Pace limits reads to the real-time rate of Source. Set it for
	// recorded files; live captures are paced by the device.
	Pace   bool
	Logger *slog.Logger
}

// Forwarder copies audio from a reader to a Sender.
type Forwarder struct {
	src   io.Reader
	conv  *resampler.Converter
	queue *buffer.Ring[[]byte]
	chunk int
	pace  bool
	bps   int
	log   *slog.Logger
}

// NewForwarder returns a Forwarder reading src.
func NewForwarder(src io.Reader, cfg Config) (*Forwarder, error) {
	if cfg.Source.SampleRate == 0 {
		cfg.Source = resampler.Mono16k
	}
	if cfg.Chunk <= 0 {
		cfg.Chunk = 100 * time.Millisecond
	}
	if cfg.Queue <= 0 {
		cfg.Queue = 10
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	conv, err := resampler.New(cfg.Source, resampler.Mono16k)
	if err != nil {
		return nil, fmt.Errorf("audioin: %w", err)
	}
	chunk := int(cfg.Chunk.Seconds()*float64(cfg.Source.SampleRate)) * cfg.Source.FrameBytes()
	return &Forwarder{
		src:   src,
		conv:  conv,
		queue: buffer.RingN[[]byte](cfg.Queue),
		chunk: max(chunk, cfg.Source.FrameBytes()),
		pace:  cfg.Pace,
		bps:   cfg.Source.BytesPerSecond(),
		log:   cfg.Logger,
	}, nil
}

// Dropped returns the number of chunks dropped because the sender fell
// behind.
func (f *Forwarder) Dropped() int64 {
	return f.queue.Dropped()
}

// Run forwards audio until the reader is exhausted or ctx is done. Send
// failures are logged and the chunk is dropped. Run returns nil on EOF and
// on cancellation.
func (f *Forwarder) Run(ctx context.Context, dst Sender) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer f.queue.CloseWrite()
		return f.readLoop(ctx)
	})
	g.Go(func() error {
		return f.sendLoop(ctx, dst)
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (f *Forwarder) readLoop(ctx context.Context) error {
	buf := make([]byte, f.chunk)
	start := time.Now()
	var total int64
	for {
		n, err := io.ReadFull(f.src, buf)
		total += int64(n)
		if n > 0 {
			out, cerr := f.conv.Convert(buf[:n])
			if cerr != nil {
				return cerr
			}
			if len(out) > 0 {
				if aerr := f.queue.Add(out); aerr != nil {
					return nil
				}
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			f.log.Debug("audio input finished")
			return nil
		default:
			return fmt.Errorf("audioin: read: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if f.pace {
			if err := f.waitUntil(ctx, start, total); err != nil {
				return err
			}
		}
	}
}

// waitUntil sleeps until total bytes of audio have played since start.
func (f *Forwarder) waitUntil(ctx context.Context, start time.Time, total int64) error {
	due := start.Add(time.Duration(float64(total) / float64(f.bps) * float64(time.Second)))
	d := time.Until(due)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (f *Forwarder) sendLoop(ctx context.Context, dst Sender) error {
	for {
		pcm, err := f.queue.Next(ctx)
		if errors.Is(err, buffer.ErrDone) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := dst.SendAudio(ctx, pcm); err != nil {
			f.log.Debug("audio chunk dropped", "bytes", len(pcm), "error", err)
		}
	}
}
