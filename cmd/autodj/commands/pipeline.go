package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/haivivi/autodj/cmd/autodj/internal/config"
	"github.com/haivivi/autodj/pkg/audio/resampler"
	"github.com/haivivi/autodj/pkg/audioin"
	"github.com/haivivi/autodj/pkg/coordinator"
	"github.com/haivivi/autodj/pkg/inference"
	"github.com/haivivi/autodj/pkg/kv"
	"github.com/haivivi/autodj/pkg/metrics"
	"github.com/haivivi/autodj/pkg/resilience"
	"github.com/haivivi/autodj/pkg/sink"
)

// pipelineFlags are shared by run and rehearse.
type pipelineFlags struct {
	dryRun      bool
	console     bool
	bridge      string
	audioIn     string
	metricsAddr string
	// memoryState keeps the resumption handle in memory instead of the
	// state directory.
	memoryState bool
}

func (p *pipelineFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.BoolVar(&p.dryRun, "dry-run", false, "log macro values instead of sending them to the bridge")
	f.BoolVar(&p.console, "console", false, "draw a live meter of the macro values")
	f.StringVar(&p.bridge, "bridge", "", "bridge websocket URL (overrides bridge.url)")
	f.StringVar(&p.audioIn, "audio-in", "", "raw PCM input file, or - for stdin (overrides audio.input)")
	f.StringVar(&p.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides metrics.addr)")
}

// pipeline holds everything a run needs besides the dialer.
type pipeline struct {
	cfg   *config.Config
	flags pipelineFlags
	out   io.Writer
	log   *slog.Logger

	closers []func() error
}

func newPipeline(cmd *cobra.Command, cfg *config.Config, flags pipelineFlags) *pipeline {
	return &pipeline{
		cfg:   cfg,
		flags: flags,
		out:   cmd.OutOrStdout(),
		log:   slog.Default(),
	}
}

func (p *pipeline) close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			p.log.Warn("close", "error", err)
		}
	}
	p.closers = nil
}

// sink fans out to the console meter, the bridge and the log. The log sink
// is used on its own when nothing else is configured.
func (p *pipeline) sink() (sink.Sink, error) {
	var sinks sink.Multi
	if p.flags.console {
		sinks = append(sinks, sink.NewConsole(p.out, 0, sink.DefaultTheme))
	}
	url := p.flags.bridge
	if url == "" {
		url = p.cfg.Bridge.URL
	}
	if url != "" && !p.flags.dryRun {
		ws, err := sink.NewWebSocket(sink.WebSocketConfig{
			URL:          url,
			Encoding:     p.cfg.Bridge.Encoding,
			Ranges:       p.cfg.Bridge.Ranges,
			WriteTimeout: p.cfg.Bridge.WriteTimeout.Duration(),
			Logger:       p.log.With("component", "bridge"),
		})
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, ws.Close)
		sinks = append(sinks, ws)
	}
	if len(sinks) == 0 || p.flags.dryRun {
		level := slog.LevelInfo
		if p.flags.console {
			level = slog.LevelDebug
		}
		sinks = append(sinks, sink.NewLog(p.log.With("component", "sink"), level))
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return sinks, nil
}

// handles opens the resumption handle store in the state directory.
func (p *pipeline) handles() (resilience.HandleStore, error) {
	if p.flags.memoryState {
		return &resilience.MemoryHandleStore{}, nil
	}
	db, err := openState(p.cfg, p.log)
	if err != nil {
		return nil, err
	}
	p.closers = append(p.closers, db.Close)
	return &resilience.KVHandleStore{Store: db}, nil
}

func openState(cfg *config.Config, logger *slog.Logger) (*kv.Badger, error) {
	dir := cfg.ResolveStateDir()
	if dir == "" {
		return nil, errors.New("state_dir is empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return kv.NewBadger(kv.BadgerOptions{Dir: dir, Logger: logger})
}

// metrics starts the Prometheus endpoint when an address is configured.
func (p *pipeline) metrics() *metrics.Metrics {
	addr := p.flags.metricsAddr
	if addr == "" {
		addr = p.cfg.Metrics.Addr
	}
	if addr == "" {
		return nil
	}
	m := metrics.New()
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		p.log.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.log.Error("metrics server", "error", err)
		}
	}()
	p.closers = append(p.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})
	return m
}

// audio opens the PCM input, or returns nil when none is configured.
func (p *pipeline) audio() (*audioin.Forwarder, error) {
	path := p.flags.audioIn
	if path == "" {
		path = p.cfg.Audio.Input
	}
	if path == "" {
		return nil, nil
	}
	var src io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open audio input: %w", err)
		}
		p.closers = append(p.closers, f.Close)
		src = f
	}
	return audioin.NewForwarder(src, audioin.Config{
		Source: resampler.Format{SampleRate: p.cfg.Audio.SampleRate, Stereo: p.cfg.Audio.Stereo},
		Pace:   path != "-",
		Logger: p.log.With("component", "audioin"),
	})
}

// run builds the coordinator around dialer and runs it until ctx is done or
// until finished is closed and the grace period has passed.
func (p *pipeline) run(ctx context.Context, dialer inference.Dialer, finished <-chan struct{}, grace time.Duration) (coordinator.Status, error) {
	defer p.close()

	out, err := p.sink()
	if err != nil {
		return coordinator.Status{}, err
	}
	handles, err := p.handles()
	if err != nil {
		return coordinator.Status{}, err
	}
	fwd, err := p.audio()
	if err != nil {
		return coordinator.Status{}, err
	}

	cfg := p.cfg
	coord, err := coordinator.New(coordinator.Options{
		Dialer:     dialer,
		Sink:       out,
		Smoothing:  cfg.SmoothingConfig(),
		Resilience: cfg.ResilienceConfig(),
		Tick:       cfg.Tick.Duration(),
		Heartbeat:  cfg.Heartbeat.Duration(),
		Contract:   cfg.Contract(),
		Policy:     cfg.PolicyFunc(),
		Handles:    handles,
		Prompt:     cfg.Prompt,
		Metrics:    p.metrics(),
		Logger:     p.log,
	})
	if err != nil {
		return coordinator.Status{}, err
	}
	p.log.Info("autodj starting", "run", coord.RunID(), "tick", cfg.Tick.Duration())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return coord.Run(ctx) })
	if finished != nil {
		g.Go(func() error {
			select {
			case <-finished:
			case <-ctx.Done():
				return nil
			}
			select {
			case <-time.After(grace):
			case <-ctx.Done():
			}
			cancel()
			return nil
		})
	}
	if fwd != nil {
		// Reads from stdin cannot be interrupted, so the forwarder is not
		// waited for.
		go func() {
			if err := fwd.Run(ctx, coord); err != nil {
				p.log.Warn("audio input stopped", "error", err)
			}
			if n := fwd.Dropped(); n > 0 {
				p.log.Info("audio chunks dropped", "count", n)
			}
		}()
	}
	err = g.Wait()
	return coord.Status(), err
}

func printStatus(w io.Writer, st coordinator.Status) {
	fmt.Fprintf(w, "run:        %s\n", st.RunID)
	fmt.Fprintf(w, "phase:      %s\n", st.Phase)
	fmt.Fprintf(w, "seq:        %d\n", st.Seq)
	fmt.Fprintf(w, "reconnects: %d\n", st.Reconnects)
	fmt.Fprintf(w, "handle:     %t\n", st.HasHandle)
	if st.LastError != "" {
		fmt.Fprintf(w, "last error: %s\n", st.LastError)
	}
}
