// Package twopass implements the whole-file acceptance-rate controller:
// an orchestration layer above the coordinator that runs a seekable
// source twice — once to measure every frame's quality, once to save the
// top N% — exactly as spec.md §6's "whole-file two-pass mode" describes.
// It owns no UI and persists nothing; it is a plain function over a
// Coordinator and a source.Adapter.
package twopass

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"luckyimaging/internal/coordinator"
	"luckyimaging/internal/logger"
	"luckyimaging/internal/pipeline"
	"luckyimaging/internal/settings"
	"luckyimaging/internal/source"
)

// Controller drives a Coordinator through two passes over a seekable
// source. Construct with New, then call Run, which blocks until both
// passes have drained.
type Controller struct {
	coord      *coordinator.Coordinator
	proxy      *adapterProxy
	downstream coordinator.Handler
	acceptance int

	baseSettings *settings.Settings

	mu        sync.Mutex
	pass      int
	qualities []float64

	done chan struct{}
}

// New builds a Controller. adapter must be seekable (IsSequential() ==
// false); baseSettings supplies every setting except filterType,
// minimumQuality, and saveImages, which the controller overrides per
// pass. downstream receives every event the coordinator emits, across
// both passes, except pass 1's stopped, which the controller consumes to
// start pass 2; frame_processed during pass 1 is also used internally to
// record qualities.
func New(adapter source.Adapter, encoder pipeline.ImageEncoder, log logger.Logger, baseSettings *settings.Settings, acceptancePercent int, downstream coordinator.Handler, opts ...coordinator.Option) (*Controller, error) {
	if adapter.IsSequential() {
		return nil, fmt.Errorf("twopass: source adapter must be seekable")
	}

	c := &Controller{
		downstream: downstream,
		acceptance: acceptancePercent,
		baseSettings: baseSettings,
		pass:       1,
	}

	c.proxy = &adapterProxy{inner: adapter, onEndOfStream: c.handleEndOfStream}

	pass1 := baseSettings.Clone()
	pass1.FilterType = settings.FilterNone

	c.coord = coordinator.New(c.proxy, encoder, log, pass1, c, opts...)
	return c, nil
}

// Coordinator exposes the underlying coordinator for callers that want to
// call RenderNextFrame or read Metrics mid-run.
func (c *Controller) Coordinator() *coordinator.Coordinator { return c.coord }

// Run starts pass 1 and blocks until pass 2 has drained or ctx is
// cancelled.
func (c *Controller) Run(ctx context.Context) error {
	c.done = make(chan struct{})

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- c.coord.Run(ctx) }()

	c.coord.Start()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return nil
	case err := <-runErrCh:
		return err
	}
}

// handleEndOfStream is called synchronously from the adapterProxy, on
// whatever goroutine the underlying source calls EndOfStream from.
// Stopping is idempotent on the coordinator's side, so no locking is
// needed here beyond what coord.Stop() already does internally.
func (c *Controller) handleEndOfStream() {
	c.coord.Stop()
}

// Ready implements coordinator.Handler.
func (c *Controller) Ready() { c.downstream.Ready() }

// FrameMissed implements coordinator.Handler.
func (c *Controller) FrameMissed() { c.downstream.FrameMissed() }

// FrameProcessed implements coordinator.Handler. During pass 1 it records
// every successfully-estimated quality before forwarding to downstream.
func (c *Controller) FrameProcessed(ctx *pipeline.ProcessingContext) {
	c.mu.Lock()
	if c.pass == 1 && ctx.StageSuccess {
		c.qualities = append(c.qualities, ctx.Quality)
	}
	c.mu.Unlock()

	c.downstream.FrameProcessed(ctx)
}

// Stopped implements coordinator.Handler. After pass 1 it computes the
// acceptance threshold, installs pass 2's settings, replays the source
// from frame 0, and restarts the coordinator. After pass 2 it forwards to
// downstream and unblocks Run.
func (c *Controller) Stopped() {
	c.mu.Lock()
	pass := c.pass
	c.mu.Unlock()

	if pass == 1 {
		c.startPass2()
		return
	}

	c.downstream.Stopped()
	close(c.done)
}

func (c *Controller) startPass2() {
	c.mu.Lock()
	minQuality := percentileThreshold(c.qualities, c.acceptance)
	c.pass = 2
	c.mu.Unlock()

	pass2 := c.baseSettings.Clone()
	pass2.FilterType = settings.FilterMinimumQuality
	pass2.MinimumQuality = minQuality
	pass2.SaveImages = true

	c.coord.ApplySettings(pass2)
	c.proxy.Seek(0)
	c.coord.Start()
}

// percentileThreshold picks minQuality at index count·(100-acceptance)/100
// of the ascending-sorted qualities, per spec.md §6. An empty pass yields
// 0, which admits every frame under FilterMinimumQuality since quality is
// never negative.
func percentileThreshold(qualities []float64, acceptancePercent int) float64 {
	n := len(qualities)
	if n == 0 {
		return 0
	}

	sorted := make([]float64, n)
	copy(sorted, qualities)
	sort.Float64s(sorted)

	idx := n * (100 - acceptancePercent) / 100
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}
