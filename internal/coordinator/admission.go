package coordinator

import (
	"luckyimaging/internal/filterqueue"
	"luckyimaging/internal/pipeline"
	"luckyimaging/internal/settings"
	"luckyimaging/internal/source"
)

// FrameReady implements source.EventSink. It may be called from a goroutine
// the source owns (a live camera feed) or synchronously from the dispatcher
// goroutine itself (a pull request via ReadFrame) — either way the frame is
// handed off through frameCh so the admission decision itself always runs
// on the dispatcher goroutine.
func (c *Coordinator) FrameReady(frame source.RawFrame) {
	c.frameCh <- frame
}

// SourceError implements source.EventSink.
func (c *Coordinator) SourceError(err error) {
	c.sourceErrCh <- err
}

// EndOfStream implements source.EventSink.
func (c *Coordinator) EndOfStream() {
	c.eosCh <- struct{}{}
}

func (c *Coordinator) handleFrameReady(frame source.RawFrame) {
	accepted := (c.started || c.renderOnce) && c.hasIdleCapacity()
	if !accepted {
		if c.handler != nil {
			c.handler.FrameMissed()
		}
		c.metrics.framesMissed.Add(1)
		c.requestNextPullFrame()
		return
	}
	c.admit(frame)
	c.requestNextPullFrame()
}

// hasIdleCapacity implements spec.md §4.8's two-sided check: a free worker
// AND headroom in the running-jobs counter, since workers can finish faster
// than completion callbacks dispatch.
func (c *Coordinator) hasIdleCapacity() bool {
	return c.activeWorkers.load() < int64(c.maxWorkers) && c.runningJobs < c.admissionSlack*c.maxWorkers
}

func (c *Coordinator) admit(frame source.RawFrame) {
	ctx := c.pool.Acquire(c.settingsSnapshot)
	ctx.RawFrame = frame
	ctx.Decoder = c.decoder
	ctx.DoRender = c.renderOnce
	ctx.OnlyRender = c.renderOnce && !c.started
	c.renderOnce = false

	if ctx.OnlyRender && c.state != StateDraining {
		c.priorState = c.state
		c.state = StateRenderingPreview
	}

	c.runningJobs++
	c.jobCh <- ctx

	if c.hasIdleCapacity() && c.handler != nil {
		c.handler.Ready()
	}
}

func (c *Coordinator) handleCompletion(ctx *pipeline.ProcessingContext) {
	c.runningJobs--

	if ctx.Settings.SaveImages && ctx.Settings.FilterType == settings.FilterAcceptanceRate && ctx.StageSuccess {
		c.queue.Append(filterqueue.QueuedImage{
			Mat:      ctx.CroppedCopy,
			Filename: ctx.Filename,
			Quality:  ctx.Quality,
		})
		ctx.CroppedCopy = nil
	}

	if !ctx.StageSuccess && ctx.ErrorStage == pipeline.StageSave {
		c.downgradeSaveImages()
	}

	if c.state == StateRenderingPreview {
		c.state = c.priorState
	}

	if c.handler != nil {
		c.handler.FrameProcessed(ctx)
	}
	c.metrics.framesProcessed.Add(1)
	c.pool.Release(ctx)

	if c.queue.Len() >= c.settingsSnapshot.FilterQueueLength {
		c.triggerFlush()
	}

	c.maybeFinishDrain()

	if c.state == StateRunning && c.hasIdleCapacity() && c.handler != nil {
		c.handler.Ready()
	}

	c.requestNextPullFrame()
}

// downgradeSaveImages replaces the live settings snapshot with a copy that
// disables saving, per spec.md §4.8's save-error downgrade. In-flight
// contexts keep whatever snapshot they were admitted with.
func (c *Coordinator) downgradeSaveImages() {
	c.settingsSnapshot = c.settingsSnapshot.WithSaveImagesDisabled()
	if c.log != nil {
		c.log.Warning("coordinator", "save failed, disabling save_images for new contexts", nil)
	}
}

func (c *Coordinator) triggerFlush() {
	if c.flushInFlight {
		return
	}
	batch := c.queue.Drain()
	if len(batch) == 0 {
		return
	}
	c.flushInFlight = true
	percent := c.settingsSnapshot.AcceptancePercent
	encoder := c.encoder
	go func() {
		c.flushDoneCh <- filterqueue.Flush(batch, percent, encoder)
	}()
}

func (c *Coordinator) handleFlushDone(result filterqueue.Result) {
	c.flushInFlight = false

	for _, img := range result.Written {
		c.pool.ReleaseCroppedBuffer(img.Mat)
	}
	for _, img := range result.Dropped {
		c.pool.ReleaseCroppedBuffer(img.Mat)
	}

	if result.Err != nil {
		c.downgradeSaveImages()
		if c.log != nil {
			c.log.Error("coordinator", result.Err, map[string]interface{}{"written": len(result.Written), "dropped": len(result.Dropped)})
		}
	}

	c.metrics.framesSaved.Add(int64(len(result.Written)))
	c.metrics.framesDropped.Add(int64(len(result.Dropped)))

	c.maybeFinishDrain()
}

// maybeFinishDrain implements the Draining -> Idle transition: once every
// in-flight context has completed, it flushes whatever remains in the
// filter queue, and once the queue is empty and no flush is outstanding it
// emits stopped.
func (c *Coordinator) maybeFinishDrain() {
	if c.state != StateDraining || c.runningJobs != 0 {
		return
	}
	if c.queue.Len() > 0 && !c.flushInFlight {
		c.triggerFlush()
		return
	}
	if c.flushInFlight {
		return
	}

	c.state = StateIdle
	if c.handler != nil {
		c.handler.Stopped()
	}
}

// requestNextPullFrame pulls one more frame from non-sequential (seekable)
// sources once capacity allows, so the pipeline stays saturated without the
// coordinator having to buffer requests it can't yet admit.
func (c *Coordinator) requestNextPullFrame() {
	if c.adapter.IsSequential() {
		return
	}
	if !(c.started || c.renderOnce) || !c.hasIdleCapacity() {
		return
	}
	c.adapter.ReadFrame()
}
