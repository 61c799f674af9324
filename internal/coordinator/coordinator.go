// Package coordinator implements the Foreman: the single dispatcher
// goroutine that owns admission control, worker dispatch, filter-queue
// batching, and drain-on-stop. Every piece of mutable state it touches
// (running jobs, pools, filter queue, settings snapshot, state machine) is
// reached from exactly one goroutine — the event loop in Run — so none of
// it needs a lock, matching spec.md §5's shared-resource policy. Cross-
// goroutine communication happens only through channels, the way
// jonoton-go-framebuffer's Buffer.process() select loop is built.
package coordinator

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"luckyimaging/internal/buffer"
	"luckyimaging/internal/filterqueue"
	"luckyimaging/internal/logger"
	"luckyimaging/internal/opencv/memory"
	"luckyimaging/internal/pipeline"
	"luckyimaging/internal/settings"
	"luckyimaging/internal/source"
)

// State is the coordinator's lifecycle state machine (spec.md §4.8).
type State int

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateRenderingPreview
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateRenderingPreview:
		return "rendering_preview"
	default:
		return "unknown"
	}
}

// Handler receives the events the core emits. Every method is called
// synchronously from the dispatcher goroutine; FrameProcessed borrows ctx
// for the duration of the call only — the coordinator returns it to the
// pool immediately after the call returns, so implementations must not
// retain it.
type Handler interface {
	// Ready fires whenever admission capacity frees up. Pull-mode sources
	// don't need this — the coordinator drives them directly through
	// Adapter.ReadFrame() — but a live source or a GUI capture control can
	// use it as the same backpressure signal spec.md's source contract
	// calls "ready".
	Ready()
	FrameProcessed(ctx *pipeline.ProcessingContext)
	FrameMissed()
	Stopped()
}

type controlKind int

const (
	ctrlStart controlKind = iota
	ctrlStop
	ctrlRenderNext
	ctrlApplySettings
)

type controlMsg struct {
	kind     controlKind
	settings *settings.Settings
}

// Coordinator is the Foreman. Construct with New, then run it with Run
// (blocking — callers typically do `go coord.Run(ctx)`).
type Coordinator struct {
	adapter source.Adapter
	decoder source.Decoder
	encoder pipeline.ImageEncoder
	log     logger.Logger
	handler Handler

	pool   *buffer.Pool
	queue  filterqueue.Queue
	memory *memory.Manager

	maxWorkers     int
	admissionSlack int

	activeWorkers *workerCounter
	jobCh         chan *pipeline.ProcessingContext
	completionCh  chan *pipeline.ProcessingContext
	flushDoneCh   chan filterqueue.Result

	frameCh     chan source.RawFrame
	sourceErrCh chan error
	eosCh       chan struct{}

	controlCh chan controlMsg

	settingsSnapshot *settings.Settings

	started       bool
	renderOnce    bool
	runningJobs   int
	state         State
	priorState    State // state RenderingPreview returns to
	flushInFlight bool

	metrics metricsState
}

// Option configures a Coordinator at construction time.
type Option func(*Coordinator)

// WithMaxWorkers overrides the default worker-pool size
// (runtime.GOMAXPROCS(0), the Go analogue of hardware_concurrency()).
func WithMaxWorkers(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxWorkers = n
		}
	}
}

// WithMemory replaces the coordinator's default memory.Manager, e.g. to
// share a single budget across several coordinators.
func WithMemory(m *memory.Manager) Option {
	return func(c *Coordinator) {
		if m != nil {
			c.memory = m
		}
	}
}

// WithAdmissionSlack overrides the running_jobs<slack*max_workers factor.
// Preserved as a tunable per spec.md §9's open question about the
// undocumented factor of 2 the original empirically chose.
func WithAdmissionSlack(slack int) Option {
	return func(c *Coordinator) {
		if slack > 0 {
			c.admissionSlack = slack
		}
	}
}

// New builds a Coordinator. adapter is the source, encoder the save-stage
// collaborator, s the initial settings snapshot, handler the event sink.
// Mat allocations are attributed to a fresh memory.Manager; see WithMemory
// to share one across coordinators or read its budget.
func New(adapter source.Adapter, encoder pipeline.ImageEncoder, log logger.Logger, s *settings.Settings, handler Handler, opts ...Option) *Coordinator {
	c := &Coordinator{
		adapter:          adapter,
		encoder:          encoder,
		log:              log,
		handler:          handler,
		memory:           memory.NewManager(log),
		maxWorkers:       runtime.GOMAXPROCS(0),
		admissionSlack:   2,
		settingsSnapshot: s,
		state:            StateIdle,
		activeWorkers:    &workerCounter{},
		completionCh:     make(chan *pipeline.ProcessingContext, 1),
		flushDoneCh:      make(chan filterqueue.Result, 1),
		frameCh:          make(chan source.RawFrame, 64),
		sourceErrCh:      make(chan error, 8),
		eosCh:            make(chan struct{}, 1),
		controlCh:        make(chan controlMsg, 4),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.pool = buffer.NewWithTracker(c.memory)
	c.jobCh = make(chan *pipeline.ProcessingContext, 2*c.maxWorkers)
	return c
}

// Start transitions Idle/Draining -> Running: the coordinator begins
// admitting frames.
func (c *Coordinator) Start() { c.controlCh <- controlMsg{kind: ctrlStart} }

// Stop transitions Running -> Draining. It returns immediately; "stopped"
// is delivered to the Handler asynchronously once every in-flight context
// completes and the filter queue is flushed.
func (c *Coordinator) Stop() { c.controlCh <- controlMsg{kind: ctrlStop} }

// RenderNextFrame requests a single preview render without starting full
// processing. Idempotent if called repeatedly before the next admitted
// frame.
func (c *Coordinator) RenderNextFrame() { c.controlCh <- controlMsg{kind: ctrlRenderNext} }

// ApplySettings installs a new settings snapshot for future contexts.
// In-flight contexts keep the snapshot they were admitted with.
func (c *Coordinator) ApplySettings(s *settings.Settings) {
	c.controlCh <- controlMsg{kind: ctrlApplySettings, settings: s}
}

// Metrics returns a snapshot of the coordinator's counters. Safe to call
// from any goroutine.
func (c *Coordinator) Metrics() Metrics { return c.metrics.snapshot() }

// MemoryBudget reports estimated bytes currently held per Mat kind
// (decoded_float, grayscale, ...), the memory-budget estimate
// spec.md §5 asks the core to expose. Safe to call from any goroutine.
func (c *Coordinator) MemoryBudget() map[string]int64 { return c.memory.BudgetByKind() }

// Run starts the source and drives the dispatcher event loop until ctx is
// cancelled. It spawns c.maxWorkers worker goroutines that execute the
// pipeline and report back on completionCh; it never blocks on I/O itself.
// Cancelling ctx returns at once, without waiting for in-flight contexts.
func (c *Coordinator) Run(ctx context.Context) error {
	c.decoder = c.adapter.NewDecoder()

	for i := 0; i < c.maxWorkers; i++ {
		go c.workerLoop()
	}

	if err := c.adapter.Start(c); err != nil {
		return fmt.Errorf("coordinator: start source: %w", err)
	}
	defer c.adapter.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-c.controlCh:
			c.handleControl(msg)
		case frame := <-c.frameCh:
			c.handleFrameReady(frame)
		case err := <-c.sourceErrCh:
			if c.log != nil {
				c.log.Error("coordinator", err, nil)
			}
		case <-c.eosCh:
			c.requestNextPullFrame()
		case ctx2 := <-c.completionCh:
			c.handleCompletion(ctx2)
		case result := <-c.flushDoneCh:
			c.handleFlushDone(result)
		}
	}
}

func (c *Coordinator) workerLoop() {
	for ctx := range c.jobCh {
		c.activeWorkers.inc()
		pipeline.Process(ctx, c.encoder, c.pool)
		c.activeWorkers.dec()
		c.completionCh <- ctx
	}
}

func (c *Coordinator) handleControl(msg controlMsg) {
	switch msg.kind {
	case ctrlStart:
		c.started = true
		if c.state != StateRenderingPreview {
			c.state = StateRunning
		} else {
			c.priorState = StateRunning
		}
		c.requestNextPullFrame()
	case ctrlStop:
		c.started = false
		if c.state == StateRunning {
			c.state = StateDraining
			c.maybeFinishDrain()
		} else if c.state == StateRenderingPreview {
			c.priorState = StateDraining
		}
	case ctrlRenderNext:
		c.renderOnce = true
		c.requestNextPullFrame()
	case ctrlApplySettings:
		c.settingsSnapshot = msg.settings
	}
}

// workerCounter is a tiny atomic counter for "active_workers" in the
// admission rule. It is written from worker goroutines and read from the
// dispatcher goroutine, so it needs real synchronization unlike the
// dispatcher-only state above.
type workerCounter struct{ n atomic.Int64 }

func (w *workerCounter) inc()        { w.n.Add(1) }
func (w *workerCounter) dec()        { w.n.Add(-1) }
func (w *workerCounter) load() int64 { return w.n.Load() }
