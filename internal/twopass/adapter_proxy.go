package twopass

import "luckyimaging/internal/source"

// adapterProxy sits between the real source.Adapter and the coordinator,
// so the controller can observe end_of_stream and react (stopping pass 1,
// restarting pass 2) without the coordinator needing to know two-pass
// mode exists at all. It implements both source.Adapter (toward the
// coordinator) and source.EventSink (toward the underlying adapter).
type adapterProxy struct {
	inner         source.Adapter
	realSink      source.EventSink
	onEndOfStream func()
}

func (p *adapterProxy) Start(sink source.EventSink) error {
	p.realSink = sink
	return p.inner.Start(p)
}

func (p *adapterProxy) Stop() error { return p.inner.Stop() }

func (p *adapterProxy) NewDecoder() source.Decoder { return p.inner.NewDecoder() }

func (p *adapterProxy) ReadFrame() { p.inner.ReadFrame() }

func (p *adapterProxy) IsSequential() bool { return p.inner.IsSequential() }

func (p *adapterProxy) Seek(index int) bool { return p.inner.Seek(index) }

func (p *adapterProxy) NumberOfFrames() int { return p.inner.NumberOfFrames() }

// FrameReady implements source.EventSink: pass straight through.
func (p *adapterProxy) FrameReady(frame source.RawFrame) { p.realSink.FrameReady(frame) }

// SourceError implements source.EventSink: pass straight through.
func (p *adapterProxy) SourceError(err error) { p.realSink.SourceError(err) }

// EndOfStream implements source.EventSink: notify the controller first,
// then forward, so the coordinator's own end-of-stream bookkeeping
// (currently just requesting the next pull frame, a no-op once exhausted)
// still runs.
func (p *adapterProxy) EndOfStream() {
	if p.onEndOfStream != nil {
		p.onEndOfStream()
	}
	p.realSink.EndOfStream()
}
