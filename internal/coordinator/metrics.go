package coordinator

import "sync/atomic"

// Metrics is a point-in-time snapshot of the coordinator's counters,
// generalized from the teacher's Buffer.Metrics() counters to the
// frame-level accounting spec.md §8's scenarios check against.
type Metrics struct {
	FramesProcessed int64
	FramesMissed    int64
	FramesSaved     int64
	FramesDropped   int64
}

// metricsState holds the live counters as atomics: they are written only
// from the dispatcher goroutine but, unlike the rest of the coordinator's
// state, read from any goroutine that calls Metrics() — the same reasoning
// the teacher's Buffer.Metrics() snapshot applies, minus the mutex, since a
// handful of independent counters need no cross-field consistency.
type metricsState struct {
	framesProcessed atomic.Int64
	framesMissed    atomic.Int64
	framesSaved     atomic.Int64
	framesDropped   atomic.Int64
}

func (m *metricsState) snapshot() Metrics {
	return Metrics{
		FramesProcessed: m.framesProcessed.Load(),
		FramesMissed:    m.framesMissed.Load(),
		FramesSaved:     m.framesSaved.Load(),
		FramesDropped:   m.framesDropped.Load(),
	}
}
