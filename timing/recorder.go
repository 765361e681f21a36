// Package timing accumulates per-frame pipeline latencies, computes summary
// statistics over sliding report windows, and periodically persists both the
// raw samples and a recomputed summary to append-mode CSV files.
package timing

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultFlushEvery is the report window size in samples.
const DefaultFlushEvery = 10

// Sample is one completed frame's stage latencies. Immutable once recorded.
type Sample struct {
	Timestamp time.Time
	Prep      time.Duration
	Inference time.Duration
	Post      time.Duration
	Total     time.Duration
}

// StageStats summarize one stage over the current window, in milliseconds.
type StageStats struct {
	Count    int
	MinMs    float64
	MaxMs    float64
	MeanMs   float64
	StdDevMs float64
}

// Summary is derived from the current window of samples. Because the window
// is cleared on every flush, a summary covers one report window, not the
// whole session; TotalRecorded carries the cumulative count.
type Summary struct {
	SampleCount    int
	WindowDuration time.Duration

	Prep      StageStats
	Inference StageStats
	Post      StageStats
	Total     StageStats

	PrepPercent      float64
	InferencePercent float64
	PostPercent      float64
	FPS              float64
}

// Sink persists a flushed window. Implementations must tolerate being called
// from the recorder's caller goroutine.
type Sink interface {
	WriteSamples(samples []Sample) error
	WriteSummary(s Summary) error
}

// Recorder is an append-only collection of samples with windowed persistence.
// A single pipeline goroutine produces samples; snapshot readers may run
// concurrently. File writes happen outside the lock so readers and the
// producer never block on I/O.
type Recorder struct {
	mu          sync.Mutex
	samples     []Sample
	windowStart time.Time
	total       uint64

	flushEvery int
	sink       Sink
	log        *logrus.Entry
}

// NewRecorder creates a recorder flushing every flushEvery samples to sink.
// A nil sink disables persistence; flushEvery <= 0 uses the default.
func NewRecorder(flushEvery int, sink Sink, log *logrus.Entry) *Recorder {
	if flushEvery <= 0 {
		flushEvery = DefaultFlushEvery
	}
	return &Recorder{
		windowStart: time.Now(),
		flushEvery:  flushEvery,
		sink:        sink,
		log:         log,
	}
}

// Record appends one sample. Every flushEvery samples the window is persisted
// and cleared. O(1) amortized.
func (r *Recorder) Record(prep, inference, post, total time.Duration) {
	sample := Sample{
		Timestamp: time.Now(),
		Prep:      prep,
		Inference: inference,
		Post:      post,
		Total:     total,
	}

	r.mu.Lock()
	r.samples = append(r.samples, sample)
	r.total++
	shouldFlush := r.sink != nil && len(r.samples) >= r.flushEvery
	var window []Sample
	var summary Summary
	if shouldFlush {
		window, summary = r.takeWindowLocked()
	}
	r.mu.Unlock()

	if shouldFlush {
		r.persist(window, summary)
	}
}

// Snapshot recomputes summary statistics over the current window without
// clearing it.
func (r *Recorder) Snapshot() Summary {
	r.mu.Lock()
	window := make([]Sample, len(r.samples))
	copy(window, r.samples)
	start := r.windowStart
	r.mu.Unlock()

	return summarize(window, time.Since(start))
}

// TotalRecorded returns the cumulative sample count across all windows.
func (r *Recorder) TotalRecorded() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// FinalReport flushes whatever the current window holds, regardless of the
// periodic counter. Called on shutdown.
func (r *Recorder) FinalReport() {
	r.mu.Lock()
	if r.sink == nil || len(r.samples) == 0 {
		r.mu.Unlock()
		return
	}
	window, summary := r.takeWindowLocked()
	r.mu.Unlock()

	r.persist(window, summary)
}

// takeWindowLocked detaches the current window and resets it. Caller holds mu.
func (r *Recorder) takeWindowLocked() ([]Sample, Summary) {
	window := r.samples
	summary := summarize(window, time.Since(r.windowStart))
	r.samples = nil
	r.windowStart = time.Now()
	return window, summary
}

// persist writes a detached window. A report write failure is logged and
// otherwise ignored: losing a report must never affect the live pipeline.
func (r *Recorder) persist(window []Sample, summary Summary) {
	if err := r.sink.WriteSamples(window); err != nil {
		r.log.WithError(err).Error("writing per-frame timing rows")
	}
	if err := r.sink.WriteSummary(summary); err != nil {
		r.log.WithError(err).Error("writing timing summary row")
	}
}

func summarize(window []Sample, duration time.Duration) Summary {
	s := Summary{
		SampleCount:    len(window),
		WindowDuration: duration,
		Prep:           stageStats(window, func(s Sample) time.Duration { return s.Prep }),
		Inference:      stageStats(window, func(s Sample) time.Duration { return s.Inference }),
		Post:           stageStats(window, func(s Sample) time.Duration { return s.Post }),
		Total:          stageStats(window, func(s Sample) time.Duration { return s.Total }),
	}
	if s.Total.MeanMs > 0 {
		s.PrepPercent = s.Prep.MeanMs / s.Total.MeanMs * 100
		s.InferencePercent = s.Inference.MeanMs / s.Total.MeanMs * 100
		s.PostPercent = s.Post.MeanMs / s.Total.MeanMs * 100
		s.FPS = 1000.0 / s.Total.MeanMs
	}
	return s
}

func stageStats(window []Sample, stage func(Sample) time.Duration) StageStats {
	if len(window) == 0 {
		return StageStats{}
	}

	stats := StageStats{Count: len(window), MinMs: math.MaxFloat64}
	var sum float64
	for _, s := range window {
		ms := toMs(stage(s))
		stats.MinMs = math.Min(stats.MinMs, ms)
		stats.MaxMs = math.Max(stats.MaxMs, ms)
		sum += ms
	}
	stats.MeanMs = sum / float64(len(window))

	var sumSq float64
	for _, s := range window {
		diff := toMs(stage(s)) - stats.MeanMs
		sumSq += diff * diff
	}
	stats.StdDevMs = math.Sqrt(sumSq / float64(len(window)))

	return stats
}

func toMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
