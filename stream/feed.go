// Package stream connects the probe transport to the single pipeline worker
// with a latest-frame-only mailbox: the publisher never blocks, and a frame
// that arrives before the previous one was consumed overwrites it. Staleness
// is worse than incompleteness for a live ultrasound view, so drops are
// expected and counted, not errors.
package stream

import (
	"sync"
	"sync/atomic"

	"github.com/sonoview/segmentation-service/segmentation"
)

// Feed is a single-slot frame mailbox. One publisher, one consumer.
type Feed struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frame  *segmentation.RawFrame
	closed bool

	published uint64
	drops     uint64
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	f := &Feed{}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Publish hands a frame to the worker without blocking. If the previous frame
// was not yet consumed it is overwritten and counted as a drop. After Close,
// Publish is a no-op.
func (f *Feed) Publish(raw segmentation.RawFrame) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	if f.frame != nil {
		atomic.AddUint64(&f.drops, 1)
	}
	f.frame = &raw
	atomic.AddUint64(&f.published, 1)
	f.cond.Signal()
	f.mu.Unlock()
}

// Next blocks until a frame is available and returns it, or returns false
// after Close once the mailbox is drained.
func (f *Feed) Next() (segmentation.RawFrame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for f.frame == nil && !f.closed {
		f.cond.Wait()
	}
	if f.frame == nil {
		return segmentation.RawFrame{}, false
	}
	raw := *f.frame
	f.frame = nil
	return raw, true
}

// Close wakes the consumer and makes further publishes no-ops. Idempotent.
func (f *Feed) Close() {
	f.mu.Lock()
	f.closed = true
	f.cond.Broadcast()
	f.mu.Unlock()
}

// Published returns how many frames entered the feed.
func (f *Feed) Published() uint64 {
	return atomic.LoadUint64(&f.published)
}

// Drops returns how many frames were overwritten before consumption.
func (f *Feed) Drops() uint64 {
	return atomic.LoadUint64(&f.drops)
}
