package device

import (
	"sync"
	"sync/atomic"

	"github.com/brackenhollow/airloom/pkg/audiodevice"
	"github.com/brackenhollow/airloom/pkg/audioframe"
)

// FanOutBus broadcasts published frames to zero or more subscriber ring buffers.
//
// Adapted from the teacher's FanOutDevice (pkg/audiodevice/device/faninfanoutdevice.go):
// kept the non-blocking select-based fan-out (the bus runs no goroutine of its own; the
// caller drains the source stream and calls Publish per frame), dropped the 5-second-timeout eviction policy (this domain never evicts a
// slow subscriber, it just drops frames for it and counts the drops, per spec ssdp 4.4), and
// fixed what the teacher's removal loop actually does: its `return` statement (rather than
// `break`) inside the per-sink removal `for` exits the whole draining goroutine the first time
// any sink needs to be removed, silently killing the entire bus for every other subscriber.
type FanOutBus struct {
	properties audiodevice.DeviceProperties

	mu   sync.RWMutex
	subs map[*Subscription]struct{}

	closed atomic.Bool
}

// Subscription is one subscriber's handle onto the bus: a bounded ring buffer of frames
// plus a monotonically increasing drop counter.
type Subscription struct {
	ch      chan audioframe.Frame
	dropped atomic.Int64
}

// Frames returns the channel new frames arrive on. The channel is closed when the bus is
// closed or the subscription is explicitly unsubscribed.
func (s *Subscription) Frames() <-chan audioframe.Frame { return s.ch }

// Dropped returns the number of frame batches dropped for this subscriber because its
// ring buffer was full when a publish happened.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// NewFanOutBus creates an empty bus. properties is bookkeeping only.
func NewFanOutBus(properties audiodevice.DeviceProperties) *FanOutBus {
	return &FanOutBus{
		properties: properties,
		subs:       make(map[*Subscription]struct{}),
	}
}

func (b *FanOutBus) Properties() audiodevice.DeviceProperties { return b.properties }

// bufferedFrames is the ring buffer depth per subscriber. At a typical capture cadence
// of one buffer every ~10-20ms, this bounds worst-case staleness to a couple of seconds
// before a stalled subscriber starts dropping instead of growing without bound.
const bufferedFrames = 128

// Subscribe atomically adds a new subscriber and returns its handle. A StreamingClient
// subscribes exactly once, at accept time, and never observes frames published before
// the call returns.
func (b *FanOutBus) Subscribe() *Subscription {
	sub := &Subscription{ch: make(chan audioframe.Frame, bufferedFrames)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call more than once.
func (b *FanOutBus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	_, present := b.subs[sub]
	delete(b.subs, sub)
	b.mu.Unlock()
	if present {
		close(sub.ch)
	}
}

// Publish fans a frame out to every current subscriber without blocking. A subscriber
// whose ring buffer is full has this frame dropped and its drop counter incremented;
// Publish's own latency never depends on how many subscribers are stalled.
func (b *FanOutBus) Publish(f audioframe.Frame) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		select {
		case sub.ch <- f:
		default:
			sub.dropped.Add(1)
		}
	}
}

// SubscriberCount reports the current number of live subscribers, used for telemetry.
func (b *FanOutBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close unsubscribes and closes the channel of every current subscriber. Further
// Publish calls are no-ops.
func (b *FanOutBus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		close(sub.ch)
	}
	b.subs = make(map[*Subscription]struct{})
}
