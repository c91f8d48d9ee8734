package device

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brackenhollow/airloom/pkg/audiodevice"
	"github.com/brackenhollow/airloom/pkg/audioframe"
)

// InjectionMode selects whether idle periods are filled with true silence or faint
// dithered noise.
type InjectionMode int

const (
	ModeSilence InjectionMode = iota
	ModeNoise
)

// Injector watches a capture stream for inactivity and, once it has been silent for
// CaptureTimeout, begins synthesizing replacement buffers so downstream renderers don't
// see the stream go quiet and disconnect.
//
// Grounded on original_source/src/utils/rwstream.rs (the CAPTURE_TIMEOUT/SILENCE_PERIOD
// timer shape and "keep emitting fixed-size silence bursts on receive-timeout" idiom) and
// original_source/src/utils/flacstream.rs (the noise-burst generation and
// shift-then-mask-to-near-zero technique, reused here for ModeNoise instead of being
// specific to the FLAC encoder, per SPEC_FULL.md section 4.3 — the general injector
// produces noise/silence before the bus, the FLAC encoder's own narrower noise masking in
// section 10.4 is an additional, FLAC-specific layer on top of this).
type Injector struct {
	properties audiodevice.DeviceProperties

	captureTimeout time.Duration
	injectPeriod   time.Duration
	mode           InjectionMode

	sourceStream <-chan audioframe.Frame
	sinkStream   chan audioframe.Frame

	rng       *rand.Rand
	injecting atomic.Bool

	closeOnce sync.Once
}

// NewInjector builds an Injector. captureTimeout is the idle duration before injection
// starts (default 2000ms per SPEC_FULL.md section 4.3); the injection period is
// captureTimeout/4. seed makes the noise generator reproducible for tests.
func NewInjector(properties audiodevice.DeviceProperties, captureTimeout time.Duration, mode InjectionMode, seed uint64) *Injector {
	return &Injector{
		properties:     properties,
		captureTimeout: captureTimeout,
		injectPeriod:   captureTimeout / 4,
		mode:           mode,
		sinkStream:     make(chan audioframe.Frame, 8),
		rng:            rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (i *Injector) Stream() <-chan audioframe.Frame           { return i.sinkStream }
func (i *Injector) Properties() audiodevice.DeviceProperties { return i.properties }

// IsInjecting reports whether the most recent buffer sent downstream was synthesized
// rather than captured.
func (i *Injector) IsInjecting() bool { return i.injecting.Load() }

func (i *Injector) Close() error {
	i.closeOnce.Do(func() { close(i.sinkStream) })
	return nil
}

// SetStream wires the injector onto an upstream source and starts its timeout-driven
// forwarding goroutine. Must be called exactly once.
func (i *Injector) SetStream(source <-chan audioframe.Frame) {
	i.sourceStream = source
	go i.run()
}

func (i *Injector) run() {
	defer i.Close()
	timer := time.NewTimer(i.captureTimeout)
	defer timer.Stop()
	for {
		select {
		case f, ok := <-i.sourceStream:
			if !ok {
				return
			}
			if !f.IsSilent() {
				timer.Reset(i.captureTimeout)
			}
			i.injecting.Store(false)
			i.sinkStream <- f
		case <-timer.C:
			i.injecting.Store(true)
			i.sinkStream <- i.synthesize()
			timer.Reset(i.injectPeriod)
		}
	}
}

// synthesize builds one buffer worth of injectPeriod milliseconds of replacement audio
// at the configured sample rate and channel count.
func (i *Injector) synthesize() audioframe.Frame {
	n := int(float64(i.properties.SampleRate) * i.injectPeriod.Seconds())
	samples := make([]float32, n*i.properties.NumChannels)
	if i.mode == ModeNoise {
		// faint uniform noise near -90 dBFS, the same "tiny but nonzero" idiom flacstream.rs
		// uses to keep limit_min_bitrate-style periodic framing honest
		const amplitude = 0.00003 // approx -90 dBFS
		for idx := range samples {
			samples[idx] = (i.rng.Float32()*2 - 1) * amplitude
		}
	}
	return audioframe.Frame{
		Samples:     samples,
		SampleRate:  i.properties.SampleRate,
		NumChannels: i.properties.NumChannels,
		Format:      audioframe.FormatF32,
		Synthesized: true,
	}
}
