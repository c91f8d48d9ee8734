package device

import (
	"sync"
	"sync/atomic"

	"github.com/brackenhollow/airloom/pkg/audiodevice"
	"github.com/brackenhollow/airloom/pkg/audioframe"
)

// Normalizer converts whatever channel layout capture produced into the fixed stereo
// layout the rest of the pipeline assumes, and exposes a gated RMS meter.
//
// Adapted from the teacher's AudioFormatConversionDevice
// (pkg/audiodevice/device/audioformatconversiondevice.go): kept the mono<->stereo
// conversion closures and the sink/source channel wiring shape, dropped the
// github.com/oov/audio resampler path entirely (SPEC_FULL.md Non-goals exclude sample
// rate transcoding, so sourceProperties.SampleRate and sinkProperties.SampleRate are
// always equal here — the normalizer only ever adapts channel count, never rate).
type Normalizer struct {
	sourceProperties audiodevice.DeviceProperties
	sinkProperties   audiodevice.DeviceProperties

	sourceStream <-chan audioframe.Frame
	sinkStream   chan audioframe.Frame

	convert func(audioframe.Frame) audioframe.Frame

	rmsEnabled atomic.Bool
	rmsMu      sync.Mutex
	lastRMS    [2]float64

	closeOnce sync.Once
}

// NewNormalizer builds a Normalizer converting from sourceProperties' channel layout to
// sinkProperties' channel layout. sourceProperties.SampleRate and sinkProperties.SampleRate
// must be equal; this normalizer never resamples.
func NewNormalizer(sourceProperties, sinkProperties audiodevice.DeviceProperties) *Normalizer {
	n := &Normalizer{
		sourceProperties: sourceProperties,
		sinkProperties:   sinkProperties,
		sinkStream:       make(chan audioframe.Frame, 8),
	}
	switch {
	case sourceProperties.NumChannels == 1 && sinkProperties.NumChannels == 2:
		n.convert = monoToStereo
	case sourceProperties.NumChannels == 2 && sinkProperties.NumChannels == 1:
		n.convert = stereoToMono
	default:
		n.convert = func(f audioframe.Frame) audioframe.Frame { return f }
	}
	return n
}

// SetRMSEnabled gates the per-buffer RMS computation behind an atomic flag rather than a
// lock, so the hot audio path pays nothing when no telemetry consumer is attached.
func (n *Normalizer) SetRMSEnabled(enabled bool) { n.rmsEnabled.Store(enabled) }

// LastRMS returns the most recently computed (left, right) RMS levels. Zero valued until
// the first buffer with RMS enabled has passed through.
func (n *Normalizer) LastRMS() (left, right float64) {
	n.rmsMu.Lock()
	defer n.rmsMu.Unlock()
	return n.lastRMS[0], n.lastRMS[1]
}

func (n *Normalizer) Stream() <-chan audioframe.Frame { return n.sinkStream }

func (n *Normalizer) Properties() audiodevice.DeviceProperties { return n.sinkProperties }

func (n *Normalizer) Close() error {
	n.closeOnce.Do(func() { close(n.sinkStream) })
	return nil
}

// SetStream wires the normalizer onto an upstream source and starts its forwarding
// goroutine. It must be called exactly once.
func (n *Normalizer) SetStream(source <-chan audioframe.Frame) {
	n.sourceStream = source
	go func() {
		for f := range n.sourceStream {
			f.NumChannels = n.sourceProperties.NumChannels
			out := n.convert(f)
			out.NumChannels = n.sinkProperties.NumChannels
			out.SampleRate = n.sinkProperties.SampleRate
			if n.rmsEnabled.Load() {
				n.rmsMu.Lock()
				n.lastRMS[0] = out.ChannelRMS(0)
				if out.NumChannels > 1 {
					n.lastRMS[1] = out.ChannelRMS(1)
				}
				n.rmsMu.Unlock()
			}
			n.sinkStream <- out
		}
		n.Close()
	}()
}

func monoToStereo(f audioframe.Frame) audioframe.Frame {
	out := make([]float32, len(f.Samples)*2)
	for i, v := range f.Samples {
		out[2*i] = v
		out[2*i+1] = v
	}
	f.Samples = out
	f.NumChannels = 2
	return f
}

func stereoToMono(f audioframe.Frame) audioframe.Frame {
	src := f.Samples
	if len(src)%2 == 1 {
		src = src[:len(src)-1]
	}
	out := make([]float32, len(src)/2)
	for i := range out {
		out[i] = (src[2*i] + src[2*i+1]) / 2
	}
	f.Samples = out
	f.NumChannels = 1
	return f
}
