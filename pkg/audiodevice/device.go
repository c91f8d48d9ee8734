// Package audiodevice defines the source/sink interfaces every pipeline stage
// (capture, normalizer, injector, fan-out bus) is built against.
package audiodevice

import "github.com/brackenhollow/airloom/pkg/audioframe"

// DeviceProperties describes the fixed characteristics of one end of a device pipeline.
type DeviceProperties struct {
	SampleRate  int
	NumChannels int
}

// Source is anything that produces a stream of audio frames: a capture device, a
// normalizer, an injector, or a fan-out subscriber.
//
// Stream must never block on a slow consumer; a Source that wraps a hardware callback
// hands frames off through a small buffered channel and returns immediately.
type Source interface {
	Stream() <-chan audioframe.Frame
	Close() error
	Properties() DeviceProperties
}

// Sink is anything that consumes a stream of audio frames produced by a Source.
//
// A Sink is expected to exit cleanly (and release any downstream resources) once its
// source channel is closed; it must never panic from a closed channel.
type Sink interface {
	SetStream(source <-chan audioframe.Frame)
	Properties() DeviceProperties
}
