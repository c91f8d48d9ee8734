package streamformat

import "github.com/brackenhollow/airloom/pkg/audioframe"

// LPCMEncoder emits raw big-endian interleaved PCM samples with no header at all: the
// DLNA L16/L24 protocolInfo string is the only thing telling the renderer how to
// interpret the bytes, matching original_source/src/utils/rwstream.rs's non-WAV branch
// of ChannelStream::read (to_be_bytes instead of to_le_bytes, no wav_hdr drain).
type LPCMEncoder struct {
	bitDepth BitDepth
}

func NewLPCMEncoder(bitDepth BitDepth) *LPCMEncoder {
	return &LPCMEncoder{bitDepth: bitDepth}
}

func (e *LPCMEncoder) ContentType() string { return FormatLPCM.ContentType(e.bitDepth) }

func (e *LPCMEncoder) Header() []byte { return nil }

func (e *LPCMEncoder) Encode(dst []byte, samples []float32, _ bool) []byte {
	if e.bitDepth == Bits24 {
		for _, s := range samples {
			dst = audioframe.PackI24BE(dst, audioframe.ToI24(s))
		}
		return dst
	}
	for _, s := range samples {
		dst = audioframe.PackI16BE(dst, audioframe.ToI16(s))
	}
	return dst
}
