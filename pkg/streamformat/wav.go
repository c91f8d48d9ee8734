package streamformat

import (
	"encoding/binary"

	"github.com/brackenhollow/airloom/pkg/audioframe"
)

// wavHeader builds the 44-byte RIFF/WAVE/fmt/data header swyh-rs sends before an
// open-ended stream of 16-bit stereo little-endian PCM samples. Both the RIFF
// ChunkSize and the data Subchunk2Size are set to 0xFFFFFFFF as an "infinite size"
// signal: renderers that only look at the header to confirm the format, then keep
// reading past the declared size, accept this; ones that trust the declared size
// literally would truncate, which is why WAV/RF64 streaming is inherently a
// best-effort format choice rather than the default.
//
// Grounded on original_source/src/utils/rwstream.rs's create_wav_hdr, byte for byte.
func wavHeader(sampleRate uint32) []byte {
	const channels uint16 = 2
	const bitsPerSample uint16 = 16
	bytesPerSample := bitsPerSample / 8
	blockAlign := channels * bytesPerSample
	byteRate := sampleRate * uint32(blockAlign)

	hdr := make([]byte, 44)
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], 0xFFFFFFFF)
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1)
	binary.LittleEndian.PutUint16(hdr[22:24], channels)
	binary.LittleEndian.PutUint32(hdr[24:28], sampleRate)
	binary.LittleEndian.PutUint32(hdr[28:32], byteRate)
	binary.LittleEndian.PutUint16(hdr[32:34], blockAlign)
	binary.LittleEndian.PutUint16(hdr[34:36], bitsPerSample)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], 0xFFFFFFFF)
	return hdr
}

// WAVEncoder emits a fixed-size header once, then 16-bit little-endian interleaved
// samples. Bit depth is always 16 here: the original header format has no field for
// 24-bit WAV, so a 24-bit WAV request is still served as 16-bit; RF64 (see rf64.go)
// is the header-bearing format that carries 24-bit samples.
type WAVEncoder struct {
	sampleRate uint32
	headerSent bool
}

// NewWAVEncoder builds a WAVEncoder. The format is fixed at stereo, matching the
// pipeline's Sample Normalizer output (see pkg/audiodevice/device.Normalizer), so
// there is no channel count parameter.
func NewWAVEncoder(sampleRate uint32) *WAVEncoder {
	return &WAVEncoder{sampleRate: sampleRate}
}

func (e *WAVEncoder) ContentType() string { return FormatWAV.ContentType(Bits16) }

// Header returns the bytes to send once, before any sample data, or nil if already sent.
func (e *WAVEncoder) Header() []byte {
	if e.headerSent {
		return nil
	}
	e.headerSent = true
	return wavHeader(e.sampleRate)
}

// Encode appends little-endian 16-bit samples for one buffer of interleaved float32
// samples to dst and returns the extended slice.
func (e *WAVEncoder) Encode(dst []byte, samples []float32, _ bool) []byte {
	for _, s := range samples {
		dst = audioframe.PackI16LE(dst, audioframe.ToI16(s))
	}
	return dst
}
