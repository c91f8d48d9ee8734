package streamformat

import (
	"encoding/binary"

	"github.com/brackenhollow/airloom/pkg/audioframe"
)

// rf64Header builds an RF64 header (the EBU 64-bit successor to RIFF/WAVE) carrying a
// 'ds64' chunk ahead of the usual 'fmt '/'data' chunks. Like wavHeader, every size
// field is set to its "infinite" sentinel: RF64's whole reason for existing is files
// whose size isn't known up front, which is exactly the streaming case here. Grounded
// on the "needs_wav_hdr" pairing of Wav and Rf64 in
// original_source/src/enums/streaming.rs — the original emits a WAV header for both,
// relying on renderers to tolerate it; we emit a real ds64-bearing RF64 header instead
// since 24-bit RF64 needs a bits-per-sample the 44-byte WAV layout can't express
// without lying about the format.
func rf64Header(sampleRate uint32, bitsPerSample uint16) []byte {
	channels := uint16(2)
	bytesPerSample := bitsPerSample / 8
	blockAlign := channels * bytesPerSample
	byteRate := sampleRate * uint32(blockAlign)

	hdr := make([]byte, 0, 96)
	hdr = append(hdr, []byte("RF64")...)
	hdr = binary.LittleEndian.AppendUint32(hdr, 0xFFFFFFFF) // RIFF size placeholder, table says "use ds64"
	hdr = append(hdr, []byte("WAVE")...)

	hdr = append(hdr, []byte("ds64")...)
	hdr = binary.LittleEndian.AppendUint32(hdr, 28) // ds64 chunk size
	hdr = binary.LittleEndian.AppendUint64(hdr, 0xFFFFFFFFFFFFFFFF) // riffSizeLow
	hdr = binary.LittleEndian.AppendUint64(hdr, 0xFFFFFFFFFFFFFFFF) // dataSizeLow
	hdr = binary.LittleEndian.AppendUint64(hdr, 0xFFFFFFFFFFFFFFFF) // sampleCountLow
	hdr = binary.LittleEndian.AppendUint32(hdr, 0)                 // table length

	hdr = append(hdr, []byte("fmt ")...)
	hdr = binary.LittleEndian.AppendUint32(hdr, 16)
	hdr = binary.LittleEndian.AppendUint16(hdr, 1)
	hdr = binary.LittleEndian.AppendUint16(hdr, channels)
	hdr = binary.LittleEndian.AppendUint32(hdr, sampleRate)
	hdr = binary.LittleEndian.AppendUint32(hdr, byteRate)
	hdr = binary.LittleEndian.AppendUint16(hdr, blockAlign)
	hdr = binary.LittleEndian.AppendUint16(hdr, bitsPerSample)

	hdr = append(hdr, []byte("data")...)
	hdr = binary.LittleEndian.AppendUint32(hdr, 0xFFFFFFFF)
	return hdr
}

// RF64Encoder emits little-endian interleaved samples at either 16 or 24 bits behind
// an RF64/ds64 header, the only one of the two RIFF-style formats (WAV is always
// 16-bit) that can carry 24-bit samples with a header that honestly declares the bit depth.
type RF64Encoder struct {
	sampleRate uint32
	bitDepth   BitDepth
	headerSent bool
}

func NewRF64Encoder(sampleRate uint32, bitDepth BitDepth) *RF64Encoder {
	return &RF64Encoder{sampleRate: sampleRate, bitDepth: bitDepth}
}

func (e *RF64Encoder) ContentType() string { return FormatRF64.ContentType(e.bitDepth) }

func (e *RF64Encoder) Header() []byte {
	if e.headerSent {
		return nil
	}
	e.headerSent = true
	return rf64Header(e.sampleRate, uint16(e.bitDepth))
}

func (e *RF64Encoder) Encode(dst []byte, samples []float32, _ bool) []byte {
	if e.bitDepth == Bits24 {
		for _, s := range samples {
			dst = audioframe.PackI24LE(dst, audioframe.ToI24(s))
		}
		return dst
	}
	for _, s := range samples {
		dst = audioframe.PackI16LE(dst, audioframe.ToI16(s))
	}
	return dst
}
