package streamformat

// Encoder turns interleaved float32 samples into wire bytes for one streaming format.
// Header is called once per client connection before any Encode call and may return
// nil if the format has no leading header (LPCM, FLAC only has its own STREAMINFO
// block which Header also covers). Encode appends onto dst and returns the extended
// slice, following the append idiom the rest of this package uses to avoid a
// reallocation per call. injecting is true while the caller is forwarding
// synthesized silence/noise rather than genuinely captured audio; only the FLAC
// encoder currently reacts to it.
type Encoder interface {
	ContentType() string
	Header() []byte
	Encode(dst []byte, samples []float32, injecting bool) []byte
}

// NewEncoder builds the Encoder for format at the given sample rate, channel count and
// bit depth. WAV is always 16-bit regardless of bitDepth (see wav.go); callers that
// need 24-bit with a header should request RF64 instead, matching the
// needs_wav_hdr pairing from original_source/src/enums/streaming.rs.
func NewEncoder(format Format, sampleRate uint32, numChannels int, bitDepth BitDepth) Encoder {
	switch format {
	case FormatWAV:
		return NewWAVEncoder(sampleRate)
	case FormatRF64:
		return NewRF64Encoder(sampleRate, bitDepth)
	case FormatFLAC:
		return NewFLACEncoder(sampleRate, numChannels, bitDepth)
	default:
		return NewLPCMEncoder(bitDepth)
	}
}
