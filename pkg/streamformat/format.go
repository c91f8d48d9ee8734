// Package streamformat defines the streaming wire formats (LPCM, WAV, RF64, FLAC), the
// bit depths and stream-size policies that control chunking, and one Encoder per format.
//
// Grounded on original_source/src/enums/streaming.rs for the enum shapes and exact
// streamsize/chunksize values.
package streamformat

import (
	"fmt"
	"math"
	"strings"
)

// Format is the wire encoding of a stream.
type Format int

const (
	FormatLPCM Format = iota
	FormatWAV
	FormatRF64
	FormatFLAC
)

func (f Format) String() string {
	switch f {
	case FormatLPCM:
		return "Lpcm"
	case FormatWAV:
		return "Wav"
	case FormatRF64:
		return "Rf64"
	case FormatFLAC:
		return "Flac"
	default:
		return "unknown"
	}
}

// ParseFormat accepts any case of lpcm/wav/flac/rf64.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "lpcm":
		return FormatLPCM, nil
	case "wav":
		return FormatWAV, nil
	case "flac":
		return FormatFLAC, nil
	case "rf64":
		return FormatRF64, nil
	default:
		return 0, fmt.Errorf("unknown streaming format %q", s)
	}
}

// NeedsWAVHeader reports whether this format sends a RIFF-style header before the
// sample data (WAV and RF64 both do, LPCM and FLAC don't: LPCM is a bare sample stream
// and FLAC has its own STREAMINFO-based framing).
func (f Format) NeedsWAVHeader() bool { return f == FormatWAV || f == FormatRF64 }

// ContentType returns the DLNA-facing MIME string for this format at the given bit
// depth, used as the HTTP Content-Type. The DIDL-Lite protocolInfo strings are built
// separately in internal/upnp.
func (f Format) ContentType(bd BitDepth) string {
	switch f {
	case FormatFLAC:
		return "audio/FLAC"
	case FormatWAV, FormatRF64:
		return "audio/wave;codec=1 (WAV)"
	case FormatLPCM:
		if bd == Bits16 {
			return "audio/L16 (LPCM)"
		}
		return "audio/L24 (LPCM)"
	default:
		return "application/octet-stream"
	}
}

// BitDepth is the sample resolution of the outgoing PCM-derived stream.
type BitDepth int

const (
	Bits16 BitDepth = 16
	Bits24 BitDepth = 24
)

func (b BitDepth) String() string { return fmt.Sprintf("%d", int(b)) }

// ParseBitDepth accepts "16" or "24"; anything else yields Bits16, matching the
// permissive fallback original_source/src/enums/streaming.rs uses for malformed query
// parameters rather than rejecting the request outright.
func ParseBitDepth(s string) BitDepth {
	if s == "24" {
		return Bits24
	}
	return Bits16
}

// StreamSize selects the (announced total size, chunk threshold) pair a streaming
// response advertises. Renderers vary in how they react to a Content-Length versus a
// chunked transfer with no declared end, so swyh-rs exposes all five combinations
// per-format rather than picking one.
type StreamSize int

const (
	NoneChunked StreamSize = iota
	U32MaxChunked
	U32MaxNotChunked
	U64MaxChunked
	U64MaxNotChunked
)

func (s StreamSize) String() string {
	switch s {
	case NoneChunked:
		return "NoneChunked"
	case U32MaxChunked:
		return "U32maxChunked"
	case U32MaxNotChunked:
		return "U32maxNotChunked"
	case U64MaxChunked:
		return "U64maxChunked"
	case U64MaxNotChunked:
		return "U64maxNotChunked"
	default:
		return "NoneChunked"
	}
}

// ParseStreamSize is case-insensitive and falls back to NoneChunked for anything
// unrecognized, matching the original's permissive FromStr.
func ParseStreamSize(s string) StreamSize {
	switch strings.ToLower(s) {
	case "nonechunked":
		return NoneChunked
	case "u32maxchunked":
		return U32MaxChunked
	case "u32maxnotchunked":
		return U32MaxNotChunked
	case "u64maxchunked":
		return U64MaxChunked
	case "u64maxnotchunked":
		return U64MaxNotChunked
	default:
		return NoneChunked
	}
}

const maxUint32 = int64(1<<32 - 1)

// Values returns (announcedSize, chunkSize). announcedSize of -1 means no
// Content-Length header at all (the response relies on HTTP's chunked
// transfer-encoding with no declared end) — the NoneChunked case, and the only one
// that actually chunks at the HTTP layer. Every other variant declares a (deliberately
// absurd) Content-Length and streams a plain, undelimited body until the connection
// drops; "Chunked" versus "NotChunked" in the name changes only the two returned
// values, not HTTP transfer-encoding. chunkSize is the original's chunk threshold;
// the HTTP server reads only announcedSize.
//
// The two 64-bit variants announce math.MaxInt64/math.MaxInt64-1, matching
// original_source's literal u64::MAX/u64::MAX-1 Content-Length: Go's net/http treats a
// declared Content-Length as a hard cap on the response, so collapsing these onto the
// u32 variants' ~4GB sizes would cut off RF64 — the one format whose entire purpose is
// an effectively unbounded stream — after a few hours of real-time capture.
func (s StreamSize) Values() (announcedSize int64, chunkSize uint64) {
	switch s {
	case NoneChunked:
		return -1, 8192
	case U32MaxChunked:
		return maxUint32, 8192
	case U32MaxNotChunked:
		return maxUint32 - 1, uint64(maxUint32)
	case U64MaxChunked:
		return math.MaxInt64, 8192
	case U64MaxNotChunked:
		return math.MaxInt64 - 1, uint64(math.MaxInt64)
	default:
		return -1, 8192
	}
}
