package streamformat

import (
	"math"
	"testing"
)

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{
		"lpcm": FormatLPCM,
		"LPCM": FormatLPCM,
		"Wav":  FormatWAV,
		"flac": FormatFLAC,
		"RF64": FormatRF64,
	}
	for in, want := range cases {
		got, err := ParseFormat(in)
		if err != nil {
			t.Fatalf("ParseFormat(%q): unexpected error: %v", in, err)
		}
		if got != want {
			t.Errorf("ParseFormat(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseFormat("rf65"); err == nil {
		t.Error("ParseFormat(\"rf65\") should fail, typo of rf64")
	}
}

func TestStreamSizeValues(t *testing.T) {
	size, chunk := U32MaxNotChunked.Values()
	if size != int64(1<<32-2) {
		t.Errorf("U32maxNotChunked size = %d, want %d", size, int64(1<<32-2))
	}
	if chunk != uint64(1<<32-1) {
		t.Errorf("U32maxNotChunked chunk = %d, want %d", chunk, uint64(1<<32-1))
	}

	size, chunk = NoneChunked.Values()
	if size != -1 || chunk != 8192 {
		t.Errorf("NoneChunked = (%d, %d), want (-1, 8192)", size, chunk)
	}
}

func TestStreamSizeValuesU64VariantsExceedU32Range(t *testing.T) {
	// RF64's whole purpose is an effectively unbounded stream, so the u64 variants must
	// not collapse onto the u32 variants' ~4.29GB Content-Length.
	size, chunk := U64MaxChunked.Values()
	if size != math.MaxInt64 {
		t.Errorf("U64maxChunked size = %d, want %d", size, int64(math.MaxInt64))
	}
	if chunk != 8192 {
		t.Errorf("U64maxChunked chunk = %d, want 8192", chunk)
	}
	if size <= maxUint32 {
		t.Errorf("U64maxChunked size = %d must exceed the u32 variant's %d", size, maxUint32)
	}

	size, chunk = U64MaxNotChunked.Values()
	if size != math.MaxInt64-1 {
		t.Errorf("U64maxNotChunked size = %d, want %d", size, int64(math.MaxInt64-1))
	}
	if chunk != uint64(math.MaxInt64) {
		t.Errorf("U64maxNotChunked chunk = %d, want %d", chunk, uint64(math.MaxInt64))
	}
	if size <= maxUint32 {
		t.Errorf("U64maxNotChunked size = %d must exceed the u32 variant's %d", size, maxUint32)
	}
}

func TestParseStreamSizeFallsBackToNoneChunked(t *testing.T) {
	if got := ParseStreamSize("bogus"); got != NoneChunked {
		t.Errorf("ParseStreamSize(bogus) = %v, want NoneChunked", got)
	}
}

func TestFormatNeedsWAVHeader(t *testing.T) {
	for _, f := range []Format{FormatWAV, FormatRF64} {
		if !f.NeedsWAVHeader() {
			t.Errorf("%v.NeedsWAVHeader() = false, want true", f)
		}
	}
	for _, f := range []Format{FormatLPCM, FormatFLAC} {
		if f.NeedsWAVHeader() {
			t.Errorf("%v.NeedsWAVHeader() = true, want false", f)
		}
	}
}

func TestWAVEncoderHeaderSentOnce(t *testing.T) {
	e := NewWAVEncoder(44100)
	first := e.Header()
	if len(first) != 44 {
		t.Fatalf("WAV header length = %d, want 44", len(first))
	}
	if first[0] != 'R' || first[1] != 'I' || first[2] != 'F' || first[3] != 'F' {
		t.Errorf("WAV header missing RIFF marker: %v", first[:4])
	}
	if second := e.Header(); second != nil {
		t.Errorf("second Header() call = %v, want nil", second)
	}
}

func TestLPCMEncoderEncodesBigEndian(t *testing.T) {
	e := NewLPCMEncoder(Bits16)
	out := e.Encode(nil, []float32{1.0}, false)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if out[0] != 0x7F || out[1] != 0xFF {
		t.Errorf("Encode(1.0) = %v, want [0x7F 0xFF] (big-endian max positive i16)", out)
	}
}

func TestFLACEncoderHeaderStartsWithMarker(t *testing.T) {
	e := NewFLACEncoder(44100, 2, Bits16)
	hdr := e.Header()
	if string(hdr[:4]) != "fLaC" {
		t.Fatalf("FLAC header marker = %q, want fLaC", hdr[:4])
	}
	if e.Header() != nil {
		t.Error("second Header() call should return nil")
	}
}

func TestFLACEncoderEncodeProducesSyncedFrame(t *testing.T) {
	e := NewFLACEncoder(44100, 2, Bits16)
	samples := make([]float32, 2*100)
	out := e.Encode(nil, samples, false)
	if len(out) < 2 || out[0] != 0xFF || out[1]&0xF8 != 0xF8 {
		t.Fatalf("frame does not start with FLAC sync code: %v", out[:2])
	}
}
