package device

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gordonklaus/portaudio"

	"github.com/brackenhollow/airloom/pkg/audiodevice"
	"github.com/brackenhollow/airloom/pkg/audioframe"
)

// Capture opens one PortAudio input device and emits interleaved float32 frames as the
// host delivers them.
//
// Grounded on _examples/d1nch8g-aihr/audio/portaudio.go for the
// Initialize/OpenDefaultStream/Start/Stop/Close lifecycle, and on the teacher's
// rtaudiooutputdevice.go for the bounded-channel-with-drop-and-slog.Warn idiom used to
// hand frames from the hardware callback to the rest of the pipeline without ever
// blocking inside that callback (SPEC_FULL.md section 4.1's "must not block on slow
// consumers" requirement). Device selection (index or name, duplicate-name
// disambiguation via a trailing ":n") is grounded on
// original_source/src/utils/audiodevices.rs's host/device enumeration.
type Capture struct {
	id         uuid.UUID
	properties audiodevice.DeviceProperties
	log        *slog.Logger

	stream *portaudio.Stream
	out    chan audioframe.Frame

	deviceName string

	closeOnce sync.Once
}

// ListInputNames enumerates every host API's input-capable devices, tagging duplicate
// names with a zero-based ":n" suffix exactly as swyh-rs's audiodevices.rs does when
// presenting a device picker.
func ListInputNames() ([]string, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate audio devices: %w", err)
	}
	seen := make(map[string]int)
	names := make([]string, 0, len(devices))
	for _, d := range devices {
		if d.MaxInputChannels <= 0 {
			continue
		}
		n := seen[d.Name]
		seen[d.Name] = n + 1
		if n == 0 {
			names = append(names, d.Name)
		} else {
			names = append(names, fmt.Sprintf("%s:%d", d.Name, n))
		}
	}
	return names, nil
}

// resolveDevice finds the *portaudio.DeviceInfo matching selector, which is either a
// zero-based index ("3") or a device name, optionally suffixed "name:n" to pick the
// nth duplicate. An empty selector or "None" (the configured default) selects the
// host's default input device.
func resolveDevice(selector string) (*portaudio.DeviceInfo, error) {
	if selector == "" || selector == "None" {
		return portaudio.DefaultInputDevice()
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate audio devices: %w", err)
	}
	if idx, convErr := strconv.Atoi(selector); convErr == nil {
		if idx < 0 || idx >= len(devices) {
			return nil, fmt.Errorf("audio device index %d out of range (have %d devices)", idx, len(devices))
		}
		return devices[idx], nil
	}
	name := selector
	wantDup := 0
	if i := strings.LastIndex(selector, ":"); i >= 0 {
		if n, convErr := strconv.Atoi(selector[i+1:]); convErr == nil {
			name = selector[:i]
			wantDup = n
		}
	}
	seen := 0
	for _, d := range devices {
		if d.Name != name || d.MaxInputChannels <= 0 {
			continue
		}
		if seen == wantDup {
			return d, nil
		}
		seen++
	}
	return nil, fmt.Errorf("audio input device %q not found", selector)
}

// Open initializes PortAudio and opens selector (an index or a possibly-disambiguated
// name) as an input-only stream at the device's default sample rate, delivering
// framesPerBuffer-sized callbacks.
func Open(selector string, numChannels, framesPerBuffer int, log *slog.Logger) (*Capture, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	dev, err := resolveDevice(selector)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}
	c := &Capture{
		id:         uuid.New(),
		deviceName: dev.Name,
		out:        make(chan audioframe.Frame, 32),
		log:        log.With("component", "capture", "device", dev.Name, "id", uuid.New().String()),
	}
	if numChannels > dev.MaxInputChannels {
		numChannels = dev.MaxInputChannels
	}
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: numChannels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      dev.DefaultSampleRate,
		FramesPerBuffer: framesPerBuffer,
	}
	c.properties = audiodevice.DeviceProperties{
		SampleRate:  int(dev.DefaultSampleRate),
		NumChannels: numChannels,
	}
	stream, err := portaudio.OpenStream(params, c.onBuffer(numChannels, int(dev.DefaultSampleRate)))
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open audio stream on %q: %w", dev.Name, err)
	}
	c.stream = stream
	if err := c.stream.Start(); err != nil {
		c.stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("start audio stream on %q: %w", dev.Name, err)
	}
	return c, nil
}

// onBuffer builds the PortAudio callback. It must never block: a full output channel
// means the rest of the pipeline is behind, and the callback drops the buffer rather
// than waiting, logging at Warn so chronic drops are visible without panicking.
func (c *Capture) onBuffer(numChannels, sampleRate int) func(in []float32) {
	return func(in []float32) {
		samples := make([]float32, len(in))
		copy(samples, in)
		f := audioframe.Frame{
			Samples:     samples,
			SampleRate:  sampleRate,
			NumChannels: numChannels,
			Format:      audioframe.FormatF32,
		}
		select {
		case c.out <- f:
		default:
			c.log.Warn("capture buffer dropped, consumer is behind")
		}
	}
}

func (c *Capture) Stream() <-chan audioframe.Frame { return c.out }

func (c *Capture) Properties() audiodevice.DeviceProperties { return c.properties }

// Reopen attempts one immediate reopen of the same logical device selector, modeling
// the Windows RDP-preemption recovery path in SPEC_FULL.md section 4.1: a fresh Capture
// is built from scratch rather than trying to resurrect the closed PortAudio stream.
func (c *Capture) Reopen(numChannels, framesPerBuffer int, log *slog.Logger) (*Capture, error) {
	return Open(c.deviceName, numChannels, framesPerBuffer, log)
}

func (c *Capture) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.stream != nil {
			err = c.stream.Stop()
			if cerr := c.stream.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		close(c.out)
		portaudio.Terminate()
	})
	return err
}
