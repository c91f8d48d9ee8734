package streamclient

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/brackenhollow/airloom/pkg/audiodevice"
	"github.com/brackenhollow/airloom/pkg/audiodevice/device"
	"github.com/brackenhollow/airloom/pkg/audioframe"
	"github.com/brackenhollow/airloom/pkg/streamformat"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
}

func TestPumpWritesHeaderThenSamples(t *testing.T) {
	bus := device.NewFanOutBus(audiodevice.DeviceProperties{SampleRate: 44100, NumChannels: 2})
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	encoder := streamformat.NewWAVEncoder(44100)
	c := New(sub, encoder, "127.0.0.1:1234", 0, discardLogger())

	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Pump(ctx, &out) }()

	bus.Publish(audioframe.Frame{Samples: []float32{0.5, -0.5}, SampleRate: 44100, NumChannels: 2})
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	if out.Len() < 44+4 {
		t.Fatalf("output too short: %d bytes", out.Len())
	}
	if string(out.Bytes()[:4]) != "RIFF" {
		t.Errorf("output does not start with WAV header: %v", out.Bytes()[:4])
	}
}

func TestPumpEndsCleanlyWhenSubscriptionCloses(t *testing.T) {
	bus := device.NewFanOutBus(audiodevice.DeviceProperties{SampleRate: 44100, NumChannels: 2})
	sub := bus.Subscribe()
	encoder := streamformat.NewLPCMEncoder(streamformat.Bits16)
	c := New(sub, encoder, "10.0.0.1:5000", 0, discardLogger())

	var out bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- c.Pump(context.Background(), &out) }()

	bus.Unsubscribe(sub)

	if err := <-done; err != nil {
		t.Fatalf("Pump returned error on clean close: %v", err)
	}
}

func TestDropped(t *testing.T) {
	bus := device.NewFanOutBus(audiodevice.DeviceProperties{SampleRate: 44100, NumChannels: 2})
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)
	c := New(sub, streamformat.NewLPCMEncoder(streamformat.Bits16), "", 0, discardLogger())
	if c.Dropped() != 0 {
		t.Errorf("Dropped() = %d, want 0", c.Dropped())
	}
}
