// Package orchestrator owns the single writable reference to the renderer and
// client registries and routes every cross-component event through one
// tagged-variant channel.
//
// Grounded on original_source/src/enums/messages.rs's MessageType enum
// (SsdpMessage/PlayerMessage/LogMessage) widened to the full event set SPEC_FULL.md
// section 4.9 names, and on the teacher's slog-based event logging idiom for how
// each event gets surfaced.
package orchestrator

import (
	"context"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/brackenhollow/airloom/internal/upnp"
)

// EventKind is the tag of one Event on the orchestrator's channel, mirroring
// MessageType's closed variant set widened to this package's full event surface.
type EventKind int

const (
	CaptureStarted EventKind = iota
	CaptureEnded
	RendererDiscovered
	RendererVolumeChanged
	ClientConnected
	ClientDisconnected
	StopAll
	LogMessage
)

func (k EventKind) String() string {
	switch k {
	case CaptureStarted:
		return "CaptureStarted"
	case CaptureEnded:
		return "CaptureEnded"
	case RendererDiscovered:
		return "RendererDiscovered"
	case RendererVolumeChanged:
		return "RendererVolumeChanged"
	case ClientConnected:
		return "ClientConnected"
	case ClientDisconnected:
		return "ClientDisconnected"
	case StopAll:
		return "StopAll"
	case LogMessage:
		return "LogMessage"
	default:
		return "Unknown"
	}
}

// Event is one message on the orchestrator's channel. Only the fields relevant to
// Kind are populated; this mirrors a Rust tagged enum's payload without Go's type
// system forcing a payload interface per variant, which would cost a type switch at
// every send site for no benefit here (every field is a plain comparable value).
type Event struct {
	Kind EventKind

	Renderer   *upnp.Renderer // RendererDiscovered, RendererVolumeChanged
	Volume     int            // RendererVolumeChanged
	RemoteAddr string         // ClientConnected, ClientDisconnected
	Err        error          // CaptureEnded, on abnormal stop
	Message    string         // LogMessage
}

// shutdownDeadline bounds how long StopAll waits for every renderer's Stop() to
// complete before the process exits regardless, per SPEC_FULL.md section 4.9.
const shutdownDeadline = 5 * time.Second

// autoresumeTimeout bounds the Play call issued when a renderer's last active GET
// drops, so an unreachable renderer never blocks the event loop.
const autoresumeTimeout = 10 * time.Second

// Orchestrator drains the event channel on its own goroutine, applying each event
// to the renderer/client registries it owns and logging it, until Run's context is
// cancelled or a StopAll event arrives.
type Orchestrator struct {
	events     chan Event
	registry   *upnp.Registry
	controller *upnp.Controller
	log        *slog.Logger

	mu             sync.Mutex
	playingRenders map[string]*upnp.Renderer // keyed by Location, for StopAll and autoreconnect persistence
	connsByHost    map[string]int            // keyed by the connecting client's host, for autoresume

	autoResume    bool
	streamSuffix  string
	sampleRate    int
	bitsPerSample int

	onStopAll func()
}

// New builds an Orchestrator. onStopAll, if non-nil, is invoked once StopAll's
// renderer shutdown pass completes (e.g. to cancel the process-wide context other
// goroutines select on). autoResume, streamSuffix, sampleRate and bitsPerSample
// parameterize the Play call issued when Autoresume (SPEC_FULL.md section 4.8)
// decides a renderer auto-paused and needs restarting.
func New(registry *upnp.Registry, controller *upnp.Controller, log *slog.Logger, onStopAll func(), autoResume bool, streamSuffix string, sampleRate, bitsPerSample int) *Orchestrator {
	return &Orchestrator{
		events:         make(chan Event, 64),
		registry:       registry,
		controller:     controller,
		log:            log.With("component", "orchestrator"),
		playingRenders: make(map[string]*upnp.Renderer),
		connsByHost:    make(map[string]int),
		autoResume:     autoResume,
		streamSuffix:   streamSuffix,
		sampleRate:     sampleRate,
		bitsPerSample:  bitsPerSample,
		onStopAll:      onStopAll,
	}
}

// Send enqueues an event. Safe to call from any goroutine; never blocks as long as
// the channel isn't pathologically backed up (capacity 64).
func (o *Orchestrator) Send(e Event) {
	o.events <- e
}

// MarkPlaying records that renderer at location has an active StreamingClient, for
// StopAll's shutdown pass and for autoreconnect persistence.
func (o *Orchestrator) MarkPlaying(r *upnp.Renderer) {
	o.mu.Lock()
	o.playingRenders[r.Location] = r
	o.mu.Unlock()
}

// MarkStopped removes location from the playing set.
func (o *Orchestrator) MarkStopped(location string) {
	o.mu.Lock()
	delete(o.playingRenders, location)
	o.mu.Unlock()
}

// PlayingLocations returns the Location of every renderer currently believed to
// have an active StreamingClient, for persisting the autoreconnect list at
// shutdown.
func (o *Orchestrator) PlayingLocations() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.playingRenders))
	for loc := range o.playingRenders {
		out = append(out, loc)
	}
	return out
}

// Run drains the event channel until ctx is cancelled or a StopAll event is
// processed. It returns after StopAll's shutdown pass completes (bounded by
// shutdownDeadline) or after ctx is done, whichever comes first.
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-o.events:
			o.handle(e)
			if e.Kind == StopAll {
				return
			}
		}
	}
}

func (o *Orchestrator) handle(e Event) {
	switch e.Kind {
	case CaptureStarted:
		o.log.Info("capture started")
	case CaptureEnded:
		if e.Err != nil {
			o.log.Warn("capture ended", "error", e.Err)
		} else {
			o.log.Info("capture ended")
		}
	case RendererDiscovered:
		if e.Renderer != nil {
			o.registry.Merge([]*upnp.Renderer{e.Renderer})
			o.log.Info("renderer discovered", "name", e.Renderer.DevName, "location", e.Renderer.Location)
		}
	case RendererVolumeChanged:
		if e.Renderer != nil {
			o.log.Debug("renderer volume changed", "name", e.Renderer.DevName, "volume", e.Volume)
		}
	case ClientConnected:
		host := hostOf(e.RemoteAddr)
		o.mu.Lock()
		o.connsByHost[host]++
		count := o.connsByHost[host]
		o.mu.Unlock()
		o.log.Info("client connected", "remote", e.RemoteAddr, "active_from_host", count)
	case ClientDisconnected:
		host := hostOf(e.RemoteAddr)
		o.mu.Lock()
		o.connsByHost[host]--
		stillActive := o.connsByHost[host] > 0
		if !stillActive {
			delete(o.connsByHost, host)
		}
		o.mu.Unlock()
		o.log.Info("client disconnected", "remote", e.RemoteAddr)
		// A renderer that reopens a GET before its previous one closed (the
		// connsByHost counter never reaching zero) is tolerated as a single
		// ongoing stream rather than treated as a drop. Only once every GET from
		// this host has closed do we consider the renderer's transport gone and,
		// if Autoresume is enabled, assume it auto-paused and restart it.
		if stillActive || !o.autoResume {
			return
		}
		if r := o.playingByHost(host); r != nil {
			go o.resume(r)
		}
	case LogMessage:
		o.log.Info(e.Message)
	case StopAll:
		o.stopAll()
	}
}

// hostOf strips the port from a RemoteAddr, since the same renderer reconnecting
// opens a new ephemeral source port every time.
func hostOf(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

// playingByHost finds the renderer in the playing set whose Location resolves to
// host, for correlating an HTTP connection event back to the renderer that opened
// it.
func (o *Orchestrator) playingByHost(host string) *upnp.Renderer {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, r := range o.playingRenders {
		u, err := url.Parse(r.Location)
		if err != nil {
			continue
		}
		if u.Hostname() == host {
			return r
		}
	}
	return nil
}

// resume re-issues Play to a renderer whose last streaming connection dropped
// without an explicit Stop, per SPEC_FULL.md section 4.8's Autoresume behavior.
func (o *Orchestrator) resume(r *upnp.Renderer) {
	ctx, cancel := context.WithTimeout(context.Background(), autoresumeTimeout)
	defer cancel()
	if err := o.controller.Play(ctx, r, o.streamSuffix, o.sampleRate, o.bitsPerSample); err != nil {
		o.log.Warn("autoresume play failed", "renderer", r.DevName, "error", err)
		return
	}
	o.log.Info("autoresume: renderer auto-paused and restarted", "renderer", r.DevName)
}

// stopAll issues Stop to every renderer believed to be playing, bounded by
// shutdownDeadline in aggregate: renderers are stopped concurrently so one
// unreachable renderer never starves the others of their share of the deadline.
func (o *Orchestrator) stopAll() {
	o.mu.Lock()
	renderers := make([]*upnp.Renderer, 0, len(o.playingRenders))
	for _, r := range o.playingRenders {
		renderers = append(renderers, r)
	}
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer cancel()

	var wg sync.WaitGroup
	for _, r := range renderers {
		wg.Add(1)
		go func(r *upnp.Renderer) {
			defer wg.Done()
			if err := o.controller.Stop(ctx, r); err != nil {
				o.log.Debug("stop on shutdown failed", "renderer", r.DevName, "error", err)
			}
		}(r)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		o.log.Warn("shutdown deadline reached before every renderer stopped", "deadline", shutdownDeadline)
	}

	if o.onStopAll != nil {
		o.onStopAll()
	}
}
