// Command airloom captures the default (or selected) audio input device and
// streams it to UPnP/DLNA and OpenHome renderers discovered on the local network.
//
// Grounded on ijakenorton-Roundtable/cmd/main.go's flag-parse + config-load +
// logger-configure + panic-on-fatal-setup-error skeleton, generalized from that
// file's single hardcoded WebRTC pipeline to this domain's capture/discovery/serve
// pipeline, and on original_source/src/utils/commandline.rs for the exact flag
// surface (short names, defaults, the format[+streamsize] combined value).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/brackenhollow/airloom/internal/config"
	"github.com/brackenhollow/airloom/internal/httpserver"
	"github.com/brackenhollow/airloom/internal/logging"
	"github.com/brackenhollow/airloom/internal/orchestrator"
	"github.com/brackenhollow/airloom/internal/priority"
	"github.com/brackenhollow/airloom/internal/upnp"
	"github.com/brackenhollow/airloom/pkg/audiodevice"
	"github.com/brackenhollow/airloom/pkg/audiodevice/device"
	"github.com/brackenhollow/airloom/pkg/streamformat"
)

const (
	exitOK            = 0
	exitConfigError   = 1
	exitAudioError    = 2
	exitInterrupted   = 130
	framesPerBuffer   = 1024
	defaultNumChannel = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := pflag.NewFlagSet("airloom", pflag.ContinueOnError)
	dryRun := flags.BoolP("dry-run", "n", false, "don't start streaming, just discover and exit")
	configID := flags.StringP("config-id", "c", "", "configuration id, for running multiple instances side by side")
	configPathOverride := flags.StringP("config-path", "C", "", "explicit path to a config TOML file, overriding the default $HOME/.airloom location")
	serverPort := flags.IntP("server-port", "p", 0, "streaming server port (0 = use configured/default)")
	autoReconnect := flags.StringP("auto-reconnect", "a", "", "auto_reconnect (true/false)")
	autoResume := flags.StringP("auto-resume", "r", "", "auto_resume (true/false)")
	soundSource := flags.StringP("sound-source", "s", "", "audio input device index or name")
	logLevel := flags.StringP("log-level", "l", "", "log_level (info/debug)")
	ssdpInterval := flags.Float64P("ssdp-interval", "i", 0, "ssdp_interval_mins (0 disables discovery)")
	bitsPerSample := flags.IntP("bits", "b", 0, "bits_per_sample (16/24)")
	format := flags.StringP("format", "f", "", "streaming_format, optionally +streamsize, e.g. FLAC or WAV+U32maxChunked")
	playerIP := flags.StringP("player", "o", "", "renderer ip or name to play on automatically, once discovered")
	ipAddress := flags.StringP("ip-address", "e", "", "ip address of the network interface to bind/discover on")
	injectSilence := flags.StringP("inject-silence", "S", "", "inject_silence (true/false)")
	serveOnly := flags.BoolP("serve-only", "x", false, "only run the streaming server, skip SSDP discovery")
	bufferMsec := flags.IntP("up-front-buffer", "u", -1, "up-front buffering delay in milliseconds before the first network write")
	volume := flags.IntP("volume", "v", -1, "desired initial player volume (0..100), unchanged if omitted")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return exitOK
		}
		fmt.Fprintln(os.Stderr, err)
		return exitConfigError
	}

	cfg, err := loadConfig(*configID, *configPathOverride)
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		return exitConfigError
	}
	applyFlagOverrides(cfg, flags, serverPort, autoReconnect, autoResume, soundSource,
		logLevel, ssdpInterval, bitsPerSample, format, injectSilence, bufferMsec, volume)

	logPath := ""
	if dir, err := config.Dir(); err == nil {
		logPath = dir + "/log" + *configID + ".txt"
	}
	logFile, err := logging.Configure(cfg.LogLevel, logPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging setup failed:", err)
		return exitConfigError
	}
	if logFile != nil {
		defer logFile.Close()
	}
	log := slog.Default()

	if err := priority.Raise(); err != nil {
		log.Debug("failed to raise process priority", "error", err)
	}

	localAddr, err := resolveLocalAddr(*ipAddress)
	if err != nil {
		log.Warn("network interface resolution failed, falling back to system default", "error", err)
		localAddr = net.IPv4zero
	}

	capture, err := device.Open(cfg.SoundSource, defaultNumChannel, framesPerBuffer, log)
	if err != nil {
		log.Error("failed to open audio capture device", "error", err)
		return exitAudioError
	}
	defer capture.Close()

	normalizer := device.NewNormalizer(capture.Properties(), audiodevice.DeviceProperties{
		SampleRate:  capture.Properties().SampleRate,
		NumChannels: defaultNumChannel,
	})
	normalizer.SetStream(capture.Stream())
	normalizer.SetRMSEnabled(cfg.MonitorRMS)

	injectMode := device.ModeSilence
	if cfg.InjectSilence {
		injectMode = device.ModeNoise
	}
	injector := device.NewInjector(normalizer.Properties(), time.Duration(cfg.CaptureTimeout)*time.Millisecond, injectMode, uint64(time.Now().UnixNano()))
	injector.SetStream(normalizer.Stream())

	bus := device.NewFanOutBus(injector.Properties())
	go func() {
		for f := range injector.Stream() {
			bus.Publish(f)
		}
	}()

	cfgStore := config.NewStore(cfg)

	registry := upnp.NewRegistry()
	controller := upnp.NewController(nil, fmt.Sprintf("%s:%d", localAddr, cfg.ServerPort))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	streamSuffix := streamSuffixFor(cfg.StreamingFormatValue())
	orch := orchestrator.New(registry, controller, log, cancel, cfg.AutoResume, streamSuffix, capture.Properties().SampleRate, cfg.BitsPerSample)
	orchDone := make(chan struct{})
	go func() {
		orch.Run(ctx)
		close(orchDone)
	}()

	srv := httpserver.New(fmt.Sprintf("%s:%d", localAddr, cfg.ServerPort), cfgStore, bus, log)
	srv.OnClientConnected = func(remote string) { orch.Send(orchestrator.Event{Kind: orchestrator.ClientConnected, RemoteAddr: remote}) }
	srv.OnClientDisconnected = func(remote string) { orch.Send(orchestrator.Event{Kind: orchestrator.ClientDisconnected, RemoteAddr: remote}) }

	serverErrCh := make(chan error, 1)
	go func() { serverErrCh <- srv.Serve(ctx) }()

	orch.Send(orchestrator.Event{Kind: orchestrator.CaptureStarted})

	if !*serveOnly && cfg.SSDPIntervalMins > 0 {
		go runDiscoveryLoop(ctx, localAddr, registry, orch, cfg, controller, *volume, capture.Properties().SampleRate, *playerIP, log)
	}

	if *dryRun {
		log.Info("dry run: discovery only, not starting streaming")
		cancel()
		<-serverErrCh
		return exitOK
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("received interrupt, shutting down")
		persistAutoreconnectList(cfg, orch)
		orch.Send(orchestrator.Event{Kind: orchestrator.StopAll})
		waitForOrchestratorShutdown(orchDone, cancel)
		<-serverErrCh
		return exitInterrupted
	case err := <-serverErrCh:
		if err != nil {
			log.Error("streaming server exited unexpectedly", "error", err)
			return exitAudioError
		}
		return exitOK
	}
}

// waitForOrchestratorShutdown gives the orchestrator's own StopAll pass (already
// bounded to a 5-second deadline inside Orchestrator.Run) a moment to finish before
// cancelling everything else outright, so StopAll's SOAP calls aren't cut short by
// context cancellation racing the event that triggered them.
func waitForOrchestratorShutdown(orchDone <-chan struct{}, cancel context.CancelFunc) {
	select {
	case <-orchDone:
	case <-time.After(6 * time.Second):
	}
	cancel()
}

func runDiscoveryLoop(ctx context.Context, localAddr net.IP, registry *upnp.Registry, orch *orchestrator.Orchestrator, cfg *config.Configuration, controller *upnp.Controller, initialVolume, sampleRate int, playerSelector string, log *slog.Logger) {
	suffix := streamSuffixFor(cfg.StreamingFormatValue())
	interval := time.Duration(cfg.SSDPIntervalMins * float64(time.Minute))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	discoverOnce := func() {
		renderers, err := upnp.Discover(ctx, localAddr, registry.Known, log)
		if err != nil {
			log.Warn("ssdp discovery failed", "error", err)
			return
		}
		for _, r := range renderers {
			orch.Send(orchestrator.Event{Kind: orchestrator.RendererDiscovered, Renderer: r})
			if _, err := controller.GetVolume(ctx, r); err == nil && initialVolume >= 0 {
				controller.SetVolume(ctx, r, initialVolume)
			}
			switch {
			case cfg.AutoReconnect && cfg.LastRenderer != "" && cfg.LastRenderer != "None" && r.Location == cfg.LastRenderer:
				// Autoreconnect: cfg.LastRenderer holds the Location URL persisted by
				// persistAutoreconnectList at the previous shutdown.
				if err := controller.Play(ctx, r, suffix, sampleRate, cfg.BitsPerSample); err != nil {
					log.Warn("autoreconnect play failed", "renderer", r.DevName, "error", err)
				} else {
					orch.MarkPlaying(r)
				}
			case playerSelector != "" && strings.Contains(r.DevName, playerSelector):
				// User-supplied -o/--player flag: match by friendly-name substring,
				// independent of the autoreconnect/autoresume flags.
				if err := controller.Play(ctx, r, suffix, sampleRate, cfg.BitsPerSample); err != nil {
					log.Warn("player-select play failed", "renderer", r.DevName, "error", err)
				} else {
					orch.MarkPlaying(r)
				}
			}
		}
	}

	discoverOnce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			discoverOnce()
		}
	}
}

func streamSuffixFor(f streamformat.Format) string {
	switch f {
	case streamformat.FormatWAV:
		return "wav"
	case streamformat.FormatRF64:
		return "rf64"
	case streamformat.FormatFLAC:
		return "flac"
	default:
		return "raw"
	}
}

func loadConfig(configID, pathOverride string) (*config.Configuration, error) {
	if pathOverride == "" {
		return config.Load(configID)
	}
	return config.LoadFrom(pathOverride, configID)
}

func applyFlagOverrides(cfg *config.Configuration, flags *pflag.FlagSet, serverPort *int, autoReconnect, autoResume, soundSource, logLevel *string, ssdpInterval *float64, bitsPerSample *int, format, injectSilence *string, bufferMsec, volume *int) {
	if flags.Changed("server-port") && *serverPort > 0 {
		cfg.ServerPort = *serverPort
	}
	if *autoReconnect != "" {
		cfg.AutoReconnect = parseBoolFlag(*autoReconnect)
	}
	if *autoResume != "" {
		cfg.AutoResume = parseBoolFlag(*autoResume)
	}
	if *soundSource != "" {
		cfg.SoundSource = *soundSource
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if flags.Changed("ssdp-interval") {
		cfg.SSDPIntervalMins = *ssdpInterval
	}
	if flags.Changed("bits") {
		cfg.BitsPerSample = *bitsPerSample
	}
	if *format != "" {
		applyFormatFlag(cfg, *format)
	}
	if *injectSilence != "" {
		cfg.InjectSilence = parseBoolFlag(*injectSilence)
	}
	if flags.Changed("up-front-buffer") {
		cfg.BufferingDelayMsec = *bufferMsec
	}
}

// applyFormatFlag splits the commandline's combined "FORMAT[+STREAMSIZE]" value,
// matching commandline.rs's Short('f') handling exactly, including WAV/RF64 also
// implying use_wave_format.
func applyFormatFlag(cfg *config.Configuration, value string) {
	formatPart, sizePart, hasSize := strings.Cut(value, "+")
	switch strings.ToUpper(formatPart) {
	case "WAV":
		cfg.StreamingFormat = streamformat.FormatWAV.String()
		cfg.UseWaveFormat = true
	case "RF64":
		cfg.StreamingFormat = streamformat.FormatRF64.String()
		cfg.UseWaveFormat = true
	case "FLAC":
		cfg.StreamingFormat = streamformat.FormatFLAC.String()
	default:
		cfg.StreamingFormat = streamformat.FormatLPCM.String()
	}
	if hasSize {
		size := streamformat.ParseStreamSize(sizePart).String()
		cfg.LPCMStreamSize = size
		cfg.WAVStreamSize = size
		cfg.RF64StreamSize = size
		cfg.FLACStreamSize = size
	}
}

func parseBoolFlag(s string) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false
	}
	return b
}

// resolveLocalAddr picks the bind/discovery address: an explicit IP, or the first
// non-loopback IPv4 address on the host, matching commandline.rs's Short('e')
// fallback to "last used interface" generalized to "first usable interface" absent
// any persisted choice.
func resolveLocalAddr(explicit string) (net.IP, error) {
	if explicit != "" {
		ip := net.ParseIP(explicit)
		if ip == nil {
			return nil, fmt.Errorf("invalid ip address %q", explicit)
		}
		return ip, nil
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("enumerate network interfaces: %w", err)
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4, nil
		}
	}
	return nil, fmt.Errorf("no usable network interface found")
}

// persistAutoreconnectList saves the Location of one renderer currently playing so
// it can be replayed automatically after the next startup's first discovery pass.
// Only the first entry of PlayingLocations is saved (as cfg.LastRenderer); when
// several renderers are playing, the others are not persisted and which one is kept
// is not defined.
func persistAutoreconnectList(cfg *config.Configuration, orch *orchestrator.Orchestrator) {
	locs := orch.PlayingLocations()
	if len(locs) == 0 {
		return
	}
	cfg.LastRenderer = locs[0]
	if err := cfg.Save(); err != nil {
		return
	}
}
