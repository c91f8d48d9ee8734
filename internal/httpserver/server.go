// Package httpserver is the HTTP streaming endpoint renderers pull audio from: one
// net/http.Server, one Fan-out Bus subscription and one streamformat.Encoder per
// connected GET, torn down cleanly on write failure or client disconnect.
//
// Grounded on original_source/src/server/streaming_server.rs for the header set,
// the GET/HEAD/other-method handling, and the "make sure tiny-http does not use
// chunked encoding" streamsize/chunksize wiring, and
// original_source/src/server/query_params.rs for the URL-suffix and bd=/ss= query
// override parsing. other_examples/amonks-airplayer__main.go supplies the idiomatic
// Go shape: a plain net/http.Server plus graceful Shutdown, replacing
// streaming_server.rs's two-fixed-thread tiny-http pool with the Go runtime's
// handler-goroutine-per-request model (see SPEC_FULL.md section 5).
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brackenhollow/airloom/internal/config"
	"github.com/brackenhollow/airloom/pkg/audiodevice/device"
	"github.com/brackenhollow/airloom/pkg/streamclient"
	"github.com/brackenhollow/airloom/pkg/streamformat"
)

// suffixFormats is query_params.rs's VALID_URLS/format-from-extension table. ".raw"
// maps to LPCM even though streamformat.ParseFormat has no "raw" case: this table is
// HTTP-routing-specific and
// deliberately kept separate from the general format parser.
var suffixFormats = map[string]streamformat.Format{
	"raw":  streamformat.FormatLPCM,
	"wav":  streamformat.FormatWAV,
	"rf64": streamformat.FormatRF64,
	"flac": streamformat.FormatFLAC,
}

// Server serves live audio over HTTP to any number of simultaneous renderer
// connections.
type Server struct {
	cfgStore  *config.Store
	bus       *device.FanOutBus
	log       *slog.Logger
	httpSrv   *http.Server

	// OnClientConnected/OnClientDisconnected notify the orchestrator of streaming
	// lifecycle events; both may be nil.
	OnClientConnected    func(remoteAddr string)
	OnClientDisconnected func(remoteAddr string)
}

// New builds a Server bound to addr (e.g. "0.0.0.0:5901"). It does not start
// listening until Serve is called.
func New(addr string, cfgStore *config.Store, bus *device.FanOutBus, log *slog.Logger) *Server {
	s := &Server{
		cfgStore: cfgStore,
		bus:      bus,
		log:      log.With("component", "httpserver"),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleStream)
	s.httpSrv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Serve listens and serves until ctx is cancelled, then gracefully shuts down.
// Blocks until shutdown completes; returns a non-nil error only for an unexpected
// listen/serve failure (http.ErrServerClosed is not reported as an error).
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("streaming server listening", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shut down streaming server: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.logRequest(r)

	format, ok := formatFromPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.serve(w, r, format)
	case http.MethodHead:
		s.writeHeaders(w, format, headOverrides(r, s.cfgStore.Load(), format))
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) logRequest(r *http.Request) {
	attrs := make([]any, 0, len(r.Header)*2+2)
	attrs = append(attrs, "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
	for k, v := range r.Header {
		attrs = append(attrs, k, strings.Join(v, ","))
	}
	s.log.Debug("incoming request", attrs...)
}

func formatFromPath(path string) (streamformat.Format, bool) {
	const prefix = "/stream/swyh."
	if !strings.HasPrefix(path, prefix) {
		return 0, false
	}
	f, ok := suffixFormats[strings.TrimPrefix(path, prefix)]
	return f, ok
}

// overrides holds the per-request bit depth/stream size after applying query
// parameter overrides on top of the configured defaults, mirroring
// StreamingContext::update_format.
type overrides struct {
	bitDepth   streamformat.BitDepth
	streamSize streamformat.StreamSize
}

func headOverrides(r *http.Request, cfg *config.Configuration, format streamformat.Format) overrides {
	o := overrides{
		bitDepth:   streamformat.BitDepth(cfg.BitsPerSample),
		streamSize: streamformat.ParseStreamSize(streamSizeConfigFor(cfg, format)),
	}
	q := r.URL.Query()
	if bd := q.Get("bd"); bd != "" {
		o.bitDepth = streamformat.ParseBitDepth(bd)
	}
	if ss := q.Get("ss"); ss != "" {
		o.streamSize = streamformat.ParseStreamSize(ss)
	}
	return o
}

func streamSizeConfigFor(cfg *config.Configuration, format streamformat.Format) string {
	switch format {
	case streamformat.FormatWAV:
		return cfg.WAVStreamSize
	case streamformat.FormatRF64:
		return cfg.RF64StreamSize
	case streamformat.FormatFLAC:
		return cfg.FLACStreamSize
	default:
		return cfg.LPCMStreamSize
	}
}

func (s *Server) writeHeaders(w http.ResponseWriter, format streamformat.Format, o overrides) {
	h := w.Header()
	h.Set("Content-Type", format.ContentType(o.bitDepth))
	h.Set("Connection", "close")
	h.Set("TransferMode.dlna.org", "Streaming")
	h.Set("Server", "airloom")
	h.Set("icy-name", "airloom")
	// No Accept-Ranges header: some renderers misinterpret "Accept-Ranges: none" as an
	// invitation to send byte-range requests this server can't honor. A deliberate
	// departure from streaming_server.rs, which sends Accept-Ranges: none.

	announcedSize, _ := o.streamSize.Values()
	if announcedSize >= 0 {
		h.Set("Content-Length", strconv.FormatInt(announcedSize, 10))
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, format streamformat.Format) {
	cfg := s.cfgStore.Load()
	o := headOverrides(r, cfg, format)
	s.writeHeaders(w, format, o)

	flusher, _ := w.(http.Flusher)

	sub := s.bus.Subscribe()
	defer s.bus.Unsubscribe(sub)

	props := s.bus.Properties()
	encoder := streamformat.NewEncoder(format, uint32(props.SampleRate), props.NumChannels, o.bitDepth)
	client := streamclient.New(sub, encoder, r.RemoteAddr, time.Duration(cfg.BufferingDelayMsec)*time.Millisecond, s.log)

	if s.OnClientConnected != nil {
		s.OnClientConnected(r.RemoteAddr)
	}
	defer func() {
		if s.OnClientDisconnected != nil {
			s.OnClientDisconnected(r.RemoteAddr)
		}
	}()

	dst := &flushingWriter{w: w, flusher: flusher}
	if err := client.Pump(r.Context(), dst); err != nil {
		s.log.Debug("streaming client write failed", "remote", r.RemoteAddr, "error", err)
	}
	if dropped := client.Dropped(); dropped > 0 {
		s.log.Debug("streaming client fell behind", "remote", r.RemoteAddr, "dropped_batches", dropped)
	}
}

// flushingWriter flushes after every write so chunked/unbounded responses reach the
// renderer with low latency instead of waiting on net/http's internal buffering.
type flushingWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (f *flushingWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if err != nil {
		return n, err
	}
	if f.flusher != nil {
		f.flusher.Flush()
	}
	return n, nil
}
