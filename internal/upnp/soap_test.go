package upnp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestRenderer(ohURL, avURL string, protocols SupportedProtocols) *Renderer {
	r := newRenderer()
	r.DevName = "Test Renderer"
	r.OHControlURL = ohURL
	r.AVControlURL = avURL
	r.SupportedProtocols = protocols
	return r
}

func newTestRendererWithRC(ohURL, avURL, rcURL string, protocols SupportedProtocols) *Renderer {
	r := newTestRenderer(ohURL, avURL, protocols)
	r.RCControlURL = rcURL
	return r
}

func TestPlayPrefersOpenHomeOverAVTransport(t *testing.T) {
	var gotActions []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotActions = append(gotActions, r.Header.Get("SOAPAction"))
		w.Write([]byte(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body></s:Body></s:Envelope>`))
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	r := newTestRenderer("/ctl/OHPlaylist", "/ctl/AVTransport", ProtocolAll)
	r.DevURL = "http://" + host + "/"

	c := NewController(srv.Client(), "127.0.0.1:5901")
	if err := c.Play(context.Background(), r, "wav", 44100, 16); err != nil {
		t.Fatalf("Play: %v", err)
	}

	if len(gotActions) != 3 { // DeleteAll, Insert, Play
		t.Fatalf("expected 3 soap calls, got %d: %v", len(gotActions), gotActions)
	}
	if !strings.Contains(gotActions[0], "DeleteAll") {
		t.Errorf("first call = %q, want DeleteAll first (stop before play)", gotActions[0])
	}
	if !strings.Contains(gotActions[len(gotActions)-1], "Playlist:1#Play") {
		t.Errorf("last call = %q, want OpenHome Play", gotActions[len(gotActions)-1])
	}
}

func TestPlayFallsBackToAVTransportWhenQPlay(t *testing.T) {
	var gotActions []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotActions = append(gotActions, r.Header.Get("SOAPAction"))
		w.Write([]byte(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body></s:Body></s:Envelope>`))
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	r := newTestRenderer("/ctl/OHPlaylist", "/ctl/AVTransport", ProtocolAll)
	r.DevURL = "http://" + host + "/"
	r.QPlay = true

	c := NewController(srv.Client(), "127.0.0.1:5901")
	if err := c.Play(context.Background(), r, "flac", 44100, 16); err != nil {
		t.Fatalf("Play: %v", err)
	}
	for _, a := range gotActions {
		if strings.Contains(a, "av-openhome-org") {
			t.Errorf("QPlay renderer must not use OpenHome actions, got %q", a)
		}
	}
	if !strings.Contains(gotActions[len(gotActions)-1], "AVTransport:1#Play") {
		t.Errorf("last call = %q, want AVTransport Play", gotActions[len(gotActions)-1])
	}
}

func TestGetVolumeExtractsCurrentVolume(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body>` +
			`<u:GetVolumeResponse xmlns:u="urn:schemas-upnp-org:service:RenderingControl:1"><CurrentVolume>42</CurrentVolume></u:GetVolumeResponse>` +
			`</s:Body></s:Envelope>`))
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	r := newTestRendererWithRC("", "/ctl/AVTransport", "/ctl/RenderingControl", ProtocolAVTransport)
	r.DevURL = "http://" + host + "/"

	c := NewController(srv.Client(), "127.0.0.1:5901")
	vol, err := c.GetVolume(context.Background(), r)
	if err != nil {
		t.Fatalf("GetVolume: %v", err)
	}
	if vol != 42 {
		t.Errorf("vol = %d, want 42", vol)
	}
	if r.Volume() != 42 {
		t.Errorf("r.Volume() = %d, want cached 42", r.Volume())
	}
}

func TestGetVolumeReportsUnavailableWhenNoRenderingControl(t *testing.T) {
	r := newTestRenderer("/ctl/OHPlaylist", "", ProtocolOpenHome)
	c := NewController(nil, "127.0.0.1:5901")
	vol, err := c.GetVolume(context.Background(), r)
	if err != nil {
		t.Fatalf("GetVolume: %v", err)
	}
	if vol != -1 {
		t.Errorf("vol = %d, want -1 (unavailable)", vol)
	}
}

func TestSetVolumeClampsRange(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 4096)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	r := newTestRendererWithRC("", "/ctl/AVTransport", "/ctl/RenderingControl", ProtocolAVTransport)
	r.DevURL = "http://" + host + "/"

	c := NewController(srv.Client(), "127.0.0.1:5901")
	if err := c.SetVolume(context.Background(), r, 150); err != nil {
		t.Fatalf("SetVolume: %v", err)
	}
	if !strings.Contains(gotBody, "<DesiredVolume>100</DesiredVolume>") {
		t.Errorf("body = %q, expected clamped to 100", gotBody)
	}
	if r.Volume() != 100 {
		t.Errorf("r.Volume() = %d, want 100", r.Volume())
	}
}

func TestExtractTag(t *testing.T) {
	body := "<a><CurrentVolume>7</CurrentVolume></a>"
	v, ok := extractTag(body, "CurrentVolume")
	if !ok || v != "7" {
		t.Errorf("extractTag = %q, %v", v, ok)
	}
	if _, ok := extractTag(body, "Missing"); ok {
		t.Error("expected ok=false for missing tag")
	}
}
