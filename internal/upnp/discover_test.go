package upnp

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseSSDPResponseExtractsLocation(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\n" +
		"LOCATION: http://192.168.1.26:80/description.xml\r\n" +
		"ST: urn:schemas-upnp-org:service:RenderingControl:1\r\n\r\n"

	loc, ok := parseSSDPResponse([]byte(raw))
	if !ok {
		t.Fatal("expected ok=true")
	}
	if loc != "http://192.168.1.26:80/description.xml" {
		t.Errorf("location = %q", loc)
	}
}

func TestParseSSDPResponseRejectsNon200(t *testing.T) {
	raw := "HTTP/1.1 404 Not Found\r\nLOCATION: http://x/d.xml\r\n\r\n"
	if _, ok := parseSSDPResponse([]byte(raw)); ok {
		t.Error("expected ok=false for non-200 status")
	}
}

func TestDeriveURLBase(t *testing.T) {
	got := deriveURLBase("http://192.168.1.26:1400/xml/device_description.xml")
	want := "http://192.168.1.26:1400/"
	if got != want {
		t.Errorf("deriveURLBase = %q, want %q", got, want)
	}
}

const sampleDescriptionXML = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
<device>
<deviceType>urn:schemas-upnp-org:device:MediaRenderer:1</deviceType>
<friendlyName>Kitchen Speaker</friendlyName>
<modelName>Volumio</modelName>
<serviceList>
<service>
<serviceType>urn:av-openhome-org:service:Playlist:1</serviceType>
<serviceId>urn:av-openhome-org:serviceId:Playlist</serviceId>
<controlURL>ctl/OHPlaylist</controlURL>
</service>
<service>
<serviceType>urn:schemas-upnp-org:service:AVTransport:1</serviceType>
<serviceId>urn:upnp-org:serviceId:AVTransport</serviceId>
<controlURL>/ctl/AVTransport</controlURL>
</service>
<service>
<serviceType>urn:schemas-upnp-org:service:RenderingControl:1</serviceType>
<serviceId>urn:upnp-org:serviceId:RenderingControl</serviceId>
<controlURL>/ctl/RenderingControl</controlURL>
</service>
</serviceList>
</device>
</root>`

func TestFetchRendererParsesServicesAndFixesUpControlURLs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleDescriptionXML))
	}))
	defer srv.Close()

	r, err := fetchRenderer(context.Background(), srv.URL+"/description.xml")
	if err != nil {
		t.Fatalf("fetchRenderer: %v", err)
	}
	if r.DevName != "Kitchen Speaker" {
		t.Errorf("DevName = %q", r.DevName)
	}
	if !r.SupportedProtocols.Has(ProtocolOpenHome) || !r.SupportedProtocols.Has(ProtocolAVTransport) {
		t.Errorf("expected both protocols, got %v", r.SupportedProtocols)
	}
	if r.OHControlURL != "/ctl/OHPlaylist" {
		t.Errorf("OHControlURL = %q, want leading-slash fixed up", r.OHControlURL)
	}
	if r.AVControlURL != "/ctl/AVTransport" {
		t.Errorf("AVControlURL = %q", r.AVControlURL)
	}
	if r.RCControlURL != "/ctl/RenderingControl" {
		t.Errorf("RCControlURL = %q", r.RCControlURL)
	}
	if r.DevURL == "" || !strings.HasPrefix(r.DevURL, "http://") {
		t.Errorf("DevURL = %q, expected derived base", r.DevURL)
	}
}

const descriptionXMLWithInvalidURLBasePort = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
<URLBase>http://192.168.1.26:0/</URLBase>
<device>
<deviceType>urn:schemas-upnp-org:device:MediaRenderer:1</deviceType>
<friendlyName>Broken URLBase Speaker</friendlyName>
<modelName>Whatever</modelName>
<serviceList>
<service>
<serviceType>urn:schemas-upnp-org:service:AVTransport:1</serviceType>
<serviceId>urn:upnp-org:serviceId:AVTransport</serviceId>
<controlURL>/ctl/AVTransport</controlURL>
</service>
</serviceList>
</device>
</root>`

func TestFetchRendererFallsBackToLocationWhenURLBasePortIsInvalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(descriptionXMLWithInvalidURLBasePort))
	}))
	defer srv.Close()

	r, err := fetchRenderer(context.Background(), srv.URL+"/description.xml")
	if err != nil {
		t.Fatalf("fetchRenderer: %v", err)
	}
	if strings.Contains(r.DevURL, ":0/") || strings.HasSuffix(r.DevURL, ":0") {
		t.Fatalf("DevURL = %q, want the port-0 URLBase discarded in favor of the Location's own host:port", r.DevURL)
	}
	host, port := parseHostPort(r.DevURL)
	if port <= 0 {
		t.Errorf("parseHostPort(%q) = (%q, %d), want a positive port re-derived from Location", r.DevURL, host, port)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
