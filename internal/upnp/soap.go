package upnp

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"
)

// SOAP envelope templates, byte-for-byte the same elements rendercontrol.rs sends
// (OH_INSERT_PL_TEMPLATE, AV_SET_TRANSPORT_URI_TEMPLATE, OH_PLAY_PL_TEMPLATE,
// AV_PLAY_TEMPLATE, OH_DELETE_PL_TEMPLATE, AV_STOP_PLAY_TEMPLATE, DIDL_TEMPLATE, the
// four protocolInfo strings), reparameterized with fmt.Sprintf placeholders instead
// of strfmt's named-key map since every call site here knows its argument order
// statically.
const (
	ohInsertPlaylistTemplate = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<s:Envelope s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/" xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">` +
		`<s:Body><u:Insert xmlns:u="urn:av-openhome-org:service:Playlist:1">` +
		`<AfterId>0</AfterId><Uri>%s</Uri><Metadata>%s</Metadata></u:Insert></s:Body></s:Envelope>`

	ohPlayPlaylistTemplate = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<s:Envelope s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/" xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">` +
		`<s:Body><u:Play xmlns:u="urn:av-openhome-org:service:Playlist:1"/></s:Body></s:Envelope>`

	ohDeletePlaylistTemplate = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<s:Envelope s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/" xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">` +
		`<s:Body><u:DeleteAll xmlns:u="urn:av-openhome-org:service:Playlist:1"/></s:Body></s:Envelope>`

	avSetTransportURITemplate = `<?xml version="1.0" encoding="utf-8"?>` +
		`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">` +
		`<s:Body><u:SetAVTransportURI xmlns:u="urn:schemas-upnp-org:service:AVTransport:1">` +
		`<InstanceID>0</InstanceID><CurrentURI>%s</CurrentURI><CurrentURIMetaData>%s</CurrentURIMetaData></u:SetAVTransportURI></s:Body></s:Envelope>`

	avPlayTemplate = `<?xml version="1.0" encoding="utf-8"?>` +
		`<s:Envelope s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/" xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">` +
		`<s:Body><u:Play xmlns:u="urn:schemas-upnp-org:service:AVTransport:1"><InstanceID>0</InstanceID><Speed>1</Speed></u:Play></s:Body></s:Envelope>`

	avStopTemplate = `<?xml version="1.0" encoding="utf-8"?>` +
		`<s:Envelope s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/" xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">` +
		`<s:Body><u:Stop xmlns:u="urn:schemas-upnp-org:service:AVTransport:1"><InstanceID>0</InstanceID></u:Stop></s:Body></s:Envelope>`

	avGetVolumeTemplate = `<?xml version="1.0" encoding="utf-8"?>` +
		`<s:Envelope s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/" xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">` +
		`<s:Body><u:GetVolume xmlns:u="urn:schemas-upnp-org:service:RenderingControl:1"><InstanceID>0</InstanceID><Channel>Master</Channel></u:GetVolume></s:Body></s:Envelope>`

	avSetVolumeTemplate = `<?xml version="1.0" encoding="utf-8"?>` +
		`<s:Envelope s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/" xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">` +
		`<s:Body><u:SetVolume xmlns:u="urn:schemas-upnp-org:service:RenderingControl:1">` +
		`<InstanceID>0</InstanceID><Channel>Master</Channel><DesiredVolume>%d</DesiredVolume></u:SetVolume></s:Body></s:Envelope>`

	didlTemplate = `<DIDL-Lite xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/" xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/">` +
		`<item id="1" parentID="0" restricted="0"><dc:title>airloom</dc:title>` +
		`<res bitsPerSample="%d" nrAudioChannels="2" sampleFrequency="%d" protocolInfo="%s" duration="00:00:00">%s</res>` +
		`<upnp:class>object.item.audioItem.musicTrack</upnp:class></item></DIDL-Lite>`

	l16ProtocolInfo = "http-get:*:audio/L16;rate=%d;channels=2:DLNA.ORG_PN=LPCM"
	l24ProtocolInfo = "http-get:*:audio/L24;rate=%d;channels=2:DLNA.ORG_PN=LPCM"
	wavProtocolInfo = "http-get:*:audio/wav:DLNA.ORG_PN=WAV;DLNA.ORG_OP=01;DLNA.ORG_CI=0;DLNA.ORG_FLAGS=03700000000000000000000000000000"
	flacProtocolInfo = "http-get:*:audio/FLAC:*"
)

// soapTimeout is the bounded request/response timeout SPEC_FULL.md section 5 asks
// for on every SOAP call.
const soapTimeout = 10 * time.Second

// Controller drives renderers over SOAP, reusing one http.Client (and therefore its
// connection pool) across every renderer and call, per SPEC_FULL.md section 4.8's
// "connection-pooling HTTP client, reused across calls" requirement.
type Controller struct {
	httpClient *http.Client
	serverAddr string // host:port of this process's own streaming server
}

func NewController(httpClient *http.Client, serverAddr string) *Controller {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Controller{httpClient: httpClient, serverAddr: serverAddr}
}

// soapRequest mirrors Renderer::soap_request: POST the body to url with the exact
// headers swyh-rs sends, return the error rather than retry, and never
// propagate a SOAP fault as a Go error distinct from a transport error (the caller
// doesn't need to tell them apart; either way the action didn't take effect). A reply
// with any status other than 200 is returned as an error together with its body.
func (c *Controller) soapRequest(ctx context.Context, url, soapAction, body string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, soapTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte(body)))
	if err != nil {
		return "", fmt.Errorf("build soap request: %w", err)
	}
	req.Header.Set("Connection", "close")
	req.Header.Set("User-Agent", "airloom")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("SOAPAction", `"`+soapAction+`"`)
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("soap request %s: %w", soapAction, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read soap response %s: %w", soapAction, err)
	}
	if resp.StatusCode != http.StatusOK {
		return string(respBody), fmt.Errorf("soap request %s: renderer replied %s", soapAction, resp.Status)
	}
	return string(respBody), nil
}

// streamURL returns the URL this renderer should GET to pull audio, parameterized by
// format suffix per SPEC_FULL.md section 4.6's URL-suffix table.
func (c *Controller) streamURL(suffix string) string {
	return "http://" + c.serverAddr + "/stream/swyh." + suffix
}

// Play starts playback of this process's own stream on r, choosing OpenHome Playlist
// unless the renderer is QPlay (forced to AVTransport) or OpenHome is unsupported.
// An explicit Stop/DeleteAll is issued first, per section 4.8's Moode/"error 705"
// note.
func (c *Controller) Play(ctx context.Context, r *Renderer, suffix string, sampleRate, bitsPerSample int) error {
	streamURI := c.streamURL(suffix)
	protocolInfo := html.EscapeString(protocolInfoForRate(suffix, bitsPerSample, sampleRate))
	didl := html.EscapeString(fmt.Sprintf(didlTemplate, bitsPerSample, sampleRate, protocolInfo, streamURI))

	useOpenHome := r.SupportedProtocols.Has(ProtocolOpenHome) && !r.QPlay
	switch {
	case useOpenHome:
		return c.ohPlay(ctx, r, streamURI, didl)
	case r.SupportedProtocols.Has(ProtocolAVTransport):
		return c.avPlay(ctx, r, streamURI, didl)
	default:
		return fmt.Errorf("renderer %s: no supported control protocol", r.DevName)
	}
}

func protocolInfoForRate(suffix string, bitsPerSample, sampleRate int) string {
	switch suffix {
	case "wav", "rf64":
		return wavProtocolInfo
	case "flac":
		return flacProtocolInfo
	default:
		if bitsPerSample == 24 {
			return fmt.Sprintf(l24ProtocolInfo, sampleRate)
		}
		return fmt.Sprintf(l16ProtocolInfo, sampleRate)
	}
}

func (c *Controller) ohPlay(ctx context.Context, r *Renderer, streamURI, didl string) error {
	url := r.controlURL(r.OHControlURL)
	c.ohStop(ctx, r)
	insertBody := fmt.Sprintf(ohInsertPlaylistTemplate, streamURI, didl)
	if _, err := c.soapRequest(ctx, url, "urn:av-openhome-org:service:Playlist:1#Insert", insertBody); err != nil {
		return fmt.Errorf("oh insert: %w", err)
	}
	if _, err := c.soapRequest(ctx, url, "urn:av-openhome-org:service:Playlist:1#Play", ohPlayPlaylistTemplate); err != nil {
		return fmt.Errorf("oh play: %w", err)
	}
	return nil
}

func (c *Controller) avPlay(ctx context.Context, r *Renderer, streamURI, didl string) error {
	url := r.controlURL(r.AVControlURL)
	c.avStop(ctx, r)
	setURIBody := fmt.Sprintf(avSetTransportURITemplate, streamURI, didl)
	if _, err := c.soapRequest(ctx, url, "urn:schemas-upnp-org:service:AVTransport:1#SetAVTransportURI", setURIBody); err != nil {
		return fmt.Errorf("av set transport uri: %w", err)
	}
	// the renderer sends a HEAD request first; give it a moment, matching av_play.
	time.Sleep(100 * time.Millisecond)
	if _, err := c.soapRequest(ctx, url, "urn:schemas-upnp-org:service:AVTransport:1#Play", avPlayTemplate); err != nil {
		return fmt.Errorf("av play: %w", err)
	}
	return nil
}

// Stop halts playback on r (OpenHome DeleteAll, or AVTransport Stop). A no-op on a
// renderer that was never playing is expected to succeed silently, matching
// oh_stop_play/av_stop_play's unconditional fire-and-forget.
func (c *Controller) Stop(ctx context.Context, r *Renderer) error {
	switch {
	case r.SupportedProtocols.Has(ProtocolOpenHome) && !r.QPlay:
		return c.ohStop(ctx, r)
	case r.SupportedProtocols.Has(ProtocolAVTransport):
		return c.avStop(ctx, r)
	default:
		return fmt.Errorf("renderer %s: no supported control protocol", r.DevName)
	}
}

func (c *Controller) ohStop(ctx context.Context, r *Renderer) error {
	url := r.controlURL(r.OHControlURL)
	_, err := c.soapRequest(ctx, url, "urn:av-openhome-org:service:Playlist:1#DeleteAll", ohDeletePlaylistTemplate)
	return err
}

func (c *Controller) avStop(ctx context.Context, r *Renderer) error {
	url := r.controlURL(r.AVControlURL)
	_, err := c.soapRequest(ctx, url, "urn:schemas-upnp-org:service:AVTransport:1#Stop", avStopTemplate)
	return err
}

// GetVolume probes the renderer's RenderingControl volume, returning (-1, nil) when
// the renderer doesn't expose RenderingControl or the call fails outright (recent
// Sonos firmware, per section 4.8), rather than returning an error the caller would
// have to special-case at every call site.
func (c *Controller) GetVolume(ctx context.Context, r *Renderer) (int, error) {
	if r.RCControlURL == "" {
		r.setVolume(-1)
		return -1, nil
	}
	url := r.controlURL(r.RCControlURL)
	resp, err := c.soapRequest(ctx, url, "urn:schemas-upnp-org:service:RenderingControl:1#GetVolume", avGetVolumeTemplate)
	if err != nil {
		r.setVolume(-1)
		return -1, nil
	}
	vol, ok := extractTag(resp, "CurrentVolume")
	if !ok {
		r.setVolume(-1)
		return -1, nil
	}
	var v int
	if _, err := fmt.Sscanf(vol, "%d", &v); err != nil {
		r.setVolume(-1)
		return -1, nil
	}
	r.setVolume(v)
	return v, nil
}

// SetVolume is idempotent: setting the same value twice is a no-op on the wire (the
// renderer just applies the same value again) and this call never errors on that
// basis.
func (c *Controller) SetVolume(ctx context.Context, r *Renderer, volume int) error {
	if r.RCControlURL == "" {
		return fmt.Errorf("renderer %s: no RenderingControl service", r.DevName)
	}
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	url := r.controlURL(r.RCControlURL)
	body := fmt.Sprintf(avSetVolumeTemplate, volume)
	if _, err := c.soapRequest(ctx, url, "urn:schemas-upnp-org:service:RenderingControl:1#SetVolume", body); err != nil {
		return err
	}
	r.setVolume(volume)
	return nil
}

// extractTag is a minimal single-tag text extractor for SOAP response bodies, used
// only for GetVolumeResponse's CurrentVolume, which is a bare integer with no nested
// markup, so a full XML unmarshal would be strictly more code for the same result.
func extractTag(xmlBody, tag string) (string, bool) {
	open := "<" + tag + ">"
	closeTag := "</" + tag + ">"
	start := strings.Index(xmlBody, open)
	if start < 0 {
		return "", false
	}
	start += len(open)
	end := strings.Index(xmlBody[start:], closeTag)
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(xmlBody[start : start+end]), true
}
