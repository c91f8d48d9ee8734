package upnp

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	ssdpBroadcastAddr = "239.255.255.250:1900"
	// collectionWindow matches discover()'s fixed 3.1s wait (MX=3 plus slack); the spec
	// widens it slightly to the documented 4s since this implementation shares one
	// socket across two device types rather than one.
	collectionWindow = 4 * time.Second
	descriptorTimeout = 5 * time.Second
)

const ssdpSearchTemplate = "M-SEARCH * HTTP/1.1\r\n" +
	"HOST: 239.255.255.250:1900\r\n" +
	"MAN: \"ssdp:discover\"\r\n" +
	"ST: %s\r\n" +
	"MX: 3\r\n\r\n"

// ssdpAll is the search target used per SPEC_FULL.md section 4.7: a single
// ssdp:all search rather than rendercontrol.rs's two separate per-device-type
// M-SEARCH sends, since ssdp:all already elicits a response from both OpenHome and
// AVTransport devices on one broadcast.
const ssdpAll = "ssdp:all"

// Discover broadcasts one SSDP M-SEARCH for ssdp:all on localAddr's interface,
// collects responses for collectionWindow, fetches and parses each unique
// Location's device descriptor, and returns every renderer whose service list
// contains OpenHome Playlist or AVTransport. Already-known
// locations (per known) are skipped before the descriptor fetch to save a round
// trip, matching discover()'s "skip known renderer" filter.
func Discover(ctx context.Context, localAddr net.IP, known func(location string) bool, log *slog.Logger) ([]*Renderer, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: localAddr})
	if err != nil {
		return nil, fmt.Errorf("bind ssdp socket: %w", err)
	}
	defer conn.Close()

	broadcast, err := net.ResolveUDPAddr("udp4", ssdpBroadcastAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve ssdp broadcast address: %w", err)
	}

	msg := fmt.Sprintf(ssdpSearchTemplate, ssdpAll)
	if _, err := conn.WriteTo([]byte(msg), broadcast); err != nil {
		return nil, fmt.Errorf("send ssdp m-search: %w", err)
	}

	locations := map[string]net.Addr{}
	deadline := time.Now().Add(collectionWindow)
	buf := make([]byte, 2048)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if err := conn.SetReadDeadline(time.Now().Add(remaining)); err != nil {
			return nil, fmt.Errorf("set ssdp read deadline: %w", err)
		}
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				break
			}
			log.Debug("ssdp read error, ignoring", "error", err)
			continue
		}
		loc, ok := parseSSDPResponse(buf[:n])
		if !ok {
			continue
		}
		if _, seen := locations[loc]; !seen {
			locations[loc] = from
		}
	}

	var renderers []*Renderer
	for loc := range locations {
		if known != nil && known(loc) {
			log.Debug("ssdp discovery: skipping known renderer", "location", loc)
			continue
		}
		r, err := fetchRenderer(ctx, loc)
		if err != nil {
			log.Debug("ssdp discovery: descriptor fetch/parse failed", "location", loc, "error", err)
			continue
		}
		if r.SupportedProtocols == ProtocolNone {
			continue
		}
		if host, _, err := net.SplitHostPort(locations[loc].String()); err == nil {
			r.RemoteAddr = host
		}
		log.Info("ssdp discovery: new renderer found", "location", loc, "name", r.DevName, "protocols", r.SupportedProtocols)
		renderers = append(renderers, r)
	}
	return renderers, nil
}

// parseSSDPResponse extracts the LOCATION header from a raw M-SEARCH response.
// Relevance (does this device actually expose a renderer service we control) is
// decided after the descriptor fetch, not from the SSDP response itself.
func parseSSDPResponse(raw []byte) (location string, ok bool) {
	lines := strings.Split(string(raw), "\r\n")
	if len(lines) == 0 || !strings.Contains(lines[0], "200") {
		return "", false
	}
	for _, line := range lines[1:] {
		header, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		if strings.ToUpper(strings.TrimSpace(header)) == "LOCATION" {
			return strings.TrimSpace(value), true
		}
	}
	return "", false
}

// deviceDescription mirrors the subset of the UPnP device description schema
// get_renderer walks field by field, expressed declaratively instead.
type deviceDescription struct {
	URLBase string `xml:"URLBase"`
	Device  struct {
		DeviceType   string `xml:"deviceType"`
		FriendlyName string `xml:"friendlyName"`
		ModelName    string `xml:"modelName"`
		ServiceList  struct {
			Service []struct {
				ServiceType string `xml:"serviceType"`
				ServiceID   string `xml:"serviceId"`
				ControlURL  string `xml:"controlURL"`
			} `xml:"service"`
		} `xml:"serviceList"`
	} `xml:"device"`
}

func fetchRenderer(ctx context.Context, location string) (*Renderer, error) {
	ctx, cancel := context.WithTimeout(ctx, descriptorTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "airloom")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get device description: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read device description: %w", err)
	}

	var desc deviceDescription
	if err := xml.Unmarshal(body, &desc); err != nil {
		return nil, fmt.Errorf("parse device description: %w", err)
	}

	r := newRenderer()
	r.Location = location
	r.DevName = desc.Device.FriendlyName
	r.DevModel = desc.Device.ModelName
	r.DevType = desc.Device.DeviceType
	r.DevURL = desc.URLBase
	if r.DevURL == "" {
		r.DevURL = deriveURLBase(location)
	} else if _, port := parseHostPort(r.DevURL); port <= 0 {
		// A present but unusable URLBase (e.g. a declared port of 0) is treated the
		// same as a missing one: fall back to the descriptor's own Location host:port
		// rather than building every SOAP call against an unreachable URL.
		r.DevURL = deriveURLBase(location)
	}

	for _, s := range desc.Device.ServiceList.Service {
		svc := Service{
			ServiceID:   s.ServiceID,
			ServiceType: s.ServiceType,
			ControlURL:  ensureLeadingSlash(s.ControlURL),
		}
		switch {
		case strings.Contains(svc.ServiceID, "Playlist"):
			r.OHControlURL = svc.ControlURL
			r.SupportedProtocols |= ProtocolOpenHome
		case strings.Contains(svc.ServiceID, "AVTransport"):
			r.AVControlURL = svc.ControlURL
			r.SupportedProtocols |= ProtocolAVTransport
		case strings.Contains(svc.ServiceID, "RenderingControl"):
			r.RCControlURL = svc.ControlURL
		}
		if strings.Contains(svc.ServiceID, "QPlay") || strings.Contains(svc.ServiceType, "QPlay") {
			r.QPlay = true
		}
		r.Services = append(r.Services, svc)
	}
	return r, nil
}

// deriveURLBase re-derives a usable base URL from the descriptor's own address when
// URLBase is absent, matching discover()'s fallback for descriptors that omit it.
func deriveURLBase(location string) string {
	rest := strings.TrimPrefix(location, "http://")
	if i := strings.IndexByte(rest, '/'); i > 0 {
		rest = rest[:i]
	}
	return "http://" + rest + "/"
}
