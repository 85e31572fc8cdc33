// Package discovery answers WS-Discovery probes so clients can find the
// device on the local network.
package discovery

import (
	"strings"

	"github.com/beevik/etree"
	"github.com/gofrs/uuid"
	"github.com/juju/errors"
)

// WS-Discovery constants.
const (
	MulticastAddr = "239.255.255.250:3702"

	NamespaceDiscovery  = "http://schemas.xmlsoap.org/ws/2005/04/discovery"
	NamespaceAddressing = "http://schemas.xmlsoap.org/ws/2004/08/addressing"
	NamespaceNetwork    = "http://www.onvif.org/ver10/network/wsdl"

	ActionProbe        = NamespaceDiscovery + "/Probe"
	ActionProbeMatches = NamespaceDiscovery + "/ProbeMatches"
	AnonymousRole      = "http://schemas.xmlsoap.org/ws/2004/08/addressing/role/anonymous"

	// DeviceTypes is advertised in every ProbeMatch.
	DeviceTypes = "dn:NetworkVideoTransmitter tds:Device"
)

// Probe is a decoded discovery request.
type Probe struct {
	MessageID string
	Types     []string
}

// ParseProbe decodes a Probe message. Other WS-Discovery messages are
// rejected with a NotSupported error.
func ParseProbe(data []byte) (*Probe, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, errors.NewNotValid(err, "malformed discovery message")
	}

	if doc.Root() == nil {
		return nil, errors.NotValidf("discovery message")
	}

	if doc.FindElement("/Envelope/Body/Probe") == nil {
		return nil, errors.NotSupportedf("discovery message")
	}

	probe := &Probe{}

	if el := doc.FindElement("/Envelope/Header/MessageID"); el != nil {
		probe.MessageID = strings.TrimSpace(el.Text())
	}

	if el := doc.FindElement("/Envelope/Body/Probe/Types"); el != nil {
		probe.Types = strings.Fields(el.Text())
	}

	return probe, nil
}

// Matches reports whether the probe asks for a device like this one. An
// empty type list matches every device.
func (p *Probe) Matches() bool {
	if len(p.Types) == 0 {
		return true
	}

	for _, t := range p.Types {
		local := t[strings.LastIndex(t, ":")+1:]
		if local == "NetworkVideoTransmitter" || local == "Device" {
			return true
		}
	}

	return false
}

// Advertisement is what the device announces about itself.
type Advertisement struct {
	// Endpoint is the stable urn:uuid address of the device.
	Endpoint string
	XAddrs   []string
	Scopes   []string
}

// NewEndpoint returns a fresh urn:uuid endpoint address.
func NewEndpoint() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", errors.Annotate(err, "generating endpoint id")
	}

	return "urn:uuid:" + id.String(), nil
}

// Scopes builds the ONVIF scope list for a device.
func Scopes(name, hardware, location string) []string {
	scopes := []string{
		"onvif://www.onvif.org/type/NetworkVideoTransmitter",
		"onvif://www.onvif.org/type/Device",
	}

	for _, s := range []struct{ kind, value string }{
		{"name", name},
		{"hardware", hardware},
		{"location", location},
	} {
		if s.value != "" {
			scopes = append(scopes, "onvif://www.onvif.org/"+s.kind+"/"+strings.ReplaceAll(s.value, " ", "_"))
		}
	}

	return scopes
}

// BuildProbeMatch renders the ProbeMatches reply to probe.
func BuildProbeMatch(probe *Probe, ad Advertisement) ([]byte, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, errors.Annotate(err, "generating message id")
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	env := doc.CreateElement("s:Envelope")
	env.CreateAttr("xmlns:s", "http://www.w3.org/2003/05/soap-envelope")
	env.CreateAttr("xmlns:a", NamespaceAddressing)
	env.CreateAttr("xmlns:d", NamespaceDiscovery)
	env.CreateAttr("xmlns:dn", NamespaceNetwork)
	env.CreateAttr("xmlns:tds", "http://www.onvif.org/ver10/device/wsdl")

	hdr := env.CreateElement("s:Header")
	hdr.CreateElement("a:MessageID").SetText("uuid:" + id.String())
	hdr.CreateElement("a:RelatesTo").SetText(probe.MessageID)
	hdr.CreateElement("a:To").SetText(AnonymousRole)
	hdr.CreateElement("a:Action").SetText(ActionProbeMatches)

	match := env.CreateElement("s:Body").CreateElement("d:ProbeMatches").CreateElement("d:ProbeMatch")
	match.CreateElement("a:EndpointReference").CreateElement("a:Address").SetText(ad.Endpoint)
	match.CreateElement("d:Types").SetText(DeviceTypes)
	match.CreateElement("d:Scopes").SetText(strings.Join(ad.Scopes, " "))
	match.CreateElement("d:XAddrs").SetText(strings.Join(ad.XAddrs, " "))
	match.CreateElement("d:MetadataVersion").SetText("1")

	out, err := doc.WriteToBytes()

	return out, errors.Trace(err)
}
