package onvif

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/gofrs/uuid"
	"github.com/juju/errors"
)

const probeTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<Envelope xmlns="http://www.w3.org/2003/05/soap-envelope"
          xmlns:a="http://schemas.xmlsoap.org/ws/2004/08/addressing"
          xmlns:d="http://schemas.xmlsoap.org/ws/2005/04/discovery"
          xmlns:dn="http://www.onvif.org/ver10/network/wsdl">
    <Header>
        <a:Action>http://schemas.xmlsoap.org/ws/2005/04/discovery/Probe</a:Action>
        <a:MessageID>uuid:%s</a:MessageID>
        <a:To>urn:schemas-xmlsoap-org:ws:2005:04:discovery</a:To>
    </Header>
    <Body>
        <d:Probe>
            <d:Types>dn:NetworkVideoTransmitter</d:Types>
        </d:Probe>
    </Body>
</Envelope>`

// DiscoverDevices probes the network for ONVIF devices and collects the
// ProbeMatches received before the timeout
func DiscoverDevices(options *DiscoveryOptions) ([]Device, error) {
	if options == nil {
		options = &DiscoveryOptions{}
	}

	multicastAddr := options.MulticastAddr
	if multicastAddr == "" {
		multicastAddr = DefaultMulticastAddr
	}

	timeout := options.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	addr, err := net.ResolveUDPAddr("udp4", multicastAddr)
	if err != nil {
		return nil, errors.Annotate(err, "failed to resolve multicast address")
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, errors.Annotate(err, "failed to create UDP connection")
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, errors.Annotate(err, "failed to set read deadline")
	}

	messageID, err := uuid.NewV4()
	if err != nil {
		return nil, errors.Annotate(err, "failed to generate message id")
	}

	probe := fmt.Sprintf(probeTemplate, messageID.String())
	if _, err := conn.WriteToUDP([]byte(probe), addr); err != nil {
		return nil, errors.Annotate(err, "failed to send probe message")
	}

	var devices []Device
	buffer := make([]byte, 65536)

	for {
		n, _, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				break
			}
			continue
		}

		devices = append(devices, parseProbeMatches(buffer[:n])...)
	}

	return deduplicateDevices(devices), nil
}

// DiscoverWithDetails discovers devices and fetches their device information
func (c *Client) DiscoverWithDetails(ctx context.Context, options *DiscoveryOptions) ([]Device, error) {
	devices, err := DiscoverDevices(options)
	if err != nil {
		return nil, err
	}

	for i := range devices {
		// Devices that refuse the call are still reported
		_ = c.GetDeviceInformation(ctx, &devices[i])
	}

	return devices, nil
}

func parseProbeMatches(data []byte) []Device {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil
	}

	var devices []Device

	for _, match := range doc.FindElements("/Envelope/Body/ProbeMatches/ProbeMatch") {
		device := Device{
			Endpoint: childText(match, "EndpointReference/Address"),
			Address:  childText(match, "XAddrs"),
			Types:    strings.Fields(childText(match, "Types")),
			Scopes:   strings.Fields(childText(match, "Scopes")),
		}

		device.Name, device.Location, device.Model = parseScopes(device.Scopes)
		devices = append(devices, device)
	}

	return devices
}

func parseScopes(scopes []string) (name, location, model string) {
	for _, scope := range scopes {
		switch {
		case strings.HasPrefix(scope, "onvif://www.onvif.org/name/"):
			name = scopeValue(scope, "onvif://www.onvif.org/name/")
		case strings.HasPrefix(scope, "onvif://www.onvif.org/location/"):
			location = scopeValue(scope, "onvif://www.onvif.org/location/")
		case strings.HasPrefix(scope, "onvif://www.onvif.org/hardware/"):
			model = scopeValue(scope, "onvif://www.onvif.org/hardware/")
		}
	}
	return
}

func scopeValue(scope, prefix string) string {
	return strings.ReplaceAll(strings.TrimPrefix(scope, prefix), "_", " ")
}

func deduplicateDevices(devices []Device) []Device {
	seen := make(map[string]bool)

	var unique []Device
	for _, device := range devices {
		key := device.Endpoint
		if key == "" {
			key = getFirstAddress(device.Address)
		}

		if !seen[key] {
			seen[key] = true
			unique = append(unique, device)
		}
	}

	return unique
}
