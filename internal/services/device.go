package services

import (
	"context"
	"strconv"
	"time"

	"github.com/beevik/etree"

	"github.com/SridarDhandapani/onvifd/internal/soap"
)

// DeviceInfo is returned by GetDeviceInformation.
type DeviceInfo struct {
	Manufacturer    string
	Model           string
	FirmwareVersion string
	SerialNumber    string
	HardwareID      string
}

// Device serves the device management operations.
type Device struct {
	info         DeviceInfo
	inputs       int
	relayOutputs int
	now          func() time.Time
}

// NewDevice describes a device with the given I/O counts.
func NewDevice(info DeviceInfo, inputs, relayOutputs int) *Device {
	return &Device{info: info, inputs: inputs, relayOutputs: relayOutputs, now: time.Now}
}

// Register adds the device operations to svc.
func (d *Device) Register(svc *soap.Service) {
	svc.Handle("GetSystemDateAndTime", d.getSystemDateAndTime)
	svc.Handle("GetDeviceInformation", d.getDeviceInformation)
	svc.Handle("GetServices", d.getServices)
	svc.Handle("GetCapabilities", d.getCapabilities)
}

func (d *Device) getSystemDateAndTime(context.Context, *soap.Request) (*etree.Element, error) {
	now := d.now().UTC()

	resp := etree.NewElement("tds:GetSystemDateAndTimeResponse")
	sdt := resp.CreateElement("tds:SystemDateAndTime")
	textElement(sdt, "tt:DateTimeType", "Manual")
	textElement(sdt, "tt:DaylightSavings", "false")
	textElement(sdt.CreateElement("tt:TimeZone"), "tt:TZ", "UTC0")

	utc := sdt.CreateElement("tt:UTCDateTime")
	tm := utc.CreateElement("tt:Time")
	textElement(tm, "tt:Hour", strconv.Itoa(now.Hour()))
	textElement(tm, "tt:Minute", strconv.Itoa(now.Minute()))
	textElement(tm, "tt:Second", strconv.Itoa(now.Second()))

	date := utc.CreateElement("tt:Date")
	textElement(date, "tt:Year", strconv.Itoa(now.Year()))
	textElement(date, "tt:Month", strconv.Itoa(int(now.Month())))
	textElement(date, "tt:Day", strconv.Itoa(now.Day()))

	return resp, nil
}

func (d *Device) getDeviceInformation(context.Context, *soap.Request) (*etree.Element, error) {
	resp := etree.NewElement("tds:GetDeviceInformationResponse")
	textElement(resp, "tds:Manufacturer", d.info.Manufacturer)
	textElement(resp, "tds:Model", d.info.Model)
	textElement(resp, "tds:FirmwareVersion", d.info.FirmwareVersion)
	textElement(resp, "tds:SerialNumber", d.info.SerialNumber)
	textElement(resp, "tds:HardwareId", d.info.HardwareID)

	return resp, nil
}

func (d *Device) getServices(_ context.Context, req *soap.Request) (*etree.Element, error) {
	resp := etree.NewElement("tds:GetServicesResponse")

	for _, s := range []struct{ ns, path string }{
		{soap.NamespaceDevice, DevicePath},
		{soap.NamespaceEvents, EventsPath},
		{soap.NamespaceDeviceIO, DeviceIOPath},
	} {
		svc := resp.CreateElement("tds:Service")
		textElement(svc, "tds:Namespace", s.ns)
		textElement(svc, "tds:XAddr", ServiceURL(req.HTTP, s.path))

		version := svc.CreateElement("tds:Version")
		textElement(version, "tt:Major", "2")
		textElement(version, "tt:Minor", "60")
	}

	return resp, nil
}

func (d *Device) getCapabilities(_ context.Context, req *soap.Request) (*etree.Element, error) {
	resp := etree.NewElement("tds:GetCapabilitiesResponse")
	caps := resp.CreateElement("tds:Capabilities")

	device := caps.CreateElement("tt:Device")
	textElement(device, "tt:XAddr", ServiceURL(req.HTTP, DevicePath))

	io := device.CreateElement("tt:IO")
	textElement(io, "tt:InputConnectors", strconv.Itoa(d.inputs))
	textElement(io, "tt:RelayOutputs", strconv.Itoa(d.relayOutputs))

	ev := caps.CreateElement("tt:Events")
	textElement(ev, "tt:XAddr", ServiceURL(req.HTTP, EventsPath))
	textElement(ev, "tt:WSSubscriptionPolicySupport", "false")
	textElement(ev, "tt:WSPullPointSupport", "true")
	textElement(ev, "tt:WSPausableSubscriptionManagerInterfaceSupport", "false")

	dio := caps.CreateElement("tt:Extension").CreateElement("tt:DeviceIO")
	textElement(dio, "tt:XAddr", ServiceURL(req.HTTP, DeviceIOPath))
	textElement(dio, "tt:VideoSources", "0")
	textElement(dio, "tt:VideoOutputs", "0")
	textElement(dio, "tt:AudioSources", "0")
	textElement(dio, "tt:AudioOutputs", "0")
	textElement(dio, "tt:RelayOutputs", strconv.Itoa(d.relayOutputs))

	return resp, nil
}
