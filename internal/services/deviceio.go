package services

import (
	"context"
	"strconv"

	"github.com/beevik/etree"
	"github.com/juju/errors"

	"github.com/SridarDhandapani/onvifd/internal/alarm"
	"github.com/SridarDhandapani/onvifd/internal/deviceio"
	"github.com/SridarDhandapani/onvifd/internal/soap"
)

// InputLister reports the alarm input channels.
type InputLister interface {
	Channels() []alarm.ChannelStatus
}

// DeviceIO serves the digital input and relay output operations.
type DeviceIO struct {
	inputs InputLister
	relays *deviceio.Relays
}

// NewDeviceIO creates the deviceio service handlers.
func NewDeviceIO(inputs InputLister, relays *deviceio.Relays) *DeviceIO {
	return &DeviceIO{inputs: inputs, relays: relays}
}

// Register adds the deviceio operations to svc.
func (d *DeviceIO) Register(svc *soap.Service) {
	svc.Handle("GetServiceCapabilities", d.getServiceCapabilities)
	svc.Handle("GetDigitalInputs", d.getDigitalInputs)
	svc.Handle("GetRelayOutputs", d.getRelayOutputs)
	svc.Handle("SetRelayOutputState", d.setRelayOutputState)
}

func (d *DeviceIO) getServiceCapabilities(context.Context, *soap.Request) (*etree.Element, error) {
	resp := etree.NewElement("tmd:GetServiceCapabilitiesResponse")

	caps := resp.CreateElement("tmd:Capabilities")
	caps.CreateAttr("VideoSources", "0")
	caps.CreateAttr("VideoOutputs", "0")
	caps.CreateAttr("AudioSources", "0")
	caps.CreateAttr("AudioOutputs", "0")
	caps.CreateAttr("RelayOutputs", strconv.Itoa(len(d.relays.List())))
	caps.CreateAttr("DigitalInputs", strconv.Itoa(len(d.inputs.Channels())))
	caps.CreateAttr("SerialPorts", "0")

	return resp, nil
}

func (d *DeviceIO) getDigitalInputs(context.Context, *soap.Request) (*etree.Element, error) {
	resp := etree.NewElement("tmd:GetDigitalInputsResponse")

	for _, ch := range d.inputs.Channels() {
		in := resp.CreateElement("tmd:DigitalInputs")
		in.CreateAttr("token", ch.ID)
		in.CreateAttr("IdleState", deviceio.IdleOpen)
	}

	return resp, nil
}

func (d *DeviceIO) getRelayOutputs(context.Context, *soap.Request) (*etree.Element, error) {
	resp := etree.NewElement("tmd:GetRelayOutputsResponse")

	for _, r := range d.relays.List() {
		out := resp.CreateElement("tmd:RelayOutputs")
		out.CreateAttr("token", r.Token)

		props := out.CreateElement("tt:Properties")
		textElement(props, "tt:Mode", r.Mode)
		textElement(props, "tt:DelayTime", "PT0S")
		textElement(props, "tt:IdleState", r.IdleState)
	}

	return resp, nil
}

func (d *DeviceIO) setRelayOutputState(_ context.Context, req *soap.Request) (*etree.Element, error) {
	token := req.Args.String("RelayOutputToken")
	if token == "" {
		return nil, errors.NotValidf("missing RelayOutputToken")
	}

	if err := d.relays.SetLogicalState(token, req.Args.String("LogicalState")); err != nil {
		return nil, errors.Trace(err)
	}

	return etree.NewElement("tmd:SetRelayOutputStateResponse"), nil
}
