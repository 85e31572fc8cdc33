package onvif

import (
	"context"
	"fmt"
)

const deviceIOAction = "http://www.onvif.org/ver10/deviceIO/wsdl/DeviceIOPort/"

// GetDigitalInputs lists the alarm inputs of a device
func (c *Client) GetDigitalInputs(ctx context.Context, device *Device) ([]DigitalInput, error) {
	resp, err := c.sendSOAPRequest(ctx, device.DeviceIOAddress(),
		deviceIOAction+"GetDigitalInputsRequest", "", `<tmd:GetDigitalInputs/>`)
	if err != nil {
		return nil, err
	}

	var inputs []DigitalInput
	for _, el := range resp.SelectElements("DigitalInputs") {
		inputs = append(inputs, DigitalInput{
			Token:     el.SelectAttrValue("token", ""),
			IdleState: el.SelectAttrValue("IdleState", ""),
		})
	}

	return inputs, nil
}

// GetRelayOutputs lists the relay outputs of a device
func (c *Client) GetRelayOutputs(ctx context.Context, device *Device) ([]RelayOutput, error) {
	resp, err := c.sendSOAPRequest(ctx, device.DeviceIOAddress(),
		deviceIOAction+"GetRelayOutputsRequest", "", `<tmd:GetRelayOutputs/>`)
	if err != nil {
		return nil, err
	}

	var outputs []RelayOutput
	for _, el := range resp.SelectElements("RelayOutputs") {
		outputs = append(outputs, RelayOutput{
			Token:     el.SelectAttrValue("token", ""),
			Mode:      childText(el, "Properties/Mode"),
			DelayTime: childText(el, "Properties/DelayTime"),
			IdleState: childText(el, "Properties/IdleState"),
		})
	}

	return outputs, nil
}

// SetRelayOutputState drives a relay output
func (c *Client) SetRelayOutputState(ctx context.Context, device *Device, token string, active bool) error {
	state := "inactive"
	if active {
		state = "active"
	}

	body := fmt.Sprintf(`<tmd:SetRelayOutputState>
		<tmd:RelayOutputToken>%s</tmd:RelayOutputToken>
		<tmd:LogicalState>%s</tmd:LogicalState>
	</tmd:SetRelayOutputState>`, escapeXML(token), state)

	_, err := c.sendSOAPRequest(ctx, device.DeviceIOAddress(), deviceIOAction+"SetRelayOutputStateRequest", "", body)

	return err
}
