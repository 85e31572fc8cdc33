package onvif

import (
	"context"
	"strconv"
	"time"
)

// GetDeviceInformation fetches manufacturer, model and serial information
func (c *Client) GetDeviceInformation(ctx context.Context, device *Device) error {
	resp, err := c.sendSOAPRequest(ctx, device.DeviceURL(),
		"http://www.onvif.org/ver10/device/wsdl/GetDeviceInformation", "", `<tds:GetDeviceInformation/>`)
	if err != nil {
		return err
	}

	device.Manufacturer = childText(resp, "Manufacturer")
	device.DeviceModel = childText(resp, "Model")
	device.FirmwareVersion = childText(resp, "FirmwareVersion")
	device.SerialNumber = childText(resp, "SerialNumber")
	device.HardwareId = childText(resp, "HardwareId")

	return nil
}

// GetSystemDateAndTime fetches the device clock. The call needs no
// credentials, so it can be used to check reachability.
func (c *Client) GetSystemDateAndTime(ctx context.Context, device *Device) error {
	resp, err := c.sendSOAPRequest(ctx, device.DeviceURL(),
		"http://www.onvif.org/ver10/device/wsdl/GetSystemDateAndTime", "", `<tds:GetSystemDateAndTime/>`)
	if err != nil {
		return err
	}

	device.TimeZone = childText(resp, "SystemDateAndTime/TimeZone/TZ")

	utc := resp.FindElement("SystemDateAndTime/UTCDateTime")
	if utc == nil {
		return nil
	}

	field := func(path string) int {
		n, _ := strconv.Atoi(childText(utc, path))
		return n
	}

	if year := field("Date/Year"); year > 0 {
		device.DateTime = time.Date(year, time.Month(field("Date/Month")), field("Date/Day"),
			field("Time/Hour"), field("Time/Minute"), field("Time/Second"), 0, time.UTC)
	}

	return nil
}
