package onvif

import (
	"fmt"
	"time"
)

// Service paths used by onvifd.
const (
	DeviceServicePath   = "/onvif/device_service"
	EventsServicePath   = "/onvif/events_service"
	DeviceIOServicePath = "/onvif/deviceio_service"
)

// NewClient creates a new ONVIF client with credentials
func NewClient(username, password string) *Client {
	return &Client{
		Username: username,
		Password: password,
		Timeout:  10 * time.Second,
	}
}

// NewClientWithTimeout creates a new ONVIF client with custom timeout
func NewClientWithTimeout(username, password string, timeout time.Duration) *Client {
	return &Client{
		Username: username,
		Password: password,
		Timeout:  timeout,
	}
}

// NewDevice describes a device reachable at the given device service URL
func NewDevice(address string) *Device {
	return &Device{Address: address}
}

// DeviceURL returns the device service address
func (device *Device) DeviceURL() string {
	return getFirstAddress(device.Address)
}

// EventsAddress returns the events service address
func (device *Device) EventsAddress() string {
	if device.EventsURL != "" {
		return device.EventsURL
	}

	return serviceURL(device.Address, EventsServicePath)
}

// DeviceIOAddress returns the deviceio service address
func (device *Device) DeviceIOAddress() string {
	if device.DeviceIOURL != "" {
		return device.DeviceIOURL
	}

	return serviceURL(device.Address, DeviceIOServicePath)
}

// GetDeviceInfo returns a formatted string with device information
func (device *Device) GetDeviceInfo() string {
	info := fmt.Sprintf("Device: %s\n", device.GetDisplayName())
	info += fmt.Sprintf("  Address: %s\n", device.Address)

	if device.Manufacturer != "" {
		info += fmt.Sprintf("  Manufacturer: %s\n", device.Manufacturer)
	}

	if device.DeviceModel != "" {
		info += fmt.Sprintf("  Model: %s\n", device.DeviceModel)
	} else if device.Model != "" {
		info += fmt.Sprintf("  Model: %s\n", device.Model)
	}

	if device.SerialNumber != "" {
		info += fmt.Sprintf("  Serial: %s\n", device.SerialNumber)
	}

	if device.Location != "" {
		info += fmt.Sprintf("  Location: %s\n", device.Location)
	}

	if !device.DateTime.IsZero() {
		info += fmt.Sprintf("  Clock: %s\n", device.DateTime.Format(time.RFC3339))
	}

	return info
}

// GetDisplayName returns the best available name for the device
func (device *Device) GetDisplayName() string {
	// Priority: Manufacturer + Model > Discovery Name > Model > Address
	if device.Manufacturer != "" && device.DeviceModel != "" {
		return fmt.Sprintf("%s %s", device.Manufacturer, device.DeviceModel)
	}

	if device.Name != "" {
		return device.Name
	}

	if device.Model != "" {
		return device.Model
	}

	return getFirstAddress(device.Address)
}
