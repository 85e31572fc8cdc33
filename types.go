// Package onvif is a client for onvifd and other ONVIF alarm I/O devices:
// discovery, device information, event subscriptions and relay control.
package onvif

import (
	"time"
)

// Device represents an ONVIF device with the properties gathered about it
type Device struct {
	// From discovery
	Endpoint string
	Address  string
	Types    []string
	Scopes   []string
	Name     string
	Model    string
	Location string

	// From GetDeviceInformation
	Manufacturer    string
	DeviceModel     string
	FirmwareVersion string
	SerialNumber    string
	HardwareId      string

	// From GetSystemDateAndTime
	TimeZone string
	DateTime time.Time

	// Service URLs, derived from Address when not set explicitly
	EventsURL   string
	DeviceIOURL string
}

// Client represents an ONVIF client with authentication
type Client struct {
	Username    string
	Password    string
	Timeout     time.Duration
	InsecureTLS bool // Skip TLS certificate verification
}

// DiscoveryOptions provides options for device discovery
type DiscoveryOptions struct {
	Timeout       time.Duration
	MulticastAddr string
}

// SubscriptionOptions configures a new subscription. Empty fields use the
// device defaults.
type SubscriptionOptions struct {
	// Topics is a topic expression; alternatives are separated by '|'.
	Topics  string
	Dialect string
	// InitialTermination is an ISO-8601 duration or an absolute xs:dateTime.
	InitialTermination string
}

// Subscription is a handle to a device-side subscription
type Subscription struct {
	Reference       string
	CurrentTime     time.Time
	TerminationTime time.Time
}

// Notification is one event received from a device
type Notification struct {
	Topic             string
	UtcTime           time.Time
	PropertyOperation string
	Source            map[string]string
	Data              map[string]string
}

// PullResult is the outcome of PullMessages
type PullResult struct {
	CurrentTime     time.Time
	TerminationTime time.Time
	Messages        []Notification
}

// DigitalInput describes an alarm input of the device
type DigitalInput struct {
	Token     string
	IdleState string
}

// RelayOutput describes a relay output of the device
type RelayOutput struct {
	Token     string
	Mode      string
	DelayTime string
	IdleState string
}

// Event topics raised by onvifd.
const (
	TopicDigitalInput = "tns1:Device/Trigger/DigitalInput"
	TopicRelay        = "tns1:Device/Relay"
	TopicMotionAlarm  = "tns1:VideoSource/MotionAlarm"
)

// Default configuration
const (
	DefaultMulticastAddr = "239.255.255.250:3702"
	DefaultTimeout       = 5 * time.Second
)
