// Package services implements the ONVIF device, events and deviceio
// operations on top of the soap binding.
package services

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/juju/errors"

	"github.com/SridarDhandapani/onvifd/internal/events"
	"github.com/SridarDhandapani/onvifd/internal/soap"
)

// Service endpoint paths.
const (
	DevicePath   = "/onvif/device_service"
	EventsPath   = "/onvif/events_service"
	DeviceIOPath = "/onvif/deviceio_service"
)

// Action prefixes of the response envelopes.
const (
	DeviceActions   = soap.NamespaceDevice
	EventsActions   = soap.NamespaceEvents + "/EventPortType"
	DeviceIOActions = soap.NamespaceDeviceIO + "/DeviceIOPort"
)

// ServiceURL is the absolute address of path as reached by r.
func ServiceURL(r *http.Request, path string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	return scheme + "://" + r.Host + path
}

func formatTime(t time.Time) string {
	return t.UTC().Format(events.TimeFormat)
}

func textElement(parent *etree.Element, tag, text string) *etree.Element {
	el := parent.CreateElement(tag)
	el.SetText(text)

	return el
}

func parseInt(value, name string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.NotValidf("%s %q", name, value)
	}

	return n, nil
}
