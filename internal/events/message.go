// Package events implements ONVIF eventing: subscriptions with pull and
// push delivery and the router that fans raised events out to them.
package events

import (
	"strconv"
	"time"

	"github.com/beevik/etree"
)

// Topics raised by the device.
const (
	TopicDigitalInput = "tns1:Device/Trigger/DigitalInput"
	TopicRelay        = "tns1:Device/Relay"
	TopicMotionAlarm  = "tns1:VideoSource/MotionAlarm"
)

// PropertyChanged is the property operation of every state change event.
const PropertyChanged = "Changed"

// TimeFormat is the xs:dateTime layout used on the wire.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// SimpleItem is a name/value pair of a message source or data section.
type SimpleItem struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Message is an immutable notification shared by every queue it lands in.
type Message struct {
	Topic             string       `json:"topic"`
	Source            []SimpleItem `json:"source,omitempty"`
	Data              []SimpleItem `json:"data,omitempty"`
	UtcTime           time.Time    `json:"utcTime"`
	PropertyOperation string       `json:"propertyOperation,omitempty"`
}

// NewDigitalInputMessage reports an alarm input's logical state.
func NewDigitalInputMessage(inputToken string, active bool, at time.Time) *Message {
	return stateMessage(TopicDigitalInput, "InputToken", inputToken, "LogicalState", active, at)
}

// NewRelayMessage reports a relay output's logical state.
func NewRelayMessage(relayToken string, active bool, at time.Time) *Message {
	return stateMessage(TopicRelay, "RelayToken", relayToken, "LogicalState", active, at)
}

// NewMotionMessage reports the motion alarm of a video source.
func NewMotionMessage(sourceToken string, active bool, at time.Time) *Message {
	return stateMessage(TopicMotionAlarm, "Source", sourceToken, "State", active, at)
}

func stateMessage(topic, sourceName, sourceValue, dataName string, active bool, at time.Time) *Message {
	return &Message{
		Topic:             topic,
		Source:            []SimpleItem{{Name: sourceName, Value: sourceValue}},
		Data:              []SimpleItem{{Name: dataName, Value: strconv.FormatBool(active)}},
		UtcTime:           at.UTC(),
		PropertyOperation: PropertyChanged,
	}
}

// Element renders the message as a wsnt:NotificationMessage addressed from
// the given subscription reference.
func (m *Message) Element(reference string) *etree.Element {
	nm := etree.NewElement("wsnt:NotificationMessage")

	if reference != "" {
		nm.CreateElement("wsnt:SubscriptionReference").CreateElement("wsa5:Address").SetText(reference)
	}

	topic := nm.CreateElement("wsnt:Topic")
	topic.CreateAttr("Dialect", DialectConcreteSet)
	topic.SetText(m.Topic)

	msg := nm.CreateElement("wsnt:Message").CreateElement("tt:Message")
	msg.CreateAttr("UtcTime", m.UtcTime.UTC().Format(TimeFormat))

	if m.PropertyOperation != "" {
		msg.CreateAttr("PropertyOperation", m.PropertyOperation)
	}

	appendItems(msg.CreateElement("tt:Source"), m.Source)
	appendItems(msg.CreateElement("tt:Data"), m.Data)

	return nm
}

func appendItems(parent *etree.Element, items []SimpleItem) {
	for _, item := range items {
		el := parent.CreateElement("tt:SimpleItem")
		el.CreateAttr("Name", item.Name)
		el.CreateAttr("Value", item.Value)
	}
}
