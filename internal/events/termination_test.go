package events

import (
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestResolveTermination(t *testing.T) {
	got, err := ResolveTermination("", epoch, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(time.Minute), got)

	got, err = ResolveTermination("PT10S", epoch, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(10*time.Second), got)

	got, err = ResolveTermination(" PT1H30M ", epoch, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(90*time.Minute), got)

	got, err = ResolveTermination("2025-03-01T13:00:00Z", epoch, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(time.Hour), got)

	got, err = ResolveTermination("2025-03-01T12:00:00.500Z", epoch, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(500*time.Millisecond), got)
}

func TestResolveTerminationRejects(t *testing.T) {
	for _, value := range []string{
		"2025-03-01T11:59:59Z",
		"2025-03-01T12:00:00Z",
		"PT0S",
		"-PT10S",
		"tomorrow",
		"P1X",
	} {
		_, err := ResolveTermination(value, epoch, time.Minute)
		assert.True(t, errors.Is(err, errors.NotValid), value)
	}
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("PT2.5S")
	require.NoError(t, err)
	assert.Equal(t, 2500*time.Millisecond, d)

	_, err = ParseDuration("five seconds")
	assert.Error(t, err)
}

func TestReferences(t *testing.T) {
	ref := FormatReference("http://10.0.0.2:8081/onvif/events_service", "abc-123")
	assert.Equal(t, "http://10.0.0.2:8081/onvif/events_service?subscription=abc-123", ref)
	assert.Equal(t, "abc-123", ReferenceID(ref))

	assert.Equal(t, "abc-123", ReferenceID("/onvif/events_service?subscription=abc-123"))
	assert.Equal(t, "abc-123", ReferenceID(" abc-123 "))
	assert.Equal(t, "", ReferenceID("http://10.0.0.2/onvif/events_service"))
	assert.Equal(t, "", ReferenceID("/onvif/events_service"))
	assert.Equal(t, "", ReferenceID(""))

	id, ok := ResolveID("", "http://cam/onvif/events_service", "/onvif/events_service?subscription=x1", "x2")
	require.True(t, ok)
	assert.Equal(t, "x1", id)

	_, ok = ResolveID("", "/onvif/events_service")
	assert.False(t, ok)
}

func TestFilter(t *testing.T) {
	var none *Filter
	assert.True(t, none.Matches(TopicRelay))
	assert.Nil(t, NewFilter(DialectConcreteSet, "  "))

	f := NewFilter("", TopicDigitalInput)
	assert.Equal(t, DialectConcreteSet, f.Dialect)
	assert.True(t, f.Matches(TopicDigitalInput))
	assert.False(t, f.Matches(TopicRelay))
	assert.False(t, f.Matches("tns1:Device/Trigger"))

	f = NewFilter(DialectConcrete, TopicRelay+" | "+TopicMotionAlarm)
	assert.True(t, f.Matches(TopicRelay))
	assert.True(t, f.Matches(TopicMotionAlarm))
	assert.False(t, f.Matches(TopicDigitalInput))

	f = NewFilter("http://www.w3.org/TR/1999/REC-xpath-19991116", TopicRelay)
	assert.False(t, f.Supported())
	assert.False(t, f.Matches(TopicRelay))
}

func TestMessageElement(t *testing.T) {
	msg := NewDigitalInputMessage("input2", true, epoch)
	el := msg.Element("http://cam/onvif/events_service?subscription=s1")

	assert.Equal(t, "NotificationMessage", el.Tag)
	assert.Equal(t, TopicDigitalInput, el.FindElement("./Topic").Text())
	assert.Equal(t, DialectConcreteSet, el.FindElement("./Topic").SelectAttrValue("Dialect", ""))
	assert.Equal(t, "http://cam/onvif/events_service?subscription=s1",
		el.FindElement("./SubscriptionReference/Address").Text())

	inner := el.FindElement("./Message/Message")
	require.NotNil(t, inner)
	assert.Equal(t, "2025-03-01T12:00:00.000Z", inner.SelectAttrValue("UtcTime", ""))
	assert.Equal(t, PropertyChanged, inner.SelectAttrValue("PropertyOperation", ""))

	src := inner.FindElement("./Source/SimpleItem")
	assert.Equal(t, "InputToken", src.SelectAttrValue("Name", ""))
	assert.Equal(t, "input2", src.SelectAttrValue("Value", ""))

	data := inner.FindElement("./Data/SimpleItem")
	assert.Equal(t, "LogicalState", data.SelectAttrValue("Name", ""))
	assert.Equal(t, "true", data.SelectAttrValue("Value", ""))

	motion := NewMotionMessage("VideoSource_1", false, epoch)
	assert.Equal(t, TopicMotionAlarm, motion.Topic)
	assert.Equal(t, []SimpleItem{{Name: "State", Value: "false"}}, motion.Data)

	relay := NewRelayMessage("Relay0", true, epoch)
	assert.Equal(t, []SimpleItem{{Name: "RelayToken", Value: "Relay0"}}, relay.Source)
}
