package onvif

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/beevik/etree"
	"github.com/juju/errors"
)

const (
	eventsAction       = "http://www.onvif.org/ver10/events/wsdl/"
	notificationAction = "http://docs.oasis-open.org/wsn/bw-2/"
)

// CreatePullPointSubscription creates a subscription the client polls with
// PullMessages
func (c *Client) CreatePullPointSubscription(ctx context.Context, device *Device, opts SubscriptionOptions) (*Subscription, error) {
	body := `<tev:CreatePullPointSubscription>` + subscriptionBody(opts) + `</tev:CreatePullPointSubscription>`

	resp, err := c.sendSOAPRequest(ctx, device.EventsAddress(),
		eventsAction+"EventPortType/CreatePullPointSubscriptionRequest", "", body)
	if err != nil {
		return nil, err
	}

	return parseSubscription(resp)
}

// Subscribe creates a subscription whose notifications the device pushes to
// consumer
func (c *Client) Subscribe(ctx context.Context, device *Device, consumer string, opts SubscriptionOptions) (*Subscription, error) {
	body := fmt.Sprintf(`<wsnt:Subscribe>
		<wsnt:ConsumerReference><wsa:Address>%s</wsa:Address></wsnt:ConsumerReference>%s
	</wsnt:Subscribe>`, escapeXML(consumer), subscriptionBody(opts))

	resp, err := c.sendSOAPRequest(ctx, device.EventsAddress(),
		notificationAction+"NotificationProducer/SubscribeRequest", "", body)
	if err != nil {
		return nil, err
	}

	return parseSubscription(resp)
}

// PullMessages waits up to timeout for notifications on a pull-point
// subscription. At most limit messages are returned; zero means no limit.
func (c *Client) PullMessages(ctx context.Context, sub *Subscription, timeout time.Duration, limit int) (*PullResult, error) {
	body := `<tev:PullMessages><tev:Timeout>` + formatDuration(timeout) + `</tev:Timeout>`
	if limit > 0 {
		body += `<tev:MessageLimit>` + strconv.Itoa(limit) + `</tev:MessageLimit>`
	}
	body += `</tev:PullMessages>`

	// The HTTP exchange must outlive the long poll
	pc := *c
	if pc.Timeout == 0 || pc.Timeout < timeout+5*time.Second {
		pc.Timeout = timeout + 5*time.Second
	}

	resp, err := pc.sendSOAPRequest(ctx, sub.Reference,
		eventsAction+"PullPointSubscription/PullMessagesRequest", toHeader(sub), body)
	if err != nil {
		return nil, err
	}

	result := &PullResult{
		CurrentTime:     parseTime(childText(resp, "CurrentTime")),
		TerminationTime: parseTime(childText(resp, "TerminationTime")),
	}

	for _, el := range resp.SelectElements("NotificationMessage") {
		result.Messages = append(result.Messages, parseNotification(el))
	}

	sub.TerminationTime = result.TerminationTime

	return result, nil
}

// Renew extends a subscription. An empty termination uses the device
// default lifetime.
func (c *Client) Renew(ctx context.Context, sub *Subscription, termination string) error {
	body := `<wsnt:Renew>`
	if termination != "" {
		body += `<wsnt:TerminationTime>` + escapeXML(termination) + `</wsnt:TerminationTime>`
	}
	body += `</wsnt:Renew>`

	resp, err := c.sendSOAPRequest(ctx, sub.Reference,
		notificationAction+"SubscriptionManager/RenewRequest", toHeader(sub), body)
	if err != nil {
		return err
	}

	sub.CurrentTime = parseTime(childText(resp, "CurrentTime"))
	sub.TerminationTime = parseTime(childText(resp, "TerminationTime"))

	return nil
}

// Unsubscribe deletes a subscription
func (c *Client) Unsubscribe(ctx context.Context, sub *Subscription) error {
	_, err := c.sendSOAPRequest(ctx, sub.Reference,
		notificationAction+"SubscriptionManager/UnsubscribeRequest", toHeader(sub), `<wsnt:Unsubscribe/>`)

	return err
}

// SetSynchronizationPoint skips everything queued on a pull-point
// subscription
func (c *Client) SetSynchronizationPoint(ctx context.Context, sub *Subscription) error {
	_, err := c.sendSOAPRequest(ctx, sub.Reference,
		eventsAction+"PullPointSubscription/SetSynchronizationPointRequest", toHeader(sub), `<tev:SetSynchronizationPoint/>`)

	return err
}

func subscriptionBody(opts SubscriptionOptions) string {
	var body string

	if opts.Topics != "" {
		dialect := ""
		if opts.Dialect != "" {
			dialect = ` Dialect="` + escapeXML(opts.Dialect) + `"`
		}

		body += `<tev:Filter><wsnt:TopicExpression` + dialect + `>` + escapeXML(opts.Topics) + `</wsnt:TopicExpression></tev:Filter>`
	}

	if opts.InitialTermination != "" {
		body += `<tev:InitialTerminationTime>` + escapeXML(opts.InitialTermination) + `</tev:InitialTerminationTime>`
	}

	return body
}

func toHeader(sub *Subscription) string {
	return `<wsa:To>` + escapeXML(sub.Reference) + `</wsa:To>`
}

func parseSubscription(resp *etree.Element) (*Subscription, error) {
	sub := &Subscription{
		Reference:       childText(resp, "SubscriptionReference/Address"),
		CurrentTime:     parseTime(childText(resp, "CurrentTime")),
		TerminationTime: parseTime(childText(resp, "TerminationTime")),
	}

	if sub.Reference == "" {
		return nil, errors.NotValidf("subscription response without reference")
	}

	return sub, nil
}

func parseNotification(el *etree.Element) Notification {
	n := Notification{
		Topic:  childText(el, "Topic"),
		Source: make(map[string]string),
		Data:   make(map[string]string),
	}

	msg := el.FindElement("Message/Message")
	if msg == nil {
		return n
	}

	n.UtcTime = parseTime(msg.SelectAttrValue("UtcTime", ""))
	n.PropertyOperation = msg.SelectAttrValue("PropertyOperation", "")

	for _, item := range msg.FindElements("Source/SimpleItem") {
		n.Source[item.SelectAttrValue("Name", "")] = item.SelectAttrValue("Value", "")
	}

	for _, item := range msg.FindElements("Data/SimpleItem") {
		n.Data[item.SelectAttrValue("Name", "")] = item.SelectAttrValue("Value", "")
	}

	return n
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}

	return t
}

// formatDuration renders d as an ISO-8601 duration in seconds
func formatDuration(d time.Duration) string {
	return "PT" + strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + "S"
}
