package services

import (
	"context"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/juju/errors"

	"github.com/SridarDhandapani/onvifd/internal/events"
	"github.com/SridarDhandapani/onvifd/internal/soap"
)

// Pull timeout bounds.
const (
	DefaultPullTimeout = 10 * time.Second
	MaxPullTimeout     = 5 * time.Minute
)

// Schema locations advertised by GetEventProperties.
const (
	topicNamespaceLocation = "http://www.onvif.org/onvif/ver10/topics/topicns.xml"
	messageContentDialect  = "http://www.onvif.org/ver10/tev/messageContentFilter/ItemFilter"
	messageSchemaLocation  = "http://www.onvif.org/onvif/ver10/schema/onvif.xsd"
)

type topicDescription struct {
	topic      string
	source     string
	sourceType string
	data       string
	dataType   string
}

var topicSet = []topicDescription{
	{events.TopicDigitalInput, "InputToken", "tt:ReferenceToken", "LogicalState", "xsd:boolean"},
	{events.TopicRelay, "RelayToken", "tt:ReferenceToken", "LogicalState", "xsd:boolean"},
	{events.TopicMotionAlarm, "Source", "tt:ReferenceToken", "State", "xsd:boolean"},
}

// Events serves the event service on top of a subscription registry.
type Events struct {
	registry *events.Registry
}

// NewEvents creates the event service handlers.
func NewEvents(registry *events.Registry) *Events {
	return &Events{registry: registry}
}

// Register adds the event operations to svc.
func (e *Events) Register(svc *soap.Service) {
	svc.Handle("GetServiceCapabilities", e.getServiceCapabilities)
	svc.Handle("GetEventProperties", e.getEventProperties)
	svc.Handle("CreatePullPointSubscription", e.createPullPointSubscription)
	svc.Handle("Subscribe", e.subscribe)
	svc.Handle("PullMessages", e.pullMessages)
	svc.Handle("Seek", e.seek)
	svc.Handle("SetSynchronizationPoint", e.setSynchronizationPoint)
	svc.Handle("Renew", e.renew)
	svc.Handle("Unsubscribe", e.unsubscribe)
}

func (e *Events) getServiceCapabilities(context.Context, *soap.Request) (*etree.Element, error) {
	resp := etree.NewElement("tev:GetServiceCapabilitiesResponse")

	caps := resp.CreateElement("tev:Capabilities")
	caps.CreateAttr("WSSubscriptionPolicySupport", "false")
	caps.CreateAttr("WSPullPointSupport", "true")
	caps.CreateAttr("WSPausableSubscriptionManagerInterfaceSupport", "false")
	caps.CreateAttr("PersistentNotificationStorage", "false")

	return resp, nil
}

func (e *Events) getEventProperties(context.Context, *soap.Request) (*etree.Element, error) {
	resp := etree.NewElement("tev:GetEventPropertiesResponse")
	textElement(resp, "tev:TopicNamespaceLocation", topicNamespaceLocation)
	textElement(resp, "wsnt:FixedTopicSet", "true")

	set := resp.CreateElement("wstop:TopicSet")
	for _, d := range topicSet {
		leaf := topicNode(set, d.topic)
		leaf.CreateAttr("wstop:topic", "true")

		desc := leaf.CreateElement("tt:MessageDescription")
		desc.CreateAttr("IsProperty", "true")

		item := desc.CreateElement("tt:Source").CreateElement("tt:SimpleItemDescription")
		item.CreateAttr("Name", d.source)
		item.CreateAttr("Type", d.sourceType)

		item = desc.CreateElement("tt:Data").CreateElement("tt:SimpleItemDescription")
		item.CreateAttr("Name", d.data)
		item.CreateAttr("Type", d.dataType)
	}

	for _, dialect := range events.SupportedDialects {
		textElement(resp, "wsnt:TopicExpressionDialect", dialect)
	}

	textElement(resp, "tev:MessageContentFilterDialect", messageContentDialect)
	textElement(resp, "tev:MessageContentSchemaLocation", messageSchemaLocation)

	return resp, nil
}

// topicNode finds or creates the element path for a tns1 topic.
func topicNode(set *etree.Element, topic string) *etree.Element {
	cur := set
	for i, part := range strings.Split(strings.TrimPrefix(topic, "tns1:"), "/") {
		tag := part
		if i == 0 {
			tag = "tns1:" + part
		}

		next := cur.SelectElement(tag)
		if next == nil {
			next = cur.CreateElement(tag)
		}

		cur = next
	}

	return cur
}

func (e *Events) createPullPointSubscription(_ context.Context, req *soap.Request) (*etree.Element, error) {
	info, err := e.create(req, req.Args.String("Delivery"))
	if err != nil {
		return nil, err
	}

	resp := etree.NewElement("tev:CreatePullPointSubscriptionResponse")
	ref := resp.CreateElement("tev:SubscriptionReference")
	textElement(ref, "wsa5:Address", info.Reference)
	textElement(resp, "wsnt:CurrentTime", formatTime(info.CurrentTime))
	textElement(resp, "wsnt:TerminationTime", formatTime(info.TerminationTime))

	return resp, nil
}

func (e *Events) subscribe(_ context.Context, req *soap.Request) (*etree.Element, error) {
	delivery := req.Args.String("Delivery")
	if delivery == "" {
		delivery = "push"
	}

	info, err := e.create(req, delivery)
	if err != nil {
		return nil, err
	}

	resp := etree.NewElement("wsnt:SubscribeResponse")
	ref := resp.CreateElement("wsnt:SubscriptionReference")
	textElement(ref, "wsa5:Address", info.Reference)
	textElement(resp, "wsnt:CurrentTime", formatTime(info.CurrentTime))
	textElement(resp, "wsnt:TerminationTime", formatTime(info.TerminationTime))

	return resp, nil
}

func (e *Events) create(req *soap.Request, delivery string) (events.Info, error) {
	var filter *events.Filter
	if expr, ok := req.Args.Get("Filter", "TopicExpression"); ok {
		filter = events.NewFilter(soap.Attr(expr, "Dialect"), soap.Text(expr))
	}

	info, err := e.registry.Create(events.CreateRequest{
		BaseAddress:        ServiceURL(req.HTTP, EventsPath),
		InitialTermination: req.Args.String("InitialTerminationTime"),
		Delivery:           delivery,
		ConsumerAddress:    req.Args.String("ConsumerReference", "Address"),
		Filter:             filter,
	})

	return info, errors.Trace(err)
}

func (e *Events) pullMessages(ctx context.Context, req *soap.Request) (*etree.Element, error) {
	id, err := subscriptionID(req)
	if err != nil {
		return nil, err
	}

	timeout := DefaultPullTimeout
	if raw := req.Args.String("Timeout"); raw != "" {
		if timeout, err = events.ParseDuration(raw); err != nil {
			return nil, errors.Trace(err)
		}

		if timeout < 0 {
			return nil, errors.NotValidf("negative pull timeout %q", raw)
		}
	}

	if timeout > MaxPullTimeout {
		timeout = MaxPullTimeout
	}

	limit, err := parseInt(req.Args.String("MessageLimit"), "message limit")
	if err != nil {
		return nil, err
	}

	res, err := e.registry.Pull(ctx, id, timeout, limit)
	if err != nil {
		return nil, errors.Trace(err)
	}

	resp := etree.NewElement("tev:PullMessagesResponse")
	textElement(resp, "tev:CurrentTime", formatTime(res.CurrentTime))
	textElement(resp, "tev:TerminationTime", formatTime(res.TerminationTime))

	for _, msg := range res.Messages {
		resp.AddChild(msg.Element(res.Reference))
	}

	return resp, nil
}

func (e *Events) seek(_ context.Context, req *soap.Request) (*etree.Element, error) {
	id, err := subscriptionID(req)
	if err != nil {
		return nil, err
	}

	raw := req.Args.String("UtcTime")

	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, errors.NotValidf("seek time %q", raw)
	}

	if err := e.registry.Seek(id, at); err != nil {
		return nil, errors.Trace(err)
	}

	return etree.NewElement("tev:SeekResponse"), nil
}

func (e *Events) setSynchronizationPoint(_ context.Context, req *soap.Request) (*etree.Element, error) {
	id, err := subscriptionID(req)
	if err != nil {
		return nil, err
	}

	if err := e.registry.SetSynchronizationPoint(id); err != nil {
		return nil, errors.Trace(err)
	}

	return etree.NewElement("tev:SetSynchronizationPointResponse"), nil
}

func (e *Events) renew(_ context.Context, req *soap.Request) (*etree.Element, error) {
	id, err := subscriptionID(req)
	if err != nil {
		return nil, err
	}

	info, err := e.registry.Renew(id, req.Args.String("TerminationTime"))
	if err != nil {
		return nil, errors.Trace(err)
	}

	resp := etree.NewElement("wsnt:RenewResponse")
	textElement(resp, "wsnt:TerminationTime", formatTime(info.TerminationTime))
	textElement(resp, "wsnt:CurrentTime", formatTime(info.CurrentTime))

	return resp, nil
}

func (e *Events) unsubscribe(_ context.Context, req *soap.Request) (*etree.Element, error) {
	id, err := subscriptionID(req)
	if err != nil {
		return nil, err
	}

	if err := e.registry.Unsubscribe(id); err != nil {
		return nil, errors.Trace(err)
	}

	return etree.NewElement("wsnt:UnsubscribeResponse"), nil
}

// subscriptionID resolves the target subscription from, in order, the body,
// the WS-Addressing To header, a SubscriptionId reference parameter and the
// request URL.
func subscriptionID(req *soap.Request) (string, error) {
	candidates := []string{
		req.Args.String("SubscriptionReference", "Address"),
		req.Header("To"),
		req.Header("SubscriptionId"),
	}

	if req.HTTP != nil && req.HTTP.URL != nil {
		candidates = append(candidates, req.HTTP.URL.RequestURI())
	}

	id, ok := events.ResolveID(candidates...)
	if !ok {
		return "", errors.NotFoundf("subscription reference")
	}

	return id, nil
}
