package events

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/beevik/etree"
	"github.com/juju/errors"

	"github.com/SridarDhandapani/onvifd/internal/soap"
)

// NotifyAction is the WS-Addressing action of a Notify request.
const NotifyAction = "http://docs.oasis-open.org/wsn/bw-2/NotificationConsumer/Notify"

// Notifier delivers a batch of messages to a push consumer.
type Notifier interface {
	Notify(ctx context.Context, consumer, reference string, msgs []*Message) error
}

// HTTPNotifier POSTs wsnt:Notify envelopes.
type HTTPNotifier struct {
	client *http.Client
}

// NewHTTPNotifier returns a notifier using client, or http.DefaultClient.
func NewHTTPNotifier(client *http.Client) *HTTPNotifier {
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPNotifier{client: client}
}

// NotifyDocument builds the Notify envelope for msgs.
func NotifyDocument(reference string, msgs []*Message) *etree.Document {
	notify := etree.NewElement("wsnt:Notify")
	for _, msg := range msgs {
		notify.AddChild(msg.Element(reference))
	}

	return soap.NewEnvelope(NotifyAction, notify)
}

// Notify implements Notifier. Any HTTP status of 400 or above is an error.
func (n *HTTPNotifier) Notify(ctx context.Context, consumer, reference string, msgs []*Message) error {
	body, err := NotifyDocument(reference, msgs).WriteToBytes()
	if err != nil {
		return errors.Annotate(err, "encoding Notify")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, consumer, bytes.NewReader(body))
	if err != nil {
		return errors.Annotatef(err, "building Notify for %s", consumer)
	}

	req.Header.Set("Content-Type", soap.ContentType)
	req.Header.Set("SOAPAction", NotifyAction)

	resp, err := n.client.Do(req)
	if err != nil {
		return errors.Annotatef(err, "posting Notify to %s", consumer)
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("consumer %s answered HTTP %d: %s", consumer, resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	return nil
}
