// Package soap is the SOAP 1.2 binding used by the ONVIF services: request
// decoding, operation dispatch and response and fault envelopes.
package soap

import (
	"github.com/beevik/etree"
	"github.com/juju/errors"
)

// Namespace URIs used on the wire.
const (
	NamespaceEnvelope   = "http://www.w3.org/2003/05/soap-envelope"
	NamespaceAddressing = "http://www.w3.org/2005/08/addressing"
	NamespaceSchema     = "http://www.onvif.org/ver10/schema"
	NamespaceDevice     = "http://www.onvif.org/ver10/device/wsdl"
	NamespaceEvents     = "http://www.onvif.org/ver10/events/wsdl"
	NamespaceDeviceIO   = "http://www.onvif.org/ver10/deviceIO/wsdl"
	NamespaceNotify     = "http://docs.oasis-open.org/wsn/b-2"
	NamespaceTopics     = "http://docs.oasis-open.org/wsn/t-1"
	NamespaceTopicsONV  = "http://www.onvif.org/ver10/topics"
	NamespaceError      = "http://www.onvif.org/ver10/error"
	NamespaceResource   = "http://docs.oasis-open.org/wsrf/r-2"
	NamespaceXSD        = "http://www.w3.org/2001/XMLSchema"
	ContentType         = "application/soap+xml; charset=utf-8"
)

// prefixes declared on every response envelope.
var prefixes = []struct{ prefix, uri string }{
	{"soap", NamespaceEnvelope},
	{"xsd", NamespaceXSD},
	{"wsa5", NamespaceAddressing},
	{"tt", NamespaceSchema},
	{"tds", NamespaceDevice},
	{"tev", NamespaceEvents},
	{"tmd", NamespaceDeviceIO},
	{"wsnt", NamespaceNotify},
	{"wstop", NamespaceTopics},
	{"tns1", NamespaceTopicsONV},
	{"ter", NamespaceError},
	{"wsrf-r", NamespaceResource},
}

// Envelope is a decoded inbound request.
type Envelope struct {
	// Root holds the decoded Header and Body.
	Root Object
	// Operation is the local name of the first Body child.
	Operation string
	// Namespace is the namespace URI of the operation element.
	Namespace string
	// Args is the decoded operation element.
	Args Object
}

// ParseEnvelope decodes a SOAP request.
func ParseEnvelope(data []byte) (*Envelope, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, errors.NewNotValid(err, "malformed SOAP envelope")
	}

	root := doc.Root()
	if root == nil || root.Tag != "Envelope" {
		return nil, errors.NotValidf("SOAP envelope")
	}

	body := child(root, "Body")
	if body == nil {
		return nil, errors.NotValidf("SOAP envelope without Body")
	}

	ops := body.ChildElements()
	if len(ops) == 0 {
		return nil, errors.NotValidf("SOAP Body without operation")
	}

	env := &Envelope{
		Operation: ops[0].Tag,
		Namespace: ops[0].NamespaceURI(),
		Args:      Object{},
	}

	if obj, ok := Decode(root).(Object); ok {
		env.Root = obj
	} else {
		env.Root = Object{}
	}

	if args, ok := Decode(ops[0]).(Object); ok {
		env.Args = args
	}

	return env, nil
}

// Header returns a decoded SOAP header entry.
func (e *Envelope) Header(path ...string) string {
	return e.Root.String(append([]string{"Header"}, path...)...)
}

// NewEnvelope wraps content in a response envelope. A non-empty action is
// sent as the WS-Addressing Action header.
func NewEnvelope(action string, content *etree.Element) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	env := doc.CreateElement("soap:Envelope")
	for _, ns := range prefixes {
		env.CreateAttr("xmlns:"+ns.prefix, ns.uri)
	}

	if action != "" {
		hdr := env.CreateElement("soap:Header")
		a := hdr.CreateElement("wsa5:Action")
		a.CreateAttr("soap:mustUnderstand", "true")
		a.SetText(action)
	}

	body := env.CreateElement("soap:Body")
	if content != nil {
		body.AddChild(content)
	}

	return doc
}

func child(el *etree.Element, local string) *etree.Element {
	for _, c := range el.ChildElements() {
		if c.Tag == local {
			return c
		}
	}

	return nil
}
