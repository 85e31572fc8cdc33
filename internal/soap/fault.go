package soap

import (
	"fmt"
	"net/http"

	"github.com/beevik/etree"
	"github.com/juju/errors"
)

// Fault codes.
const (
	CodeSender   = "soap:Sender"
	CodeReceiver = "soap:Receiver"

	SubcodeNotAuthorized      = "ter:NotAuthorized"
	SubcodeInvalidArgVal      = "ter:InvalidArgVal"
	SubcodeActionNotSupported = "ter:ActionNotSupported"
	SubcodeWellFormed         = "ter:WellFormed"
	SubcodeAction             = "ter:Action"
	SubcodeResourceUnknown    = "wsrf-r:ResourceUnknownFault"
)

// Fault is a SOAP 1.2 fault. It is returned as an error by operations and
// written as the response body.
type Fault struct {
	Code    string
	Subcode string
	Reason  string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s %s: %s", f.Code, f.Subcode, f.Reason)
}

// StatusCode is the HTTP status sent with the fault.
func (f *Fault) StatusCode() int {
	if f.Code == CodeReceiver {
		return http.StatusInternalServerError
	}

	return http.StatusBadRequest
}

// Element renders the soap:Fault element.
func (f *Fault) Element() *etree.Element {
	fault := etree.NewElement("soap:Fault")

	code := fault.CreateElement("soap:Code")
	code.CreateElement("soap:Value").SetText(f.Code)

	if f.Subcode != "" {
		sub := code.CreateElement("soap:Subcode")
		sub.CreateElement("soap:Value").SetText(f.Subcode)
	}

	text := fault.CreateElement("soap:Reason").CreateElement("soap:Text")
	text.CreateAttr("xml:lang", "en")
	text.SetText(f.Reason)

	return fault
}

// Document renders the fault inside a response envelope.
func (f *Fault) Document() *etree.Document {
	return NewEnvelope("", f.Element())
}

// NotAuthorized is the fault returned for missing or bad credentials.
func NotAuthorized() *Fault {
	return &Fault{Code: CodeSender, Subcode: SubcodeNotAuthorized, Reason: "Sender not Authorized"}
}

// SenderFault blames the request.
func SenderFault(subcode, reason string) *Fault {
	return &Fault{Code: CodeSender, Subcode: subcode, Reason: reason}
}

// ReceiverFault blames the device.
func ReceiverFault(subcode, reason string) *Fault {
	return &Fault{Code: CodeReceiver, Subcode: subcode, Reason: reason}
}

// FaultFrom maps an operation error onto a fault.
func FaultFrom(err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}

	switch {
	case errors.Is(err, errors.Unauthorized):
		return NotAuthorized()
	case errors.Is(err, errors.NotValid):
		return SenderFault(SubcodeInvalidArgVal, err.Error())
	case errors.Is(err, errors.NotFound):
		return SenderFault(SubcodeResourceUnknown, err.Error())
	case errors.Is(err, errors.NotSupported), errors.Is(err, errors.NotImplemented):
		return SenderFault(SubcodeActionNotSupported, err.Error())
	default:
		return ReceiverFault(SubcodeAction, err.Error())
	}
}

// ParseFault extracts a fault from a response document, or returns nil.
func ParseFault(data []byte) *Fault {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil
	}

	root := doc.Root()
	if root == nil {
		return nil
	}

	body := child(root, "Body")
	if body == nil {
		return nil
	}

	el := child(body, "Fault")
	if el == nil {
		return nil
	}

	obj, _ := Decode(el).(Object)

	return &Fault{
		Code:    obj.String("Code", "Value"),
		Subcode: obj.String("Code", "Subcode", "Value"),
		Reason:  obj.String("Reason", "Text"),
	}
}
