package soap

import (
	"context"
	"io"
	"net/http"
	"sort"

	"github.com/beevik/etree"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// maxRequestSize bounds inbound SOAP bodies.
const maxRequestSize = 1 << 20

// Request is a decoded SOAP call as seen by an operation.
type Request struct {
	*Envelope
	HTTP *http.Request
}

// Operation handles one SOAP operation. It returns the response body element
// or an error that is mapped onto a fault.
type Operation func(ctx context.Context, req *Request) (*etree.Element, error)

// Gate screens every request before dispatch. A non-nil error rejects it.
type Gate interface {
	Intercept(operation string, request Object) error
}

// Service serves one ONVIF service endpoint from an explicit operation table.
type Service struct {
	name       string
	actionBase string
	gate       Gate
	ops        map[string]Operation
	log        zerolog.Logger
}

// NewService creates an endpoint. Response actions are actionBase + "/" +
// operation + "Response". A nil gate admits every request.
func NewService(name, actionBase string, gate Gate, log zerolog.Logger) *Service {
	return &Service{
		name:       name,
		actionBase: actionBase,
		gate:       gate,
		ops:        make(map[string]Operation),
		log:        log.With().Str("service", name).Logger(),
	}
}

// Name returns the service name.
func (s *Service) Name() string {
	return s.name
}

// Handle registers op under the operation's local name.
func (s *Service) Handle(operation string, op Operation) {
	s.ops[operation] = op
}

// Operations lists the registered operation names.
func (s *Service) Operations() []string {
	names := make([]string, 0, len(s.ops))
	for name := range s.ops {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Serve is the gin handler for the endpoint.
func (s *Service) Serve(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRequestSize))
	if err != nil {
		s.write(c, ReceiverFault(SubcodeAction, "failed to read request").Document(), http.StatusInternalServerError)
		return
	}

	env, err := ParseEnvelope(data)
	if err != nil {
		s.log.Debug().Err(err).Msg("Rejected malformed request")

		fault := SenderFault(SubcodeWellFormed, err.Error())
		s.write(c, fault.Document(), fault.StatusCode())

		return
	}

	doc, status := s.Dispatch(c.Request.Context(), &Request{Envelope: env, HTTP: c.Request})
	s.write(c, doc, status)
}

// Dispatch runs the gate and the operation and returns the response document
// with its HTTP status.
func (s *Service) Dispatch(ctx context.Context, req *Request) (*etree.Document, int) {
	log := s.log.With().Str("operation", req.Operation).Logger()

	if s.gate != nil {
		if err := s.gate.Intercept(req.Operation, req.Root); err != nil {
			fault := FaultFrom(err)
			log.Info().Str("subcode", fault.Subcode).Msg("Request rejected by gate")

			return fault.Document(), fault.StatusCode()
		}
	}

	op, ok := s.ops[req.Operation]
	if !ok {
		log.Info().Msg("Unsupported operation")

		fault := SenderFault(SubcodeActionNotSupported, "operation "+req.Operation+" is not supported by "+s.name)

		return fault.Document(), fault.StatusCode()
	}

	resp, err := op(ctx, req)
	if err != nil {
		fault := FaultFrom(err)
		if fault.Code == CodeReceiver {
			log.Error().Err(err).Msg("Operation failed")
		} else {
			log.Debug().Err(err).Msg("Operation faulted")
		}

		return fault.Document(), fault.StatusCode()
	}

	log.Debug().Msg("Operation served")

	return NewEnvelope(s.actionBase+"/"+req.Operation+"Response", resp), http.StatusOK
}

func (s *Service) write(c *gin.Context, doc *etree.Document, status int) {
	out, err := doc.WriteToBytes()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
		c.Status(http.StatusInternalServerError)

		return
	}

	c.Data(status, ContentType, out)
}
