// Package gate authenticates SOAP requests before they reach an operation.
package gate

import (
	"github.com/rs/zerolog"

	"github.com/SridarDhandapani/onvifd/internal/soap"
	"github.com/SridarDhandapani/onvifd/internal/wsse"
)

// ExemptOperation may be called without credentials so clients can align
// their clocks before computing digests.
const ExemptOperation = "GetSystemDateAndTime"

// Gate checks the WS-Security UsernameToken of every request against the
// configured credential.
type Gate struct {
	credential wsse.Credential
	validator  *wsse.Validator
	strategies []Strategy
	replay     *ReplayGuard
	log        zerolog.Logger
}

// Option customizes a Gate.
type Option func(*Gate)

// WithStrategies replaces the token lookup order.
func WithStrategies(strategies ...Strategy) Option {
	return func(g *Gate) {
		g.strategies = strategies
	}
}

// WithReplayGuard rejects digest tokens whose nonce was already accepted.
func WithReplayGuard(guard *ReplayGuard) Option {
	return func(g *Gate) {
		g.replay = guard
	}
}

// New creates a gate for credential.
func New(credential wsse.Credential, log zerolog.Logger, opts ...Option) *Gate {
	g := &Gate{
		credential: credential,
		validator:  wsse.NewValidator(log),
		strategies: DefaultStrategies,
		log:        log,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Intercept implements soap.Gate.
func (g *Gate) Intercept(operation string, request soap.Object) error {
	if operation == ExemptOperation {
		g.log.Debug().Str("operation", operation).Msg("Operation exempt from authentication")
		return nil
	}

	if g.credential.Username == "" {
		return nil
	}

	token, strategy, ok := g.find(request)
	if !ok {
		g.log.Warn().Str("operation", operation).Msg("No UsernameToken in request")
		return soap.NotAuthorized()
	}

	g.log.Debug().Str("operation", operation).Str("strategy", strategy).Msg("Found UsernameToken")

	if !g.validator.Validate(token, g.credential) {
		g.log.Warn().Str("operation", operation).Str("username", token.Username).Msg("Rejected credentials")
		return soap.NotAuthorized()
	}

	if g.replay != nil && token.Scheme() == wsse.SchemeDigest && !g.replay.Admit(token) {
		g.log.Warn().Str("operation", operation).Str("nonce", token.Nonce).Msg("Rejected replayed nonce")
		return soap.NotAuthorized()
	}

	return nil
}

func (g *Gate) find(request soap.Object) (wsse.UsernameToken, string, bool) {
	for _, s := range g.strategies {
		if token, ok := s.Find(request); ok {
			return token, s.Name, true
		}
	}

	return wsse.UsernameToken{}, "", false
}
