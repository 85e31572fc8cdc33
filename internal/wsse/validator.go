package wsse

import (
	"crypto/subtle"

	"github.com/rs/zerolog"

	"github.com/SridarDhandapani/onvifd/internal/logger"
)

// Validator checks tokens against a credential. Each decision step is logged
// at debug level with secrets masked.
type Validator struct {
	log zerolog.Logger
}

// NewValidator returns a validator that audits to log.
func NewValidator(log zerolog.Logger) *Validator {
	return &Validator{log: log}
}

// Validate reports whether token proves knowledge of cred.
func (v *Validator) Validate(token UsernameToken, cred Credential) bool {
	v.log.Debug().
		Str("stage", "received").
		Str("username", token.Username).
		Str("password", logger.MaskSecret(token.Password)).
		Str("password_type", token.PasswordType).
		Str("nonce", token.Nonce).
		Str("created", token.Created).
		Msg("Validating UsernameToken")

	if token.Username == "" || token.Password == "" || cred.Username == "" {
		v.log.Debug().
			Str("stage", "missing-fields").
			Bool("username", token.Username != "").
			Bool("password", token.Password != "").
			Bool("configured_username", cred.Username != "").
			Msg("UsernameToken incomplete")

		return false
	}

	scheme := token.Scheme()
	v.log.Debug().Str("stage", "scheme").Stringer("scheme", scheme).Msg("Password scheme selected")

	var ok bool

	switch scheme {
	case SchemeText:
		ok = token.Username == cred.Username && equal(token.Password, cred.Password)
		v.log.Debug().
			Str("stage", "text-compare").
			Bool("username_match", token.Username == cred.Username).
			Bool("result", ok).
			Msg("Compared plain password")
	default:
		expected := Digest(token.Nonce, token.Created, cred.Password)
		ok = token.Username == cred.Username && equal(token.Password, expected)
		v.log.Debug().
			Str("stage", "digest-compare").
			Str("expected", logger.MaskSecret(expected)).
			Str("provided", logger.MaskSecret(token.Password)).
			Bool("username_match", token.Username == cred.Username).
			Bool("result", ok).
			Msg("Compared password digest")
	}

	return ok
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
