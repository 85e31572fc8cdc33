// Package wsse validates WS-Security UsernameToken credentials.
package wsse

import (
	"crypto/sha1" //nolint:gosec // mandated by the UsernameToken profile
	"encoding/base64"
	"strings"
)

// Password type URIs of the UsernameToken profile.
const (
	PasswordTextType   = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordText"
	PasswordDigestType = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordDigest"
)

// Scheme is how a token carries its password.
type Scheme int

const (
	SchemeDigest Scheme = iota
	SchemeText
)

func (s Scheme) String() string {
	if s == SchemeText {
		return "PasswordText"
	}

	return "PasswordDigest"
}

// Credential is the configured account every request is checked against.
type Credential struct {
	Username string
	Password string
}

// UsernameToken is the decoded wsse:UsernameToken of one request.
type UsernameToken struct {
	Username     string
	Password     string
	PasswordType string
	Nonce        string
	Created      string
}

// Scheme derives the password scheme from the declared type. Anything that
// does not name PasswordText, including no type at all, is a digest.
func (t UsernameToken) Scheme() Scheme {
	if strings.Contains(t.PasswordType, "PasswordText") {
		return SchemeText
	}

	return SchemeDigest
}

// Digest computes base64(SHA1(nonce ++ created ++ password)) where nonce is
// the base64 decoded nonce. An undecodable nonce contributes no bytes.
func Digest(nonce, created, password string) string {
	h := sha1.New() //nolint:gosec // mandated by the UsernameToken profile
	h.Write(decodeNonce(nonce))
	h.Write([]byte(created))
	h.Write([]byte(password))

	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func decodeNonce(nonce string) []byte {
	nonce = strings.TrimSpace(nonce)
	if nonce == "" {
		return nil
	}

	if b, err := base64.StdEncoding.DecodeString(nonce); err == nil {
		return b
	}

	if b, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(nonce, "=")); err == nil {
		return b
	}

	return nil
}
