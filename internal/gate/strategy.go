package gate

import (
	"github.com/SridarDhandapani/onvifd/internal/soap"
	"github.com/SridarDhandapani/onvifd/internal/wsse"
)

// Strategy locates a UsernameToken in a decoded request.
type Strategy struct {
	Name   string
	Unwrap bool
	Path   []string
}

// Find returns the token the strategy points at, if any.
func (s Strategy) Find(request soap.Object) (wsse.UsernameToken, bool) {
	v, ok := soap.Lookup(request, s.Unwrap, s.Path...)
	if !ok {
		return wsse.UsernameToken{}, false
	}

	return tokenFrom(v)
}

// DefaultStrategies are tried in order; the first hit wins.
var DefaultStrategies = []Strategy{
	{Name: "header", Path: []string{"Header", "Security", "UsernameToken"}},
	{Name: "root", Path: []string{"Security", "UsernameToken"}},
	{Name: "header-unwrapped", Unwrap: true, Path: []string{"Header", "Security", "UsernameToken"}},
	{Name: "root-unwrapped", Unwrap: true, Path: []string{"Security", "UsernameToken"}},
}

func tokenFrom(v any) (wsse.UsernameToken, bool) {
	obj, ok := v.(soap.Object)
	if !ok {
		if list, isList := v.([]any); isList && len(list) > 0 {
			obj, ok = list[0].(soap.Object)
		}
	}

	if !ok {
		return wsse.UsernameToken{}, false
	}

	password := obj["Password"]

	return wsse.UsernameToken{
		Username:     soap.Text(obj["Username"]),
		Password:     soap.Text(password),
		PasswordType: soap.Attr(password, "Type"),
		Nonce:        soap.Text(obj["Nonce"]),
		Created:      soap.Text(obj["Created"]),
	}, true
}
