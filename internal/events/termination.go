package events

import (
	"net/url"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/sosodev/duration"
)

// ResolveTermination turns an InitialTerminationTime or TerminationTime
// value into an absolute expiry. The value is either an xs:dateTime or an
// ISO-8601 duration relative to now; blank means now + def.
func ResolveTermination(value string, now time.Time, def time.Duration) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return now.Add(def), nil
	}

	if isDuration(value) {
		d, err := ParseDuration(value)
		if err != nil {
			return time.Time{}, err
		}

		if d <= 0 {
			return time.Time{}, errors.NotValidf("non-positive termination duration %q", value)
		}

		return now.Add(d), nil
	}

	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, errors.NotValidf("termination time %q", value)
	}

	if !t.After(now) {
		return time.Time{}, errors.NotValidf("termination time %q in the past", value)
	}

	return t, nil
}

// ParseDuration parses an ISO-8601 duration such as PT10S.
func ParseDuration(value string) (time.Duration, error) {
	d, err := duration.Parse(strings.TrimSpace(value))
	if err != nil {
		return 0, errors.NewNotValid(err, "duration "+value)
	}

	return d.ToTimeDuration(), nil
}

func isDuration(value string) bool {
	return strings.HasPrefix(value, "P") || strings.HasPrefix(value, "-P")
}

// FormatReference builds a subscription reference address.
func FormatReference(base, id string) string {
	return base + "?subscription=" + url.QueryEscape(id)
}

// ReferenceID extracts a subscription id from a reference address. A value
// that is not a URL is taken as a bare id.
func ReferenceID(reference string) string {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return ""
	}

	u, err := url.Parse(reference)
	if err != nil {
		return ""
	}

	if id := u.Query().Get("subscription"); id != "" {
		return id
	}

	if u.Scheme == "" && u.Host == "" && !strings.ContainsAny(reference, "/?") {
		return reference
	}

	return ""
}

// ResolveID returns the first subscription id found among candidate
// references, in order.
func ResolveID(candidates ...string) (string, bool) {
	for _, c := range candidates {
		if id := ReferenceID(c); id != "" {
			return id, true
		}
	}

	return "", false
}
