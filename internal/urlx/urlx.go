// Package urlx repairs proxy target URLs that arrive mangled inside a path
// segment. Browsers and upstream CDNs routinely collapse the "//" after the
// scheme when a full URL is embedded in a path, so "https://host" shows up
// as "https:/host" (or worse) by the time it reaches a handler.
package urlx

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// collapsedScheme matches an http(s) scheme followed by any run of slashes.
var collapsedScheme = regexp.MustCompile(`^(https?):/+`)

// InvalidTargetError reports a target string that cannot be repaired into a
// parseable absolute URL. The raw string is kept for the 400 response body.
type InvalidTargetError struct {
	Raw string
}

func (e *InvalidTargetError) Error() string {
	return fmt.Sprintf("invalid target URL %q", e.Raw)
}

// Normalize turns a raw path segment intended to be an absolute URL into a
// well-formed one. A segment that already carries an http(s) scheme has its
// slash run collapsed to exactly two; anything else gets "https://" prepended.
// Normalize is idempotent: Normalize(Normalize(s)) == Normalize(s).
func Normalize(raw string) (string, error) {
	s := raw
	if strings.HasPrefix(s, "http") {
		s = collapsedScheme.ReplaceAllString(s, "$1://")
	} else {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Hostname() == "" {
		return "", &InvalidTargetError{Raw: raw}
	}
	return s, nil
}
