package engine

import (
	"regexp"
	"strings"
)

// urlPattern matches absolute http(s) URLs embedded in text bodies. It is
// deliberately broad so script and config files get their download links
// caught, at the cost of the occasional over-match on trailing
// punctuation.
var urlPattern = regexp.MustCompile(
	`https?://[a-zA-Z0-9][-a-zA-Z0-9@:%._+~#=]{1,256}\.[a-zA-Z0-9()]{1,6}\b[-a-zA-Z0-9()@:%_+.~#?&/=]*`)

// Rewriter rebases absolute URLs in a body onto this edge's recursive
// proxy prefix.
type Rewriter struct {
	// origin is this edge's scheme://host. URLs already containing it
	// are left alone so rewriting stays idempotent.
	origin string
	// prefix is the full recursive entry point, origin/secret/r/.
	prefix string
}

// NewRewriter builds a rewriter for one request's origin and prefix.
func NewRewriter(origin, prefix string) *Rewriter {
	return &Rewriter{origin: origin, prefix: prefix}
}

// Rewrite replaces every foreign absolute URL in body with its proxied
// form. Applying Rewrite to its own output is a no-op.
func (rw *Rewriter) Rewrite(body string) string {
	return urlPattern.ReplaceAllStringFunc(body, func(match string) string {
		if strings.Contains(match, rw.origin) {
			return match
		}
		return rw.prefix + match
	})
}
