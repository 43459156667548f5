// Package markup normalizes diagram markup returned by the model or typed into the code view.
package markup

import (
	"regexp"
	"strings"
)

// fencePattern matches input wrapped entirely in a markdown fence. A language tag is
// only recognized when it sits alone on the opening line.
var fencePattern = regexp.MustCompile("^\\s*```(?:[\\w-]*[ \\t]*\\r?\\n)?([\\s\\S]*?)\\s*```\\s*$")

// Sanitize strips wrapping code fences and surrounding whitespace. Input that is not
// fenced is only trimmed. Nested wrapping fences are peeled until none remains, so
// Sanitize(Sanitize(x)) == Sanitize(x).
func Sanitize(raw string) string {
	out := strings.TrimSpace(raw)
	for {
		m := fencePattern.FindStringSubmatch(out)
		if m == nil {
			return out
		}
		out = strings.TrimSpace(m[1])
	}
}

// IsBlank reports whether the markup has nothing to render once sanitized.
func IsBlank(raw string) bool {
	return Sanitize(raw) == ""
}
