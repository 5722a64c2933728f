package audit

import (
	"path"
	"strings"

	"github.com/aws-samples/genai-ml-platform-examples-sub000/internal/dotpath"
)

// Mask replaces every redacted value.
const Mask = "***"

// DefaultSensitiveFields are redacted unless a trail is given its own list.
// A pattern without dots matches a key at any depth; dotted patterns match
// the full parameter path. Segments may use shell wildcards.
var DefaultSensitiveFields = []string{
	"role_arn",
	"execution_role",
	"*kms_key*",
	"key_id",
	"*password*",
	"*secret*",
	"*token*",
	"*credential*",
	"*access_key*",
	"*api_key*",
}

type Redactor struct {
	patterns [][]string
}

// NewRedactor compiles patterns. Matching is case-insensitive.
func NewRedactor(patterns []string) *Redactor {
	r := &Redactor{}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		r.patterns = append(r.patterns, strings.Split(p, "."))
	}
	return r
}

// Matches reports whether the dotted parameter path is sensitive.
func (r *Redactor) Matches(param string) bool {
	segments := strings.Split(strings.ToLower(param), ".")
	for _, p := range r.patterns {
		if len(p) == 1 {
			if segmentMatch(p[0], segments[len(segments)-1]) {
				return true
			}
			continue
		}
		if len(p) != len(segments) {
			continue
		}
		matched := true
		for i := range p {
			if !segmentMatch(p[i], segments[i]) {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

func segmentMatch(pattern, segment string) bool {
	ok, err := path.Match(pattern, segment)
	return err == nil && ok
}

// Redact returns a deep copy of params with sensitive values masked. The
// input is never modified.
func (r *Redactor) Redact(params map[string]any) map[string]any {
	out, _ := r.redact(params, "").(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	return out
}

func (r *Redactor) redact(v any, prefix string) any {
	if m, ok := dotpath.AsMap(v); ok {
		out := make(map[string]any, len(m))
		for k, val := range m {
			p := dotpath.Join(prefix, k)
			if val != nil && r.Matches(p) {
				out[k] = Mask
				continue
			}
			out[k] = r.redact(val, p)
		}
		return out
	}
	if l, ok := dotpath.AsList(v); ok {
		out := make([]any, len(l))
		for i, val := range l {
			out[i] = r.redact(val, prefix)
		}
		return out
	}
	return v
}
