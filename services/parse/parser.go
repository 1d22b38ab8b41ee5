// Package parse extracts structured data from free-form model output.
//
// Upstream models are prompted for JSON but may emit fenced, noisy or
// truncated text under length limits. Cleanup here is deliberately limited to
// removing decoration around the payload; it never repairs the payload
// itself, so callers can tell garbled output (retry-worthy) apart from
// well-formed but semantically incomplete output (fallback, not retried).
package parse

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/novelmill/ai-core/services"
)

// Kind is the expected type of a required field
type Kind int

const (
	KindString Kind = iota
	KindStringList
	KindStringMap
)

// Field names a required field and its expected kind
type Field struct {
	Name string
	Kind Kind
}

// ExtractJSON performs best-effort cleanup on raw model output: code-fence
// delimiters are stripped and the text is trimmed to the outermost {...}
// span. The span content is returned untouched. Applying ExtractJSON to
// already-clean JSON is a no-op.
func ExtractJSON(raw string) string {
	cleaned := strings.TrimSpace(raw)

	if strings.HasPrefix(cleaned, "```") {
		if idx := strings.Index(cleaned, "\n"); idx >= 0 {
			cleaned = cleaned[idx+1:]
		} else {
			cleaned = strings.TrimPrefix(cleaned, "```")
		}
		if idx := strings.LastIndex(cleaned, "```"); idx >= 0 {
			cleaned = cleaned[:idx]
		}
		cleaned = strings.TrimSpace(cleaned)
	}

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start >= 0 && end > start {
		cleaned = cleaned[start : end+1]
	}

	return cleaned
}

// ParseObject cleans raw model output and parses it as a JSON object. The
// parse is strict: malformed or truncated JSON fails with a parsing error
// rather than being repaired into something that merely looks complete.
func ParseObject(raw string) (map[string]interface{}, error) {
	cleaned := ExtractJSON(raw)

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(cleaned), &obj); err != nil {
		return nil, services.NewDomainError(services.ErrorTypeParsing, "malformed JSON in model output", err).
			WithDetail("snippet", snippet(cleaned, 200))
	}

	return obj, nil
}

// ValidateRequired checks that every field is present with the expected kind,
// failing on the first missing or mis-typed field by name. Fields are checked
// in the given order so the reported field is deterministic.
func ValidateRequired(obj map[string]interface{}, fields []Field) error {
	for _, f := range fields {
		value, exists := obj[f.Name]
		if !exists || value == nil {
			return services.NewDomainError(services.ErrorTypeValidation,
				fmt.Sprintf("missing required field %q", f.Name), nil).
				WithDetail("field", f.Name)
		}

		if !kindMatches(value, f.Kind) {
			return services.NewDomainError(services.ErrorTypeValidation,
				fmt.Sprintf("field %q has wrong type", f.Name), nil).
				WithDetail("field", f.Name)
		}
	}

	return nil
}

// kindMatches reports whether a decoded JSON value satisfies the kind
func kindMatches(value interface{}, kind Kind) bool {
	switch kind {
	case KindString:
		_, ok := value.(string)
		return ok
	case KindStringList:
		list, ok := value.([]interface{})
		if !ok {
			return false
		}
		for _, item := range list {
			if _, ok := item.(string); !ok {
				return false
			}
		}
		return true
	case KindStringMap:
		m, ok := value.(map[string]interface{})
		if !ok {
			return false
		}
		for _, v := range m {
			if _, ok := v.(string); !ok {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// StringField returns a string field, or empty when absent or mis-typed
func StringField(obj map[string]interface{}, name string) string {
	s, _ := obj[name].(string)
	return s
}

// StringList returns a list field as strings, skipping non-string entries
func StringList(obj map[string]interface{}, name string) []string {
	list, ok := obj[name].([]interface{})
	if !ok {
		return nil
	}

	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// StringMap returns an object field as a string map, skipping non-string values
func StringMap(obj map[string]interface{}, name string) map[string]string {
	m, ok := obj[name].(map[string]interface{})
	if !ok {
		return nil
	}

	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// snippet truncates s for error details without splitting runes
func snippet(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
