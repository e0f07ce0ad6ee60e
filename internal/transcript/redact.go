package transcript

import "strings"

// Redacted is the placeholder written in place of any sensitive value.
const Redacted = "***REDACTED***"

// sensitiveKeywords flags a parameter as sensitive when any of these appears
// as a substring of the lowercased key. Matching is deliberately broad: a
// false positive hides one value, a false negative leaks a credential.
var sensitiveKeywords = []string{
	"pwd", "pass", "password", "pin", "secret",
	"key", "token", "credential", "auth", "private",
}

// SensitiveKey reports whether a parameter name looks like it carries a
// secret.
func SensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Redact returns a deep copy of params with every sensitive value replaced
// by the placeholder. A parameter is redacted when its key, or its string
// value, contains a sensitive keyword. Nested maps are walked recursively;
// any value under a sensitive key is replaced wholesale, whatever its type.
// The input is never modified.
func Redact(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if SensitiveKey(k) {
			out[k] = Redacted
			continue
		}
		switch nested := v.(type) {
		case string:
			if SensitiveKey(nested) {
				out[k] = Redacted
			} else {
				out[k] = v
			}
		case map[string]any:
			out[k] = Redact(nested)
		case []any:
			out[k] = redactSlice(nested)
		default:
			out[k] = v
		}
	}
	return out
}

func redactSlice(items []any) []any {
	out := make([]any, len(items))
	for i, v := range items {
		switch nested := v.(type) {
		case string:
			if SensitiveKey(nested) {
				out[i] = Redacted
			} else {
				out[i] = v
			}
		case map[string]any:
			out[i] = Redact(nested)
		case []any:
			out[i] = redactSlice(nested)
		default:
			out[i] = v
		}
	}
	return out
}

// RedactText replaces every occurrence of the given secret values in a text
// block. Used before persisting failure screens, where a typed password may
// be echoed in an input field.
func RedactText(text string, secrets []string) string {
	for _, s := range secrets {
		if s == "" {
			continue
		}
		text = strings.ReplaceAll(text, s, Redacted)
	}
	return text
}
