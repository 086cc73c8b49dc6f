// Package redact scrubs credential material from text and JSON payloads
// before it reaches any log line or debug endpoint.
package redact

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Marker replaces every credential occurrence.
const Marker = "[REDACTED]"

// Patterns for inline credential material. Vendor key prefixes cover
// Anthropic (sk-ant-), OpenAI/OpenRouter (sk-), and Groq (gsk_).
var (
	bearerPattern    = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`)
	vendorKeyPattern = regexp.MustCompile(`\b(?:sk-[A-Za-z0-9\-_]{8,}|gsk_[A-Za-z0-9]{8,})\b`)
	headerPattern    = regexp.MustCompile(`(?i)("?(?:api[-_]key|x-api-key|authorization)"?\s*[:=]\s*)("[^"]*"|[^\s,}"]+)`)
)

// secretFields are JSON field names whose values are always scrubbed,
// regardless of value shape.
var secretFields = []string{"api_key", "apiKey", "x-api-key", "authorization", "key", "token"}

// String scrubs credential material from free-form text. It never fails;
// input that matches nothing is returned unchanged.
func String(s string) string {
	s = bearerPattern.ReplaceAllString(s, Marker)
	s = vendorKeyPattern.ReplaceAllString(s, Marker)
	s = headerPattern.ReplaceAllString(s, "${1}"+`"`+Marker+`"`)
	return s
}

// JSON scrubs credential material from a JSON document. Known secret field
// names are replaced at every nesting level, then the remaining text is run
// through String for inline token shapes. Malformed input is treated as
// plain text rather than rejected.
func JSON(raw []byte) []byte {
	if !gjson.ValidBytes(raw) {
		return []byte(String(string(raw)))
	}

	out := raw
	for _, path := range secretPaths(gjson.ParseBytes(raw), "") {
		if replaced, err := sjson.SetBytes(out, path, Marker); err == nil {
			out = replaced
		}
	}

	return []byte(String(string(out)))
}

// secretPaths walks the document and collects sjson paths for secret fields.
func secretPaths(value gjson.Result, prefix string) []string {
	var paths []string

	value.ForEach(func(key, child gjson.Result) bool {
		var path string
		switch {
		case value.IsArray() && prefix == "":
			path = key.String()
		case value.IsArray():
			path = prefix + "." + key.String()
		case prefix == "":
			path = escapeKey(key.String())
		default:
			path = prefix + "." + escapeKey(key.String())
		}

		if value.IsObject() && isSecretField(key.String()) {
			paths = append(paths, path)
			return true
		}
		if child.IsObject() || child.IsArray() {
			paths = append(paths, secretPaths(child, path)...)
		}
		return true
	})

	return paths
}

func isSecretField(name string) bool {
	for _, field := range secretFields {
		if strings.EqualFold(name, field) {
			return true
		}
	}
	return false
}

// escapeKey guards sjson path syntax characters in field names (x-api-key
// is fine, but dots and wildcards are not).
func escapeKey(key string) string {
	replacer := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)
	return replacer.Replace(key)
}
