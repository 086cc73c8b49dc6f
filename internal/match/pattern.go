// Package match compiles config-supplied model patterns once at load time.
// Patterns come in three shapes: plain literals, glob strings with '*' and
// '?', and /body/flags regex literals.
package match

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind tags the parsed shape of a pattern.
type Kind int

const (
	Literal Kind = iota
	Glob
	Regex
)

// Pattern is a compiled matcher. Compile once, match many.
type Pattern struct {
	kind    Kind
	literal string
	re      *regexp.Regexp
}

// Compile parses a single pattern string. Regex literals use /body/flags
// syntax where the only supported flag is i (case-insensitive). Globs are
// detected by the presence of '*' or '?'. Everything else is a literal
// compared case-insensitively, matching how providers report model ids.
func Compile(spec string) (Pattern, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Pattern{}, fmt.Errorf("empty pattern")
	}

	if strings.HasPrefix(spec, "/") {
		body, flags, ok := splitRegexLiteral(spec)
		if !ok {
			return Pattern{}, fmt.Errorf("malformed regex literal %q (expected /body/flags)", spec)
		}
		if invalid := strings.Trim(flags, "i"); invalid != "" {
			return Pattern{}, fmt.Errorf("unsupported regex flags %q in %q", invalid, spec)
		}
		expr := body
		if strings.Contains(flags, "i") {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return Pattern{}, fmt.Errorf("compile regex %q: %w", spec, err)
		}
		return Pattern{kind: Regex, re: re}, nil
	}

	if strings.ContainsAny(spec, "*?") {
		re, err := regexp.Compile("(?i)^" + globToRegexp(spec) + "$")
		if err != nil {
			return Pattern{}, fmt.Errorf("compile glob %q: %w", spec, err)
		}
		return Pattern{kind: Glob, re: re}, nil
	}

	return Pattern{kind: Literal, literal: strings.ToLower(spec)}, nil
}

// CompileAll compiles a pattern list, failing on the first invalid entry.
func CompileAll(specs []string) ([]Pattern, error) {
	patterns := make([]Pattern, 0, len(specs))
	for _, spec := range specs {
		p, err := Compile(spec)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, nil
}

// Kind returns the parsed shape of the pattern.
func (p Pattern) Kind() Kind { return p.kind }

// Matches reports whether the value matches the compiled pattern.
func (p Pattern) Matches(value string) bool {
	switch p.kind {
	case Literal:
		return strings.ToLower(value) == p.literal
	case Glob, Regex:
		return p.re != nil && p.re.MatchString(value)
	default:
		return false
	}
}

// Any reports whether any pattern in the list matches the value.
func Any(patterns []Pattern, value string) bool {
	for _, p := range patterns {
		if p.Matches(value) {
			return true
		}
	}
	return false
}

// splitRegexLiteral separates /body/flags, honoring escaped slashes in body.
func splitRegexLiteral(spec string) (body, flags string, ok bool) {
	end := -1
	for i := len(spec) - 1; i > 0; i-- {
		if spec[i] == '/' && spec[i-1] != '\\' {
			end = i
			break
		}
	}
	if end <= 0 {
		return "", "", false
	}
	return spec[1:end], spec[end+1:], true
}

// globToRegexp translates glob metacharacters, quoting everything else.
func globToRegexp(glob string) string {
	var b strings.Builder
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return b.String()
}
