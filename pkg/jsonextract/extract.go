// Package jsonextract pulls a JSON object out of noisy model output.
//
// Planning oracles are asked for a single JSON object but routinely wrap it
// in prose, markdown fences, or both. All of that tolerance lives behind
// Extract so callers only ever see a parseable span or an error.
package jsonextract

import (
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when no JSON-shaped span can be located in the text.
var ErrNoJSON = errors.New("no JSON object found in text")

var fencedBlockRE = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// Extract returns the most plausible JSON object span within text.
// It prefers a fenced code block; failing that it scans for the first
// balanced {...} span. The returned span is trimmed but not parsed.
func Extract(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", ErrNoJSON
	}

	if m := fencedBlockRE.FindStringSubmatch(trimmed); len(m) > 1 {
		candidate := strings.TrimSpace(m[1])
		if candidate != "" {
			// The fence may still carry prose around the object.
			if span, ok := balancedSpan(candidate); ok {
				return span, nil
			}
		}
	}

	if span, ok := balancedSpan(trimmed); ok {
		return span, nil
	}

	return "", ErrNoJSON
}

// balancedSpan finds the first balanced top-level {...} span, tracking
// string literals and escapes so braces inside strings do not count.
func balancedSpan(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}
	return "", false
}
