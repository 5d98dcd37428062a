// Package aijson recovers structured data from LLM output. Model responses
// are treated as hostile input: code fences, prose preambles, and trailing
// commentary are all common, so parsing proceeds in stages and never panics.
package aijson

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// Unmarshal parses LLM output into v. Strategy: strip code fences and prose,
// try a direct parse, then fall back to the first balanced {...} or [...]
// substring. Returns an error only when every stage fails; callers are
// expected to substitute their configured default on error.
func Unmarshal(raw string, v any) error {
	cleaned := StripFences(raw)
	if cleaned != "" {
		if err := json.Unmarshal([]byte(cleaned), v); err == nil {
			return nil
		}
	}
	if extracted := ExtractBalanced(cleaned); extracted != "" {
		if err := json.Unmarshal([]byte(extracted), v); err == nil {
			return nil
		}
	}
	return eris.New("aijson: no parseable JSON in response")
}

// StripFences removes markdown code fences and surrounding prose, keeping
// the fenced body when one exists.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if start := strings.Index(s, "```"); start >= 0 {
		body := s[start+3:]
		// Drop an optional language tag on the fence line.
		if nl := strings.IndexByte(body, '\n'); nl >= 0 {
			first := strings.TrimSpace(body[:nl])
			if first == "json" || first == "JSON" || first == "" {
				body = body[nl+1:]
			}
		}
		if end := strings.Index(body, "```"); end >= 0 {
			body = body[:end]
		}
		return strings.TrimSpace(body)
	}
	return s
}

// ExtractBalanced returns the first balanced {...} or [...] substring,
// respecting string literals and escapes. Returns "" when none exists.
func ExtractBalanced(s string) string {
	start := -1
	var open, close byte
	for i := 0; i < len(s); i++ {
		if s[i] == '{' {
			start, open, close = i, '{', '}'
			break
		}
		if s[i] == '[' {
			start, open, close = i, '[', ']'
			break
		}
	}
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
