package serenpair

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ExtractJSON implements the robust JSON extraction contract of §4.4: given
// an arbitrary chat response string, try progressively more aggressive
// repairs until one parses, or return the last error. The steps are applied
// in order and each operates on the output of the previous one; a step that
// makes no change is a no-op, not a failure.
//
// Steps: (a) direct parse; (b) strip a surrounding fenced code block;
// (c) locate the outer [...] or {...} span; (d) remove trailing commas
// before ]/}; (e) escape raw newlines inside string literals; (f) line-by-
// line repair for unterminated strings.
func ExtractJSON(raw string, out any) error {
	candidate := raw

	// (a) direct parse
	if err := json.Unmarshal([]byte(candidate), out); err == nil {
		return nil
	}

	// (b) strip fenced code block
	candidate = stripFence(candidate)
	if err := json.Unmarshal([]byte(candidate), out); err == nil {
		return nil
	}

	// (c) locate outer span
	if span, ok := outerSpan(candidate); ok {
		candidate = span
		if err := json.Unmarshal([]byte(candidate), out); err == nil {
			return nil
		}
	}

	// (d) remove trailing commas
	candidate = removeTrailingCommas(candidate)
	if err := json.Unmarshal([]byte(candidate), out); err == nil {
		return nil
	}

	// (e) escape raw newlines in string literals
	candidate = escapeNewlinesInStrings(candidate)
	if err := json.Unmarshal([]byte(candidate), out); err == nil {
		return nil
	}

	// (f) line-by-line repair of unterminated strings
	candidate = repairUnterminatedStrings(candidate)
	return json.Unmarshal([]byte(candidate), out)
}

var fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

func stripFence(s string) string {
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

// outerSpan locates the outermost [...] or {...} span in s, whichever
// opening bracket appears first.
func outerSpan(s string) (string, bool) {
	firstObj := strings.IndexByte(s, '{')
	firstArr := strings.IndexByte(s, '[')

	open, close := byte('{'), byte('}')
	start := firstObj
	if firstArr != -1 && (firstObj == -1 || firstArr < firstObj) {
		open, close = '[', ']'
		start = firstArr
	}
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// skip
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

var trailingCommaPattern = regexp.MustCompile(`,\s*([\]}])`)

func removeTrailingCommas(s string) string {
	return trailingCommaPattern.ReplaceAllString(s, "$1")
}

// escapeNewlinesInStrings walks s character by character and replaces raw
// newlines found inside string literals with the escaped form, leaving
// structural whitespace untouched.
func escapeNewlinesInStrings(s string) string {
	var b strings.Builder
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			b.WriteByte(c)
			escaped = false
		case c == '\\':
			b.WriteByte(c)
			escaped = true
		case c == '"':
			b.WriteByte(c)
			inString = !inString
		case inString && c == '\n':
			b.WriteString("\\n")
		case inString && c == '\r':
			// drop bare carriage returns, consistent with \n handling above
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// repairUnterminatedStrings is the last-resort repair: scan line by line
// and close any string literal left open at end-of-line by the model
// truncating its output mid-token.
func repairUnterminatedStrings(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		quoteCount := 0
		escaped := false
		for j := 0; j < len(line); j++ {
			c := line[j]
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				quoteCount++
			}
		}
		if quoteCount%2 == 1 {
			lines[i] = line + "\""
		}
	}
	return strings.Join(lines, "\n")
}
