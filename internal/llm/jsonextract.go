package llm

import (
	"strings"

	"github.com/tidwall/gjson"
)

// ExtractJSON returns the first balanced, well-formed JSON array or object
// embedded in free-form model output. Candidates that fail to validate are
// skipped and the scan continues after their opening bracket.
func ExtractJSON(text string) (gjson.Result, bool) {
	for start := 0; start < len(text); start++ {
		if text[start] != '[' && text[start] != '{' {
			continue
		}
		end := matchBracket(text, start)
		if end < 0 {
			continue
		}
		candidate := text[start : end+1]
		if gjson.Valid(candidate) {
			return gjson.Parse(candidate), true
		}
	}
	return gjson.Result{}, false
}

// matchBracket finds the index closing the bracket at start, ignoring
// brackets inside string literals. It returns -1 when unbalanced.
func matchBracket(s string, start int) int {
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
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// ParseStringArray extracts the first JSON array from text and returns its
// non-empty string elements. Non-string elements are skipped.
func ParseStringArray(text string) []string {
	result, ok := ExtractJSON(text)
	if !ok {
		return nil
	}
	if result.IsArray() {
		return stringElements(result)
	}

	// An object wrapping the list, e.g. {"questions": [...]}.
	var inner []string
	result.ForEach(func(_, v gjson.Result) bool {
		if v.IsArray() {
			inner = stringElements(v)
			return false
		}
		return true
	})
	return inner
}

func stringElements(arr gjson.Result) []string {
	var out []string
	for _, v := range arr.Array() {
		if v.Type != gjson.String {
			continue
		}
		if s := strings.TrimSpace(v.String()); s != "" {
			out = append(out, s)
		}
	}
	return out
}
