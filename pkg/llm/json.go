package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// thinkTagPattern matches <think>...</think> tags that may appear at the start of LLM responses.
var thinkTagPattern = regexp.MustCompile(`(?s)^[\s]*<think>.*?</think>[\s]*`)

// tagPatterns caches compiled per-tag extraction patterns.
var tagPatterns = map[string]*regexp.Regexp{}

func tagPattern(tag string) *regexp.Regexp {
	if p, ok := tagPatterns[tag]; ok {
		return p
	}
	p := regexp.MustCompile(`(?s)<` + regexp.QuoteMeta(tag) + `>(.*?)</` + regexp.QuoteMeta(tag) + `>`)
	tagPatterns[tag] = p
	return p
}

// ExtractTagBlock returns the trimmed content of the first <tag>...</tag>
// block in the response. The second return is false when the tag is absent.
func ExtractTagBlock(response, tag string) (string, bool) {
	matches := tagPattern(tag).FindStringSubmatch(response)
	if len(matches) < 2 {
		return "", false
	}
	return strings.TrimSpace(matches[1]), true
}

// StripTagBlocks removes every <tag>...</tag> block for each given tag and
// collapses the leftover blank runs, so conversational prose can be shown to
// the user without structured payloads embedded in it.
func StripTagBlocks(response string, tags ...string) string {
	out := response
	for _, tag := range tags {
		out = tagPattern(tag).ReplaceAllString(out, "")
	}
	out = regexp.MustCompile(`\n{3,}`).ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// ExtractJSON extracts JSON content from an LLM response that may contain
// <think> tags, markdown code blocks, or other formatting.
func ExtractJSON(response string) (string, error) {
	cleaned := thinkTagPattern.ReplaceAllString(response, "")

	objStart := strings.IndexByte(cleaned, '{')
	arrStart := strings.IndexByte(cleaned, '[')

	// Try whichever comes first (or the one that exists)
	if objStart >= 0 && (arrStart < 0 || objStart < arrStart) {
		if jsonStr, ok := extractBalancedJSON(cleaned, '{', '}'); ok {
			if json.Valid([]byte(jsonStr)) {
				return jsonStr, nil
			}
		}
	}

	if arrStart >= 0 {
		if jsonStr, ok := extractBalancedJSON(cleaned, '[', ']'); ok {
			if json.Valid([]byte(jsonStr)) {
				return jsonStr, nil
			}
		}
	}

	// Last resort: the entire cleaned response may be valid JSON
	trimmed := strings.TrimSpace(cleaned)
	if json.Valid([]byte(trimmed)) {
		return trimmed, nil
	}

	return "", fmt.Errorf("no valid JSON found in response")
}

// FindJSONObjectWithKey scans the text for balanced JSON objects and returns
// the first valid one containing the given top-level key. Used as the
// fallback when a model forgets the delimiter tags around its payload.
func FindJSONObjectWithKey(s, key string) (string, bool) {
	needle := `"` + key + `"`
	offset := 0
	for {
		idx := strings.IndexByte(s[offset:], '{')
		if idx < 0 {
			return "", false
		}
		start := offset + idx
		candidate, ok := extractBalancedJSON(s[start:], '{', '}')
		if ok && json.Valid([]byte(candidate)) && strings.Contains(candidate, needle) {
			// Confirm the key is top-level, not buried in a nested object
			var probe map[string]json.RawMessage
			if err := json.Unmarshal([]byte(candidate), &probe); err == nil {
				if _, present := probe[key]; present {
					return candidate, true
				}
			}
		}
		offset = start + 1
		if offset >= len(s) {
			return "", false
		}
	}
}

// extractBalancedJSON finds the first balanced JSON structure starting with openChar.
// It handles nested structures by counting bracket depth and skips bracket
// characters inside string literals.
func extractBalancedJSON(s string, openChar, closeChar byte) (string, bool) {
	start := strings.IndexByte(s, openChar)
	if start == -1 {
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

		if c == '\\' && inString {
			escaped = true
			continue
		}

		if c == '"' {
			inString = !inString
			continue
		}

		if inString {
			continue
		}

		if c == openChar {
			depth++
		} else if c == closeChar {
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}

	return "", false
}

// ParseJSONResponse extracts JSON from a response and unmarshals it into the target.
func ParseJSONResponse[T any](response string) (T, error) {
	var result T

	jsonStr, err := ExtractJSON(response)
	if err != nil {
		return result, err
	}

	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return result, fmt.Errorf("unmarshal JSON: %w", err)
	}

	return result, nil
}
