package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2/log"
)

// ErrNoJSONFound is returned when no valid JSON object/array is found in the input
var ErrNoJSONFound = errors.New("no valid JSON object or array found in response")

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(.+?)\\s*```")

// ExtractJSON pulls a JSON document out of an LLM reply that may wrap it in
// markdown fences or surround it with prose.
func ExtractJSON(response string) (string, error) {
	if strings.TrimSpace(response) == "" {
		return "", ErrNoJSONFound
	}

	cleaned := extractFromMarkdown(response)
	if json.Valid([]byte(cleaned)) {
		return cleaned, nil
	}

	if candidate := extractJSONByBrackets(cleaned); candidate != "" && json.Valid([]byte(candidate)) {
		return candidate, nil
	}

	if candidate := aggressiveExtract(response); candidate != "" {
		return candidate, nil
	}

	log.Debugw("no JSON found in model reply", "length", len(response))
	return "", fmt.Errorf("%w: response length=%d", ErrNoJSONFound, len(response))
}

// ExtractJSONTo extracts JSON from response and unmarshals it into the target
func ExtractJSONTo(response string, target interface{}) error {
	jsonStr, err := ExtractJSON(response)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(jsonStr), target)
}

// extractFromMarkdown removes markdown code block formatting
func extractFromMarkdown(s string) string {
	s = strings.TrimSpace(s)
	if m := fencedJSON.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return s
}

// extractJSONByBrackets returns the first balanced object or array in s.
func extractJSONByBrackets(s string) string {
	start := strings.IndexAny(s, "{[")
	if start == -1 {
		return ""
	}
	openChar, closeChar := byte('{'), byte('}')
	if s[start] == '[' {
		openChar, closeChar = '[', ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == openChar:
			depth++
		case c == closeChar:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// aggressiveExtract tries the widest array, then the widest object.
func aggressiveExtract(s string) string {
	for _, pair := range [][2]string{{"[", "]"}, {"{", "}"}} {
		first := strings.Index(s, pair[0])
		last := strings.LastIndex(s, pair[1])
		if first != -1 && last > first {
			candidate := s[first : last+1]
			if json.Valid([]byte(candidate)) {
				return candidate
			}
		}
	}
	return ""
}
