package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	codeFenceRegex = regexp.MustCompile("(?s)`{3}(?:json|javascript|js)?\\s*\\n?([\\s\\S]*?)\\n?`{3}")
	objectRegex    = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
)

// decodeJSON pulls the first JSON object out of a model reply and unmarshals it into v.
// Models like to wrap the object in code fences or surround it with prose.
func decodeJSON(text string, v interface{}) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("empty model response")
	}
	if err := json.Unmarshal([]byte(text), v); err == nil {
		return nil
	}
	if m := codeFenceRegex.FindStringSubmatch(text); len(m) > 1 {
		text = strings.TrimSpace(m[1])
		if err := json.Unmarshal([]byte(text), v); err == nil {
			return nil
		}
	}
	obj := objectRegex.FindString(text)
	if obj == "" {
		return fmt.Errorf("no JSON object in model response")
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return fmt.Errorf("failed to decode model response: %w", err)
	}
	return nil
}
