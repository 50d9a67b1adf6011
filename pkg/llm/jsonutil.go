package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Pre-compiled patterns for JSON extraction from model replies.
var (
	// jsonFencePattern matches a ```json fenced block.
	jsonFencePattern = regexp.MustCompile("(?s)```json\\s*\\n?(.*?)```")
	// anyFencePattern matches any fenced block.
	anyFencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n?(.*?)```")
	// trailingCommaPattern matches trailing commas before ] or }.
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// ExtractJSON pulls a JSON object out of a model reply. It tries, in order:
// a ```json fenced block, any fenced block, then the substring from the
// first '{' to the last '}'. Returns "" when nothing plausible is found.
func ExtractJSON(content string) string {
	if m := jsonFencePattern.FindStringSubmatch(content); len(m) > 1 {
		return cleanJSON(m[1])
	}
	if m := anyFencePattern.FindStringSubmatch(content); len(m) > 1 {
		return cleanJSON(m[1])
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		return cleanJSON(content[start : end+1])
	}
	return ""
}

// ParseJSON extracts and decodes a JSON object from a model reply.
func ParseJSON(content string, out any) error {
	raw := ExtractJSON(content)
	if raw == "" {
		return fmt.Errorf("no JSON object found in reply")
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode reply JSON: %w", err)
	}
	return nil
}

// cleanJSON strips trailing commas, a frequent model artifact.
func cleanJSON(raw string) string {
	return strings.TrimSpace(trailingCommaPattern.ReplaceAllString(raw, "$1"))
}
