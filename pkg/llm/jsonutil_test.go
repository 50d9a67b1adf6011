package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONFencedBlock(t *testing.T) {
	content := "Here is the result:\n```json\n{\"name\": \"demo\"}\n```\nDone."
	assert.Equal(t, `{"name": "demo"}`, ExtractJSON(content))
}

func TestExtractJSONGenericFence(t *testing.T) {
	content := "```\n{\"a\": 1}\n```"
	assert.Equal(t, `{"a": 1}`, ExtractJSON(content))
}

func TestExtractJSONPrefersJSONFence(t *testing.T) {
	content := "```js\nnot it\n```\n```json\n{\"a\": 1}\n```"
	assert.Equal(t, `{"a": 1}`, ExtractJSON(content))
}

func TestExtractJSONBraceSubstring(t *testing.T) {
	content := `The answer is {"a": {"b": 2}} as requested.`
	assert.Equal(t, `{"a": {"b": 2}}`, ExtractJSON(content))
}

func TestExtractJSONNothingFound(t *testing.T) {
	assert.Equal(t, "", ExtractJSON("no object here"))
}

func TestParseJSONCleansTrailingCommas(t *testing.T) {
	var out struct {
		Features []string `json:"features"`
	}
	content := "```json\n{\"features\": [\"a\", \"b\",],}\n```"
	require.NoError(t, ParseJSON(content, &out))
	assert.Equal(t, []string{"a", "b"}, out.Features)
}

func TestParseJSONFailsOnGarbage(t *testing.T) {
	var out map[string]any
	assert.Error(t, ParseJSON("nothing here", &out))
	assert.Error(t, ParseJSON("{broken", &out))
}
