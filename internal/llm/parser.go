package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Veraticus/margin-intel/internal/common"
)

// cleanMarkdownWrapper strips a ```json fenced block around a response.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```")
	if nl := strings.IndexByte(content, '\n'); nl >= 0 {
		content = content[nl+1:]
	} else {
		content = strings.TrimPrefix(content, "json")
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}

// extractJSONObject returns the outermost {...} span of content, tolerating
// prose before or after the object.
func extractJSONObject(content string) (string, error) {
	content = cleanMarkdownWrapper(content)
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end <= start {
		return "", fmt.Errorf("%w: no JSON object in response", common.ErrMalformedLLMJSON)
	}
	return content[start : end+1], nil
}

// decodeObject extracts and decodes the JSON object in content into a
// generic value suitable for schema validation.
func decodeObject(content string) (any, []byte, error) {
	raw, err := extractJSONObject(content)
	if err != nil {
		return nil, nil, err
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", common.ErrMalformedLLMJSON, err)
	}
	return v, []byte(raw), nil
}
