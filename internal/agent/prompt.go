package agent

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrEmptyPrompt reports a system prompt file that exists but holds no
// content.
var ErrEmptyPrompt = errors.New("agent: system prompt file is empty")

// loadSystemPrompt reads the prompt file and trims surrounding
// whitespace. A missing or empty file is an error rather than a silent
// fallback to no prompt.
func loadSystemPrompt(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("agent: read system prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("%w: %s", ErrEmptyPrompt, path)
	}
	return prompt, nil
}
