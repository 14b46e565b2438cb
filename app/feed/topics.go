package feed

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadTopics reads and validates the topic rule file.
func LoadTopics(path string) (*Topics, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topics file: %w", err)
	}

	topics, err := ParseTopics(data)
	if err != nil {
		return nil, fmt.Errorf("invalid topics file %s: %w", path, err)
	}

	slog.Debug("Topics loaded", "path", path, "count", len(topics.Rules), "error_channel", topics.ErrorChannel)
	return topics, nil
}

func ParseTopics(data []byte) (*Topics, error) {
	var topics Topics
	if err := yaml.Unmarshal(data, &topics); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	topics.ErrorChannel = strings.TrimSpace(topics.ErrorChannel)
	for i := range topics.Rules {
		rule := &topics.Rules[i]
		rule.Name = strings.TrimSpace(rule.Name)
		rule.Channel = strings.TrimSpace(rule.Channel)
		rule.Include = cleanTokens(rule.Include)
		rule.Exclude = cleanTokens(rule.Exclude)
	}

	if err := validateTopics(&topics); err != nil {
		return nil, err
	}

	return &topics, nil
}

func validateTopics(topics *Topics) error {
	if len(topics.Rules) == 0 {
		return fmt.Errorf("at least one topic is required")
	}

	seen := make(map[string]bool, len(topics.Rules))
	for i, rule := range topics.Rules {
		if rule.Name == "" {
			return fmt.Errorf("topic at index %d: name is required", i)
		}
		if seen[rule.Name] {
			return fmt.Errorf("topic %q is defined more than once", rule.Name)
		}
		seen[rule.Name] = true

		if len(rule.Include) == 0 {
			return fmt.Errorf("topic %q must have at least one include token", rule.Name)
		}
	}

	return nil
}

func cleanTokens(tokens []string) []string {
	cleaned := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if token = strings.TrimSpace(token); token != "" {
			cleaned = append(cleaned, token)
		}
	}
	return cleaned
}
