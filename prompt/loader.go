// Package prompt loads named prompt templates from YAML files and performs
// {placeholder} substitution.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// Loader reads every *.yaml file in a directory into a flat key → template
// map. Files are read once at construction; later files win on key clashes
// (lexical order).
type Loader struct {
	prompts map[string]string
}

// NewLoader loads all prompt files under dir.
func NewLoader(dir string) (*Loader, error) {
	entries, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan prompt directory %s: %w", dir, err)
	}
	sort.Strings(entries)

	prompts := make(map[string]string)
	for _, path := range entries {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read prompt file %s: %w", path, err)
		}
		var filePrompts map[string]string
		if err := yaml.Unmarshal(data, &filePrompts); err != nil {
			return nil, fmt.Errorf("failed to parse prompt file %s: %w", path, err)
		}
		for key, tmpl := range filePrompts {
			prompts[key] = tmpl
		}
	}

	return &Loader{prompts: prompts}, nil
}

// NewStaticLoader builds a Loader from an in-memory template map. Used by
// tests and embedded defaults.
func NewStaticLoader(prompts map[string]string) *Loader {
	copied := make(map[string]string, len(prompts))
	for k, v := range prompts {
		copied[k] = v
	}
	return &Loader{prompts: copied}
}

// Get returns the raw template for key.
func (l *Loader) Get(key string) (string, error) {
	tmpl, ok := l.prompts[key]
	if !ok {
		return "", fmt.Errorf("unknown prompt key %q", key)
	}
	return tmpl, nil
}

// Format substitutes vars into the template for key. Placeholders left
// unresolved after substitution are an error so that a renamed template
// variable fails loudly instead of leaking braces into a model prompt.
func (l *Loader) Format(key string, vars map[string]string) (string, error) {
	tmpl, err := l.Get(key)
	if err != nil {
		return "", err
	}

	formatted := tmpl
	for name, value := range vars {
		formatted = strings.ReplaceAll(formatted, "{"+name+"}", value)
	}

	if leftover := placeholderPattern.FindString(formatted); leftover != "" {
		return "", fmt.Errorf("failed to format prompt %q: unresolved placeholder %s", key, leftover)
	}
	return formatted, nil
}
