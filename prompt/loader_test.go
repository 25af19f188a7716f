package prompt

import (
	"os"
	"path/filepath"
	"testing"
)

func writePromptFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write prompt file: %v", err)
	}
}

func TestNewLoaderReadsYAMLFiles(t *testing.T) {
	dir := t.TempDir()
	writePromptFile(t, dir, "classification.yaml", "system_prompt: You classify payments.\nclassify_user_prompt: \"Classify {payment_text}\"\n")

	loader, err := NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}

	got, err := loader.Get("system_prompt")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "You classify payments." {
		t.Errorf("Unexpected prompt: %q", got)
	}
}

func TestNewLoaderLaterFilesWin(t *testing.T) {
	dir := t.TempDir()
	writePromptFile(t, dir, "a.yaml", "greeting: first\n")
	writePromptFile(t, dir, "b.yaml", "greeting: second\n")

	loader, err := NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}
	got, err := loader.Get("greeting")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "second" {
		t.Errorf("Expected lexically later file to win, got %q", got)
	}
}

func TestNewLoaderRejectsInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writePromptFile(t, dir, "broken.yaml", "key: [unclosed\n")

	if _, err := NewLoader(dir); err == nil {
		t.Fatal("Expected error for invalid YAML")
	}
}

func TestGetUnknownKey(t *testing.T) {
	loader := NewStaticLoader(map[string]string{"known": "value"})
	if _, err := loader.Get("missing"); err == nil {
		t.Fatal("Expected error for unknown key")
	}
}

func TestFormat(t *testing.T) {
	loader := NewStaticLoader(map[string]string{
		"tmpl": "Classify {payment_text} into {valid_categories}",
	})

	got, err := loader.Format("tmpl", map[string]string{
		"payment_text":     "WALMART",
		"valid_categories": "food, entertainment",
	})
	if err != nil {
		t.Fatalf("Format failed: %v", err)
	}
	want := "Classify WALMART into food, entertainment"
	if got != want {
		t.Errorf("Format = %q, want %q", got, want)
	}
}

func TestFormatUnresolvedPlaceholder(t *testing.T) {
	loader := NewStaticLoader(map[string]string{
		"tmpl": "Classify {payment_text} into {valid_categories}",
	})

	_, err := loader.Format("tmpl", map[string]string{"payment_text": "WALMART"})
	if err == nil {
		t.Fatal("Expected error for unresolved placeholder")
	}
}
