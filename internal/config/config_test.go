package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIsInstance(t *testing.T) {
	dir := t.TempDir()
	if IsInstance(dir) {
		t.Error("empty directory should not be an instance")
	}

	if err := os.WriteFile(MetadataPath(dir), []byte(""), 0644); err != nil {
		t.Fatalf("writing metadata file: %v", err)
	}
	if !IsInstance(dir) {
		t.Error("directory with metadata file should be an instance")
	}
}

func TestEnsureInstanceDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "kb")
	if err := EnsureInstanceDir(dir); err != nil {
		t.Fatalf("EnsureInstanceDir failed: %v", err)
	}

	info, err := os.Stat(PDFPath(dir))
	if err != nil || !info.IsDir() {
		t.Errorf("pdfs directory not created: %v", err)
	}
}

func TestLoadGlobalConfig(t *testing.T) {
	configHome := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configHome)
	ResetGlobalConfigCache()
	t.Cleanup(ResetGlobalConfigCache)

	// Missing file yields an empty config.
	cfg, err := LoadGlobalConfig()
	if err != nil {
		t.Fatalf("LoadGlobalConfig failed: %v", err)
	}
	if cfg.DefaultInstance != "" {
		t.Errorf("expected empty config, got %+v", cfg)
	}

	ResetGlobalConfigCache()
	path := GlobalConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating config dir: %v", err)
	}
	content := "default_instance: /data/kb\nembedding:\n  model: test-model\n  dimensions: 64\n  min_interval_ms: 250\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err = LoadGlobalConfig()
	if err != nil {
		t.Fatalf("LoadGlobalConfig failed: %v", err)
	}
	if cfg.DefaultInstance != "/data/kb" {
		t.Errorf("default_instance: got %q", cfg.DefaultInstance)
	}
	if cfg.Embedding.Model != "test-model" || cfg.Embedding.Dimensions != 64 {
		t.Errorf("embedding config: got %+v", cfg.Embedding)
	}
	if cfg.Embedding.MinInterval().Milliseconds() != 250 {
		t.Errorf("min interval: got %v", cfg.Embedding.MinInterval())
	}
}

func TestAPIKeyResolution(t *testing.T) {
	t.Setenv("PAPERKB_EMBEDDING_API_KEY", "default-key")
	t.Setenv("CUSTOM_KEY", "custom-key")

	c := &EmbeddingConfig{}
	if got := c.APIKey(); got != "default-key" {
		t.Errorf("default env: got %q", got)
	}

	c.APIKeyEnv = "CUSTOM_KEY"
	if got := c.APIKey(); got != "custom-key" {
		t.Errorf("custom env: got %q", got)
	}
}
