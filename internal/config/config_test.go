package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORAGE_BUCKET", "")
	t.Setenv("FETCH_TIMEOUT", "")
	t.Setenv("MAX_IMAGE_BYTES", "")
	t.Setenv("MAX_IMAGE_PIXELS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected default addr: %s", cfg.HTTPAddr)
	}
	if cfg.Storage.Bucket != "petri-images" {
		t.Fatalf("unexpected default bucket: %s", cfg.Storage.Bucket)
	}
	if cfg.Fetch.Timeout != 30*time.Second {
		t.Fatalf("unexpected default fetch timeout: %s", cfg.Fetch.Timeout)
	}
	if cfg.Fetch.MaxImagePixels != 100_000_000 {
		t.Fatalf("unexpected default pixel limit: %d", cfg.Fetch.MaxImagePixels)
	}
}

func TestLoadReadsEnvFile(t *testing.T) {
	unsetEnv(t, "STORAGE_BUCKET", "SOURCE_BASE_URL", "FETCH_TIMEOUT")
	path := filepath.Join(t.TempDir(), ".env")
	content := "STORAGE_BUCKET=dishes\nSOURCE_BASE_URL=https://images.example.com\nFETCH_TIMEOUT=5s\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}

	cfg, err := Load(path, filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if cfg.Storage.Bucket != "dishes" {
		t.Fatalf("expected bucket from env file, got %s", cfg.Storage.Bucket)
	}
	if cfg.Fetch.SourceBaseURL != "https://images.example.com" {
		t.Fatalf("unexpected source base url: %s", cfg.Fetch.SourceBaseURL)
	}
	if cfg.Fetch.Timeout != 5*time.Second {
		t.Fatalf("unexpected fetch timeout: %s", cfg.Fetch.Timeout)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"bad duration":    {"FETCH_TIMEOUT": "soon"},
		"bad size":        {"MAX_IMAGE_BYTES": "lots"},
		"negative size":   {"MAX_IMAGE_BYTES": "-1"},
		"zero pixels":     {"MAX_IMAGE_PIXELS": "0"},
		"half credential": {"STORAGE_ACCESS_KEY": "key", "STORAGE_SECRET_KEY": ""},
	}

	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for key, value := range env {
				t.Setenv(key, value)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

// unsetEnv removes keys for the duration of the test so env files can populate them.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}
