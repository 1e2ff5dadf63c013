package clientconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conman.yaml")
	body := "server: console-hub:7890\nescape: \"^\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server != "console-hub:7890" {
		t.Fatalf("Server = %q", cfg.Server)
	}
	if cfg.Escape != "^" {
		t.Fatalf("Escape = %q", cfg.Escape)
	}
}

func TestLoadPartialAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conman.yaml")
	if err := os.WriteFile(path, []byte("server: somewhere:1234\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Escape != "&" {
		t.Fatalf("Escape = %q, want default &", cfg.Escape)
	}
}

func TestLoadMissingExplicitPath(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("explicit missing path should error")
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conman.yaml")
	if err := os.WriteFile(path, []byte("server: [unterminated\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed yaml accepted")
	}
}
