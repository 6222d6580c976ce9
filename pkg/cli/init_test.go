package cli_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInit_WritesTemplate(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "rlib-factory.yaml")

	if _, _, err := run(t, "init", "--factory-dir", dir); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Configuration file was not created: %v", err)
	}
	for _, want := range []string{"solana-version: 1.18.16", "platform-tools-version: v1.48", "state-backend: file"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("Template is missing %q:\n%s", want, data)
		}
	}
}

func TestInit_RefusesToOverwrite(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "rlib-factory.yaml")
	writeFile(t, configPath, "workers: 8\n")

	if _, _, err := run(t, "init", "--factory-dir", dir); err == nil {
		t.Fatal("Expected init to refuse an existing file")
	}
	data, _ := os.ReadFile(configPath)
	if string(data) != "workers: 8\n" {
		t.Error("Existing configuration was modified")
	}

	if _, _, err := run(t, "init", "--factory-dir", dir, "--force"); err != nil {
		t.Fatalf("init --force failed: %v", err)
	}
	data, _ = os.ReadFile(configPath)
	if !strings.Contains(string(data), "solana-version") {
		t.Error("Expected template after --force")
	}
}

func TestInit_ExplicitConfigPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "factory.yaml")

	if _, _, err := run(t, "init", "--config", path); err != nil {
		t.Fatalf("init --config failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Expected config at %s: %v", path, err)
	}
}

func TestInit_TemplateDrivesBuild(t *testing.T) {
	f := newFactory(t, "alpha")
	if _, _, err := run(t, "init", "--factory-dir", f.dir); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	// Versions come from the config file only
	out, _, err := run(t, "build", "--factory-dir", f.dir, "--build-command", f.script)
	if err != nil {
		t.Fatalf("build with template config failed: %v", err)
	}
	if !strings.Contains(out, "ok=1 partial=0 no_rlib=0 fail=0 skip=0") {
		t.Errorf("Unexpected aggregate line:\n%s", out)
	}
}

func TestBuild_BadConfigFile(t *testing.T) {
	f := newFactory(t, "alpha")
	bad := filepath.Join(f.dir, "broken.yaml")
	writeFile(t, bad, "workers: [unclosed\n")

	_, _, err := run(t, append(f.buildArgs(), "--config", bad)...)
	if err == nil {
		t.Fatal("Expected error for an unparsable config file")
	}
}
