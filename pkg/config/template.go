package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/rlibfactory/rlibfactory/pkg/types"
)

// File mirrors the config file layout. Keys match the command-line flags.
type File struct {
	SolanaVersion                 string   `yaml:"solana-version"`
	CompilerSolanaVersion         string   `yaml:"compiler-solana-version"`
	FallbackCompilerSolanaVersion string   `yaml:"fallback-compiler-solana-version"`
	PlatformToolsVersion          string   `yaml:"platform-tools-version"`
	SBFArch                       string   `yaml:"sbf-arch,omitempty"`
	CleanupTarget                 bool     `yaml:"cleanup-target"`
	CleanupSolana                 bool     `yaml:"cleanup-solana"`
	ExtraArgs                     []string `yaml:"extra-args,omitempty"`

	Scope        string   `yaml:"scope"`
	VersionsDir  string   `yaml:"versions-dir,omitempty"`
	StateDir     string   `yaml:"state-dir,omitempty"`
	BuildCommand []string `yaml:"build-command,omitempty"`
	Workers      int      `yaml:"workers"`
	Timeout      string   `yaml:"timeout"`
	StateBackend string   `yaml:"state-backend"`
	Notify       bool     `yaml:"notify"`

	Classifier types.ClassifierConfig `yaml:"classifier"`
	Publish    types.PublishConfig    `yaml:"publish"`
}

const templateHeader = `# rlib-factory configuration
# Every key can be overridden by a flag of the same name or by an
# RLIB_FACTORY_* environment variable (dashes and dots become underscores).
`

// Template returns the starter configuration written by "init"
func Template() File {
	return File{
		SolanaVersion:                 "1.18.16",
		CompilerSolanaVersion:         "1.18.16",
		FallbackCompilerSolanaVersion: "1.18.16",
		PlatformToolsVersion:          "v1.48",
		SBFArch:                       "auto",
		Scope:                         string(types.ScopeSolana),
		Workers:                       1,
		Timeout:                       "0s",
		StateBackend:                  string(types.StateBackendFile),
		Publish: types.PublishConfig{
			Prefix: "rlib-factory",
			UseSSL: true,
		},
	}
}

// Marshal renders f as commented YAML
func Marshal(f File) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(templateHeader)

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTemplate writes the starter configuration to path. An existing file is
// only replaced when overwrite is set.
func WriteTemplate(path string, overwrite bool) error {
	if _, err := os.Stat(path); err == nil && !overwrite {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	data, err := Marshal(Template())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
