// Package types provides core types and configurations for the rlib factory
package types

import (
	"fmt"
	"strings"
	"time"
)

// CrateID identifies a crate throughout a run. It is the primary key for
// state records, logs and summary lines.
type CrateID string

// String returns the crate name
func (c CrateID) String() string {
	return string(c)
}

// Scope selects which crate index lists feed the worklist
type Scope string

const (
	ScopeAll    Scope = "all"
	ScopeSolana Scope = "solana"
	ScopeAnchor Scope = "anchor"
)

// ParseScope validates a scope value
func ParseScope(value string) (Scope, error) {
	switch s := Scope(strings.TrimSpace(value)); s {
	case ScopeAll, ScopeSolana, ScopeAnchor:
		return s, nil
	default:
		return "", NewConfigurationError("scope",
			fmt.Sprintf("unknown scope %q (expected all, solana or anchor)", value))
	}
}

// Scopes returns the concrete ecosystems a scope expands to, in a stable order
func (s Scope) Scopes() []Scope {
	if s == ScopeAll {
		return []Scope{ScopeSolana, ScopeAnchor}
	}
	return []Scope{s}
}

// OutcomeKind is the classification of one build attempt
type OutcomeKind string

const (
	OutcomeOK         OutcomeKind = "ok"
	OutcomePartial    OutcomeKind = "partial"
	OutcomeNoArtifact OutcomeKind = "no_rlib"
	OutcomeFailed     OutcomeKind = "failed"
)

// IsTerminal reports whether a recorded outcome of this kind suppresses
// future attempts (absent a force override).
func (k OutcomeKind) IsTerminal() bool {
	switch k {
	case OutcomeOK, OutcomePartial, OutcomeNoArtifact:
		return true
	}
	return false
}

// IsSuccessClass reports whether the outcome produced usable artifacts
func (k OutcomeKind) IsSuccessClass() bool {
	return k == OutcomeOK || k == OutcomePartial
}

// Valid reports whether k is one of the known kinds
func (k OutcomeKind) Valid() bool {
	switch k {
	case OutcomeOK, OutcomePartial, OutcomeNoArtifact, OutcomeFailed:
		return true
	}
	return false
}

// Outcome is the classified result of a build attempt. Built and Total are
// only meaningful when the build command reported a version tally.
type Outcome struct {
	Kind  OutcomeKind `json:"status" yaml:"status"`
	Built int         `json:"built" yaml:"built"`
	Total int         `json:"total" yaml:"total"`
}

// String renders the outcome for logs
func (o Outcome) String() string {
	if o.Kind == OutcomePartial {
		return fmt.Sprintf("%s %d/%d", o.Kind, o.Built, o.Total)
	}
	return string(o.Kind)
}

// BuildParameters is the configuration shared by every build attempt of a run.
// It is passed by value and never mutated once the run starts.
type BuildParameters struct {
	SolanaVersion                 string   `json:"solana_version" yaml:"solana-version"`
	CompilerSolanaVersion         string   `json:"compiler_solana_version" yaml:"compiler-solana-version"`
	FallbackCompilerSolanaVersion string   `json:"fallback_compiler_solana_version" yaml:"fallback-compiler-solana-version"`
	PlatformToolsVersion          string   `json:"platform_tools_version" yaml:"platform-tools-version"`
	SBFArch                       string   `json:"sbf_arch,omitempty" yaml:"sbf-arch,omitempty"`
	CleanupTarget                 bool     `json:"cleanup_target,omitempty" yaml:"cleanup-target,omitempty"`
	CleanupSolana                 bool     `json:"cleanup_solana,omitempty" yaml:"cleanup-solana,omitempty"`
	ExtraArgs                     []string `json:"extra_args,omitempty" yaml:"extra-args,omitempty"`
}

// Validate checks that every required version is set
func (p BuildParameters) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"solana-version", p.SolanaVersion},
		{"compiler-solana-version", p.CompilerSolanaVersion},
		{"fallback-compiler-solana-version", p.FallbackCompilerSolanaVersion},
		{"platform-tools-version", p.PlatformToolsVersion},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return NewConfigurationError(r.field, "required parameter is missing")
		}
	}
	switch p.SBFArch {
	case "", "sbfv1", "sbfv3", "both", "auto":
	default:
		return NewConfigurationError("sbf-arch", fmt.Sprintf("unsupported value %q", p.SBFArch))
	}
	return nil
}

// Clone returns a copy that shares no slices with p
func (p BuildParameters) Clone() BuildParameters {
	out := p
	if p.ExtraArgs != nil {
		out.ExtraArgs = append([]string(nil), p.ExtraArgs...)
	}
	return out
}

// StateBackend selects the outcome store implementation
type StateBackend string

const (
	StateBackendFile   StateBackend = "file"
	StateBackendSQLite StateBackend = "sqlite"
)

// PublishConfig configures uploading run artifacts to S3-compatible storage
type PublishConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	AccessKey string `json:"access_key" yaml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key"`
	Region    string `json:"region" yaml:"region"`
	Bucket    string `json:"bucket" yaml:"bucket"`
	Prefix    string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	UseSSL    bool   `json:"use_ssl" yaml:"use_ssl"`
}

// ClassifierConfig overrides the log markers used to classify failures
type ClassifierConfig struct {
	PartialPattern    string `json:"partial_pattern,omitempty" yaml:"partial_pattern,omitempty"`
	NoArtifactPattern string `json:"no_artifact_pattern,omitempty" yaml:"no_artifact_pattern,omitempty"`
}

// FactoryConfig is the fully resolved configuration of one invocation
type FactoryConfig struct {
	Params BuildParameters `json:"params" yaml:"params"`

	Scope       Scope  `json:"scope" yaml:"scope"`
	FactoryDir  string `json:"factory_dir" yaml:"factory-dir"`
	VersionsDir string `json:"versions_dir" yaml:"versions-dir"`
	StateDir    string `json:"state_dir" yaml:"state-dir"`

	Include   string `json:"include,omitempty" yaml:"include,omitempty"`
	Exclude   string `json:"exclude,omitempty" yaml:"exclude,omitempty"`
	MaxCrates int    `json:"max_crates,omitempty" yaml:"max-crates,omitempty"`
	Force     bool   `json:"force,omitempty" yaml:"force,omitempty"`

	BuildCommand []string      `json:"build_command" yaml:"build-command"`
	Workers      int           `json:"workers" yaml:"workers"`
	Timeout      time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	DryRun       bool          `json:"dry_run,omitempty" yaml:"dry-run,omitempty"`
	Stream       bool          `json:"stream,omitempty" yaml:"stream,omitempty"`
	StateBackend StateBackend  `json:"state_backend" yaml:"state-backend"`
	Notify       bool          `json:"notify,omitempty" yaml:"notify,omitempty"`

	Classifier ClassifierConfig `json:"classifier,omitempty" yaml:"classifier,omitempty"`
	Publish    PublishConfig    `json:"publish,omitempty" yaml:"publish,omitempty"`
}
