// Package config resolves the run configuration from flags, environment
// variables and an optional config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/rlibfactory/rlibfactory/pkg/types"
)

const (
	// EnvPrefix is prepended to every environment variable, e.g.
	// RLIB_FACTORY_SOLANA_VERSION or RLIB_FACTORY_PUBLISH_BUCKET
	EnvPrefix = "RLIB_FACTORY"
	// FileName is the config file looked up in the factory directory
	FileName = "rlib-factory"
)

// Keys shared by flags, environment variables and the config file
const (
	KeySolanaVersion         = "solana-version"
	KeyCompilerSolanaVersion = "compiler-solana-version"
	KeyFallbackCompiler      = "fallback-compiler-solana-version"
	KeyPlatformToolsVersion  = "platform-tools-version"
	KeySBFArch               = "sbf-arch"
	KeyCleanupTarget         = "cleanup-target"
	KeyCleanupSolana         = "cleanup-solana"
	KeyExtraArgs             = "extra-args"

	KeyScope        = "scope"
	KeyFactoryDir   = "factory-dir"
	KeyVersionsDir  = "versions-dir"
	KeyStateDir     = "state-dir"
	KeyInclude      = "include"
	KeyExclude      = "exclude"
	KeyMaxCrates    = "max-crates"
	KeyForce        = "force"
	KeyBuildCommand = "build-command"
	KeyWorkers      = "workers"
	KeyTimeout      = "timeout"
	KeyDryRun       = "dry-run"
	KeyStream       = "stream"
	KeyStateBackend = "state-backend"
	KeyNotify       = "notify"

	KeyPartialPattern    = "classifier.partial_pattern"
	KeyNoArtifactPattern = "classifier.no_artifact_pattern"

	KeyPublishEnabled   = "publish.enabled"
	KeyPublishEndpoint  = "publish.endpoint"
	KeyPublishAccessKey = "publish.access_key"
	KeyPublishSecretKey = "publish.secret_key"
	KeyPublishRegion    = "publish.region"
	KeyPublishBucket    = "publish.bucket"
	KeyPublishPrefix    = "publish.prefix"
	KeyPublishUseSSL    = "publish.use_ssl"
)

// Default directory names under the factory directory
const (
	DefaultVersionsDir = "versions"
	DefaultStateDir    = "run-state"
)

// New returns a viper instance with defaults and environment binding set up
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers the default value of every optional setting
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyScope, string(types.ScopeSolana))
	v.SetDefault(KeyFactoryDir, ".")
	v.SetDefault(KeyWorkers, 1)
	v.SetDefault(KeyMaxCrates, 0)
	v.SetDefault(KeyStateBackend, string(types.StateBackendFile))
	v.SetDefault(KeyTimeout, "0s")
	v.SetDefault(KeyPublishPrefix, "rlib-factory")
	v.SetDefault(KeyPublishUseSSL, true)
}

// ReadFile loads path, or FileName.{yaml,yml,toml,json} from the factory
// directory when path is empty. A missing default file is not an error.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return types.WrapConfigurationError("config", err)
		}
		return nil
	}

	v.SetConfigName(FileName)
	v.AddConfigPath(v.GetString(KeyFactoryDir))
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return types.WrapConfigurationError("config", err)
	}
	return nil
}

// FromViper resolves and validates the run configuration
func FromViper(v *viper.Viper) (*types.FactoryConfig, error) {
	scope, err := types.ParseScope(v.GetString(KeyScope))
	if err != nil {
		return nil, err
	}

	factoryDir, err := absPath(KeyFactoryDir, v.GetString(KeyFactoryDir))
	if err != nil {
		return nil, err
	}
	versionsDir, err := resolveDir(KeyVersionsDir, v.GetString(KeyVersionsDir), factoryDir, DefaultVersionsDir)
	if err != nil {
		return nil, err
	}
	stateDir, err := resolveDir(KeyStateDir, v.GetString(KeyStateDir), factoryDir, DefaultStateDir)
	if err != nil {
		return nil, err
	}

	cfg := &types.FactoryConfig{
		Params: types.BuildParameters{
			SolanaVersion:                 strings.TrimSpace(v.GetString(KeySolanaVersion)),
			CompilerSolanaVersion:         strings.TrimSpace(v.GetString(KeyCompilerSolanaVersion)),
			FallbackCompilerSolanaVersion: strings.TrimSpace(v.GetString(KeyFallbackCompiler)),
			PlatformToolsVersion:          strings.TrimSpace(v.GetString(KeyPlatformToolsVersion)),
			SBFArch:                       strings.TrimSpace(v.GetString(KeySBFArch)),
			CleanupTarget:                 v.GetBool(KeyCleanupTarget),
			CleanupSolana:                 v.GetBool(KeyCleanupSolana),
			ExtraArgs:                     v.GetStringSlice(KeyExtraArgs),
		},
		Scope:        scope,
		FactoryDir:   factoryDir,
		VersionsDir:  versionsDir,
		StateDir:     stateDir,
		Include:      v.GetString(KeyInclude),
		Exclude:      v.GetString(KeyExclude),
		MaxCrates:    v.GetInt(KeyMaxCrates),
		Force:        v.GetBool(KeyForce),
		BuildCommand: v.GetStringSlice(KeyBuildCommand),
		Workers:      v.GetInt(KeyWorkers),
		Timeout:      v.GetDuration(KeyTimeout),
		DryRun:       v.GetBool(KeyDryRun),
		Stream:       v.GetBool(KeyStream),
		StateBackend: types.StateBackend(v.GetString(KeyStateBackend)),
		Notify:       v.GetBool(KeyNotify),
		Classifier: types.ClassifierConfig{
			PartialPattern:    v.GetString(KeyPartialPattern),
			NoArtifactPattern: v.GetString(KeyNoArtifactPattern),
		},
		Publish: types.PublishConfig{
			Enabled:   v.GetBool(KeyPublishEnabled),
			Endpoint:  v.GetString(KeyPublishEndpoint),
			AccessKey: v.GetString(KeyPublishAccessKey),
			SecretKey: v.GetString(KeyPublishSecretKey),
			Region:    v.GetString(KeyPublishRegion),
			Bucket:    v.GetString(KeyPublishBucket),
			Prefix:    v.GetString(KeyPublishPrefix),
			UseSSL:    v.GetBool(KeyPublishUseSSL),
		},
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that do not depend on the filesystem
func Validate(cfg *types.FactoryConfig) error {
	if err := cfg.Params.Validate(); err != nil {
		return err
	}
	if cfg.Workers < 1 {
		return types.NewConfigurationError(KeyWorkers, fmt.Sprintf("must be at least 1, got %d", cfg.Workers))
	}
	if cfg.MaxCrates < 0 {
		return types.NewConfigurationError(KeyMaxCrates, fmt.Sprintf("must not be negative, got %d", cfg.MaxCrates))
	}
	if cfg.Timeout < 0 {
		return types.NewConfigurationError(KeyTimeout, "must not be negative")
	}
	switch cfg.StateBackend {
	case types.StateBackendFile, types.StateBackendSQLite:
	default:
		return types.NewConfigurationError(KeyStateBackend,
			fmt.Sprintf("unknown backend %q (expected file or sqlite)", cfg.StateBackend))
	}
	return nil
}

// StateDirOnly resolves just the state directory and backend, for commands
// that inspect state without building.
func StateDirOnly(v *viper.Viper) (string, types.StateBackend, error) {
	factoryDir, err := absPath(KeyFactoryDir, v.GetString(KeyFactoryDir))
	if err != nil {
		return "", "", err
	}
	stateDir, err := resolveDir(KeyStateDir, v.GetString(KeyStateDir), factoryDir, DefaultStateDir)
	if err != nil {
		return "", "", err
	}
	return stateDir, types.StateBackend(v.GetString(KeyStateBackend)), nil
}

func resolveDir(field, value, factoryDir, fallback string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return filepath.Join(factoryDir, fallback), nil
	}
	return absPath(field, value)
}

func absPath(field, value string) (string, error) {
	if strings.HasPrefix(value, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", types.WrapConfigurationError(field, err)
		}
		value = filepath.Join(home, value[2:])
	}
	abs, err := filepath.Abs(value)
	if err != nil {
		return "", types.WrapConfigurationError(field, err)
	}
	return abs, nil
}
