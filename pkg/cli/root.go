// Package cli provides the command-line interface for rlib-factory
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rlibfactory/rlibfactory/pkg/config"
	"github.com/rlibfactory/rlibfactory/pkg/logger"
)

// CLI wires the commands to one viper instance and one set of writers
type CLI struct {
	config   *Config
	viper    *viper.Viper
	rootCmd  *cobra.Command
	logger   logger.Logger
	output   io.Writer
	errorOut io.Writer
}

// NewCLI creates a new CLI instance with the given configuration
func NewCLI(cfg *Config) *CLI {
	if cfg == nil {
		cfg = NewConfig()
	}

	c := &CLI{
		config:   cfg,
		viper:    config.New(),
		output:   os.Stdout,
		errorOut: os.Stderr,
	}

	c.setupCommands()
	return c
}

// NewCLIWithOutput creates a CLI with custom output writers (for testing)
func NewCLIWithOutput(cfg *Config, output, errorOut io.Writer) *CLI {
	c := NewCLI(cfg)
	c.output = output
	c.errorOut = errorOut
	c.rootCmd.SetOut(output)
	c.rootCmd.SetErr(errorOut)
	return c
}

// Execute runs the CLI with the given arguments
func (c *CLI) Execute(args []string) error {
	return c.ExecuteContext(context.Background(), args)
}

// ExecuteContext runs the CLI with context support
func (c *CLI) ExecuteContext(ctx context.Context, args []string) error {
	c.rootCmd.SetArgs(args)
	return c.rootCmd.ExecuteContext(ctx)
}

func (c *CLI) setupCommands() {
	c.rootCmd = &cobra.Command{
		Use:   "rlib-factory",
		Short: "Build precompiled rlibs for Solana and Anchor crates",
		Long: `rlib-factory builds rlibs for every crate of the crate index, one isolated
build attempt per crate. Outcomes are remembered across runs, so re-running
only attempts crates without a success, partial or no_rlib record.`,

		PersistentPreRunE: c.initializeConfig,
		SilenceUsage:      true,
		SilenceErrors:     true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	c.setupFlags()

	c.rootCmd.Version = c.config.Version
	c.rootCmd.SetVersionTemplate("rlib-factory v{{.Version}}\n")

	c.rootCmd.AddCommand(c.newBuildCmd())
	c.rootCmd.AddCommand(c.newStatusCmd())
	c.rootCmd.AddCommand(c.newResetCmd())
	c.rootCmd.AddCommand(c.newLogsCmd())
	c.rootCmd.AddCommand(c.newIndexCmd())
	c.rootCmd.AddCommand(c.newWatchCmd())
	c.rootCmd.AddCommand(c.newInitCmd())
	c.rootCmd.AddCommand(c.newVersionCmd())
}

func (c *CLI) setupFlags() {
	flags := c.rootCmd.PersistentFlags()

	flags.StringVar(&c.config.ConfigFile, "config", "", "config file (default: <factory-dir>/rlib-factory.yaml)")
	flags.StringVarP(&c.config.Verbosity, "verbosity", "v", "info", "log level (debug, info, warn, error)")
	flags.StringVar(&c.config.LogFile, "log-file", "", "also append log output to this file")
}

// initializeConfig binds the executing command's flags, then layers the
// config file and the environment underneath them.
func (c *CLI) initializeConfig(cmd *cobra.Command, args []string) error {
	if c.output == os.Stdout {
		c.logger = logger.CreateLogger(c.config.LogFile, c.config.Verbosity)
	} else {
		c.logger = logger.CreateLoggerWithOutput(c.config.Verbosity, c.errorOut)
	}

	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := c.viper.BindPFlag(key, f); err != nil {
				return fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}

	if cmd.Annotations[skipConfigFile] == "true" {
		return nil
	}
	if err := config.ReadFile(c.viper, c.config.ConfigFile); err != nil {
		c.printError(err.Error())
		return &ExitError{Code: 1, Err: err}
	}
	if used := c.viper.ConfigFileUsed(); used != "" {
		c.logger.Debug("Using config file", logger.WithField("file", used))
	}
	return nil
}

// skipConfigFile marks commands that must not read the config file
const skipConfigFile = "skip-config-file"

// flagKeys maps command-line flag names to configuration keys
var flagKeys = map[string]string{
	"solana-version":                   config.KeySolanaVersion,
	"compiler-solana-version":          config.KeyCompilerSolanaVersion,
	"fallback-compiler-solana-version": config.KeyFallbackCompiler,
	"platform-tools-version":           config.KeyPlatformToolsVersion,
	"sbf-arch":                         config.KeySBFArch,
	"cleanup-target":                   config.KeyCleanupTarget,
	"cleanup-solana":                   config.KeyCleanupSolana,
	"extra-args":                       config.KeyExtraArgs,
	"scope":                            config.KeyScope,
	"factory-dir":                      config.KeyFactoryDir,
	"versions-dir":                     config.KeyVersionsDir,
	"state-dir":                        config.KeyStateDir,
	"include":                          config.KeyInclude,
	"exclude":                          config.KeyExclude,
	"max-crates":                       config.KeyMaxCrates,
	"force":                            config.KeyForce,
	"build-command":                    config.KeyBuildCommand,
	"workers":                          config.KeyWorkers,
	"timeout":                          config.KeyTimeout,
	"dry-run":                          config.KeyDryRun,
	"stream":                           config.KeyStream,
	"state-backend":                    config.KeyStateBackend,
	"notify":                           config.KeyNotify,
	"publish":                          config.KeyPublishEnabled,
}

// Helper methods for structured output

func (c *CLI) printSuccess(message string) {
	c.logger.Success(message)
}

func (c *CLI) printError(message string) {
	c.logger.Error(message)
}

func (c *CLI) printInfo(message string) {
	c.logger.Info(message)
}

func (c *CLI) printWarning(message string) {
	c.logger.Warn(message)
}

func (c *CLI) println(a ...interface{}) {
	fmt.Fprintln(c.output, a...)
}

func statusColor(kind string) string {
	switch kind {
	case "ok":
		return color.GreenString(kind)
	case "partial":
		return color.YellowString(kind)
	case "no_rlib":
		return color.MagentaString(kind)
	case "failed":
		return color.RedString(kind)
	}
	return color.WhiteString(kind)
}

// Main runs the CLI against the process arguments and returns the exit status
func Main(version string) int {
	cfg := NewConfig()
	cfg.Version = version
	c := NewCLI(cfg)

	err := c.Execute(os.Args[1:])
	var exitErr *ExitError
	if err != nil && !errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, color.RedString("Error:"), err)
	}
	return ExitCode(err)
}
