package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rlibfactory/rlibfactory/internal/watcher"
	"github.com/rlibfactory/rlibfactory/pkg/config"
	"github.com/rlibfactory/rlibfactory/pkg/logger"
	"github.com/rlibfactory/rlibfactory/pkg/process"
)

func (c *CLI) newWatchCmd() *cobra.Command {
	var settle time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Build, then rebuild whenever the crate index changes",
		Long: `Run a build, then keep watching the versions directory (crate lists and
versions files) and the config file. Every settled batch of changes starts
another build. Crates with a terminal outcome are still skipped, so only new
or reset crates are attempted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := process.NewManager(c.logger)
			ctx := mgr.Start(cmd.Context())
			defer mgr.Stop()

			return c.runWatch(ctx, settle)
		},
	}

	addBuildFlags(cmd)
	cmd.Flags().DurationVar(&settle, "settle", watcher.DefaultSettlingDelay, "quiet period before a change triggers a build")
	return cmd
}

func (c *CLI) runWatch(ctx context.Context, settle time.Duration) error {
	cfg, err := config.FromViper(c.viper)
	if err != nil {
		return c.configError(err)
	}

	w, err := watcher.New(c.logger, settle)
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.AddDir(cfg.VersionsDir); err != nil {
		return c.configError(err)
	}
	configFile := c.viper.ConfigFileUsed()
	if configFile != "" {
		if abs, err := filepath.Abs(configFile); err == nil {
			configFile = abs
		}
		if err := w.AddFile(configFile); err != nil {
			c.printWarning(fmt.Sprintf("Config file changes will not be picked up: %v", err))
		}
	}

	c.buildOnce(ctx, "initial build")
	if ctx.Err() != nil {
		return &ExitError{Code: 1, Err: ctx.Err()}
	}

	c.printInfo(fmt.Sprintf("Watching %s for changes", cfg.VersionsDir))
	err = w.Run(ctx, func(ctx context.Context, changed []string) {
		if configFile != "" && contains(changed, configFile) {
			if err := c.viper.ReadInConfig(); err != nil {
				c.printWarning(fmt.Sprintf("Keeping previous configuration: %v", err))
			}
		}
		c.buildOnce(ctx, fmt.Sprintf("%d change(s): %s", len(changed), summarizePaths(changed)))
	})
	if err != nil {
		return err
	}

	c.printSuccess("Stopped watching")
	return nil
}

// buildOnce runs a build and logs, rather than returns, its failure
func (c *CLI) buildOnce(ctx context.Context, reason string) {
	c.logger.Info("Starting build", logger.WithField("reason", reason))
	if err := c.runBuild(ctx); err != nil {
		c.logger.Debug("Build finished with errors", logger.WithError(err))
	}
}

func contains(paths []string, want string) bool {
	for _, p := range paths {
		if p == want {
			return true
		}
	}
	return false
}

func summarizePaths(paths []string) string {
	const max = 3
	names := make([]string, 0, max)
	for i, p := range paths {
		if i == max {
			names = append(names, fmt.Sprintf("+%d more", len(paths)-max))
			break
		}
		names = append(names, p)
	}
	return strings.Join(names, ", ")
}
