package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rlibfactory/rlibfactory/internal/engine"
	"github.com/rlibfactory/rlibfactory/pkg/config"
	pcontext "github.com/rlibfactory/rlibfactory/pkg/context"
	"github.com/rlibfactory/rlibfactory/pkg/logger"
	"github.com/rlibfactory/rlibfactory/pkg/notifier"
	"github.com/rlibfactory/rlibfactory/pkg/process"
	"github.com/rlibfactory/rlibfactory/pkg/publish"
	"github.com/rlibfactory/rlibfactory/pkg/summary"
	"github.com/rlibfactory/rlibfactory/pkg/types"
	"github.com/rlibfactory/rlibfactory/pkg/worklist"
)

// publishTimeout bounds publishing after a run, including interrupted ones
const publishTimeout = 10 * time.Minute

func (c *CLI) newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build rlibs for every selected crate",
		Long: `Resolve the worklist from the crate index, skip crates that already have a
terminal outcome, run the build command once for each remaining crate and
write a run summary to the state directory.

The exit status is 1 when any crate failed, the configuration is invalid or
the run was interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := process.NewManager(c.logger)
			ctx := mgr.Start(cmd.Context())
			defer mgr.Stop()

			return c.runBuild(ctx)
		},
	}

	addBuildFlags(cmd)
	return cmd
}

func addBuildFlags(cmd *cobra.Command) {
	flags := cmd.Flags()

	flags.String("solana-version", "", "Solana version the rlibs are built for (required)")
	flags.String("compiler-solana-version", "", "Solana toolchain used to compile (required)")
	flags.String("fallback-compiler-solana-version", "", "toolchain tried when the primary one fails (required)")
	flags.String("platform-tools-version", "", "platform tools version, e.g. v1.48 (required)")
	flags.String("sbf-arch", "", "target architecture: sbfv1, sbfv3, both or auto")
	flags.Bool("cleanup-target", false, "remove the cargo target directory after each crate")
	flags.Bool("cleanup-solana", false, "remove installed toolchains after each crate")
	flags.String("extra-args", "", "extra arguments appended to the build command")

	flags.String("scope", string(types.ScopeSolana), "crate lists to build: solana, anchor or all")
	flags.String("factory-dir", ".", "directory holding the build script")
	flags.String("versions-dir", "", "directory with crate lists and versions files (default: <factory-dir>/versions)")
	flags.String("state-dir", "", "directory for outcome records, logs and summaries (default: <factory-dir>/run-state)")
	flags.String("include", "", "only build crates matching this regex")
	flags.String("exclude", "", "skip crates matching this regex")
	flags.Int("max-crates", 0, "build at most this many crates (0 = no limit)")
	flags.Bool("force", false, "rebuild crates that already have an outcome")
	flags.String("build-command", "", "build command (default: python3 <factory-dir>/get-rlibs-from-crate.py)")
	flags.Int("workers", 1, "number of crates built concurrently")
	flags.Duration("timeout", 0, "per-crate build timeout (0 = none)")
	flags.Bool("dry-run", false, "print the planned commands without running them")
	flags.Bool("stream", false, "stream build output to the console")
	flags.String("state-backend", string(types.StateBackendFile), "outcome store: file or sqlite")
	flags.Bool("notify", false, "send a desktop notification when the run ends")
	flags.Bool("publish", false, "upload the summary and failed crate logs to object storage")
}

// runBuild performs one complete run and maps its result to an exit status
func (c *CLI) runBuild(ctx context.Context) error {
	cfg, err := config.FromViper(c.viper)
	if err != nil {
		return c.configError(err)
	}
	if cfg.Publish.Enabled {
		if err := publish.Validate(cfg.Publish); err != nil {
			return c.configError(err)
		}
	}

	wl, err := worklist.NewBuilder(cfg.VersionsDir).Build(worklist.Options{
		Scope:     cfg.Scope,
		Include:   cfg.Include,
		Exclude:   cfg.Exclude,
		MaxCrates: cfg.MaxCrates,
	})
	if err != nil {
		return c.configError(err)
	}

	factory := engine.NewDependencyFactory(cfg, c.logger, c.output)
	deps, err := factory.CreateDefaults(ctx)
	if err != nil {
		return c.configError(err)
	}
	defer deps.Store.Close()

	runID := pcontext.GenerateRunID()
	startedAt := time.Now()

	var reporter *summary.Reporter
	if !cfg.DryRun {
		reporter, err = summary.Create(cfg.StateDir, summary.Header{
			RunID:          runID,
			StartedAt:      startedAt,
			SelectedCrates: len(wl),
			Scope:          cfg.Scope,
			Params:         cfg.Params,
			Workers:        cfg.Workers,
			Force:          cfg.Force,
		})
		if err != nil {
			c.printError(err.Error())
			return &ExitError{Code: 1, Err: err}
		}
		deps.Recorder = reporter
	}
	deps.PlanOutput = c.output

	eng, err := engine.New(factory.Options(runID), deps)
	if err != nil {
		if reporter != nil {
			reporter.Close()
		}
		return c.configError(err)
	}

	report, runErr := eng.Run(ctx, wl)

	if reporter == nil {
		c.printDryRun(report)
		return nil
	}

	if err := reporter.Close(); err != nil {
		c.printError(fmt.Sprintf("Failed to finish summary: %v", err))
	}
	counts := reporter.Counts()
	c.println(counts.String())
	c.println("summary=" + reporter.Path())

	c.notify(cfg, counts, runErr, time.Since(startedAt))
	if cfg.Publish.Enabled {
		c.publish(ctx, cfg, runID, reporter.Path(), report)
	}

	switch {
	case errors.Is(runErr, context.Canceled):
		c.printWarning(fmt.Sprintf("Run interrupted (%d in flight)", counts.Interrupted))
		return &ExitError{Code: 1, Err: runErr}
	case runErr != nil:
		c.printError(runErr.Error())
		return &ExitError{Code: 1, Err: runErr}
	}

	if code := counts.ExitCode(); code != 0 {
		c.printError(fmt.Sprintf("%d crate(s) failed", counts.Fail))
		return &ExitError{Code: code}
	}
	c.printSuccess("Run finished without failures")
	return nil
}

func (c *CLI) configError(err error) error {
	c.printError(err.Error())
	return &ExitError{Code: 1, Err: err}
}

func (c *CLI) printDryRun(report engine.Report) {
	planned := 0
	for _, r := range report.Results {
		if r.Disposition == engine.DispositionPlanned {
			planned++
		}
	}
	counts := report.Counts()
	c.println(fmt.Sprintf("dry_run planned=%d skip=%d", planned, counts.Skip))
}

func (c *CLI) notify(cfg *types.FactoryConfig, counts summary.Counts, runErr error, elapsed time.Duration) {
	n := notifier.New(notifier.Config{Enabled: cfg.Notify, Beep: cfg.Notify}, c.logger)
	if errors.Is(runErr, context.Canceled) {
		n.NotifyRunInterrupted(counts)
		return
	}
	n.NotifyRunFinished(counts, elapsed)
}

// publish uploads the run artifacts. Failures are reported but never change
// the exit status.
func (c *CLI) publish(ctx context.Context, cfg *types.FactoryConfig, runID, summaryPath string, report engine.Report) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	p, err := publish.New(cfg.Publish, c.logger)
	if err != nil {
		c.printWarning(fmt.Sprintf("Publishing skipped: %v", err))
		return
	}

	logs := make(map[types.CrateID]string)
	for _, r := range report.NeedsAttention() {
		logs[r.Crate] = r.LogPath
	}

	res, err := p.PublishRun(ctx, runID, summaryPath, logs)
	if err != nil {
		c.printWarning(fmt.Sprintf("Publishing failed: %v", err))
		return
	}
	if len(res.Failed) > 0 {
		c.printWarning(fmt.Sprintf("%d object(s) could not be published", len(res.Failed)))
	}
	c.logger.Debug("Published run artifacts", logger.WithField("objects", len(res.Uploaded)))
}
