// Package builders runs the external per-crate build command
package builders

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rlibfactory/rlibfactory/pkg/logger"
	"github.com/rlibfactory/rlibfactory/pkg/process"
	"github.com/rlibfactory/rlibfactory/pkg/types"
)

// ScriptName is the build script shipped in the factory directory
const ScriptName = "get-rlibs-from-crate.py"

// ErrMissingVersionsFile is returned when a crate has no versions file.
// The crate is skipped, not failed.
var ErrMissingVersionsFile = errors.New("versions file not found")

// DefaultCommand returns the build command used when none is configured
func DefaultCommand(factoryDir string) []string {
	return []string{"python3", filepath.Join(factoryDir, ScriptName)}
}

// Request describes one build attempt
type Request struct {
	Crate        types.CrateID
	Params       types.BuildParameters
	VersionsFile string
	LogPath      string
}

// Result is what an attempt produced. ExitCode is -1 when the command never
// started or was killed.
type Result struct {
	ExitCode int
	Log      string
	LogPath  string
	Duration time.Duration
	TimedOut bool
}

// RunnerOptions configures a CommandRunner
type RunnerOptions struct {
	// Command is the program and its leading arguments
	Command []string
	WorkDir string
	// Timeout bounds a single attempt; zero means no limit
	Timeout time.Duration
	// Stream receives a live copy of the output when set
	Stream      io.Writer
	GracePeriod time.Duration
	Env         []string
	Logger      logger.Logger
}

// CommandRunner invokes the build command once per crate, synchronously
type CommandRunner struct {
	opts RunnerOptions
	log  logger.Logger
}

// NewCommandRunner creates a runner
func NewCommandRunner(opts RunnerOptions) (*CommandRunner, error) {
	if len(opts.Command) == 0 || strings.TrimSpace(opts.Command[0]) == "" {
		return nil, types.NewConfigurationError("build-command", "command is empty")
	}
	if opts.Timeout < 0 {
		return nil, types.NewConfigurationError("timeout", "must not be negative")
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &CommandRunner{opts: opts, log: log}, nil
}

// Plan returns the argv the runner would execute for req
func (r *CommandRunner) Plan(req Request) []string {
	argv := append([]string(nil), r.opts.Command...)
	p := req.Params
	argv = append(argv,
		"--solana-version", p.SolanaVersion,
		"--compiler-solana-version", p.CompilerSolanaVersion,
		"--fallback-compiler-solana-version", p.FallbackCompilerSolanaVersion,
		"--platform-tools-version", p.PlatformToolsVersion,
		"--crate", string(req.Crate),
		"--versions-file", req.VersionsFile,
	)
	if p.SBFArch != "" {
		argv = append(argv, "--sbf-arch", p.SBFArch)
	}
	if p.CleanupTarget {
		argv = append(argv, "--cleanup-target")
	}
	if p.CleanupSolana {
		argv = append(argv, "--cleanup-solana")
	}
	return append(argv, p.ExtraArgs...)
}

// Run executes the attempt described by req. Build failures are reported
// through Result.ExitCode, not the error. The error is non-nil only when the
// versions file is missing, the log cannot be written, or ctx was cancelled
// while the command ran.
func (r *CommandRunner) Run(ctx context.Context, req Request) (Result, error) {
	result := Result{ExitCode: -1, LogPath: req.LogPath}

	if _, err := os.Stat(req.VersionsFile); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return result, fmt.Errorf("%w: %s", ErrMissingVersionsFile, req.VersionsFile)
		}
		return result, fmt.Errorf("failed to stat versions file: %w", err)
	}

	logFile, err := prepareLogFile(req.LogPath)
	if err != nil {
		return result, err
	}
	defer logFile.Close()

	argv := r.Plan(req)
	if _, err := fmt.Fprintf(logFile, "$ %s\n", ShellJoin(argv)); err != nil {
		return result, fmt.Errorf("failed to write log header: %w", err)
	}

	attemptCtx := ctx
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	var output bytes.Buffer
	writers := []io.Writer{&output, logFile}
	if r.opts.Stream != nil {
		writers = append(writers, r.opts.Stream)
	}
	sink := io.MultiWriter(writers...)

	cmd := exec.CommandContext(attemptCtx, argv[0], argv[1:]...)
	cmd.Dir = r.opts.WorkDir
	if len(r.opts.Env) > 0 {
		cmd.Env = append(os.Environ(), r.opts.Env...)
	}
	cmd.Stdout = sink
	cmd.Stderr = sink
	process.Bind(cmd, r.opts.GracePeriod)

	startTime := time.Now()
	runErr := cmd.Run()
	result.Duration = time.Since(startTime)
	result.Log = output.String()

	if ctx.Err() != nil {
		fmt.Fprintf(logFile, "\n=== interrupted after %s ===\n", result.Duration.Round(time.Millisecond))
		return result, fmt.Errorf("build of %s interrupted: %w", req.Crate, ctx.Err())
	}

	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		msg := fmt.Sprintf("\n=== timed out after %s ===\n", r.opts.Timeout)
		fmt.Fprint(logFile, msg)
		result.Log += msg
		r.log.Warn("Build timed out",
			logger.WithField("crate", req.Crate),
			logger.WithField("timeout", r.opts.Timeout))
		return result, nil
	}

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		result.ExitCode = 0
	case errors.As(runErr, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		msg := fmt.Sprintf("failed to start build command: %v\n", runErr)
		fmt.Fprint(logFile, msg)
		result.Log += msg
		r.log.Error("Build command could not be started", logger.WithError(runErr))
	}

	return result, nil
}

func prepareLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

// ShellJoin renders argv for display, quoting arguments that need it
func ShellJoin(argv []string) string {
	parts := make([]string, len(argv))
	for i, arg := range argv {
		if arg == "" || strings.ContainsAny(arg, " \t\n'\"\\$`*?;&|<>()") {
			parts[i] = "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
		} else {
			parts[i] = arg
		}
	}
	return strings.Join(parts, " ")
}
