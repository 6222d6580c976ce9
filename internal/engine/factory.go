package engine

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/rlibfactory/rlibfactory/pkg/analyzers"
	"github.com/rlibfactory/rlibfactory/pkg/builders"
	"github.com/rlibfactory/rlibfactory/pkg/logger"
	"github.com/rlibfactory/rlibfactory/pkg/state"
	"github.com/rlibfactory/rlibfactory/pkg/types"
)

// LogsDirName is the per-crate log directory inside the state dir
const LogsDirName = "logs"

// DependencyFactory creates the concrete collaborators for a configuration.
// Tests pass their own Deps to New instead.
type DependencyFactory struct {
	config *types.FactoryConfig
	logger logger.Logger
	stream io.Writer
}

// NewDependencyFactory creates a new dependency factory. stream receives
// live build output when the configuration asks for it.
func NewDependencyFactory(config *types.FactoryConfig, log logger.Logger, stream io.Writer) *DependencyFactory {
	if log == nil {
		log = logger.Nop()
	}
	return &DependencyFactory{config: config, logger: log, stream: stream}
}

// LogsDir returns where per-crate logs are written
func (f *DependencyFactory) LogsDir() string {
	return filepath.Join(f.config.StateDir, LogsDirName)
}

// CreateDefaults opens the store and builds the runner and classifier. The
// caller owns the returned store and must close it.
func (f *DependencyFactory) CreateDefaults(ctx context.Context) (Deps, error) {
	classifier, err := analyzers.NewMarkerClassifier(f.config.Classifier)
	if err != nil {
		return Deps{}, err
	}

	runner, err := f.createRunner()
	if err != nil {
		return Deps{}, err
	}

	store, err := f.createStore(ctx)
	if err != nil {
		return Deps{}, err
	}

	return Deps{
		Store:      store,
		Runner:     runner,
		Classifier: classifier,
		Logger:     f.logger,
	}, nil
}

// Options derives the engine options from the configuration
func (f *DependencyFactory) Options(runID string) Options {
	return Options{
		RunID:       runID,
		Params:      f.config.Params,
		VersionsDir: f.config.VersionsDir,
		LogsDir:     f.LogsDir(),
		Workers:     f.config.Workers,
		Force:       f.config.Force,
		DryRun:      f.config.DryRun,
	}
}

func (f *DependencyFactory) createStore(ctx context.Context) (state.Store, error) {
	if f.config.DryRun {
		// A dry run reads existing state but never creates a state directory
		if _, err := os.Stat(f.config.StateDir); err != nil {
			return state.NewMemoryStore(), nil
		}
	}
	return state.Open(ctx, f.config.StateBackend, f.config.StateDir)
}

func (f *DependencyFactory) createRunner() (*builders.CommandRunner, error) {
	command := f.config.BuildCommand
	if len(command) == 0 {
		command = builders.DefaultCommand(f.config.FactoryDir)
	}

	opts := builders.RunnerOptions{
		Command: command,
		WorkDir: f.config.FactoryDir,
		Timeout: f.config.Timeout,
		Logger:  f.logger,
	}
	if f.config.Stream {
		opts.Stream = f.stream
	}
	return builders.NewCommandRunner(opts)
}
