package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rlibfactory/rlibfactory/pkg/analyzers"
	"github.com/rlibfactory/rlibfactory/pkg/builders"
	pcontext "github.com/rlibfactory/rlibfactory/pkg/context"
	"github.com/rlibfactory/rlibfactory/pkg/logger"
	"github.com/rlibfactory/rlibfactory/pkg/state"
	"github.com/rlibfactory/rlibfactory/pkg/summary"
	"github.com/rlibfactory/rlibfactory/pkg/types"
	"github.com/rlibfactory/rlibfactory/pkg/worklist"
)

// Disposition is where a crate ended up in the per-crate state machine
type Disposition string

const (
	// DispositionNotStarted means the run was cancelled before the crate was scheduled
	DispositionNotStarted             Disposition = ""
	DispositionSkippedMissingVersions Disposition = "skipped_missing_versions"
	DispositionSkippedAlreadyDone     Disposition = "skipped_already_done"
	DispositionAttempted              Disposition = "attempted"
	DispositionInterrupted            Disposition = "interrupted"
	DispositionPlanned                Disposition = "planned"
)

// CrateResult is what happened to one crate during a run
type CrateResult struct {
	Crate       types.CrateID
	Disposition Disposition
	// Outcome is set when Disposition is attempted
	Outcome types.Outcome
	// Prior is the stored outcome behind a skipped_already_done disposition
	Prior    types.OutcomeKind
	LogPath  string
	Duration time.Duration
	Command  []string
	Err      error
}

// Report is the result of Engine.Run
type Report struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []CrateResult
}

// Counts aggregates the results the same way the summary does
func (r Report) Counts() summary.Counts {
	var c summary.Counts
	for _, res := range r.Results {
		switch res.Disposition {
		case DispositionSkippedAlreadyDone, DispositionSkippedMissingVersions:
			c.Skip++
		case DispositionInterrupted:
			c.Interrupted++
		case DispositionAttempted:
			switch res.Outcome.Kind {
			case types.OutcomeOK:
				c.OK++
			case types.OutcomePartial:
				c.Partial++
			case types.OutcomeNoArtifact:
				c.NoArtifact++
			default:
				c.Fail++
			}
		}
	}
	return c
}

// NeedsAttention returns the attempted crates that did not end ok
func (r Report) NeedsAttention() []CrateResult {
	var out []CrateResult
	for _, res := range r.Results {
		if res.Disposition == DispositionAttempted && res.Outcome.Kind != types.OutcomeOK {
			out = append(out, res)
		}
	}
	return out
}

// Options are the per-run engine settings
type Options struct {
	RunID       string
	Params      types.BuildParameters
	VersionsDir string
	LogsDir     string
	Workers     int
	Force       bool
	DryRun      bool
}

// Deps are the engine's collaborators
type Deps struct {
	Store      state.Store
	Runner     Runner
	Classifier analyzers.OutcomeClassifier
	// Recorder may be nil for dry runs
	Recorder Recorder
	Logger   logger.Logger
	// PlanOutput receives the planned commands of a dry run
	PlanOutput io.Writer
}

// Engine runs a worklist
type Engine struct {
	opts Options
	deps Deps
	log  logger.Logger
}

// New validates the dependencies and creates an engine
func New(opts Options, deps Deps) (*Engine, error) {
	if deps.Store == nil {
		return nil, errors.New("engine: store dependency is required")
	}
	if deps.Runner == nil {
		return nil, errors.New("engine: runner dependency is required")
	}
	if deps.Classifier == nil {
		deps.Classifier = analyzers.DefaultClassifier()
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.PlanOutput == nil {
		deps.PlanOutput = io.Discard
	}
	if opts.Workers <= 0 || opts.DryRun {
		opts.Workers = 1
	}
	if opts.RunID == "" {
		opts.RunID = pcontext.GenerateRunID()
	}
	if opts.VersionsDir == "" {
		return nil, types.NewConfigurationError("versions-dir", "must be set")
	}
	if opts.LogsDir == "" {
		return nil, types.NewConfigurationError("state-dir", "logs directory must be set")
	}
	opts.Params = opts.Params.Clone()

	return &Engine{opts: opts, deps: deps, log: deps.Logger}, nil
}

// RunID returns the id attached to this run
func (e *Engine) RunID() string {
	return e.opts.RunID
}

// Run processes every crate of wl. Per-crate failures never abort the run.
// When ctx is cancelled no further crates are scheduled, in-flight attempts
// are terminated and ctx.Err() is returned with the partial report.
func (e *Engine) Run(ctx context.Context, wl worklist.Worklist) (Report, error) {
	ctx = pcontext.WithRunID(ctx, e.opts.RunID)
	ctx = pcontext.WithOperation(ctx, "build")
	ctx = pcontext.EnrichContext(ctx)

	report := Report{
		RunID:     e.opts.RunID,
		StartedAt: time.Now().UTC(),
		Results:   make([]CrateResult, len(wl)),
	}
	for i, id := range wl {
		report.Results[i].Crate = id
	}

	mode := "build"
	if e.opts.DryRun {
		mode = "dry-run"
	}
	logger.WithContext(ctx, e.log).Info(fmt.Sprintf("Selected %d crates", len(wl)),
		logger.WithField("mode", mode),
		logger.WithField("workers", e.opts.Workers),
		logger.WithField("force", e.opts.Force))

	group := NewSafeGroup(e.log, e.opts.Workers)

	for i := range wl {
		if ctx.Err() != nil {
			break
		}
		i := i
		group.Go(string(wl[i]), func() error {
			if ctx.Err() != nil {
				return nil
			}
			defer func() {
				if r := recover(); r != nil {
					// Record the crash as a failed attempt, then let the group report it
					report.Results[i] = e.failWithoutAttempt(CrateResult{
						Crate:   wl[i],
						LogPath: filepath.Join(e.opts.LogsDir, string(wl[i])+".log"),
					}, fmt.Errorf("build worker panicked: %v", r))
					panic(r)
				}
			}()
			report.Results[i] = e.processCrate(ctx, i, len(wl), wl[i])
			return nil
		})
	}

	waitErr := group.Wait()
	report.FinishedAt = time.Now().UTC()

	if err := ctx.Err(); err != nil {
		c := report.Counts()
		e.log.Warn("Run interrupted",
			logger.WithField("interrupted", c.Interrupted),
			logger.WithField("not_started", countNotStarted(report)))
		return report, err
	}
	if waitErr != nil {
		return report, fmt.Errorf("build worker failed: %w", waitErr)
	}
	return report, nil
}

func (e *Engine) processCrate(ctx context.Context, index, total int, id types.CrateID) CrateResult {
	ctx = pcontext.WithCrate(ctx, string(id))
	log := logger.WithContext(ctx, e.log)
	progress := fmt.Sprintf("[%d/%d]", index+1, total)

	result := CrateResult{
		Crate:   id,
		LogPath: filepath.Join(e.opts.LogsDir, string(id)+".log"),
	}

	if !e.opts.Force {
		rec, found, err := e.deps.Store.Get(ctx, id)
		if err != nil {
			log.Error(progress+" failed to read stored outcome", logger.WithError(err))
			return e.failWithoutAttempt(result, err)
		}
		if found && rec.Outcome.Kind.IsTerminal() {
			result.Disposition = DispositionSkippedAlreadyDone
			result.Prior = rec.Outcome.Kind
			log.Info(fmt.Sprintf("%s skip %s: already %s", progress, id, rec.Outcome.Kind))
			e.record(log, summary.Event{Kind: summary.EventSkipDone, Crate: id, Prior: rec.Outcome.Kind})
			return result
		}
	}

	req := builders.Request{
		Crate:        id,
		Params:       e.opts.Params,
		VersionsFile: filepath.Join(e.opts.VersionsDir, string(id)+".txt"),
		LogPath:      result.LogPath,
	}
	result.Command = e.deps.Runner.Plan(req)

	if e.opts.DryRun {
		return e.plan(log, progress, req, result)
	}

	log.Info(fmt.Sprintf("%s build %s", progress, id))
	res, err := e.deps.Runner.Run(ctx, req)
	result.Duration = res.Duration

	switch {
	case errors.Is(err, builders.ErrMissingVersionsFile):
		result.Disposition = DispositionSkippedMissingVersions
		log.Warn(fmt.Sprintf("%s skip %s: no versions file", progress, id),
			logger.WithField("path", req.VersionsFile))
		e.record(log, summary.Event{Kind: summary.EventSkipMissingVersions, Crate: id})
		return result
	case ctx.Err() != nil:
		result.Disposition = DispositionInterrupted
		result.Err = ctx.Err()
		log.Warn(fmt.Sprintf("%s interrupted %s", progress, id))
		if e.deps.Recorder != nil {
			e.deps.Recorder.Interrupted(id)
		}
		return result
	}

	result.Disposition = DispositionAttempted
	outcome := types.Outcome{Kind: types.OutcomeFailed}
	switch {
	case err != nil:
		result.Err = err
		log.Error(progress+" attempt could not run", logger.WithError(err))
	case res.TimedOut:
		log.Warn(progress + " attempt timed out")
	default:
		outcome = e.deps.Classifier.Classify(res.ExitCode, res.Log)
	}

	if err := e.persist(ctx, id, outcome, result.LogPath); err != nil {
		log.Error(progress+" failed to record outcome", logger.WithError(err))
		result.Err = err
		outcome = types.Outcome{Kind: types.OutcomeFailed}
	}
	result.Outcome = outcome

	e.record(log, summary.OutcomeEvent(id, outcome, result.LogPath))
	e.logOutcome(log, progress, result, res.ExitCode)
	return result
}

// persist applies the state transition for a classified attempt: success
// class outcomes clear failure markers first, failure class outcomes only
// overwrite.
func (e *Engine) persist(ctx context.Context, id types.CrateID, outcome types.Outcome, logPath string) error {
	if outcome.Kind.IsSuccessClass() {
		if err := e.deps.Store.ClearFailureMarkers(ctx, id); err != nil {
			return err
		}
	}
	return e.deps.Store.RecordOutcome(ctx, id, state.Record{
		Crate:   id,
		Outcome: outcome,
		LogPath: logPath,
		RunID:   e.opts.RunID,
	})
}

func (e *Engine) failWithoutAttempt(result CrateResult, err error) CrateResult {
	result.Disposition = DispositionAttempted
	result.Outcome = types.Outcome{Kind: types.OutcomeFailed}
	result.Err = err
	e.record(e.log, summary.OutcomeEvent(result.Crate, result.Outcome, result.LogPath))
	return result
}

func (e *Engine) plan(log logger.Logger, progress string, req builders.Request, result CrateResult) CrateResult {
	if !fileExists(req.VersionsFile) {
		result.Disposition = DispositionSkippedMissingVersions
		log.Warn(fmt.Sprintf("%s skip %s: no versions file", progress, req.Crate))
		return result
	}
	result.Disposition = DispositionPlanned
	fmt.Fprintf(e.deps.PlanOutput, "%s %s\n", progress, builders.ShellJoin(result.Command))
	return result
}

func (e *Engine) record(log logger.Logger, ev summary.Event) {
	if e.deps.Recorder == nil {
		return
	}
	if err := e.deps.Recorder.Record(ev); err != nil {
		log.Error("Failed to append to run summary", logger.WithError(err))
	}
}

func (e *Engine) logOutcome(log logger.Logger, progress string, result CrateResult, exitCode int) {
	duration := logger.WithField("duration", result.Duration.Round(time.Millisecond))
	switch result.Outcome.Kind {
	case types.OutcomeOK:
		log.Success(fmt.Sprintf("%s ok %s", progress, result.Crate), duration)
	case types.OutcomePartial:
		log.Warn(fmt.Sprintf("%s partial %s: %d/%d", progress, result.Crate, result.Outcome.Built, result.Outcome.Total),
			logger.WithField("log", result.LogPath), duration)
	case types.OutcomeNoArtifact:
		log.Warn(fmt.Sprintf("%s no_rlib %s", progress, result.Crate),
			logger.WithField("log", result.LogPath), duration)
	default:
		log.Error(fmt.Sprintf("%s failed %s", progress, result.Crate),
			logger.WithField("exit_code", exitCode),
			logger.WithField("log", result.LogPath), duration)
	}
}

func countNotStarted(r Report) int {
	n := 0
	for _, res := range r.Results {
		if res.Disposition == DispositionNotStarted {
			n++
		}
	}
	return n
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
