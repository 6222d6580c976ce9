// Package summary writes the append-only run summary file.
//
// A summary is a sequence of key=value lines: a header describing the run,
// one line per crate event written as soon as the event happens, and a
// footer with the final counters. A summary file is never rewritten.
package summary

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rlibfactory/rlibfactory/pkg/types"
)

// TimestampLayout is the UTC timestamp used in summary file names
const TimestampLayout = "20060102-150405"

// ErrClosed is returned when recording into a closed summary
var ErrClosed = errors.New("summary is closed")

// EventKind identifies which counter an event increments
type EventKind string

const (
	EventOK                  EventKind = "ok"
	EventPartial             EventKind = "partial"
	EventNoArtifact          EventKind = "no_rlib"
	EventFail                EventKind = "fail"
	EventSkipMissingVersions EventKind = "skip_missing_versions"
	EventSkipDone            EventKind = "skip_done"
)

// Event is one per-crate line of the summary
type Event struct {
	Kind    EventKind
	Crate   types.CrateID
	Built   int
	Total   int
	LogPath string
	// Prior is the stored outcome that caused a skip_done event
	Prior types.OutcomeKind
}

// OutcomeEvent converts a classified outcome into its summary event
func OutcomeEvent(id types.CrateID, outcome types.Outcome, logPath string) Event {
	ev := Event{Crate: id, LogPath: logPath}
	switch outcome.Kind {
	case types.OutcomeOK:
		ev.Kind = EventOK
	case types.OutcomePartial:
		ev.Kind = EventPartial
		ev.Built, ev.Total = outcome.Built, outcome.Total
	case types.OutcomeNoArtifact:
		ev.Kind = EventNoArtifact
	default:
		ev.Kind = EventFail
	}
	return ev
}

// Line renders the event as it appears in the summary
func (e Event) Line() string {
	switch e.Kind {
	case EventOK:
		return fmt.Sprintf("ok=%s", e.Crate)
	case EventPartial:
		return fmt.Sprintf("partial=%s built=%d total=%d log=%s", e.Crate, e.Built, e.Total, e.LogPath)
	case EventNoArtifact:
		return fmt.Sprintf("no_rlib=%s log=%s", e.Crate, e.LogPath)
	case EventFail:
		return fmt.Sprintf("fail=%s log=%s", e.Crate, e.LogPath)
	case EventSkipMissingVersions:
		return fmt.Sprintf("skip_missing_versions=%s", e.Crate)
	case EventSkipDone:
		return fmt.Sprintf("skip_done=%s prior=%s", e.Crate, e.Prior)
	}
	return fmt.Sprintf("%s=%s", e.Kind, e.Crate)
}

// Header describes the run at the top of the summary
type Header struct {
	RunID          string
	StartedAt      time.Time
	SelectedCrates int
	Scope          types.Scope
	Params         types.BuildParameters
	Workers        int
	Force          bool
}

func (h Header) lines() []string {
	return []string{
		"run_id=" + h.RunID,
		"started_at=" + h.StartedAt.UTC().Format(time.RFC3339),
		"selected_crates=" + strconv.Itoa(h.SelectedCrates),
		"scope=" + string(h.Scope),
		"solana_version=" + h.Params.SolanaVersion,
		"compiler_solana_version=" + h.Params.CompilerSolanaVersion,
		"fallback_compiler_solana_version=" + h.Params.FallbackCompilerSolanaVersion,
		"platform_tools_version=" + h.Params.PlatformToolsVersion,
		"workers=" + strconv.Itoa(h.Workers),
		"force=" + strconv.FormatBool(h.Force),
	}
}

// Counts are the run's aggregate counters
type Counts struct {
	OK          int
	Partial     int
	NoArtifact  int
	Fail        int
	Skip        int
	Interrupted int
}

// String renders the aggregate line printed at the end of a run
func (c Counts) String() string {
	return fmt.Sprintf("ok=%d partial=%d no_rlib=%d fail=%d skip=%d", c.OK, c.Partial, c.NoArtifact, c.Fail, c.Skip)
}

// ExitCode is 1 when any crate failed
func (c Counts) ExitCode() int {
	if c.Fail > 0 {
		return 1
	}
	return 0
}

// Reporter appends events to one summary file. It is safe for concurrent use.
type Reporter struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	counts Counts
	clock  func() time.Time
	closed bool
}

// FileName returns the summary file name for a run started at t
func FileName(t time.Time) string {
	return fmt.Sprintf("run-%s.summary", t.UTC().Format(TimestampLayout))
}

// Open creates the summary at path and writes the header. It fails if the
// file already exists.
func Open(path string, header Header) (*Reporter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create summary directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create summary: %w", err)
	}

	r := &Reporter{file: f, path: path, clock: time.Now}
	for _, line := range header.lines() {
		if err := r.writeLine(line); err != nil {
			f.Close()
			return nil, err
		}
	}
	return r, nil
}

// Create opens a new summary in dir named after header.StartedAt. When a
// summary for the same second exists a numeric suffix is added.
func Create(dir string, header Header) (*Reporter, error) {
	base := FileName(header.StartedAt)
	path := filepath.Join(dir, base)
	for i := 1; ; i++ {
		r, err := Open(path, header)
		if err == nil || !errors.Is(err, fs.ErrExist) || i > 99 {
			return r, err
		}
		path = filepath.Join(dir, fmt.Sprintf("%s-%d.summary", base[:len(base)-len(".summary")], i))
	}
}

// Path returns the summary file path
func (r *Reporter) Path() string {
	return r.path
}

// Record counts the event and appends its line immediately
func (r *Reporter) Record(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	switch ev.Kind {
	case EventOK:
		r.counts.OK++
	case EventPartial:
		r.counts.Partial++
	case EventNoArtifact:
		r.counts.NoArtifact++
	case EventFail:
		r.counts.Fail++
	case EventSkipMissingVersions, EventSkipDone:
		r.counts.Skip++
	default:
		return fmt.Errorf("unknown summary event %q", ev.Kind)
	}
	return r.writeLine(ev.Line())
}

// Interrupted counts an attempt abandoned because the run was cancelled.
// No per-crate line is written.
func (r *Reporter) Interrupted(types.CrateID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts.Interrupted++
}

// Counts returns a snapshot of the counters
func (r *Reporter) Counts() Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts
}

// ExitCode is 1 when any crate failed
func (r *Reporter) ExitCode() int {
	return r.Counts().ExitCode()
}

// Close writes the footer and closes the file. Calling it again is a no-op.
func (r *Reporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var footer []string
	if r.counts.Interrupted > 0 {
		footer = append(footer, "interrupted="+strconv.Itoa(r.counts.Interrupted))
	}
	footer = append(footer,
		"finished_at="+r.clock().UTC().Format(time.RFC3339),
		"ok="+strconv.Itoa(r.counts.OK),
		"partial="+strconv.Itoa(r.counts.Partial),
		"no_rlib="+strconv.Itoa(r.counts.NoArtifact),
		"fail="+strconv.Itoa(r.counts.Fail),
		"skip="+strconv.Itoa(r.counts.Skip),
	)

	var firstErr error
	for _, line := range footer {
		if err := r.writeLine(line); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := r.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close summary: %w", err)
	}
	return firstErr
}

func (r *Reporter) writeLine(line string) error {
	if _, err := r.file.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("failed to append to summary: %w", err)
	}
	return nil
}
