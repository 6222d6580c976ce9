package summary_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rlibfactory/rlibfactory/pkg/summary"
	"github.com/rlibfactory/rlibfactory/pkg/types"
)

var testHeader = summary.Header{
	RunID:          "run_abc",
	StartedAt:      time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
	SelectedCrates: 3,
	Scope:          types.ScopeSolana,
	Params: types.BuildParameters{
		SolanaVersion:                 "2.1.0",
		CompilerSolanaVersion:         "2.1.0",
		FallbackCompilerSolanaVersion: "1.18.26",
		PlatformToolsVersion:          "v1.48",
	},
	Workers: 1,
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read summary: %v", err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestReporter_WritesHeaderEventsAndFooter(t *testing.T) {
	path := filepath.Join(t.TempDir(), summary.FileName(testHeader.StartedAt))
	r, err := summary.Open(path, testHeader)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	events := []summary.Event{
		summary.OutcomeEvent("a", types.Outcome{Kind: types.OutcomeOK}, "/logs/a.log"),
		summary.OutcomeEvent("b", types.Outcome{Kind: types.OutcomePartial, Built: 3, Total: 5}, "/logs/b.log"),
		summary.OutcomeEvent("c", types.Outcome{Kind: types.OutcomeFailed}, "/logs/c.log"),
		{Kind: summary.EventSkipMissingVersions, Crate: "d"},
		{Kind: summary.EventSkipDone, Crate: "e", Prior: types.OutcomeNoArtifact},
	}
	for _, ev := range events {
		if err := r.Record(ev); err != nil {
			t.Fatalf("Record() error: %v", err)
		}
	}

	// Lines are visible before Close
	lines := readLines(t, path)
	if got := lines[len(lines)-1]; got != "skip_done=e prior=no_rlib" {
		t.Errorf("Expected last event to be flushed, got %q", got)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	lines = readLines(t, path)
	want := []string{
		"run_id=run_abc",
		"started_at=2026-03-04T05:06:07Z",
		"selected_crates=3",
		"scope=solana",
		"solana_version=2.1.0",
		"compiler_solana_version=2.1.0",
		"fallback_compiler_solana_version=1.18.26",
		"platform_tools_version=v1.48",
		"workers=1",
		"force=false",
		"ok=a",
		"partial=b built=3 total=5 log=/logs/b.log",
		"fail=c log=/logs/c.log",
		"skip_missing_versions=d",
		"skip_done=e prior=no_rlib",
	}
	for i, w := range want {
		if lines[i] != w {
			t.Errorf("line %d = %q, want %q", i, lines[i], w)
		}
	}

	footer := lines[len(want):]
	if !strings.HasPrefix(footer[0], "finished_at=") {
		t.Errorf("Expected finished_at after events, got %q", footer[0])
	}
	wantCounts := []string{"ok=1", "partial=1", "no_rlib=0", "fail=1", "skip=2"}
	if strings.Join(footer[1:], ",") != strings.Join(wantCounts, ",") {
		t.Errorf("Footer counts = %v, want %v", footer[1:], wantCounts)
	}

	if r.ExitCode() != 1 {
		t.Errorf("Expected exit code 1 with a failure, got %d", r.ExitCode())
	}
}

func TestReporter_RefusesToRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.summary")
	r, err := summary.Open(path, testHeader)
	if err != nil {
		t.Fatal(err)
	}
	r.Close()

	if _, err := summary.Open(path, testHeader); err == nil {
		t.Fatal("Expected Open to fail for an existing summary")
	}
}

func TestCreate_AddsSuffixOnCollision(t *testing.T) {
	dir := t.TempDir()
	first, err := summary.Create(dir, testHeader)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()
	second, err := summary.Create(dir, testHeader)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	if first.Path() == second.Path() {
		t.Fatal("Expected distinct summary paths")
	}
	if filepath.Base(first.Path()) != "run-20260304-050607.summary" {
		t.Errorf("Unexpected summary name %s", filepath.Base(first.Path()))
	}
	if filepath.Base(second.Path()) != "run-20260304-050607-1.summary" {
		t.Errorf("Unexpected suffixed name %s", filepath.Base(second.Path()))
	}
}

func TestReporter_InterruptedFooter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.summary")
	r, err := summary.Open(path, testHeader)
	if err != nil {
		t.Fatal(err)
	}
	r.Interrupted("slow")
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("Second Close() should be a no-op, got %v", err)
	}

	lines := readLines(t, path)
	found := false
	for _, line := range lines {
		if line == "interrupted=1" {
			found = true
		}
		if strings.HasPrefix(line, "slow") || strings.Contains(line, "=slow") {
			t.Errorf("Interrupted crate must not get an outcome line: %q", line)
		}
	}
	if !found {
		t.Error("Expected interrupted=1 in footer")
	}
	if r.ExitCode() != 0 {
		t.Errorf("Interrupted attempts do not count as failures, got exit %d", r.ExitCode())
	}
	if err := r.Record(summary.Event{Kind: summary.EventOK, Crate: "late"}); !errors.Is(err, summary.ErrClosed) {
		t.Errorf("Expected ErrClosed after Close, got %v", err)
	}
}

func TestReporter_ConcurrentRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.summary")
	r, err := summary.Open(path, testHeader)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			kind := types.OutcomeOK
			if i%5 == 0 {
				kind = types.OutcomeNoArtifact
			}
			r.Record(summary.OutcomeEvent(types.CrateID("crate"), types.Outcome{Kind: kind}, "/l"))
		}(i)
	}
	wg.Wait()
	r.Close()

	c := r.Counts()
	if c.OK != 40 || c.NoArtifact != 10 {
		t.Errorf("Unexpected counts %+v", c)
	}
	if c.String() != "ok=40 partial=0 no_rlib=10 fail=0 skip=0" {
		t.Errorf("Unexpected aggregate line %q", c.String())
	}

	events := 0
	for _, line := range readLines(t, path) {
		if line == "ok=crate" || line == "no_rlib=crate log=/l" {
			events++
		}
	}
	if events != 50 {
		t.Errorf("Expected 50 whole event lines, got %d", events)
	}
}
