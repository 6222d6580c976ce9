package builders_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rlibfactory/rlibfactory/pkg/builders"
	"github.com/rlibfactory/rlibfactory/pkg/types"
)

var testParams = types.BuildParameters{
	SolanaVersion:                 "2.1.0",
	CompilerSolanaVersion:         "2.1.0",
	FallbackCompilerSolanaVersion: "1.18.26",
	PlatformToolsVersion:          "v1.48",
}

// writeScript creates a shell script standing in for the build command
func writeScript(t *testing.T, dir, body string) []string {
	t.Helper()
	path := filepath.Join(dir, "build.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatalf("Failed to write script: %v", err)
	}
	return []string{"sh", path}
}

func newRequest(t *testing.T, dir string, crate types.CrateID) builders.Request {
	t.Helper()
	versions := filepath.Join(dir, "versions", string(crate)+".txt")
	if err := os.MkdirAll(filepath.Dir(versions), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(versions, []byte("1.0.0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return builders.Request{
		Crate:        crate,
		Params:       testParams,
		VersionsFile: versions,
		LogPath:      filepath.Join(dir, "logs", string(crate)+".log"),
	}
}

func newRunner(t *testing.T, opts builders.RunnerOptions) *builders.CommandRunner {
	t.Helper()
	r, err := builders.NewCommandRunner(opts)
	if err != nil {
		t.Fatalf("Failed to create runner: %v", err)
	}
	return r
}

func TestCommandRunner_Plan(t *testing.T) {
	r := newRunner(t, builders.RunnerOptions{Command: builders.DefaultCommand("/opt/factory")})

	params := testParams
	params.SBFArch = "sbfv1"
	params.CleanupTarget = true
	params.ExtraArgs = []string{"--extract-deps"}

	got := r.Plan(builders.Request{Crate: "spl-token", Params: params, VersionsFile: "/v/spl-token.txt"})
	want := []string{
		"python3", "/opt/factory/get-rlibs-from-crate.py",
		"--solana-version", "2.1.0",
		"--compiler-solana-version", "2.1.0",
		"--fallback-compiler-solana-version", "1.18.26",
		"--platform-tools-version", "v1.48",
		"--crate", "spl-token",
		"--versions-file", "/v/spl-token.txt",
		"--sbf-arch", "sbfv1",
		"--cleanup-target",
		"--extract-deps",
	}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("Plan() =\n%v\nwant\n%v", got, want)
	}
}

func TestCommandRunner_Success(t *testing.T) {
	dir := t.TempDir()
	command := writeScript(t, dir, `echo "building $*"; echo "Done: 2/2 versions produced rlibs"; exit 0`)
	r := newRunner(t, builders.RunnerOptions{Command: command, WorkDir: dir})

	req := newRequest(t, dir, "borsh")
	result, err := r.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("Expected exit code 0, got %d", result.ExitCode)
	}
	if !strings.Contains(result.Log, "--crate borsh") {
		t.Errorf("Expected output to contain crate flag, got %q", result.Log)
	}
	if result.LogPath != req.LogPath {
		t.Errorf("Expected log path %s, got %s", req.LogPath, result.LogPath)
	}

	data, err := os.ReadFile(req.LogPath)
	if err != nil {
		t.Fatalf("Failed to read log: %v", err)
	}
	lines := strings.SplitN(string(data), "\n", 2)
	if !strings.HasPrefix(lines[0], "$ sh ") {
		t.Errorf("Expected command header on first line, got %q", lines[0])
	}
	if !strings.Contains(string(data), "Done: 2/2") {
		t.Errorf("Expected log to contain output, got %q", data)
	}
}

func TestCommandRunner_NonZeroExit(t *testing.T) {
	dir := t.TempDir()
	command := writeScript(t, dir, `echo "Rlib for borsh:1.0.0 not found" >&2; exit 3`)
	r := newRunner(t, builders.RunnerOptions{Command: command})

	result, err := r.Run(context.Background(), newRequest(t, dir, "borsh"))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("Expected exit code 3, got %d", result.ExitCode)
	}
	if !strings.Contains(result.Log, "Rlib for borsh") {
		t.Errorf("Expected stderr to be captured, got %q", result.Log)
	}
}

func TestCommandRunner_MissingVersionsFile(t *testing.T) {
	dir := t.TempDir()
	r := newRunner(t, builders.RunnerOptions{Command: writeScript(t, dir, "exit 0")})

	req := builders.Request{
		Crate:        "ghost",
		Params:       testParams,
		VersionsFile: filepath.Join(dir, "versions", "ghost.txt"),
		LogPath:      filepath.Join(dir, "logs", "ghost.log"),
	}
	_, err := r.Run(context.Background(), req)
	if !errors.Is(err, builders.ErrMissingVersionsFile) {
		t.Fatalf("Expected ErrMissingVersionsFile, got %v", err)
	}
	if _, err := os.Stat(req.LogPath); !os.IsNotExist(err) {
		t.Error("No log should be written for a skipped crate")
	}
}

func TestCommandRunner_CommandNotFound(t *testing.T) {
	dir := t.TempDir()
	r := newRunner(t, builders.RunnerOptions{Command: []string{filepath.Join(dir, "does-not-exist")}})

	result, err := r.Run(context.Background(), newRequest(t, dir, "borsh"))
	if err != nil {
		t.Fatalf("Start failures are build failures, got error %v", err)
	}
	if result.ExitCode != -1 {
		t.Errorf("Expected exit code -1, got %d", result.ExitCode)
	}
	if !strings.Contains(result.Log, "failed to start") {
		t.Errorf("Expected start error in log, got %q", result.Log)
	}
}

func TestCommandRunner_Timeout(t *testing.T) {
	dir := t.TempDir()
	command := writeScript(t, dir, "sleep 10")
	r := newRunner(t, builders.RunnerOptions{
		Command:     command,
		Timeout:     200 * time.Millisecond,
		GracePeriod: 100 * time.Millisecond,
	})

	start := time.Now()
	result, err := r.Run(context.Background(), newRequest(t, dir, "slow"))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !result.TimedOut {
		t.Error("Expected attempt to time out")
	}
	if result.ExitCode == 0 {
		t.Error("A timed out attempt must not report success")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Timed out command was not killed promptly (%s)", elapsed)
	}
}

func TestCommandRunner_Cancelled(t *testing.T) {
	dir := t.TempDir()
	r := newRunner(t, builders.RunnerOptions{
		Command:     writeScript(t, dir, "sleep 10"),
		GracePeriod: 100 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err := r.Run(ctx, newRequest(t, dir, "slow"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}

func TestCommandRunner_StreamAndTruncate(t *testing.T) {
	dir := t.TempDir()
	var stream bytes.Buffer
	command := writeScript(t, dir, `echo "attempt $RLIB_ATTEMPT"`)
	req := newRequest(t, dir, "borsh")

	first := newRunner(t, builders.RunnerOptions{Command: command, Env: []string{"RLIB_ATTEMPT=one"}})
	if _, err := first.Run(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	second := newRunner(t, builders.RunnerOptions{Command: command, Stream: &stream, Env: []string{"RLIB_ATTEMPT=two"}})
	if _, err := second.Run(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(req.LogPath)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "attempt one") {
		t.Error("Log should be truncated before each attempt")
	}
	if !strings.Contains(string(data), "attempt two") {
		t.Errorf("Expected latest output in log, got %q", data)
	}
	if !strings.Contains(stream.String(), "attempt two") {
		t.Errorf("Expected output to be streamed, got %q", stream.String())
	}
}

func TestNewCommandRunner_Validation(t *testing.T) {
	if _, err := builders.NewCommandRunner(builders.RunnerOptions{}); !errors.Is(err, types.ErrConfiguration) {
		t.Errorf("Expected configuration error for empty command, got %v", err)
	}
	if _, err := builders.NewCommandRunner(builders.RunnerOptions{Command: []string{"true"}, Timeout: -time.Second}); !errors.Is(err, types.ErrConfiguration) {
		t.Errorf("Expected configuration error for negative timeout, got %v", err)
	}
}

func TestShellJoin(t *testing.T) {
	got := builders.ShellJoin([]string{"python3", "a b.py", "--crate", "it's", ""})
	want := `python3 'a b.py' --crate 'it'\''s' ''`
	if got != want {
		t.Errorf("ShellJoin() = %s, want %s", got, want)
	}
}
