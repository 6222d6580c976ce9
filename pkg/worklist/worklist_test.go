package worklist_test

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/rlibfactory/rlibfactory/pkg/types"
	"github.com/rlibfactory/rlibfactory/pkg/worklist"
)

func writeIndex(t *testing.T, dir, name string, lines ...string) {
	t.Helper()
	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

func ids(names ...string) worklist.Worklist {
	out := make(worklist.Worklist, len(names))
	for i, n := range names {
		out[i] = types.CrateID(n)
	}
	return out
}

func newIndexDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeIndex(t, dir, worklist.SolanaListFile,
		"solana-program", "spl-token", "borsh", "spl-token", "  solana-msg  ", "", "# comment")
	writeIndex(t, dir, worklist.AnchorListFile,
		"anchor-lang", "anchor-spl", "borsh")
	return dir
}

func TestBuild_DedupAndSort(t *testing.T) {
	dir := newIndexDir(t)
	b := worklist.NewBuilder(dir)

	got, err := b.Build(worklist.Options{Scope: types.ScopeAll})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := ids("anchor-lang", "anchor-spl", "borsh", "solana-msg", "solana-program", "spl-token")
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestBuild_SingleScope(t *testing.T) {
	dir := newIndexDir(t)
	b := worklist.NewBuilder(dir)

	got, err := b.Build(worklist.Options{Scope: types.ScopeAnchor})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := ids("anchor-lang", "anchor-spl", "borsh")
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestBuild_ExclusionList(t *testing.T) {
	dir := newIndexDir(t)
	writeIndex(t, dir, worklist.ExclusionListFile, "borsh", "anchor-spl", "not-listed")
	b := worklist.NewBuilder(dir)

	got, err := b.Build(worklist.Options{Scope: types.ScopeAll})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, excluded := range []types.CrateID{"borsh", "anchor-spl"} {
		if got.Contains(excluded) {
			t.Errorf("excluded crate %s present in worklist %v", excluded, got)
		}
	}
	if len(got) != 4 {
		t.Errorf("expected 4 crates, got %d (%v)", len(got), got)
	}
}

func TestBuild_IncludeBeforeExclude(t *testing.T) {
	dir := newIndexDir(t)
	b := worklist.NewBuilder(dir)

	got, err := b.Build(worklist.Options{
		Scope:   types.ScopeAll,
		Include: "^(spl|solana)-",
		Exclude: "msg$",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := ids("solana-program", "spl-token")
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestBuild_MaxCrates(t *testing.T) {
	dir := newIndexDir(t)
	b := worklist.NewBuilder(dir)

	got, err := b.Build(worklist.Options{Scope: types.ScopeAll, MaxCrates: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := ids("anchor-lang", "anchor-spl")
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestBuild_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) string
		opts  worklist.Options
	}{
		{
			name:  "bad scope",
			setup: newIndexDir,
			opts:  worklist.Options{Scope: "solana-all"},
		},
		{
			name: "missing list file",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeIndex(t, dir, worklist.SolanaListFile, "borsh")
				return dir
			},
			opts: worklist.Options{Scope: types.ScopeAll},
		},
		{
			name:  "empty after filters",
			setup: newIndexDir,
			opts:  worklist.Options{Scope: types.ScopeAll, Include: "^does-not-exist$"},
		},
		{
			name: "everything excluded",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeIndex(t, dir, worklist.AnchorListFile, "anchor-lang")
				writeIndex(t, dir, worklist.ExclusionListFile, "anchor-lang")
				return dir
			},
			opts: worklist.Options{Scope: types.ScopeAnchor},
		},
		{
			name:  "invalid include regex",
			setup: newIndexDir,
			opts:  worklist.Options{Scope: types.ScopeAll, Include: "("},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := worklist.NewBuilder(tt.setup(t))
			_, err := b.Build(tt.opts)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, types.ErrConfiguration) {
				t.Errorf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestWriteListRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "list.txt")
	in := []types.CrateID{"a", "b"}
	if err := worklist.WriteList(path, in); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	out, err := worklist.ReadList(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("expected %v, got %v", in, out)
	}
}
