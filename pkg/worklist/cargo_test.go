package worklist_test

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/rlibfactory/rlibfactory/pkg/types"
	"github.com/rlibfactory/rlibfactory/pkg/worklist"
)

const workspaceManifest = `
[workspace]
members = ["sdk"]

[workspace.dependencies]
solana-program = { path = "sdk/program", version = "=2.1.0" }
solana-pubkey = "2.1.0"
borsh = "1.5.1"
solana-account-info = { version = "2.1.0" }

[profile.release]
lto = true
`

func TestParseCargoWorkspace(t *testing.T) {
	got, err := worklist.ParseCargoWorkspace([]byte(workspaceManifest), "solana-")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []types.CrateID{"solana-account-info", "solana-program", "solana-pubkey"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestParseCargoWorkspace_NoMatches(t *testing.T) {
	if _, err := worklist.ParseCargoWorkspace([]byte(workspaceManifest), "anchor-"); err == nil {
		t.Error("expected error when no dependency matches the prefix")
	}
}

func TestParseCargoWorkspace_Invalid(t *testing.T) {
	if _, err := worklist.ParseCargoWorkspace([]byte("[workspace"), ""); err == nil {
		t.Error("expected parse error")
	}
}

func TestImportCargoWorkspace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Cargo.toml")
	if err := os.WriteFile(path, []byte(workspaceManifest), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := worklist.ImportCargoWorkspace(path, "borsh")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != "borsh" {
		t.Errorf("unexpected result %v", got)
	}
}
