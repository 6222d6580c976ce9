package worklist

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/rlibfactory/rlibfactory/pkg/types"
)

type cargoManifest struct {
	Workspace struct {
		Dependencies map[string]interface{} `toml:"dependencies"`
	} `toml:"workspace"`
}

// ImportCargoWorkspace lists the [workspace.dependencies] of a Cargo manifest
// whose names start with prefix, sorted and unique.
func ImportCargoWorkspace(manifestPath, prefix string) ([]types.CrateID, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseCargoWorkspace(data, prefix)
}

// ParseCargoWorkspace is ImportCargoWorkspace on manifest bytes
func ParseCargoWorkspace(data []byte, prefix string) ([]types.CrateID, error) {
	var manifest cargoManifest
	if err := toml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	ids := make([]types.CrateID, 0, len(manifest.Workspace.Dependencies))
	for name := range manifest.Workspace.Dependencies {
		if strings.HasPrefix(name, prefix) {
			ids = append(ids, types.CrateID(name))
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if len(ids) == 0 {
		return nil, fmt.Errorf("no workspace dependencies with prefix %q", prefix)
	}
	return ids, nil
}
