// Package worklist resolves the ordered, deduplicated set of crates a run
// will process from the crate index files.
package worklist

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rlibfactory/rlibfactory/pkg/types"
)

// Index file names inside the versions directory
const (
	SolanaListFile    = "solana-rust-crates.txt"
	AnchorListFile    = "anchor-crates.txt"
	ExclusionListFile = "missing-crates.txt"
)

// Worklist is a sorted sequence of unique crate identifiers
type Worklist []types.CrateID

// Contains reports whether id is in the worklist
func (w Worklist) Contains(id types.CrateID) bool {
	i := sort.Search(len(w), func(i int) bool { return w[i] >= id })
	return i < len(w) && w[i] == id
}

// Options control how a worklist is resolved
type Options struct {
	Scope     types.Scope
	Include   string
	Exclude   string
	MaxCrates int
}

// Builder loads crate lists from an index directory
type Builder struct {
	indexDir string
	lists    map[types.Scope]string
}

// NewBuilder creates a builder reading the default list files from indexDir
func NewBuilder(indexDir string) *Builder {
	return &Builder{
		indexDir: indexDir,
		lists: map[types.Scope]string{
			types.ScopeSolana: SolanaListFile,
			types.ScopeAnchor: AnchorListFile,
		},
	}
}

// ListPath returns the index file backing a concrete scope
func (b *Builder) ListPath(scope types.Scope) string {
	return filepath.Join(b.indexDir, b.lists[scope])
}

// ExclusionPath returns the known-unbuildable list path
func (b *Builder) ExclusionPath() string {
	return filepath.Join(b.indexDir, ExclusionListFile)
}

// Build resolves the worklist: union of the selected lists, minus the
// exclusion list, deduplicated and sorted, then filtered and capped.
func (b *Builder) Build(opts Options) (Worklist, error) {
	scope, err := types.ParseScope(string(opts.Scope))
	if err != nil {
		return nil, err
	}

	include, err := compileFilter("include", opts.Include)
	if err != nil {
		return nil, err
	}
	exclude, err := compileFilter("exclude", opts.Exclude)
	if err != nil {
		return nil, err
	}

	set := make(map[types.CrateID]struct{})
	for _, s := range scope.Scopes() {
		path := b.ListPath(s)
		ids, err := ReadList(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, types.NewConfigurationError("index",
					fmt.Sprintf("crate list for scope %s not found: %s", s, path))
			}
			return nil, types.WrapConfigurationError("index", err)
		}
		for _, id := range ids {
			set[id] = struct{}{}
		}
	}

	excluded, err := ReadList(b.ExclusionPath())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, types.WrapConfigurationError("index", err)
	}
	for _, id := range excluded {
		delete(set, id)
	}

	list := make(Worklist, 0, len(set))
	for id := range set {
		if include != nil && !include.MatchString(string(id)) {
			continue
		}
		if exclude != nil && exclude.MatchString(string(id)) {
			continue
		}
		list = append(list, id)
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })

	if opts.MaxCrates > 0 && len(list) > opts.MaxCrates {
		list = list[:opts.MaxCrates]
	}

	if len(list) == 0 {
		return nil, types.NewConfigurationError("worklist", "no crates selected after filters")
	}
	return list, nil
}

func compileFilter(field, pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, types.WrapConfigurationError(field, err)
	}
	return re, nil
}

// ReadList reads one crate identifier per line. Blank lines and lines
// starting with # are ignored; order and duplicates are preserved.
func ReadList(path string) ([]types.CrateID, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []types.CrateID
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, types.CrateID(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return out, nil
}

// WriteList writes ids, one per line, replacing path atomically
func WriteList(path string, ids []types.CrateID) error {
	var sb strings.Builder
	for _, id := range ids {
		sb.WriteString(string(id))
		sb.WriteByte('\n')
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("failed to write list: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename list: %w", err)
	}
	return nil
}
