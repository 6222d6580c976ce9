package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rlibfactory/rlibfactory/pkg/types"
)

const (
	successSuffix = ".success.json"
	failureSuffix = ".failure.json"
	lockStripes   = 64
)

// FileStore persists one marker file per crate: <crate>.success.json for
// ok/partial and <crate>.failure.json for no_rlib/failed. At most one of the
// two exists after any completed write.
//
// Writers hold listMu shared plus the stripe lock of their crate; List holds
// listMu exclusively so it never sees a crate between its two marker updates.
type FileStore struct {
	dir    string
	listMu sync.RWMutex
	locks  [lockStripes]sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a marker store rooted at dir
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the marker directory
func (s *FileStore) Dir() string {
	return s.dir
}

// Get returns the record for id
func (s *FileStore) Get(_ context.Context, id types.CrateID) (Record, bool, error) {
	if err := checkID(id); err != nil {
		return Record{}, false, err
	}
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()
	return s.read(id)
}

// HasTerminalOutcome reports whether id has a terminal record
func (s *FileStore) HasTerminalOutcome(ctx context.Context, id types.CrateID) (bool, error) {
	return hasTerminal(ctx, s, id)
}

// RecordOutcome writes the marker for the record's class and removes the
// marker of the other class.
func (s *FileStore) RecordOutcome(_ context.Context, id types.CrateID, rec Record) error {
	if err := checkID(id); err != nil {
		return err
	}
	if err := rec.Validate(id); err != nil {
		return err
	}
	rec = stamp(id, rec)

	s.listMu.RLock()
	defer s.listMu.RUnlock()
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	keep, drop := s.failurePath(id), s.successPath(id)
	if rec.Outcome.Kind.IsSuccessClass() {
		keep, drop = drop, keep
	}
	if err := writeAtomic(keep, rec); err != nil {
		return err
	}
	if err := removeIfExists(drop); err != nil {
		return fmt.Errorf("failed to remove stale marker: %w", err)
	}
	return nil
}

// ClearFailureMarkers removes the failure marker for id
func (s *FileStore) ClearFailureMarkers(_ context.Context, id types.CrateID) error {
	if err := checkID(id); err != nil {
		return err
	}
	s.listMu.RLock()
	defer s.listMu.RUnlock()
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()
	if err := removeIfExists(s.failurePath(id)); err != nil {
		return fmt.Errorf("failed to remove failure marker: %w", err)
	}
	return nil
}

// List returns every record sorted by crate
func (s *FileStore) List(_ context.Context) ([]Record, error) {
	s.listMu.Lock()
	defer s.listMu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	seen := make(map[types.CrateID]bool)
	var out []Record
	for _, entry := range entries {
		name := entry.Name()
		var id types.CrateID
		switch {
		case strings.HasSuffix(name, successSuffix):
			id = types.CrateID(strings.TrimSuffix(name, successSuffix))
		case strings.HasSuffix(name, failureSuffix):
			id = types.CrateID(strings.TrimSuffix(name, failureSuffix))
		default:
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true

		if checkID(id) != nil {
			continue
		}
		rec, ok, err := s.read(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Crate < out[j].Crate })
	return out, nil
}

// Delete removes both markers for id
func (s *FileStore) Delete(_ context.Context, id types.CrateID) error {
	if err := checkID(id); err != nil {
		return err
	}
	s.listMu.RLock()
	defer s.listMu.RUnlock()
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()
	if err := removeIfExists(s.successPath(id)); err != nil {
		return err
	}
	return removeIfExists(s.failurePath(id))
}

// Close is a no-op; every write is already durable
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) read(id types.CrateID) (Record, bool, error) {
	success, okS, err := readMarker(s.successPath(id))
	if err != nil {
		return Record{}, false, err
	}
	failure, okF, err := readMarker(s.failurePath(id))
	if err != nil {
		return Record{}, false, err
	}

	switch {
	case okS && okF:
		// Interrupted write: the newer marker wins
		if failure.UpdatedAt.After(success.UpdatedAt) {
			return failure, true, nil
		}
		return success, true, nil
	case okS:
		return success, true, nil
	case okF:
		return failure, true, nil
	}
	return Record{}, false, nil
}

func (s *FileStore) lockFor(id types.CrateID) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &s.locks[h.Sum32()%lockStripes]
}

func (s *FileStore) successPath(id types.CrateID) string {
	return filepath.Join(s.dir, string(id)+successSuffix)
}

func (s *FileStore) failurePath(id types.CrateID) string {
	return filepath.Join(s.dir, string(id)+failureSuffix)
}

func checkID(id types.CrateID) error {
	name := string(id)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: unusable crate id %q", ErrInvalidRecord, name)
	}
	return nil
}

func readMarker(path string) (Record, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("failed to read marker: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("failed to parse marker %s: %w", filepath.Base(path), err)
	}
	return rec, true, nil
}

func writeAtomic(path string, rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write marker: %w", err)
	}
	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename marker: %w", err)
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
