// Package state provides durable per-crate outcome records that survive
// across runs. Records are keyed by crate name only, never by run.
package state

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rlibfactory/rlibfactory/pkg/types"
)

// ErrInvalidRecord is returned when a record cannot be stored
var ErrInvalidRecord = errors.New("invalid outcome record")

// Record is the persisted outcome of the latest attempt for one crate
type Record struct {
	Crate     types.CrateID `json:"crate"`
	Outcome   types.Outcome `json:"outcome"`
	LogPath   string        `json:"log,omitempty"`
	RunID     string        `json:"run_id,omitempty"`
	UpdatedAt time.Time     `json:"last_run"`
}

// Validate checks the record can be stored under id
func (r Record) Validate(id types.CrateID) error {
	if id == "" {
		return fmt.Errorf("%w: empty crate id", ErrInvalidRecord)
	}
	if r.Crate != "" && r.Crate != id {
		return fmt.Errorf("%w: record for %s stored under %s", ErrInvalidRecord, r.Crate, id)
	}
	if !r.Outcome.Kind.Valid() {
		return fmt.Errorf("%w: unknown outcome %q", ErrInvalidRecord, r.Outcome.Kind)
	}
	return nil
}

// Store is the key-value contract between the engine and durable state:
// CrateID -> Record. Implementations must allow concurrent calls for
// different ids.
type Store interface {
	// Get returns the record for id and whether one exists
	Get(ctx context.Context, id types.CrateID) (Record, bool, error)
	// HasTerminalOutcome reports whether id has an ok, partial or no_rlib record
	HasTerminalOutcome(ctx context.Context, id types.CrateID) (bool, error)
	// RecordOutcome overwrites the record for id
	RecordOutcome(ctx context.Context, id types.CrateID, rec Record) error
	// ClearFailureMarkers drops a failed or no_rlib record for id
	ClearFailureMarkers(ctx context.Context, id types.CrateID) error
	// List returns every record sorted by crate
	List(ctx context.Context) ([]Record, error)
	// Delete removes any record for id
	Delete(ctx context.Context, id types.CrateID) error
	Close() error
}

// Open creates the store selected by backend under stateDir
func Open(ctx context.Context, backend types.StateBackend, stateDir string) (Store, error) {
	switch backend {
	case "", types.StateBackendFile:
		return NewFileStore(filepath.Join(stateDir, "markers"))
	case types.StateBackendSQLite:
		return OpenSQLiteStore(ctx, filepath.Join(stateDir, "state.db"))
	default:
		return nil, types.NewConfigurationError("state-backend",
			fmt.Sprintf("unknown backend %q (expected file or sqlite)", backend))
	}
}

func hasTerminal(ctx context.Context, s Store, id types.CrateID) (bool, error) {
	rec, ok, err := s.Get(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	return rec.Outcome.Kind.IsTerminal(), nil
}

func stamp(id types.CrateID, rec Record) Record {
	rec.Crate = id
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	return rec
}
