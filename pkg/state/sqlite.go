package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/rlibfactory/rlibfactory/pkg/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS outcomes (
	crate      TEXT PRIMARY KEY NOT NULL,
	status     TEXT NOT NULL CHECK (status IN ('ok', 'partial', 'no_rlib', 'failed')),
	built      INTEGER NOT NULL DEFAULT 0,
	total      INTEGER NOT NULL DEFAULT 0,
	log        TEXT NOT NULL DEFAULT '',
	run_id     TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL
);
`

const upsertOutcome = `
INSERT INTO outcomes (crate, status, built, total, log, run_id, updated_at)
VALUES (:crate, :status, :built, :total, :log, :run_id, :updated_at)
ON CONFLICT (crate) DO UPDATE SET
	status = excluded.status,
	built = excluded.built,
	total = excluded.total,
	log = excluded.log,
	run_id = excluded.run_id,
	updated_at = excluded.updated_at;`

const selectColumns = `SELECT crate, status, built, total, log, run_id, updated_at FROM outcomes`

// SQLiteStore keeps records in an embedded SQLite database, one row per crate
type SQLiteStore struct {
	pool *sqlitex.Pool
	path string
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLiteStore opens (creating if needed) the database at path
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: 4,
		PrepareConn: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteTransient(conn, "PRAGMA busy_timeout = 5000;", nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	s := &SQLiteStore{pool: pool, path: path}
	if err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteScript(conn, sqliteSchema, nil)
	}); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize state schema: %w", err)
	}
	return s, nil
}

// Path returns the database file path
func (s *SQLiteStore) Path() string {
	return s.path
}

// Get returns the record for id
func (s *SQLiteStore) Get(ctx context.Context, id types.CrateID) (Record, bool, error) {
	var (
		rec   Record
		found bool
	)
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, selectColumns+` WHERE crate = :crate;`, &sqlitex.ExecOptions{
			Named: map[string]any{":crate": string(id)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				rec = scanRecord(stmt)
				found = true
				return nil
			},
		})
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to read outcome for %s: %w", id, err)
	}
	return rec, found, nil
}

// HasTerminalOutcome reports whether id has a terminal record
func (s *SQLiteStore) HasTerminalOutcome(ctx context.Context, id types.CrateID) (bool, error) {
	return hasTerminal(ctx, s, id)
}

// RecordOutcome upserts the record for id
func (s *SQLiteStore) RecordOutcome(ctx context.Context, id types.CrateID, rec Record) error {
	if err := rec.Validate(id); err != nil {
		return err
	}
	rec = stamp(id, rec)

	err := s.withConn(ctx, func(conn *sqlite.Conn) (err error) {
		defer sqlitex.Save(conn)(&err)
		return sqlitex.Execute(conn, upsertOutcome, &sqlitex.ExecOptions{
			Named: map[string]any{
				":crate":      string(id),
				":status":     string(rec.Outcome.Kind),
				":built":      rec.Outcome.Built,
				":total":      rec.Outcome.Total,
				":log":        rec.LogPath,
				":run_id":     rec.RunID,
				":updated_at": rec.UpdatedAt.UnixNano(),
			},
		})
	})
	if err != nil {
		return fmt.Errorf("failed to record outcome for %s: %w", id, err)
	}
	return nil
}

// ClearFailureMarkers deletes a failed or no_rlib row for id
func (s *SQLiteStore) ClearFailureMarkers(ctx context.Context, id types.CrateID) error {
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`DELETE FROM outcomes WHERE crate = :crate AND status IN ('failed', 'no_rlib');`,
			&sqlitex.ExecOptions{Named: map[string]any{":crate": string(id)}})
	})
	if err != nil {
		return fmt.Errorf("failed to clear failure markers for %s: %w", id, err)
	}
	return nil
}

// List returns every record sorted by crate
func (s *SQLiteStore) List(ctx context.Context) ([]Record, error) {
	var out []Record
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, selectColumns+` ORDER BY crate;`, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				out = append(out, scanRecord(stmt))
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}
	return out, nil
}

// Delete removes the row for id
func (s *SQLiteStore) Delete(ctx context.Context, id types.CrateID) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `DELETE FROM outcomes WHERE crate = :crate;`,
			&sqlitex.ExecOptions{Named: map[string]any{":crate": string(id)}})
	})
}

// Close closes every pooled connection
func (s *SQLiteStore) Close() error {
	return s.pool.Close()
}

func (s *SQLiteStore) withConn(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	return fn(conn)
}

func scanRecord(stmt *sqlite.Stmt) Record {
	return Record{
		Crate: types.CrateID(stmt.GetText("crate")),
		Outcome: types.Outcome{
			Kind:  types.OutcomeKind(stmt.GetText("status")),
			Built: int(stmt.GetInt64("built")),
			Total: int(stmt.GetInt64("total")),
		},
		LogPath:   stmt.GetText("log"),
		RunID:     stmt.GetText("run_id"),
		UpdatedAt: time.Unix(0, stmt.GetInt64("updated_at")).UTC(),
	}
}
