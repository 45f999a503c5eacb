// Package state persists per-profile sync state in an embedded SQLite
// database.
//
// The sync state is the engine's only durable memory: the base snapshot
// (the three-way merge's common ancestor), the per-path content shas
// used for optimistic-concurrency writes, the last remote commit, and
// the sticky conflict flag. It is read once at the start of an engine
// operation and written once at the end; the base only ever advances
// after an operation fully succeeds, so a failed attempt retries the
// same delta instead of losing it.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/marksync/marksync/internal/bookmarks"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SyncState is one profile's persisted reconciliation state.
type SyncState struct {
	// Profile names the configuration this state belongs to. Exactly
	// one SyncState exists per profile; switching profiles swaps the
	// whole state, never merges.
	Profile string

	// Base is the last tree both replicas are known to agree on.
	Base *bookmarks.Entry

	// FileSHAs maps remote entry path -> last-seen content sha.
	FileSHAs map[string]string

	// LastCommit is the remote commit reference from the last
	// successful operation.
	LastCommit string

	// LastSync is when the last operation fully succeeded.
	LastSync time.Time

	// Conflicted is the sticky conflict flag: once set, auto-sync
	// stays suppressed until a clean sync or a user-forced push/pull
	// clears it.
	Conflicted     bool
	ConflictDetail string
}

// DB wraps the embedded SQLite connection holding all profiles' states.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates or opens the state database at the given path. The
// caller must Close it.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping state database: %w", err)
	}

	db := &DB{conn: conn, path: path}

	// WAL so a daemon reader never blocks a CLI writer.
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close state database: %w", err)
	}
	db.conn = nil
	return nil
}

// InitSchema creates the sync_state table. Idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_state (
		profile TEXT PRIMARY KEY,
		base TEXT NOT NULL,            -- JSON tree snapshot
		file_shas TEXT NOT NULL,       -- JSON object: path -> sha
		last_commit TEXT NOT NULL DEFAULT '',
		last_sync TEXT NOT NULL DEFAULT '',
		conflicted INTEGER NOT NULL DEFAULT 0,
		conflict_detail TEXT NOT NULL DEFAULT ''
	);
	`
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Load reads one profile's state. Returns (nil, nil) when the profile
// has never synced: absence is how the migration check detects a fresh
// profile, not an error.
func (db *DB) Load(ctx context.Context, profile string) (*SyncState, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT base, file_shas, last_commit, last_sync, conflicted, conflict_detail
		FROM sync_state WHERE profile = ?`, profile)

	var (
		baseJSON, shasJSON, lastCommit, lastSync, conflictDetail string
		conflicted                                               int
	)
	err := row.Scan(&baseJSON, &shasJSON, &lastCommit, &lastSync, &conflicted, &conflictDetail)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sync state for %q: %w", profile, err)
	}

	st := &SyncState{
		Profile:        profile,
		LastCommit:     lastCommit,
		Conflicted:     conflicted != 0,
		ConflictDetail: conflictDetail,
	}
	if err := json.Unmarshal([]byte(baseJSON), &st.Base); err != nil {
		return nil, fmt.Errorf("corrupt base snapshot for %q: %w", profile, err)
	}
	if err := json.Unmarshal([]byte(shasJSON), &st.FileSHAs); err != nil {
		return nil, fmt.Errorf("corrupt sha map for %q: %w", profile, err)
	}
	if lastSync != "" {
		t, err := time.Parse(time.RFC3339Nano, lastSync)
		if err != nil {
			return nil, fmt.Errorf("corrupt last_sync for %q: %w", profile, err)
		}
		st.LastSync = t
	}
	return st, nil
}

// Save upserts one profile's state in a single statement, so there is
// never a partially written row.
func (db *DB) Save(ctx context.Context, st *SyncState) error {
	if st.Profile == "" {
		return fmt.Errorf("sync state requires a profile name")
	}
	baseJSON, err := json.Marshal(st.Base)
	if err != nil {
		return fmt.Errorf("failed to marshal base snapshot: %w", err)
	}
	shas := st.FileSHAs
	if shas == nil {
		shas = map[string]string{}
	}
	shasJSON, err := json.Marshal(shas)
	if err != nil {
		return fmt.Errorf("failed to marshal sha map: %w", err)
	}
	lastSync := ""
	if !st.LastSync.IsZero() {
		lastSync = st.LastSync.UTC().Format(time.RFC3339Nano)
	}
	conflicted := 0
	if st.Conflicted {
		conflicted = 1
	}

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO sync_state (profile, base, file_shas, last_commit, last_sync, conflicted, conflict_detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(profile) DO UPDATE SET
			base = excluded.base,
			file_shas = excluded.file_shas,
			last_commit = excluded.last_commit,
			last_sync = excluded.last_sync,
			conflicted = excluded.conflicted,
			conflict_detail = excluded.conflict_detail`,
		st.Profile, string(baseJSON), string(shasJSON), st.LastCommit, lastSync, conflicted, st.ConflictDetail)
	if err != nil {
		return fmt.Errorf("failed to save sync state for %q: %w", st.Profile, err)
	}
	return nil
}

// Delete removes one profile's state. Idempotent.
func (db *DB) Delete(ctx context.Context, profile string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM sync_state WHERE profile = ?`, profile); err != nil {
		return fmt.Errorf("failed to delete sync state for %q: %w", profile, err)
	}
	return nil
}
