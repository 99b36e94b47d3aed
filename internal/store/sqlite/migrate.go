// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	strataerr "github.com/strata-dev/strata/pkg/errors"
)

// CurrentSchemaVersion is the schema version this build writes and reads.
const CurrentSchemaVersion = 2

// MigrationReport summarises one Migrate call.
type MigrationReport struct {
	FromVersion      int
	ToVersion        int
	LegacyMigrated   int64
	CorruptedRemoved int64
}

// MigrationManager tracks the on-disk schema version and applies
// upgrades strictly in order. Each transition is safe to re-run: a
// half-applied migration derives destination rows from stable record
// ids and overwrites on retry. The version marker is committed only
// after a transition fully completes.
type MigrationManager struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewMigrationManager creates a manager over an open database handle.
// A nil logger falls back to slog.Default().
func NewMigrationManager(db *sql.DB, logger *slog.Logger) *MigrationManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &MigrationManager{db: db, logger: logger}
}

// MigrateDatabase opens the database at dbPath, brings its schema up to
// date, and reports what happened. Used by the standalone migrate
// command; NewLayerStore runs the same migrations on open.
func MigrateDatabase(ctx context.Context, dbPath string, logger *slog.Logger) (MigrationReport, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return MigrationReport{}, strataerr.Wrap(err, strataerr.CodeStoreDatabaseFailure, "opening records db")
	}
	defer db.Close() //nolint:errcheck

	return NewMigrationManager(db, logger).Migrate(ctx)
}

// Version reads the persisted schema version, 0 when absent.
func (m *MigrationManager) Version(ctx context.Context) (int, error) {
	const ddl = `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`
	if _, err := m.db.ExecContext(ctx, ddl); err != nil {
		return 0, strataerr.Wrap(err, strataerr.CodeStoreMigrationFailure, "creating schema_version table")
	}

	var v int
	err := m.db.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, strataerr.Wrap(err, strataerr.CodeStoreMigrationFailure, "reading schema version")
	}
	return v, nil
}

// Migrate advances the store from its persisted version to
// CurrentSchemaVersion, applying transitions in order. Running it on an
// up-to-date store is a no-op.
func (m *MigrationManager) Migrate(ctx context.Context) (MigrationReport, error) {
	from, err := m.Version(ctx)
	if err != nil {
		return MigrationReport{}, err
	}

	report := MigrationReport{FromVersion: from, ToVersion: from}
	for v := from; v < CurrentSchemaVersion; v++ {
		switch v {
		case 0:
			if err := m.migrate0to1(ctx, &report); err != nil {
				return report, err
			}
		case 1:
			if err := m.migrate1to2(ctx, &report); err != nil {
				return report, err
			}
		}
		if err := m.setVersion(ctx, v+1); err != nil {
			return report, err
		}
		report.ToVersion = v + 1
		m.logger.Info("schema migrated", "from", v, "to", v+1)
	}

	return report, nil
}

// setVersion persists the marker after a transition completes.
func (m *MigrationManager) setVersion(ctx context.Context, v int) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return strataerr.Wrap(err, strataerr.CodeStoreMigrationFailure, "beginning version tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM schema_version`); err != nil {
		return strataerr.Wrap(err, strataerr.CodeStoreMigrationFailure, "clearing schema version")
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, v); err != nil {
		return strataerr.Wrap(err, strataerr.CodeStoreMigrationFailure, "writing schema version")
	}
	return tx.Commit()
}

// migrate0to1 creates the v1 records table and, when a legacy flat
// memories table exists, copies its rows into the Interact tier.
// Corrupted legacy rows (empty content, undecodable vector, unparseable
// timestamp) are counted and dropped rather than aborting the
// migration. Destination rows are keyed by the legacy id, so a re-run
// after a crash overwrites instead of duplicating.
func (m *MigrationManager) migrate0to1(ctx context.Context, report *MigrationReport) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS records (
	id         TEXT NOT NULL,
	layer      TEXT NOT NULL,
	text       TEXT NOT NULL,
	embedding  BLOB NOT NULL,
	kind       TEXT NOT NULL DEFAULT '',
	tags       TEXT NOT NULL DEFAULT '[]',
	project    TEXT NOT NULL DEFAULT '',
	session    TEXT NOT NULL DEFAULT '',
	score      REAL NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	PRIMARY KEY (layer, id)
);

CREATE INDEX IF NOT EXISTS idx_records_layer ON records(layer);
`
	if _, err := m.db.ExecContext(ctx, ddl); err != nil {
		return strataerr.Wrap(err, strataerr.CodeStoreMigrationFailure, "creating records table")
	}

	hasLegacy, err := m.tableExists(ctx, "memories")
	if err != nil {
		return err
	}
	if !hasLegacy {
		return nil
	}

	rows, err := m.db.QueryContext(ctx, `SELECT id, content, vector, created_at FROM memories`)
	if err != nil {
		return strataerr.Wrap(err, strataerr.CodeStoreMigrationFailure, "reading legacy memories")
	}
	defer rows.Close() //nolint:errcheck

	type legacyRow struct {
		id, content string
		created     time.Time
		embedding   []float32
	}
	var keep []legacyRow

	for rows.Next() {
		var id, content, vectorJSON, createdAt string
		if err := rows.Scan(&id, &content, &vectorJSON, &createdAt); err != nil {
			return strataerr.Wrap(err, strataerr.CodeStoreMigrationFailure, "scanning legacy row")
		}

		var vec []float32
		created, timeOK := parseLegacyTime(createdAt)
		if content == "" || !timeOK || json.Unmarshal([]byte(vectorJSON), &vec) != nil || len(vec) == 0 {
			report.CorruptedRemoved++
			m.logger.Warn("dropping corrupted legacy memory", "id", id)
			continue
		}
		keep = append(keep, legacyRow{id: id, content: content, created: created, embedding: vec})
	}
	if err := rows.Err(); err != nil {
		return strataerr.Wrap(err, strataerr.CodeStoreMigrationFailure, "iterating legacy rows")
	}

	const insert = `INSERT INTO records (id, layer, text, embedding, created_at) VALUES (?, 'interact', ?, ?, ?)
ON CONFLICT(layer, id) DO UPDATE SET text = excluded.text, embedding = excluded.embedding, created_at = excluded.created_at`

	for _, lr := range keep {
		if _, err := m.db.ExecContext(ctx, insert, lr.id, lr.content, encodeEmbedding(lr.embedding), formatTime(lr.created)); err != nil {
			return strataerr.Wrap(err, strataerr.CodeStoreMigrationFailure, "copying legacy memory",
				strataerr.FieldRecordID(lr.id))
		}
		report.LegacyMigrated++
	}

	if _, err := m.db.ExecContext(ctx, `DROP TABLE memories`); err != nil {
		return strataerr.Wrap(err, strataerr.CodeStoreMigrationFailure, "dropping legacy memories table")
	}
	return nil
}

// migrate1to2 adds access tracking columns, backfilling last_access
// from created_at, and rewrites stored timestamps into the fixed-width
// layout so string comparisons in SQL order chronologically. Re-running
// after a partial apply is safe: columns already present are skipped
// and the rewrite is a no-op on normalized rows.
func (m *MigrationManager) migrate1to2(ctx context.Context, _ *MigrationReport) error {
	for col, ddl := range map[string]string{
		"access_count": `ALTER TABLE records ADD COLUMN access_count INTEGER NOT NULL DEFAULT 0`,
		"last_access":  `ALTER TABLE records ADD COLUMN last_access TEXT NOT NULL DEFAULT ''`,
	} {
		has, err := m.columnExists(ctx, "records", col)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return strataerr.Wrap(err, strataerr.CodeStoreMigrationFailure, "adding column "+col)
		}
	}

	if _, err := m.db.ExecContext(ctx, `UPDATE records SET last_access = created_at WHERE last_access = ''`); err != nil {
		return strataerr.Wrap(err, strataerr.CodeStoreMigrationFailure, "backfilling last_access")
	}

	if err := m.normalizeTimestamps(ctx); err != nil {
		return err
	}

	const idx = `CREATE INDEX IF NOT EXISTS idx_records_last_access ON records(layer, last_access)`
	if _, err := m.db.ExecContext(ctx, idx); err != nil {
		return strataerr.Wrap(err, strataerr.CodeStoreMigrationFailure, "creating last_access index")
	}
	return nil
}

// normalizeTimestamps rewrites created_at and last_access to the
// fixed-width layout. Rows written by older schema versions carry
// variable-precision strings that do not order lexicographically.
func (m *MigrationManager) normalizeTimestamps(ctx context.Context) error {
	rows, err := m.db.QueryContext(ctx, `SELECT id, layer, created_at, last_access FROM records`)
	if err != nil {
		return strataerr.Wrap(err, strataerr.CodeStoreMigrationFailure, "reading record timestamps")
	}
	defer rows.Close() //nolint:errcheck

	type fix struct {
		id, layer, created, access string
	}
	var fixes []fix

	for rows.Next() {
		var f fix
		if err := rows.Scan(&f.id, &f.layer, &f.created, &f.access); err != nil {
			return strataerr.Wrap(err, strataerr.CodeStoreMigrationFailure, "scanning record timestamps")
		}
		created := normalizeStoredTime(f.created)
		access := normalizeStoredTime(f.access)
		if created == f.created && access == f.access {
			continue
		}
		f.created, f.access = created, access
		fixes = append(fixes, f)
	}
	if err := rows.Err(); err != nil {
		return strataerr.Wrap(err, strataerr.CodeStoreMigrationFailure, "iterating record timestamps")
	}

	for _, f := range fixes {
		_, err := m.db.ExecContext(ctx,
			`UPDATE records SET created_at = ?, last_access = ? WHERE layer = ? AND id = ?`,
			f.created, f.access, f.layer, f.id)
		if err != nil {
			return strataerr.Wrap(err, strataerr.CodeStoreMigrationFailure, "rewriting record timestamps",
				strataerr.FieldRecordID(f.id))
		}
	}
	return nil
}

// parseLegacyTime accepts the timestamp layouts older stores wrote:
// RFC3339 with any fractional precision, and SQLite's datetime()
// output (taken as UTC).
func parseLegacyTime(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// normalizeStoredTime re-serialises a stored timestamp in the
// fixed-width layout, leaving empty and unparseable values untouched.
func normalizeStoredTime(s string) string {
	if s == "" {
		return s
	}
	if t, ok := parseLegacyTime(s); ok {
		return formatTime(t)
	}
	return s
}

func (m *MigrationManager) tableExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	if err != nil {
		return false, strataerr.Wrap(err, strataerr.CodeStoreMigrationFailure, "checking table "+name)
	}
	return n > 0, nil
}

func (m *MigrationManager) columnExists(ctx context.Context, table, column string) (bool, error) {
	rows, err := m.db.QueryContext(ctx, `PRAGMA table_info(`+table+`)`)
	if err != nil {
		return false, strataerr.Wrap(err, strataerr.CodeStoreMigrationFailure, "reading table info for "+table)
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, strataerr.Wrap(err, strataerr.CodeStoreMigrationFailure, "scanning table info")
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
