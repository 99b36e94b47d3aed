// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"iter"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/strata-dev/strata/internal/store"
	strataerr "github.com/strata-dev/strata/pkg/errors"
)

// Compile-time interface check.
var _ store.LayerStore = (*LayerStore)(nil)

// LayerStore implements store.LayerStore backed by a single SQLite
// database, one logical namespace per tier (the layer column).
type LayerStore struct {
	db         *sql.DB
	path       string
	dimensions int
}

// NewLayerStore opens (or creates) a SQLite database at dbPath and
// runs any pending schema migrations.
func NewLayerStore(dbPath string, dimensions int) (*LayerStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, strataerr.Wrap(err, strataerr.CodeStoreDatabaseFailure, "opening records db")
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, strataerr.Wrap(err, strataerr.CodeStoreDatabaseFailure, "pinging records db")
	}

	mgr := NewMigrationManager(db, nil)
	if _, err := mgr.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &LayerStore{db: db, path: dbPath, dimensions: dimensions}, nil
}

// Insert persists a record into its layer. Validation runs before any
// write; a failing record leaves no partial state.
func (s *LayerStore) Insert(ctx context.Context, record *store.Record) error {
	if err := record.Validate(s.dimensions); err != nil {
		return err
	}
	return s.upsert(ctx, record)
}

// InsertBatch validates every record before persisting any of them, so
// a bad record never blocks or corrupts its neighbours. Persistence is
// per-record: an I/O failure mid-batch leaves earlier records stored.
func (s *LayerStore) InsertBatch(ctx context.Context, records []*store.Record) error {
	for _, r := range records {
		if err := r.Validate(s.dimensions); err != nil {
			return err
		}
	}
	for _, r := range records {
		if err := s.upsert(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (s *LayerStore) upsert(ctx context.Context, r *store.Record) error {
	tags, err := json.Marshal(r.Tags)
	if err != nil {
		return strataerr.Wrap(err, strataerr.CodeStoreDatabaseFailure, "marshalling record tags",
			strataerr.FieldRecordID(r.ID))
	}

	const q = `INSERT INTO records
(id, layer, text, embedding, kind, tags, project, session, score, created_at, last_access, access_count)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(layer, id) DO UPDATE SET
	text = excluded.text,
	embedding = excluded.embedding,
	kind = excluded.kind,
	tags = excluded.tags,
	project = excluded.project,
	session = excluded.session,
	score = excluded.score,
	created_at = excluded.created_at,
	last_access = excluded.last_access,
	access_count = excluded.access_count`

	_, err = s.db.ExecContext(ctx, q,
		r.ID, string(r.Layer), r.Text, encodeEmbedding(r.Embedding),
		r.Kind, string(tags), r.Project, r.Session, r.Score,
		formatTime(r.CreatedAt), formatTime(r.LastAccess), r.AccessCount,
	)
	if err != nil {
		return strataerr.Wrap(err, strataerr.CodeStoreDatabaseFailure, "inserting record",
			strataerr.FieldRecordID(r.ID), strataerr.FieldLayer(string(r.Layer)))
	}
	return nil
}

const recordColumns = `id, layer, text, embedding, kind, tags, project, session, score, created_at, last_access, access_count`

// Get returns the record or store.ErrNotFound. Access tracking is not
// touched; that is UpdateAccess's job.
func (s *LayerStore) Get(ctx context.Context, layer store.Layer, id string) (*store.Record, error) {
	const q = `SELECT ` + recordColumns + ` FROM records WHERE layer = ? AND id = ?`

	row := s.db.QueryRowContext(ctx, q, string(layer), id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, strataerr.Wrapf(store.ErrNotFound, strataerr.CodeStoreRecordNotFound,
			"record %s in %s", id, layer)
	}
	if err != nil {
		return nil, strataerr.Wrap(err, strataerr.CodeStoreDatabaseFailure, "getting record",
			strataerr.FieldRecordID(id), strataerr.FieldLayer(string(layer)))
	}
	return rec, nil
}

// Update rewrites a record in place after re-validation.
func (s *LayerStore) Update(ctx context.Context, record *store.Record) error {
	if err := record.Validate(s.dimensions); err != nil {
		return err
	}
	if _, err := s.Get(ctx, record.Layer, record.ID); err != nil {
		return err
	}
	return s.upsert(ctx, record)
}

// Delete removes the record, reporting whether it existed.
func (s *LayerStore) Delete(ctx context.Context, layer store.Layer, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE layer = ? AND id = ?`, string(layer), id)
	if err != nil {
		return false, strataerr.Wrap(err, strataerr.CodeStoreDatabaseFailure, "deleting record",
			strataerr.FieldRecordID(id), strataerr.FieldLayer(string(layer)))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, strataerr.Wrap(err, strataerr.CodeStoreDatabaseFailure, "checking rows for record",
			strataerr.FieldRecordID(id))
	}
	return rows > 0, nil
}

// Iterate yields every record in the layer, ordered by creation time.
// Each call starts a fresh pass.
func (s *LayerStore) Iterate(ctx context.Context, layer store.Layer) iter.Seq2[*store.Record, error] {
	return func(yield func(*store.Record, error) bool) {
		const q = `SELECT ` + recordColumns + ` FROM records WHERE layer = ? ORDER BY created_at ASC, id ASC`

		rows, err := s.db.QueryContext(ctx, q, string(layer))
		if err != nil {
			yield(nil, strataerr.Wrap(err, strataerr.CodeStoreDatabaseFailure, "iterating records",
				strataerr.FieldLayer(string(layer))))
			return
		}
		defer rows.Close() //nolint:errcheck // error on read-path close is not actionable

		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				yield(nil, strataerr.Wrap(err, strataerr.CodeStoreDatabaseFailure, "scanning record row"))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, strataerr.Wrap(err, strataerr.CodeStoreDatabaseFailure, "iterating record rows"))
		}
	}
}

// DeleteExpired removes records whose last access is before cutoff.
func (s *LayerStore) DeleteExpired(ctx context.Context, layer store.Layer, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM records WHERE layer = ? AND last_access != '' AND last_access < ?`

	result, err := s.db.ExecContext(ctx, q, string(layer), formatTime(cutoff))
	if err != nil {
		return 0, strataerr.Wrap(err, strataerr.CodeStoreDatabaseFailure, "deleting expired records",
			strataerr.FieldLayer(string(layer)))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, strataerr.Wrap(err, strataerr.CodeStoreDatabaseFailure, "counting expired records")
	}
	return rows, nil
}

// UpdateAccess bumps access_count and last_access for one record.
func (s *LayerStore) UpdateAccess(ctx context.Context, layer store.Layer, id string, at time.Time) error {
	const q = `UPDATE records SET access_count = access_count + 1, last_access = ? WHERE layer = ? AND id = ?`

	result, err := s.db.ExecContext(ctx, q, formatTime(at), string(layer), id)
	if err != nil {
		return strataerr.Wrap(err, strataerr.CodeStoreDatabaseFailure, "updating record access",
			strataerr.FieldRecordID(id), strataerr.FieldLayer(string(layer)))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return strataerr.Wrap(err, strataerr.CodeStoreDatabaseFailure, "checking rows for access update",
			strataerr.FieldRecordID(id))
	}
	if rows == 0 {
		return strataerr.Wrapf(store.ErrNotFound, strataerr.CodeStoreRecordNotFound,
			"record %s in %s", id, layer)
	}
	return nil
}

// Count returns the number of records in the layer.
func (s *LayerStore) Count(ctx context.Context, layer store.Layer) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE layer = ?`, string(layer)).Scan(&n)
	if err != nil {
		return 0, strataerr.Wrap(err, strataerr.CodeStoreDatabaseFailure, "counting records",
			strataerr.FieldLayer(string(layer)))
	}
	return n, nil
}

// Stats summarises one layer: record count, stored bytes, and the mean
// embedding dimension.
func (s *LayerStore) Stats(ctx context.Context, layer store.Layer) (store.LayerStats, error) {
	const q = `SELECT COUNT(*),
	COALESCE(SUM(LENGTH(text) + LENGTH(embedding) + LENGTH(tags)), 0),
	COALESCE(AVG(LENGTH(embedding) / 4.0), 0)
FROM records WHERE layer = ?`

	var st store.LayerStats
	err := s.db.QueryRowContext(ctx, q, string(layer)).Scan(&st.RecordCount, &st.TotalSizeBytes, &st.AvgEmbeddingDim)
	if err != nil {
		return store.LayerStats{}, strataerr.Wrap(err, strataerr.CodeStoreDatabaseFailure, "computing layer stats",
			strataerr.FieldLayer(string(layer)))
	}
	return st, nil
}

// SizeOnDisk reports the byte size of the database file plus its WAL.
func (s *LayerStore) SizeOnDisk() (int64, error) {
	var total int64
	for _, suffix := range []string{"", "-wal", "-shm"} {
		info, err := os.Stat(s.path + suffix)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, strataerr.Wrap(err, strataerr.CodeStoreDatabaseFailure, "statting db file")
		}
		total += info.Size()
	}
	return total, nil
}

// Clear removes every record in every layer. The schema version marker
// is untouched.
func (s *LayerStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return strataerr.Wrap(err, strataerr.CodeStoreDatabaseFailure, "clearing records")
	}
	return nil
}

// Close closes the underlying database connection.
func (s *LayerStore) Close() error {
	return s.db.Close()
}

// Path returns the backing database file path.
func (s *LayerStore) Path() string {
	return filepath.Clean(s.path)
}

// ---------- row helpers ----------

// scanner abstracts *sql.Row and *sql.Rows for record scanning.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*store.Record, error) {
	var r store.Record
	var layer, tagsJSON, createdAt, lastAccess string
	var blob []byte

	if err := sc.Scan(
		&r.ID, &layer, &r.Text, &blob, &r.Kind, &tagsJSON,
		&r.Project, &r.Session, &r.Score, &createdAt, &lastAccess, &r.AccessCount,
	); err != nil {
		return nil, err
	}

	r.Layer = store.Layer(layer)
	r.Embedding = decodeEmbedding(blob)
	r.CreatedAt = parseTime(createdAt)
	r.LastAccess = parseTime(lastAccess)

	if tagsJSON != "" && tagsJSON != "[]" {
		if err := json.Unmarshal([]byte(tagsJSON), &r.Tags); err != nil {
			return nil, fmt.Errorf("unmarshalling tags for record %s: %w", r.ID, err)
		}
	}

	return &r, nil
}

// encodeEmbedding packs a float32 vector as little-endian bytes.
func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeEmbedding unpacks a little-endian byte blob into a float32
// vector. A trailing partial float is dropped.
func decodeEmbedding(blob []byte) []float32 {
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}

// timeLayout is fixed width (trailing fractional zeros kept) so stored
// timestamps order lexicographically. DeleteExpired compares them as
// strings in SQL and depends on this.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// formatTime serialises a time.Time with nanosecond precision.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

// parseTime deserialises a time string stored in the database.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
