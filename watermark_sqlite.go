package mlexport

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const watermarkSchema = `CREATE TABLE IF NOT EXISTS watermarks (
	run_id TEXT NOT NULL,
	metric TEXT NOT NULL,
	step   INTEGER NOT NULL,
	PRIMARY KEY (run_id, metric)
)`

// SQLiteStore persists watermarks in a SQLite database, one row per
// (run, metric) pair.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) a SQLite-backed watermark store
// at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open watermark database: %w", err)
	}
	if _, err := db.Exec(watermarkSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize watermark schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Load implements WatermarkStore.
func (s *SQLiteStore) Load() (WatermarkSnapshot, error) {
	rows, err := s.db.Query(`SELECT run_id, metric, step FROM watermarks`)
	if err != nil {
		return nil, fmt.Errorf("failed to query watermarks: %w", err)
	}
	defer rows.Close()

	snapshot := make(WatermarkSnapshot)
	for rows.Next() {
		var runID, metric string
		var step int64
		if err := rows.Scan(&runID, &metric, &step); err != nil {
			return nil, fmt.Errorf("failed to scan watermark row: %w", err)
		}
		byName := snapshot[runID]
		if byName == nil {
			byName = make(map[string]int64)
			snapshot[runID] = byName
		}
		byName[metric] = step
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read watermark rows: %w", err)
	}
	return snapshot, nil
}

// Save implements WatermarkStore. The snapshot replaces all stored rows in a
// single transaction.
func (s *SQLiteStore) Save(snapshot WatermarkSnapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin watermark save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM watermarks`); err != nil {
		return fmt.Errorf("failed to clear watermarks: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO watermarks (run_id, metric, step) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare watermark insert: %w", err)
	}
	defer stmt.Close()
	for runID, byName := range snapshot {
		for metric, step := range byName {
			if _, err := stmt.Exec(runID, metric, step); err != nil {
				return fmt.Errorf("failed to insert watermark: %w", err)
			}
		}
	}
	return tx.Commit()
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
