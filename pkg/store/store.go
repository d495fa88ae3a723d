// Package store keeps the errors of every evaluated structure in a SQLite
// database so that runs can be compared.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kpotier/crystalgen/pkg/metrics"
	"github.com/kpotier/crystalgen/pkg/structure"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS structures (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	idx         INTEGER NOT NULL,
	formula     TEXT NOT NULL,
	num_atoms   INTEGER NOT NULL,
	mae_pos     REAL NOT NULL,
	mae_lengths REAL NOT NULL,
	mae_angles  REAL NOT NULL,
	PRIMARY KEY (run_id, idx)
);`

// Row holds the errors of one structure.
type Row struct {
	Index      int
	Formula    string
	NumAtoms   int
	MAEPos     float64
	MAELengths float64
	MAEAngles  float64
}

// Run describes a recorded run.
type Run struct {
	ID        string
	Kind      string
	CreatedAt time.Time
}

// Store is a metrics database.
type Store struct {
	db *sql.DB
}

// Open opens, and creates if needed, the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(schema)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record saves the rows of a run in one transaction.
func (s *Store) Record(runID, kind string, rows []Row) error {
	if runID == "" {
		return errors.New("empty run id")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO runs (id, kind, created_at) VALUES (?, ?, ?)`,
		runID, kind, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO structures
		(run_id, idx, formula, num_atoms, mae_pos, mae_lengths, mae_angles)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		_, err = stmt.Exec(runID, r.Index, r.Formula, r.NumAtoms, r.MAEPos, r.MAELengths, r.MAEAngles)
		if err != nil {
			return fmt.Errorf("insert structure %d: %w", r.Index, err)
		}
	}
	return tx.Commit()
}

// Runs lists the recorded runs, oldest first.
func (s *Store) Runs() ([]Run, error) {
	rows, err := s.db.Query(`SELECT id, kind, created_at FROM runs ORDER BY created_at, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r       Run
			created string
		)
		if err := rows.Scan(&r.ID, &r.Kind, &created); err != nil {
			return nil, err
		}
		r.CreatedAt, err = time.Parse(time.RFC3339, created)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Rows returns the rows of a run, in structure order.
func (s *Store) Rows(runID string) ([]Row, error) {
	rows, err := s.db.Query(`SELECT idx, formula, num_atoms, mae_pos, mae_lengths, mae_angles
		FROM structures WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.Index, &r.Formula, &r.NumAtoms, &r.MAEPos, &r.MAELengths, &r.MAEAngles); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Rows builds the rows of the structures of pred from errors computed by
// structure.
func Rows(pred structure.Batch, met metrics.Result) ([]Row, error) {
	if !met.ByStructure {
		return nil, errors.New("the errors must be computed by structure")
	}
	if len(met.Pos) != pred.Len() || len(met.Lengths) != pred.Len() || len(met.Angles) != pred.Len() {
		return nil, fmt.Errorf("%w: %d errors for %d structures", structure.ErrShape, len(met.Pos), pred.Len())
	}

	off := pred.Offsets()
	rows := make([]Row, pred.Len())
	for i := range rows {
		f, err := structure.Formula(pred.Species[off[i]:off[i+1]])
		if err != nil {
			return nil, fmt.Errorf("structure %d: %w", i, err)
		}
		rows[i] = Row{
			Index:      i,
			Formula:    f,
			NumAtoms:   pred.NumAtoms[i],
			MAEPos:     met.Pos[i],
			MAELengths: met.Lengths[i],
			MAEAngles:  met.Angles[i],
		}
	}
	return rows, nil
}

// Save opens the database at path, records the errors of pred and closes it.
func Save(path, runID, kind string, pred structure.Batch, met metrics.Result) error {
	rows, err := Rows(pred, met)
	if err != nil {
		return fmt.Errorf("Rows: %w", err)
	}

	s, err := Open(path)
	if err != nil {
		return fmt.Errorf("Open: %w", err)
	}
	defer s.Close()

	return s.Record(runID, kind, rows)
}
