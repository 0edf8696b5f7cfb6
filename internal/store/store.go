// Package store persists batch results to a local SQLite database:
// raw and corrected isotopologue series plus the integrated result
// cells, grouped under a batch id.
package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"isoquant/internal/binner"
	"isoquant/internal/pipeline"
)

const timeFormat = time.RFC3339

// Store wraps the database handle and prepared statements.
type Store struct {
	db         *sql.DB
	seriesStmt *sql.Stmt
	cellStmt   *sql.Stmt
	log        *slog.Logger
}

// Open creates or opens the results database at path and ensures the
// schema exists. ":memory:" is accepted for tests.
func Open(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening results db: %w", err)
	}

	s := &Store{db: db, log: log}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS batches (
		batch_id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		description TEXT
	);

	CREATE TABLE IF NOT EXISTS series (
		batch_id TEXT NOT NULL REFERENCES batches(batch_id),
		sample TEXT NOT NULL,
		compound TEXT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('raw', 'corrected')),
		isotopologue INTEGER NOT NULL,
		times BLOB NOT NULL,
		intensities BLOB NOT NULL,
		PRIMARY KEY (batch_id, sample, compound, kind, isotopologue)
	);

	CREATE TABLE IF NOT EXISTS cells (
		batch_id TEXT NOT NULL REFERENCES batches(batch_id),
		sample TEXT NOT NULL,
		compound TEXT NOT NULL,
		raw_areas BLOB NOT NULL,
		corrected_areas BLOB NOT NULL,
		ratios BLOB NOT NULL,
		percent_label DOUBLE NOT NULL,
		percent_carbons DOUBLE NOT NULL,
		abundance DOUBLE NOT NULL,
		provenance TEXT NOT NULL,
		valid INTEGER NOT NULL,
		degenerate INTEGER NOT NULL,
		clamped INTEGER NOT NULL,
		cond DOUBLE NOT NULL,
		PRIMARY KEY (batch_id, sample, compound)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

func (s *Store) prepareStatements() error {
	var err error
	s.seriesStmt, err = s.db.Prepare(`
		INSERT INTO series (batch_id, sample, compound, kind, isotopologue, times, intensities)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing series insert: %w", err)
	}
	s.cellStmt, err = s.db.Prepare(`
		INSERT INTO cells (batch_id, sample, compound, raw_areas, corrected_areas, ratios,
			percent_label, percent_carbons, abundance, provenance, valid, degenerate, clamped, cond)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing cell insert: %w", err)
	}
	return nil
}

// BeginBatch registers a new batch and returns its id.
func (s *Store) BeginBatch(description string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO batches (batch_id, created_at, description) VALUES (?, ?, ?)`,
		id, time.Now().Format(timeFormat), description)
	if err != nil {
		return "", fmt.Errorf("registering batch: %w", err)
	}
	return id, nil
}

// SaveSeries stores one isotopologue time series.
func (s *Store) SaveSeries(batchID, sample, compoundName, kind string, series binner.Series) error {
	for i, trace := range series.Intensity {
		_, err := s.seriesStmt.Exec(batchID, sample, compoundName, kind, i,
			packFloats(series.Time), packFloats(trace))
		if err != nil {
			return fmt.Errorf("storing %s series %s/%s M+%d: %w", kind, sample, compoundName, i, err)
		}
	}
	return nil
}

// SaveOutcome stores every result cell of a batch outcome.
func (s *Store) SaveOutcome(batchID string, out *pipeline.Outcome) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting cell transaction: %w", err)
	}
	stmt := tx.Stmt(s.cellStmt)
	for _, c := range out.Cells {
		_, err := stmt.Exec(batchID, c.Sample, c.Compound,
			packFloats(c.RawAreas), packFloats(c.CorrectedAreas), packFloats(c.Ratios),
			c.Metrics.PercentLabel, c.Metrics.PercentCarbons, c.Metrics.Abundance,
			c.Metrics.Provenance.String(), c.Metrics.Valid, c.Degenerate, c.Clamped, c.Cond)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("storing cell %s/%s: %w", c.Sample, c.Compound, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing cells: %w", err)
	}
	s.log.Info("batch persisted", "batch", batchID, "cells", len(out.Cells))
	return nil
}

// CellAreas reads back one cell's raw and corrected area vectors.
func (s *Store) CellAreas(batchID, sample, compoundName string) (raw, corrected []float64, err error) {
	row := s.db.QueryRow(
		`SELECT raw_areas, corrected_areas FROM cells WHERE batch_id = ? AND sample = ? AND compound = ?`,
		batchID, sample, compoundName)
	var rawBlob, corrBlob []byte
	if err := row.Scan(&rawBlob, &corrBlob); err != nil {
		return nil, nil, err
	}
	return unpackFloats(rawBlob), unpackFloats(corrBlob), nil
}

// Close releases statements and the handle.
func (s *Store) Close() error {
	if s.seriesStmt != nil {
		s.seriesStmt.Close()
	}
	if s.cellStmt != nil {
		s.cellStmt.Close()
	}
	return s.db.Close()
}

// packFloats encodes a float64 slice as a little-endian blob.
func packFloats(vals []float64) []byte {
	buf := make([]byte, len(vals)*8)
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

func unpackFloats(buf []byte) []float64 {
	vals := make([]float64, len(buf)/8)
	for i := range vals {
		vals[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return vals
}
