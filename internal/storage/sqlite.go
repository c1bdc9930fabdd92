//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"sddr/internal/model"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveNetworkState(ctx context.Context, state model.NetworkState) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeNetworkState(state)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO networks (id, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, state.ID, state.SchemaVersion, state.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetNetworkState(ctx context.Context, id string) (model.NetworkState, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.NetworkState{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM networks WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.NetworkState{}, false, nil
		}
		return model.NetworkState{}, false, err
	}

	state, err := DecodeNetworkState(payload)
	if err != nil {
		return model.NetworkState{}, false, fmt.Errorf("decode network %s: %w", id, err)
	}
	return state, true, nil
}

func (s *SQLiteStore) SaveFitRecord(ctx context.Context, record model.FitRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeFitRecord(record)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO fit_runs (run_id, network_id, created_at_utc, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			network_id = excluded.network_id,
			created_at_utc = excluded.created_at_utc,
			payload = excluded.payload
	`, record.RunID, record.NetworkID, record.CreatedAtUTC, payload)
	return err
}

func (s *SQLiteStore) GetFitRecord(ctx context.Context, runID string) (model.FitRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.FitRecord{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM fit_runs WHERE run_id = ?`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.FitRecord{}, false, nil
		}
		return model.FitRecord{}, false, err
	}

	record, err := DecodeFitRecord(payload)
	if err != nil {
		return model.FitRecord{}, false, fmt.Errorf("decode fit run %s: %w", runID, err)
	}
	return record, true, nil
}

func (s *SQLiteStore) ListFitRecords(ctx context.Context) ([]model.FitRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT run_id, payload FROM fit_runs ORDER BY created_at_utc DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.FitRecord
	for rows.Next() {
		var (
			runID   string
			payload []byte
		)
		if err := rows.Scan(&runID, &payload); err != nil {
			return nil, err
		}
		record, err := DecodeFitRecord(payload)
		if err != nil {
			return nil, fmt.Errorf("decode fit run %s: %w", runID, err)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errNotInitialized
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS networks (
			id TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS fit_runs (
			run_id TEXT PRIMARY KEY,
			network_id TEXT NOT NULL,
			created_at_utc TEXT NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	return err
}
