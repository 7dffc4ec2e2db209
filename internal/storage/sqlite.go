package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"spinscatter/internal/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps trajectories in a columnar trajectory_rows table, one
// row per recorded sweep, and the derived records as versioned JSON.
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

func (s *SQLiteStore) SaveTrajectory(ctx context.Context, trajectory model.Trajectory) (err error) {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO trajectories (run_id, schema_version, codec_version, sites)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			sites = excluded.sites
	`, trajectory.RunID, trajectory.SchemaVersion, trajectory.CodecVersion, trajectory.Sites); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM trajectory_rows WHERE run_id = ?`, trajectory.RunID); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trajectory_rows (run_id, step, block, temperature, energy, magnetization, spins)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range trajectory.Rows {
		var spins []byte
		spins, err = EncodeSpins(row.Spins)
		if err != nil {
			return fmt.Errorf("encode spins at step %d: %w", row.Step, err)
		}
		if _, err = stmt.ExecContext(ctx, trajectory.RunID, row.Step, row.Block, row.Temperature, row.Energy, row.Magnetization, spins); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetTrajectory(ctx context.Context, runID string) (model.Trajectory, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.Trajectory{}, false, err
	}

	trajectory := model.Trajectory{RunID: runID}
	err = db.QueryRowContext(ctx, `
		SELECT schema_version, codec_version, sites FROM trajectories WHERE run_id = ?
	`, runID).Scan(&trajectory.SchemaVersion, &trajectory.CodecVersion, &trajectory.Sites)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Trajectory{}, false, nil
		}
		return model.Trajectory{}, false, err
	}
	if err := checkVersion(trajectory.VersionedRecord); err != nil {
		return model.Trajectory{}, false, fmt.Errorf("decode trajectory %s: %w", runID, err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT step, block, temperature, energy, magnetization, spins
		FROM trajectory_rows WHERE run_id = ? ORDER BY step
	`, runID)
	if err != nil {
		return model.Trajectory{}, false, err
	}
	defer rows.Close()

	trajectory.Rows = []model.TrajectoryRow{}
	for rows.Next() {
		var (
			row   model.TrajectoryRow
			spins []byte
		)
		if err := rows.Scan(&row.Step, &row.Block, &row.Temperature, &row.Energy, &row.Magnetization, &spins); err != nil {
			return model.Trajectory{}, false, err
		}
		row.Spins, err = DecodeSpins(spins)
		if err != nil {
			return model.Trajectory{}, false, fmt.Errorf("decode spins of %s at step %d: %w", runID, row.Step, err)
		}
		trajectory.Rows = append(trajectory.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return model.Trajectory{}, false, err
	}
	return trajectory, true, nil
}

func (s *SQLiteStore) SaveRunRecord(ctx context.Context, record model.RunRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeRunRecord(record)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (run_id, created_at_utc, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			created_at_utc = excluded.created_at_utc,
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, record.RunID, record.CreatedAtUTC, record.SchemaVersion, record.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetRunRecord(ctx context.Context, runID string) (model.RunRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.RunRecord{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM runs WHERE run_id = ?`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RunRecord{}, false, nil
		}
		return model.RunRecord{}, false, err
	}

	record, err := DecodeRunRecord(payload)
	if err != nil {
		return model.RunRecord{}, false, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return record, true, nil
}

func (s *SQLiteStore) SaveSpectrum(ctx context.Context, spectrum model.Spectrum) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeSpectrum(spectrum)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO spectra (run_id, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, spectrum.RunID, spectrum.SchemaVersion, spectrum.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetSpectrum(ctx context.Context, runID string) (model.Spectrum, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.Spectrum{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM spectra WHERE run_id = ?`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Spectrum{}, false, nil
		}
		return model.Spectrum{}, false, err
	}

	spectrum, err := DecodeSpectrum(payload)
	if err != nil {
		return model.Spectrum{}, false, fmt.Errorf("decode spectrum %s: %w", runID, err)
	}
	return spectrum, true, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context) ([]model.RunRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT run_id, payload FROM runs ORDER BY created_at_utc, run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RunRecord
	for rows.Next() {
		var (
			runID   string
			payload []byte
		)
		if err := rows.Scan(&runID, &payload); err != nil {
			return nil, err
		}
		record, err := DecodeRunRecord(payload)
		if err != nil {
			return nil, fmt.Errorf("decode run %s: %w", runID, err)
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
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS trajectories (
			run_id TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			sites INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS trajectory_rows (
			run_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			block INTEGER NOT NULL DEFAULT 0,
			temperature REAL NOT NULL,
			energy REAL NOT NULL,
			magnetization REAL NOT NULL,
			spins BLOB NOT NULL,
			PRIMARY KEY (run_id, step)
		);
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			created_at_utc TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS spectra (
			run_id TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	return err
}
