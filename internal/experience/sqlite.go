package experience

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps experience rows in a SQLite table
type SQLiteStore struct {
	path string
	keys []string

	mu sync.RWMutex
	db *sql.DB
}

// NewSQLiteStore creates a SQLite sink at path
func NewSQLiteStore(path string, keys []string) *SQLiteStore {
	return &SQLiteStore{path: path, keys: append([]string(nil), keys...)}
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
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
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
	if err := checkKeys(ctx, db, s.keys); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

// Append inserts rows in one transaction
func (s *SQLiteStore) Append(ctx context.Context, rows []Row) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO experience (iteration, episode_id, ts, segment, agent, features, reward)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if len(r.Features) != len(s.keys) {
			return fmt.Errorf("row for episode %s has %d features, expected %d", r.EpisodeID, len(r.Features), len(s.keys))
		}
		features, err := json.Marshal([]float64(r.Features))
		if err != nil {
			return fmt.Errorf("encode features: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, r.Iteration, r.EpisodeID, r.Timestamp.UTC().Format(time.RFC3339Nano),
			string(r.Segment), r.AgentLabel, string(features), r.Reward); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Count returns the number of stored rows
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM experience`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Rows returns the stored rows of one iteration in insertion order
func (s *SQLiteStore) Rows(ctx context.Context, iteration int) ([]Row, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	res, err := db.QueryContext(ctx, `
		SELECT episode_id, ts, segment, agent, features, reward
		FROM experience WHERE iteration = ? ORDER BY seq
	`, iteration)
	if err != nil {
		return nil, err
	}
	defer res.Close()

	var out []Row
	for res.Next() {
		var (
			r        Row
			ts       string
			segment  string
			features string
		)
		if err := res.Scan(&r.EpisodeID, &ts, &segment, &r.AgentLabel, &features, &r.Reward); err != nil {
			return nil, err
		}
		r.Iteration = iteration
		r.Segment = Segment(segment)
		if r.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("decode timestamp %q: %w", ts, err)
		}
		if err := json.Unmarshal([]byte(features), &r.Features); err != nil {
			return nil, fmt.Errorf("decode features of %s: %w", r.EpisodeID, err)
		}
		out = append(out, r)
	}
	return out, res.Err()
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
		return nil, errors.New("sqlite store is not initialized")
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS experience (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			iteration INTEGER NOT NULL,
			episode_id TEXT NOT NULL,
			ts TEXT NOT NULL,
			segment TEXT NOT NULL,
			agent TEXT NOT NULL,
			features TEXT NOT NULL,
			reward REAL NOT NULL
		);
		CREATE INDEX IF NOT EXISTS experience_iteration ON experience (iteration);
		CREATE TABLE IF NOT EXISTS feature_keys (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			keys TEXT NOT NULL
		);
	`)
	return err
}

// checkKeys records the feature column names on first use and rejects a different set later
func checkKeys(ctx context.Context, db *sql.DB, keys []string) error {
	joined := strings.Join(keys, ",")
	var stored string
	err := db.QueryRowContext(ctx, `SELECT keys FROM feature_keys WHERE id = 1`).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = db.ExecContext(ctx, `INSERT INTO feature_keys (id, keys) VALUES (1, ?)`, joined)
		return err
	}
	if err != nil {
		return err
	}
	if stored != joined {
		return fmt.Errorf("experience database was created for features %q, got %q", stored, joined)
	}
	return nil
}
