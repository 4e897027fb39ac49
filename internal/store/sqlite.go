package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/fabriclabs/unshub/internal/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS realtime_values (
	topic         TEXT PRIMARY KEY,
	value         TEXT,
	timestamp     INTEGER NOT NULL,
	source_system TEXT,
	quality       TEXT,
	metadata      TEXT
);

CREATE TABLE IF NOT EXISTS historical_values (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	topic         TEXT NOT NULL,
	value         TEXT,
	timestamp     INTEGER NOT NULL,
	source_system TEXT,
	quality       TEXT,
	metadata      TEXT
);

CREATE INDEX IF NOT EXISTS idx_historical_topic_ts
	ON historical_values(topic, timestamp);
`

// SQLiteStore implements both RealtimeStore and HistoricalStore on one
// embedded database. database/sql serializes access per connection, so the
// handle is safe for concurrent use.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) a store at path. ":memory:" gives a
// shared in-memory database for tests.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	var connStr string
	switch {
	case path == ":memory:":
		connStr = "file:unshubmem?mode=memory&cache=shared&_pragma=journal_mode(DELETE)&_pragma=busy_timeout(30000)"
	case strings.HasPrefix(path, "file:"):
		connStr = path
	default:
		connStr = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(30000)"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Put(ctx context.Context, dp types.DataPoint) error {
	value, metadata, err := encodeValue(dp)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO realtime_values (topic, value, timestamp, source_system, quality, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(topic) DO UPDATE SET
			value = excluded.value,
			timestamp = excluded.timestamp,
			source_system = excluded.source_system,
			quality = excluded.quality,
			metadata = excluded.metadata`,
		dp.Topic, value, dp.Timestamp.UnixNano(), dp.SourceSystem, string(dp.Quality), metadata)
	if err != nil {
		return fmt.Errorf("store: put realtime: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetLatest(ctx context.Context, topic string) (types.DataPoint, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT topic, value, timestamp, source_system, quality, metadata
		FROM realtime_values WHERE topic = ?`, topic)
	dp, err := scanDataPoint(row)
	if err == sql.ErrNoRows {
		return types.DataPoint{}, false, nil
	}
	if err != nil {
		return types.DataPoint{}, false, fmt.Errorf("store: get latest: %w", err)
	}
	return dp, true, nil
}

// PutHistory appends one point to the series.
func (s *SQLiteStore) PutHistory(ctx context.Context, dp types.DataPoint) error {
	return s.PutBulk(ctx, []types.DataPoint{dp})
}

func (s *SQLiteStore) PutBulk(ctx context.Context, dps []types.DataPoint) error {
	if len(dps) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin bulk: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO historical_values (topic, value, timestamp, source_system, quality, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare bulk: %w", err)
	}
	defer stmt.Close()

	for _, dp := range dps {
		value, metadata, err := encodeValue(dp)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			dp.Topic, value, dp.Timestamp.UnixNano(), dp.SourceSystem, string(dp.Quality), metadata); err != nil {
			return fmt.Errorf("store: put bulk: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit bulk: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Query(ctx context.Context, topic string, from, to time.Time, yield func(types.DataPoint) bool) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT topic, value, timestamp, source_system, quality, metadata
		FROM historical_values
		WHERE topic = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp, id`,
		topic, from.UnixNano(), to.UnixNano())
	if err != nil {
		return fmt.Errorf("store: query history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		dp, err := scanDataPoint(rows)
		if err != nil {
			return fmt.Errorf("store: scan history: %w", err)
		}
		if !yield(dp) {
			return nil
		}
	}
	return rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanDataPoint(s scanner) (types.DataPoint, error) {
	var (
		dp       types.DataPoint
		value    sql.NullString
		ts       int64
		quality  sql.NullString
		source   sql.NullString
		metadata sql.NullString
	)
	if err := s.Scan(&dp.Topic, &value, &ts, &source, &quality, &metadata); err != nil {
		return types.DataPoint{}, err
	}
	dp.Timestamp = time.Unix(0, ts)
	dp.SourceSystem = source.String
	dp.Quality = types.Quality(quality.String)
	if value.Valid && value.String != "" {
		var v any
		if err := json.Unmarshal([]byte(value.String), &v); err == nil {
			dp.Value = v
		} else {
			dp.Value = value.String
		}
	}
	if metadata.Valid && metadata.String != "" {
		var m map[string]string
		if err := json.Unmarshal([]byte(metadata.String), &m); err == nil {
			dp.Metadata = m
		}
	}
	return dp, nil
}

func encodeValue(dp types.DataPoint) (value, metadata string, err error) {
	raw, err := json.Marshal(dp.Value)
	if err != nil {
		return "", "", fmt.Errorf("store: encode value for %q: %w", dp.Topic, err)
	}
	value = string(raw)
	if len(dp.Metadata) > 0 {
		rawMeta, err := json.Marshal(dp.Metadata)
		if err != nil {
			return "", "", fmt.Errorf("store: encode metadata for %q: %w", dp.Topic, err)
		}
		metadata = string(rawMeta)
	}
	return value, metadata, nil
}
