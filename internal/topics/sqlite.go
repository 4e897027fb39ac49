package topics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/fabriclabs/unshub/internal/types"
)

const topicSchema = `
CREATE TABLE IF NOT EXISTS topic_configurations (
	id           TEXT PRIMARY KEY,
	topic        TEXT NOT NULL UNIQUE,
	source_type  TEXT,
	active       INTEGER NOT NULL DEFAULT 1,
	ns_path      TEXT,
	display_name TEXT,
	description  TEXT,
	verified_by  TEXT,
	verified_at  INTEGER,
	created_at   INTEGER NOT NULL,
	modified_at  INTEGER NOT NULL,
	metadata     TEXT
);
`

// SQLiteRepository persists topic configurations in an embedded database.
type SQLiteRepository struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) a repository at path. ":memory:" gives a
// shared in-memory database for tests.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepository, error) {
	var connStr string
	switch {
	case path == ":memory:":
		connStr = "file:unshubtopics?mode=memory&cache=shared&_pragma=journal_mode(DELETE)&_pragma=busy_timeout(30000)"
	case strings.HasPrefix(path, "file:"):
		connStr = path
	default:
		connStr = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(30000)"
	}
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("topics: open sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, topicSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("topics: init schema: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

// Close releases the database handle.
func (r *SQLiteRepository) Close() error { return r.db.Close() }

func (r *SQLiteRepository) GetByTopic(ctx context.Context, topic string) (types.TopicConfiguration, bool, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE topic = ?`, topic)
	cfg, err := scanConfig(row)
	if err == sql.ErrNoRows {
		return types.TopicConfiguration{}, false, nil
	}
	if err != nil {
		return types.TopicConfiguration{}, false, fmt.Errorf("topics: get by topic: %w", err)
	}
	return cfg, true, nil
}

func (r *SQLiteRepository) GetAll(ctx context.Context) ([]types.TopicConfiguration, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+` ORDER BY topic`)
	if err != nil {
		return nil, fmt.Errorf("topics: get all: %w", err)
	}
	defer rows.Close()

	var out []types.TopicConfiguration
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("topics: scan: %w", err)
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) Save(ctx context.Context, cfg types.TopicConfiguration) (types.TopicConfiguration, error) {
	now := time.Now()

	existing, ok, err := r.GetByTopic(ctx, cfg.Topic)
	if err != nil {
		return types.TopicConfiguration{}, err
	}
	if ok {
		cfg.ID = existing.ID
		cfg.CreatedAt = existing.CreatedAt
	} else {
		if cfg.ID == "" {
			cfg.ID = uuid.NewString()
		}
		cfg.CreatedAt = now
	}
	cfg.ModifiedAt = now

	var metadata string
	if len(cfg.Metadata) > 0 {
		raw, err := json.Marshal(cfg.Metadata)
		if err != nil {
			return types.TopicConfiguration{}, fmt.Errorf("topics: encode metadata: %w", err)
		}
		metadata = string(raw)
	}
	var verifiedAt any
	if cfg.VerifiedAt != nil {
		verifiedAt = cfg.VerifiedAt.UnixNano()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO topic_configurations
			(id, topic, source_type, active, ns_path, display_name, description,
			 verified_by, verified_at, created_at, modified_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(topic) DO UPDATE SET
			source_type = excluded.source_type,
			active = excluded.active,
			ns_path = excluded.ns_path,
			display_name = excluded.display_name,
			description = excluded.description,
			verified_by = excluded.verified_by,
			verified_at = excluded.verified_at,
			modified_at = excluded.modified_at,
			metadata = excluded.metadata`,
		cfg.ID, cfg.Topic, cfg.SourceType, boolToInt(cfg.Active), cfg.NSPath,
		cfg.DisplayName, cfg.Description, cfg.VerifiedBy, verifiedAt,
		cfg.CreatedAt.UnixNano(), cfg.ModifiedAt.UnixNano(), metadata)
	if err != nil {
		return types.TopicConfiguration{}, fmt.Errorf("topics: save: %w", err)
	}
	return cfg, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM topic_configurations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("topics: delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) Verify(ctx context.Context, id, by string) error {
	now := time.Now()
	res, err := r.db.ExecContext(ctx, `
		UPDATE topic_configurations
		SET verified_by = ?, verified_at = ?, modified_at = ?
		WHERE id = ?`, by, now.UnixNano(), now.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("topics: verify: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const selectColumns = `
	SELECT id, topic, source_type, active, ns_path, display_name, description,
	       verified_by, verified_at, created_at, modified_at, metadata
	FROM topic_configurations`

type scanner interface {
	Scan(dest ...any) error
}

func scanConfig(s scanner) (types.TopicConfiguration, error) {
	var (
		cfg        types.TopicConfiguration
		active     int
		sourceType sql.NullString
		nsPath     sql.NullString
		display    sql.NullString
		desc       sql.NullString
		verifiedBy sql.NullString
		verifiedAt sql.NullInt64
		createdAt  int64
		modifiedAt int64
		metadata   sql.NullString
	)
	err := s.Scan(&cfg.ID, &cfg.Topic, &sourceType, &active, &nsPath, &display,
		&desc, &verifiedBy, &verifiedAt, &createdAt, &modifiedAt, &metadata)
	if err != nil {
		return types.TopicConfiguration{}, err
	}
	cfg.SourceType = sourceType.String
	cfg.Active = active != 0
	cfg.NSPath = nsPath.String
	cfg.DisplayName = display.String
	cfg.Description = desc.String
	cfg.VerifiedBy = verifiedBy.String
	if verifiedAt.Valid {
		t := time.Unix(0, verifiedAt.Int64)
		cfg.VerifiedAt = &t
	}
	cfg.CreatedAt = time.Unix(0, createdAt)
	cfg.ModifiedAt = time.Unix(0, modifiedAt)
	if metadata.Valid && metadata.String != "" {
		var m map[string]string
		if err := json.Unmarshal([]byte(metadata.String), &m); err == nil {
			cfg.Metadata = m
		}
	}
	return cfg, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
