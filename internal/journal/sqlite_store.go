package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on top of modernc.org/sqlite.
type SQLiteStore struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewSQLiteStore opens (creating if absent) the journal database at dbPath.
func NewSQLiteStore(dbPath string, logger *logrus.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	logger.Info("journal SQLite store initialized")
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS journal_events (
		sequence       INTEGER PRIMARY KEY,
		type           TEXT NOT NULL,
		map_name       TEXT NOT NULL,
		key            TEXT NOT NULL,
		value          BLOB,
		previous_value BLOB,
		timestamp      TEXT NOT NULL,
		node_id        TEXT NOT NULL,
		metadata       TEXT,
		created_at     INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_journal_map_name ON journal_events(map_name);
	CREATE INDEX IF NOT EXISTS idx_journal_map_key ON journal_events(map_name, key);
	CREATE INDEX IF NOT EXISTS idx_journal_created_at ON journal_events(created_at);
	CREATE INDEX IF NOT EXISTS idx_journal_node_id ON journal_events(node_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) AppendBatch(events []Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin journal batch: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO journal_events
			(sequence, type, map_name, key, value, previous_value, timestamp, node_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare journal insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, e := range events {
		var metaJSON []byte
		if len(e.Metadata) > 0 {
			metaJSON, err = json.Marshal(e.Metadata)
			if err != nil {
				tx.Rollback()
				return fmt.Errorf("marshal journal metadata: %w", err)
			}
		}
		if _, err := stmt.Exec(e.Sequence, string(e.Type), e.MapName, e.Key, e.Value, e.PreviousValue,
			e.Timestamp.String(), e.NodeID, string(metaJSON), now); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert journal event seq=%d: %w", e.Sequence, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit journal batch: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadTail(limit int) ([]Event, error) {
	rows, err := s.db.Query(`
		SELECT sequence, type, map_name, key, value, previous_value, timestamp, node_id, metadata
		FROM journal_events ORDER BY sequence DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("load journal tail: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *SQLiteStore) Range(fromSeq, toSeq uint64, mapName string, eventType EventType) ([]Event, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT sequence, type, map_name, key, value, previous_value, timestamp, node_id, metadata FROM journal_events WHERE sequence BETWEEN ? AND ?`)
	args := []any{fromSeq, toSeq}
	if mapName != "" {
		sb.WriteString(` AND map_name = ?`)
		args = append(args, mapName)
	}
	if eventType != "" {
		sb.WriteString(` AND type = ?`)
		args = append(args, string(eventType))
	}
	sb.WriteString(` ORDER BY sequence ASC`)

	rows, err := s.db.Query(sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("range journal events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *SQLiteStore) DeleteOlderThan(cutoffUnixMs int64) (int, error) {
	res, err := s.db.Exec(`DELETE FROM journal_events WHERE created_at < ?`, cutoffUnixMs)
	if err != nil {
		return 0, fmt.Errorf("delete old journal events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var e Event
		var typ, tsStr, metaJSON sql.NullString
		if err := rows.Scan(&e.Sequence, &typ, &e.MapName, &e.Key, &e.Value, &e.PreviousValue, &tsStr, &e.NodeID, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan journal event: %w", err)
		}
		e.Type = EventType(typ.String)
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal journal metadata: %w", err)
			}
		}
		ts, err := parseTimestamp(tsStr.String)
		if err != nil {
			return nil, err
		}
		e.Timestamp = ts
		out = append(out, e)
	}
	return out, rows.Err()
}
