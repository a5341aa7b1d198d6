package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/golang/snappy"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/okian/pulse/internal/domain/summary"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// SQLiteStore persists sessions in a SQLite file. Payloads are JSON
// compressed with snappy.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

// OpenSQLite opens path and applies the embedded schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: sqlite path is required", ErrInvalidRecord)
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path)
	}
	dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single connection keeps :memory: databases alive and serializes writers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func applySchema(db *sql.DB) error {
	files, err := fs.Glob(schemaFS, "schema/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, f := range files {
		stmt, err := schemaFS.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read %s: %w", f, err)
		}
		if _, err := db.Exec(string(stmt)); err != nil {
			return fmt.Errorf("exec %s: %w", f, err)
		}
	}
	return nil
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, p summary.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec, err := RecordFor(p, s.now())
	if err != nil {
		return err
	}
	data, err := marshalPayload(p)
	if err != nil {
		return err
	}
	coins, err := json.Marshal(rec.Coins)
	if err != nil {
		return fmt.Errorf("marshal coins: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (
		   session_id, start_time, end_time, duration_ms, total_coins, coins, saved_at, payload
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   start_time = excluded.start_time,
		   end_time = excluded.end_time,
		   duration_ms = excluded.duration_ms,
		   total_coins = excluded.total_coins,
		   coins = excluded.coins,
		   saved_at = excluded.saved_at,
		   payload = excluded.payload`,
		rec.SessionID,
		toMillis(rec.StartTime),
		toMillis(rec.EndTime),
		rec.DurationMs,
		rec.TotalCoins,
		string(coins),
		toMillis(rec.SavedAt),
		snappy.Encode(nil, data),
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", rec.SessionID, err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (summary.Payload, error) {
	if err := ctx.Err(); err != nil {
		return summary.Payload{}, err
	}
	var compressed []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM sessions WHERE session_id = ?`, sessionID).Scan(&compressed)
	if errors.Is(err, sql.ErrNoRows) {
		return summary.Payload{}, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if err != nil {
		return summary.Payload{}, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		return summary.Payload{}, fmt.Errorf("decompress session %s: %w", sessionID, err)
	}
	return unmarshalPayload(data)
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit < 1 {
		return nil, ErrInvalidLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, start_time, end_time, duration_ms, total_coins, coins, saved_at
		   FROM sessions
		  ORDER BY start_time DESC, session_id DESC
		  LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec               Record
			start, end, saved int64
			coins             string
		)
		if err := rows.Scan(&rec.SessionID, &start, &end, &rec.DurationMs, &rec.TotalCoins, &coins, &saved); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		rec.StartTime = fromMillis(start)
		rec.EndTime = fromMillis(end)
		rec.SavedAt = fromMillis(saved)
		if err := json.Unmarshal([]byte(coins), &rec.Coins); err != nil {
			return nil, fmt.Errorf("decode coins of %s: %w", rec.SessionID, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
