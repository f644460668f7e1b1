// Package coresystem implements Amadeus's Core System plugin: a
// persistent memo/TODO store coupled to a cron scheduler, reachable only
// through the message bus. It is grounded in the teacher's database
// service (database/service.go) for the SQL access pattern and in
// modules/scheduler for the cron/job lifecycle, adapted to a
// message-driven CRUD surface instead of the teacher's direct Go API.
package coresystem

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	amadeus "github.com/amadeus-bus/amadeus"
)

// MemoStatus mirrors the spec's memo status enum.
type MemoStatus string

const (
	MemoActive    MemoStatus = "active"
	MemoCompleted MemoStatus = "completed"
)

// Memo is the persisted memo entity, §3.
type Memo struct {
	ID          int64             `json:"id"`
	Content     string            `json:"content"`
	Status      MemoStatus        `json:"status"`
	Cron        string            `json:"cron,omitempty"`
	RemindAt    *int64            `json:"remind_at,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Priority    amadeus.Priority  `json:"priority"`
	TodoDate    *int64            `json:"todo_date,omitempty"`
	CreatedAt   int64             `json:"created_at"`
	CompletedAt *int64            `json:"completed_at,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Store owns the SQL connection backing the memo table. Startup creates
// the memos table when it is absent and never rewrites an existing one;
// columns missing from an existing table are not added.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the SQLite database at path and
// ensures the memos schema exists.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", amadeus.ErrStorageOpenFailed, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single-writer connection, matches the teacher's pool-of-one for embedded stores

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS memos (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	content TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	cron TEXT,
	remind_at INTEGER,
	tags TEXT,
	priority TEXT NOT NULL DEFAULT 'normal',
	todo_date INTEGER,
	created_at INTEGER NOT NULL,
	completed_at INTEGER,
	metadata TEXT
)`)
	if err != nil {
		return fmt.Errorf("%w: %w", amadeus.ErrStorageOpenFailed, err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Create inserts a new active memo and returns it with its assigned ID.
func (s *Store) Create(ctx context.Context, m Memo) (Memo, error) {
	tagsJSON, err := json.Marshal(m.Tags)
	if err != nil {
		return Memo{}, fmt.Errorf("%w: %w", amadeus.ErrMalformedPayload, err)
	}
	metaJSON, err := json.Marshal(m.Metadata)
	if err != nil {
		return Memo{}, fmt.Errorf("%w: %w", amadeus.ErrMalformedPayload, err)
	}
	if m.Priority == "" {
		m.Priority = amadeus.PriorityNormal
	}
	m.Status = MemoActive
	m.CreatedAt = time.Now().Unix()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO memos (content, status, cron, remind_at, tags, priority, todo_date, created_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Content, string(m.Status), nullStr(m.Cron), m.RemindAt, string(tagsJSON), string(m.Priority), m.TodoDate, m.CreatedAt, string(metaJSON))
	if err != nil {
		return Memo{}, fmt.Errorf("%w: %w", amadeus.ErrStorageWriteFailed, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Memo{}, fmt.Errorf("%w: %w", amadeus.ErrStorageWriteFailed, err)
	}
	m.ID = id
	return m, nil
}

// Complete marks a memo completed and stamps completed_at.
func (s *Store) Complete(ctx context.Context, id int64) error {
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx,
		`UPDATE memos SET status = ?, completed_at = ? WHERE id = ? AND status = ?`,
		string(MemoCompleted), now, id, string(MemoActive))
	if err != nil {
		return fmt.Errorf("%w: %w", amadeus.ErrStorageWriteFailed, err)
	}
	return requireAffected(res)
}

// Delete removes a memo row outright.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memos WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: %w", amadeus.ErrStorageWriteFailed, err)
	}
	return requireAffected(res)
}

// Get returns one memo by ID.
func (s *Store) Get(ctx context.Context, id int64) (Memo, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, content, status, cron, remind_at, tags, priority, todo_date, created_at, completed_at, metadata
		 FROM memos WHERE id = ?`, id)
	return scanMemo(row)
}

// ListActive returns every memo currently in active status, ordered by
// id so restart recovery is deterministic.
func (s *Store) ListActive(ctx context.Context) ([]Memo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, status, cron, remind_at, tags, priority, todo_date, created_at, completed_at, metadata
		 FROM memos WHERE status = ? ORDER BY id`, string(MemoActive))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", amadeus.ErrStorageQueryFailed, err)
	}
	defer rows.Close()

	var out []Memo
	for rows.Next() {
		m, err := scanMemo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemo(row rowScanner) (Memo, error) {
	var (
		m                  Memo
		cron, tags, meta   sql.NullString
		remindAt, todoDate sql.NullInt64
		completedAt        sql.NullInt64
		status, priority   string
	)
	err := row.Scan(&m.ID, &m.Content, &status, &cron, &remindAt, &tags, &priority, &todoDate, &m.CreatedAt, &completedAt, &meta)
	if err == sql.ErrNoRows {
		return Memo{}, amadeus.ErrMemoNotFound
	}
	if err != nil {
		return Memo{}, fmt.Errorf("%w: %w", amadeus.ErrStorageQueryFailed, err)
	}

	m.Status = MemoStatus(status)
	m.Priority = amadeus.Priority(priority)
	if cron.Valid {
		m.Cron = cron.String
	}
	if remindAt.Valid {
		v := remindAt.Int64
		m.RemindAt = &v
	}
	if todoDate.Valid {
		v := todoDate.Int64
		m.TodoDate = &v
	}
	if completedAt.Valid {
		v := completedAt.Int64
		m.CompletedAt = &v
	}
	if tags.Valid && tags.String != "" {
		_ = json.Unmarshal([]byte(tags.String), &m.Tags)
	}
	if meta.Valid && meta.String != "" {
		_ = json.Unmarshal([]byte(meta.String), &m.Metadata)
	}
	return m, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %w", amadeus.ErrStorageWriteFailed, err)
	}
	if n == 0 {
		return amadeus.ErrMemoNotFound
	}
	return nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
