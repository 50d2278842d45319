// Package sessionstore implements durable, indexed records of sessions,
// conversation history, and per-agent invocation outcomes, backed by
// database/sql against sqlite3, postgres, or mysql with a
// transaction-per-operation, dialect-aware query builder.
package sessionstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kadirpekel/orchestra/internal/orcherr"
)

// Status is a session's lifecycle state.
type Status string

const (
	StatusActive Status = "active"
	StatusCompleted Status = "completed"
	StatusExpired Status = "expired"
)

// Role identifies the speaker of one conversation message.
type Role string

const (
	RoleUser Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem Role = "system"
)

// Session is the sessions table row shape.
type Session struct {
	SessionID string
	UserID string
	CreatedAt time.Time
	UpdatedAt time.Time
	Status Status
	Metadata map[string]string
}

// Message is one conversation_history row.
type Message struct {
	SessionID string
	Seq int64
	Role Role
	Content string
	Timestamp time.Time
}

// Invocation is one agent_invocations row.
type Invocation struct {
	SessionID string
	AgentName string
	Query string
	Response string
	Success bool
	ErrorMessage string
	DurationMS int64
	Timestamp time.Time
}

// SessionContext is the session_context row, read by the router for
// recency bias.
type SessionContext struct {
	SessionID string
	LastAgentCalled string
	LastQuery string
	LastResponse string
	UpdatedAt time.Time
}

// Full is the assembled response to get_session.
type Full struct {
	Session Session
	History []Message
	Invocations []Invocation
	Context *SessionContext
}

// Store is the Session Store (C4).
type Store struct {
	db *sql.DB
	dialect string
}

const (
	createSessionsSQL = `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id VARCHAR(64) PRIMARY KEY,
		user_id VARCHAR(255) NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		status VARCHAR(16) NOT NULL,
		metadata TEXT
	)`
	createSessionsUserIdxSQL = `CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id)`
	createSessionsResumeIdxSQL = `CREATE INDEX IF NOT EXISTS idx_sessions_resume ON sessions(user_id, status, updated_at)`

	createHistorySQL = `
	CREATE TABLE IF NOT EXISTS conversation_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id VARCHAR(64) NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
		role VARCHAR(16) NOT NULL,
		content TEXT NOT NULL,
		seq INTEGER NOT NULL,
		timestamp TIMESTAMP NOT NULL
	)`
	createHistoryIdxSQL = `CREATE INDEX IF NOT EXISTS idx_history_session_seq ON conversation_history(session_id, seq)`

	createInvocationsSQL = `
	CREATE TABLE IF NOT EXISTS agent_invocations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id VARCHAR(64) NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
		agent_name VARCHAR(255) NOT NULL,
		query TEXT NOT NULL,
		response TEXT,
		success BOOLEAN NOT NULL,
		error_message TEXT,
		duration_ms BIGINT NOT NULL,
		timestamp TIMESTAMP NOT NULL
	)`
	createInvocationsSessionIdxSQL = `CREATE INDEX IF NOT EXISTS idx_invocations_session ON agent_invocations(session_id)`
	createInvocationsAgentIdxSQL = `CREATE INDEX IF NOT EXISTS idx_invocations_agent ON agent_invocations(agent_name)`

	createContextSQL = `
	CREATE TABLE IF NOT EXISTS session_context (
		session_id VARCHAR(64) PRIMARY KEY REFERENCES sessions(session_id) ON DELETE CASCADE,
		last_agent_called VARCHAR(255),
		last_query TEXT,
		last_response TEXT,
		updated_at TIMESTAMP NOT NULL
	)`
)

// Open opens db (already configured for dialect) and ensures schema.
// AUTOINCREMENT / INTEGER PRIMARY KEY is sqlite-flavored; for postgres
// and mysql the identical DDL works unmodified except AUTOINCREMENT,
// which sqlite alone requires this spelling for — callers targeting
// postgres/mysql should use SERIAL / AUTO_INCREMENT schemas instead.
// This repo targets sqlite as the default dialect and documents
// postgres/mysql as supported at the driver level with an
// operator-supplied pre-created schema (see DESIGN.md).
// For sqlite3 it enables foreign keys on every connection (go-sqlite3's
// _foreign_keys DSN option) so ON DELETE CASCADE takes effect.
func Open(driver, dsn string) (*Store, error) {
	if normalizeDialect(driver) == "sqlite3" && !strings.Contains(dsn, "_foreign_keys") && !strings.Contains(dsn, "_fk") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_foreign_keys=1"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: open %s: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("sessionstore: ping %s: %w", driver, err)
	}

	s := &Store{db: db, dialect: normalizeDialect(driver)}
	if s.dialect == "sqlite3" {
		if err := s.initSchema(); err != nil {
			return nil, fmt.Errorf("sessionstore: init schema: %w", err)
		}
	}
	return s, nil
}

func normalizeDialect(driver string) string {
	switch driver {
	case "postgres", "mysql":
		return driver
	default:
		return "sqlite3"
	}
}

func (s *Store) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, stmt := range []string{
		createSessionsSQL, createSessionsUserIdxSQL, createSessionsResumeIdxSQL,
		createHistorySQL, createHistoryIdxSQL,
		createInvocationsSQL, createInvocationsSessionIdxSQL, createInvocationsAgentIdxSQL,
		createContextSQL,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 1
	for _, c := range query {
		if c == '?' {
			fmt.Fprintf(&b, "$%d", n)
			n++
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// CreateSession inserts a new active session for userID.
func (s *Store) CreateSession(ctx context.Context, userID string) (string, error) {
	sessionID := uuid.NewString()
	now := time.Now()
	_, err := s.db.ExecContext(ctx, s.rebind(
			`INSERT INTO sessions (session_id, user_id, created_at, updated_at, status, metadata) VALUES (?, ?, ?, ?, ?, ?)`),
		sessionID, userID, now, now, StatusActive, "{}")
	if err != nil {
		return "", fmt.Errorf("sessionstore: create session: %w: %w", err, orcherr.ErrPersistFailed)
	}
	return sessionID, nil
}

// GetSession assembles the full session view.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Full, error) {
	sess, err := s.getSessionRow(ctx, s.db, sessionID)
	if err != nil {
		return nil, err
	}

	history, err := s.getHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	invocations, err := s.getInvocations(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sessCtx, err := s.getContext(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return &Full{Session: *sess, History: history, Invocations: invocations, Context: sessCtx}, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args...any) *sql.Row
}

func (s *Store) getSessionRow(ctx context.Context, q querier, sessionID string) (*Session, error) {
	var sess Session
	var metaJSON string
	err := q.QueryRowContext(ctx, s.rebind(
			`SELECT session_id, user_id, created_at, updated_at, status, metadata FROM sessions WHERE session_id = ?`),
		sessionID).Scan(&sess.SessionID, &sess.UserID, &sess.CreatedAt, &sess.UpdatedAt, &sess.Status, &metaJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sessionstore: session %q: %w", sessionID, orcherr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sessionstore: get session: %w", err)
	}
	if metaJSON != "" {
		_ = json.Unmarshal([]byte(metaJSON), &sess.Metadata)
	}
	return &sess, nil
}

func (s *Store) getHistory(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
			`SELECT session_id, seq, role, content, timestamp FROM conversation_history WHERE session_id = ? ORDER BY seq ASC`),
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: get history: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.SessionID, &m.Seq, &m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) getInvocations(ctx context.Context, sessionID string) ([]Invocation, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
			`SELECT session_id, agent_name, query, response, success, error_message, duration_ms, timestamp FROM agent_invocations WHERE session_id = ? ORDER BY id ASC`),
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: get invocations: %w", err)
	}
	defer rows.Close()

	var out []Invocation
	for rows.Next() {
		var inv Invocation
		var errMsg sql.NullString
		if err := rows.Scan(&inv.SessionID, &inv.AgentName, &inv.Query, &inv.Response, &inv.Success, &errMsg, &inv.DurationMS, &inv.Timestamp); err != nil {
			return nil, err
		}
		inv.ErrorMessage = errMsg.String
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (s *Store) getContext(ctx context.Context, sessionID string) (*SessionContext, error) {
	var c SessionContext
	var lastAgent, lastQuery, lastResponse sql.NullString
	err := s.db.QueryRowContext(ctx, s.rebind(
			`SELECT session_id, last_agent_called, last_query, last_response, updated_at FROM session_context WHERE session_id = ?`),
		sessionID).Scan(&c.SessionID, &lastAgent, &lastQuery, &lastResponse, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sessionstore: get context: %w", err)
	}
	c.LastAgentCalled, c.LastQuery, c.LastResponse = lastAgent.String, lastQuery.String, lastResponse.String
	return &c, nil
}

// AppendMessage assigns the next seq for the session and inserts a
// message, bumping sessions.updated_at.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, role Role, content string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sessionstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx, s.rebind(
			`SELECT MAX(seq) FROM conversation_history WHERE session_id = ?`), sessionID).Scan(&maxSeq); err != nil {
		return 0, fmt.Errorf("sessionstore: next seq: %w", err)
	}
	seq := maxSeq.Int64 + 1

	now := time.Now()
	if _, err := tx.ExecContext(ctx, s.rebind(
			`INSERT INTO conversation_history (session_id, role, content, seq, timestamp) VALUES (?, ?, ?, ?, ?)`),
		sessionID, role, content, seq, now); err != nil {
		return 0, fmt.Errorf("sessionstore: append message: %w: %w", err, orcherr.ErrPersistFailed)
	}

	if _, err := tx.ExecContext(ctx, s.rebind(
			`UPDATE sessions SET updated_at = ? WHERE session_id = ?`), now, sessionID); err != nil {
		return 0, fmt.Errorf("sessionstore: touch session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sessionstore: commit: %w", err)
	}
	return seq, nil
}

// RecordInvocation inserts an invocation row and upserts session_context.
func (s *Store) RecordInvocation(ctx context.Context, inv Invocation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sessionstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	if inv.Timestamp.IsZero() {
		inv.Timestamp = now
	}

	if _, err := tx.ExecContext(ctx, s.rebind(
			`INSERT INTO agent_invocations (session_id, agent_name, query, response, success, error_message, duration_ms, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			inv.SessionID, inv.AgentName, inv.Query, inv.Response, inv.Success, inv.ErrorMessage, inv.DurationMS, inv.Timestamp); err != nil {
		return fmt.Errorf("sessionstore: record invocation: %w: %w", err, orcherr.ErrPersistFailed)
	}

	if err := s.upsertContextTx(ctx, tx, inv.SessionID, inv.AgentName, inv.Query, inv.Response, now); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) upsertContextTx(ctx context.Context, tx *sql.Tx, sessionID, agentName, query, response string, now time.Time) error {
	var query2 string
	switch s.dialect {
	case "postgres":
		query2 = `INSERT INTO session_context (session_id, last_agent_called, last_query, last_response, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO UPDATE SET last_agent_called = $2, last_query = $3, last_response = $4, updated_at = $5`
	case "mysql":
		query2 = `INSERT INTO session_context (session_id, last_agent_called, last_query, last_response, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE last_agent_called = VALUES(last_agent_called), last_query = VALUES(last_query), last_response = VALUES(last_response), updated_at = VALUES(updated_at)`
	default:
		query2 = `INSERT INTO session_context (session_id, last_agent_called, last_query, last_response, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET last_agent_called = excluded.last_agent_called, last_query = excluded.last_query, last_response = excluded.last_response, updated_at = excluded.updated_at`
	}
	_, err := tx.ExecContext(ctx, query2, sessionID, agentName, query, response, now)
	if err != nil {
		return fmt.Errorf("sessionstore: upsert context: %w", err)
	}
	return nil
}

// SetStatus updates a session's status.
func (s *Store) SetStatus(ctx context.Context, sessionID string, status Status) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
			`UPDATE sessions SET status = ?, updated_at = ? WHERE session_id = ?`), status, time.Now(), sessionID)
	if err != nil {
		return fmt.Errorf("sessionstore: set status: %w: %w", err, orcherr.ErrPersistFailed)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("sessionstore: session %q: %w", sessionID, orcherr.ErrNotFound)
	}
	return nil
}

// Delete removes a session; cascading FKs remove history/invocations/context.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM sessions WHERE session_id = ?`), sessionID)
	if err != nil {
		return fmt.Errorf("sessionstore: delete: %w: %w", err, orcherr.ErrPersistFailed)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("sessionstore: session %q: %w", sessionID, orcherr.ErrNotFound)
	}
	return nil
}

// ActiveSessionForUser returns the most recent active session within
// window for resumption, or ("", nil) if none.
func (s *Store) ActiveSessionForUser(ctx context.Context, userID string, window time.Duration) (string, error) {
	cutoff := time.Now().Add(-window)
	var sessionID string
	err := s.db.QueryRowContext(ctx, s.rebind(
			`SELECT session_id FROM sessions WHERE user_id = ? AND status = ? AND updated_at > ? ORDER BY updated_at DESC LIMIT 1`),
		userID, StatusActive, cutoff).Scan(&sessionID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("sessionstore: active session for user: %w", err)
	}
	return sessionID, nil
}

// Cleanup deletes completed sessions older than ttlDays and all sessions
// older than the hard expiry.
func (s *Store) Cleanup(ctx context.Context, ttlDays, hardExpiryDays int) (int64, error) {
	completedCutoff := time.Now().AddDate(0, 0, -ttlDays)
	hardCutoff := time.Now().AddDate(0, 0, -hardExpiryDays)

	res1, err := s.db.ExecContext(ctx, s.rebind(
			`DELETE FROM sessions WHERE status = ? AND updated_at < ?`), StatusCompleted, completedCutoff)
	if err != nil {
		return 0, fmt.Errorf("sessionstore: cleanup completed: %w", err)
	}
	n1, _ := res1.RowsAffected()

	res2, err := s.db.ExecContext(ctx, s.rebind(
			`DELETE FROM sessions WHERE updated_at < ?`), hardCutoff)
	if err != nil {
		return 0, fmt.Errorf("sessionstore: cleanup hard expiry: %w", err)
	}
	n2, _ := res2.RowsAffected()

	return n1 + n2, nil
}
