// Package session persists conversation history in a local SQLite file.
//
// The router reads two signals from here: how long a conversation has been
// running (a complexity input) and which agent answered the session last
// (the recency penalty). The dispatcher appends one user turn per request
// and one assistant turn per successful invocation.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Turn is one message in a conversation.
type Turn struct {
	ID         string    `json:"id"`
	SessionKey string    `json:"session_key"`
	Role       string    `json:"role"`
	AgentID    string    `json:"agent_id,omitempty"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// Roles recorded on turns.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Store is the conversation history database. A single shared connection
// serializes all goroutines through one writer, avoiding SQLITE_BUSY from
// concurrent independent connections.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates the store at path (and any missing parent directories) and
// initializes the schema.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create session db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger.With("component", "session_store")}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			session_key TEXT NOT NULL,
			role TEXT NOT NULL,
			agent_id TEXT,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_key, created_at)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create session schema: %w", err)
		}
	}
	return nil
}

// Append records one turn. A zero CreatedAt is stamped with the current time,
// and a missing ID is generated.
func (s *Store) Append(ctx context.Context, turn Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (id, session_key, role, agent_id, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.SessionKey, turn.Role, turn.AgentID, turn.Content, turn.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// History returns the session's turns oldest-first, up to limit (0 for all).
func (s *Store) History(ctx context.Context, sessionKey string, limit int) ([]Turn, error) {
	query := `SELECT id, session_key, role, agent_id, content, created_at
		FROM turns WHERE session_key = ? ORDER BY created_at ASC, id ASC`
	args := []any{sessionKey}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var agentID sql.NullString
		var createdAt int64
		if err := rows.Scan(&t.ID, &t.SessionKey, &t.Role, &agentID, &t.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.AgentID = agentID.String
		t.CreatedAt = time.UnixMilli(createdAt).UTC()
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// TurnCount returns how many turns the session holds.
func (s *Store) TurnCount(ctx context.Context, sessionKey string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM turns WHERE session_key = ?`, sessionKey).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count turns: %w", err)
	}
	return count, nil
}

// LastAgent returns the agent that most recently answered this session and
// when. ok is false for sessions with no assistant turns.
func (s *Store) LastAgent(ctx context.Context, sessionKey string) (agentID string, at time.Time, ok bool, err error) {
	var createdAt int64
	row := s.db.QueryRowContext(ctx,
		`SELECT agent_id, created_at FROM turns
		 WHERE session_key = ? AND role = ? AND agent_id != ''
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		sessionKey, RoleAssistant)
	switch err := row.Scan(&agentID, &createdAt); {
	case errors.Is(err, sql.ErrNoRows):
		return "", time.Time{}, false, nil
	case err != nil:
		return "", time.Time{}, false, fmt.Errorf("query last agent: %w", err)
	}
	return agentID, time.UnixMilli(createdAt).UTC(), true, nil
}

// PruneTurns deletes turns created before the cutoff and returns how many
// rows were removed.
func (s *Store) PruneTurns(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM turns WHERE created_at < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune turns: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune turns: %w", err)
	}
	return deleted, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
