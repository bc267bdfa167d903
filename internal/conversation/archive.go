package conversation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aurora-insure/concierge/internal/session"
)

// ArchiveStore persists completed turns to Postgres for audit and admin
// review. Redis holds the live session; this table is the long-term record.
type ArchiveStore struct {
	db *sql.DB
}

// NewArchiveStore wraps the database handle. A nil handle yields a nil store,
// which the engine treats as archiving disabled.
func NewArchiveStore(db *sql.DB) *ArchiveStore {
	if db == nil {
		return nil
	}
	return &ArchiveStore{db: db}
}

var _ Archiver = (*ArchiveStore)(nil)

// ArchiveTurns inserts the turns in order inside one transaction.
func (s *ArchiveStore) ArchiveTurns(ctx context.Context, sessionID string, turns []session.Turn) error {
	if s == nil || len(turns) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("conversation: failed to begin archive tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const insert = `
		INSERT INTO conversation_archive (session_id, turn_id, role, content, tool_name, tool_input, tool_result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (turn_id) DO NOTHING`

	for _, turn := range turns {
		_, err := tx.ExecContext(ctx, insert,
			sessionID,
			turn.ID,
			string(turn.Role),
			nullableString(turn.Content),
			nullableString(turn.ToolName),
			nullableBytes(turn.ToolInput),
			nullableBytes(turn.ToolResult),
			turn.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("conversation: failed to archive turn %s: %w", turn.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("conversation: failed to commit archive tx: %w", err)
	}
	return nil
}

// ListTurns returns up to limit archived turns for a session in append order.
func (s *ArchiveStore) ListTurns(ctx context.Context, sessionID string, limit int) ([]session.Turn, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 200
	}

	const query = `
		SELECT turn_id, role, content, tool_name, tool_input, tool_result, created_at
		FROM conversation_archive
		WHERE session_id = $1
		ORDER BY created_at ASC, turn_id ASC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("conversation: failed to list archived turns: %w", err)
	}
	defer rows.Close()

	var turns []session.Turn
	for rows.Next() {
		var (
			turn       session.Turn
			role       string
			content    sql.NullString
			toolName   sql.NullString
			toolInput  []byte
			toolResult []byte
			createdAt  time.Time
		)
		if err := rows.Scan(&turn.ID, &role, &content, &toolName, &toolInput, &toolResult, &createdAt); err != nil {
			return nil, fmt.Errorf("conversation: failed to scan archived turn: %w", err)
		}
		turn.Role = session.Role(role)
		turn.Content = content.String
		turn.ToolName = toolName.String
		turn.ToolInput = toolInput
		turn.ToolResult = toolResult
		turn.CreatedAt = createdAt
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: failed to iterate archived turns: %w", err)
	}
	return turns, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
