package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists run metrics in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and ensures
// the schema exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS workflow_metrics (
		workflow_id TEXT PRIMARY KEY,
		workflow_type TEXT NOT NULL,
		user_id TEXT,
		conversation_id TEXT,
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP,
		execution_time_ms INTEGER NOT NULL,
		token_usage TEXT NOT NULL,
		tool_calls INTEGER DEFAULT 0,
		errors TEXT,
		success INTEGER NOT NULL,
		memory_usage_mb REAL DEFAULT 0,
		retrieval_context_size INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_metrics_type ON workflow_metrics(workflow_type);
	CREATE INDEX IF NOT EXISTS idx_metrics_user ON workflow_metrics(user_id);
	CREATE INDEX IF NOT EXISTS idx_metrics_start ON workflow_metrics(start_time);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveMetrics upserts one finished run.
func (s *SQLiteStore) SaveMetrics(ctx context.Context, m *Metrics) error {
	if m == nil || m.WorkflowID == "" {
		return fmt.Errorf("metrics require a workflow id")
	}

	tokensJSON, err := json.Marshal(m.TokenUsage)
	if err != nil {
		return fmt.Errorf("failed to marshal token usage: %w", err)
	}
	errorsJSON, err := json.Marshal(m.Errors)
	if err != nil {
		return fmt.Errorf("failed to marshal errors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO workflow_metrics (
			workflow_id, workflow_type, user_id, conversation_id,
			start_time, end_time, execution_time_ms, token_usage,
			tool_calls, errors, success, memory_usage_mb, retrieval_context_size
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.WorkflowID, m.WorkflowType, m.UserID, m.ConversationID,
		m.StartTime, m.EndTime, m.ExecutionTime.Milliseconds(), string(tokensJSON),
		m.ToolCalls, string(errorsJSON), boolToInt(m.Success), m.MemoryUsageMB, m.RetrievalContextSize)
	if err != nil {
		return fmt.Errorf("failed to save metrics: %w", err)
	}
	return nil
}

// ListMetrics returns persisted runs matching the filter, newest first.
func (s *SQLiteStore) ListMetrics(ctx context.Context, filter Filter) ([]*Metrics, error) {
	query := `
		SELECT workflow_id, workflow_type, user_id, conversation_id,
			start_time, end_time, execution_time_ms, token_usage,
			tool_calls, errors, success, memory_usage_mb, retrieval_context_size
		FROM workflow_metrics WHERE 1=1`
	var args []any

	if filter.WorkflowType != "" {
		query += " AND workflow_type = ?"
		args = append(args, filter.WorkflowType)
	}
	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if !filter.Since.IsZero() {
		query += " AND start_time >= ?"
		args = append(args, filter.Since)
	}
	query += " ORDER BY start_time DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer rows.Close()

	var out []*Metrics
	for rows.Next() {
		m, err := scanMetrics(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Summary aggregates persisted runs started at or after since.
func (s *SQLiteStore) Summary(ctx context.Context, since time.Time) (*Summary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(AVG(success), 0), COALESCE(AVG(execution_time_ms), 0)
		FROM workflow_metrics WHERE start_time >= ?
	`, since)

	summary := &Summary{TotalTokens: make(map[string]int)}
	if err := row.Scan(&summary.TotalRuns, &summary.SuccessRate, &summary.AverageTimeMS); err != nil {
		return nil, fmt.Errorf("failed to query summary: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT token_usage FROM workflow_metrics WHERE start_time >= ?
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query token usage: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var usage map[string]int
		if err := json.Unmarshal([]byte(raw), &usage); err != nil {
			continue
		}
		for provider, tokens := range usage {
			summary.TotalTokens[provider] += tokens
		}
	}
	return summary, rows.Err()
}

func scanMetrics(rows *sql.Rows) (*Metrics, error) {
	var (
		m           Metrics
		endTime     sql.NullTime
		execMS      int64
		tokensJSON  string
		errorsJSON  sql.NullString
		successInt  int
		userID      sql.NullString
		convID      sql.NullString
		memoryMB    sql.NullFloat64
		contextSize sql.NullInt64
	)

	err := rows.Scan(&m.WorkflowID, &m.WorkflowType, &userID, &convID,
		&m.StartTime, &endTime, &execMS, &tokensJSON,
		&m.ToolCalls, &errorsJSON, &successInt, &memoryMB, &contextSize)
	if err != nil {
		return nil, fmt.Errorf("failed to scan metrics row: %w", err)
	}

	m.UserID = userID.String
	m.ConversationID = convID.String
	if endTime.Valid {
		end := endTime.Time
		m.EndTime = &end
	}
	m.ExecutionTime = time.Duration(execMS) * time.Millisecond
	m.Success = successInt != 0
	m.MemoryUsageMB = memoryMB.Float64
	m.RetrievalContextSize = int(contextSize.Int64)

	m.TokenUsage = make(map[string]int)
	if err := json.Unmarshal([]byte(tokensJSON), &m.TokenUsage); err != nil {
		return nil, fmt.Errorf("failed to decode token usage: %w", err)
	}
	if errorsJSON.Valid && errorsJSON.String != "" {
		if err := json.Unmarshal([]byte(errorsJSON.String), &m.Errors); err != nil {
			return nil, fmt.Errorf("failed to decode errors: %w", err)
		}
	}
	return &m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
