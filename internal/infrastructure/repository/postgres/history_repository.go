package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/document-verifier/internal/core/domain"
)

const schemaLockKey int64 = 2026101501

type HistoryRepository struct {
	db *sql.DB
}

func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *HistoryRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS analyses (
	analysis_id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	filename TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL,
	confidence_score INTEGER,
	status TEXT,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analyses_user_created ON analyses(user_id, created_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure analyses schema: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// Create is idempotent so that a redelivered event does not fail the worker.
func (r *HistoryRepository) Create(ctx context.Context, record *domain.AnalysisRecord) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO analyses (analysis_id, document_id, user_id, filename, state, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (analysis_id) DO NOTHING
`, record.AnalysisID, record.DocumentID, record.UserID, record.Filename, string(record.State), record.CreatedAt, record.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create analysis record: %w", err)
	}
	return nil
}

func (r *HistoryRepository) MarkCompleted(ctx context.Context, analysisID string, score int, status domain.ReportStatus, at time.Time) error {
	return r.finish(ctx, "mark analysis completed", `
UPDATE analyses
SET state = $2, confidence_score = $3, status = $4, error_message = NULL, updated_at = $5
WHERE analysis_id = $1
`, analysisID, string(domain.AnalysisStateCompleted), score, string(status), at)
}

func (r *HistoryRepository) MarkFailed(ctx context.Context, analysisID, message string, at time.Time) error {
	return r.finish(ctx, "mark analysis failed", `
UPDATE analyses
SET state = $2, error_message = $3, updated_at = $4
WHERE analysis_id = $1
`, analysisID, string(domain.AnalysisStateFailed), message, at)
}

func (r *HistoryRepository) finish(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrNotFound, op, fmt.Errorf("analysis id=%v", args[0]))
	}
	return nil
}

func (r *HistoryRepository) ListRecent(ctx context.Context, userID string, limit int) ([]domain.AnalysisRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT analysis_id, document_id, user_id, filename, state, confidence_score, status, error_message, created_at, updated_at
FROM analyses
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2
`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	out := make([]domain.AnalysisRecord, 0, limit)
	for rows.Next() {
		record, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analyses: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (domain.AnalysisRecord, error) {
	var (
		record       domain.AnalysisRecord
		state        string
		score        sql.NullInt64
		status       sql.NullString
		errorMessage sql.NullString
	)
	err := row.Scan(
		&record.AnalysisID,
		&record.DocumentID,
		&record.UserID,
		&record.Filename,
		&state,
		&score,
		&status,
		&errorMessage,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return domain.AnalysisRecord{}, err
	}
	record.State = domain.AnalysisState(state)
	if score.Valid {
		v := int(score.Int64)
		record.ConfidenceScore = &v
	}
	record.Status = domain.ReportStatus(status.String)
	record.ErrorMessage = errorMessage.String
	return record, nil
}
