package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/document-verifier/internal/core/domain"
)

func TestHistoryRepositoryCreateIsIdempotent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectExec("ON CONFLICT \\(analysis_id\\) DO NOTHING").
		WithArgs("an-1", "doc-1", "u-1", "contract.pdf", "started", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewHistoryRepository(db)
	err = repo.Create(context.Background(), &domain.AnalysisRecord{
		AnalysisID: "an-1", DocumentID: "doc-1", UserID: "u-1", Filename: "contract.pdf",
		State: domain.AnalysisStateStarted, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestHistoryRepositoryListRecentMapsNullableColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"analysis_id", "document_id", "user_id", "filename", "state", "confidence_score", "status", "error_message", "created_at", "updated_at"}).
		AddRow("an-2", "doc-2", "u-1", "memo.png", "completed", int64(64), "review", nil, now, now).
		AddRow("an-1", "doc-1", "u-1", "contract.pdf", "started", nil, nil, nil, now, now)

	mock.ExpectQuery("FROM analyses").
		WithArgs("u-1", 10).
		WillReturnRows(rows)

	records, err := NewHistoryRepository(db).ListRecent(context.Background(), "u-1", 10)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ConfidenceScore == nil || *records[0].ConfidenceScore != 64 || records[0].Status != domain.ReportReview {
		t.Fatalf("unexpected completed record: %+v", records[0])
	}
	if records[1].ConfidenceScore != nil || records[1].Status != "" || records[1].State != domain.AnalysisStateStarted {
		t.Fatalf("unexpected started record: %+v", records[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestHistoryRepositoryMarkFailedReturnsNotFoundWhenNoRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE analyses").
		WithArgs("missing", "failed", "boom", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = NewHistoryRepository(db).MarkFailed(context.Background(), "missing", "boom", time.Now())
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestHistoryRepositoryMarkCompleted(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE analyses").
		WithArgs("an-1", "completed", 85, "clear", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := NewHistoryRepository(db).MarkCompleted(context.Background(), "an-1", 85, domain.ReportClear, time.Now()); err != nil {
		t.Fatalf("MarkCompleted() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
