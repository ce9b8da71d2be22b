package ports

import (
	"context"

	"github.com/kirillkom/document-verifier/internal/core/domain"
)

// UploadRunner is the inbound contract for a single session's upload-and-analyze flow.
type UploadRunner interface {
	Select(file domain.SelectedFile) (domain.UploadJob, error)
	Submit(ctx context.Context) (domain.UploadJob, error)
	Start(ctx context.Context, onDone func(domain.UploadJob, error)) (domain.UploadJob, error)
	Remove() domain.UploadJob
	Reset() domain.UploadJob
	Snapshot() domain.UploadJob
}

// ReportReader is the inbound contract for reading normalized analysis reports.
type ReportReader interface {
	Fetch(ctx context.Context, analysisID string) (*domain.ReportResult, error)
	Wait(ctx context.Context, analysisID string) (*domain.ReportResult, error)
}

// HistoryReader lists recent analyses for the dashboard.
type HistoryReader interface {
	ListRecent(ctx context.Context, session domain.Session, limit int) ([]domain.AnalysisRecord, error)
}

// ProgressEmitter receives orchestrator state changes.
type ProgressEmitter interface {
	Emit(event domain.ProgressEvent)
}
