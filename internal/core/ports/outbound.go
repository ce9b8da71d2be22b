package ports

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/kirillkom/document-verifier/internal/core/domain"
)

// AnalysisBackend is the remote service that stores, processes and analyzes documents.
type AnalysisBackend interface {
	UploadDocument(ctx context.Context, session domain.Session, file domain.SelectedFile, body io.Reader, progress func(percent int)) (string, error)
	ProcessingStatus(ctx context.Context, documentID string) (domain.ProcessingStatus, error)
	StartAnalysis(ctx context.Context, session domain.Session, documentID string) (string, error)
	FetchReport(ctx context.Context, analysisID string) (json.RawMessage, error)
}

// FileOpener opens previously stored upload bytes.
type FileOpener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// ObjectStorage stores uploads until the orchestrator has streamed them.
type ObjectStorage interface {
	FileOpener
	Save(ctx context.Context, key string, data io.Reader) (int64, error)
	Path(key string) string
	Delete(ctx context.Context, key string) error
}

// FileInspector sniffs type and page count of a stored file.
type FileInspector interface {
	Inspect(ctx context.Context, path, displayName string) (domain.SelectedFile, error)
}

// RecommendationGenerator turns findings into next steps for the reader.
type RecommendationGenerator interface {
	Recommend(ctx context.Context, findings []domain.Finding) ([]string, error)
}

// ReportCache keeps the last good report per analysis.
type ReportCache interface {
	Get(analysisID string) (*domain.ReportResult, bool)
	Set(analysisID string, result *domain.ReportResult)
}

// AnalysisEventPublisher publishes analysis lifecycle events.
type AnalysisEventPublisher interface {
	PublishAnalysisStarted(ctx context.Context, event domain.AnalysisStarted) error
}

// AnalysisEventSubscriber consumes analysis lifecycle events.
type AnalysisEventSubscriber interface {
	SubscribeAnalysisStarted(ctx context.Context, handler func(context.Context, domain.AnalysisStarted) error) error
}

// HistoryRepository persists the analysis history.
type HistoryRepository interface {
	Create(ctx context.Context, record *domain.AnalysisRecord) error
	MarkCompleted(ctx context.Context, analysisID string, score int, status domain.ReportStatus, at time.Time) error
	MarkFailed(ctx context.Context, analysisID, message string, at time.Time) error
	ListRecent(ctx context.Context, userID string, limit int) ([]domain.AnalysisRecord, error)
}

// JobMetrics observes orchestrator runs.
type JobMetrics interface {
	StartJob()
	FinishJob(phase domain.Phase, duration time.Duration)
	ObservePoll(status string)
}
