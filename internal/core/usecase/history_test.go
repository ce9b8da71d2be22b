package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kirillkom/document-verifier/internal/core/domain"
)

type historyRepoFake struct {
	created   []domain.AnalysisRecord
	completed map[string]int
	failed    map[string]string
	markErrs  []error
	listUser  string
	listLimit int
	records   []domain.AnalysisRecord
	err       error
}

func newHistoryRepoFake() *historyRepoFake {
	return &historyRepoFake{completed: map[string]int{}, failed: map[string]string{}}
}

func (f *historyRepoFake) Create(_ context.Context, record *domain.AnalysisRecord) error {
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, *record)
	return nil
}

func (f *historyRepoFake) MarkCompleted(_ context.Context, id string, score int, _ domain.ReportStatus, _ time.Time) error {
	f.completed[id] = score
	return nil
}

func (f *historyRepoFake) MarkFailed(ctx context.Context, id, message string, _ time.Time) error {
	f.markErrs = append(f.markErrs, ctx.Err())
	f.failed[id] = message
	return nil
}

func (f *historyRepoFake) ListRecent(_ context.Context, userID string, limit int) ([]domain.AnalysisRecord, error) {
	f.listUser = userID
	f.listLimit = limit
	return f.records, f.err
}

type reportReaderFake struct {
	result *domain.ReportResult
	err    error

	// block makes Wait hold until ctx is done.
	block bool
}

func (f *reportReaderFake) Fetch(context.Context, string) (*domain.ReportResult, error) {
	return f.result, f.err
}

func (f *reportReaderFake) Wait(ctx context.Context, _ string) (*domain.ReportResult, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.result, f.err
}

func TestHandleAnalysisStartedRecordsAndCompletes(t *testing.T) {
	repo := newHistoryRepoFake()
	reader := &reportReaderFake{result: &domain.ReportResult{Report: &domain.AnalysisReport{
		AnalysisID: "an-1", ConfidenceScore: 64, Status: domain.ReportReview,
	}}}
	svc := NewHistoryService(repo, reader)

	err := svc.HandleAnalysisStarted(context.Background(), domain.AnalysisStarted{
		AnalysisID: "an-1", DocumentID: "doc-1", UserID: "u-1", Filename: "contract.pdf",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(repo.created) != 1 || repo.created[0].State != domain.AnalysisStateStarted || repo.created[0].CreatedAt.IsZero() {
		t.Fatalf("unexpected created records: %+v", repo.created)
	}
	if repo.completed["an-1"] != 64 {
		t.Fatalf("expected completion with score 64, got %+v", repo.completed)
	}
}

func TestCompleteMarksFailedWithUserMessage(t *testing.T) {
	repo := newHistoryRepoFake()
	reader := &reportReaderFake{err: domain.NewError(domain.ErrServer, "fetch report", "Vision model crashed", errors.New("500"))}
	svc := NewHistoryService(repo, reader)

	err := svc.Complete(context.Background(), "an-1")
	if !domain.IsKind(err, domain.ErrServer) {
		t.Fatalf("expected server error, got %v", err)
	}
	if repo.failed["an-1"] != "Vision model crashed" {
		t.Fatalf("unexpected failure message %q", repo.failed["an-1"])
	}
}

func TestCompleteMarksFailedWhenHandlerDeadlineExpires(t *testing.T) {
	repo := newHistoryRepoFake()
	svc := NewHistoryService(repo, &reportReaderFake{block: true})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := svc.Complete(ctx, "an-1")
	if !domain.IsKind(err, domain.ErrPollTimeout) {
		t.Fatalf("expected poll timeout, got %v", err)
	}
	if repo.failed["an-1"] != domain.UserMessage(domain.ErrPollTimeout) {
		t.Fatalf("unexpected failure message %q", repo.failed["an-1"])
	}
	if len(repo.markErrs) != 1 || repo.markErrs[0] != nil {
		t.Fatalf("record must be written with a live context, got %v", repo.markErrs)
	}
}

func TestCompleteLeavesRecordOnShutdown(t *testing.T) {
	repo := newHistoryRepoFake()
	svc := NewHistoryService(repo, &reportReaderFake{block: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := svc.Complete(ctx, "an-1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(repo.failed) != 0 {
		t.Fatalf("shutdown must not mark records failed: %+v", repo.failed)
	}
}

func TestRecordStartedRejectsIncompleteEvent(t *testing.T) {
	svc := NewHistoryService(newHistoryRepoFake(), &reportReaderFake{})
	if err := svc.RecordStarted(context.Background(), domain.AnalysisStarted{AnalysisID: "an-1"}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestListRecentLimits(t *testing.T) {
	repo := newHistoryRepoFake()
	svc := NewHistoryService(repo, &reportReaderFake{})

	if _, err := svc.ListRecent(context.Background(), domain.Session{UserID: "u-1"}, 0); err != nil {
		t.Fatalf("list: %v", err)
	}
	if repo.listLimit != DefaultHistoryLimit || repo.listUser != "u-1" {
		t.Fatalf("expected default limit for u-1, got limit=%d user=%q", repo.listLimit, repo.listUser)
	}
	if _, err := svc.ListRecent(context.Background(), domain.Session{UserID: "u-1"}, MaxHistoryLimit+1); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := svc.ListRecent(context.Background(), domain.Session{}, 5); !domain.IsKind(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}
