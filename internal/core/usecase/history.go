package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/document-verifier/internal/core/domain"
	"github.com/kirillkom/document-verifier/internal/core/ports"
)

const (
	DefaultHistoryLimit = 10
	MaxHistoryLimit     = 100

	markTimeout = 5 * time.Second
)

type HistoryService struct {
	repo    ports.HistoryRepository
	reports ports.ReportReader
	now     func() time.Time
}

func NewHistoryService(repo ports.HistoryRepository, reports ports.ReportReader) *HistoryService {
	return &HistoryService{repo: repo, reports: reports, now: time.Now}
}

func (s *HistoryService) RecordStarted(ctx context.Context, event domain.AnalysisStarted) error {
	if strings.TrimSpace(event.AnalysisID) == "" || strings.TrimSpace(event.UserID) == "" {
		return domain.NewError(domain.ErrInvalidInput, "record analysis", "", fmt.Errorf("analysis_id and user_id are required"))
	}
	at := event.StartedAt
	if at.IsZero() {
		at = s.now().UTC()
	}
	record := &domain.AnalysisRecord{
		AnalysisID: event.AnalysisID,
		DocumentID: event.DocumentID,
		UserID:     event.UserID,
		Filename:   event.Filename,
		State:      domain.AnalysisStateStarted,
		CreatedAt:  at,
		UpdatedAt:  at,
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return fmt.Errorf("create analysis record: %w", err)
	}
	return nil
}

// Complete waits for the report and stores its outcome. Any classified
// failure marks the record failed; the failure is still returned for logging.
// If ctx's deadline expires the record is marked failed as timed out; if ctx
// is cancelled (shutdown) the record is left as started.
func (s *HistoryService) Complete(ctx context.Context, analysisID string) error {
	result, err := s.reports.Wait(ctx, analysisID)
	if err != nil {
		markCtx := ctx
		if ctxErr := ctx.Err(); ctxErr != nil {
			if !errors.Is(ctxErr, context.DeadlineExceeded) {
				return ctxErr
			}
			err = domain.NewError(domain.ErrPollTimeout, "complete analysis", "", ctxErr)
			var cancel context.CancelFunc
			markCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
			defer cancel()
		}
		if markErr := s.repo.MarkFailed(markCtx, analysisID, domain.UserMessage(err), s.now().UTC()); markErr != nil {
			return fmt.Errorf("%w; mark failed: %v", err, markErr)
		}
		return err
	}
	if result.Report == nil {
		return fmt.Errorf("complete analysis %s: report missing from ready result", analysisID)
	}
	if err := s.repo.MarkCompleted(ctx, analysisID, result.Report.ConfidenceScore, result.Report.Status, s.now().UTC()); err != nil {
		return fmt.Errorf("mark analysis completed: %w", err)
	}
	return nil
}

// HandleAnalysisStarted is the worker's subscription handler.
func (s *HistoryService) HandleAnalysisStarted(ctx context.Context, event domain.AnalysisStarted) error {
	if err := s.RecordStarted(ctx, event); err != nil {
		return err
	}
	return s.Complete(ctx, event.AnalysisID)
}

func (s *HistoryService) ListRecent(ctx context.Context, session domain.Session, limit int) ([]domain.AnalysisRecord, error) {
	if !session.Valid() {
		return nil, domain.NewError(domain.ErrUnauthorized, "list analyses", "", nil)
	}
	if limit == 0 {
		limit = DefaultHistoryLimit
	}
	if limit < 1 || limit > MaxHistoryLimit {
		msg := fmt.Sprintf("limit must be between 1 and %d", MaxHistoryLimit)
		return nil, domain.NewError(domain.ErrInvalidInput, "list analyses", msg, nil)
	}
	records, err := s.repo.ListRecent(ctx, session.UserID, limit)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	return records, nil
}
