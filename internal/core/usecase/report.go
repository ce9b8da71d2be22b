package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/document-verifier/internal/core/domain"
	"github.com/kirillkom/document-verifier/internal/core/poll"
	"github.com/kirillkom/document-verifier/internal/core/ports"
	"github.com/kirillkom/document-verifier/internal/core/report"
)

const (
	DefaultReportWaitInterval = 2 * time.Second
	DefaultReportWaitTimeout  = 60 * time.Second
)

type ReportServiceConfig struct {
	WaitInterval time.Duration
	WaitTimeout  time.Duration
}

type ReportService struct {
	backend     ports.AnalysisBackend
	normalizer  *report.Normalizer
	recommender ports.RecommendationGenerator
	cache       ports.ReportCache
	cfg         ReportServiceConfig
	logger      *slog.Logger
	now         func() time.Time
}

// NewReportService wires the adapter. recommender and cache may be nil.
func NewReportService(
	backend ports.AnalysisBackend,
	normalizer *report.Normalizer,
	recommender ports.RecommendationGenerator,
	cache ports.ReportCache,
	cfg ReportServiceConfig,
	logger *slog.Logger,
) *ReportService {
	if cfg.WaitInterval <= 0 {
		cfg.WaitInterval = DefaultReportWaitInterval
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultReportWaitTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ReportService{
		backend:     backend,
		normalizer:  normalizer,
		recommender: recommender,
		cache:       cache,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// Fetch retrieves and normalizes one report. A still-running analysis is a
// pending result, not an error.
func (s *ReportService) Fetch(ctx context.Context, analysisID string) (*domain.ReportResult, error) {
	analysisID = strings.TrimSpace(analysisID)
	if analysisID == "" {
		return nil, domain.NewError(domain.ErrInvalidInput, "fetch report", "An analysis identifier is required.", nil)
	}

	raw, err := s.backend.FetchReport(ctx, analysisID)
	if err != nil {
		return nil, err
	}
	outcome, err := s.normalizer.Normalize(analysisID, raw)
	if err != nil {
		return nil, err
	}

	result := &domain.ReportResult{FetchedAt: s.now().UTC()}
	if outcome.Pending != nil {
		result.Pending = outcome.Pending
		return result, nil
	}

	result.Report = outcome.Report
	result.Recommendations, result.Notices = s.recommend(ctx, analysisID, outcome.Report.Findings)
	if s.cache != nil {
		s.cache.Set(analysisID, result)
	}
	return result, nil
}

func (s *ReportService) recommend(ctx context.Context, analysisID string, findings []domain.Finding) ([]string, []domain.Notice) {
	degraded := func(reason string) ([]string, []domain.Notice) {
		s.logger.Warn("recommendations_degraded", "analysis_id", analysisID, "reason", reason)
		return []string{domain.RecommendationsUnavailable}, []domain.Notice{{
			Kind:    domain.NoticePartialDegradation,
			Message: "Recommendations could not be generated for this report.",
		}}
	}
	if s.recommender == nil {
		return degraded("recommender disabled")
	}

	recs, err := s.recommender.Recommend(ctx, findings)
	if err != nil {
		return degraded(err.Error())
	}
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return degraded("empty recommendation list")
	}
	return out, nil
}

// Wait polls Fetch until the report is ready. When the wait runs out it
// falls back to the last report cached for the same analysis.
func (s *ReportService) Wait(ctx context.Context, analysisID string) (*domain.ReportResult, error) {
	var ready *domain.ReportResult
	err := poll.Until(ctx, poll.Options{
		Interval:    s.cfg.WaitInterval,
		MaxDuration: s.cfg.WaitTimeout,
	}, func(ctx context.Context) (bool, error) {
		result, err := s.Fetch(ctx, analysisID)
		if err != nil {
			return false, err
		}
		if result.IsPending() {
			return false, nil
		}
		ready = result
		return true, nil
	})
	if err == nil {
		return ready, nil
	}
	if !errors.Is(err, poll.ErrTimeout) {
		return nil, err
	}
	if s.cache != nil {
		if cached, ok := s.cache.Get(strings.TrimSpace(analysisID)); ok {
			s.logger.Info("report_served_from_cache", "analysis_id", analysisID)
			return cached, nil
		}
	}
	return nil, domain.NewError(domain.ErrPollTimeout, "wait report", "", err)
}
