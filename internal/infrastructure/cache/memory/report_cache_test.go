package memory

import (
	"testing"
	"time"

	"github.com/kirillkom/document-verifier/internal/core/domain"
)

func TestReportCacheStoresOnlyCompleteReports(t *testing.T) {
	c := NewReportCache(time.Minute)

	c.Set("an-1", &domain.ReportResult{Pending: &domain.PendingAnalysis{AnalysisID: "an-1", BackendStatus: "processing"}})
	c.Set("an-2", nil)
	if c.Len() != 0 {
		t.Fatalf("pending and nil results must not be cached, len=%d", c.Len())
	}

	want := &domain.ReportResult{Report: &domain.AnalysisReport{AnalysisID: "an-1", ConfidenceScore: 82, Status: domain.ReportClear}}
	c.Set("an-1", want)

	got, ok := c.Get("an-1")
	if !ok || got != want {
		t.Fatalf("Get() = %v, %v", got, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Fatalf("unexpected hit for missing id")
	}
}

func TestReportCacheExpires(t *testing.T) {
	c := NewReportCache(20 * time.Millisecond)
	c.Set("an-1", &domain.ReportResult{Report: &domain.AnalysisReport{AnalysisID: "an-1"}})

	time.Sleep(40 * time.Millisecond)
	if _, ok := c.Get("an-1"); ok {
		t.Fatalf("expected entry to expire")
	}
}
