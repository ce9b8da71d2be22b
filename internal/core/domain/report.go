package domain

import "time"

type ReportStatus string

const (
	ReportClear  ReportStatus = "clear"
	ReportReview ReportStatus = "review"
	ReportFlag   ReportStatus = "flag"
)

const (
	ClearThreshold  = 80
	ReviewThreshold = 60
)

// StatusForScore is the only source of a report status. Lower bounds are inclusive.
func StatusForScore(score int) ReportStatus {
	switch {
	case score >= ClearThreshold:
		return ReportClear
	case score >= ReviewThreshold:
		return ReportReview
	default:
		return ReportFlag
	}
}

type Severity string

const (
	SeverityCritical   Severity = "critical"
	SeverityModerate   Severity = "moderate"
	SeverityConsistent Severity = "consistent"
)

const NotAvailable = "N/A"

type Finding struct {
	Severity     Severity `json:"severity"`
	Description  string   `json:"description"`
	EvidenceNote string   `json:"evidence_note"`
}

type ReportMetadata struct {
	Filename    string `json:"filename"`
	SizeLabel   string `json:"size_label"`
	FileType    string `json:"file_type"`
	PageCount   *int   `json:"page_count,omitempty"`
	CreatedAt   string `json:"created_at"`
	ModifiedAt  string `json:"modified_at"`
	Author      string `json:"author"`
	CreatorTool string `json:"creator_tool"`
}

type SimilarDocument struct {
	Label             string   `json:"label"`
	SimilarityPercent int      `json:"similarity_percent"`
	Assessment        string   `json:"assessment"`
	Differences       []string `json:"differences"`
}

type AnalysisReport struct {
	AnalysisID       string            `json:"analysis_id"`
	DocumentID       string            `json:"document_id,omitempty"`
	ConfidenceScore  int               `json:"confidence_score"`
	Status           ReportStatus      `json:"status"`
	Findings         []Finding         `json:"findings"`
	Metadata         ReportMetadata    `json:"metadata"`
	SimilarDocuments []SimilarDocument `json:"similar_documents"`
}

// PendingAnalysis is returned instead of a report while the backend is still working.
type PendingAnalysis struct {
	AnalysisID    string `json:"analysis_id"`
	BackendStatus string `json:"backend_status"`
	Progress      *int   `json:"progress,omitempty"`
	Message       string `json:"message,omitempty"`
}

type NoticeKind string

const NoticePartialDegradation NoticeKind = "partial_degradation"

type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
}

const RecommendationsUnavailable = "Recommendations are temporarily unavailable. Review the findings above and try again later."

// ReportResult is exactly one of a report (plus recommendations) or a pending state.
type ReportResult struct {
	Report          *AnalysisReport  `json:"report,omitempty"`
	Pending         *PendingAnalysis `json:"pending,omitempty"`
	Recommendations []string         `json:"recommendations,omitempty"`
	Notices         []Notice         `json:"notices,omitempty"`
	FetchedAt       time.Time        `json:"fetched_at"`
}

func (r *ReportResult) IsPending() bool {
	return r != nil && r.Pending != nil
}

func (r *ReportResult) Degraded() bool {
	if r == nil {
		return false
	}
	for _, n := range r.Notices {
		if n.Kind == NoticePartialDegradation {
			return true
		}
	}
	return false
}
