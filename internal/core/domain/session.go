package domain

import (
	"strings"
	"time"
)

// Session identifies the user an orchestrator or adapter acts for.
type Session struct {
	UserID string
}

func (s Session) Valid() bool {
	return strings.TrimSpace(s.UserID) != ""
}

type AnalysisState string

const (
	AnalysisStateStarted   AnalysisState = "started"
	AnalysisStateCompleted AnalysisState = "completed"
	AnalysisStateFailed    AnalysisState = "failed"
)

type AnalysisRecord struct {
	AnalysisID      string        `json:"analysis_id"`
	DocumentID      string        `json:"document_id"`
	UserID          string        `json:"user_id"`
	Filename        string        `json:"filename"`
	State           AnalysisState `json:"state"`
	ConfidenceScore *int          `json:"confidence_score,omitempty"`
	Status          ReportStatus  `json:"status,omitempty"`
	ErrorMessage    string        `json:"error,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// AnalysisStarted is published once an upload job reaches done.
type AnalysisStarted struct {
	AnalysisID string    `json:"analysis_id"`
	DocumentID string    `json:"document_id"`
	UserID     string    `json:"user_id"`
	Filename   string    `json:"filename"`
	StartedAt  time.Time `json:"started_at"`
}
