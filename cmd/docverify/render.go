package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/kirillkom/document-verifier/internal/core/domain"
	"github.com/kirillkom/document-verifier/internal/infrastructure/export/xlsx"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatXLSX = "xlsx"
)

func render(w io.Writer, format string, result *domain.ReportResult) error {
	switch strings.ToLower(format) {
	case formatJSON:
		return writeJSON(w, result)
	case formatXLSX:
		return xlsx.Write(w, result)
	default:
		printResult(w, result)
		return nil
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResult(w io.Writer, result *domain.ReportResult) {
	bold := color.New(color.Bold)
	dim := color.New(color.FgHiBlack)
	yellow := color.New(color.FgYellow)

	if result.IsPending() {
		p := result.Pending
		_, _ = yellow.Fprintf(w, "Analysis %s is still running (%s)", p.AnalysisID, p.BackendStatus)
		if p.Progress != nil {
			fmt.Fprintf(w, " %d%%", *p.Progress)
		}
		fmt.Fprintln(w)
		if p.Message != "" {
			_, _ = dim.Fprintln(w, p.Message)
		}
		return
	}
	r := result.Report
	if r == nil {
		return
	}

	_, _ = bold.Fprintf(w, "Analysis %s\n", r.AnalysisID)
	printConfidenceBar(w, r.ConfidenceScore, r.Status)
	fmt.Fprintln(w)

	_, _ = bold.Fprintln(w, "FINDINGS")
	if len(r.Findings) == 0 {
		_, _ = dim.Fprintln(w, "  none")
	}
	for _, f := range r.Findings {
		_, _ = severityColor(f.Severity).Fprintf(w, "  %s ", severityIcon(f.Severity))
		fmt.Fprintln(w, f.Description)
		if f.EvidenceNote != "" {
			_, _ = dim.Fprintf(w, "      %s\n", f.EvidenceNote)
		}
	}
	fmt.Fprintln(w)

	_, _ = bold.Fprintln(w, "METADATA")
	m := r.Metadata
	pages := domain.NotAvailable
	if m.PageCount != nil {
		pages = fmt.Sprintf("%d", *m.PageCount)
	}
	for _, row := range [][2]string{
		{"File", m.Filename},
		{"Size", m.SizeLabel},
		{"Type", m.FileType},
		{"Pages", pages},
		{"Created", m.CreatedAt},
		{"Modified", m.ModifiedAt},
		{"Author", m.Author},
		{"Creator", m.CreatorTool},
	} {
		_, _ = dim.Fprintf(w, "  %-9s", row[0])
		fmt.Fprintln(w, row[1])
	}

	if len(r.SimilarDocuments) > 0 {
		fmt.Fprintln(w)
		_, _ = bold.Fprintln(w, "SIMILAR DOCUMENTS")
		for _, s := range r.SimilarDocuments {
			fmt.Fprintf(w, "  %s  %d%%  %s\n", s.Label, s.SimilarityPercent, s.Assessment)
			for _, d := range s.Differences {
				_, _ = dim.Fprintf(w, "      - %s\n", d)
			}
		}
	}

	if len(result.Recommendations) > 0 {
		fmt.Fprintln(w)
		_, _ = bold.Fprintln(w, "RECOMMENDATIONS")
		for i, rec := range result.Recommendations {
			fmt.Fprintf(w, "  %d. %s\n", i+1, rec)
		}
	}

	for _, n := range result.Notices {
		fmt.Fprintln(w)
		_, _ = yellow.Fprintln(w, "  Note: "+n.Message)
	}
}

func printConfidenceBar(w io.Writer, score int, status domain.ReportStatus) {
	const barWidth = 24
	filled := domain.ClampPercent(score) * barWidth / 100

	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
	c := statusColor(status)
	fmt.Fprintf(w, "  Confidence: %d%% ", score)
	_, _ = c.Fprint(w, bar)
	_, _ = c.Fprintf(w, " %s\n", strings.ToUpper(string(status)))
}

func statusColor(status domain.ReportStatus) *color.Color {
	switch status {
	case domain.ReportClear:
		return color.New(color.FgGreen)
	case domain.ReportReview:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

func severityColor(s domain.Severity) *color.Color {
	switch s {
	case domain.SeverityCritical:
		return color.New(color.FgRed)
	case domain.SeverityModerate:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgGreen)
	}
}

func severityIcon(s domain.Severity) string {
	switch s {
	case domain.SeverityCritical:
		return "[critical]"
	case domain.SeverityModerate:
		return "[moderate]"
	default:
		return "[ok]"
	}
}
