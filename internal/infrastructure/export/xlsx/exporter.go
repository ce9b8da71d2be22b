// Package xlsx renders analysis reports as spreadsheets for download.
package xlsx

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/document-verifier/internal/core/domain"
)

const (
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	sheetSummary  = "Summary"
	sheetFindings = "Findings"
	sheetMetadata = "Metadata"
	sheetSimilar  = "Similar Documents"
)

// Write renders result into w. Pending results have nothing to export.
func Write(w io.Writer, result *domain.ReportResult) error {
	if result == nil || result.Report == nil {
		return domain.NewError(domain.ErrInvalidInput, "xlsx.write", "The analysis is not finished yet.", nil)
	}
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	b := &builder{f: f}
	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{sheetFindings, sheetMetadata, sheetSimilar} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	b.header = header

	report := result.Report
	b.summary(report, result.Recommendations, result.Notices)
	b.findings(report.Findings)
	b.metadata(report.Metadata)
	b.similar(report.SimilarDocuments)
	if b.err != nil {
		return b.err
	}

	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// builder keeps the first error so the sheet writers stay linear.
type builder struct {
	f      *excelize.File
	header int
	err    error
}

func (b *builder) row(sheet string, row int, values ...any) {
	if b.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		b.err = err
		return
	}
	if err := b.f.SetSheetRow(sheet, cell, &values); err != nil {
		b.err = fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
}

func (b *builder) headerRow(sheet string, values ...any) {
	b.row(sheet, 1, values...)
	if b.err != nil {
		return
	}
	last, err := excelize.CoordinatesToCellName(len(values), 1)
	if err != nil {
		b.err = err
		return
	}
	if err := b.f.SetCellStyle(sheet, "A1", last, b.header); err != nil {
		b.err = fmt.Errorf("style %s header: %w", sheet, err)
	}
	if err := b.f.SetColWidth(sheet, "A", "D", 28); err != nil {
		b.err = fmt.Errorf("size %s columns: %w", sheet, err)
	}
}

func (b *builder) summary(report *domain.AnalysisReport, recommendations []string, notices []domain.Notice) {
	b.headerRow(sheetSummary, "Field", "Value")
	b.row(sheetSummary, 2, "Analysis ID", report.AnalysisID)
	b.row(sheetSummary, 3, "Document ID", report.DocumentID)
	b.row(sheetSummary, 4, "Confidence score", report.ConfidenceScore)
	b.row(sheetSummary, 5, "Status", string(report.Status))

	next := 7
	b.row(sheetSummary, next, "Recommendations")
	for i, rec := range recommendations {
		b.row(sheetSummary, next+1+i, i+1, rec)
	}
	next += len(recommendations) + 2
	for i, n := range notices {
		b.row(sheetSummary, next+i, "Notice", n.Message)
	}
}

func (b *builder) findings(findings []domain.Finding) {
	b.headerRow(sheetFindings, "Severity", "Description", "Evidence")
	for i, finding := range findings {
		b.row(sheetFindings, i+2, string(finding.Severity), finding.Description, finding.EvidenceNote)
	}
}

func (b *builder) metadata(meta domain.ReportMetadata) {
	pages := domain.NotAvailable
	if meta.PageCount != nil {
		pages = fmt.Sprint(*meta.PageCount)
	}
	b.headerRow(sheetMetadata, "Field", "Value")
	rows := [][2]string{
		{"Filename", meta.Filename},
		{"Size", meta.SizeLabel},
		{"File type", meta.FileType},
		{"Pages", pages},
		{"Created", meta.CreatedAt},
		{"Modified", meta.ModifiedAt},
		{"Author", meta.Author},
		{"Creator tool", meta.CreatorTool},
	}
	for i, r := range rows {
		b.row(sheetMetadata, i+2, r[0], r[1])
	}
}

func (b *builder) similar(docs []domain.SimilarDocument) {
	b.headerRow(sheetSimilar, "Document", "Similarity %", "Assessment", "Differences")
	for i, doc := range docs {
		b.row(sheetSimilar, i+2, doc.Label, doc.SimilarityPercent, doc.Assessment, strings.Join(doc.Differences, "; "))
	}
}
