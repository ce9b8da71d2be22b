package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/document-verifier/internal/core/domain"
)

func TestNormalizeCanonicalReport(t *testing.T) {
	n := MustDefault()
	out, err := n.Normalize("an-1", []byte(`{
		"document_id": "doc-1",
		"filename": "contract.pdf",
		"status": "processed",
		"analysis_result": {
			"confidence_score": 64,
			"findings": [
				{"severity": "high", "description": "File modified after signature date", "evidence_note": "Modified 5 days later"},
				{"severity": "medium", "description": "Font mismatch in paragraph 4"},
				"OCR text extraction was successful"
			]
		},
		"metadata": {"size": 2400000, "type": "PDF", "pages": 3, "author": "John Doe"},
		"similar_documents": [
			{"filename": "template.pdf", "similarity": 87, "assessment": "Consistent layout", "keyDifferences": ["Seal variant"]}
		]
	}`))
	require.NoError(t, err)
	require.Nil(t, out.Pending)
	r := out.Report
	require.NotNil(t, r)

	assert.Equal(t, "an-1", r.AnalysisID)
	assert.Equal(t, "doc-1", r.DocumentID)
	assert.Equal(t, 64, r.ConfidenceScore)
	assert.Equal(t, domain.ReportReview, r.Status)
	assert.Equal(t, []domain.Finding{
		{Severity: domain.SeverityCritical, Description: "File modified after signature date", EvidenceNote: "Modified 5 days later"},
		{Severity: domain.SeverityModerate, Description: "Font mismatch in paragraph 4"},
		{Severity: domain.SeverityConsistent, Description: "OCR text extraction was successful"},
	}, r.Findings)

	assert.Equal(t, "contract.pdf", r.Metadata.Filename)
	assert.Equal(t, "2.4 MB", r.Metadata.SizeLabel)
	assert.Equal(t, "PDF", r.Metadata.FileType)
	require.NotNil(t, r.Metadata.PageCount)
	assert.Equal(t, 3, *r.Metadata.PageCount)
	assert.Equal(t, "John Doe", r.Metadata.Author)
	assert.Equal(t, domain.NotAvailable, r.Metadata.CreatedAt)
	assert.Equal(t, domain.NotAvailable, r.Metadata.CreatorTool)

	require.Len(t, r.SimilarDocuments, 1)
	assert.Equal(t, domain.SimilarDocument{
		Label:             "template.pdf",
		SimilarityPercent: 87,
		Assessment:        "Consistent layout",
		Differences:       []string{"Seal variant"},
	}, r.SimilarDocuments[0])
}

func TestEvidenceAndFindingsListsNormalizeIdentically(t *testing.T) {
	n := MustDefault()
	items := `[
		{"severity": "critical", "description": "Signature pasted", "evidence_note": "Pixel seam"},
		{"type": "moderate", "description": "Date format differs"},
		{"level": "nonsense", "description": "Metadata complete"}
	]`
	viaFindings, err := n.Normalize("an-1", []byte(`{"analysis_result": {"confidence_score": 70, "findings": `+items+`}}`))
	require.NoError(t, err)
	viaEvidence, err := n.Normalize("an-1", []byte(`{"analysis_result": {"confidence_score": 70, "evidence": `+items+`}}`))
	require.NoError(t, err)

	assert.Equal(t, viaFindings.Report, viaEvidence.Report)
	assert.Equal(t, domain.SeverityConsistent, viaEvidence.Report.Findings[2].Severity)
}

func TestNormalizePendingIsNotAnError(t *testing.T) {
	out, err := MustDefault().Normalize("an-2", []byte(`{"status": "processing", "progress": 50, "message": "Analysis in progress"}`))
	require.NoError(t, err)
	require.Nil(t, out.Report)
	require.NotNil(t, out.Pending)
	assert.Equal(t, "an-2", out.Pending.AnalysisID)
	assert.Equal(t, "processing", out.Pending.BackendStatus)
	require.NotNil(t, out.Pending.Progress)
	assert.Equal(t, 50, *out.Pending.Progress)
}

func TestNormalizeFailedAnalysisIsServerError(t *testing.T) {
	_, err := MustDefault().Normalize("an-3", []byte(`{"status": "failed", "message": "Vision model crashed"}`))
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrServer))
	assert.Equal(t, "Vision model crashed", domain.UserMessage(err))
}

func TestNormalizeDeprecatedFlatShape(t *testing.T) {
	out, err := MustDefault().Normalize("an-4", []byte(`{
		"confidenceScore": 91.5,
		"keyFindings": [{"type": "critical", "description": "Seal altered", "evidence": ["Colour shift", "Edge halo"]}],
		"metadataAnalysis": {"filename": "memo.png", "size": "1.1 MB", "creatorTool": "Photoshop"},
		"similar_proven_newspapers": [{"title": "Daily Times 2021-03-02", "similarity_score": 0.42}]
	}`))
	require.NoError(t, err)
	r := out.Report
	require.NotNil(t, r)
	assert.Equal(t, 92, r.ConfidenceScore)
	assert.Equal(t, domain.ReportClear, r.Status)
	assert.Equal(t, "Colour shift; Edge halo", r.Findings[0].EvidenceNote)
	assert.Equal(t, "memo.png", r.Metadata.Filename)
	assert.Equal(t, "1.1 MB", r.Metadata.SizeLabel)
	assert.Equal(t, "Photoshop", r.Metadata.CreatorTool)
	assert.Nil(t, r.Metadata.PageCount)
	require.Len(t, r.SimilarDocuments, 1)
	assert.Equal(t, "Daily Times 2021-03-02", r.SimilarDocuments[0].Label)
	assert.Equal(t, 42, r.SimilarDocuments[0].SimilarityPercent)
	assert.Empty(t, r.SimilarDocuments[0].Differences)
}

func TestNormalizeClampsScore(t *testing.T) {
	n := MustDefault()
	cases := map[string]int{
		`150`:    100,
		`-3`:     0,
		`"79.6"`: 80,
		`1`:      1,
		`0.99`:   1,
		`0.4`:    0,
	}
	for raw, want := range cases {
		out, err := n.Normalize("an", []byte(`{"analysis_result": {"confidence_score": `+raw+`}}`))
		require.NoError(t, err, raw)
		assert.Equal(t, want, out.Report.ConfidenceScore, raw)
		assert.Equal(t, domain.StatusForScore(want), out.Report.Status, raw)
	}
}

func TestNormalizeScoreIsMonotonic(t *testing.T) {
	n := MustDefault()
	prev := -1
	for _, raw := range []string{`0`, `0.5`, `0.99`, `1`, `1.5`, `59.4`, `60`, `79.9`, `80`, `100`} {
		out, err := n.Normalize("an", []byte(`{"analysis_result": {"confidence_score": `+raw+`}}`))
		require.NoError(t, err, raw)
		assert.GreaterOrEqual(t, out.Report.ConfidenceScore, prev, raw)
		prev = out.Report.ConfidenceScore
	}
	out, err := n.Normalize("an", []byte(`{"analysis_result": {"confidence_score": 0.99}}`))
	require.NoError(t, err)
	assert.Equal(t, domain.ReportFlag, out.Report.Status)
}

func TestNormalizeFractionKeysAreScaled(t *testing.T) {
	out, err := MustDefault().Normalize("an", []byte(`{"analysis_result": {
		"overall_confidence": 0.83,
		"similar_documents": [{"label": "a", "similarity_score": 0.5}, {"label": "b", "similarity": 0.5}]
	}}`))
	require.NoError(t, err)
	assert.Equal(t, 83, out.Report.ConfidenceScore)
	assert.Equal(t, domain.ReportClear, out.Report.Status)
	require.Len(t, out.Report.SimilarDocuments, 2)
	assert.Equal(t, 50, out.Report.SimilarDocuments[0].SimilarityPercent)
	assert.Equal(t, 1, out.Report.SimilarDocuments[1].SimilarityPercent)

	// A percent key wins over a fraction key.
	out, err = MustDefault().Normalize("an", []byte(`{"analysis_result": {"confidence_score": 40, "overall_confidence": 0.9}}`))
	require.NoError(t, err)
	assert.Equal(t, 40, out.Report.ConfidenceScore)
}

func TestNormalizeTopLevelScoreWithoutResultIsPending(t *testing.T) {
	out, err := MustDefault().Normalize("an-5", []byte(`{"status": "processing", "score": 12, "progress": 30}`))
	require.NoError(t, err)
	require.Nil(t, out.Report)
	require.NotNil(t, out.Pending)
	assert.Equal(t, "processing", out.Pending.BackendStatus)
}

func TestNormalizeRejectsMalformedPayloads(t *testing.T) {
	n := MustDefault()
	for _, raw := range []string{`not json`, `[]`, `{"analysis_result": {"confidence_score": "high"}}`} {
		_, err := n.Normalize("an", []byte(raw))
		require.Error(t, err, raw)
		assert.True(t, domain.IsKind(err, domain.ErrServer), raw)
		assert.Equal(t, domain.GenericServerMessage, domain.UserMessage(err), raw)
	}
}

func TestStatusIgnoresWireValue(t *testing.T) {
	out, err := MustDefault().Normalize("an", []byte(`{"status": "processed", "analysis_result": {"confidence_score": 30, "status": "clear"}}`))
	require.NoError(t, err)
	assert.Equal(t, domain.ReportFlag, out.Report.Status)
}

func TestWithPageFallback(t *testing.T) {
	r := &domain.AnalysisReport{AnalysisID: "an"}
	filled := WithPageFallback(r, 4)
	require.NotNil(t, filled.Metadata.PageCount)
	assert.Equal(t, 4, *filled.Metadata.PageCount)
	assert.Nil(t, r.Metadata.PageCount, "original must stay untouched")
	assert.Same(t, r, WithPageFallback(r, 0))
}

func TestParseMappingRejectsUnknownSeverity(t *testing.T) {
	_, err := ParseMapping([]byte("version: 1\nscore_keys: [score]\nseverity_values:\n  fatal: [x]\n"))
	require.Error(t, err)
}
