// Package report turns analysis-backend payloads into domain reports.
//
// The backend has shipped several shapes over time. Every accepted field
// spelling lives in mapping.yaml; code here only walks the mapping.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/kirillkom/document-verifier/internal/core/domain"
)

const opNormalize = "normalize report"

// Outcome holds exactly one of Report or Pending.
type Outcome struct {
	Report  *domain.AnalysisReport
	Pending *domain.PendingAnalysis
}

type Normalizer struct {
	mapping *Mapping
}

func NewNormalizer(mapping *Mapping) *Normalizer {
	return &Normalizer{mapping: mapping}
}

// MustDefault builds a normalizer over the embedded mapping and panics if it is broken.
func MustDefault() *Normalizer {
	m, err := DefaultMapping()
	if err != nil {
		panic(err)
	}
	return NewNormalizer(m)
}

func (n *Normalizer) Normalize(analysisID string, raw []byte) (Outcome, error) {
	top, err := decodeObject(raw)
	if err != nil {
		return Outcome{}, domain.NewError(domain.ErrServer, opNormalize, domain.GenericServerMessage, err)
	}
	m := n.mapping

	backendStatus := stringAt(top, m.StatusKeys)
	result := objectAt(top, m.ResultKeys)
	if result == nil && hasAny(top, m.FlatScoreKeys) {
		// Deprecated flat payloads put the score next to the envelope fields.
		result = top
	}
	if result == nil {
		if strings.EqualFold(backendStatus, domain.BackendStatusFailed) {
			msg := stringAt(top, m.MessageKeys)
			if msg == "" {
				msg = "The analysis could not be completed."
			}
			return Outcome{}, domain.NewError(domain.ErrServer, opNormalize, msg, nil)
		}
		if backendStatus == "" {
			backendStatus = "pending"
		}
		pending := &domain.PendingAnalysis{
			AnalysisID:    analysisID,
			BackendStatus: backendStatus,
			Message:       stringAt(top, m.MessageKeys),
		}
		if p, ok := percentValue(first(top, m.ProgressKeys)); ok {
			pending.Progress = &p
		}
		return Outcome{Pending: pending}, nil
	}

	score, ok := scaledAt(result, m.ScoreKeys, m.FractionScoreKeys)
	if !ok {
		return Outcome{}, domain.NewError(domain.ErrServer, opNormalize, domain.GenericServerMessage,
			fmt.Errorf("analysis %s: missing or non-numeric confidence score", analysisID))
	}

	report := &domain.AnalysisReport{
		AnalysisID:       analysisID,
		DocumentID:       stringAt(top, []string{"document_id", "documentId"}),
		ConfidenceScore:  score,
		Status:           domain.StatusForScore(score),
		Findings:         n.findings(listAt2(result, top, m.FindingListKeys)),
		Metadata:         n.metadata(objectAt2(result, top, m.MetadataKeys), stringAt(top, m.FilenameKeys)),
		SimilarDocuments: n.similar(listAt2(result, top, m.SimilarListKeys)),
	}
	return Outcome{Report: report}, nil
}

func (n *Normalizer) findings(items []any) []domain.Finding {
	keys := n.mapping.Finding
	out := make([]domain.Finding, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			if text := strings.TrimSpace(v); text != "" {
				out = append(out, domain.Finding{Severity: domain.SeverityConsistent, Description: text})
			}
		case map[string]any:
			f := domain.Finding{
				Severity:     n.mapping.Severity(stringAt(v, keys.SeverityKeys)),
				Description:  stringAt(v, keys.DescriptionKeys),
				EvidenceNote: joinedAt(v, keys.EvidenceKeys),
			}
			if f.Description == "" && f.EvidenceNote == "" {
				continue
			}
			if f.Description == "" {
				f.Description, f.EvidenceNote = f.EvidenceNote, ""
			}
			out = append(out, f)
		}
	}
	return out
}

func (n *Normalizer) metadata(obj map[string]any, fallbackName string) domain.ReportMetadata {
	keys := n.mapping.Metadata
	md := domain.ReportMetadata{
		Filename:    orNA(stringAt(obj, keys.FilenameKeys), fallbackName),
		SizeLabel:   orNA(sizeLabel(first(obj, keys.SizeKeys))),
		FileType:    orNA(stringAt(obj, keys.FileTypeKeys)),
		CreatedAt:   orNA(stringAt(obj, keys.CreatedKeys)),
		ModifiedAt:  orNA(stringAt(obj, keys.ModifiedKeys)),
		Author:      orNA(stringAt(obj, keys.AuthorKeys)),
		CreatorTool: orNA(stringAt(obj, keys.CreatorToolKeys)),
	}
	if pages, ok := numberValue(first(obj, keys.PageKeys)); ok && pages > 0 {
		p := int(math.Round(pages))
		md.PageCount = &p
	}
	return md
}

func (n *Normalizer) similar(items []any) []domain.SimilarDocument {
	keys := n.mapping.Similar
	out := make([]domain.SimilarDocument, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		similarity, _ := scaledAt(obj, keys.SimilarityKeys, keys.SimilarityFractionKeys)
		out = append(out, domain.SimilarDocument{
			Label:             orNA(stringAt(obj, keys.LabelKeys)),
			SimilarityPercent: similarity,
			Assessment:        orNA(stringAt(obj, keys.AssessmentKeys)),
			Differences:       stringList(first(obj, keys.DifferenceKeys)),
		})
	}
	return out
}

// WithPageFallback returns a copy of r whose page count is filled from a local
// inspection when the backend did not report one.
func WithPageFallback(r *domain.AnalysisReport, pages int) *domain.AnalysisReport {
	if r == nil || r.Metadata.PageCount != nil || pages <= 0 {
		return r
	}
	out := *r
	p := pages
	out.Metadata.PageCount = &p
	return &out
}

func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode report payload: %w", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("decode report payload: expected object, got %T", v)
	}
	return obj, nil
}

func first(obj map[string]any, keys []string) any {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func hasAny(obj map[string]any, keys []string) bool {
	return first(obj, keys) != nil
}

func objectAt(obj map[string]any, keys []string) map[string]any {
	for _, k := range keys {
		if v, ok := obj[k].(map[string]any); ok {
			return v
		}
	}
	return nil
}

func objectAt2(primary, secondary map[string]any, keys []string) map[string]any {
	if v := objectAt(primary, keys); v != nil {
		return v
	}
	return objectAt(secondary, keys)
}

func listAt2(primary, secondary map[string]any, keys []string) []any {
	for _, obj := range []map[string]any{primary, secondary} {
		for _, k := range keys {
			if v, ok := obj[k].([]any); ok {
				return v
			}
		}
	}
	return nil
}

func stringAt(obj map[string]any, keys []string) string {
	for _, k := range keys {
		if s := scalarString(obj[k]); s != "" {
			return s
		}
	}
	return ""
}

// joinedAt accepts a string or a list of strings.
func joinedAt(obj map[string]any, keys []string) string {
	for _, k := range keys {
		if s := scalarString(obj[k]); s != "" {
			return s
		}
		if list := stringList(obj[k]); len(list) > 0 {
			return strings.Join(list, "; ")
		}
	}
	return ""
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := scalarString(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func numberValue(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = t
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(t), "%"), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// percentValue reads a 0-100 value, rounded and clamped.
func percentValue(v any) (int, bool) {
	f, ok := numberValue(v)
	if !ok {
		return 0, false
	}
	return clampPercent(f), true
}

// scaledAt reads a percentage from percentKeys, then a 0-1 fraction from
// fractionKeys. The scale comes from the key, never from the value.
func scaledAt(obj map[string]any, percentKeys, fractionKeys []string) (int, bool) {
	if v := first(obj, percentKeys); v != nil {
		return percentValue(v)
	}
	f, ok := numberValue(first(obj, fractionKeys))
	if !ok {
		return 0, false
	}
	return clampPercent(f * 100), true
}

func clampPercent(f float64) int {
	return int(math.Max(0, math.Min(100, math.Round(f))))
}

func sizeLabel(v any) string {
	switch t := v.(type) {
	case string:
		if bytesCount, err := strconv.ParseUint(strings.TrimSpace(t), 10, 64); err == nil {
			return humanize.Bytes(bytesCount)
		}
		return strings.TrimSpace(t)
	case json.Number, float64:
		f, ok := numberValue(t)
		if !ok || f < 0 {
			return ""
		}
		return humanize.Bytes(uint64(f))
	default:
		return ""
	}
}

func orNA(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return domain.NotAvailable
}
