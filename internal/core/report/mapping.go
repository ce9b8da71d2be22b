package report

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/document-verifier/internal/core/domain"
)

//go:embed mapping.yaml
var defaultMappingYAML []byte

type FindingKeys struct {
	SeverityKeys    []string `yaml:"severity_keys"`
	DescriptionKeys []string `yaml:"description_keys"`
	EvidenceKeys    []string `yaml:"evidence_keys"`
}

type MetadataKeys struct {
	FilenameKeys    []string `yaml:"filename_keys"`
	SizeKeys        []string `yaml:"size_keys"`
	FileTypeKeys    []string `yaml:"file_type_keys"`
	PageKeys        []string `yaml:"page_keys"`
	CreatedKeys     []string `yaml:"created_keys"`
	ModifiedKeys    []string `yaml:"modified_keys"`
	AuthorKeys      []string `yaml:"author_keys"`
	CreatorToolKeys []string `yaml:"creator_tool_keys"`
}

type SimilarKeys struct {
	LabelKeys              []string `yaml:"label_keys"`
	SimilarityKeys         []string `yaml:"similarity_keys"`
	SimilarityFractionKeys []string `yaml:"similarity_fraction_keys"`
	AssessmentKeys         []string `yaml:"assessment_keys"`
	DifferenceKeys         []string `yaml:"difference_keys"`
}

// Mapping lists the accepted spellings of every report field.
type Mapping struct {
	Version int `yaml:"version"`

	StatusKeys   []string `yaml:"status_keys"`
	ProgressKeys []string `yaml:"progress_keys"`
	MessageKeys  []string `yaml:"message_keys"`
	FilenameKeys []string `yaml:"filename_keys"`

	ResultKeys        []string `yaml:"result_keys"`
	ScoreKeys         []string `yaml:"score_keys"`
	FractionScoreKeys []string `yaml:"fraction_score_keys"`
	FlatScoreKeys     []string `yaml:"flat_score_keys"`

	FindingListKeys []string            `yaml:"finding_list_keys"`
	Finding         FindingKeys         `yaml:"finding"`
	SeverityValues  map[string][]string `yaml:"severity_values"`

	MetadataKeys []string     `yaml:"metadata_keys"`
	Metadata     MetadataKeys `yaml:"metadata"`

	SimilarListKeys []string    `yaml:"similar_list_keys"`
	Similar         SimilarKeys `yaml:"similar"`

	severityIndex map[string]domain.Severity
}

func DefaultMapping() (*Mapping, error) {
	return ParseMapping(defaultMappingYAML)
}

func ParseMapping(raw []byte) (*Mapping, error) {
	var m Mapping
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode report mapping: %w", err)
	}
	if m.Version <= 0 {
		return nil, fmt.Errorf("report mapping: version is required")
	}
	if len(m.ScoreKeys) == 0 {
		return nil, fmt.Errorf("report mapping: score_keys is empty")
	}

	m.severityIndex = make(map[string]domain.Severity)
	for canonical, variants := range m.SeverityValues {
		severity := domain.Severity(canonical)
		switch severity {
		case domain.SeverityCritical, domain.SeverityModerate, domain.SeverityConsistent:
		default:
			return nil, fmt.Errorf("report mapping: unknown severity %q", canonical)
		}
		m.severityIndex[canonical] = severity
		for _, v := range variants {
			m.severityIndex[strings.ToLower(strings.TrimSpace(v))] = severity
		}
	}
	return &m, nil
}

// Severity maps a wire value onto the three-way enum. Unknown values are consistent.
func (m *Mapping) Severity(raw string) domain.Severity {
	if s, ok := m.severityIndex[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return s
	}
	return domain.SeverityConsistent
}
