package domain

type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseReady            Phase = "ready"
	PhaseUploading        Phase = "uploading"
	PhaseProcessing       Phase = "processing"
	PhaseStartingAnalysis Phase = "starting_analysis"
	PhaseDone             Phase = "done"
	PhaseFailed           Phase = "failed"
)

func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// Active reports whether a run owns the job.
func (p Phase) Active() bool {
	switch p {
	case PhaseUploading, PhaseProcessing, PhaseStartingAnalysis:
		return true
	default:
		return false
	}
}

var phaseTransitions = map[Phase][]Phase{
	PhaseIdle:             {PhaseReady},
	PhaseReady:            {PhaseUploading, PhaseIdle, PhaseReady},
	PhaseUploading:        {PhaseProcessing, PhaseFailed},
	PhaseProcessing:       {PhaseStartingAnalysis, PhaseFailed},
	PhaseStartingAnalysis: {PhaseDone, PhaseFailed},
	PhaseDone:             {PhaseIdle, PhaseReady},
	PhaseFailed:           {PhaseIdle, PhaseReady},
}

func CanTransition(from, to Phase) bool {
	for _, next := range phaseTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SelectedFile describes a local file chosen for analysis. StorageKey
// addresses the bytes in the file opener handed to the orchestrator.
type SelectedFile struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	MimeType   string `json:"mime_type"`
	Pages      int    `json:"pages,omitempty"`
	StorageKey string `json:"-"`
}

type UploadJob struct {
	Phase              Phase         `json:"phase"`
	File               *SelectedFile `json:"file,omitempty"`
	DocumentID         string        `json:"document_id,omitempty"`
	AnalysisID         string        `json:"analysis_id,omitempty"`
	UploadProgress     int           `json:"upload_progress"`
	ProcessingProgress int           `json:"processing_progress"`
	LastError          string        `json:"last_error,omitempty"`
}

type ProgressEvent struct {
	Phase              Phase  `json:"phase"`
	UploadProgress     int    `json:"upload_progress"`
	ProcessingProgress int    `json:"processing_progress"`
	DocumentID         string `json:"document_id,omitempty"`
	AnalysisID         string `json:"analysis_id,omitempty"`
	Message            string `json:"message,omitempty"`
}

func (j UploadJob) Event() ProgressEvent {
	return ProgressEvent{
		Phase:              j.Phase,
		UploadProgress:     j.UploadProgress,
		ProcessingProgress: j.ProcessingProgress,
		DocumentID:         j.DocumentID,
		AnalysisID:         j.AnalysisID,
		Message:            j.LastError,
	}
}

// ProcessingStatus is one poll response from the backend.
type ProcessingStatus struct {
	Status   string `json:"status"`
	Progress *int   `json:"progress,omitempty"`
	Message  string `json:"message,omitempty"`
}

const (
	BackendStatusProcessed = "processed"
	BackendStatusFailed    = "failed"
)

func ClampPercent(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
