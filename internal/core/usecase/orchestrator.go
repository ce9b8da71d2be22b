package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/kirillkom/document-verifier/internal/core/domain"
	"github.com/kirillkom/document-verifier/internal/core/poll"
	"github.com/kirillkom/document-verifier/internal/core/ports"
)

const (
	DefaultMaxFileBytes  int64 = 50 << 20
	DefaultPollInterval        = 2 * time.Second
	DefaultPollTimeout         = 30 * time.Second
	backendStatusPending       = "pending"
	backendStatusQueued        = "queued"
	backendStatusProcessing    = "processing"
)

var DefaultAllowedMIMETypes = []string{"application/pdf", "image/jpeg", "image/png"}

type OrchestratorConfig struct {
	MaxFileBytes     int64
	AllowedMIMETypes []string
	PollInterval     time.Duration
	PollTimeout      time.Duration
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	if c.MaxFileBytes <= 0 {
		c.MaxFileBytes = DefaultMaxFileBytes
	}
	if len(c.AllowedMIMETypes) == 0 {
		c.AllowedMIMETypes = DefaultAllowedMIMETypes
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	return c
}

type OrchestratorDeps struct {
	Backend   ports.AnalysisBackend
	Files     ports.FileOpener
	Publisher ports.AnalysisEventPublisher
	Emitter   ports.ProgressEmitter
	Metrics   ports.JobMetrics
	Logger    *slog.Logger
}

// UploadOrchestrator drives one session's upload, processing and analysis
// kickoff. Submit is the only writer while a run is active; every other
// method reads or replaces the job under mu. A run whose generation no longer
// matches has been removed and its updates are dropped.
type UploadOrchestrator struct {
	session domain.Session
	cfg     OrchestratorConfig
	deps    OrchestratorDeps
	now     func() time.Time

	mu         sync.Mutex
	job        domain.UploadJob
	generation uint64
	cancelRun  context.CancelFunc
}

func NewUploadOrchestrator(session domain.Session, cfg OrchestratorConfig, deps OrchestratorDeps) *UploadOrchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	return &UploadOrchestrator{
		session: session,
		cfg:     cfg.withDefaults(),
		deps:    deps,
		now:     time.Now,
		job:     domain.UploadJob{Phase: domain.PhaseIdle},
	}
}

func (uc *UploadOrchestrator) Session() domain.Session {
	return uc.session
}

func (uc *UploadOrchestrator) Snapshot() domain.UploadJob {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return copyJob(uc.job)
}

// Select validates file locally and makes it the job's file.
func (uc *UploadOrchestrator) Select(file domain.SelectedFile) (domain.UploadJob, error) {
	if err := uc.validate(file); err != nil {
		return uc.Snapshot(), err
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.job.Phase.Active() {
		return copyJob(uc.job), domain.NewError(domain.ErrSessionBusy, "select file", "", nil)
	}
	if !domain.CanTransition(uc.job.Phase, domain.PhaseReady) {
		return copyJob(uc.job), fmt.Errorf("select file: illegal transition %s -> %s", uc.job.Phase, domain.PhaseReady)
	}
	f := file
	uc.job = domain.UploadJob{Phase: domain.PhaseReady, File: &f}
	uc.emitLocked()
	return copyJob(uc.job), nil
}

func (uc *UploadOrchestrator) validate(file domain.SelectedFile) error {
	const op = "select file"
	if file.Size <= 0 {
		return domain.NewError(domain.ErrValidation, op, "The selected file is empty.", nil)
	}
	if file.Size > uc.cfg.MaxFileBytes {
		msg := fmt.Sprintf("The selected file is larger than %s.", humanize.IBytes(uint64(uc.cfg.MaxFileBytes)))
		return domain.NewError(domain.ErrValidation, op, msg, nil)
	}
	mimeType := strings.ToLower(strings.TrimSpace(file.MimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	for _, allowed := range uc.cfg.AllowedMIMETypes {
		if mimeType == allowed {
			return nil
		}
	}
	return domain.NewError(domain.ErrValidation, op, "Only PDF, JPEG and PNG files are supported.", nil)
}

// Submit runs upload, processing and analysis kickoff to a terminal phase.
// It blocks until the run ends.
func (uc *UploadOrchestrator) Submit(ctx context.Context) (domain.UploadJob, error) {
	r, job, err := uc.begin(ctx)
	if err != nil {
		return job, err
	}
	return uc.execute(r)
}

// Start moves the job to uploading and continues the run in a new goroutine.
// ctx must outlive the caller's request; onDone, when set, receives the
// terminal job once the run ends.
func (uc *UploadOrchestrator) Start(ctx context.Context, onDone func(domain.UploadJob, error)) (domain.UploadJob, error) {
	r, job, err := uc.begin(ctx)
	if err != nil {
		return job, err
	}
	go func() {
		job, err := uc.execute(r)
		if onDone != nil {
			onDone(job, err)
		}
	}()
	return job, nil
}

type activeRun struct {
	ctx    context.Context
	cancel context.CancelFunc
	gen    uint64
	file   domain.SelectedFile
}

func (uc *UploadOrchestrator) begin(ctx context.Context) (activeRun, domain.UploadJob, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.job.Phase.Active() {
		return activeRun{}, copyJob(uc.job), domain.NewError(domain.ErrSessionBusy, "submit", "", nil)
	}
	if uc.job.Phase != domain.PhaseReady || uc.job.File == nil {
		return activeRun{}, copyJob(uc.job), domain.NewError(domain.ErrInvalidInput, "submit", "Select a file before starting the analysis.", nil)
	}
	runCtx, cancel := context.WithCancel(ctx)
	uc.generation++
	uc.cancelRun = cancel
	r := activeRun{ctx: runCtx, cancel: cancel, gen: uc.generation, file: *uc.job.File}
	uc.setPhaseLocked(domain.PhaseUploading)
	uc.emitLocked()
	return r, copyJob(uc.job), nil
}

func (uc *UploadOrchestrator) execute(r activeRun) (domain.UploadJob, error) {
	started := uc.now()
	if uc.deps.Metrics != nil {
		uc.deps.Metrics.StartJob()
	}

	runErr := uc.run(r.ctx, r.gen, r.file)
	r.cancel()

	uc.mu.Lock()
	if uc.generation == r.gen {
		uc.cancelRun = nil
	}
	job := copyJob(uc.job)
	uc.mu.Unlock()

	if uc.deps.Metrics != nil {
		uc.deps.Metrics.FinishJob(job.Phase, uc.now().Sub(started))
	}
	return job, runErr
}

func (uc *UploadOrchestrator) run(ctx context.Context, gen uint64, file domain.SelectedFile) error {
	documentID, err := uc.upload(ctx, gen, file)
	if err != nil {
		return uc.fail(ctx, gen, err)
	}
	if !uc.update(gen, func(job *domain.UploadJob) {
		job.DocumentID = documentID
		job.UploadProgress = 100
		uc.setPhaseLocked(domain.PhaseProcessing)
	}) {
		return context.Canceled
	}

	if err := uc.waitProcessed(ctx, gen, documentID); err != nil {
		return uc.fail(ctx, gen, err)
	}
	if !uc.update(gen, func(job *domain.UploadJob) {
		job.ProcessingProgress = 100
		uc.setPhaseLocked(domain.PhaseStartingAnalysis)
	}) {
		return context.Canceled
	}

	analysisID, err := uc.deps.Backend.StartAnalysis(ctx, uc.session, documentID)
	if err != nil {
		return uc.fail(ctx, gen, err)
	}
	if !uc.update(gen, func(job *domain.UploadJob) {
		job.AnalysisID = analysisID
		uc.setPhaseLocked(domain.PhaseDone)
	}) {
		return context.Canceled
	}

	uc.deps.Logger.Info("upload_phase_changed",
		"phase", domain.PhaseDone,
		"user_id", uc.session.UserID,
		"document_id", documentID,
		"analysis_id", analysisID,
	)
	uc.publishStarted(ctx, documentID, analysisID, file.Name)
	return nil
}

func (uc *UploadOrchestrator) upload(ctx context.Context, gen uint64, file domain.SelectedFile) (string, error) {
	if uc.deps.Files == nil {
		return "", errors.New("upload: file opener is not configured")
	}
	body, err := uc.deps.Files.Open(ctx, file.StorageKey)
	if err != nil {
		return "", domain.NewError(domain.ErrValidation, "open selected file", "The selected file could not be read.", err)
	}
	defer body.Close()

	return uc.deps.Backend.UploadDocument(ctx, uc.session, file, body, func(percent int) {
		percent = domain.ClampPercent(percent)
		uc.update(gen, func(job *domain.UploadJob) {
			if percent > job.UploadProgress {
				job.UploadProgress = percent
			}
		})
	})
}

func (uc *UploadOrchestrator) waitProcessed(ctx context.Context, gen uint64, documentID string) error {
	err := poll.Until(ctx, poll.Options{
		Interval:    uc.cfg.PollInterval,
		MaxDuration: uc.cfg.PollTimeout,
	}, func(ctx context.Context) (bool, error) {
		status, err := uc.deps.Backend.ProcessingStatus(ctx, documentID)
		if err != nil {
			uc.observePoll("error")
			return false, err
		}
		backendStatus := strings.ToLower(strings.TrimSpace(status.Status))
		uc.observePoll(backendStatus)

		switch backendStatus {
		case domain.BackendStatusProcessed:
			return true, nil
		case domain.BackendStatusFailed:
			msg := status.Message
			if msg == "" {
				msg = "The document could not be processed."
			}
			return false, domain.NewError(domain.ErrServer, "poll status", msg, nil)
		}

		reported, ok := progressFor(backendStatus, status.Progress)
		if ok {
			uc.update(gen, func(job *domain.UploadJob) {
				if reported > job.ProcessingProgress {
					job.ProcessingProgress = reported
				}
			})
		}
		return false, nil
	})
	if errors.Is(err, poll.ErrTimeout) {
		return domain.NewError(domain.ErrPollTimeout, "poll status", "", err)
	}
	return err
}

// progressFor prefers the backend's number and otherwise estimates from the status.
func progressFor(status string, reported *int) (int, bool) {
	if reported != nil {
		return domain.ClampPercent(*reported), true
	}
	switch status {
	case backendStatusPending, backendStatusQueued:
		return 10, true
	case backendStatusProcessing:
		return 50, true
	default:
		return 0, false
	}
}

func (uc *UploadOrchestrator) fail(ctx context.Context, gen uint64, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		if uc.stale(gen) {
			return context.Canceled
		}
		err = domain.NewError(domain.ErrTemporary, "run", "The analysis was interrupted. Please try again.", err)
	}
	message := domain.UserMessage(err)
	applied := uc.update(gen, func(job *domain.UploadJob) {
		job.LastError = message
		uc.setPhaseLocked(domain.PhaseFailed)
	})
	if !applied {
		return context.Canceled
	}
	uc.deps.Logger.Warn("upload_phase_changed",
		"phase", domain.PhaseFailed,
		"user_id", uc.session.UserID,
		"error", err.Error(),
	)
	return err
}

func (uc *UploadOrchestrator) publishStarted(ctx context.Context, documentID, analysisID, filename string) {
	if uc.deps.Publisher == nil {
		return
	}
	event := domain.AnalysisStarted{
		AnalysisID: analysisID,
		DocumentID: documentID,
		UserID:     uc.session.UserID,
		Filename:   filename,
		StartedAt:  uc.now().UTC(),
	}
	if err := uc.deps.Publisher.PublishAnalysisStarted(context.WithoutCancel(ctx), event); err != nil {
		uc.deps.Logger.Warn("analysis_event_publish_failed", "analysis_id", analysisID, "error", err.Error())
	}
}

// Remove cancels any active run and clears the job.
func (uc *UploadOrchestrator) Remove() domain.UploadJob {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.cancelRun != nil {
		uc.cancelRun()
		uc.cancelRun = nil
	}
	uc.generation++
	uc.job = domain.UploadJob{Phase: domain.PhaseIdle}
	uc.emitLocked()
	return copyJob(uc.job)
}

// Reset clears a finished job. Active and idle jobs are left as they are.
func (uc *UploadOrchestrator) Reset() domain.UploadJob {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.job.Phase.Terminal() {
		uc.job = domain.UploadJob{Phase: domain.PhaseIdle}
		uc.emitLocked()
	}
	return copyJob(uc.job)
}

func (uc *UploadOrchestrator) update(gen uint64, apply func(job *domain.UploadJob)) bool {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.generation != gen {
		return false
	}
	before := uc.job.Event()
	apply(&uc.job)
	if uc.job.Event() != before {
		uc.emitLocked()
	}
	return true
}

func (uc *UploadOrchestrator) stale(gen uint64) bool {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.generation != gen
}

// setPhaseLocked panics on an illegal transition: only the orchestrator
// drives phases, so an illegal one is a programming error.
func (uc *UploadOrchestrator) setPhaseLocked(to domain.Phase) {
	if !domain.CanTransition(uc.job.Phase, to) {
		panic(fmt.Sprintf("upload orchestrator: illegal transition %s -> %s", uc.job.Phase, to))
	}
	uc.job.Phase = to
}

// emitLocked must be called with mu held. Emitters must not call back into
// the orchestrator.
func (uc *UploadOrchestrator) emitLocked() {
	if uc.deps.Emitter != nil {
		uc.deps.Emitter.Emit(uc.job.Event())
	}
}

func (uc *UploadOrchestrator) observePoll(status string) {
	if uc.deps.Metrics != nil {
		uc.deps.Metrics.ObservePoll(status)
	}
}

func copyJob(job domain.UploadJob) domain.UploadJob {
	if job.File != nil {
		f := *job.File
		job.File = &f
	}
	return job
}
