package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/kirillkom/document-verifier/internal/bootstrap"
	"github.com/kirillkom/document-verifier/internal/core/domain"
	"github.com/kirillkom/document-verifier/internal/core/report"
	"github.com/kirillkom/document-verifier/internal/observability/logging"
)

// pathOpener serves the single local file being analyzed.
type pathOpener string

func (p pathOpener) Open(_ context.Context, _ string) (io.ReadCloser, error) {
	return os.Open(string(p))
}

func newApp(ctx context.Context) (*bootstrap.App, error) {
	cfg := loadConfig()
	logger := logging.New(os.Stderr, "docverify-cli", cfg.LogLevel)
	return bootstrap.New(ctx, cfg, bootstrap.Options{Logger: logger})
}

func analyze(cmd *cobra.Command, args []string) error {
	if err := validateFormat(); err != nil {
		return err
	}
	if format == formatXLSX && !waitReport {
		return fmt.Errorf("--format xlsx requires --wait")
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("--user is required (or set DOCVERIFY_USER)")
	}
	ctx := cmd.Context()

	path, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()
	app.Files = pathOpener(path)

	file, err := app.Inspector.Inspect(ctx, path, "")
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	file.StorageKey = filepath.Base(path)

	stderr := cmd.ErrOrStderr()
	dim := color.New(color.FgHiBlack)
	_, _ = dim.Fprintf(stderr, "%s, %s, %s\n", file.Name, file.MimeType, humanize.Bytes(uint64(file.Size)))

	progress := newProgressView(stderr)
	orch := app.Orchestrator(domain.Session{UserID: userID}, progress, nil)
	if _, err := orch.Select(file); err != nil {
		return err
	}

	progress.Start()
	job, err := orch.Submit(ctx)
	progress.Stop()
	if err != nil {
		return err
	}
	if job.Phase == domain.PhaseFailed {
		return fmt.Errorf("analysis did not start: %s", job.LastError)
	}

	green := color.New(color.FgGreen)
	_, _ = green.Fprintf(stderr, "Analysis started: %s\n", job.AnalysisID)
	if !waitReport {
		if format == formatJSON {
			return writeJSON(cmd.OutOrStdout(), job)
		}
		fmt.Fprintln(cmd.OutOrStdout(), job.AnalysisID)
		return nil
	}

	result, err := loadReport(ctx, app, job.AnalysisID, true)
	if err != nil {
		return err
	}
	if result.Report != nil {
		result.Report = report.WithPageFallback(result.Report, file.Pages)
	}
	return emit(cmd, result)
}

func fetchReport(cmd *cobra.Command, args []string) error {
	if err := validateFormat(); err != nil {
		return err
	}
	ctx := cmd.Context()
	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	result, err := loadReport(ctx, app, args[0], waitReport)
	if err != nil {
		return err
	}
	return emit(cmd, result)
}

func loadReport(ctx context.Context, app *bootstrap.App, analysisID string, wait bool) (*domain.ReportResult, error) {
	if !wait {
		return app.Reports.Fetch(ctx, analysisID)
	}
	view := newProgressView(os.Stderr)
	view.SetSuffix(" waiting for report " + analysisID)
	view.Start()
	defer view.Stop()
	return app.Reports.Wait(ctx, analysisID)
}

func emit(cmd *cobra.Command, result *domain.ReportResult) error {
	var w io.Writer = cmd.OutOrStdout()
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create %s: %w", outPath, err)
		}
		defer f.Close()
		w = f
	}
	if err := render(w, format, result); err != nil {
		return err
	}
	if outPath != "" {
		_, _ = color.New(color.FgHiBlack).Fprintf(cmd.ErrOrStderr(), "Report written to %s\n", outPath)
	}
	return nil
}

// progressView shows orchestrator progress: a spinner on a terminal, one
// line per phase change otherwise.
type progressView struct {
	w       io.Writer
	spinner *spinner.Spinner

	mu        sync.Mutex
	lastPhase domain.Phase
}

func newProgressView(w io.Writer) *progressView {
	v := &progressView{w: w}
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		v.spinner = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	}
	return v
}

func (v *progressView) Start() {
	if v.spinner != nil {
		v.spinner.Start()
	}
}

func (v *progressView) Stop() {
	if v.spinner != nil {
		v.spinner.Stop()
	}
}

func (v *progressView) SetSuffix(s string) {
	if v.spinner == nil {
		return
	}
	v.spinner.Lock()
	v.spinner.Suffix = s
	v.spinner.Unlock()
}

func (v *progressView) Emit(event domain.ProgressEvent) {
	if v.spinner != nil {
		v.SetSuffix(" " + describeProgress(event))
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if event.Phase == v.lastPhase {
		return
	}
	v.lastPhase = event.Phase
	fmt.Fprintln(v.w, describeProgress(event))
}

func describeProgress(event domain.ProgressEvent) string {
	switch event.Phase {
	case domain.PhaseUploading:
		return fmt.Sprintf("uploading %d%%", event.UploadProgress)
	case domain.PhaseProcessing:
		return fmt.Sprintf("processing %d%%", event.ProcessingProgress)
	case domain.PhaseStartingAnalysis:
		return "starting analysis"
	case domain.PhaseFailed:
		return "failed: " + event.Message
	default:
		return string(event.Phase)
	}
}
