package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kirillkom/document-verifier/internal/config"
	"github.com/kirillkom/document-verifier/internal/core/domain"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	userID     string
	format     string
	outPath    string
	waitReport bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "docverify",
	Short:         "Check document authenticity against the analysis service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Upload a PDF or image and start an authenticity analysis",
	Args:  cobra.ExactArgs(1),
	RunE:  analyze,
}

var reportCmd = &cobra.Command{
	Use:   "report <analysis-id>",
	Short: "Fetch the report of a previously started analysis",
	Args:  cobra.ExactArgs(1),
	RunE:  fetchReport,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "docverify %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&format, "format", "f", formatText, "Output format: text, json or xlsx")
	rootCmd.PersistentFlags().StringVarP(&outPath, "out", "o", "", "Write the report to this file instead of stdout")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log requests to stderr")

	analyzeCmd.Flags().StringVarP(&userID, "user", "u", os.Getenv("DOCVERIFY_USER"), "User the analysis is started for")
	analyzeCmd.Flags().BoolVarP(&waitReport, "wait", "w", false, "Wait for the report after the analysis starts")
	reportCmd.Flags().BoolVarP(&waitReport, "wait", "w", false, "Wait while the analysis is still pending")

	rootCmd.AddCommand(analyzeCmd, reportCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		red := color.New(color.FgRed)
		_, _ = red.Fprintln(os.Stderr, "Error: "+cliMessage(err))
		os.Exit(1)
	}
}

// cliMessage keeps flag and usage errors verbatim; everything from the
// service goes through the plain-language mapping.
func cliMessage(err error) string {
	var typed *domain.Error
	if errors.As(err, &typed) || isDomainKind(err) {
		return domain.UserMessage(err)
	}
	return err.Error()
}

func isDomainKind(err error) bool {
	for _, kind := range []error{
		domain.ErrValidation, domain.ErrTransport, domain.ErrServer, domain.ErrNotFound,
		domain.ErrPollTimeout, domain.ErrSessionBusy, domain.ErrInvalidInput,
		domain.ErrUnauthorized, domain.ErrTemporary,
	} {
		if domain.IsKind(err, kind) {
			return true
		}
	}
	return false
}

func validateFormat() error {
	switch strings.ToLower(format) {
	case formatText, formatJSON:
		return nil
	case formatXLSX:
		if outPath == "" {
			return fmt.Errorf("--format xlsx requires --out")
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q, use text, json or xlsx", format)
	}
}

func loadConfig() config.Config {
	cfg := config.Load()
	if !verbose {
		cfg.LogLevel = "off"
	}
	return cfg
}
