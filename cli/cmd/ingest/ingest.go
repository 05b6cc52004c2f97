package ingest

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/compozy/ragpipe/cli/cmd"
	"github.com/compozy/ragpipe/cli/helpers"
	"github.com/compozy/ragpipe/cli/tui/components"
	"github.com/compozy/ragpipe/cli/tui/styles"
	"github.com/compozy/ragpipe/engine/knowledge/ingest"
)

// NewIngestCommand creates the ingest command
func NewIngestCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "ingest PATH...",
		Short: "Ingest files, directories or glob patterns",
		Long: `Extract, chunk and embed every supported file under the given paths.
Directories are walked recursively. Documents already indexed with the same
content are reported as duplicates.`,
		Example: `  ragpipe ingest ./docs
  ragpipe ingest "reports/**/*.pdf" notes.md`,
		Args: cobra.MinimumNArgs(1),
		RunE: executeIngestCommand,
	}
	command.Flags().Int("chunk-size", 0, "Chunk size in tokens")
	command.Flags().Int("chunk-overlap", 0, "Overlap between chunks in tokens")
	command.Flags().Int("concurrency", 0, "Files processed in parallel")
	return command
}

func executeIngestCommand(cobraCmd *cobra.Command, args []string) error {
	return cmd.ExecuteCommand(cobraCmd, cmd.ExecutorOptions{RequireApp: true}, cmd.ModeHandlers{
		JSON: handleIngestJSON,
		TUI:  handleIngestTUI,
	}, args)
}

// FileView is a FileResult with its error rendered.
type FileView struct {
	Path     string        `json:"path"`
	Hash     string        `json:"hash,omitempty"`
	Status   ingest.Status `json:"status"`
	Chunks   int           `json:"chunks"`
	Tokens   int           `json:"tokens"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// ReportView is the printable form of an ingestion report.
type ReportView struct {
	RunID      string     `json:"run_id"`
	Files      []FileView `json:"files"`
	Added      int        `json:"added"`
	Duplicates int        `json:"duplicates"`
	Failed     int        `json:"failed"`
	Chunks     int        `json:"chunks"`
	Tokens     int        `json:"tokens"`
	Duration   string     `json:"duration"`
}

func NewReportView(r *ingest.Report) ReportView {
	view := ReportView{
		RunID:      r.RunID,
		Files:      make([]FileView, 0, len(r.Files)),
		Added:      r.Added,
		Duplicates: r.Duplicates,
		Failed:     r.Failed,
		Chunks:     r.Chunks,
		Tokens:     r.Tokens,
		Duration:   helpers.FormatDuration(r.FinishedAt.Sub(r.StartedAt)),
	}
	for i := range r.Files {
		f := r.Files[i]
		view.Files = append(view.Files, FileView{
			Path:     f.Path,
			Hash:     f.Hash,
			Status:   f.Status,
			Chunks:   f.Chunks,
			Tokens:   f.Tokens,
			Error:    f.Message(),
			Duration: f.Duration,
		})
	}
	return view
}

func handleIngestJSON(ctx context.Context, _ *cobra.Command, executor *cmd.CommandExecutor, args []string) error {
	report, err := executor.App().IngestPaths(ctx, args)
	if report != nil {
		if werr := executor.WriteJSON(NewReportView(report)); werr != nil {
			return werr
		}
	}
	if err != nil {
		return err
	}
	return failedError(report)
}

func handleIngestTUI(ctx context.Context, _ *cobra.Command, executor *cmd.CommandExecutor, args []string) error {
	report, err := executor.App().IngestPaths(ctx, args)
	if report != nil {
		if werr := RenderReport(executor.Out(), NewReportView(report)); werr != nil {
			return werr
		}
	}
	if err != nil {
		return err
	}
	return failedError(report)
}

func failedError(report *ingest.Report) error {
	if report == nil || report.Failed == 0 {
		return nil
	}
	return helpers.NewCliError(
		"INGEST_INCOMPLETE",
		fmt.Sprintf("%d %s could not be ingested", report.Failed, helpers.Pluralize(report.Failed, "file", "files")),
	)
}

// RenderReport prints one row per file and a summary line.
func RenderReport(w io.Writer, view ReportView) error {
	if len(view.Files) == 0 {
		_, err := fmt.Fprintln(w, styles.Warn.Render("No supported files matched."))
		return err
	}
	rows := make([][]string, 0, len(view.Files))
	for _, f := range view.Files {
		detail := f.Error
		if detail == "" && f.Hash != "" {
			detail = f.Hash
		}
		rows = append(rows, []string{
			helpers.Truncate(f.Path, 48),
			statusLabel(f.Status),
			strconv.Itoa(f.Chunks),
			helpers.Truncate(detail, 48),
		})
	}
	summary := fmt.Sprintf(
		"%d added, %d duplicate, %d failed, %d %s in %s",
		view.Added, view.Duplicates, view.Failed,
		view.Chunks, helpers.Pluralize(view.Chunks, "chunk", "chunks"),
		view.Duration,
	)
	_, err := fmt.Fprintf(w, "%s\n%s\n",
		components.RenderTable([]string{"File", "Status", "Chunks", "Detail"}, rows),
		styles.Subtle.Render(summary),
	)
	return err
}

func statusLabel(status ingest.Status) string {
	switch status {
	case ingest.StatusAdded:
		return styles.Success.Render(string(status))
	case ingest.StatusDuplicate:
		return styles.Warn.Render(string(status))
	default:
		return styles.Failure.Render(string(status))
	}
}
