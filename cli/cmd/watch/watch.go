package watch

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/compozy/ragpipe/cli/cmd"
	"github.com/compozy/ragpipe/cli/helpers"
	"github.com/compozy/ragpipe/cli/tui/styles"
	"github.com/compozy/ragpipe/engine/knowledge/ingest"
	"github.com/compozy/ragpipe/pkg/logger"
)

// NewWatchCommand creates the watch command
func NewWatchCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "watch",
		Short: "Ingest files as they appear in the upload directory",
		Long: `Watch the upload directory and ingest every supported file that is created or
changed. Runs until interrupted. With --rescan-schedule the whole directory is
re-ingested on a cron schedule; duplicates are skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.ExecuteCommand(cobraCmd, cmd.ExecutorOptions{RequireApp: true}, cmd.ModeHandlers{
				JSON: runWatch(printJSON),
				TUI:  runWatch(printLine),
			}, args)
		},
	}
	command.Flags().Duration("watch-debounce", 0, "Quiet period before a changed file is ingested")
	command.Flags().String("rescan-schedule", "", "Cron expression for full directory rescans")
	return command
}

type printer func(w io.Writer, res ingest.FileResult) error

func runWatch(emit printer) cmd.HandlerFunc {
	return func(ctx context.Context, _ *cobra.Command, executor *cmd.CommandExecutor, _ []string) error {
		log := logger.FromContext(ctx)
		var mu sync.Mutex
		out := executor.Out()
		watcher, err := executor.App().NewWatcher(ingest.WatchOptions{
			Debounce:       executor.Config().Ingest.WatchDebounce,
			RescanSchedule: executor.Config().Ingest.RescanSchedule,
			OnResult: func(res ingest.FileResult) {
				mu.Lock()
				defer mu.Unlock()
				if err := emit(out, res); err != nil {
					log.Warn("Failed to print watch result", "path", res.Path, "error", err)
				}
			},
		})
		if err != nil {
			return err
		}
		log.Info("Watching for documents", "dir", executor.Config().Uploads.Directory)
		if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}
}

type resultView struct {
	Time   time.Time     `json:"time"`
	Path   string        `json:"path"`
	Status ingest.Status `json:"status"`
	Chunks int           `json:"chunks"`
	Hash   string        `json:"hash,omitempty"`
	Error  string        `json:"error,omitempty"`
}

func newResultView(res ingest.FileResult, now time.Time) resultView {
	view := resultView{Time: now, Path: res.Path, Status: res.Status, Chunks: res.Chunks, Hash: res.Hash}
	if res.Error != nil {
		view.Error = res.Error.Error()
	}
	return view
}

func printJSON(w io.Writer, res ingest.FileResult) error {
	return helpers.WriteJSON(w, newResultView(res, time.Now().UTC()))
}

// FormatResult renders one watch event as a single line.
func FormatResult(res ingest.FileResult) string {
	switch res.Status {
	case ingest.StatusAdded:
		return styles.Success.Render("+ ") + fmt.Sprintf("%s (%d %s)", res.Path, res.Chunks, helpers.Pluralize(res.Chunks, "chunk", "chunks"))
	case ingest.StatusDuplicate:
		return styles.Subtle.Render("= " + res.Path + " already indexed")
	default:
		return styles.Failure.Render("✗ ") + fmt.Sprintf("%s: %s", res.Path, res.Message())
	}
}

func printLine(w io.Writer, res ingest.FileResult) error {
	_, err := fmt.Fprintln(w, FormatResult(res))
	return err
}
