package uploads

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/compozy/ragpipe/cli/cmd"
	"github.com/compozy/ragpipe/cli/tui/components"
	"github.com/compozy/ragpipe/cli/tui/styles"
	"github.com/compozy/ragpipe/engine/app"
	"github.com/compozy/ragpipe/engine/uploads"
)

// NewUploadsCommand creates the uploads command
func NewUploadsCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "uploads",
		Short: "Manage files in the upload directory",
	}
	command.AddCommand(newListCommand(), newAddCommand(), newDeleteCommand())
	return command
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored uploads",
		Args:  cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.ExecuteCommand(cobraCmd, cmd.ExecutorOptions{RequireApp: true}, cmd.ModeHandlers{
				JSON: handleList(false),
				TUI:  handleList(true),
			}, args)
		},
	}
}

func newAddCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add FILE",
		Short: "Copy a file into the upload directory and ingest it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.ExecuteCommand(cobraCmd, cmd.ExecutorOptions{RequireApp: true}, cmd.ModeHandlers{
				JSON: handleAdd(false),
				TUI:  handleAdd(true),
			}, args)
		},
	}
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Remove a stored upload; indexed chunks are kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.ExecuteCommand(cobraCmd, cmd.ExecutorOptions{RequireApp: true}, cmd.ModeHandlers{
				JSON: handleDelete(false),
				TUI:  handleDelete(true),
			}, args)
		},
	}
}

func handleList(styled bool) cmd.HandlerFunc {
	return func(ctx context.Context, _ *cobra.Command, executor *cmd.CommandExecutor, _ []string) error {
		files, err := executor.App().ListUploads(ctx)
		if err != nil {
			return err
		}
		if !styled {
			return executor.WriteJSON(map[string]any{"files": files, "total": len(files)})
		}
		return RenderFiles(executor.Out(), files)
	}
}

func handleAdd(styled bool) cmd.HandlerFunc {
	return func(ctx context.Context, _ *cobra.Command, executor *cmd.CommandExecutor, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[0], err)
		}
		defer f.Close()
		result, err := executor.App().Upload(ctx, filepath.Base(args[0]), f)
		if err != nil {
			return err
		}
		if !styled {
			return executor.WriteJSON(uploadView(result))
		}
		return RenderUpload(executor.Out(), result)
	}
}

func handleDelete(styled bool) cmd.HandlerFunc {
	return func(ctx context.Context, _ *cobra.Command, executor *cmd.CommandExecutor, args []string) error {
		if err := executor.App().DeleteUpload(ctx, args[0]); err != nil {
			return err
		}
		if !styled {
			return executor.WriteJSON(map[string]any{"name": args[0], "deleted": true})
		}
		_, err := fmt.Fprintln(executor.Out(), styles.Success.Render("Deleted "+args[0]))
		return err
	}
}

func uploadView(result *app.UploadResult) map[string]any {
	view := map[string]any{"file": result.File, "ingest": result.Ingest}
	if msg := result.Ingest.Message(); msg != "" {
		view["error"] = msg
	}
	return view
}

// RenderFiles prints stored uploads with a total size.
func RenderFiles(w io.Writer, files []uploads.File) error {
	if len(files) == 0 {
		_, err := fmt.Fprintln(w, styles.Warn.Render("The upload directory is empty."))
		return err
	}
	rows := make([][]string, 0, len(files))
	var total int64
	for _, f := range files {
		total += f.Size
		rows = append(rows, []string{f.Name, f.SizeHuman, f.ModifiedAt.Format("2006-01-02 15:04")})
	}
	_, err := fmt.Fprintf(w, "%s\n%s\n",
		components.RenderTable([]string{"Name", "Size", "Modified"}, rows),
		styles.Subtle.Render(fmt.Sprintf("%d files, %s", len(files), uploads.FormatSize(total))),
	)
	return err
}

// RenderUpload reports where the file was stored and how ingestion went.
func RenderUpload(w io.Writer, result *app.UploadResult) error {
	line := fmt.Sprintf("Stored %s (%s), %s", result.File.Name, result.File.SizeHuman, result.Ingest.Status)
	if msg := result.Ingest.Message(); msg != "" {
		_, err := fmt.Fprintln(w, styles.Failure.Render(line+": "+msg))
		return err
	}
	_, err := fmt.Fprintln(w, styles.Success.Render(fmt.Sprintf("%s, %d chunks", line, result.Ingest.Chunks)))
	return err
}
