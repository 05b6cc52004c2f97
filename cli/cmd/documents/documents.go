package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/compozy/ragpipe/cli/cmd"
	"github.com/compozy/ragpipe/cli/helpers"
	"github.com/compozy/ragpipe/cli/tui/components"
	"github.com/compozy/ragpipe/cli/tui/styles"
	"github.com/compozy/ragpipe/engine/knowledge/index"
)

// NewDocumentsCommand creates the documents command
func NewDocumentsCommand() *cobra.Command {
	command := &cobra.Command{
		Use:     "documents",
		Aliases: []string{"docs"},
		Short:   "List indexed documents",
		Args:    cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.ExecuteCommand(cobraCmd, cmd.ExecutorOptions{RequireApp: true}, cmd.ModeHandlers{
				JSON: handleList(false),
				TUI:  handleList(true),
			}, args)
		},
	}
	command.AddCommand(newDeleteCommand())
	return command
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete HASH",
		Short: "Remove every chunk of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.ExecuteCommand(cobraCmd, cmd.ExecutorOptions{RequireApp: true}, cmd.ModeHandlers{
				JSON: handleDelete(false),
				TUI:  handleDelete(true),
			}, args)
		},
	}
}

// NewStatsCommand creates the stats command
func NewStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Chunk and document counts of the collection",
		Args:  cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.ExecuteCommand(cobraCmd, cmd.ExecutorOptions{RequireApp: true}, cmd.ModeHandlers{
				JSON: handleStats(false),
				TUI:  handleStats(true),
			}, args)
		},
	}
}

// NewResetCommand creates the reset command
func NewResetCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "reset",
		Short: "Delete every document from the collection",
		Args:  cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.ExecuteCommand(cobraCmd, cmd.ExecutorOptions{RequireApp: true}, cmd.ModeHandlers{
				JSON: handleReset(false),
				TUI:  handleReset(true),
			}, args)
		},
	}
	command.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")
	return command
}

func handleList(styled bool) cmd.HandlerFunc {
	return func(ctx context.Context, _ *cobra.Command, executor *cmd.CommandExecutor, _ []string) error {
		docs, err := executor.App().Documents(ctx)
		if err != nil {
			return err
		}
		if !styled {
			return executor.WriteJSON(map[string]any{"documents": docs, "total": len(docs)})
		}
		return RenderDocuments(executor.Out(), docs)
	}
}

func handleDelete(styled bool) cmd.HandlerFunc {
	return func(ctx context.Context, _ *cobra.Command, executor *cmd.CommandExecutor, args []string) error {
		n, err := executor.App().DeleteDocument(ctx, args[0])
		if err != nil {
			return err
		}
		if !styled {
			return executor.WriteJSON(map[string]any{"hash": args[0], "chunks_deleted": n})
		}
		_, err = fmt.Fprintln(executor.Out(), styles.Success.Render(
			fmt.Sprintf("Deleted %d %s of %s", n, helpers.Pluralize(n, "chunk", "chunks"), args[0]),
		))
		return err
	}
}

func handleStats(styled bool) cmd.HandlerFunc {
	return func(ctx context.Context, _ *cobra.Command, executor *cmd.CommandExecutor, _ []string) error {
		stats, err := executor.App().Stats(ctx)
		if err != nil {
			return err
		}
		if !styled {
			return executor.WriteJSON(stats)
		}
		return RenderStats(executor.Out(), stats)
	}
}

func handleReset(styled bool) cmd.HandlerFunc {
	return func(ctx context.Context, cobraCmd *cobra.Command, executor *cmd.CommandExecutor, _ []string) error {
		yes, err := cobraCmd.Flags().GetBool("yes")
		if err != nil {
			return err
		}
		if !yes {
			if !styled {
				return helpers.NewCliError("CONFIRMATION_REQUIRED", "reset removes every document; pass --yes to confirm")
			}
			confirmed, err := confirmReset(ctx, executor.Config().Vector.Collection)
			if err != nil {
				return err
			}
			if !confirmed {
				_, err := fmt.Fprintln(executor.Out(), styles.Subtle.Render("Reset aborted."))
				return err
			}
		}
		if err := executor.App().Reset(ctx); err != nil {
			return err
		}
		if !styled {
			return executor.WriteJSON(map[string]any{"reset": true})
		}
		_, err = fmt.Fprintln(executor.Out(), styles.Success.Render("Collection reset."))
		return err
	}
}

func confirmReset(ctx context.Context, collection string) (bool, error) {
	var confirmed bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(fmt.Sprintf("Delete every document in %q?", collection)).
			Description("Indexed chunks cannot be recovered. Uploaded files are kept.").
			Affirmative("Delete").
			Negative("Cancel").
			Value(&confirmed),
	))
	err := form.RunWithContext(ctx)
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	return confirmed, err
}

// RenderDocuments prints one row per indexed document.
func RenderDocuments(w io.Writer, docs []index.DocumentInfo) error {
	if len(docs) == 0 {
		_, err := fmt.Fprintln(w, styles.Warn.Render("No documents indexed yet."))
		return err
	}
	rows := make([][]string, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, []string{d.Hash, d.FileName, d.FileType, strconv.Itoa(d.Chunks), d.IndexedAt})
	}
	_, err := fmt.Fprintln(w, components.RenderTable([]string{"Hash", "File", "Type", "Chunks", "Indexed"}, rows))
	return err
}

// RenderStats prints the collection counters.
func RenderStats(w io.Writer, stats index.Stats) error {
	_, err := fmt.Fprintln(w, components.RenderPairs([][2]string{
		{"Collection", stats.Collection},
		{"Documents", strconv.Itoa(stats.UniqueDocuments)},
		{"Chunks", strconv.Itoa(stats.TotalChunks)},
	}))
	return err
}
