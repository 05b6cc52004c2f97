package models

import (
	"context"
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/compozy/ragpipe/cli/cmd"
	"github.com/compozy/ragpipe/cli/helpers"
	"github.com/compozy/ragpipe/cli/tui/components"
	tuimodels "github.com/compozy/ragpipe/cli/tui/models"
	"github.com/compozy/ragpipe/cli/tui/styles"
	"github.com/compozy/ragpipe/engine/llm"
	"github.com/compozy/ragpipe/engine/uploads"
)

// Client is the part of the Ollama client the commands use.
type Client interface {
	Model() string
	Models(ctx context.Context) ([]llm.Model, error)
	Pull(ctx context.Context, name string, progress func(llm.PullProgress)) error
}

// NewModelsCommand creates the models command
func NewModelsCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "models",
		Short: "Inspect and download Ollama models",
	}
	command.AddCommand(newListCommand(), newPullCommand())
	return command
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List models available on the Ollama host",
		Args:  cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.ExecuteCommand(cobraCmd, cmd.ExecutorOptions{}, cmd.ModeHandlers{
				JSON: withClient(func(ctx context.Context, e *cmd.CommandExecutor, c Client, _ []string) error {
					return listModels(ctx, c, e.Out(), false)
				}),
				TUI: withClient(func(ctx context.Context, e *cmd.CommandExecutor, c Client, _ []string) error {
					return listModels(ctx, c, e.Out(), true)
				}),
			}, args)
		},
	}
}

func newPullCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pull [NAME]",
		Short: "Download a model; defaults to the configured generation model",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.ExecuteCommand(cobraCmd, cmd.ExecutorOptions{}, cmd.ModeHandlers{
				JSON: withClient(pullJSON),
				TUI:  withClient(pullTUI),
			}, args)
		},
	}
}

type clientHandler func(ctx context.Context, executor *cmd.CommandExecutor, client Client, args []string) error

func withClient(fn clientHandler) cmd.HandlerFunc {
	return func(ctx context.Context, _ *cobra.Command, executor *cmd.CommandExecutor, args []string) error {
		client, err := llm.FromConfig(executor.Config())
		if err != nil {
			return err
		}
		return fn(ctx, executor, client, args)
	}
}

func modelName(client Client, args []string) string {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return args[0]
	}
	return client.Model()
}

func listModels(ctx context.Context, client Client, w io.Writer, styled bool) error {
	list, err := client.Models(ctx)
	if err != nil {
		return err
	}
	if !styled {
		return helpers.WriteJSON(w, map[string]any{"configured": client.Model(), "models": list})
	}
	return RenderModels(w, client.Model(), list)
}

func pullJSON(ctx context.Context, executor *cmd.CommandExecutor, client Client, args []string) error {
	name := modelName(client, args)
	if err := client.Pull(ctx, name, nil); err != nil {
		return err
	}
	return executor.WriteJSON(map[string]any{"model": name, "pulled": true})
}

func pullTUI(ctx context.Context, executor *cmd.CommandExecutor, client Client, args []string) error {
	name := modelName(client, args)
	program := tea.NewProgram(
		tuimodels.NewPullModel(name),
		tea.WithContext(ctx),
		tea.WithOutput(executor.Out()),
	)
	go func() {
		err := client.Pull(ctx, name, func(p llm.PullProgress) {
			program.Send(tuimodels.PullProgressMsg{Status: p.Status, Completed: p.Completed, Total: p.Total})
		})
		program.Send(tuimodels.PullDoneMsg{Err: err})
	}()
	final, err := program.Run()
	if err != nil {
		return err
	}
	if m, ok := final.(tuimodels.PullModel); ok {
		return m.Err()
	}
	return nil
}

// RenderModels prints local models and marks the configured one.
func RenderModels(w io.Writer, configured string, list []llm.Model) error {
	if len(list) == 0 {
		_, err := fmt.Fprintln(w, styles.Warn.Render(
			fmt.Sprintf("No models on the Ollama host. Run `ragpipe models pull %s`.", configured),
		))
		return err
	}
	rows := make([][]string, 0, len(list))
	for _, m := range list {
		marker := ""
		if strings.HasPrefix(m.Name, configured) {
			marker = "*"
		}
		rows = append(rows, []string{marker, m.Name, uploads.FormatSize(m.Size), m.ModifiedAt.Format("2006-01-02")})
	}
	_, err := fmt.Fprintln(w, components.RenderTable([]string{"", "Name", "Size", "Modified"}, rows))
	return err
}
