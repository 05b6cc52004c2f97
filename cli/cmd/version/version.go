package version

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/compozy/ragpipe/cli/cmd"
	"github.com/compozy/ragpipe/cli/tui/components"
	"github.com/compozy/ragpipe/pkg/version"
)

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.ExecuteCommand(cobraCmd, cmd.ExecutorOptions{}, cmd.ModeHandlers{
				JSON: func(_ context.Context, _ *cobra.Command, executor *cmd.CommandExecutor, _ []string) error {
					return executor.WriteJSON(version.Get())
				},
				TUI: func(_ context.Context, _ *cobra.Command, executor *cmd.CommandExecutor, _ []string) error {
					_, err := fmt.Fprintln(executor.Out(), Render(version.Get()))
					return err
				},
			}, args)
		},
	}
}

// Render prints the logo and build details.
func Render(info version.Info) string {
	subtitle := fmt.Sprintf("%s (commit %s, built %s)", info.Version, info.CommitHash, info.BuildDate)
	return components.RenderASCIIHeader(subtitle)
}
