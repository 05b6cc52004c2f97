package mcp

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/compozy/ragpipe/cli/cmd"
	mcpserver "github.com/compozy/ragpipe/engine/mcp"
	"github.com/compozy/ragpipe/pkg/logger"
)

const defaultSSEAddr = "127.0.0.1:8765"

// NewMCPCommand creates the mcp command
func NewMCPCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the document tools over the Model Context Protocol",
		Long: `Expose search, retrieve, ask, similar, documents, stats, ingest and
delete_document as MCP tools. The stdio transport is meant to be launched by an
MCP client; sse listens on --addr.`,
		Args: cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.ExecuteCommand(cobraCmd, cmd.ExecutorOptions{RequireApp: true}, cmd.ModeHandlers{
				JSON: handleMCP,
			}, args)
		},
	}
	command.Flags().String("transport", mcpserver.TransportStdio, "Transport: stdio or sse")
	command.Flags().String("addr", defaultSSEAddr, "Listen address of the sse transport")
	command.Flags().Bool("read-only", false, "Hide tools that modify the collection")
	command.Flags().Bool("protocol-logging", false, "Enable MCP logging notifications")
	return command
}

// Settings are the parsed mcp flags.
type Settings struct {
	Transport string
	Addr      string
	Options   mcpserver.Options
}

func parseSettings(cobraCmd *cobra.Command) (Settings, error) {
	flags := cobraCmd.Flags()
	transport, err := flags.GetString("transport")
	if err != nil {
		return Settings{}, err
	}
	if !slices.Contains([]string{mcpserver.TransportStdio, mcpserver.TransportSSE}, transport) {
		return Settings{}, fmt.Errorf("invalid --transport value %q: must be one of [stdio sse]", transport)
	}
	addr, err := flags.GetString("addr")
	if err != nil {
		return Settings{}, err
	}
	readOnly, err := flags.GetBool("read-only")
	if err != nil {
		return Settings{}, err
	}
	logging, err := flags.GetBool("protocol-logging")
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		Transport: transport,
		Addr:      addr,
		Options:   mcpserver.Options{ReadOnly: readOnly, Logging: logging},
	}, nil
}

func handleMCP(ctx context.Context, cobraCmd *cobra.Command, executor *cmd.CommandExecutor, _ []string) error {
	settings, err := parseSettings(cobraCmd)
	if err != nil {
		return err
	}
	srv, err := mcpserver.New(executor.App(), settings.Options)
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Debug("MCP tools registered", "tools", srv.Tools(), "read_only", settings.Options.ReadOnly)
	return srv.Serve(ctx, settings.Transport, settings.Addr)
}
