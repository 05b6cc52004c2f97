package serve

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/compozy/ragpipe/cli/cmd"
	"github.com/compozy/ragpipe/cli/helpers"
	"github.com/compozy/ragpipe/cli/tui/components"
	"github.com/compozy/ragpipe/engine/infra/server"
	"github.com/compozy/ragpipe/pkg/config"
	"github.com/compozy/ragpipe/pkg/logger"
	"github.com/compozy/ragpipe/pkg/version"
)

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	command := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"server"},
		Short:   "Start the HTTP API",
		Long:    "Serve ingestion, search and question answering over HTTP until interrupted.",
		Args:    cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.ExecuteCommand(cobraCmd, cmd.ExecutorOptions{RequireApp: true}, cmd.ModeHandlers{
				JSON: handleServe(nil),
				TUI:  handleServe(printBanner),
			}, args)
		},
	}
	command.Flags().String("host", "", "Interface to bind")
	command.Flags().Int("port", 0, "Port to listen on")
	command.Flags().Bool("metrics", false, "Expose Prometheus metrics")
	return command
}

func handleServe(banner func(io.Writer, *config.Config)) cmd.HandlerFunc {
	return func(ctx context.Context, _ *cobra.Command, executor *cmd.CommandExecutor, _ []string) error {
		cfg := executor.Config()
		gin.SetMode(gin.ReleaseMode)
		if !helpers.IsPortAvailable(ctx, cfg.Server.Host, cfg.Server.Port) {
			return fmt.Errorf("port %d is not available on host %s", cfg.Server.Port, cfg.Server.Host)
		}
		srv, err := server.NewServer(ctx, executor.App())
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}
		if banner != nil {
			banner(executor.Out(), cfg)
		}
		logger.FromContext(ctx).Info("Starting ragpipe server",
			"collection", cfg.Vector.Collection,
			"vector_provider", cfg.Vector.Provider,
			"model", cfg.Ollama.Model,
		)
		return srv.Run(ctx)
	}
}

func printBanner(w io.Writer, cfg *config.Config) {
	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	fmt.Fprintln(w, components.RenderASCIIHeader(fmt.Sprintf("%s  listening on %s", version.GetVersion(), addr)))
}
