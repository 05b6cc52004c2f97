package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/compozy/ragpipe/cli/helpers"
	"github.com/compozy/ragpipe/cli/tui/models"
	"github.com/compozy/ragpipe/engine/app"
	"github.com/compozy/ragpipe/pkg/config"
	"github.com/compozy/ragpipe/pkg/logger"
	"github.com/spf13/cobra"
)

// CommandExecutor handles common setup and execution patterns for CLI commands.
// It detects the output mode and, when asked, builds the application so
// every command shares one place for setup and teardown.
type CommandExecutor struct {
	mode models.Mode
	cfg  *config.Config
	app  *app.App
	out  io.Writer
}

// HandlerFunc defines the signature for command handlers.
type HandlerFunc func(ctx context.Context, cmd *cobra.Command, executor *CommandExecutor, args []string) error

// ModeHandlers contains handlers for different execution modes.
type ModeHandlers struct {
	JSON HandlerFunc
	TUI  HandlerFunc
}

// ExecutorOptions allows customization of the command executor
type ExecutorOptions struct {
	// RequireApp opens the vector store and builds the pipeline.
	RequireApp bool
}

// NewCommandExecutor creates a new command executor with all necessary setup.
func NewCommandExecutor(cmd *cobra.Command, opts ExecutorOptions) (*CommandExecutor, error) {
	ctx := cmd.Context()
	log := logger.FromContext(ctx)
	mode := helpers.DetectMode(cmd)
	log.Debug("detected execution mode", "mode", mode)
	executor := &CommandExecutor{
		mode: mode,
		cfg:  config.FromContext(ctx),
		out:  cmd.OutOrStdout(),
	}
	if opts.RequireApp {
		application, err := app.Setup(ctx, executor.cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ragpipe: %w", err)
		}
		executor.app = application
	}
	return executor, nil
}

// Execute runs the appropriate handler based on the detected mode.
func (e *CommandExecutor) Execute(ctx context.Context, cmd *cobra.Command, handlers ModeHandlers, args []string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	switch e.mode {
	case models.ModeJSON:
		if handlers.JSON == nil {
			return fmt.Errorf("JSON mode handler not implemented")
		}
		return handlers.JSON(ctx, cmd, e, args)
	case models.ModeTUI:
		handler := handlers.TUI
		if handler == nil {
			handler = handlers.JSON
		}
		if handler == nil {
			return fmt.Errorf("TUI mode handler not implemented")
		}
		return handler(ctx, cmd, e, args)
	default:
		return fmt.Errorf("unsupported mode: %s", e.mode)
	}
}

// Close releases the application when one was built.
func (e *CommandExecutor) Close(ctx context.Context) error {
	if e.app == nil {
		return nil
	}
	err := e.app.Close(ctx)
	e.app = nil
	return err
}

func (e *CommandExecutor) App() *app.App {
	return e.app
}

func (e *CommandExecutor) Config() *config.Config {
	return e.cfg
}

func (e *CommandExecutor) GetMode() models.Mode {
	return e.mode
}

// Out is the command's standard output.
func (e *CommandExecutor) Out() io.Writer {
	return e.out
}

// WriteJSON prints v as indented JSON to the command output.
func (e *CommandExecutor) WriteJSON(v any) error {
	return helpers.WriteJSON(e.out, v)
}

// ExecuteCommand is a convenience function that combines executor creation and execution.
func ExecuteCommand(cmd *cobra.Command, opts ExecutorOptions, handlers ModeHandlers, args []string) error {
	ctx := cmd.Context()
	executor, err := NewCommandExecutor(cmd, opts)
	if err != nil {
		return HandleCommonErrors(err, helpers.DetectMode(cmd))
	}
	runErr := executor.Execute(ctx, cmd, handlers, args)
	if cerr := executor.Close(context.WithoutCancel(ctx)); cerr != nil {
		logger.FromContext(ctx).Warn("Failed to close application", "error", cerr)
	}
	return HandleCommonErrors(runErr, executor.GetMode())
}

// HandleCommonErrors provides consistent error handling across all commands.
func HandleCommonErrors(err error, mode models.Mode) error {
	if err == nil {
		return nil
	}
	err = helpers.WrapError(err)
	helpers.OutputError(err, mode)
	return err
}
