package config

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/compozy/ragpipe/cli/cmd"
	"github.com/compozy/ragpipe/cli/helpers"
	"github.com/compozy/ragpipe/cli/tui/components"
	"github.com/compozy/ragpipe/pkg/config"
	"github.com/compozy/ragpipe/pkg/logger"
)

const redacted = "[REDACTED]"

// Entry is one effective configuration value.
type Entry struct {
	Key    string            `json:"key"    yaml:"key"`
	Value  string            `json:"value"  yaml:"value"`
	EnvVar string            `json:"env"    yaml:"env"`
	Source config.SourceType `json:"source" yaml:"source"`
}

// NewConfigCommand creates the config command using the unified command pattern
func NewConfigCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	command.AddCommand(NewConfigShowCommand())
	return command
}

// NewConfigShowCommand creates the config show subcommand
func NewConfigShowCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration values and where they came from",
		Long: `Display every configuration key with its value, environment variable and source
(default, yaml, env or cli). Secrets are redacted.`,
		Args: cobra.NoArgs,
		RunE: executeConfigShowCommand,
	}
	command.Flags().StringP("format", "f", "", "Output format (json, yaml, table); defaults to the output mode")
	return command
}

func executeConfigShowCommand(cobraCmd *cobra.Command, args []string) error {
	return cmd.ExecuteCommand(cobraCmd, cmd.ExecutorOptions{}, cmd.ModeHandlers{
		JSON: handleConfigShow("json"),
		TUI:  handleConfigShow("table"),
	}, args)
}

func handleConfigShow(defaultFormat string) cmd.HandlerFunc {
	return func(ctx context.Context, cobraCmd *cobra.Command, executor *cmd.CommandExecutor, _ []string) error {
		logger.FromContext(ctx).Debug("executing config show command")
		format, err := cobraCmd.Flags().GetString("format")
		if err != nil {
			return fmt.Errorf("failed to get format flag: %w", err)
		}
		if format == "" {
			format = defaultFormat
		}
		var service config.Service
		if m := config.ManagerFromContext(ctx); m != nil {
			service = m.Service
		}
		entries, err := Collect(executor.Config(), service)
		if err != nil {
			return err
		}
		return formatConfigOutput(executor.Out(), entries, format)
	}
}

// Collect flattens cfg into sorted entries. Sources are reported when service
// is the one that loaded cfg.
func Collect(cfg *config.Config, service config.Service) ([]Entry, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(cfg, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to flatten configuration: %w", err)
	}
	fields := config.Fields()
	entries := make([]Entry, 0, len(fields))
	for _, f := range fields {
		entry := Entry{Key: f.Path, EnvVar: f.EnvVar, Source: config.SourceDefault}
		entry.Value = fmt.Sprintf("%v", k.Get(f.Path))
		if f.Sensitive && entry.Value != "" {
			entry.Value = redacted
		}
		if service != nil {
			if src := service.GetSource(f.Path); src != "" {
				entry.Source = src
			}
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func formatConfigOutput(w io.Writer, entries []Entry, format string) error {
	switch helpers.OutputFormat(format) {
	case helpers.OutputFormatJSON:
		return helpers.WriteJSON(w, entries)
	case "yaml":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		defer encoder.Close()
		return encoder.Encode(entries)
	case "table", helpers.OutputFormatTUI:
		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, []string{e.Key, e.Value, e.EnvVar, string(e.Source)})
		}
		_, err := fmt.Fprintln(w, components.RenderTable([]string{"Key", "Value", "Env", "Source"}, rows))
		return err
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}
