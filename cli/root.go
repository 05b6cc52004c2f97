package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/compozy/ragpipe/cli/cmd/ask"
	configcmd "github.com/compozy/ragpipe/cli/cmd/config"
	"github.com/compozy/ragpipe/cli/cmd/documents"
	"github.com/compozy/ragpipe/cli/cmd/ingest"
	mcpcmd "github.com/compozy/ragpipe/cli/cmd/mcp"
	"github.com/compozy/ragpipe/cli/cmd/models"
	"github.com/compozy/ragpipe/cli/cmd/search"
	"github.com/compozy/ragpipe/cli/cmd/serve"
	"github.com/compozy/ragpipe/cli/cmd/uploads"
	versioncmd "github.com/compozy/ragpipe/cli/cmd/version"
	"github.com/compozy/ragpipe/cli/cmd/watch"
	"github.com/compozy/ragpipe/cli/helpers"
	"github.com/compozy/ragpipe/pkg/config"
	"github.com/compozy/ragpipe/pkg/logger"
)

const defaultConfigFile = "ragpipe.yaml"

// RootCmd builds the ragpipe command tree.
func RootCmd() *cobra.Command {
	var closers []io.Closer
	root := &cobra.Command{
		Use:   "ragpipe",
		Short: "Local document ingestion and retrieval augmented answers",
		Long: `ragpipe indexes PDF, DOCX, text, markdown, HTML and CSV files into a vector
store and answers questions from them with a local Ollama model.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			closer, err := SetupGlobalConfig(cmd)
			if err != nil {
				return err
			}
			closers = append(closers, closer)
			if m := config.ManagerFromContext(cmd.Context()); m != nil {
				closers = append(closers, m)
			}
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			var errs []error
			for _, c := range closers {
				if c == nil {
					continue
				}
				if err := c.Close(); err != nil {
					errs = append(errs, err)
				}
			}
			closers = nil
			return errors.Join(errs...)
		},
	}
	addPersistentFlags(root)
	root.AddCommand(
		ingest.NewIngestCommand(),
		search.NewSearchCommand(),
		search.NewRetrieveCommand(),
		search.NewSimilarCommand(),
		ask.NewAskCommand(),
		documents.NewDocumentsCommand(),
		documents.NewStatsCommand(),
		documents.NewResetCommand(),
		uploads.NewUploadsCommand(),
		models.NewModelsCommand(),
		watch.NewWatchCommand(),
		serve.NewServeCommand(),
		mcpcmd.NewMCPCommand(),
		configcmd.NewConfigCommand(),
		versioncmd.NewVersionCommand(),
	)
	return root
}

func addPersistentFlags(root *cobra.Command) {
	pf := root.PersistentFlags()
	pf.String(helpers.FlagConfig, defaultConfigFile, "Path to the YAML configuration file")
	pf.String(helpers.FlagEnvFile, ".env", "Path to the environment file")
	pf.String(helpers.FlagOutput, "", "Output format: json or tui")
	pf.Bool(helpers.FlagJSON, false, "Shorthand for --output json")
	pf.String(helpers.FlagLogLevel, "", "Log level (debug, info, warn, error)")
	pf.Bool(helpers.FlagLogJSON, false, "Emit logs as JSON")
	pf.Bool(helpers.FlagLogSource, false, "Include source locations in logs")
	pf.String(helpers.FlagLogFile, "", "Also write logs to this file")
	pf.String("ollama-host", "", "Ollama base URL")
	pf.String("model", "", "Ollama generation model")
	pf.String("embedding-provider", "", "Primary embedding provider (ollama, openai, local)")
	pf.String("embedding-model", "", "Primary embedding model")
	pf.String("fallback-provider", "", "Fallback embedding provider (none, ollama, openai, local)")
	pf.String("vector-provider", "", "Vector store (memory, filesystem, sqlite, pgvector, qdrant, redis)")
	pf.String("persist-dir", "", "Directory of the filesystem and sqlite vector stores")
	pf.String("collection", "", "Vector collection name")
	pf.String("vector-dsn", "", "Connection string of the vector store")
	pf.String("upload-dir", "", "Directory holding uploaded and watched documents")
	pf.String("redis-url", "", "Redis URL for cross process locks and shared rate limits")
	root.MarkFlagsMutuallyExclusive(helpers.FlagJSON, helpers.FlagOutput)
}

// SetupGlobalConfig loads the .env file, the YAML file, environment variables
// and explicit flags, then installs the logger. The configuration manager
// and logger are attached to the command context.
func SetupGlobalConfig(cmd *cobra.Command) (io.Closer, error) {
	if err := loadEnvFile(cmd); err != nil {
		return nil, err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	configFile, err := cmd.Flags().GetString(helpers.FlagConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	sources := []config.Source{config.NewDefaultProvider()}
	if configFile != "" {
		sources = append(sources, config.NewYAMLProvider(configFile))
	}
	cliFlags := make(map[string]any)
	extractCLIFlags(cmd, cliFlags)
	if len(cliFlags) > 0 {
		sources = append(sources, config.NewCLIProvider(cliFlags))
	}
	manager := config.NewManager(config.NewService())
	cfg, err := manager.Load(ctx, sources...)
	if err != nil {
		return nil, err
	}
	closer, err := logger.SetupLogger(cfg.Log.Level, cfg.Log.JSON, cfg.Log.Source, cfg.Log.File)
	if err != nil {
		return nil, err
	}
	log := logger.GetDefault()
	log.Debug("configuration loaded", "config_file", configFile, "overrides", len(cliFlags))
	ctx = config.ContextWithManager(ctx, manager)
	ctx = logger.ContextWithLogger(ctx, log)
	cmd.SetContext(ctx)
	return closer, nil
}
