package search

import (
	"context"
	"fmt"
	"io"
	"maps"
	"strings"

	"github.com/spf13/cobra"

	"github.com/compozy/ragpipe/cli/cmd"
	"github.com/compozy/ragpipe/cli/helpers"
	"github.com/compozy/ragpipe/cli/tui/components"
	"github.com/compozy/ragpipe/cli/tui/styles"
	"github.com/compozy/ragpipe/engine/knowledge"
	"github.com/compozy/ragpipe/engine/knowledge/index"
)

const previewLength = 72

// NewSearchCommand creates the search command
func NewSearchCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "search QUERY",
		Short: "Rank stored chunks by similarity to a query",
		Example: `  ragpipe search "quarterly revenue" -k 10
  ragpipe search "install steps" --file README.md`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.ExecuteCommand(cobraCmd, cmd.ExecutorOptions{RequireApp: true}, cmd.ModeHandlers{
				JSON: handleSearch(false),
				TUI:  handleSearch(true),
			}, args)
		},
	}
	addQueryFlags(command)
	return command
}

// NewRetrieveCommand creates the retrieve command
func NewRetrieveCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "retrieve QUERY",
		Short: "Chunks above the similarity threshold, as sent to the model",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.ExecuteCommand(cobraCmd, cmd.ExecutorOptions{RequireApp: true}, cmd.ModeHandlers{
				JSON: handleRetrieve(false),
				TUI:  handleRetrieve(true),
			}, args)
		},
	}
	addQueryFlags(command)
	command.Flags().Float64("similarity-threshold", 0, "Minimum similarity between 0 and 1")
	return command
}

// NewSimilarCommand creates the similar command
func NewSimilarCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "similar CHUNK_ID",
		Short: "Chunks closest to a stored chunk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return cmd.ExecuteCommand(cobraCmd, cmd.ExecutorOptions{RequireApp: true}, cmd.ModeHandlers{
				JSON: handleSimilar(false),
				TUI:  handleSimilar(true),
			}, args)
		},
	}
	command.Flags().IntP("k", "k", 0, "Number of results (defaults to retrieval.top_k)")
	return command
}

func addQueryFlags(command *cobra.Command) {
	command.Flags().IntP("k", "k", 0, "Number of results (defaults to retrieval.top_k)")
	command.Flags().String("file", "", "Only match chunks of this file name")
	command.Flags().StringToString("filter", nil, "Metadata equality filter, e.g. --filter file_type=.pdf")
}

// QueryOptions are the parsed flags shared by search and retrieve.
type QueryOptions struct {
	Query  string
	K      int
	Filter map[string]string
}

func parseQuery(cobraCmd *cobra.Command, executor *cmd.CommandExecutor, args []string) (QueryOptions, error) {
	opts := QueryOptions{Query: strings.Join(args, " ")}
	k, err := cobraCmd.Flags().GetInt("k")
	if err != nil {
		return opts, err
	}
	if k <= 0 {
		k = executor.Config().Retrieval.TopK
	}
	opts.K = k
	if cobraCmd.Flags().Lookup("filter") == nil {
		return opts, nil
	}
	filter, err := cobraCmd.Flags().GetStringToString("filter")
	if err != nil {
		return opts, err
	}
	file, err := cobraCmd.Flags().GetString("file")
	if err != nil {
		return opts, err
	}
	opts.Filter = BuildFilter(filter, file)
	return opts, nil
}

// BuildFilter merges --filter pairs with the --file shorthand. It returns nil
// when nothing restricts the query.
func BuildFilter(pairs map[string]string, file string) map[string]string {
	if len(pairs) == 0 && file == "" {
		return nil
	}
	filter := make(map[string]string, len(pairs)+1)
	maps.Copy(filter, pairs)
	if file != "" {
		filter["file_name"] = file
	}
	return filter
}

func handleSearch(styled bool) cmd.HandlerFunc {
	return func(ctx context.Context, cobraCmd *cobra.Command, executor *cmd.CommandExecutor, args []string) error {
		opts, err := parseQuery(cobraCmd, executor, args)
		if err != nil {
			return err
		}
		results, err := executor.App().Search(ctx, opts.Query, opts.K, opts.Filter)
		if err != nil {
			return err
		}
		if !styled {
			return executor.WriteJSON(map[string]any{"query": opts.Query, "results": results})
		}
		return RenderResults(executor.Out(), results)
	}
}

func handleRetrieve(styled bool) cmd.HandlerFunc {
	return func(ctx context.Context, cobraCmd *cobra.Command, executor *cmd.CommandExecutor, args []string) error {
		opts, err := parseQuery(cobraCmd, executor, args)
		if err != nil {
			return err
		}
		contexts, err := executor.App().Retrieve(ctx, opts.Query, opts.K, opts.Filter)
		if err != nil {
			return err
		}
		if !styled {
			return executor.WriteJSON(map[string]any{"query": opts.Query, "contexts": contexts})
		}
		return RenderContexts(executor.Out(), contexts)
	}
}

func handleSimilar(styled bool) cmd.HandlerFunc {
	return func(ctx context.Context, cobraCmd *cobra.Command, executor *cmd.CommandExecutor, args []string) error {
		k, err := cobraCmd.Flags().GetInt("k")
		if err != nil {
			return err
		}
		if k <= 0 {
			k = executor.Config().Retrieval.TopK
		}
		results, err := executor.App().FindSimilar(ctx, args[0], k)
		if err != nil {
			return err
		}
		if !styled {
			return executor.WriteJSON(map[string]any{"chunk_id": args[0], "results": results})
		}
		return RenderResults(executor.Out(), results)
	}
}

// RenderResults prints ranked chunks with their similarity.
func RenderResults(w io.Writer, results []index.Result) error {
	if len(results) == 0 {
		_, err := fmt.Fprintln(w, styles.Warn.Render("No matching chunks."))
		return err
	}
	rows := make([][]string, 0, len(results))
	for i := range results {
		r := results[i]
		rows = append(rows, []string{
			r.ID,
			fmt.Sprintf("%.3f", r.Similarity),
			metaString(r.Metadata, "file_name"),
			preview(r.Text),
		})
	}
	_, err := fmt.Fprintln(w, components.RenderTable([]string{"Chunk", "Similarity", "File", "Text"}, rows))
	return err
}

// RenderContexts prints retrieved contexts with their token estimate.
func RenderContexts(w io.Writer, contexts []knowledge.RetrievedContext) error {
	if len(contexts) == 0 {
		_, err := fmt.Fprintln(w, styles.Warn.Render("No chunk passed the similarity threshold."))
		return err
	}
	rows := make([][]string, 0, len(contexts))
	for i := range contexts {
		c := contexts[i]
		rows = append(rows, []string{
			c.ChunkID,
			fmt.Sprintf("%.3f", c.Similarity),
			c.Source,
			fmt.Sprint(c.TokenEstimate),
			preview(c.Content),
		})
	}
	_, err := fmt.Fprintln(w, components.RenderTable([]string{"Chunk", "Similarity", "Source", "Tokens", "Text"}, rows))
	return err
}

func metaString(meta map[string]any, key string) string {
	if v, ok := meta[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return "-"
}

func preview(text string) string {
	return helpers.Truncate(strings.Join(strings.Fields(text), " "), previewLength)
}
