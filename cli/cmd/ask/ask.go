package ask

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/compozy/ragpipe/cli/cmd"
	"github.com/compozy/ragpipe/cli/tui/components"
	"github.com/compozy/ragpipe/cli/tui/styles"
	"github.com/compozy/ragpipe/engine/knowledge/retriever"
	"github.com/compozy/ragpipe/pkg/logger"
)

// copyAnswer is swapped in tests.
var copyAnswer = clipboard.WriteAll

// NewAskCommand creates the ask command
func NewAskCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "ask QUESTION",
		Short: "Answer a question from the indexed documents",
		Long: `Retrieve the chunks most similar to the question and ask the configured
Ollama model to answer from them. In a terminal the answer is streamed as it is
generated; with --json the full answer and its sources are printed at the end.`,
		Example: `  ragpipe ask "What changed in the 2024 pricing?"
  ragpipe ask "Summarize the onboarding guide" --model llama3.2 --temperature 0.2`,
		Args: cobra.MinimumNArgs(1),
		RunE: executeAskCommand,
	}
	command.Flags().IntP("k", "k", 0, "Contexts used to ground the answer (defaults to retrieval.top_k)")
	command.Flags().Float64("temperature", 0, "Sampling temperature between 0 and 2")
	command.Flags().Float64("similarity-threshold", 0, "Minimum similarity of a context")
	command.Flags().Int("max-tokens", 0, "Maximum tokens to generate")
	command.Flags().StringToString("filter", nil, "Metadata equality filter for the contexts")
	command.Flags().Bool("show-context", false, "Print the retrieved contexts")
	command.Flags().Bool("copy", false, "Copy the answer to the system clipboard")
	return command
}

func executeAskCommand(cobraCmd *cobra.Command, args []string) error {
	return cmd.ExecuteCommand(cobraCmd, cmd.ExecutorOptions{RequireApp: true}, cmd.ModeHandlers{
		JSON: handleAskJSON,
		TUI:  handleAskTUI,
	}, args)
}

func answerOptions(cobraCmd *cobra.Command) (retriever.AnswerOptions, error) {
	var opts retriever.AnswerOptions
	flags := cobraCmd.Flags()
	k, err := flags.GetInt("k")
	if err != nil {
		return opts, err
	}
	maxTokens, err := flags.GetInt("max-tokens")
	if err != nil {
		return opts, err
	}
	filter, err := flags.GetStringToString("filter")
	if err != nil {
		return opts, err
	}
	opts.TopK = k
	opts.MaxTokens = maxTokens
	if len(filter) > 0 {
		opts.Filter = filter
	}
	return opts, nil
}

func handleAskJSON(ctx context.Context, cobraCmd *cobra.Command, executor *cmd.CommandExecutor, args []string) error {
	opts, err := answerOptions(cobraCmd)
	if err != nil {
		return err
	}
	answer, err := executor.App().Ask(ctx, strings.Join(args, " "), opts)
	if err != nil {
		return err
	}
	if show, _ := cobraCmd.Flags().GetBool("show-context"); !show {
		answer.Contexts = nil
	}
	maybeCopy(ctx, cobraCmd, answer.Text)
	return executor.WriteJSON(answer)
}

func handleAskTUI(ctx context.Context, cobraCmd *cobra.Command, executor *cmd.CommandExecutor, args []string) error {
	opts, err := answerOptions(cobraCmd)
	if err != nil {
		return err
	}
	question := strings.Join(args, " ")
	out := executor.Out()
	if show, _ := cobraCmd.Flags().GetBool("show-context"); show {
		contexts, err := executor.App().Retrieve(ctx, question, opts.TopK, opts.Filter)
		if err != nil {
			return err
		}
		for i := range contexts {
			fmt.Fprintf(out, "%s %s\n%s\n\n",
				styles.Subtle.Render(fmt.Sprintf("[%s %.3f]", contexts[i].ChunkID, contexts[i].Similarity)),
				contexts[i].Source,
				strings.TrimSpace(contexts[i].Content),
			)
		}
	}
	fmt.Fprintln(out, styles.Title.Render("Answer"))
	var text strings.Builder
	sources, err := executor.App().AskStream(ctx, question, opts, func(fragment string) error {
		text.WriteString(fragment)
		_, werr := io.WriteString(out, fragment)
		return werr
	})
	fmt.Fprintln(out)
	if err != nil {
		return err
	}
	if maybeCopy(ctx, cobraCmd, text.String()) {
		fmt.Fprintln(out, styles.Subtle.Render("Answer copied to the clipboard."))
	}
	return RenderSources(out, sources)
}

// maybeCopy honors --copy. A missing clipboard is logged, not fatal.
func maybeCopy(ctx context.Context, cobraCmd *cobra.Command, text string) bool {
	if ok, _ := cobraCmd.Flags().GetBool("copy"); !ok {
		return false
	}
	if err := copyAnswer(strings.TrimSpace(text)); err != nil {
		logger.FromContext(ctx).Warn("Failed to copy answer to clipboard", "error", err)
		return false
	}
	return true
}

// RenderSources lists the chunks an answer was grounded in.
func RenderSources(w io.Writer, sources []retriever.Source) error {
	if len(sources) == 0 {
		_, err := fmt.Fprintln(w, styles.Warn.Render("No document context was used for this answer."))
		return err
	}
	rows := make([][]string, 0, len(sources))
	for _, s := range sources {
		page := "-"
		if s.PageNumber != nil {
			page = fmt.Sprint(s.PageNumber)
		}
		rows = append(rows, []string{s.FileName, fmt.Sprint(s.ChunkIndex), page, fmt.Sprintf("%.3f", s.Similarity)})
	}
	_, err := fmt.Fprintf(w, "\n%s\n%s\n",
		styles.Title.Render("Sources"),
		components.RenderTable([]string{"File", "Chunk", "Page", "Similarity"}, rows),
	)
	return err
}
