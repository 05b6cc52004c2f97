package helpers

import (
	"os"

	"github.com/compozy/ragpipe/cli/tui/models"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// isRunningInCI checks if we're running in a CI/CD environment
func isRunningInCI() bool {
	if os.Getenv("CI") != "" {
		return true
	}
	ciVars := []string{
		"GITHUB_ACTIONS",
		"GITLAB_CI",
		"CIRCLECI",
		"BUILDKITE",
		"JENKINS_URL",
		"TF_BUILD", // Azure DevOps
		"CONTINUOUS_INTEGRATION",
	}
	for _, v := range ciVars {
		if os.Getenv(v) != "" {
			return true
		}
	}
	return false
}

// checkExplicitFormat reads --output and --json.
func checkExplicitFormat(cmd *cobra.Command) (models.Mode, bool) {
	if asJSON, err := cmd.Flags().GetBool(FlagJSON); err == nil && asJSON {
		return models.ModeJSON, true
	}
	format, err := cmd.Flags().GetString(FlagOutput)
	if err != nil {
		return models.ModeJSON, false
	}
	switch OutputFormat(format) {
	case OutputFormatJSON:
		return models.ModeJSON, true
	case OutputFormatTUI:
		return models.ModeTUI, true
	default:
		return models.ModeJSON, false
	}
}

func isTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// isInteractiveEnvironment checks if we're in an interactive environment
func isInteractiveEnvironment() bool {
	if isRunningInCI() {
		return false
	}
	if !isTerminal(os.Stdin.Fd()) || !isTerminal(os.Stdout.Fd()) {
		return false
	}
	term := os.Getenv("TERM")
	return term != "dumb" && term != ""
}

// DetectMode picks JSON output for pipes and CI and styled output for terminals
// unless a flag says otherwise.
func DetectMode(cmd *cobra.Command) models.Mode {
	if mode, found := checkExplicitFormat(cmd); found {
		return mode
	}
	if isInteractiveEnvironment() {
		return models.ModeTUI
	}
	return models.ModeJSON
}

// ShouldUseColor determines if colored output should be used
func ShouldUseColor() bool {
	if os.Getenv("NO_COLOR") != "" || isRunningInCI() {
		return false
	}
	return isTerminal(os.Stdout.Fd())
}
