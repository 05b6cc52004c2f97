package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/compozy/ragpipe/cli/helpers"
	"github.com/compozy/ragpipe/pkg/config"
)

// extractCLIFlags collects the flags the user set explicitly and that map to
// a configuration path.
func extractCLIFlags(cmd *cobra.Command, flags map[string]any) {
	fs := cmd.Flags()
	fs.Visit(func(f *pflag.Flag) {
		if _, ok := config.CLIFlagPath(f.Name); !ok {
			return
		}
		var (
			value any
			err   error
		)
		switch f.Value.Type() {
		case "string":
			value, err = fs.GetString(f.Name)
		case "int":
			value, err = fs.GetInt(f.Name)
		case "int64":
			value, err = fs.GetInt64(f.Name)
		case "bool":
			value, err = fs.GetBool(f.Name)
		case "float64":
			value, err = fs.GetFloat64(f.Name)
		case "duration":
			value, err = fs.GetDuration(f.Name)
		default:
			value = f.Value.String()
		}
		if err == nil {
			flags[f.Name] = value
		}
	})
}

// loadEnvFile loads environment variables from a file inside the working
// directory. A missing file is not an error.
func loadEnvFile(cmd *cobra.Command) error {
	envFile, err := cmd.Flags().GetString(helpers.FlagEnvFile)
	if err != nil {
		return fmt.Errorf("failed to get env-file flag: %w", err)
	}
	if envFile == "" {
		return nil
	}
	pwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current working directory: %w", err)
	}
	if !filepath.IsAbs(envFile) {
		envFile = filepath.Join(pwd, envFile)
	}
	absPath, err := filepath.Abs(filepath.Clean(envFile))
	if err != nil {
		return fmt.Errorf("failed to resolve env file path: %w", err)
	}
	if !isPathWithinDirectory(absPath, pwd) {
		return fmt.Errorf("env file path '%s' is outside the project directory", envFile)
	}
	if info, err := os.Stat(absPath); err == nil && !info.Mode().IsRegular() {
		return fmt.Errorf("env file path '%s' is not a regular file", envFile)
	}
	return config.LoadDotEnv(absPath)
}

// isPathWithinDirectory checks if a given path is within the specified directory
func isPathWithinDirectory(path, dir string) bool {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return false
	}
	absDir, err := filepath.Abs(filepath.Clean(dir))
	if err != nil {
		return false
	}
	if !strings.HasSuffix(absDir, string(filepath.Separator)) {
		absDir += string(filepath.Separator)
	}
	return strings.HasPrefix(absPath, absDir) || absPath == strings.TrimSuffix(absDir, string(filepath.Separator))
}
