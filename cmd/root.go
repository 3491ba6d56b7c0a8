package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fertiscan/internal/config"
	"fertiscan/internal/logger"
)

var version = "0.3.0"

// appConfig is loaded by main before any command runs.
var appConfig *config.Config

var rootCmd = &cobra.Command{
	Use:   "fertiscan",
	Short: "Extract structured data from fertilizer label photographs",
	Long: `fertiscan reads photographs of a fertilizer label, transcribes them with
Azure AI Document Intelligence and asks an Azure OpenAI deployment to fill
in the label inspection form. The result is validated against the label
schema before it is printed.

Settings are read from the environment (a .env file is loaded first) and
from an optional fertiscan.yaml in the working directory or the file named
by FERTISCAN_CONFIG.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command with cfg as the application configuration
// and returns the process exit code.
func Execute(cfg *config.Config) int {
	log := logger.WithComponent("cmd")
	appConfig = cfg

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// loadedConfig returns the application configuration, or an error when main
// could not load it.
func loadedConfig() (*config.Config, error) {
	if appConfig == nil {
		return nil, fmt.Errorf("configuration was not loaded; check the environment and fertiscan.yaml")
	}
	return appConfig, nil
}
