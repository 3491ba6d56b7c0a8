package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"fertiscan/internal/logger"
	"fertiscan/pkg/models"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the label JSON schema used in prompts and validation",
	Long: `Print the JSON schema of the label inspection form. The same text is
placed in the system prompt and used to validate every model reply.

With --prompt, print the schema the prompt would actually carry, which is
the file named by SCHEMA_SPEC_PATH when it is set.`,
	Args: cobra.NoArgs,
	RunE: runSchema,
}

func init() {
	rootCmd.AddCommand(schemaCmd)

	schemaCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	schemaCmd.Flags().Bool("prompt", false, "Honor SCHEMA_SPEC_PATH")
}

func runSchema(cmd *cobra.Command, _ []string) error {
	log := logger.WithComponent("schema")

	outputPath, _ := cmd.Flags().GetString("output")
	fromPrompt, _ := cmd.Flags().GetBool("prompt")

	data := []byte(models.SchemaSpec())
	if fromPrompt && appConfig != nil && appConfig.SchemaSpecPath != "" {
		custom, err := os.ReadFile(appConfig.SchemaSpecPath)
		if err != nil {
			return err
		}
		data = custom
	}

	return writeOutput(data, outputPath, log)
}
