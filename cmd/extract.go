package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"fertiscan/internal/config"
	"fertiscan/internal/label"
	"fertiscan/internal/llm"
	"fertiscan/internal/logger"
	"fertiscan/internal/ocr"
	"fertiscan/internal/prompt"
)

var extractCmd = &cobra.Command{
	Use:   "extract [image-file...]",
	Short: "Extract label data from fertilizer label photographs",
	Long: `Combine the photographs into one document, transcribe it with Azure AI
Document Intelligence, and ask Azure OpenAI for the label inspection form.

The reply is validated against the label schema. An invalid reply is sent
back once with the validation error; a second invalid reply fails the
command. Transient Azure failures are retried twice with backoff.

Required environment variables:
  AZURE_API_ENDPOINT, AZURE_API_KEY           - Document Intelligence
  AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_KEY     - Azure OpenAI
  AZURE_OPENAI_DEPLOYMENT                     - Chat deployment name

Optional:
  PROMPT_PATH         - Instruction file (default prompts/instruction.txt)
  SCHEMA_SPEC_PATH    - Replaces the built-in label schema in the prompt
  OTEL_TRACE_ENDPOINT - OTLP/HTTP endpoint for model call traces`,
	Example: `  # Extract from the front and back of a bag
  fertiscan extract front.jpg back.jpg

  # Pretty-printed result with attempt counts, written to a file
  fertiscan extract front.jpg back.jpg --details --pretty -o label.json

  # Allow more time for large photographs
  fertiscan extract label.png --timeout 5m`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	extractCmd.Flags().Duration("timeout", 0, "Request timeout (default: REQUEST_TIMEOUT)")
	extractCmd.Flags().Bool("pretty", false, "Indent the JSON output")
	extractCmd.Flags().Bool("details", false, "Include request id, pages and attempt counts")
}

func runExtract(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("extract")

	outputPath, _ := cmd.Flags().GetString("output")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	pretty, _ := cmd.Flags().GetBool("pretty")
	details, _ := cmd.Flags().GetBool("details")

	cfg, err := loadedConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return handleError(err, log)
	}
	if timeout == 0 {
		timeout = cfg.RequestTimeout
	}

	log.Info().
		Strs("files", args).
		Str("output", outputPath).
		Dur("timeout", timeout).
		Msg("Starting label extraction")

	images, err := readImages(args)
	if err != nil {
		return handleError(err, log)
	}

	ocrClient, generator, assembler, err := createClients(cfg)
	if err != nil {
		return handleError(err, log)
	}
	defer func() {
		if err := generator.Close(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Failed to flush traces")
		}
	}()

	ctx, cancel := createContextWithTimeout(timeout, log)
	defer cancel()

	result, err := label.Extract(ctx, images, ocrClient, generator,
		label.WithAssembler(assembler),
		label.WithScratchDir(cfg.ScratchDir),
		label.WithLogger(logger.WithComponent("label")),
	)
	if err != nil {
		return handleError(err, log)
	}

	log.Info().
		Str("request_id", result.RequestID).
		Int("pages", result.Pages).
		Int("llm_attempts", result.LLMAttempts).
		Dur("duration", result.Duration).
		Msg("Label extraction completed successfully")

	var payload any = result.Label
	if details {
		payload = result
	}
	data, err := marshalJSON(payload, pretty)
	if err != nil {
		return fmt.Errorf("failed to create JSON output: %w", err)
	}
	return writeOutput(data, outputPath, log)
}

// createClients builds the production OCR client, generator and prompt
// assembler from cfg.
func createClients(cfg *config.Config) (*ocr.AzureClient, *llm.AzureClient, *prompt.Assembler, error) {
	ocrClient, err := ocr.NewAzureClient(cfg.OCREndpoint, cfg.OCRKey,
		ocr.WithLogger(logger.WithComponent("ocr")))
	if err != nil {
		return nil, nil, nil, err
	}

	llmLog := logger.WithComponent("llm")
	llmConfig := cfg.LLMConfig()
	llmConfig.Logger = &llmLog
	generator, err := llm.NewAzureClient(llmConfig)
	if err != nil {
		return nil, nil, nil, err
	}

	var options []prompt.Option
	if cfg.SchemaSpecPath != "" {
		options = append(options, prompt.WithSchemaPath(cfg.SchemaSpecPath))
	}
	assembler, err := prompt.NewAssembler(cfg.PromptPath, options...)
	if err != nil {
		return nil, nil, nil, err
	}

	return ocrClient, generator, assembler, nil
}

func marshalJSON(v any, pretty bool) ([]byte, error) {
	if pretty {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}
