package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"fertiscan/internal/imageset"
	"fertiscan/internal/logger"
	"fertiscan/internal/ocr"
)

var ocrCmd = &cobra.Command{
	Use:   "ocr [image-file...]",
	Short: "Transcribe label photographs with Azure AI Document Intelligence",
	Long: `Combine the photographs into a PDF, one page per image, and run the
prebuilt-layout model on it. The transcript is printed as markdown, the
same text the extract command sends to the language model.

Required environment variables:
  AZURE_API_ENDPOINT - Document Intelligence resource endpoint
  AZURE_API_KEY      - Document Intelligence key`,
	Example: `  # Print the markdown transcript
  fertiscan ocr front.jpg back.jpg

  # Include page count and request id, as JSON
  fertiscan ocr front.jpg back.jpg --json -o transcript.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runOCR,
}

func init() {
	rootCmd.AddCommand(ocrCmd)

	ocrCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	ocrCmd.Flags().Bool("json", false, "Output the transcript with its metadata as JSON")
	ocrCmd.Flags().Duration("timeout", 0, "Request timeout (default: REQUEST_TIMEOUT)")
}

func runOCR(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("ocr")

	outputPath, _ := cmd.Flags().GetString("output")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	cfg, err := loadedConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateOCR(); err != nil {
		return handleError(err, log)
	}
	if timeout == 0 {
		timeout = cfg.RequestTimeout
	}

	set, err := loadImageSet(args, log)
	if err != nil {
		return handleError(err, log)
	}
	document, err := set.Compose(imageset.FormatPDF)
	if err != nil {
		return handleError(err, log)
	}

	client, err := ocr.NewAzureClient(cfg.OCREndpoint, cfg.OCRKey, ocr.WithLogger(log))
	if err != nil {
		return handleError(err, log)
	}

	ctx, cancel := createContextWithTimeout(timeout, log)
	defer cancel()

	log.Info().
		Int("pages", set.Len()).
		Int("size", len(document)).
		Msg("Processing composite document")

	transcript, err := client.ExtractText(ctx, document)
	if err != nil {
		return handleError(err, log)
	}

	log.Info().
		Int("pages", transcript.Pages).
		Int("text_length", len(transcript.Content)).
		Dur("duration", transcript.Duration).
		Msg("OCR processing completed successfully")

	if jsonOutput {
		data, err := marshalJSON(transcript, true)
		if err != nil {
			return fmt.Errorf("failed to create JSON output: %w", err)
		}
		return writeOutput(data, outputPath, log)
	}

	if strings.TrimSpace(transcript.Content) == "" {
		log.Warn().Msg("No text recognized in the photographs")
	}
	return writeOutput([]byte(transcript.Content), outputPath, log)
}
