package cmd

import (
	"github.com/spf13/cobra"

	"fertiscan/internal/imageset"
	"fertiscan/internal/logger"
)

var composeCmd = &cobra.Command{
	Use:   "compose [image-file...]",
	Short: "Combine label photographs into the document sent to OCR",
	Long: `Build the composite document offline. The PDF format, one page per
photograph, is what the extract and ocr commands upload. The PNG format
stacks the photographs vertically on a white canvas and is meant for
checking orientation and order by eye.`,
	Example: `  # Write composite.pdf in the current directory
  fertiscan compose front.jpg back.jpg

  # Vertical strip for a quick look
  fertiscan compose front.jpg back.jpg --format png -o strip.png`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCompose,
}

func init() {
	rootCmd.AddCommand(composeCmd)

	composeCmd.Flags().StringP("output", "o", "", "Output file path (default: composite.<format>)")
	composeCmd.Flags().StringP("format", "f", string(imageset.FormatPDF), "Composite format: pdf or png")
}

func runCompose(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("compose")

	outputPath, _ := cmd.Flags().GetString("output")
	formatName, _ := cmd.Flags().GetString("format")

	format, err := imageset.ParseFormat(formatName)
	if err != nil {
		return err
	}
	if outputPath == "" {
		outputPath = "composite." + string(format)
	}

	set, err := loadImageSet(args, log)
	if err != nil {
		return handleError(err, log)
	}

	data, err := set.Compose(format)
	if err != nil {
		return handleError(err, log)
	}

	log.Info().
		Str("format", string(format)).
		Int("pages", set.Len()).
		Msg("Composite document built")

	return writeOutput(data, outputPath, log)
}
