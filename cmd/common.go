package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"fertiscan/internal/failure"
	"fertiscan/internal/imageset"
)

// createContextWithTimeout creates a context with timeout and signal handling
func createContextWithTimeout(timeout time.Duration, log zerolog.Logger) (context.Context, context.CancelFunc) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, canceling request")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// loadImageSet decodes the image files in argument order.
func loadImageSet(paths []string, log zerolog.Logger) (*imageset.Set, error) {
	set := imageset.New()
	for _, path := range paths {
		if err := set.Add(imageset.Path{Name: path}); err != nil {
			log.Error().
				Err(err).
				Str("file", path).
				Msg("Failed to load image")
			return nil, err
		}
	}

	log.Debug().Int("images", set.Len()).Msg("Images loaded")
	return set, nil
}

// readImages returns the raw bytes of each image file.
func readImages(paths []string) ([][]byte, error) {
	const op = "cmd.readImages"

	images := make([][]byte, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			reason := failure.ReasonDecode
			if errors.Is(err, os.ErrNotExist) {
				reason = failure.ReasonNotFound
			}
			return nil, &failure.Error{Op: op, Kind: failure.ErrBadImage, Reason: reason, Message: path, Err: err}
		}
		images = append(images, data)
	}
	return images, nil
}

// handleError turns pipeline errors into messages a label inspector can act
// on. The original error stays wrapped.
func handleError(err error, log zerolog.Logger) error {
	log.Error().
		Err(err).
		Int("status", failure.StatusOf(err)).
		Str("reason", failure.ReasonOf(err)).
		Msg("Request failed")

	switch {
	case errors.Is(err, failure.ErrConfiguration):
		return fmt.Errorf("configuration problem, check the AZURE_* settings and PROMPT_PATH: %w", err)
	case errors.Is(err, failure.ErrBadImage):
		if failure.ReasonOf(err) == failure.ReasonNotFound {
			return fmt.Errorf("image file not found: %w", err)
		}
		return fmt.Errorf("could not read the label photographs, retake them as JPEG or PNG: %w", err)
	case errors.Is(err, failure.ErrAuth):
		return fmt.Errorf("Azure rejected the credentials, check AZURE_API_KEY and AZURE_OPENAI_KEY: %w", err)
	case errors.Is(err, failure.ErrQuotaExceeded):
		return fmt.Errorf("Azure quota exceeded, try again later: %w", err)
	case errors.Is(err, failure.ErrTimeout):
		return fmt.Errorf("request timed out or was canceled, try increasing --timeout: %w", err)
	case errors.Is(err, failure.ErrExtractionRefused):
		return fmt.Errorf("the model did not return label data: %w", err)
	case errors.Is(err, failure.ErrExtractionInvalid):
		return fmt.Errorf("the model returned label data that failed validation twice: %w", err)
	case errors.Is(err, failure.ErrTransport):
		return fmt.Errorf("could not reach Azure: %w", err)
	default:
		return err
	}
}

// writeOutput writes data to outputPath, or to stdout when it is empty.
func writeOutput(data []byte, outputPath string, log zerolog.Logger) error {
	if outputPath == "" {
		if _, err := os.Stdout.Write(data); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		if len(data) > 0 && data[len(data)-1] != '\n' {
			fmt.Println()
		}
		return nil
	}

	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		log.Error().
			Err(err).
			Str("output_file", outputPath).
			Msg("Failed to write output file")
		return fmt.Errorf("failed to write output file: %w", err)
	}

	log.Info().
		Str("output_file", outputPath).
		Int("bytes", len(data)).
		Msg("Results written to file")
	return nil
}
