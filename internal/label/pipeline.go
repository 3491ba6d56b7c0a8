// Package label runs the label extraction pipeline: compose the photographs,
// OCR the composite, prompt the model, validate its reply.
//
// Each call is independent. The pipeline owns a scratch directory for the
// composite document and removes it on every exit path. It returns either a
// validated LabelData or a *failure.Error, never a partial result.
package label

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fertiscan/internal/failure"
	"fertiscan/internal/imageset"
	"fertiscan/internal/llm"
	"fertiscan/internal/logger"
	"fertiscan/internal/ocr"
	"fertiscan/internal/prompt"
	"fertiscan/pkg/models"
)

// Result is a successful extraction with its bookkeeping.
type Result struct {
	Label *models.LabelData `json:"label"`

	RequestID         string        `json:"request_id"`
	Pages             int           `json:"pages"`
	OCRAttempts       int           `json:"ocr_attempts"`
	LLMAttempts       int           `json:"llm_attempts"`
	ValidationRetries int           `json:"validation_retries"`
	Duration          time.Duration `json:"duration"`
}

// Pipeline wires the OCR client, prompt assembler and generator.
type Pipeline struct {
	ocr       ocr.Client
	generator llm.Generator
	prompts   *prompt.Assembler

	policy     RetryPolicy
	scratchDir string
	log        zerolog.Logger
}

// NewPipeline returns a pipeline. The OCR client, generator and assembler
// are required.
func NewPipeline(ocrClient ocr.Client, generator llm.Generator, prompts *prompt.Assembler, options ...Option) (*Pipeline, error) {
	const op = "label.NewPipeline"

	switch {
	case ocrClient == nil:
		return nil, failure.Configuration(op, "OCR client is required")
	case generator == nil:
		return nil, failure.Configuration(op, "LLM client is required")
	case prompts == nil:
		return nil, failure.Configuration(op, "prompt assembler is required")
	}

	o := collect(options)
	return &Pipeline{
		ocr:        ocrClient,
		generator:  generator,
		prompts:    prompts,
		policy:     o.policy,
		scratchDir: o.scratchDir,
		log:        o.log,
	}, nil
}

// Analyze extracts label data from images, in the order given.
func (p *Pipeline) Analyze(ctx context.Context, images [][]byte) (*Result, error) {
	start := time.Now()
	result := &Result{RequestID: uuid.NewString()}
	log := logger.WithRequestID(p.log, result.RequestID)

	log.Info().Int("images", len(images)).Msg("Starting label extraction")

	document, err := p.compose(images, result)
	if err != nil {
		return nil, err
	}
	if err := failure.FromContext(ctx, "label.Analyze"); err != nil {
		return nil, err
	}

	var transcript *ocr.Transcript
	result.OCRAttempts, err = p.policy.do(ctx, log, "ocr", func() error {
		var err error
		transcript, err = p.ocr.ExtractText(ctx, document)
		return err
	})
	if err != nil {
		return nil, surface(ctx, "label.ocr", err)
	}
	if transcript.Pages > 0 {
		result.Pages = transcript.Pages
	}

	log.Debug().
		Int("text_length", len(transcript.Content)).
		Int("attempts", result.OCRAttempts).
		Msg("OCR transcript received")

	messages, err := p.prompts.Build(transcript.Content)
	if err != nil {
		return nil, err
	}

	label, err := p.extract(ctx, log, messages, result)
	if err != nil {
		return nil, err
	}

	result.Label = label
	result.Duration = time.Since(start)

	log.Info().
		Int("ocr_attempts", result.OCRAttempts).
		Int("llm_attempts", result.LLMAttempts).
		Int("validation_retries", result.ValidationRetries).
		Dur("duration", result.Duration).
		Msg("Label extraction completed")

	return result, nil
}

// compose builds the composite PDF inside a scratch directory that does not
// outlive the call.
func (p *Pipeline) compose(images [][]byte, result *Result) ([]byte, error) {
	const op = "label.compose"

	set := imageset.New()
	defer set.Clear()

	for i, img := range images {
		if err := set.Add(imageset.Bytes{Data: img, Name: fmt.Sprintf("image %d", i+1)}); err != nil {
			return nil, err
		}
	}
	if set.Len() == 0 {
		return nil, &failure.Error{Op: op, Kind: failure.ErrBadImage, Reason: failure.ReasonEmptyInput, Message: "no images supplied"}
	}

	dir, err := os.MkdirTemp(p.scratchDir, "label-*")
	if err != nil {
		return nil, failure.Wrap(op, failure.ErrConfiguration, err, "create scratch directory")
	}
	defer os.RemoveAll(dir)

	path, err := set.WriteTo(dir, imageset.FormatPDF)
	if err != nil {
		return nil, failure.Wrap(op, failure.ErrBadImage, err, "compose document")
	}
	result.Pages = set.Len()

	document, err := os.ReadFile(path)
	if err != nil {
		return nil, failure.Wrap(op, failure.ErrBadImage, err, "read composite")
	}
	return document, nil
}

// extract generates and validates, giving the model one chance to fix an
// invalid reply.
func (p *Pipeline) extract(ctx context.Context, log zerolog.Logger, messages []prompt.Message, result *Result) (*models.LabelData, error) {
	const op = "label.extract"

	label, verr, err := p.generateOnce(ctx, log, messages, result)
	if err != nil || verr == nil {
		return label, err
	}

	log.Warn().
		Str("path", verr.Path).
		Str("reason", verr.Message).
		Msg("Model reply failed validation, asking again")

	result.ValidationRetries++
	label, verr2, err := p.generateOnce(ctx, log, prompt.WithValidationNote(messages, verr.Reason()), result)
	if err != nil {
		return nil, err
	}
	if verr2 != nil {
		return nil, &failure.Error{
			Op:      op,
			Kind:    failure.ErrExtractionInvalid,
			Message: verr2.Reason(),
			Err:     verr2,
		}
	}
	return label, nil
}

// generateOnce runs one generation (with transport retries) and validates the
// reply. A validation failure is returned separately from hard errors.
func (p *Pipeline) generateOnce(ctx context.Context, log zerolog.Logger, messages []prompt.Message, result *Result) (*models.LabelData, *models.ValidationError, error) {
	const op = "label.generate"

	var reply string
	attempts, err := p.policy.do(ctx, log, "llm", func() error {
		var err error
		reply, err = p.generator.Generate(ctx, messages)
		return err
	})
	result.LLMAttempts += attempts
	if err != nil {
		return nil, nil, surface(ctx, op, err)
	}

	if strings.TrimSpace(reply) == "" {
		return nil, nil, &failure.Error{
			Op:      op,
			Kind:    failure.ErrExtractionRefused,
			Reason:  failure.ReasonBlankReply,
			Message: "model returned no content",
		}
	}

	label, err := models.Parse(llm.ExtractJSON(reply))
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			return nil, verr, nil
		}
		return nil, nil, failure.Wrap(op, failure.ErrExtractionInvalid, err, "")
	}
	return label, nil, nil
}

// surface maps a stage error onto the public kinds: content filtering
// becomes a refusal and an expired request becomes a timeout.
func surface(ctx context.Context, op string, err error) error {
	if errors.Is(err, failure.ErrContentFilter) {
		return &failure.Error{
			Op:      op,
			Kind:    failure.ErrExtractionRefused,
			Reason:  failure.ReasonFiltered,
			Status:  failure.StatusOf(err),
			Message: "model provider filtered the request",
			Err:     err,
		}
	}
	if !errors.Is(err, failure.ErrTimeout) {
		if ctxErr := failure.FromContext(ctx, op); ctxErr != nil {
			return ctxErr
		}
	}
	return failure.Wrap(op, failure.ErrTransport, err, "")
}
