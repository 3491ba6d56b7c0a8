package label

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"fertiscan/internal/failure"
	"fertiscan/internal/llm"
	"fertiscan/internal/ocr"
	"fertiscan/internal/prompt"
	"fertiscan/pkg/models"
)

type options struct {
	prompts    *prompt.Assembler
	policy     RetryPolicy
	scratchDir string
	timeout    time.Duration
	log        zerolog.Logger
}

// Option configures a pipeline or a single extraction.
type Option func(*options)

// WithAssembler sets the prompt assembler. ExtractLabelData requires it.
func WithAssembler(a *prompt.Assembler) Option {
	return func(o *options) {
		o.prompts = a
	}
}

// WithRetryPolicy replaces DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithScratchDir sets the parent of the per-request scratch directory. The
// default is the OS temporary directory.
func WithScratchDir(dir string) Option {
	return func(o *options) {
		o.scratchDir = dir
	}
}

// WithTimeout bounds a single extraction. Zero leaves the context deadline
// as is.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithLogger sets the logger. Without it nothing is logged.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

func collect(opts []Option) options {
	o := options{
		policy: DefaultRetryPolicy(),
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ExtractLabelData turns label photographs into validated LabelData.
//
// images are encoded image buffers in page order. A fresh pipeline is built
// for every call so nothing is shared between requests. Errors are
// *failure.Error values; use errors.Is with the failure kinds to branch.
func ExtractLabelData(ctx context.Context, images [][]byte, ocrClient ocr.Client, generator llm.Generator, opts ...Option) (*models.LabelData, error) {
	result, err := Extract(ctx, images, ocrClient, generator, opts...)
	if err != nil {
		return nil, err
	}
	return result.Label, nil
}

// Extract is ExtractLabelData returning the full Result.
func Extract(ctx context.Context, images [][]byte, ocrClient ocr.Client, generator llm.Generator, opts ...Option) (*Result, error) {
	o := collect(opts)
	if o.prompts == nil {
		return nil, failure.Configuration("label.Extract", "prompt assembler is required")
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	p, err := NewPipeline(ocrClient, generator, o.prompts, opts...)
	if err != nil {
		return nil, err
	}
	return p.Analyze(ctx, images)
}
