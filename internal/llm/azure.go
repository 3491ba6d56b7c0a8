package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fertiscan/internal/failure"
	"fertiscan/internal/prompt"
	"fertiscan/internal/telemetry"
)

const (
	DefaultAPIVersion = "2024-06-01"
	DefaultMaxTokens  = 12000

	contentFilterCode = "content_filter"
	policyViolation   = "ResponsibleAIPolicyViolation"
)

// DefaultJSONModeDeployments lists deployments that accept
// response_format=json_object.
var DefaultJSONModeDeployments = []string{"gpt-4o", "gpt-4o-mini", "gpt-4-turbo", "gpt-4.1", "gpt-4.1-mini"}

// Config configures an AzureClient.
type Config struct {
	Endpoint   string // https://<resource>.openai.azure.com
	Key        string
	Deployment string
	APIVersion string // DefaultAPIVersion when empty
	MaxTokens  int    // DefaultMaxTokens when zero

	// JSONModeDeployments is the JSON mode whitelist. Nil means
	// DefaultJSONModeDeployments.
	JSONModeDeployments []string

	// TraceEndpoint is an OTLP/HTTP endpoint. It is used only when
	// TracerProvider is nil; the client then owns the provider and Close
	// flushes it.
	TraceEndpoint  string
	TracerProvider trace.TracerProvider

	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

var _ Generator = (*AzureClient)(nil)

// AzureClient is a Generator backed by an Azure OpenAI chat deployment. It is
// safe for concurrent use.
type AzureClient struct {
	client *openai.Client
	tracer trace.Tracer
	log    zerolog.Logger

	deployment string
	maxTokens  int
	jsonMode   bool

	shutdown telemetry.ShutdownFunc
}

// NewAzureClient validates cfg and creates the client.
func NewAzureClient(cfg Config) (*AzureClient, error) {
	const op = "llm.NewAzureClient"

	switch {
	case strings.TrimSpace(cfg.Endpoint) == "":
		return nil, failure.Configuration(op, "LLM endpoint is required")
	case strings.TrimSpace(cfg.Key) == "":
		return nil, failure.Configuration(op, "LLM key is required")
	case strings.TrimSpace(cfg.Deployment) == "":
		return nil, failure.Configuration(op, "LLM deployment is required")
	}

	config := openai.DefaultAzureConfig(cfg.Key, strings.TrimRight(cfg.Endpoint, "/"))
	config.APIVersion = DefaultAPIVersion
	if cfg.APIVersion != "" {
		config.APIVersion = cfg.APIVersion
	}
	deployment := cfg.Deployment
	config.AzureModelMapperFunc = func(string) string { return deployment }
	if cfg.HTTPClient != nil {
		config.HTTPClient = cfg.HTTPClient
	}

	c := &AzureClient{
		client:     openai.NewClientWithConfig(config),
		log:        zerolog.Nop(),
		deployment: deployment,
		maxTokens:  DefaultMaxTokens,
		shutdown:   func(context.Context) error { return nil },
	}
	if cfg.MaxTokens > 0 {
		c.maxTokens = cfg.MaxTokens
	}
	if cfg.Logger != nil {
		c.log = *cfg.Logger
	}

	whitelist := cfg.JSONModeDeployments
	if whitelist == nil {
		whitelist = DefaultJSONModeDeployments
	}
	for _, d := range whitelist {
		if strings.EqualFold(strings.TrimSpace(d), deployment) {
			c.jsonMode = true
			break
		}
	}

	provider := cfg.TracerProvider
	if provider == nil {
		p, shutdown, err := telemetry.NewTracerProvider(context.Background(), cfg.TraceEndpoint, telemetry.InstrumentationName)
		if err != nil {
			return nil, failure.Wrap(op, failure.ErrConfiguration, err, "trace endpoint")
		}
		provider, c.shutdown = p, shutdown
	}
	c.tracer = telemetry.Tracer(provider)

	return c, nil
}

// JSONMode reports whether requests ask for a JSON object response.
func (c *AzureClient) JSONMode() bool {
	return c.jsonMode
}

// Close flushes spans of a tracer provider owned by the client.
func (c *AzureClient) Close(ctx context.Context) error {
	return c.shutdown(ctx)
}

// Generate sends messages to the deployment at temperature 0.
func (c *AzureClient) Generate(ctx context.Context, messages []prompt.Message) (string, error) {
	const op = "llm.Generate"

	ctx, span := c.tracer.Start(ctx, "chat "+c.deployment,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gen_ai.operation.name", "chat"),
			attribute.String("gen_ai.request.model", c.deployment),
			attribute.Int("gen_ai.request.max_tokens", c.maxTokens),
			attribute.Bool("llm.json_mode", c.jsonMode),
			attribute.String("llm.prompt_hash", prompt.Hash(messages)),
		),
	)
	defer span.End()

	req := openai.ChatCompletionRequest{
		Model:    c.deployment,
		Messages: toOpenAI(messages),
		// A zero temperature is dropped by omitempty and the service
		// default applies; the smallest positive float is sent instead.
		Temperature: math.SmallestNonzeroFloat32,
		MaxTokens:   c.maxTokens,
	}
	if c.jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	latency := time.Since(start)
	span.SetAttributes(attribute.Int64("llm.latency_ms", latency.Milliseconds()))

	if err != nil {
		ferr := classify(ctx, op, err)
		span.RecordError(ferr)
		span.SetStatus(codes.Error, ferr.Error())
		return "", ferr
	}

	requestID := resp.Header().Get("apim-request-id")
	span.SetAttributes(
		attribute.String("gen_ai.response.id", resp.ID),
		attribute.String("llm.request_id", requestID),
		attribute.Int("gen_ai.usage.input_tokens", resp.Usage.PromptTokens),
		attribute.Int("gen_ai.usage.output_tokens", resp.Usage.CompletionTokens),
		attribute.Int("llm.usage.total_tokens", resp.Usage.TotalTokens),
	)

	c.log.Debug().
		Str("deployment", c.deployment).
		Str("request_id", requestID).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Dur("latency", latency).
		Msg("Chat completion received")

	if len(resp.Choices) == 0 {
		return "", nil
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		ferr := &failure.Error{
			Op:        op,
			Kind:      failure.ErrContentFilter,
			Reason:    failure.ReasonFiltered,
			Message:   "completion was filtered",
			RequestID: requestID,
		}
		span.SetStatus(codes.Error, ferr.Error())
		return "", ferr
	}
	if choice.FinishReason == openai.FinishReasonLength {
		c.log.Warn().
			Int("max_tokens", c.maxTokens).
			Msg("Completion hit the token limit, reply is likely truncated")
	}

	return choice.Message.Content, nil
}

func toOpenAI(messages []prompt.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		role := openai.ChatMessageRoleUser
		if m.Role == prompt.RoleSystem {
			role = openai.ChatMessageRoleSystem
		}
		out[i] = openai.ChatCompletionMessage{Role: role, Content: m.Content}
	}
	return out
}

// classify maps a go-openai error onto the failure kinds.
func classify(ctx context.Context, op string, err error) error {
	if ctxErr := failure.FromContext(ctx, op); ctxErr != nil {
		return ctxErr
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := ""
		if apiErr.Code != nil {
			code = fmt.Sprint(apiErr.Code)
		}
		filtered := code == contentFilterCode ||
			(apiErr.InnerError != nil && apiErr.InnerError.Code == policyViolation)
		if filtered {
			return &failure.Error{
				Op:      op,
				Kind:    failure.ErrContentFilter,
				Reason:  failure.ReasonFiltered,
				Message: apiErr.Message,
				Status:  apiErr.HTTPStatusCode,
			}
		}
		return failure.FromStatus(op, apiErr.HTTPStatusCode, "", apiErr.Message)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		msg := http.StatusText(reqErr.HTTPStatusCode)
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return failure.FromStatus(op, reqErr.HTTPStatusCode, "", msg)
	}

	return failure.Wrap(op, failure.ErrTransport, err, "")
}
