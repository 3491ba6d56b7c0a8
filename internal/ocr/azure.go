package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fertiscan/internal/failure"
)

const (
	defaultModel        = "prebuilt-layout"
	defaultAPIVersion   = "2024-11-30"
	defaultPollInterval = time.Second

	// maxErrorBody bounds how much of an error response is kept.
	maxErrorBody = 4 << 10
)

// Operation statuses reported by the analyze endpoint.
const (
	statusNotStarted = "notStarted"
	statusRunning    = "running"
	statusSucceeded  = "succeeded"
)

var _ Client = (*AzureClient)(nil)

// AzureClient is a Client backed by Azure AI Document Intelligence. It is
// safe for concurrent use.
type AzureClient struct {
	client *http.Client
	log    zerolog.Logger

	endpoint     string
	key          string
	model        string
	apiVersion   string
	pollInterval time.Duration
}

// Option configures an AzureClient.
type Option func(*AzureClient)

// WithHTTPClient sets the HTTP client used for every request.
func WithHTTPClient(client *http.Client) Option {
	return func(c *AzureClient) {
		c.client = client
	}
}

// WithPollInterval sets the wait between operation status polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *AzureClient) {
		c.pollInterval = d
	}
}

// WithModel overrides the analysis model.
func WithModel(model string) Option {
	return func(c *AzureClient) {
		c.model = model
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(c *AzureClient) {
		c.log = log
	}
}

// NewAzureClient creates a client for the Document Intelligence resource at
// endpoint. Both endpoint and key are required.
func NewAzureClient(endpoint, key string, options ...Option) (*AzureClient, error) {
	const op = "ocr.NewAzureClient"

	if strings.TrimSpace(endpoint) == "" {
		return nil, failure.Configuration(op, "OCR endpoint is required")
	}
	if strings.TrimSpace(key) == "" {
		return nil, failure.Configuration(op, "OCR key is required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, failure.Configuration(op, fmt.Sprintf("invalid OCR endpoint %q", endpoint))
	}

	c := &AzureClient{
		client: http.DefaultClient,
		log:    zerolog.Nop(),

		endpoint:     strings.TrimRight(endpoint, "/"),
		key:          key,
		model:        defaultModel,
		apiVersion:   defaultAPIVersion,
		pollInterval: defaultPollInterval,
	}

	for _, option := range options {
		option(c)
	}

	return c, nil
}

type analyzeOperation struct {
	Status string        `json:"status"`
	Error  *serviceError `json:"error"`
	Result *struct {
		ModelID string `json:"modelId"`
		Content string `json:"content"`
		Pages   []struct {
			PageNumber int `json:"pageNumber"`
		} `json:"pages"`
	} `json:"analyzeResult"`
}

type serviceError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ExtractText uploads document and waits for the layout analysis to finish.
func (c *AzureClient) ExtractText(ctx context.Context, document []byte) (*Transcript, error) {
	const op = "ocr.ExtractText"
	start := time.Now()

	u, _ := url.Parse(c.endpoint + "/documentintelligence/documentModels/" + c.model + ":analyze")
	query := u.Query()
	query.Set("api-version", c.apiVersion)
	query.Set("outputContentFormat", "markdown")
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(document))
	if err != nil {
		return nil, failure.Wrap(op, failure.ErrTransport, err, "build analyze request")
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Ocp-Apim-Subscription-Key", c.key)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, op, err)
	}
	requestID := resp.Header.Get("apim-request-id")
	operationURL := resp.Header.Get("Operation-Location")
	if resp.StatusCode != http.StatusAccepted {
		defer resp.Body.Close()
		return nil, statusError(op, resp)
	}
	resp.Body.Close()

	if operationURL == "" {
		return nil, &failure.Error{
			Op:        op,
			Kind:      failure.ErrTransport,
			Reason:    failure.ReasonMalformed,
			Message:   "missing Operation-Location header",
			RequestID: requestID,
		}
	}

	c.log.Debug().
		Int("bytes", len(document)).
		Str("request_id", requestID).
		Msg("Document submitted for layout analysis")

	operation, err := c.poll(ctx, operationURL, requestID)
	if err != nil {
		return nil, err
	}

	transcript := &Transcript{
		Content:   strings.TrimSpace(operation.Result.Content),
		Pages:     len(operation.Result.Pages),
		ModelID:   operation.Result.ModelID,
		RequestID: requestID,
		Duration:  time.Since(start),
	}

	c.log.Debug().
		Int("pages", transcript.Pages).
		Int("text_length", len(transcript.Content)).
		Dur("duration", transcript.Duration).
		Msg("Layout analysis completed")

	return transcript, nil
}

func (c *AzureClient) poll(ctx context.Context, operationURL, requestID string) (*analyzeOperation, error) {
	const op = "ocr.ExtractText"

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, operationURL, nil)
		if err != nil {
			return nil, failure.Wrap(op, failure.ErrTransport, err, "build poll request")
		}
		req.Header.Set("Ocp-Apim-Subscription-Key", c.key)

		operation, err := c.fetchOperation(ctx, req)
		if err != nil {
			return nil, err
		}

		switch operation.Status {
		case statusNotStarted, statusRunning:
			if err := wait(ctx, c.pollInterval); err != nil {
				return nil, failure.FromContext(ctx, op)
			}
			continue

		case statusSucceeded:
			if operation.Result == nil {
				return nil, &failure.Error{
					Op:        op,
					Kind:      failure.ErrTransport,
					Reason:    failure.ReasonMalformed,
					Message:   "operation succeeded without a result",
					RequestID: requestID,
				}
			}
			return operation, nil

		default:
			msg := "operation " + operation.Status
			if operation.Error != nil {
				msg += ": " + operation.Error.Code + ": " + operation.Error.Message
			}
			return nil, &failure.Error{
				Op:        op,
				Kind:      failure.ErrTransport,
				Reason:    failure.ReasonRemoteFailed,
				Message:   msg,
				RequestID: requestID,
			}
		}
	}
}

func (c *AzureClient) fetchOperation(ctx context.Context, req *http.Request) (*analyzeOperation, error) {
	const op = "ocr.ExtractText"

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(op, resp)
	}

	var operation analyzeOperation
	if err := json.NewDecoder(resp.Body).Decode(&operation); err != nil {
		if ctxErr := failure.FromContext(ctx, op); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &failure.Error{Op: op, Kind: failure.ErrTransport, Reason: failure.ReasonMalformed, Err: err}
	}
	return &operation, nil
}

func (c *AzureClient) transportError(ctx context.Context, op string, err error) error {
	if ctxErr := failure.FromContext(ctx, op); ctxErr != nil {
		return ctxErr
	}
	return failure.Wrap(op, failure.ErrTransport, err, "")
}

// statusError classifies a non-success response, keeping the service message.
func statusError(op string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	msg := http.StatusText(resp.StatusCode)
	var body struct {
		Error *serviceError `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != nil && body.Error.Message != "" {
		msg = body.Error.Message
	} else if len(bytes.TrimSpace(data)) > 0 {
		msg = string(bytes.TrimSpace(data))
	}

	return failure.FromStatus(op, resp.StatusCode, resp.Header.Get("apim-request-id"), msg)
}

// wait sleeps for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
