package label

import (
	"bytes"
	"context"
	"encoding/json"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fertiscan/internal/failure"
	"fertiscan/internal/llm"
	"fertiscan/internal/ocr"
	"fertiscan/internal/prompt"
)

var fastRetry = RetryPolicy{Delays: []time.Duration{time.Millisecond, time.Millisecond}}

func readTestdata(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(data)
}

func labelImage(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(w, h, color.Gray{Y: 220}), imaging.PNG))
	return buf.Bytes()
}

func newAssembler(t *testing.T) *prompt.Assembler {
	t.Helper()
	path := filepath.Join(t.TempDir(), "instruction.txt")
	require.NoError(t, os.WriteFile(path, []byte("You are a fertilizer label inspector."), 0o600))
	a, err := prompt.NewAssembler(path)
	require.NoError(t, err)
	return a
}

// replyWith returns the sample reply with key replaced by value.
func replyWith(t *testing.T, key string, value any) string {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(readTestdata(t, "sample_reply.json")), &doc))
	doc[key] = value
	out, err := json.Marshal(doc)
	require.NoError(t, err)
	return string(out)
}

func extract(t *testing.T, images [][]byte, o ocr.Client, g llm.Generator, opts ...Option) (*Result, error) {
	t.Helper()
	opts = append([]Option{WithAssembler(newAssembler(t)), WithRetryPolicy(fastRetry), WithScratchDir(t.TempDir())}, opts...)
	return Extract(context.Background(), images, o, g, opts...)
}

func TestExtractHappyPath(t *testing.T) {
	markdown := readTestdata(t, "sample_label.md")
	ocrFake := ocr.NewFake(ocr.Step{Content: markdown})
	llmFake := llm.NewFake(llm.Reply{Content: readTestdata(t, "sample_reply.json")})

	result, err := extract(t, [][]byte{labelImage(t, 400, 600), labelImage(t, 600, 400)}, ocrFake, llmFake)
	require.NoError(t, err)

	l := result.Label
	assert.Equal(t, "SuperGrow 20-20-20", *l.FertiliserName)
	assert.Equal(t, "+16137732342", *l.Organizations[0].PhoneNumber)
	assert.Equal(t, "2018007A", *l.RegistrationNumber[0].Identifier)
	require.Len(t, l.Weight, 2)
	assert.Equal(t, "25", *l.Weight[0].Value)
	assert.Equal(t, "kg", *l.Weight[0].Unit)
	assert.Equal(t, "20-20-20", *l.NPK)
	assert.Len(t, l.CautionsEn, 2)

	assert.Equal(t, 1, result.OCRAttempts)
	assert.Equal(t, 1, result.LLMAttempts)
	assert.Zero(t, result.ValidationRetries)
	assert.NotEmpty(t, result.RequestID)

	// OCR saw one PDF page per image.
	docs := ocrFake.Documents()
	require.Len(t, docs, 1)
	pages, err := api.PageCount(bytes.NewReader(docs[0]), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, pages)

	// The transcript is the user message.
	received := llmFake.Received()
	require.Len(t, received, 1)
	require.Len(t, received[0], 3)
	assert.Equal(t, markdown, received[0][2].Content)
	assert.Equal(t, prompt.RoleUser, received[0][2].Role)
}

func TestExtractRetriesInvalidNPK(t *testing.T) {
	llmFake := llm.NewFake(
		llm.Reply{Content: replyWith(t, "npk", "20/20/20")},
		llm.Reply{Content: readTestdata(t, "sample_reply.json")},
	)

	result, err := extract(t, [][]byte{labelImage(t, 50, 50)}, ocr.NewFake(ocr.Step{Content: "label"}), llmFake)
	require.NoError(t, err)

	assert.Equal(t, "20-20-20", *result.Label.NPK)
	assert.Equal(t, 2, result.LLMAttempts)
	assert.Equal(t, 1, result.ValidationRetries)

	second := llmFake.Received()[1]
	assert.Contains(t, second[0].Content, "Your previous reply failed validation: npk")
	assert.True(t, strings.HasSuffix(second[0].Content, "; emit JSON only"))
}

func TestExtractInvalidTwice(t *testing.T) {
	bad := replyWith(t, "registration_number", []any{
		map[string]any{"identifier": "ABC", "type": "fertilizer_product"},
	})
	llmFake := llm.NewFake(llm.Reply{Content: bad})

	_, err := extract(t, [][]byte{labelImage(t, 50, 50)}, ocr.NewFake(ocr.Step{Content: "label"}), llmFake)
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrExtractionInvalid)
	assert.Contains(t, err.Error(), "registration_number[0].identifier")
	assert.Equal(t, 2, llmFake.Calls())
}

func TestExtractRetriesTransientOCR(t *testing.T) {
	ocrFake := ocr.NewFake(
		ocr.Step{Err: failure.FromStatus("ocr.ExtractText", 503, "", "busy")},
		ocr.Step{Content: "label"},
	)

	result, err := extract(t, [][]byte{labelImage(t, 50, 50)}, ocrFake, llm.NewFake(llm.Reply{Content: "{}"}))
	require.NoError(t, err)
	assert.Equal(t, 2, result.OCRAttempts)
	assert.Equal(t, 2, ocrFake.Calls())
}

func TestExtractRetriesExhausted(t *testing.T) {
	llmFake := llm.NewFake(llm.Reply{Err: failure.FromStatus("llm.Generate", 502, "", "bad gateway")})

	_, err := extract(t, [][]byte{labelImage(t, 50, 50)}, ocr.NewFake(ocr.Step{Content: "label"}), llmFake)
	assert.ErrorIs(t, err, failure.ErrTransport)
	assert.Equal(t, 502, failure.StatusOf(err))
	assert.Equal(t, 3, llmFake.Calls())
}

func TestExtractNonTransientNotRetried(t *testing.T) {
	ocrFake := ocr.NewFake(ocr.Step{Err: failure.FromStatus("ocr.ExtractText", 401, "", "bad key")})
	llmFake := llm.NewFake()

	_, err := extract(t, [][]byte{labelImage(t, 50, 50)}, ocrFake, llmFake)
	assert.ErrorIs(t, err, failure.ErrAuth)
	assert.Equal(t, 1, ocrFake.Calls())
	assert.Zero(t, llmFake.Calls())
}

func TestExtractDeadline(t *testing.T) {
	scratch := t.TempDir()
	llmFake := llm.NewFake(llm.Reply{Content: "{}", Delay: 500 * time.Millisecond})

	start := time.Now()
	_, err := Extract(context.Background(), [][]byte{labelImage(t, 50, 50)},
		ocr.NewFake(ocr.Step{Content: "label"}), llmFake,
		WithAssembler(newAssembler(t)),
		WithScratchDir(scratch),
		WithTimeout(100*time.Millisecond),
	)

	assert.ErrorIs(t, err, failure.ErrTimeout)
	assert.Less(t, time.Since(start), 400*time.Millisecond)

	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch directory was not cleaned")
}

func TestExtractCanceledDuringBackoff(t *testing.T) {
	ocrFake := ocr.NewFake(ocr.Step{Err: failure.FromStatus("ocr.ExtractText", 503, "", "")})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := Extract(ctx, [][]byte{labelImage(t, 50, 50)}, ocrFake, llm.NewFake(),
		WithAssembler(newAssembler(t)),
		WithScratchDir(t.TempDir()),
		WithRetryPolicy(DefaultRetryPolicy()),
	)
	assert.ErrorIs(t, err, failure.ErrTimeout)
	assert.Equal(t, 1, ocrFake.Calls())
}

func TestExtractBadImages(t *testing.T) {
	ocrFake := ocr.NewFake()

	_, err := extract(t, nil, ocrFake, llm.NewFake())
	assert.ErrorIs(t, err, failure.ErrBadImage)
	assert.Equal(t, failure.ReasonEmptyInput, failure.ReasonOf(err))

	_, err = extract(t, [][]byte{labelImage(t, 10, 10), []byte("garbage")}, ocrFake, llm.NewFake())
	assert.ErrorIs(t, err, failure.ErrBadImage)
	assert.Equal(t, failure.ReasonDecode, failure.ReasonOf(err))

	assert.Zero(t, ocrFake.Calls())
}

func TestExtractRefusals(t *testing.T) {
	filtered := failure.New("llm.Generate", failure.ErrContentFilter, "filtered")

	for name, reply := range map[string]llm.Reply{
		"blank":          {Content: "  \n"},
		"content filter": {Err: filtered},
	} {
		t.Run(name, func(t *testing.T) {
			llmFake := llm.NewFake(reply)
			_, err := extract(t, [][]byte{labelImage(t, 50, 50)}, ocr.NewFake(ocr.Step{Content: "label"}), llmFake)
			assert.ErrorIs(t, err, failure.ErrExtractionRefused)
			assert.Equal(t, 1, llmFake.Calls())
		})
	}
}

func TestExtractRequiresAssembler(t *testing.T) {
	_, err := ExtractLabelData(context.Background(), nil, ocr.NewFake(), llm.NewFake())
	assert.ErrorIs(t, err, failure.ErrConfiguration)

	_, err = NewPipeline(nil, llm.NewFake(), newAssembler(t))
	assert.ErrorIs(t, err, failure.ErrConfiguration)
}

func TestExtractDeterministic(t *testing.T) {
	images := [][]byte{labelImage(t, 80, 120)}
	reply := readTestdata(t, "sample_reply.json")

	first, err := ExtractLabelData(context.Background(), images,
		ocr.NewFake(ocr.Step{Content: "label"}), llm.NewFake(llm.Reply{Content: reply}),
		WithAssembler(newAssembler(t)), WithScratchDir(t.TempDir()))
	require.NoError(t, err)

	second, err := ExtractLabelData(context.Background(), images,
		ocr.NewFake(ocr.Step{Content: "label"}), llm.NewFake(llm.Reply{Content: reply}),
		WithAssembler(newAssembler(t)), WithScratchDir(t.TempDir()))
	require.NoError(t, err)

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	assert.JSONEq(t, string(a), string(b))
}

func TestExtractFencedReply(t *testing.T) {
	reply := "```json\n" + readTestdata(t, "sample_reply.json") + "\n```"

	result, err := extract(t, [][]byte{labelImage(t, 50, 50)}, ocr.NewFake(ocr.Step{Content: "label"}), llm.NewFake(llm.Reply{Content: reply}))
	require.NoError(t, err)
	assert.Equal(t, "SuperGrow 20-20-20", *result.Label.FertiliserName)
	assert.Zero(t, result.ValidationRetries)
}

func TestExtractScenarioValues(t *testing.T) {
	t.Run("valid phone and identifier", func(t *testing.T) {
		reply := replyWith(t, "organizations", []any{
			map[string]any{"name": "GreenGrow Inc.", "phone_number": "+18005550199"},
		})
		var doc map[string]any
		require.NoError(t, json.Unmarshal([]byte(reply), &doc))
		doc["registration_number"] = []any{
			map[string]any{"identifier": "1234567A", "type": "fertilizer_product"},
		}
		out, err := json.Marshal(doc)
		require.NoError(t, err)

		result, err := extract(t, [][]byte{labelImage(t, 50, 50)}, ocr.NewFake(ocr.Step{Content: "label"}), llm.NewFake(llm.Reply{Content: string(out)}))
		require.NoError(t, err)
		assert.Equal(t, "+18005550199", *result.Label.Organizations[0].PhoneNumber)
		assert.Equal(t, "1234567A", *result.Label.RegistrationNumber[0].Identifier)
		assert.Zero(t, result.ValidationRetries)
	})

	invalid := []struct {
		name  string
		key   string
		value any
		path  string
	}{
		{"short npk", "npk", "10-5", "npk"},
		{"short identifier", "registration_number", []any{
			map[string]any{"identifier": "12345X", "type": "fertilizer_product"},
		}, "registration_number[0].identifier"},
	}
	for _, tc := range invalid {
		t.Run(tc.name, func(t *testing.T) {
			llmFake := llm.NewFake(llm.Reply{Content: replyWith(t, tc.key, tc.value)})

			_, err := extract(t, [][]byte{labelImage(t, 50, 50)}, ocr.NewFake(ocr.Step{Content: "label"}), llmFake)
			assert.ErrorIs(t, err, failure.ErrExtractionInvalid)
			assert.Contains(t, err.Error(), tc.path)
			assert.Equal(t, 2, llmFake.Calls())
			assert.Contains(t, llmFake.Received()[1][0].Content, "Your previous reply failed validation: "+tc.path)
		})
	}
}

// timedOCR fails with a 503 and records when each attempt started.
type timedOCR struct {
	mu    sync.Mutex
	calls []time.Time
}

func (o *timedOCR) ExtractText(context.Context, []byte) (*ocr.Transcript, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, time.Now())
	return nil, failure.FromStatus("ocr.ExtractText", 503, "", "busy")
}

func TestRetryFollowsDelaysInOrder(t *testing.T) {
	policy := RetryPolicy{Delays: []time.Duration{50 * time.Millisecond, 250 * time.Millisecond}}
	timed := &timedOCR{}

	_, err := extract(t, [][]byte{labelImage(t, 50, 50)}, timed, llm.NewFake(), WithRetryPolicy(policy))
	assert.ErrorIs(t, err, failure.ErrTransport)

	require.Len(t, timed.calls, 3)
	first := timed.calls[1].Sub(timed.calls[0])
	second := timed.calls[2].Sub(timed.calls[1])

	assert.GreaterOrEqual(t, first, policy.Delays[0])
	assert.Less(t, first, policy.Delays[1], "first retry waited for the second delay")
	assert.GreaterOrEqual(t, second, policy.Delays[1])
}

func TestRetryLogsOnlyWhenRetrying(t *testing.T) {
	var logs bytes.Buffer
	ocrFake := ocr.NewFake(ocr.Step{Err: failure.FromStatus("ocr.ExtractText", 503, "", "busy")})

	_, err := extract(t, [][]byte{labelImage(t, 50, 50)}, ocrFake, llm.NewFake(), WithLogger(zerolog.New(&logs)))
	assert.ErrorIs(t, err, failure.ErrTransport)
	assert.Equal(t, 3, ocrFake.Calls())

	assert.Equal(t, 2, strings.Count(logs.String(), "Transient failure, retrying"))
	assert.Equal(t, 1, strings.Count(logs.String(), "Retries exhausted"))
}

func TestExtractScratchDirFailure(t *testing.T) {
	notADir := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(notADir, []byte("x"), 0o600))

	ocrFake := ocr.NewFake(ocr.Step{Content: "label"})
	_, err := Extract(context.Background(), [][]byte{labelImage(t, 50, 50)}, ocrFake, llm.NewFake(),
		WithAssembler(newAssembler(t)),
		WithScratchDir(notADir),
	)
	assert.ErrorIs(t, err, failure.ErrConfiguration)
	assert.Equal(t, failure.ErrConfiguration, failure.KindOf(err))
	assert.Zero(t, ocrFake.Calls())
}
