package ocr

import (
	"context"
	"sync"
	"time"

	"fertiscan/internal/failure"
)

// Step is one scripted response of a Fake.
type Step struct {
	Content string
	Err     error
	Delay   time.Duration
}

// Fake is an in-memory Client that replays scripted steps in order. The last
// step repeats once the script is exhausted. It is safe for concurrent use.
type Fake struct {
	mu        sync.Mutex
	steps     []Step
	calls     int
	documents [][]byte
}

var _ Client = (*Fake)(nil)

// NewFake returns a Fake that answers with the given steps.
func NewFake(steps ...Step) *Fake {
	return &Fake{steps: steps}
}

// ExtractText replays the next step. A delay is cut short by ctx.
func (f *Fake) ExtractText(ctx context.Context, document []byte) (*Transcript, error) {
	f.mu.Lock()
	step := Step{}
	if n := len(f.steps); n > 0 {
		step = f.steps[min(f.calls, n-1)]
	}
	f.calls++
	f.documents = append(f.documents, document)
	f.mu.Unlock()

	if step.Delay > 0 {
		if err := wait(ctx, step.Delay); err != nil {
			return nil, failure.FromContext(ctx, "ocr.ExtractText")
		}
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return &Transcript{Content: step.Content, Pages: 1, ModelID: "fake"}, nil
}

// Calls returns how many times ExtractText ran.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Documents returns the documents received, in call order.
func (f *Fake) Documents() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.documents...)
}
