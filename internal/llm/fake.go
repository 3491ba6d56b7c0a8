package llm

import (
	"context"
	"sync"
	"time"

	"fertiscan/internal/failure"
	"fertiscan/internal/prompt"
)

// Reply is one scripted answer of a Fake.
type Reply struct {
	Content string
	Err     error
	Delay   time.Duration
}

// Fake is an in-memory Generator replaying scripted replies. Once the script
// is exhausted the last reply repeats. It is safe for concurrent use.
type Fake struct {
	mu       sync.Mutex
	replies  []Reply
	calls    int
	received [][]prompt.Message
}

var _ Generator = (*Fake)(nil)

// NewFake returns a Fake answering with replies in order.
func NewFake(replies ...Reply) *Fake {
	return &Fake{replies: replies}
}

// Generate returns the next scripted reply. A delay is cut short by ctx.
func (f *Fake) Generate(ctx context.Context, messages []prompt.Message) (string, error) {
	f.mu.Lock()
	reply := Reply{}
	if n := len(f.replies); n > 0 {
		reply = f.replies[min(f.calls, n-1)]
	}
	f.calls++
	f.received = append(f.received, append([]prompt.Message(nil), messages...))
	f.mu.Unlock()

	if reply.Delay > 0 {
		t := time.NewTimer(reply.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", failure.FromContext(ctx, "llm.Generate")
		case <-t.C:
		}
	}
	if reply.Err != nil {
		return "", reply.Err
	}
	return reply.Content, nil
}

// Calls returns how many times Generate ran.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Received returns the prompts of every call, in order.
func (f *Fake) Received() [][]prompt.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]prompt.Message(nil), f.received...)
}
