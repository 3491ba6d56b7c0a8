// Package prompt builds the chat messages sent to the language model.
//
// A prompt is always three messages: the inspector instruction, the LabelData
// schema document, and the OCR transcript. The instruction is read from
// disk on every Build so operators can revise it without a restart.
package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"fertiscan/internal/failure"
	"fertiscan/pkg/models"
)

// Chat roles.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Assembler composes prompts from an instruction file and a schema
// document.
type Assembler struct {
	instructionPath string
	schemaPath      string
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithSchemaPath replaces the embedded LabelData schema with the file at
// path. The file is read on every Build.
func WithSchemaPath(path string) Option {
	return func(a *Assembler) {
		a.schemaPath = path
	}
}

// NewAssembler returns an Assembler reading its instruction from
// instructionPath.
func NewAssembler(instructionPath string, options ...Option) (*Assembler, error) {
	if strings.TrimSpace(instructionPath) == "" {
		return nil, failure.Configuration("prompt.NewAssembler", "instruction path is required")
	}

	a := &Assembler{instructionPath: instructionPath}
	for _, option := range options {
		option(a)
	}
	return a, nil
}

// Build returns the messages for transcript.
func (a *Assembler) Build(transcript string) ([]Message, error) {
	const op = "prompt.Build"

	instruction, err := os.ReadFile(a.instructionPath)
	if err != nil {
		return nil, failure.Wrap(op, failure.ErrConfiguration, err, "read instruction file")
	}

	schema := models.SchemaSpec()
	if a.schemaPath != "" {
		data, err := os.ReadFile(a.schemaPath)
		if err != nil {
			return nil, failure.Wrap(op, failure.ErrConfiguration, err, "read schema document")
		}
		schema = string(data)
	}

	return []Message{
		{Role: RoleSystem, Content: string(instruction)},
		{Role: RoleSystem, Content: schema},
		{Role: RoleUser, Content: transcript},
	}, nil
}

// WithValidationNote returns a copy of messages whose first system message
// tells the model why its previous reply was rejected.
func WithValidationNote(messages []Message, reason string) []Message {
	out := append([]Message(nil), messages...)
	for i := range out {
		if out[i].Role != RoleSystem {
			continue
		}
		out[i].Content = strings.TrimRight(out[i].Content, "\n") +
			fmt.Sprintf("\n\nYour previous reply failed validation: %s; emit JSON only", reason)
		break
	}
	return out
}

// Hash returns a stable digest of messages, used to correlate traces with
// prompt revisions.
func Hash(messages []Message) string {
	h := sha256.New()
	for _, m := range messages {
		h.Write([]byte(m.Role))
		h.Write([]byte{0})
		h.Write([]byte(m.Content))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
