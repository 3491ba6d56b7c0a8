// Package llm sends assembled prompts to a chat completion model and returns
// the raw reply.
//
// The production client targets an Azure OpenAI deployment. Replies are not
// interpreted here beyond refusal detection; parsing and validation belong to
// the caller. Deployments known to support JSON mode get
// response_format=json_object, others rely on ExtractJSON downstream.
package llm

import (
	"context"
	"strings"

	"fertiscan/internal/prompt"
)

// Generator produces a completion for a prompt.
type Generator interface {
	// Generate returns the model reply for messages. The reply is expected
	// to be a JSON object but is returned verbatim.
	Generate(ctx context.Context, messages []prompt.Message) (string, error)
}

// ExtractJSON returns the JSON object embedded in reply. It strips markdown
// code fences and any prose around the outermost braces. A reply with no
// braces is returned trimmed.
func ExtractJSON(reply string) string {
	s := strings.TrimSpace(reply)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:] // drop the language tag line
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
