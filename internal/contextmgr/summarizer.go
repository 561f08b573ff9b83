package contextmgr

import (
	"context"
	"fmt"
	"strings"

	"github.com/restflow/restflow/internal/llm"
	"github.com/restflow/restflow/pkg/models"
)

// ProviderSummarizer is the Summarizer Compact calls in production: it asks
// the same wire adapter the executor already talks to for a condensed
// paragraph, with a fixed instruction prompt rather than the run's own
// system prompt, since the summary must stand alone as a system message
// once spliced back into the conversation.
type ProviderSummarizer struct {
	provider llm.Provider
	// MaxTokens bounds the summary's own length; defaults to 512 when zero.
	MaxTokens int
}

// NewProviderSummarizer builds a ProviderSummarizer over provider.
func NewProviderSummarizer(provider llm.Provider) *ProviderSummarizer {
	return &ProviderSummarizer{provider: provider, MaxTokens: 512}
}

const summarizerSystemPrompt = "Summarize the following conversation span in one dense paragraph. " +
	"Preserve concrete facts, decisions, file paths, and open tasks; drop pleasantries and repetition."

// Summarize renders messages as a flat transcript and asks the provider to
// condense it.
func (s *ProviderSummarizer) Summarize(ctx context.Context, messages []models.Message) (string, error) {
	maxTokens := s.MaxTokens
	if maxTokens == 0 {
		maxTokens = 512
	}

	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		Model:     s.provider.Model(),
		System:    summarizerSystemPrompt,
		Messages:  []llm.Message{{Role: "user", Content: renderTranscript(messages)}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("contextmgr: summarize span: %w", err)
	}
	return resp.Content, nil
}

func renderTranscript(messages []models.Message) string {
	var b strings.Builder
	for _, m := range messages {
		if m.Content == "" {
			continue
		}
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}
