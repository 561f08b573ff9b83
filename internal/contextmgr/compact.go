package contextmgr

import (
	"context"
	"fmt"
	"strings"

	"github.com/restflow/restflow/pkg/models"
)

// Summarizer asks an LLM to condense a span of conversation into one
// paragraph. Grounded on the teacher's internal/compaction.Summarizer
// interface, kept minimal since RestFlow's context manager only ever
// summarizes once per compaction (no chunked multi-stage merge needed at
// RestFlow's context-window scale).
type Summarizer interface {
	Summarize(ctx context.Context, messages []models.Message) (string, error)
}

// CompactConfig governs the expensive compaction stage.
type CompactConfig struct {
	// TriggerRatio: compaction runs when estimated tokens >= TriggerRatio *
	// context window.
	TriggerRatio float64
	// PreserveTailTokens is the budget of trailing messages (in estimated
	// tokens) kept verbatim after the system prompt.
	PreserveTailTokens int
	// EffectiveRatio is the minimum shrink ratio (tokensAfter/tokensBefore)
	// below which a compaction counts as effective; otherwise the caller
	// should start a cooldown to avoid thrashing.
	EffectiveRatio float64
	// CooldownIterations is how long StartCompactCooldown blocks future
	// compaction after an ineffective pass.
	CooldownIterations int
}

// DefaultCompactConfig mirrors the teacher's config-with-defaults idiom.
func DefaultCompactConfig() CompactConfig {
	return CompactConfig{
		TriggerRatio:       0.8,
		PreserveTailTokens: 2000,
		EffectiveRatio:     0.7,
		CooldownIterations: 3,
	}
}

// CompactStats reports what a Compact call did.
type CompactStats struct {
	MessagesReplaced int
	TokensBefore     int
	TokensAfter      int
}

// ShouldCompact reports whether estimated tokens have crossed the trigger
// ratio and the cooldown is not currently suppressing compaction.
func ShouldCompact(estimatedTokens, contextWindow int, cfg CompactConfig, cd *Cooldown) bool {
	if cd.Active() {
		return false
	}
	return float64(estimatedTokens) >= cfg.TriggerRatio*float64(contextWindow)
}

// Compact preserves messages[0] (the system prompt, never mutated per the
// executor's invariant) and the trailing span whose estimated token cost
// is within cfg.PreserveTailTokens, asks summarizer to condense everything
// between them into one system message, and splices the result back in.
//
// If summarizer.Summarize fails, messages are returned unchanged and the
// error propagates to the caller, per spec.
func Compact(ctx context.Context, est *Estimator, summarizer Summarizer, messages []models.Message, cfg CompactConfig) ([]models.Message, CompactStats, error) {
	stats := CompactStats{}
	if len(messages) < 3 {
		return messages, stats, nil
	}

	contents := make([]string, len(messages))
	for i, m := range messages {
		contents[i] = m.Content
	}
	stats.TokensBefore = est.EstimateMessages(contents)

	tailStart := tailBoundary(est, messages, cfg.PreserveTailTokens)
	if tailStart <= 1 {
		// Nothing worth summarizing between system prompt and tail.
		stats.TokensAfter = stats.TokensBefore
		return messages, stats, nil
	}

	middle := messages[1:tailStart]
	summary, err := summarizer.Summarize(ctx, middle)
	if err != nil {
		return messages, stats, fmt.Errorf("contextmgr: compact summarization failed: %w", err)
	}

	summaryMsg := models.Message{
		Role:    models.RoleSystem,
		Content: "Earlier conversation summary:\n" + summary,
	}

	out := make([]models.Message, 0, 2+len(messages)-tailStart)
	out = append(out, messages[0], summaryMsg)
	out = append(out, messages[tailStart:]...)

	contentsAfter := make([]string, len(out))
	for i, m := range out {
		contentsAfter[i] = m.Content
	}
	stats.TokensAfter = est.EstimateMessages(contentsAfter)
	stats.MessagesReplaced = len(middle)

	return out, stats, nil
}

// CompactWasEffective reports whether a compaction shrank tokens by at
// least cfg.EffectiveRatio; false means the caller should start a cooldown.
func CompactWasEffective(stats CompactStats, cfg CompactConfig) bool {
	if stats.TokensBefore == 0 {
		return true
	}
	shrink := float64(stats.TokensAfter) / float64(stats.TokensBefore)
	return shrink <= cfg.EffectiveRatio
}

// tailBoundary returns the smallest index i such that messages[i:] costs no
// more than tailTokenBudget estimated tokens.
func tailBoundary(est *Estimator, messages []models.Message, tailTokenBudget int) int {
	used := 0
	i := len(messages)
	for i > 1 {
		used += est.EstimateTokens(messages[i-1].Content) + 4
		if used > tailTokenBudget {
			break
		}
		i--
	}
	return i
}

// FormatMessagesForSummary renders messages as a plain transcript for
// feeding to a summarization prompt, matching the teacher's
// internal/compaction.FormatMessagesForSummary shape.
func FormatMessagesForSummary(messages []models.Message) string {
	var b strings.Builder
	for _, m := range messages {
		if m.Content == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}
