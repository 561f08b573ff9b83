package contextmgr

import "github.com/restflow/restflow/pkg/models"

// PruneConfig bounds the zero-cost pruning pass.
type PruneConfig struct {
	// ProtectedUserTurns is the number of most-recent user messages (and
	// everything after them) that Prune never touches.
	ProtectedUserTurns int
	// ToolResultMaxBytes is the byte budget a tool message's Content is
	// middle-truncated to.
	ToolResultMaxBytes int
}

// DefaultPruneConfig mirrors the teacher's config-with-defaults idiom.
func DefaultPruneConfig() PruneConfig {
	return PruneConfig{
		ProtectedUserTurns: 2,
		ToolResultMaxBytes: 4000,
	}
}

// PruneStats reports what a Prune call did.
type PruneStats struct {
	Applied           bool
	MessagesTruncated int
	TokensBefore      int
	TokensAfter       int
	BytesRemoved      int
}

// Prune walks messages and middle-truncates tool-result content exceeding
// cfg.ToolResultMaxBytes, protecting the last cfg.ProtectedUserTurns user
// turns and everything after them. It is idempotent: running it twice on
// its own output reports Applied=false and returns a byte-identical slice.
func Prune(est *Estimator, messages []models.Message, cfg PruneConfig) ([]models.Message, PruneStats) {
	stats := PruneStats{}

	protectedFrom := protectedBoundary(messages, cfg.ProtectedUserTurns)

	contents := make([]string, len(messages))
	for i, m := range messages {
		contents[i] = m.Content
	}
	stats.TokensBefore = est.EstimateMessages(contents)

	out := make([]models.Message, len(messages))
	for i, m := range messages {
		out[i] = m
		if i >= protectedFrom {
			continue
		}
		if m.Role != models.RoleTool {
			continue
		}
		truncated := MiddleTruncate(m.Content, cfg.ToolResultMaxBytes)
		if truncated != m.Content {
			stats.BytesRemoved += len(m.Content) - len(truncated)
			stats.MessagesTruncated++
			out[i].Content = truncated
		}
	}

	stats.Applied = stats.MessagesTruncated > 0

	contentsAfter := make([]string, len(out))
	for i, m := range out {
		contentsAfter[i] = m.Content
	}
	stats.TokensAfter = est.EstimateMessages(contentsAfter)

	return out, stats
}

// protectedBoundary returns the smallest index i such that messages[i:]
// contains the last n user messages (and is never truncated). If fewer
// than n user messages exist, the entire slice is protected.
func protectedBoundary(messages []models.Message, n int) int {
	if n <= 0 {
		return len(messages)
	}
	seen := 0
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			seen++
			if seen >= n {
				return i
			}
		}
	}
	return 0
}
