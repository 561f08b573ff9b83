package contextmgr

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/restflow/restflow/pkg/models"
	"github.com/stretchr/testify/require"
)

func TestMiddleTruncateNoOpUnderBudget(t *testing.T) {
	require.Equal(t, "short", MiddleTruncate("short", 100))
}

func TestMiddleTruncateSplitsHeadAndTail(t *testing.T) {
	s := strings.Repeat("a", 1000)
	got := MiddleTruncate(s, 100)
	require.Less(t, len(got), len(s))
	require.Contains(t, got, truncateMarker)
	require.True(t, strings.HasPrefix(got, "a"))
	require.True(t, strings.HasSuffix(got, "a"))
}

func TestMiddleTruncateNeverSplitsRune(t *testing.T) {
	s := strings.Repeat("é", 200) // 2 bytes per rune
	got := MiddleTruncate(s, 51)  // odd byte budget forces a snap
	require.True(t, isValidUTF8(got))
}

func isValidUTF8(s string) bool {
	for _, r := range s {
		if r == '�' {
			return false
		}
	}
	return true
}

func TestEstimatorCalibrationConvergesTowardObserved(t *testing.T) {
	est := NewEstimator()
	before := est.EstimateTokens(strings.Repeat("x", 400))
	for i := 0; i < 50; i++ {
		est.Calibrate(400, 200) // actual is half the raw heuristic guess
	}
	after := est.EstimateTokens(strings.Repeat("x", 400))
	require.Less(t, after, before)
}

func TestCooldownBlocksThenExpires(t *testing.T) {
	cd := &Cooldown{}
	require.False(t, cd.Active())
	cd.StartCompactCooldown(2)
	require.True(t, cd.Active())
	cd.TickCooldown()
	require.True(t, cd.Active())
	cd.TickCooldown()
	require.False(t, cd.Active())
}

func TestPruneIsIdempotent(t *testing.T) {
	est := NewEstimator()
	cfg := PruneConfig{ProtectedUserTurns: 1, ToolResultMaxBytes: 10}
	messages := []models.Message{
		{Role: models.RoleSystem, Content: "sys"},
		{Role: models.RoleTool, Content: strings.Repeat("x", 500)},
		{Role: models.RoleUser, Content: "hi"},
	}

	once, stats1 := Prune(est, messages, cfg)
	require.True(t, stats1.Applied)

	twice, stats2 := Prune(est, once, cfg)
	require.False(t, stats2.Applied)
	require.Equal(t, once, twice)
}

func TestPruneProtectsRecentUserTurns(t *testing.T) {
	est := NewEstimator()
	cfg := PruneConfig{ProtectedUserTurns: 1, ToolResultMaxBytes: 5}
	big := strings.Repeat("x", 500)
	messages := []models.Message{
		{Role: models.RoleUser, Content: "first"},
		{Role: models.RoleTool, Content: big},
	}
	out, stats := Prune(est, messages, cfg)
	require.False(t, stats.Applied)
	require.Equal(t, big, out[1].Content)
}

type fakeSummarizer struct {
	summary string
	err     error
}

func (f fakeSummarizer) Summarize(ctx context.Context, messages []models.Message) (string, error) {
	return f.summary, f.err
}

func TestCompactPreservesSystemPromptAndTail(t *testing.T) {
	est := NewEstimator()
	cfg := DefaultCompactConfig()
	cfg.PreserveTailTokens = 1

	messages := []models.Message{
		{Role: models.RoleSystem, Content: "you are an agent"},
		{Role: models.RoleUser, Content: "old question one"},
		{Role: models.RoleAssistant, Content: "old answer one"},
		{Role: models.RoleUser, Content: "latest question"},
	}

	out, stats, err := Compact(context.Background(), est, fakeSummarizer{summary: "condensed"}, messages, cfg)
	require.NoError(t, err)
	require.Equal(t, messages[0], out[0])
	require.Contains(t, out[1].Content, "condensed")
	require.Equal(t, messages[len(messages)-1], out[len(out)-1])
	require.Greater(t, stats.MessagesReplaced, 0)
}

func TestCompactPropagatesSummarizerError(t *testing.T) {
	est := NewEstimator()
	cfg := DefaultCompactConfig()
	cfg.PreserveTailTokens = 1
	messages := []models.Message{
		{Role: models.RoleSystem, Content: "sys"},
		{Role: models.RoleUser, Content: "a"},
		{Role: models.RoleAssistant, Content: "b"},
		{Role: models.RoleUser, Content: "c"},
	}

	boom := errors.New("llm down")
	out, _, err := Compact(context.Background(), est, fakeSummarizer{err: boom}, messages, cfg)
	require.Error(t, err)
	require.Equal(t, messages, out)
}

func TestCompactWasEffective(t *testing.T) {
	cfg := DefaultCompactConfig()
	require.True(t, CompactWasEffective(CompactStats{TokensBefore: 1000, TokensAfter: 500}, cfg))
	require.False(t, CompactWasEffective(CompactStats{TokensBefore: 1000, TokensAfter: 950}, cfg))
}

func TestShouldCompactRespectsCooldown(t *testing.T) {
	cfg := DefaultCompactConfig()
	cd := &Cooldown{}
	require.True(t, ShouldCompact(900, 1000, cfg, cd))
	cd.StartCompactCooldown(1)
	require.False(t, ShouldCompact(900, 1000, cfg, cd))
}
