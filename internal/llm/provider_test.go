package llm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAccumulateToolCallsGroupsByID(t *testing.T) {
	chunks := []StreamChunk{
		{ToolCallID: "call_1", ToolCallName: "search", ArgumentsDelta: `{"q":`},
		{TextDelta: "ignored for tool accumulation"},
		{ToolCallID: "call_1", ArgumentsDelta: `"go"}`},
		{ToolCallID: "call_2", ToolCallName: "fetch", ArgumentsDelta: `{}`},
	}

	calls := AccumulateToolCalls(chunks)
	require.Len(t, calls, 2)
	require.Equal(t, "call_1", calls[0].ID)
	require.Equal(t, "search", calls[0].Name)
	require.JSONEq(t, `{"q":"go"}`, string(calls[0].Arguments))
	require.Equal(t, "call_2", calls[1].ID)
}

func TestAccumulateToolCallsIgnoresTextOnlyChunks(t *testing.T) {
	chunks := []StreamChunk{{TextDelta: "hello"}, {TextDelta: " world"}}
	require.Empty(t, AccumulateToolCalls(chunks))
}
