package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRoleConstants(t *testing.T) {
	require.Equal(t, "system", string(RoleSystem))
	require.Equal(t, "user", string(RoleUser))
	require.Equal(t, "assistant", string(RoleAssistant))
	require.Equal(t, "tool", string(RoleTool))
}

func TestMessageJSONRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	original := Message{
		ID:      "msg-1",
		Role:    RoleAssistant,
		Content: "",
		ToolCalls: []ToolCall{
			{ID: "tc-1", Name: "search", Arguments: json.RawMessage(`{"q":"test"}`)},
		},
		CreatedAt: now,
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, original.ID, decoded.ID)
	require.Len(t, decoded.ToolCalls, 1)
	require.Equal(t, "search", decoded.ToolCalls[0].Name)
}

func TestToolResultMessageReferencesCallID(t *testing.T) {
	result := Message{Role: RoleTool, ToolCallID: "tc-1", Content: "result"}
	require.Equal(t, "tc-1", result.ToolCallID)
	require.Equal(t, RoleTool, result.Role)
}

func TestAgentStateIsTerminal(t *testing.T) {
	s := &AgentState{Status: RunStatusRunning}
	require.False(t, s.IsTerminal())

	s.Status = RunStatusCompleted
	require.True(t, s.IsTerminal())
}

func TestPendingApprovalResultShape(t *testing.T) {
	out := ToolOutput{
		Success: false,
		Result:  mustJSON(t, PendingApprovalResult{PendingApproval: true, ApprovalID: "A1"}),
	}
	var parsed PendingApprovalResult
	require.NoError(t, json.Unmarshal(out.Result, &parsed))
	require.True(t, parsed.PendingApproval)
	require.Equal(t, "A1", parsed.ApprovalID)
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
