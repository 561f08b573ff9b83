package executor

import "github.com/restflow/restflow/pkg/models"

// SanitizeToolCallHistory removes any dangling assistant tool-call whose
// matching tool-result id is absent, and any tool-result whose matching
// assistant tool-call is absent. Some LLM APIs reject orphaned tool-call
// ids after compaction drops the assistant turn that produced them, or
// after a tool result is dropped by a partial failure; sanitizing keeps
// every remaining tool-call id in a valid one-to-one match before the
// history is sent.
func SanitizeToolCallHistory(messages []models.Message) []models.Message {
	resultIDs := make(map[string]bool)
	for _, m := range messages {
		if m.Role == models.RoleTool && m.ToolCallID != "" {
			resultIDs[m.ToolCallID] = true
		}
	}
	callIDs := make(map[string]bool)
	for _, m := range messages {
		if m.Role == models.RoleAssistant {
			for _, tc := range m.ToolCalls {
				callIDs[tc.ID] = true
			}
		}
	}

	out := make([]models.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case models.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, m)
				continue
			}
			kept := m.ToolCalls[:0:0]
			for _, tc := range m.ToolCalls {
				if resultIDs[tc.ID] {
					kept = append(kept, tc)
				}
			}
			if len(kept) == 0 && m.Content == "" {
				// Nothing left to send: an assistant turn that was pure
				// tool-calls, all orphaned.
				continue
			}
			clone := m
			clone.ToolCalls = kept
			out = append(out, clone)
		case models.RoleTool:
			if m.ToolCallID == "" || callIDs[m.ToolCallID] {
				out = append(out, m)
			}
		default:
			out = append(out, m)
		}
	}
	return out
}
