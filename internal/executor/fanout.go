package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/restflow/restflow/internal/contextmgr"
	"github.com/restflow/restflow/pkg/models"
)

// ToolExecConfig configures the parallel tool fan-out.
type ToolExecConfig struct {
	Concurrency     int
	PerToolTimeout  time.Duration
	MaxResultBytes  int
	ScratchpadWrite func(toolCallID string, content string) (path string, err error)
}

// DefaultToolExecConfig mirrors the teacher's DefaultToolExecConfig idiom.
func DefaultToolExecConfig() ToolExecConfig {
	return ToolExecConfig{
		Concurrency:    4,
		PerToolTimeout: 30 * time.Second,
		MaxResultBytes: 4000,
	}
}

// toolCallResult is one fanned-out tool call's settled outcome, tagged with
// its submission index so results can be folded back in order.
type toolCallResult struct {
	Index    int
	ToolCall models.ToolCall
	Output   models.ToolOutput
	Err      error
}

// abortHandle lets a CancelToolCall steer command abort one in-flight call.
type abortHandle struct {
	cancel context.CancelFunc
}

// ActiveCalls is the registry of in-flight tool calls keyed by
// tool_call_id, giving CancelToolCall steer commands something to act on
// (spec §4.1 step 1 and §5 cancellation semantics).
type ActiveCalls struct {
	mu    sync.Mutex
	calls map[string]abortHandle
}

// NewActiveCalls returns an empty registry.
func NewActiveCalls() *ActiveCalls {
	return &ActiveCalls{calls: make(map[string]abortHandle)}
}

func (a *ActiveCalls) register(id string, cancel context.CancelFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls[id] = abortHandle{cancel: cancel}
}

func (a *ActiveCalls) unregister(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.calls, id)
}

// Abort cancels the tool call registered under id, if still in flight.
// Returns false if no such call is active (already finished, or never
// registered).
func (a *ActiveCalls) Abort(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.calls[id]
	if !ok {
		return false
	}
	h.cancel()
	return true
}

// FanOut runs every tool call concurrently, permit-gated by a semaphore of
// width cfg.Concurrency, each wrapped in its own PerToolTimeout and
// registered in active so a CancelToolCall steer command can abort it.
// Results are returned in submission order, matching spec §4.1 step 8.
func FanOut(ctx context.Context, registry *Registry, active *ActiveCalls, calls []models.ToolCall, cfg ToolExecConfig, onEvent func(callID, phase string)) []toolCallResult {
	results := make([]toolCallResult, len(calls))
	sem := make(chan struct{}, max(1, cfg.Concurrency))
	var wg sync.WaitGroup

	for i, tc := range calls {
		wg.Add(1)
		go func(idx int, call models.ToolCall) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = toolCallResult{Index: idx, ToolCall: call, Err: ctx.Err()}
				return
			}

			if onEvent != nil {
				onEvent(call.ID, "tool_call_start")
			}

			callCtx, cancel := context.WithTimeout(ctx, cfg.PerToolTimeout)
			active.register(call.ID, cancel)
			defer func() {
				cancel()
				active.unregister(call.ID)
			}()

			out, err := registry.Invoke(callCtx, call.Name, call.Arguments)
			results[idx] = toolCallResult{Index: idx, ToolCall: call, Output: out, Err: err}

			if onEvent != nil {
				onEvent(call.ID, "tool_call_result")
			}
		}(i, tc)
	}

	wg.Wait()
	return results
}

// FoldResults converts settled tool call results into tool-role messages,
// applying spec §4.1 step 9's folding rules: pending_approval registers a
// deferred call and inserts a placeholder; non-retryable-category errors
// get rewritten guidance; every result is middle-truncated to
// maxResultBytes, with the full payload saved to a scratchpad and a
// retrieval hint appended when truncation occurs.
func FoldResults(results []toolCallResult, tracker *DeferredCallTracker, cfg ToolExecConfig) []models.Message {
	out := make([]models.Message, 0, len(results))

	for _, r := range results {
		content := foldOneResult(r, tracker, cfg)
		out = append(out, models.Message{
			Role:       models.RoleTool,
			Content:    content,
			ToolCallID: r.ToolCall.ID,
		})
	}
	return out
}

func foldOneResult(r toolCallResult, tracker *DeferredCallTracker, cfg ToolExecConfig) string {
	if r.Err != nil {
		content := r.Err.Error()
		if te, ok := r.Err.(*ToolError); ok && !te.Type.IsRetryable() {
			content = NonRetryableGuidance(te.Type) + content
		}
		return truncateWithHint(r.ToolCall.ID, content, cfg)
	}

	var pending models.PendingApprovalResult
	if tryDecodePendingApproval(r.Output, &pending) && pending.PendingApproval {
		tracker.Register(&models.DeferredToolCall{
			CallID:     r.ToolCall.ID,
			ToolName:   r.ToolCall.Name,
			Args:       r.ToolCall.Arguments,
			ApprovalID: pending.ApprovalID,
		})
		return "Deferred execution pending approval. Continuing."
	}

	content := string(r.Output.Result)
	if !r.Output.Success {
		content = r.Output.Error
		if !r.Output.Retryable {
			content = NonRetryableGuidance(ToolErrorType(r.Output.ErrorCategory)) + content
		}
	}
	return truncateWithHint(r.ToolCall.ID, content, cfg)
}

func tryDecodePendingApproval(out models.ToolOutput, dst *models.PendingApprovalResult) bool {
	if len(out.Result) == 0 {
		return false
	}
	return json.Unmarshal(out.Result, dst) == nil
}

func truncateWithHint(toolCallID, content string, cfg ToolExecConfig) string {
	if len(content) <= cfg.MaxResultBytes || cfg.ScratchpadWrite == nil {
		return contextmgr.MiddleTruncate(content, cfg.MaxResultBytes)
	}

	path, err := cfg.ScratchpadWrite(toolCallID, content)
	if err != nil {
		return contextmgr.MiddleTruncate(content, cfg.MaxResultBytes)
	}

	hint := retrievalHint(path, len(content))
	budget := cfg.MaxResultBytes - len(hint)
	if budget < 0 {
		budget = 0
	}
	return contextmgr.MiddleTruncate(content, budget) + hint
}

// retrievalHint matches the original implementation's truncation hint
// format exactly, so external tooling built against that text keeps
// working unchanged.
func retrievalHint(path string, fullLength int) string {
	return "\n\n[Full output (" + itoa(fullLength) + " chars) saved to: " + path +
		". Use file read tool with offset/limit to view specific sections, or use search to find specific content.]"
}

// argHash returns a stable hash of a tool call's arguments, used by the
// stuck detector to key repeated (tool_name, args) pairs.
func argHash(args []byte) string {
	sum := sha256.Sum256(args)
	return hex.EncodeToString(sum[:8])
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

