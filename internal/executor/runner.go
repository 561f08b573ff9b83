package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/restflow/restflow/internal/contextmgr"
	"github.com/restflow/restflow/internal/llm"
	"github.com/restflow/restflow/pkg/models"
)

// Checkpointer persists an in-progress AgentState at iteration boundaries
// so a run can be resumed after a crash via ExecuteFromState.
type Checkpointer interface {
	Save(ctx context.Context, state models.AgentState) error
}

// NoopCheckpointer discards every checkpoint.
type NoopCheckpointer struct{}

func (NoopCheckpointer) Save(context.Context, models.AgentState) error { return nil }

// RunnerConfig wires a Runner's collaborators. Every field has a safe zero
// value except Provider and Registry, which callers must supply.
type RunnerConfig struct {
	Provider   llm.Provider
	Registry   *Registry
	Summarizer contextmgr.Summarizer

	PruneConfig   contextmgr.PruneConfig
	CompactConfig contextmgr.CompactConfig
	ToolExec      ToolExecConfig
	Router        RouterConfig

	Scratchpad   Scratchpad
	Emitter      Emitter
	Checkpointer Checkpointer
	Logger       *slog.Logger

	// Streaming requests a streamed completion when the provider supports
	// it; text deltas are forwarded to Emitter as they arrive.
	Streaming bool

	// Now stubs the wall clock for deterministic tests; defaults to time.Now.
	Now func() time.Time
}

// Runner drives a single agent execution through the ReAct control loop:
// apply steer/approval inputs, gate on resource budgets, manage context via
// prune/compact, call the LLM, fan tool calls out concurrently, fold
// results back into the conversation, detect stuck loops, and checkpoint
// at the end of each iteration.
type Runner struct {
	cfg    RunnerConfig
	active *ActiveCalls
	est    *contextmgr.Estimator
}

// NewRunner builds a Runner from cfg, filling in safe defaults for any
// zero-valued collaborator.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Scratchpad == nil {
		cfg.Scratchpad = NoopScratchpad{}
	}
	if cfg.Emitter == nil {
		cfg.Emitter = NullEmitter{}
	}
	if cfg.Checkpointer == nil {
		cfg.Checkpointer = NoopCheckpointer{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With("component", "executor")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ToolExec.Concurrency == 0 {
		cfg.ToolExec = DefaultToolExecConfig()
	}
	if cfg.PruneConfig.ToolResultMaxBytes == 0 {
		cfg.PruneConfig = contextmgr.DefaultPruneConfig()
	}
	if cfg.CompactConfig.TriggerRatio == 0 {
		cfg.CompactConfig = contextmgr.DefaultCompactConfig()
	}
	est := contextmgr.NewEstimator()
	if cfg.Provider != nil {
		est = contextmgr.NewEstimatorForModel(cfg.Provider.Model())
	}
	return &Runner{cfg: cfg, active: NewActiveCalls(), est: est}
}

// AgentResult is the terminal outcome of a run.
type AgentResult struct {
	State   models.AgentState
	Success bool
	Error   string
}

// Run starts a fresh execution from cfg.Goal and drives it to completion.
// steer may be nil, in which case the run accepts no out-of-band input.
func (r *Runner) Run(ctx context.Context, steer *SteerQueue, cfg models.AgentConfig, systemPrompt string) AgentResult {
	now := r.cfg.Now()
	state := models.AgentState{
		ExecutionID:   uuid.NewString(),
		MaxIterations: cfg.MaxIterations,
		Status:        models.RunStatusRunning,
		StartedAt:     now,
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: systemPrompt, CreatedAt: now},
			{Role: models.RoleUser, Content: cfg.Goal, CreatedAt: now},
		},
	}
	return r.ExecuteFromState(ctx, steer, cfg, &state)
}

// ExecuteFromState resumes (or continues) a run from an existing
// AgentState, mutating it in place and returning the terminal result. The
// system prompt at state.Messages[0] is never mutated by the loop.
func (r *Runner) ExecuteFromState(ctx context.Context, steer *SteerQueue, cfg models.AgentConfig, state *models.AgentState) AgentResult {
	if steer == nil {
		steer = NewSteerQueue()
	}
	tracker := NewDeferredCallTracker()
	detector := NewStuckDetector(cfg.StuckDetection)
	resources := NewResourceTracker(cfg.ResourceLimits, r.cfg.Now())
	cooldown := &contextmgr.Cooldown{}
	model := r.cfg.Provider.Model()

	var recentTools []string
	var lastToolFailed bool
	var retriedEmpty bool

	r.cfg.Scratchpad.LogStart(cfg.Goal)

	for state.Iteration < state.MaxIterations && state.Status == models.RunStatusRunning {
		r.cfg.Scratchpad.LogIterationBegin(state.Iteration)

		r.applyPendingInputs(state, steer, tracker, cfg)
		if state.Status != models.RunStatusRunning {
			break
		}

		if exceeded, reason := resources.Exceeded(r.cfg.Now()); exceeded {
			state.Status = models.RunStatusResourceExhausted
			state.Error = reason
			break
		}

		tier := ClassifyTier(r.cfg.Router, recentTools, lastMessage(state.Messages), state.Iteration, lastToolFailed)
		model = ResolveModel(r.cfg.Router, tier, model)

		r.manageContext(ctx, state, cfg, cooldown)

		sendMessages := SanitizeToolCallHistory(state.Messages)
		req := r.buildRequest(sendMessages, model, cfg)

		resp, err := r.complete(ctx, req)
		if err != nil {
			state.Status = models.RunStatusFailed
			state.Error = "LLM returned an error"
			r.cfg.Scratchpad.LogError(err)
			break
		}
		r.est.Calibrate(estimateRequestChars(req), resp.Usage.PromptTokens)
		resources.AddCost(resp.Usage.CostUSD)

		if len(resp.ToolCalls) == 0 {
			now := r.cfg.Now()
			state.Messages = append(state.Messages, models.Message{Role: models.RoleAssistant, Content: resp.Content, CreatedAt: now})

			switch {
			case resp.FinishReason == llm.FinishMaxTokens:
				state.Status = models.RunStatusFailed
				state.Error = "Response truncated due to max token limit"
			case resp.FinishReason == llm.FinishError:
				state.Status = models.RunStatusFailed
				state.Error = "LLM returned an error"
			case resp.Content == "" && state.Iteration == 0 && !retriedEmpty:
				retriedEmpty = true
				// Drop the empty assistant turn and retry this iteration
				// once without advancing the counter.
				state.Messages = state.Messages[:len(state.Messages)-1]
				continue
			default:
				state.Status = models.RunStatusCompleted
				state.FinalAnswer = resp.Content
			}

			state.Iteration++
			r.checkpoint(state)
			continue
		}

		calls := fromLLMToolCalls(resp.ToolCalls)
		lastToolFailed = r.runToolFanout(ctx, state, steer, tracker, detector, calls, resp.Content)
		recentTools = append(recentTools, toolNames(calls)...)

		state.Iteration++
		r.checkpoint(state)
	}

	if state.Status == models.RunStatusRunning {
		state.Status = models.RunStatusMaxIterations
	}

	pruned, _ := contextmgr.Prune(r.est, state.Messages, r.cfg.PruneConfig)
	state.Messages = pruned

	ended := r.cfg.Now()
	state.EndedAt = &ended
	r.cfg.Scratchpad.LogComplete(state.FinalAnswer)
	r.cfg.Emitter.EmitComplete()

	return AgentResult{
		State:   *state,
		Success: state.Status == models.RunStatusCompleted,
		Error:   state.Error,
	}
}

// manageContext runs Compact (if the estimated token count has crossed the
// trigger ratio and the cooldown allows it) followed by Prune, mutating
// state.Messages in place.
func (r *Runner) manageContext(ctx context.Context, state *models.AgentState, cfg models.AgentConfig, cooldown *contextmgr.Cooldown) {
	cooldown.TickCooldown()

	contents := make([]string, len(state.Messages))
	for i, m := range state.Messages {
		contents[i] = m.Content
	}
	estimated := r.est.EstimateMessages(contents)

	if contextmgr.ShouldCompact(estimated, cfg.ContextWindow, r.cfg.CompactConfig, cooldown) {
		compacted, stats, err := contextmgr.Compact(ctx, r.est, r.cfg.Summarizer, state.Messages, r.cfg.CompactConfig)
		if err != nil {
			r.cfg.Logger.Warn("executor: compaction failed, cooling down", "error", err)
			cooldown.StartCompactCooldown(r.cfg.CompactConfig.CooldownIterations)
		} else {
			state.Messages = compacted
			if !contextmgr.CompactWasEffective(stats, r.cfg.CompactConfig) {
				cooldown.StartCompactCooldown(r.cfg.CompactConfig.CooldownIterations)
			}
		}
	}

	pruned, _ := contextmgr.Prune(r.est, state.Messages, r.cfg.PruneConfig)
	state.Messages = pruned
}

// runToolFanout executes resp's tool calls in parallel, folds their
// results back into state.Messages, runs stuck detection, and reports
// whether any call ended in error (for the router's escalate-on-failure
// signal).
func (r *Runner) runToolFanout(ctx context.Context, state *models.AgentState, steer *SteerQueue, tracker *DeferredCallTracker, detector *StuckDetector, calls []models.ToolCall, assistantContent string) bool {
	now := r.cfg.Now()
	state.Messages = append(state.Messages, models.Message{
		Role: models.RoleAssistant, Content: assistantContent, ToolCalls: calls, CreatedAt: now,
	})

	for _, tc := range calls {
		r.cfg.Emitter.EmitToolCallStart(tc.ID, tc.Name, string(tc.Arguments))
		r.cfg.Scratchpad.LogToolCall(tc.ID, tc.Name, tc.Arguments)
	}

	stopCancelPoll := r.pollCancelDuringFanout(steer)
	results := FanOut(ctx, r.cfg.Registry, r.active, calls, r.cfg.ToolExec, nil)
	stopCancelPoll()

	resultMsgs := FoldResults(results, tracker, r.cfg.ToolExec)
	anyFailed := false
	for i, rm := range resultMsgs {
		res := results[i]
		success := res.Err == nil && res.Output.Success
		if !success {
			anyFailed = true
		}
		r.cfg.Emitter.EmitToolCallResult(res.ToolCall.ID, res.ToolCall.Name, rm.Content, success)
		r.cfg.Scratchpad.LogToolResult(res.ToolCall.ID, res.ToolCall.Name, success, len(rm.Content))
	}
	state.Messages = append(state.Messages, resultMsgs...)

	for _, tc := range calls {
		count := detector.Record(tc.Name, argHash(tc.Arguments))
		if !detector.Fired(count) {
			continue
		}
		switch detector.Action {
		case StuckActionStop:
			state.Status = models.RunStatusFailed
			state.Error = StopError(tc.Name, count).Error()
		default:
			state.Messages = append(state.Messages, models.Message{
				Role: models.RoleSystem, Content: NudgeMessage(tc.Name, count), CreatedAt: r.cfg.Now(),
			})
		}
	}

	return anyFailed
}

// pollCancelDuringFanout launches a background poll that applies any
// CancelToolCall steer commands arriving while tool results are still
// draining; everything else is buffered for the next iteration's Drain.
// The returned stop function blocks until the poller has exited.
func (r *Runner) pollCancelDuringFanout(steer *SteerQueue) func() {
	done := make(chan struct{})
	stop := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				for _, m := range steer.DrainCancelOnly() {
					if m.Command.Kind == models.SteerCommandCancelToolCall {
						r.active.Abort(m.Command.ToolCallID)
					}
				}
			}
		}
	}()
	return func() {
		close(stop)
		<-done
	}
}

// applyPendingInputs drains the steer queue and applies each command,
// matching the apply-pending-inputs step of the loop: approval grammar
// resolution, plain user-update notes, interrupts, and cancellations of
// tool calls outside an active fan-out.
func (r *Runner) applyPendingInputs(state *models.AgentState, steer *SteerQueue, tracker *DeferredCallTracker, cfg models.AgentConfig) {
	for _, msg := range steer.Drain() {
		switch msg.Command.Kind {
		case models.SteerCommandMessage:
			if id, decision, reason, ok := ParseApprovalCommand(msg.Command.Instruction); ok {
				if tracker.Resolve(id, decision, reason) {
					continue
				}
			}
			state.Messages = append(state.Messages, models.Message{
				Role: models.RoleUser, Content: UserUpdateNote(msg.Command.Instruction), CreatedAt: r.cfg.Now(),
			})
		case models.SteerCommandInterrupt:
			state.Status = models.RunStatusInterrupted
			state.InterruptReason = msg.Command.Reason
		case models.SteerCommandCancelToolCall:
			r.active.Abort(msg.Command.ToolCallID)
		}
	}

	for _, call := range tracker.DrainResolved() {
		state.Messages = append(state.Messages, models.Message{
			Role:      models.RoleSystem,
			Content:   DescribeOutcome(call, cfg.MaxToolResultLength),
			CreatedAt: r.cfg.Now(),
		})
	}
}

func (r *Runner) checkpoint(state *models.AgentState) {
	snapshot := *state
	snapshot.Messages = append([]models.Message(nil), state.Messages...)
	go func() {
		if err := r.cfg.Checkpointer.Save(context.Background(), snapshot); err != nil {
			r.cfg.Logger.Warn("executor: checkpoint save failed", "execution_id", state.ExecutionID, "error", err)
		}
	}()
}

func (r *Runner) buildRequest(messages []models.Message, model string, cfg models.AgentConfig) llm.CompletionRequest {
	var system string
	var rest []models.Message
	for i, m := range messages {
		if i == 0 && m.Role == models.RoleSystem {
			system = m.Content
			continue
		}
		rest = append(rest, m)
	}

	req := llm.CompletionRequest{
		Model:     model,
		System:    system,
		Messages:  toLLMMessages(rest),
		Tools:     toLLMTools(r.cfg.Registry.Schemas()),
		MaxTokens: cfg.MaxOutputTokens,
	}
	if cfg.Temperature != nil {
		req.Temperature = cfg.Temperature
	}
	return req
}

// complete runs a non-streaming completion, or a streaming one with text
// deltas forwarded to the emitter when Streaming is enabled and the
// provider supports it.
func (r *Runner) complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	if !r.cfg.Streaming || !r.cfg.Provider.SupportsStreaming() {
		return r.cfg.Provider.Complete(ctx, req)
	}

	stream, err := r.cfg.Provider.CompleteStream(ctx, req)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	var chunks []llm.StreamChunk
	var resp llm.CompletionResponse
	for chunk := range stream {
		if chunk.Err != nil {
			return llm.CompletionResponse{}, chunk.Err
		}
		if chunk.TextDelta != "" {
			resp.Content += chunk.TextDelta
			r.cfg.Emitter.EmitTextDelta(chunk.TextDelta)
			r.cfg.Scratchpad.LogTextDelta(chunk.TextDelta)
		}
		chunks = append(chunks, chunk)
		if chunk.Done {
			resp.FinishReason = chunk.FinishReason
			resp.Usage = chunk.Usage
		}
	}
	resp.ToolCalls = llm.AccumulateToolCalls(chunks)
	return resp, nil
}

func lastMessage(messages []models.Message) models.Message {
	if len(messages) == 0 {
		return models.Message{}
	}
	return messages[len(messages)-1]
}

func toolNames(calls []models.ToolCall) []string {
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}
	return names
}

func estimateRequestChars(req llm.CompletionRequest) int {
	total := len(req.System)
	for _, m := range req.Messages {
		total += len(m.Content)
	}
	return total
}

func toLLMMessages(messages []models.Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, llm.Message{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCalls:  toLLMToolCalls(m.ToolCalls),
			ToolCallID: m.ToolCallID,
		})
	}
	return out
}

func fromLLMToolCalls(calls []llm.ToolCall) []models.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]models.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = models.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}
	return out
}

func toLLMToolCalls(calls []models.ToolCall) []llm.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, len(calls))
	for i, c := range calls {
		out[i] = llm.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}
	return out
}

func toLLMTools(schemas []Schema) []llm.ToolSpec {
	out := make([]llm.ToolSpec, len(schemas))
	for i, s := range schemas {
		out[i] = llm.ToolSpec{Name: s.Name, Description: s.Description, Parameters: s.Parameters}
	}
	return out
}
