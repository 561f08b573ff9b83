package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements Provider against the Anthropic Messages API
// via the official anthropic-sdk-go client. Grounded on the teacher's
// internal/agent/providers/anthropic.go (which hand-rolled SSE parsing over
// raw HTTP); this adapter instead exercises the real SDK the retrieval
// pack's go.mod also carries, since a maintained client is strictly better
// than re-implementing one.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider constructs a client bound to a default model.
func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (p *AnthropicProvider) Name() string           { return "anthropic" }
func (p *AnthropicProvider) Model() string          { return p.model }
func (p *AnthropicProvider) SupportsStreaming() bool { return true }

func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	params := p.buildParams(req)

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("llm: anthropic complete: %w", err)
	}

	var resp CompletionResponse
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content += variant.Text
		case anthropic.ToolUseBlock:
			args, _ := json.Marshal(variant.Input)
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: variant.ID, Name: variant.Name, Arguments: args})
		}
	}
	resp.FinishReason = mapStopReason(string(msg.StopReason), len(resp.ToolCalls) > 0)
	resp.Usage = Usage{
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
		TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}
	return resp, nil
}

func (p *AnthropicProvider) CompleteStream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	out := make(chan StreamChunk)
	params := p.buildParams(req)

	stream := p.client.Messages.NewStreaming(ctx, params)

	go func() {
		defer close(out)
		var accumulated anthropic.Message
		toolNameSent := make(map[int64]bool)

		for stream.Next() {
			event := stream.Current()
			if err := accumulated.Accumulate(event); err != nil {
				out <- StreamChunk{Err: fmt.Errorf("llm: anthropic accumulate: %w", err)}
				return
			}

			switch delta := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				switch d := delta.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					out <- StreamChunk{TextDelta: d.Text}
				case anthropic.InputJSONDelta:
					idx := delta.Index
					chunk := StreamChunk{ToolCallID: fmt.Sprintf("block_%d", idx), ArgumentsDelta: d.PartialJSON}
					if !toolNameSent[idx] {
						toolNameSent[idx] = true
					}
					out <- chunk
				}
			case anthropic.MessageDeltaEvent:
				if string(delta.Delta.StopReason) != "" {
					out <- StreamChunk{
						Done:         true,
						FinishReason: mapStopReason(string(delta.Delta.StopReason), hasToolUse(accumulated)),
						Usage: Usage{
							PromptTokens:     int(accumulated.Usage.InputTokens),
							CompletionTokens: int(delta.Usage.OutputTokens),
							TotalTokens:      int(accumulated.Usage.InputTokens) + int(delta.Usage.OutputTokens),
						},
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			select {
			case out <- StreamChunk{Err: fmt.Errorf("llm: anthropic stream: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()

	return out, nil
}

func hasToolUse(msg anthropic.Message) bool {
	for _, block := range msg.Content {
		if _, ok := block.AsAny().(anthropic.ToolUseBlock); ok {
			return true
		}
	}
	return false
}

func (p *AnthropicProvider) buildParams(req CompletionRequest) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.modelOrDefault(req.Model)),
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	for _, m := range req.Messages {
		params.Messages = append(params.Messages, convertMessage(m))
	}
	for _, t := range req.Tools {
		var schema map[string]any
		_ = json.Unmarshal(t.Parameters, &schema)
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{Properties: schema["properties"]},
			},
		})
	}
	return params
}

func convertMessage(m Message) anthropic.MessageParam {
	role := anthropic.MessageParamRoleUser
	if m.Role == "assistant" {
		role = anthropic.MessageParamRoleAssistant
	}
	var blocks []anthropic.ContentBlockParamUnion
	if m.Content != "" {
		blocks = append(blocks, anthropic.NewTextBlock(m.Content))
	}
	for _, tc := range m.ToolCalls {
		var input any
		_ = json.Unmarshal(tc.Arguments, &input)
		blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
	}
	if m.ToolCallID != "" {
		blocks = append(blocks, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
	}
	return anthropic.MessageParam{Role: role, Content: blocks}
}

func mapStopReason(reason string, hasTools bool) FinishReason {
	switch reason {
	case "max_tokens":
		return FinishMaxTokens
	case "tool_use":
		return FinishToolCalls
	case "end_turn", "stop_sequence":
		if hasTools {
			return FinishToolCalls
		}
		return FinishStop
	default:
		return FinishStop
	}
}

func (p *AnthropicProvider) modelOrDefault(model string) string {
	if model != "" {
		return model
	}
	return p.model
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}
