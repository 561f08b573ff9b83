package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements Provider against OpenAI's chat completions API
// via the go-openai SDK. Grounded on the teacher's
// internal/agent/providers/openai.go, adapted from the teacher's
// CompletionMessage/CompletionChunk shapes to this package's provider-
// agnostic Message/StreamChunk types.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider constructs a client bound to a default model.
func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	return &OpenAIProvider{client: openai.NewClient(apiKey), model: model}
}

func (p *OpenAIProvider) Name() string            { return "openai" }
func (p *OpenAIProvider) Model() string           { return p.model }
func (p *OpenAIProvider) SupportsStreaming() bool  { return true }

func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	chunks, err := p.CompleteStream(ctx, req)
	if err != nil {
		return CompletionResponse{}, err
	}

	var resp CompletionResponse
	var collected []StreamChunk
	for c := range chunks {
		if c.Err != nil {
			return CompletionResponse{}, c.Err
		}
		collected = append(collected, c)
		resp.Content += c.TextDelta
		if c.Done {
			resp.FinishReason = c.FinishReason
			resp.Usage = c.Usage
		}
	}
	resp.ToolCalls = AccumulateToolCalls(collected)
	return resp, nil
}

func (p *OpenAIProvider) CompleteStream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	out := make(chan StreamChunk)

	msgs, err := p.convertMessages(req)
	if err != nil {
		return nil, err
	}

	apiReq := openai.ChatCompletionRequest{
		Model:     p.modelOrDefault(req.Model),
		Messages:  msgs,
		MaxTokens: req.MaxTokens,
		Stream:    true,
	}
	if req.Temperature != nil {
		apiReq.Temperature = float32(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		apiReq.Tools = p.convertTools(req.Tools)
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, apiReq)
	if err != nil {
		return nil, fmt.Errorf("llm: openai stream create: %w", err)
	}

	go func() {
		defer close(out)
		defer stream.Close()
		p.pump(ctx, stream, out)
	}()

	return out, nil
}

func (p *OpenAIProvider) pump(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- StreamChunk) {
	toolArgsSeen := make(map[string]bool)
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			out <- StreamChunk{Done: true, FinishReason: FinishStop}
			return
		}
		if err != nil {
			select {
			case out <- StreamChunk{Err: fmt.Errorf("llm: openai stream recv: %w", err)}:
			case <-ctx.Done():
			}
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if choice.Delta.Content != "" {
			out <- StreamChunk{TextDelta: choice.Delta.Content}
		}
		for _, tc := range choice.Delta.ToolCalls {
			id := tc.ID
			if id == "" && tc.Index != nil {
				id = fmt.Sprintf("call_%d", *tc.Index)
			}
			chunk := StreamChunk{ToolCallID: id, ArgumentsDelta: tc.Function.Arguments}
			if !toolArgsSeen[id] {
				chunk.ToolCallName = tc.Function.Name
				toolArgsSeen[id] = true
			}
			out <- chunk
		}
		if choice.FinishReason != "" {
			reason := FinishStop
			switch choice.FinishReason {
			case openai.FinishReasonLength:
				reason = FinishMaxTokens
			case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
				reason = FinishToolCalls
			}
			usage := Usage{}
			if resp.Usage != nil {
				usage = Usage{PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens, TotalTokens: resp.Usage.TotalTokens}
			}
			out <- StreamChunk{Done: true, FinishReason: reason, Usage: usage}
			return
		}
	}
}

func (p *OpenAIProvider) modelOrDefault(model string) string {
	if model != "" {
		return model
	}
	return p.model
}

func (p *OpenAIProvider) convertMessages(req CompletionRequest) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		msg := openai.ChatCompletionMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		out = append(out, msg)
	}
	return out, nil
}

func (p *OpenAIProvider) convertTools(tools []ToolSpec) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		var params map[string]any
		_ = json.Unmarshal(t.Parameters, &params)
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
