package executor

// Emitter streams incremental progress from a single run to a caller: text
// deltas as the model generates them, tool-call lifecycle markers, and a
// terminal completion signal. Implementations must tolerate calls from the
// executor's own goroutine only (the loop never emits concurrently).
type Emitter interface {
	EmitTextDelta(delta string)
	EmitToolCallStart(id, name string, argsJSON string)
	EmitToolCallResult(id, name, result string, success bool)
	EmitComplete()
}

// NullEmitter discards every event; the default for non-streaming runs.
type NullEmitter struct{}

func (NullEmitter) EmitTextDelta(string)                       {}
func (NullEmitter) EmitToolCallStart(string, string, string)   {}
func (NullEmitter) EmitToolCallResult(string, string, string, bool) {}
func (NullEmitter) EmitComplete()                              {}

// ChannelEvent is one event delivered over a ChannelEmitter's channel.
type ChannelEvent struct {
	Kind       string // "text_delta" | "tool_call_start" | "tool_call_result" | "complete"
	TextDelta  string
	ToolCallID string
	ToolName   string
	ArgsJSON   string
	Result     string
	Success    bool
}

// ChannelEmitter forwards every event onto a buffered channel, for callers
// that want to relay a run's progress over a transport (HTTP SSE,
// WebSocket, IPC) without the executor knowing anything about transports.
type ChannelEmitter struct {
	Events chan ChannelEvent
}

// NewChannelEmitter returns an emitter backed by a channel of the given
// buffer size.
func NewChannelEmitter(buffer int) *ChannelEmitter {
	return &ChannelEmitter{Events: make(chan ChannelEvent, buffer)}
}

func (e *ChannelEmitter) EmitTextDelta(delta string) {
	e.Events <- ChannelEvent{Kind: "text_delta", TextDelta: delta}
}

func (e *ChannelEmitter) EmitToolCallStart(id, name, argsJSON string) {
	e.Events <- ChannelEvent{Kind: "tool_call_start", ToolCallID: id, ToolName: name, ArgsJSON: argsJSON}
}

func (e *ChannelEmitter) EmitToolCallResult(id, name, result string, success bool) {
	e.Events <- ChannelEvent{Kind: "tool_call_result", ToolCallID: id, ToolName: name, Result: result, Success: success}
}

func (e *ChannelEmitter) EmitComplete() {
	e.Events <- ChannelEvent{Kind: "complete"}
	close(e.Events)
}
