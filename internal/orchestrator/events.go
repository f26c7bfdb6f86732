package orchestrator

// Event is one entry in the loop's outbound event sequence. Exactly four
// kinds exist; the transport marshals each as a single JSON object.
type Event interface {
	eventType() string
}

// ToolCallEvent reports that the model requested a tool with raw arguments.
type ToolCallEvent struct {
	Type string         `json:"type"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// QueryUpdateEvent reports that argument stabilization changed a tool call.
type QueryUpdateEvent struct {
	Type         string         `json:"type"`
	Tool         string         `json:"tool"`
	OriginalArgs map[string]any `json:"original_args"`
	UpdatedArgs  map[string]any `json:"updated_args"`
}

// ToolResultEvent reports the outcome of executing (or skipping) a tool.
type ToolResultEvent struct {
	Type   string `json:"type"`
	Name   string `json:"name"`
	Result any    `json:"result"`
}

// FinalEvent is the terminal answer for the request. ChartJS is present only
// when a chart completion ended the conversation.
type FinalEvent struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	ChartJS any    `json:"chartjs,omitempty"`
}

func (ToolCallEvent) eventType() string    { return "tool_call" }
func (QueryUpdateEvent) eventType() string { return "query_update" }
func (ToolResultEvent) eventType() string  { return "tool_result" }
func (FinalEvent) eventType() string       { return "final" }

func newToolCall(name string, args map[string]any) ToolCallEvent {
	return ToolCallEvent{Type: "tool_call", Name: name, Args: args}
}

func newQueryUpdate(tool string, original, updated map[string]any) QueryUpdateEvent {
	return QueryUpdateEvent{Type: "query_update", Tool: tool, OriginalArgs: original, UpdatedArgs: updated}
}

func newToolResult(name string, result any) ToolResultEvent {
	return ToolResultEvent{Type: "tool_result", Name: name, Result: result}
}

func newFinal(text string) FinalEvent {
	return FinalEvent{Type: "final", Text: text}
}
