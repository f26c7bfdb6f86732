package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/user/datachat/internal/insight"
	"github.com/user/datachat/internal/store"
	"github.com/user/datachat/internal/tools"
	"github.com/user/datachat/pkg/llm"
)

// DefaultMaxSteps bounds the number of model round-trips per request. It is
// the loop's only circuit breaker; there is no external cancellation signal
// beyond the request context handed to the provider.
const DefaultMaxSteps = 10

// Rememberer records user rows surfaced during a conversation. Writes are
// best-effort: the loop swallows failures.
type Rememberer interface {
	Remember(sessionID string, rows []store.Row) error
}

// Loop drives one request's conversation with the model: it requests turns,
// dispatches tool calls, and streams progress events to the caller.
type Loop struct {
	provider     llm.Provider
	registry     *tools.Registry
	stabilizer   *Stabilizer
	memory       Rememberer
	systemPrompt string
	maxSteps     int
}

// New creates a Loop. memory may be nil. maxSteps <= 0 selects
// DefaultMaxSteps.
func New(provider llm.Provider, registry *tools.Registry, stabilizer *Stabilizer, memory Rememberer, systemPrompt string, maxSteps int) *Loop {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return &Loop{
		provider:     provider,
		registry:     registry,
		stabilizer:   stabilizer,
		memory:       memory,
		systemPrompt: systemPrompt,
		maxSteps:     maxSteps,
	}
}

// vizMarkers are the visualization-intent keywords the chart guard looks
// for in the latest user message.
var vizMarkers = []string{
	"chart", "graph", "plot", "visual", "visualize", "visualise",
	"bar chart", "line chart", "trend", "timeseries", "show a chart", "draw",
}

const chartSkippedReason = "Charts are generated on request. Say 'show a chart' or specify a chart type to visualize this."

// Run starts the loop for one request and returns its event sequence. The
// channel is closed after the final event; the goroutine producing it is
// the channel's only writer.
func (l *Loop) Run(ctx context.Context, history []llm.Message, sessionID string) <-chan Event {
	events := make(chan Event, 16)
	go func() {
		defer close(events)
		l.run(ctx, history, sessionID, events)
	}()
	return events
}

func (l *Loop) run(ctx context.Context, history []llm.Message, sessionID string, events chan<- Event) {
	conversation := make([]llm.Message, 0, len(history)+1)
	conversation = append(conversation, llm.SystemMessage(l.systemPrompt))
	conversation = append(conversation, history...)

	lastUser := latestUserMessage(history)
	toolSchemas := l.registry.AsLLMTools()

	for step := 0; step < l.maxSteps; step++ {
		resp, err := l.provider.Complete(ctx, conversation, toolSchemas)
		if err != nil {
			// A service failure is terminal for the request, not retried.
			emit(ctx, events, newFinal(fmt.Sprintf("Model error: %v", err)))
			return
		}

		if len(resp.ToolCalls) == 0 {
			emit(ctx, events, newFinal(resp.Content))
			return
		}

		conversation = append(conversation, llm.AssistantToolCalls(resp.Content, resp.ToolCalls))

		// Tool calls run strictly in the order the model returned them;
		// later calls may depend on conversation state left by earlier ones.
		for _, tc := range resp.ToolCalls {
			name := tc.Function.Name
			args := parseArgs(tc.Function.Arguments)
			if !emit(ctx, events, newToolCall(name, args)) {
				return
			}

			updated := l.stabilizer.Stabilize(name, args)
			if !reflect.DeepEqual(updated, args) {
				if !emit(ctx, events, newQueryUpdate(name, args, updated)) {
					return
				}
			}

			if name == tools.ChartName && !hasVizIntent(lastUser) {
				skipped := map[string]any{"skipped": true, "reason": chartSkippedReason}
				if !emit(ctx, events, newToolResult(name, skipped)) {
					return
				}
				// The API contract still requires one tool turn per call.
				conversation = append(conversation, llm.ToolResult(tc.ID, marshalResult(skipped)))
				continue
			}

			result := l.dispatch(ctx, name, updated)
			if !emit(ctx, events, newToolResult(name, result)) {
				return
			}
			l.rememberRows(sessionID, result)
			conversation = append(conversation, llm.ToolResult(tc.ID, marshalResult(result)))

			// Charts always end the conversation in one step.
			if name == tools.ChartName {
				if spec := chartPayload(result); spec != nil {
					emit(ctx, events, FinalEvent{Type: "final", Text: "Chart ready.", ChartJS: spec})
					return
				}
			}
		}
	}

	emit(ctx, events, newFinal("Max steps reached. Refine your question."))
}

// emit delivers an event unless the request context ends first. A false
// return means the consumer is gone; the loop must stop so its goroutine
// does not stay parked on a send nobody reads.
func emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// dispatch executes a tool, converting every failure mode into an
// error-shaped payload. Tool failures are never fatal to the loop.
func (l *Loop) dispatch(ctx context.Context, name string, args map[string]any) (result any) {
	tool, ok := l.registry.Get(name)
	if !ok {
		return map[string]any{"error": fmt.Sprintf("Unknown tool %s", name)}
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("tool panicked", "tool", name, "panic", r)
			result = map[string]any{"error": fmt.Sprint(r)}
		}
	}()

	raw, err := json.Marshal(args)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	out, err := tool.Execute(ctx, raw)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	return out
}

// rememberRows forwards user rows from insight results to session memory.
// Failures are logged and swallowed.
func (l *Loop) rememberRows(sessionID string, result any) {
	if l.memory == nil {
		return
	}
	ins, ok := result.(*insight.Insight)
	if !ok || len(ins.Rows) == 0 {
		return
	}
	if err := l.memory.Remember(sessionID, ins.Rows); err != nil {
		slog.Warn("session memory write failed", "session_id", sessionID, "error", err)
	}
}

// parseArgs decodes raw tool arguments; malformed JSON yields empty args.
func parseArgs(raw json.RawMessage) map[string]any {
	var args map[string]any
	if len(raw) == 0 || json.Unmarshal(raw, &args) != nil || args == nil {
		return map[string]any{}
	}
	return args
}

func marshalResult(result any) string {
	data, err := json.Marshal(result)
	if err != nil {
		data, _ = json.Marshal(map[string]any{"error": err.Error()})
	}
	return string(data)
}

// chartPayload extracts the chart spec from a chart tool result, if any.
func chartPayload(result any) any {
	m, ok := result.(map[string]any)
	if !ok {
		return nil
	}
	return m["chartjs"]
}

// latestUserMessage returns the content of the most recent user turn.
func latestUserMessage(history []llm.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "user" {
			return history[i].Content
		}
	}
	return ""
}

// hasVizIntent reports whether the message shows explicit visualization
// intent.
func hasVizIntent(message string) bool {
	lower := strings.ToLower(message)
	for _, marker := range vizMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
