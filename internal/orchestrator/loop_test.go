package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/user/datachat/internal/engine"
	"github.com/user/datachat/internal/insight"
	"github.com/user/datachat/internal/store"
	"github.com/user/datachat/internal/tools"
	"github.com/user/datachat/pkg/llm"
)

// mockProvider returns pre-configured responses.
type mockProvider struct {
	mu        sync.Mutex
	responses []*llm.Response
	err       error
	callCount int
}

func (m *mockProvider) Complete(_ context.Context, messages []llm.Message, _ []llm.Tool) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.callCount
	m.callCount++
	if m.err != nil {
		return nil, m.err
	}
	if idx < len(m.responses) {
		return m.responses[idx], nil
	}
	return &llm.Response{Content: "fallback"}, nil
}

func (m *mockProvider) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

type mockRememberer struct {
	mu       sync.Mutex
	sessions []string
	rows     [][]store.Row
}

func (m *mockRememberer) Remember(sessionID string, rows []store.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, sessionID)
	m.rows = append(m.rows, rows)
	return nil
}

func fixtureStore() *store.Store {
	users := &store.Table{
		Name:    "users",
		Columns: []string{"id", "email", "name", "location"},
		Rows: []store.Row{
			{"id": "u1", "email": "ann@example.com", "name": "Ann", "location": "Paris, France"},
			{"id": "u2", "email": "bob@example.com", "name": "Bob", "location": "Lyon, France"},
		},
	}
	events := &store.Table{
		Name:    "events",
		Columns: []string{"id", "user_id", "event_type", "clicks", "timestamp"},
		Rows: []store.Row{
			{"id": "e1", "user_id": "u1", "event_type": "page_view", "clicks": float64(4), "timestamp": "2025-06-01T10:00:00Z"},
			{"id": "e2", "user_id": "u2", "event_type": "product_click", "clicks": float64(7), "timestamp": "2025-06-02T11:00:00Z"},
		},
	}
	purchases := &store.Table{
		Name:    "purchases",
		Columns: []string{"id", "user_id", "total_amount", "purchased_at"},
		Rows: []store.Row{
			{"id": "p1", "user_id": "u1", "total_amount": float64(120), "purchased_at": "2025-06-01T10:05:00Z"},
			{"id": "p2", "user_id": "u2", "total_amount": float64(300), "purchased_at": "2025-06-02T11:30:00Z"},
		},
	}
	return store.New(users, events, purchases)
}

func newTestLoop(provider llm.Provider, memory Rememberer) *Loop {
	st := fixtureStore()
	eng := engine.New(st)
	summarizer := insight.New(st, eng)

	registry := tools.NewRegistry()
	registry.Register(tools.NewChart(eng))
	registry.Register(tools.NewSQLTutor(st))
	registry.Register(tools.NewBusinessInsight(summarizer))
	registry.Register(tools.NewStakeholder())
	registry.RegisterInternal(tools.NewAnalysisPlan(eng))

	return New(provider, registry, NewStabilizer(st), memory, "You are a data analyst.", 0)
}

func collect(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func toolCall(id, name, args string) llm.ToolCall {
	return llm.ToolCall{
		ID:       id,
		Type:     "function",
		Function: llm.FunctionCall{Name: name, Arguments: json.RawMessage(args)},
	}
}

func finalEvent(t *testing.T, events []Event) FinalEvent {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events emitted")
	}
	final, ok := events[len(events)-1].(FinalEvent)
	if !ok {
		t.Fatalf("last event is %T, want FinalEvent", events[len(events)-1])
	}
	return final
}

func TestLoopPlainAnswer(t *testing.T) {
	provider := &mockProvider{responses: []*llm.Response{{Content: "Revenue is up."}}}
	loop := newTestLoop(provider, nil)

	events := collect(loop.Run(context.Background(), []llm.Message{llm.UserMessage("how is revenue?")}, "s1"))
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	final := finalEvent(t, events)
	if final.Text != "Revenue is up." {
		t.Errorf("unexpected final text %q", final.Text)
	}
	if provider.calls() != 1 {
		t.Errorf("expected 1 model call, got %d", provider.calls())
	}
}

func TestLoopProviderErrorIsTerminal(t *testing.T) {
	provider := &mockProvider{err: context.DeadlineExceeded}
	loop := newTestLoop(provider, nil)

	events := collect(loop.Run(context.Background(), []llm.Message{llm.UserMessage("hi")}, "s1"))
	final := finalEvent(t, events)
	if !strings.HasPrefix(final.Text, "Model error:") {
		t.Errorf("expected model error final, got %q", final.Text)
	}
	if provider.calls() != 1 {
		t.Errorf("expected no retry, got %d calls", provider.calls())
	}
}

func TestLoopStepBudget(t *testing.T) {
	// Every turn requests another tool call; the loop must stop after
	// exactly ten round-trips without an eleventh.
	responses := make([]*llm.Response, 0, 15)
	for i := 0; i < 15; i++ {
		responses = append(responses, &llm.Response{
			ToolCalls: []llm.ToolCall{toolCall("c1", "sql_tutor", `{"topic":"joins"}`)},
		})
	}
	provider := &mockProvider{responses: responses}
	loop := newTestLoop(provider, nil)

	events := collect(loop.Run(context.Background(), []llm.Message{llm.UserMessage("teach me sql")}, "s1"))
	final := finalEvent(t, events)
	if !strings.Contains(final.Text, "Max steps reached") {
		t.Errorf("expected budget-exhausted final, got %q", final.Text)
	}
	if provider.calls() != 10 {
		t.Errorf("expected exactly 10 model calls, got %d", provider.calls())
	}
}

func TestLoopToolErrorNotFatal(t *testing.T) {
	// A failing tool call becomes an error payload; the conversation
	// continues and the next turn can still answer.
	provider := &mockProvider{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall("c1", tools.ChartName,
			`{"table":"users","kind":"bar","x":"location","y":"name","op":"sum"}`)}},
		{Content: "That column is not numeric."},
	}}
	loop := newTestLoop(provider, nil)

	events := collect(loop.Run(context.Background(),
		[]llm.Message{llm.UserMessage("show me a bar chart of names")}, "s1"))

	var sawError bool
	for _, ev := range events {
		if tr, ok := ev.(ToolResultEvent); ok {
			if m, ok := tr.Result.(map[string]any); ok {
				if _, present := m["error"]; present {
					sawError = true
				}
			}
		}
	}
	if !sawError {
		t.Error("expected an error-shaped tool result")
	}
	final := finalEvent(t, events)
	if final.Text != "That column is not numeric." {
		t.Errorf("unexpected final text %q", final.Text)
	}
	if provider.calls() != 2 {
		t.Errorf("expected 2 model calls, got %d", provider.calls())
	}
}

func TestLoopUnknownTool(t *testing.T) {
	provider := &mockProvider{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall("c1", "nuke_database", `{}`)}},
		{Content: "done"},
	}}
	loop := newTestLoop(provider, nil)

	events := collect(loop.Run(context.Background(), []llm.Message{llm.UserMessage("hi")}, "s1"))
	var result map[string]any
	for _, ev := range events {
		if tr, ok := ev.(ToolResultEvent); ok {
			result, _ = tr.Result.(map[string]any)
		}
	}
	if result == nil || result["error"] != "Unknown tool nuke_database" {
		t.Errorf("unexpected tool result %v", result)
	}
}

func TestLoopMalformedArgsBecomeEmpty(t *testing.T) {
	provider := &mockProvider{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall("c1", "sql_tutor", `{not json`)}},
		{Content: "done"},
	}}
	loop := newTestLoop(provider, nil)

	events := collect(loop.Run(context.Background(), []llm.Message{llm.UserMessage("hi")}, "s1"))
	var call ToolCallEvent
	for _, ev := range events {
		if tc, ok := ev.(ToolCallEvent); ok {
			call = tc
		}
	}
	if call.Name != "sql_tutor" {
		t.Fatalf("expected sql_tutor call event, got %q", call.Name)
	}
	if len(call.Args) != 0 {
		t.Errorf("expected empty args, got %v", call.Args)
	}
}

func TestLoopChartGuardSkips(t *testing.T) {
	provider := &mockProvider{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall("c1", tools.ChartName,
			`{"table":"users","kind":"bar","x":"location","y":"id","op":"count"}`)}},
		{Content: "Here is the users table instead."},
	}}
	loop := newTestLoop(provider, nil)

	events := collect(loop.Run(context.Background(),
		[]llm.Message{llm.UserMessage("show me the users table")}, "s1"))

	var skipped map[string]any
	for _, ev := range events {
		if tr, ok := ev.(ToolResultEvent); ok {
			skipped, _ = tr.Result.(map[string]any)
		}
	}
	if skipped == nil || skipped["skipped"] != true {
		t.Fatalf("expected skipped tool result, got %v", skipped)
	}
	if _, ok := skipped["reason"].(string); !ok {
		t.Error("expected a reason string on the skipped result")
	}
	final := finalEvent(t, events)
	if final.ChartJS != nil {
		t.Error("skipped chart must not finalize with a chart payload")
	}
}

func TestLoopChartExecutesAndFinalizes(t *testing.T) {
	provider := &mockProvider{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall("c1", tools.ChartName,
			`{"table":"events","kind":"bar","x":"event_type","y":"clicks","op":"sum"}`)}},
	}}
	loop := newTestLoop(provider, nil)

	events := collect(loop.Run(context.Background(),
		[]llm.Message{llm.UserMessage("show me a bar chart of clicks")}, "s1"))

	final := finalEvent(t, events)
	if final.Text != "Chart ready." {
		t.Errorf("unexpected final text %q", final.Text)
	}
	if final.ChartJS == nil {
		t.Fatal("expected a chart payload on the final event")
	}
	// A chart completion never takes a second model round-trip.
	if provider.calls() != 1 {
		t.Errorf("expected 1 model call, got %d", provider.calls())
	}
}

func TestLoopQueryUpdateOnStabilizedArgs(t *testing.T) {
	provider := &mockProvider{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall("c1", tools.ChartName,
			`{"table":"orders","kind":"BAR","x":"event_type","y":"clicks","op":"SUM","limit":"9999"}`)}},
	}}
	loop := newTestLoop(provider, nil)

	events := collect(loop.Run(context.Background(),
		[]llm.Message{llm.UserMessage("plot clicks by event type")}, "s1"))

	var update QueryUpdateEvent
	var found bool
	for _, ev := range events {
		if qu, ok := ev.(QueryUpdateEvent); ok {
			update = qu
			found = true
		}
	}
	if !found {
		t.Fatal("expected a query_update event")
	}
	if update.UpdatedArgs["table"] != "events" {
		t.Errorf("expected table fallback to events, got %v", update.UpdatedArgs["table"])
	}
	if update.UpdatedArgs["kind"] != "bar" || update.UpdatedArgs["op"] != "sum" {
		t.Errorf("expected lowercased kind/op, got %v/%v", update.UpdatedArgs["kind"], update.UpdatedArgs["op"])
	}
	if update.UpdatedArgs["limit"] != float64(200) {
		t.Errorf("expected limit clamped to 200, got %v", update.UpdatedArgs["limit"])
	}
	if update.OriginalArgs["table"] != "orders" {
		t.Errorf("original args must be preserved, got %v", update.OriginalArgs["table"])
	}
}

func TestLoopRemembersInsightRows(t *testing.T) {
	provider := &mockProvider{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{toolCall("c1", "business_insight", `{"question":"who is the top buyer"}`)}},
		{Content: "Bob is the top buyer."},
	}}
	memory := &mockRememberer{}
	loop := newTestLoop(provider, memory)

	events := collect(loop.Run(context.Background(),
		[]llm.Message{llm.UserMessage("who is the top buyer")}, "session-42"))

	var direct string
	for _, ev := range events {
		if tr, ok := ev.(ToolResultEvent); ok {
			if ins, ok := tr.Result.(*insight.Insight); ok {
				direct = ins.DirectAnswer
			}
		}
	}
	if !strings.Contains(direct, "Bob") || !strings.Contains(direct, "$300") {
		t.Errorf("unexpected direct answer %q", direct)
	}

	memory.mu.Lock()
	defer memory.mu.Unlock()
	if len(memory.sessions) != 1 || memory.sessions[0] != "session-42" {
		t.Fatalf("expected one memory write for session-42, got %v", memory.sessions)
	}
	if len(memory.rows[0]) == 0 {
		t.Error("expected remembered rows")
	}
}

func TestLoopStopsWhenStreamIsAbandoned(t *testing.T) {
	// One model turn whose events overflow the channel buffer, so the
	// producer is parked mid-turn when the consumer walks away.
	var calls []llm.ToolCall
	for i := 0; i < 12; i++ {
		calls = append(calls, toolCall(fmt.Sprintf("c%d", i), "sql_tutor", `{"topic":"joins"}`))
	}
	provider := &mockProvider{responses: []*llm.Response{{ToolCalls: calls}}}
	loop := newTestLoop(provider, nil)

	ctx, cancel := context.WithCancel(context.Background())
	events := loop.Run(ctx, []llm.Message{llm.UserMessage("teach me joins")}, "s1")

	if _, ok := <-events; !ok {
		t.Fatal("stream closed before any event")
	}
	cancel()
	// Give the blocked producer a chance to observe cancellation while the
	// buffer is still full.
	time.Sleep(50 * time.Millisecond)

	var drained []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				goto closed
			}
			drained = append(drained, ev)
		case <-timeout:
			t.Fatal("event channel never closed after the consumer cancelled")
		}
	}
closed:
	for _, ev := range drained {
		if _, ok := ev.(FinalEvent); ok {
			t.Error("loop kept running after cancellation and emitted a final event")
		}
	}
	if provider.calls() != 1 {
		t.Errorf("expected the loop to stop after 1 model call, got %d", provider.calls())
	}
}
