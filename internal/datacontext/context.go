// Package datacontext assembles the system prompt for the agent loop,
// embedding a token-budgeted snapshot of the demo data so the model can
// answer schema questions without a tool call.
package datacontext

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/datachat/internal/engine"
	"github.com/user/datachat/internal/store"
)

const instructions = `Understand the user's question and use the available tools appropriately:
- business_insight: Prefer calling this directly with {question} to compute a quick summary and direct answer from in-memory data (users/events/purchases).
- chartjs_data: Only when the user explicitly asks for a chart/graph/visualization; returns a Chart.js-ready spec.
- sql_tutor: Only if the user asks how to write SQL.
- stakeholder_suggest: Optionally after you've answered, if follow-ups make sense.
Do not use or request 'run_analysis_plan'. Keep answers short and final after one or two tool calls.`

const (
	sampleRowsPerTable = 25
	topK               = 10
)

// Builder renders system prompts under a token budget.
type Builder struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
}

// New creates a Builder. The model name selects the tokenizer; unknown
// models fall back to cl100k_base.
func New(model string, maxTokens int) (*Builder, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Builder{tokenizer: enc, maxTokens: maxTokens}, nil
}

func (b *Builder) countTokens(text string) int {
	return len(b.tokenizer.Encode(text, nil, nil))
}

// SystemPrompt renders the fixed instructions followed by as much data
// context as the token budget allows. Sections are appended in priority
// order: counts and schema first, helpful aggregates, then table samples.
func (b *Builder) SystemPrompt(st *store.Store, eng *engine.Engine) string {
	var sb strings.Builder
	sb.WriteString(instructions)
	used := b.countTokens(instructions)

	for _, section := range b.sections(st, eng) {
		cost := b.countTokens(section)
		if used+cost > b.maxTokens {
			continue
		}
		sb.WriteString("\n\n")
		sb.WriteString(section)
		used += cost
	}
	return sb.String()
}

func (b *Builder) sections(st *store.Store, eng *engine.Engine) []string {
	var sections []string

	overview := map[string]any{
		"counts": st.Counts(),
		"schema": st.Schema(),
	}
	if s, ok := renderSection("Data overview", overview); ok {
		sections = append(sections, s)
	}

	if rows, ok := topAggregate(eng, st, "purchases", "total_amount"); ok {
		if s, ok := renderSection("Top buyers by revenue", rows); ok {
			sections = append(sections, s)
		}
	}
	if rows, ok := topAggregate(eng, st, "events", "clicks"); ok {
		if s, ok := renderSection("Top users by clicks", rows); ok {
			sections = append(sections, s)
		}
	}

	for _, name := range st.Names() {
		t, _ := st.Table(name)
		n := len(t.Rows)
		if n > sampleRowsPerTable {
			n = sampleRowsPerTable
		}
		if s, ok := renderSection("Sample rows: "+name, t.Rows[:n]); ok {
			sections = append(sections, s)
		}
	}
	return sections
}

// topAggregate computes sum(metric) grouped by user_id, highest first.
func topAggregate(eng *engine.Engine, st *store.Store, table, metric string) ([]store.Row, bool) {
	t, ok := st.Table(table)
	if !ok || len(t.Rows) == 0 || !t.HasColumn(metric) {
		return nil, false
	}
	limit := topK
	result, err := eng.Run(engine.Plan{
		Source:  table,
		GroupBy: []string{"user_id"},
		Metrics: []engine.MetricSpec{{Column: metric, Op: "sum", Alias: metric}},
		OrderBy: []engine.OrderSpec{{Column: metric, Dir: "desc"}},
		Limit:   &limit,
	})
	if err != nil {
		return nil, false
	}
	return result.Rows, true
}

func renderSection(title string, v any) (string, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return fmt.Sprintf("## %s\n%s", title, data), true
}
