package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/datachat/internal/engine"
	"github.com/user/datachat/internal/store"
)

func toolStore() *store.Store {
	return store.New(
		&store.Table{
			Name:    "users",
			Columns: []string{"id", "name", "location"},
			Rows: []store.Row{
				{"id": "u1", "name": "Ann", "location": "Paris, France"},
				{"id": "u2", "name": "Bob", "location": "Lyon, France"},
			},
		},
		&store.Table{
			Name:    "events",
			Columns: []string{"id", "user_id", "event_type", "clicks"},
			Rows: []store.Row{
				{"id": "e1", "user_id": "u1", "event_type": "page_view", "clicks": float64(4)},
				{"id": "e2", "user_id": "u2", "event_type": "product_click", "clicks": float64(7)},
			},
		},
		&store.Table{
			Name:    "purchases",
			Columns: []string{"id", "user_id", "total_amount", "purchased_at"},
			Rows: []store.Row{
				{"id": "p1", "user_id": "u1", "total_amount": float64(120), "purchased_at": "2025-06-01T10:00:00Z"},
				{"id": "p2", "user_id": "u2", "total_amount": float64(300), "purchased_at": "2025-06-02T11:00:00Z"},
			},
		},
	)
}

func TestRegistryOrderAndInternal(t *testing.T) {
	st := toolStore()
	eng := engine.New(st)

	r := NewRegistry()
	r.Register(NewChart(eng))
	r.Register(NewSQLTutor(st))
	r.RegisterInternal(NewAnalysisPlan(eng))

	// Internal tools are dispatchable but not offered to the model.
	_, ok := r.Get("run_analysis_plan")
	assert.True(t, ok)

	schemas := r.AsLLMTools()
	require.Len(t, schemas, 2)
	assert.Equal(t, ChartName, schemas[0].Function.Name)
	assert.Equal(t, "sql_tutor", schemas[1].Function.Name)
}

func TestChartToolReturnsChartJSPayload(t *testing.T) {
	eng := engine.New(toolStore())
	chart := NewChart(eng)

	out, err := chart.Execute(context.Background(),
		json.RawMessage(`{"table":"purchases","kind":"bar","x":"user_id","y":"total_amount","op":"sum"}`))
	require.NoError(t, err)

	payload, ok := out.(map[string]any)
	require.True(t, ok)
	spec, ok := payload["chartjs"].(*engine.ChartSpec)
	require.True(t, ok)
	assert.Equal(t, []string{"u2", "u1"}, spec.Data.Labels)
}

func TestChartToolErrors(t *testing.T) {
	eng := engine.New(toolStore())
	chart := NewChart(eng)

	_, err := chart.Execute(context.Background(),
		json.RawMessage(`{"table":"purchases","kind":"bar","x":"user_id","y":"purchased_at","op":"sum"}`))
	assert.Error(t, err)
}

func TestSQLTutorRouting(t *testing.T) {
	tutor := NewSQLTutor(toolStore())

	run := func(question string) map[string]any {
		raw, _ := json.Marshal(map[string]string{"question": question})
		out, err := tutor.Execute(context.Background(), raw)
		require.NoError(t, err)
		return out.(map[string]any)
	}

	clicks := run("How do I count clicks per page?")
	examples := clicks["examples"].([]string)
	require.NotEmpty(t, examples)
	assert.Contains(t, examples[0], "FROM events")

	revenue := run("daily revenue please")
	examples = revenue["examples"].([]string)
	assert.Contains(t, examples[0], "FROM purchases")

	fallback := run("something else entirely")
	examples = fallback["examples"].([]string)
	require.Len(t, examples, 1)
	assert.Contains(t, examples[0], "FROM users")

	// Schema and tips ride along on every answer.
	assert.NotEmpty(t, clicks["tips"])
	schema := clicks["schema"].(map[string][]string)
	assert.Contains(t, schema, "events")
}

func TestStakeholderRoleFilter(t *testing.T) {
	s := NewStakeholder()

	out, err := s.Execute(context.Background(), json.RawMessage(`{"roles":["marketing"]}`))
	require.NoError(t, err)
	payload := out.(map[string]any)
	suggestions := payload["suggestions"].([]contact)
	require.Len(t, suggestions, 1)
	assert.Equal(t, "Jordan Lee", suggestions[0].Name)

	out, err = s.Execute(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	suggestions = out.(map[string]any)["suggestions"].([]contact)
	assert.Len(t, suggestions, 4)
}

func TestStakeholderNoteInPrompt(t *testing.T) {
	s := NewStakeholder()
	out, err := s.Execute(context.Background(), json.RawMessage(`{"note":"churn spike in June"}`))
	require.NoError(t, err)
	prompt := out.(map[string]any)["prompt"].(string)
	assert.Contains(t, prompt, "Context noted: churn spike in June")
}

func TestAnalysisPlanTool(t *testing.T) {
	eng := engine.New(toolStore())
	plan := NewAnalysisPlan(eng)

	out, err := plan.Execute(context.Background(), json.RawMessage(`{
		"source": "purchases",
		"group_by": ["user_id"],
		"metrics": [{"column": "total_amount", "op": "sum", "alias": "revenue"}],
		"order_by": [{"column": "revenue"}],
		"limit": 1,
		"include_code": true
	}`))
	require.NoError(t, err)

	result, ok := out.(planResult)
	require.True(t, ok)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "u2", result.Rows[0]["user_id"])
	assert.Equal(t, float64(300), result.Rows[0]["revenue"])
	assert.Contains(t, result.Code, "sum(total_amount) as revenue")
}
