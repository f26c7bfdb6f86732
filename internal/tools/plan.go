package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/user/datachat/internal/engine"
	"github.com/user/datachat/internal/store"
)

// AnalysisPlan runs an ad-hoc analysis plan against the table store. It is
// registered internal-only: callable directly but never offered to the
// model.
type AnalysisPlan struct {
	engine *engine.Engine
}

// NewAnalysisPlan creates the plan runner tool.
func NewAnalysisPlan(eng *engine.Engine) *AnalysisPlan {
	return &AnalysisPlan{engine: eng}
}

func (p *AnalysisPlan) Name() string { return "run_analysis_plan" }

func (p *AnalysisPlan) Description() string {
	return "Run a filter/join/aggregate/order/limit plan over one table and return the result rows."
}

func (p *AnalysisPlan) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"source": {"type": "string", "enum": ["users", "events", "purchases"]},
			"joins": {"type": "array", "items": {"type": "object"}},
			"filters": {"type": "array", "items": {"type": "object"}},
			"group_by": {"type": "array", "items": {"type": "string"}},
			"metrics": {"type": "array", "items": {"type": "object"}},
			"select": {"type": "array", "items": {"type": "string"}},
			"order_by": {"type": "array", "items": {"type": "object"}},
			"limit": {"type": "integer"},
			"include_code": {"type": "boolean"}
		},
		"required": ["source"]
	}`)
}

// planResult is the tool payload: the result table plus an optional
// pseudo-code reconstruction of the pipeline.
type planResult struct {
	Columns []string    `json:"columns"`
	Rows    []store.Row `json:"rows"`
	Code    string      `json:"code,omitempty"`
}

func (p *AnalysisPlan) Execute(_ context.Context, args json.RawMessage) (any, error) {
	var plan engine.Plan
	if err := json.Unmarshal(args, &plan); err != nil {
		return nil, fmt.Errorf("parse args: %w", err)
	}
	result, err := p.engine.Run(plan)
	if err != nil {
		return nil, err
	}
	out := planResult{Columns: result.Columns, Rows: result.Rows}
	if plan.IncludeCode {
		out.Code = engine.Pseudocode(plan)
	}
	return out, nil
}
