package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/user/datachat/internal/engine"
)

// ChartName is the name of the chart tool; the orchestrator treats it
// specially (intent guard, immediate finalization).
const ChartName = "chartjs_data"

// Chart builds Chart.js-ready specs by aggregating one table.
type Chart struct {
	engine *engine.Engine
}

// NewChart creates the chart tool.
func NewChart(eng *engine.Engine) *Chart { return &Chart{engine: eng} }

func (c *Chart) Name() string { return ChartName }

func (c *Chart) Description() string {
	return "Return Chart.js-ready spec by aggregating a table (bar or line)."
}

func (c *Chart) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"table": {"type": "string", "enum": ["users", "events", "purchases"]},
			"kind": {"type": "string", "enum": ["bar", "line"]},
			"x": {"type": "string", "description": "Dimension on X axis (category or date)"},
			"y": {"type": "string", "description": "Numeric value column to aggregate"},
			"op": {"type": "string", "enum": ["count", "sum", "mean", "max", "min"]},
			"filters": {"type": "array", "items": {"type": "object"}},
			"limit": {"type": "integer", "minimum": 1, "maximum": 200}
		},
		"required": ["table", "kind", "x", "y", "op"]
	}`)
}

type chartArgs struct {
	Table   string              `json:"table"`
	Kind    string              `json:"kind"`
	X       string              `json:"x"`
	Y       string              `json:"y"`
	Op      string              `json:"op"`
	Filters []engine.FilterSpec `json:"filters,omitempty"`
	Limit   int                 `json:"limit,omitempty"`
}

func (c *Chart) Execute(_ context.Context, args json.RawMessage) (any, error) {
	var a chartArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("parse args: %w", err)
	}
	spec, err := c.engine.BuildChart(a.Table, a.Kind, a.X, a.Y, a.Op, a.Filters, a.Limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"chartjs": spec}, nil
}
