package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/user/datachat/internal/engine"
	"github.com/user/datachat/internal/insight"
)

// BusinessInsight summarizes a result table, or answers a free-text
// question from the in-memory data.
type BusinessInsight struct {
	summarizer *insight.Summarizer
}

// NewBusinessInsight creates the insight tool.
func NewBusinessInsight(s *insight.Summarizer) *BusinessInsight {
	return &BusinessInsight{summarizer: s}
}

func (b *BusinessInsight) Name() string { return "business_insight" }

func (b *BusinessInsight) Description() string {
	return "Summarize an analysis result table into a direct answer and brief narrative. " +
		"Can also accept a 'question' to infer a quick summary from in-memory data."
}

func (b *BusinessInsight) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"result": {
				"type": "object",
				"properties": {
					"columns": {"type": "array", "items": {"type": "string"}},
					"rows": {"type": "array", "items": {"type": "object"}}
				},
				"required": ["columns", "rows"]
			},
			"question": {"type": "string"},
			"note": {"type": "string"}
		}
	}`)
}

type insightArgs struct {
	Result   *engine.ResultTable `json:"result,omitempty"`
	Question string              `json:"question,omitempty"`
	Note     string              `json:"note,omitempty"`
}

func (b *BusinessInsight) Execute(_ context.Context, args json.RawMessage) (any, error) {
	var a insightArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("parse args: %w", err)
	}
	out, err := b.summarizer.Summarize(a.Result, a.Question, a.Note)
	if err != nil {
		return nil, fmt.Errorf("insight error: %w", err)
	}
	return out, nil
}
